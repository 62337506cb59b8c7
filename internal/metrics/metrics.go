package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Capture loop
	TicksFired     atomic.Uint64
	TicksSkipped   atomic.Uint64 // dropped by the in-flight gate
	TicksFailed    atomic.Uint64
	TicksCompleted atomic.Uint64

	// Pipeline stages
	EncodeErrors    atomic.Uint64
	DetectRequests  atomic.Uint64
	TransportErrors atomic.Uint64
	DecodeErrors    atomic.Uint64
	ShapeMismatches atomic.Uint64
	Renders         atomic.Uint64
	RendersSkipped  atomic.Uint64 // no surface, or cancelled before paint
	FacesLast       atomic.Uint64

	// Latency tracking
	EncodeLatencyMs atomic.Uint64
	DetectLatencyMs atomic.Uint64

	// Viewers
	MJPEGClients  atomic.Int64
	EventClients  atomic.Int64 // SSE + websocket
	WebRTCClients atomic.Int64
	TotalViewers  atomic.Uint64

	// Event emitter
	MQTTPublished atomic.Uint64
	MQTTErrors    atomic.Uint64

	registry      *prometheus.Registry
	detectLatency prometheus.Histogram
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		detectLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "facecam_detect_duration_seconds",
			Help:    "Detection round-trip time",
			Buckets: []float64{.025, .05, .1, .2, .4, .8, 1.6, 3.2},
		}),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	m.counter("facecam_ticks_fired_total", "Capture ticks that started a pipeline", &m.TicksFired)
	m.counter("facecam_ticks_skipped_total", "Capture ticks dropped because a request was in flight", &m.TicksSkipped)
	m.counter("facecam_ticks_failed_total", "Capture pipelines that ended in an error", &m.TicksFailed)
	m.counter("facecam_ticks_completed_total", "Capture pipelines that finished without error", &m.TicksCompleted)

	m.counter("facecam_encode_errors_total", "Frame capture or encode failures", &m.EncodeErrors)
	m.counter("facecam_detect_requests_total", "Detection requests sent", &m.DetectRequests)
	m.counter("facecam_transport_errors_total", "Detection requests that failed or returned non-2xx", &m.TransportErrors)
	m.counter("facecam_decode_errors_total", "Detection responses that were not valid JSON", &m.DecodeErrors)
	m.counter("facecam_shape_mismatches_total", "Detection entries skipped as malformed", &m.ShapeMismatches)
	m.counter("facecam_renders_total", "Overlay repaints", &m.Renders)
	m.counter("facecam_renders_skipped_total", "Results discarded without painting", &m.RendersSkipped)
	m.counter("facecam_mqtt_published_total", "Overlay events published to MQTT", &m.MQTTPublished)
	m.counter("facecam_mqtt_errors_total", "Overlay events that failed to publish", &m.MQTTErrors)
	m.counter("facecam_viewers_total", "Viewer connections accepted", &m.TotalViewers)

	m.gauge("facecam_faces", "Faces in the latest overlay", func() float64 { return float64(m.FacesLast.Load()) })
	m.gauge("facecam_encode_latency_ms", "Last frame encode time in milliseconds", func() float64 { return float64(m.EncodeLatencyMs.Load()) })
	m.gauge("facecam_detect_latency_ms", "Last detection round-trip in milliseconds", func() float64 { return float64(m.DetectLatencyMs.Load()) })
	m.gauge("facecam_mjpeg_clients", "Connected MJPEG viewers", func() float64 { return float64(m.MJPEGClients.Load()) })
	m.gauge("facecam_event_clients", "Connected SSE and WebSocket viewers", func() float64 { return float64(m.EventClients.Load()) })
	m.gauge("facecam_webrtc_clients", "Connected WebRTC viewers", func() float64 { return float64(m.WebRTCClients.Load()) })

	m.registry.MustRegister(m.detectLatency)
}

// ObserveEncode records the duration of a frame capture
func (m *Metrics) ObserveEncode(d time.Duration) {
	if m == nil {
		return
	}
	m.EncodeLatencyMs.Store(uint64(d.Milliseconds()))
}

// ObserveDetect records the duration of a detection round-trip
func (m *Metrics) ObserveDetect(d time.Duration) {
	if m == nil {
		return
	}
	m.DetectLatencyMs.Store(uint64(d.Milliseconds()))
	m.detectLatency.Observe(d.Seconds())
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer returns an http.Server exposing /metrics on addr
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
