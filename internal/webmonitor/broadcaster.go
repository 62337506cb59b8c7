package webmonitor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/face-overlay/internal/camera"
	"github.com/dj-oyu/face-overlay/internal/logger"
	"github.com/dj-oyu/face-overlay/internal/metrics"
	"github.com/dj-oyu/face-overlay/internal/overlay"
)

// fanout hands every broadcast value to all subscribers. Slow subscribers
// miss values instead of blocking the producer.
type fanout[T any] struct {
	log     logger.Module
	gauge   *atomic.Int64  // connected clients, may be nil
	total   *atomic.Uint64 // accepted clients, may be nil
	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
	closed  bool
}

func newFanout[T any](log logger.Module, gauge *atomic.Int64, total *atomic.Uint64) *fanout[T] {
	return &fanout[T]{
		log:     log,
		gauge:   gauge,
		total:   total,
		clients: make(map[int]chan T),
	}
}

// Subscribe adds a new client and returns a channel for receiving values.
// After Stop the channel is returned closed.
func (f *fanout[T]) Subscribe() (int, <-chan T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan T, 2)
	if f.closed {
		close(ch)
		return id, ch
	}
	f.clients[id] = ch
	if f.gauge != nil {
		f.gauge.Add(1)
	}
	if f.total != nil {
		f.total.Add(1)
	}

	f.log.Debug("Client #%d subscribed (total clients: %d)", id, len(f.clients))
	return id, ch
}

// Unsubscribe removes a client
func (f *fanout[T]) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.clients[id]; ok {
		close(ch)
		delete(f.clients, id)
		if f.gauge != nil {
			f.gauge.Add(-1)
		}
		f.log.Debug("Client #%d unsubscribed (remaining clients: %d)", id, len(f.clients))
	}
}

// ClientCount returns the number of subscribers
func (f *fanout[T]) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fanout[T]) broadcast(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.clients {
		select {
		case ch <- v:
		default:
			// client too slow, it misses this one
		}
	}
}

// closeAll disconnects every subscriber and refuses new ones
func (f *fanout[T]) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.clients {
		close(ch)
		delete(f.clients, id)
		if f.gauge != nil {
			f.gauge.Add(-1)
		}
	}
}

// stopper is the Start/Stop plumbing shared by the periodic broadcasters
type stopper struct {
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// halt closes stop once and waits for the loop when it was started
func (s *stopper) halt(started bool) {
	s.once.Do(func() { close(s.stop) })
	if started {
		<-s.done
	}
}

// FrameBroadcaster turns the bound camera stream into JPEGs for MJPEG
// viewers. Composite subscribers get the frame scaled to the canvas display
// size with the overlay drawn over it; raw subscribers get the bare frame and
// paint the overlay themselves. It is the session's display sink.
type FrameBroadcaster struct {
	// composite viewers
	*fanout[[]byte]
	raw *fanout[[]byte]

	canvas   *overlay.Canvas
	interval time.Duration
	quality  int
	log      logger.Module

	mu      sync.Mutex
	stream  camera.Stream
	last    frameKey // last composite
	lastRaw uint64   // last raw frame sequence
	started bool
	stopper

	skipCount int
}

// frameKey identifies a composite by camera frame and overlay paint
type frameKey struct {
	seq   uint64
	paint uint64
}

// NewFrameBroadcaster creates a broadcaster producing up to fps JPEGs per second
func NewFrameBroadcaster(canvas *overlay.Canvas, fps, quality int, m *metrics.Metrics, log logger.Module) *FrameBroadcaster {
	if fps <= 0 {
		fps = DefaultConfig().DisplayFPS
	}
	if m == nil {
		m = metrics.New()
	}
	return &FrameBroadcaster{
		fanout:   newFanout[[]byte](log, &m.MJPEGClients, &m.TotalViewers),
		raw:      newFanout[[]byte](log, &m.MJPEGClients, &m.TotalViewers),
		canvas:   canvas,
		interval: time.Second / time.Duration(fps),
		quality:  quality,
		log:      log,
		stopper:  stopper{stop: make(chan struct{}), done: make(chan struct{})},
	}
}

// SubscribeRaw adds a viewer of the bare camera frames
func (fb *FrameBroadcaster) SubscribeRaw() (int, <-chan []byte) { return fb.raw.Subscribe() }

// UnsubscribeRaw removes a raw viewer
func (fb *FrameBroadcaster) UnsubscribeRaw(id int) { fb.raw.Unsubscribe(id) }

// Bind implements session.Sink
func (fb *FrameBroadcaster) Bind(stream camera.Stream) {
	fb.mu.Lock()
	fb.stream = stream
	fb.last, fb.lastRaw = frameKey{}, 0
	fb.mu.Unlock()
	fb.log.Info("Stream %s bound", stream.ID())
}

// Unbind implements session.Sink
func (fb *FrameBroadcaster) Unbind() {
	fb.mu.Lock()
	fb.stream = nil
	fb.mu.Unlock()
	fb.log.Info("Stream unbound")
}

// Start begins the frame loop
func (fb *FrameBroadcaster) Start() {
	fb.mu.Lock()
	if fb.started {
		fb.mu.Unlock()
		return
	}
	fb.started = true
	fb.mu.Unlock()
	go fb.run()
}

// Stop halts the loop and disconnects viewers
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	started := fb.started
	fb.mu.Unlock()
	fb.halt(started)
	fb.closeAll()
	fb.raw.closeAll()
}

func (fb *FrameBroadcaster) run() {
	defer close(fb.done)
	ticker := time.NewTicker(fb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-fb.stop:
			return
		case <-ticker.C:
		}

		composites, raws := fb.ClientCount(), fb.raw.ClientCount()
		if composites == 0 && raws == 0 {
			fb.skipCount++
			if fb.skipCount%100 == 0 {
				fb.log.Debug("No clients connected, skipping frames (idle for %d ticks)", fb.skipCount)
			}
			continue
		}
		fb.skipCount = 0
		fb.produce(composites > 0, raws > 0)
	}
}

// produce encodes and broadcasts whatever changed since the last tick
func (fb *FrameBroadcaster) produce(composite, raw bool) {
	fb.mu.Lock()
	stream := fb.stream
	last, lastRaw := fb.last, fb.lastRaw
	fb.mu.Unlock()
	if stream == nil {
		return
	}

	// seq stays 0 for streams that do not number frames; those always re-encode
	var seq uint64
	if s, ok := stream.(interface{ Sequence() uint64 }); ok {
		seq = s.Sequence()
	}
	composite = composite && (seq == 0 || (frameKey{seq, fb.canvas.Version()}) != last)
	raw = raw && (seq == 0 || seq != lastRaw)
	if !composite && !raw {
		return
	}

	frame, err := stream.Frame()
	if err != nil {
		return
	}

	if raw {
		if data := fb.encode(frame); data != nil {
			fb.raw.broadcast(data)
			fb.mu.Lock()
			fb.lastRaw = seq
			fb.mu.Unlock()
		}
	}
	if composite {
		ov, paint := fb.canvas.Snapshot()
		if data := fb.encode(Compose(frame, ov, fb.canvas.DisplaySize())); data != nil {
			fb.broadcast(data)
			fb.mu.Lock()
			fb.last = frameKey{seq, paint}
			fb.mu.Unlock()
		}
	}
}

func (fb *FrameBroadcaster) encode(img image.Image) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: fb.quality}); err != nil {
		fb.log.Warn("JPEG encode failed: %v", err)
		return nil
	}
	return buf.Bytes()
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

func serializeOverlay(ev overlay.Event) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(ev.MarshalProto())),
	}, nil
}

// OverlayBroadcaster fans painted overlays out to SSE and WebSocket viewers
// and records them in the Monitor. It is a session.Publisher.
type OverlayBroadcaster struct {
	*fanout[*SerializedEvent]
	monitor *Monitor
	log     logger.Module
}

// NewOverlayBroadcaster creates a broadcaster feeding monitor
func NewOverlayBroadcaster(monitor *Monitor, m *metrics.Metrics, log logger.Module) *OverlayBroadcaster {
	if m == nil {
		m = metrics.New()
	}
	return &OverlayBroadcaster{
		fanout:  newFanout[*SerializedEvent](log, &m.EventClients, &m.TotalViewers),
		monitor: monitor,
		log:     log,
	}
}

// PublishOverlay implements session.Publisher
func (ob *OverlayBroadcaster) PublishOverlay(ev overlay.Event) {
	ob.monitor.Update(ev)
	if ob.ClientCount() == 0 {
		return
	}
	se, err := serializeOverlay(ev)
	if err != nil {
		ob.log.Error("Overlay marshal error: %v", err)
		return
	}
	ob.broadcast(se)
}

// Stop disconnects every viewer
func (ob *OverlayBroadcaster) Stop() { ob.closeAll() }

// StatusBroadcaster periodically sends the status payload to SSE clients.
type StatusBroadcaster struct {
	*fanout[[]byte]
	build    func() Status
	interval time.Duration
	log      logger.Module

	mu      sync.Mutex
	started bool
	stopper
}

// NewStatusBroadcaster creates a broadcaster calling build every interval
// while someone listens.
func NewStatusBroadcaster(build func() Status, interval time.Duration, log logger.Module) *StatusBroadcaster {
	if interval <= 0 {
		interval = DefaultConfig().StatusInterval
	}
	return &StatusBroadcaster{
		fanout:   newFanout[[]byte](log, nil, nil),
		build:    build,
		interval: interval,
		log:      log,
		stopper:  stopper{stop: make(chan struct{}), done: make(chan struct{})},
	}
}

// Start begins the status loop
func (sb *StatusBroadcaster) Start() {
	sb.mu.Lock()
	if sb.started {
		sb.mu.Unlock()
		return
	}
	sb.started = true
	sb.mu.Unlock()
	go sb.run()
}

// Stop halts the loop and disconnects listeners
func (sb *StatusBroadcaster) Stop() {
	sb.mu.Lock()
	started := sb.started
	sb.mu.Unlock()
	sb.halt(started)
	sb.closeAll()
}

func (sb *StatusBroadcaster) run() {
	defer close(sb.done)
	sb.log.Info("Starting status event broadcaster (interval=%v)...", sb.interval)
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.stop:
			return
		case <-ticker.C:
			if sb.ClientCount() == 0 {
				continue
			}
			data, err := json.Marshal(sb.build())
			if err != nil {
				sb.log.Error("Status marshal error: %v", err)
				continue
			}
			sb.broadcast(data)
		}
	}
}
