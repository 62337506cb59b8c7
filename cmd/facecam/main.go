package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dj-oyu/face-overlay/internal/camera"
	"github.com/dj-oyu/face-overlay/internal/camera/gstreamer"
	"github.com/dj-oyu/face-overlay/internal/camera/screen"
	"github.com/dj-oyu/face-overlay/internal/cascade"
	"github.com/dj-oyu/face-overlay/internal/config"
	"github.com/dj-oyu/face-overlay/internal/detection"
	"github.com/dj-oyu/face-overlay/internal/emitter"
	"github.com/dj-oyu/face-overlay/internal/encoder"
	"github.com/dj-oyu/face-overlay/internal/logger"
	"github.com/dj-oyu/face-overlay/internal/metrics"
	"github.com/dj-oyu/face-overlay/internal/overlay"
	"github.com/dj-oyu/face-overlay/internal/session"
	"github.com/dj-oyu/face-overlay/internal/shm"
	"github.com/dj-oyu/face-overlay/internal/webmonitor"
	"github.com/dj-oyu/face-overlay/internal/webrtc"
	"github.com/dj-oyu/face-overlay/pkg/types"
)

// publishers fans one overlay out to every consumer. The list is complete
// before the session opens and is not modified afterwards.
type publishers struct {
	list []session.Publisher
}

func (p *publishers) add(pub session.Publisher) { p.list = append(p.list, pub) }

func (p *publishers) PublishOverlay(ev overlay.Event) {
	for _, pub := range p.list {
		pub.PublishOverlay(ev)
	}
}

// App holds every long-lived component of the service
type App struct {
	cfg     config.Config
	metrics *metrics.Metrics

	canvas   *overlay.Canvas
	session  *session.Session
	monitor  *webmonitor.Server
	webrtc   *webrtc.Server
	emitter  *emitter.MQTT
	detector detection.Detector
	outputs  *publishers

	httpServer    *http.Server
	metricsServer *http.Server
}

func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.Log.Color)

	logger.Info("Main", "Face overlay starting...")
	logger.Info("Main", "Log level: %s", level)

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		log.Fatalf("Failed to start: %v", err)
	}

	<-ctx.Done()
	logger.Info("Main", "Shutting down...")
	app.Shutdown()
	logger.Info("Main", "Stopped")
}

// NewApp wires the capture session to the viewer, WebRTC and MQTT outputs
func NewApp(cfg config.Config) (*App, error) {
	m := metrics.New()

	enc, err := encoder.New(encoder.Options{
		Format:  encoder.Format(cfg.Encoder.Format),
		Quality: cfg.Encoder.Quality,
	})
	if err != nil {
		return nil, err
	}

	detector, backend, err := newDetector(cfg)
	if err != nil {
		return nil, err
	}

	canvas := overlay.NewCanvas(types.Size{Width: cfg.Session.DisplayWidth, Height: cfg.Session.DisplayHeight})
	renderer := overlay.NewRenderer(overlay.DefaultStyle(), logger.For("Overlay")).WithMetrics(m)

	rtc := webrtc.NewServer(webrtc.Options{
		STUNServers: cfg.WebRTC.STUNServers,
		MaxClients:  cfg.WebRTC.MaxClients,
		Metrics:     m,
		Log:         logger.For("WebRTC"),
	})

	app := &App{
		cfg:      cfg,
		metrics:  m,
		canvas:   canvas,
		webrtc:   rtc,
		detector: detector,
		outputs:  &publishers{},
	}
	if cfg.MQTT.Broker != "" {
		app.emitter = emitter.New(emitter.Options{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Metrics:  m,
			Log:      logger.For("MQTT"),
		})
	}

	sess, err := session.New(session.Options{
		CaptureWidth:    cfg.Session.CaptureWidth,
		TickInterval:    cfg.Session.TickInterval(),
		MetadataTimeout: cfg.Session.MetadataTimeout(),
		Camera:          newOpener(cfg.Camera),
		Encoder:         enc,
		Detector:        detector,
		Renderer:        renderer,
		Surface:         canvas,
		Publisher:       app.outputs,
		Metrics:         m,
		Log:             logger.For("Session"),
	})
	if err != nil {
		return nil, err
	}
	app.session = sess

	opts := webmonitor.Options{
		Config:  webmonitor.FromConfig(cfg.HTTP),
		Canvas:  canvas,
		Session: sess,
		WebRTC:  rtc,
		Metrics: m,
		Log:     logger.For("WebMonitor"),
	}
	if backend != nil {
		opts.Backend = backend
	}
	monitor, err := webmonitor.NewServer(opts)
	if err != nil {
		return nil, err
	}
	app.monitor = monitor

	app.outputs.add(monitor.Overlays())
	app.outputs.add(rtc)

	app.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           monitor.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.HTTP.MetricsAddr != "" {
		app.metricsServer = m.NewServer(cfg.HTTP.MetricsAddr)
	}
	return app, nil
}

// newDetector returns the detector and, for the HTTP service, the backend
// surface the viewer uses for status and enrollment.
func newDetector(cfg config.Config) (detection.Detector, *detection.Client, error) {
	switch cfg.Detector.Kind {
	case config.DetectorCascade:
		d, err := cascade.New(cascade.Options{
			Path:         cfg.Detector.CascadePath,
			MinNeighbors: cfg.Detector.MinNeighbors,
			Log:          logger.For("Cascade"),
		})
		if err != nil {
			return nil, nil, err
		}
		return d, nil, nil
	default:
		client := detection.NewClient(detection.Options{
			BaseURL:    cfg.Detector.APIURL,
			Timeout:    cfg.Detector.Timeout(),
			Attributes: cfg.Session.AttributeEnrichment,
		})
		return client, client, nil
	}
}

func newOpener(c config.CameraConfig) camera.Opener {
	switch c.Backend {
	case config.BackendGStreamer:
		return gstreamer.Camera{
			Device:   c.Device,
			URL:      c.URL,
			Pipeline: c.Pipeline,
			Width:    c.Width,
			Height:   c.Height,
			FPS:      c.FPS,
			Log:      logger.For("GStreamer"),
		}
	case config.BackendScreen:
		return screen.Camera{FPS: c.FPS, Log: logger.For("Screen")}
	case config.BackendMJPEG:
		return camera.MJPEG{URL: c.URL, Log: logger.For("MJPEG")}
	case config.BackendSHM:
		return shm.Camera{Name: c.ShmName, Log: logger.For("SHM")}
	default:
		return camera.TestPattern{Width: c.Width, Height: c.Height, FPS: c.FPS, Log: logger.For("TestPattern")}
	}
}

// Start brings up the listeners, connects MQTT and opens the session
func (a *App) Start(ctx context.Context) error {
	logger.Info("Main", "  HTTP server: %s", a.cfg.HTTP.Addr)
	logger.Info("Main", "  Camera: %s", a.cfg.Camera.Backend)
	logger.Info("Main", "  Detector: %s", a.cfg.Detector.Kind)
	logger.Info("Main", "  Capture width: %d every %v", a.cfg.Session.CaptureWidth, a.cfg.Session.TickInterval())

	a.monitor.Start()

	if a.metricsServer != nil {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", a.metricsServer.Addr)
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}

	go func() {
		logger.Info("Main", "Starting HTTP server on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	if a.emitter != nil {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.emitter.Connect(connectCtx)
		cancel()
		if err != nil {
			// overlays still reach viewers without a broker
			logger.Warn("Main", "MQTT disabled: %v", err)
			a.emitter = nil
		} else {
			a.outputs.add(a.emitter)
		}
	}

	if err := a.session.Open(ctx, a.monitor.Frames()); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	return nil
}

// Shutdown closes the session first so no overlay is published into a
// stopped output, then the outputs and listeners.
func (a *App) Shutdown() {
	a.session.Close()
	a.session.Wait()
	a.canvas.Detach()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a.monitor.Stop()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logger.Warn("Main", "HTTP shutdown: %v", err)
	}
	if a.metricsServer != nil {
		_ = a.metricsServer.Shutdown(ctx)
	}
	_ = a.webrtc.Close()
	if a.emitter != nil {
		a.emitter.Close()
	}
	if c, ok := a.detector.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}
