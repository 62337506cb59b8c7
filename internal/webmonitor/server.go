package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/face-overlay/internal/detection"
	"github.com/dj-oyu/face-overlay/internal/logger"
	"github.com/dj-oyu/face-overlay/internal/metrics"
	"github.com/dj-oyu/face-overlay/internal/overlay"
	"github.com/dj-oyu/face-overlay/internal/session"
	"github.com/dj-oyu/face-overlay/internal/webrtc"
)

// maxOfferBytes bounds the SDP offer body
const maxOfferBytes = 64 << 10

// Options wire a Server. Canvas is required; everything else may be nil.
type Options struct {
	Config  Config
	Canvas  *overlay.Canvas
	Session SessionView
	Backend Backend
	WebRTC  OfferHandler
	Metrics *metrics.Metrics
	Log     logger.Module
}

// Server serves the viewer page, its streams and the status API.
type Server struct {
	cfg     Config
	canvas  *overlay.Canvas
	session SessionView
	backend Backend
	webrtc  OfferHandler
	metrics *metrics.Metrics
	log     logger.Module

	monitor  *Monitor
	frames   *FrameBroadcaster
	overlays *OverlayBroadcaster
	status   *StatusBroadcaster
}

// NewServer returns a configured viewer server. Call Start to run the
// composite and status loops.
func NewServer(opts Options) (*Server, error) {
	if opts.Canvas == nil {
		return nil, errors.New("webmonitor: canvas is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	cfg := opts.Config.withDefaults()

	s := &Server{
		cfg:     cfg,
		canvas:  opts.Canvas,
		session: opts.Session,
		backend: opts.Backend,
		webrtc:  opts.WebRTC,
		metrics: opts.Metrics,
		log:     opts.Log,
		monitor: NewMonitor(cfg.HistorySize),
	}
	s.frames = NewFrameBroadcaster(opts.Canvas, cfg.DisplayFPS, cfg.JPEGQuality, opts.Metrics, logger.For("FrameBroadcaster"))
	s.overlays = NewOverlayBroadcaster(s.monitor, opts.Metrics, logger.For("OverlayBroadcaster"))
	s.status = NewStatusBroadcaster(func() Status {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.BackendTimeout)
		defer cancel()
		return s.Status(ctx)
	}, cfg.StatusInterval, logger.For("StatusBroadcaster"))
	return s, nil
}

// Frames is the session sink feeding /stream
func (s *Server) Frames() *FrameBroadcaster { return s.frames }

// Overlays is the session publisher feeding /ws and /api/overlay/stream
func (s *Server) Overlays() *OverlayBroadcaster { return s.overlays }

// Monitor exposes the overlay history
func (s *Server) Monitor() *Monitor { return s.monitor }

// Start runs the broadcaster loops
func (s *Server) Start() {
	s.frames.Start()
	s.status.Start()
}

// Stop halts the loops and disconnects every streaming client
func (s *Server) Stop() {
	s.frames.Stop()
	s.overlays.Stop()
	s.status.Stop()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/overlay", s.handleOverlay)
	mux.HandleFunc("GET /api/overlay/stream", s.handleOverlayStream)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/status/stream", s.handleStatusStream)
	mux.HandleFunc("GET /api/profiles", s.handleProfiles)
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("POST /api/faces", s.handleAddFace)
	mux.HandleFunc("POST /api/faces/reload", s.handleReloadFaces)
	mux.HandleFunc("POST /api/webrtc/offer", s.handleWebRTCOffer)

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := "none"
	if s.session != nil {
		state = s.session.Stats().State
	}
	writeJSON(w, map[string]any{
		"status":  "ok",
		"session": state,
	})
}

// handleStream serves the composite; ?raw=1 serves the bare camera frames for
// viewers that draw the overlay on their own canvas.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("raw") != "" {
		id, frameCh := s.frames.SubscribeRaw()
		defer s.frames.UnsubscribeRaw(id)
		streamMJPEGFromChannel(r.Context(), w, frameCh, logger.For("MJPEG"))
		return
	}
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	streamMJPEGFromChannel(r.Context(), w, frameCh, logger.For("MJPEG"))
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	latest, _, _ := s.monitor.Snapshot()
	if latest == nil {
		writeJSONWithStatus(w, map[string]any{"error": "no overlay yet"}, http.StatusNotFound)
		return
	}
	writeJSON(w, latest)
}

func (s *Server) handleOverlayStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.overlays.Subscribe()
	defer s.overlays.Unsubscribe(id)

	useProtobuf := wantsProtobuf(r)
	pick := func(ev *SerializedEvent) []byte {
		if useProtobuf {
			return ev.ProtobufData
		}
		return ev.JSONData
	}
	format := contentJSON
	if useProtobuf {
		format = contentProtobuf
	}

	// late joiners start from the current overlay
	var first []byte
	if latest, _, _ := s.monitor.Snapshot(); latest != nil {
		if se, err := serializeOverlay(*latest); err == nil {
			first = pick(se)
		}
	}
	streamEvents(r.Context(), w, eventCh, format, first, pick, logger.For("SSE"))
}

// Status assembles the status payload. Backend lookups use ctx.
func (s *Server) Status(ctx context.Context) Status {
	latest, history, _ := s.monitor.Snapshot()
	st := Status{
		Backend: s.backendStatus(ctx),
		Display: s.canvas.DisplaySize(),
		Viewers: ViewerStats{
			MJPEG:  s.metrics.MJPEGClients.Load(),
			Events: s.metrics.EventClients.Load(),
			WebRTC: s.metrics.WebRTCClients.Load(),
		},
		LatestOverlay:  latest,
		OverlayHistory: history,
		Timestamp:      float64(time.Now().UnixNano()) / 1e9,
	}
	if s.session != nil {
		stats := s.session.Stats()
		st.Session = &stats
	}
	return st
}

// backendStatus mirrors the status panel: a failed /health shows "?"
func (s *Server) backendStatus(ctx context.Context) BackendStatus {
	bs := BackendStatus{Status: "local", KnownFaces: "?", Names: []string{}}
	if s.backend == nil {
		return bs
	}

	status, err := s.backend.Ping(ctx)
	if err != nil {
		bs.Status = "unreachable"
		s.log.Debug("Backend ping failed: %v", err)
	} else {
		bs.Status = status
	}

	health, err := s.backend.Health(ctx)
	if err != nil {
		s.log.Debug("Backend health failed: %v", err)
		return bs
	}
	bs.KnownFaces = health.KnownFacesCount
	if health.Names != nil {
		bs.Names = health.Names
	}
	return bs
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.BackendTimeout)
	defer cancel()
	writeJSON(w, s.Status(ctx))
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.BackendTimeout)
	first, err := json.Marshal(s.Status(ctx))
	cancel()
	if err != nil {
		first = nil
	}
	streamEvents(r.Context(), w, eventCh, contentJSON, first, func(b []byte) []byte { return b }, logger.For("SSE"))
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if s.backend == nil {
		writeJSONWithStatus(w, map[string]any{"error": "detection service not configured"}, http.StatusServiceUnavailable)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.BackendTimeout)
	defer cancel()

	profiles, err := s.backend.Profiles(ctx)
	if err != nil {
		s.writeBackendError(w, "profiles", err)
		return
	}
	if profiles.Profiles == nil {
		profiles.Profiles = []detection.Profile{}
	}
	writeJSON(w, profiles)
}

// handleSnapshot returns the current capture frame; ?annotated=1 returns the
// detection service's own drawing of it.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		writeJSONWithStatus(w, map[string]any{"error": "no session"}, http.StatusServiceUnavailable)
		return
	}
	frame, err := s.session.Snapshot()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusServiceUnavailable)
		return
	}

	if r.URL.Query().Get("annotated") == "" {
		w.Header().Set("Content-Type", frame.ContentType)
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(frame.Data)
		return
	}

	if s.backend == nil {
		writeJSONWithStatus(w, map[string]any{"error": "detection service not configured"}, http.StatusServiceUnavailable)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*s.cfg.BackendTimeout)
	defer cancel()
	png, err := s.backend.Annotate(ctx, frame)
	if err != nil {
		s.writeBackendError(w, "annotate", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

// handleAddFace enrolls the current frame under the form field "name"
func (s *Server) handleAddFace(w http.ResponseWriter, r *http.Request) {
	if s.backend == nil || s.session == nil {
		writeJSONWithStatus(w, map[string]any{"error": "enrollment unavailable"}, http.StatusServiceUnavailable)
		return
	}
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		writeJSONWithStatus(w, map[string]any{"error": "name is required"}, http.StatusBadRequest)
		return
	}
	frame, err := s.session.Snapshot()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*s.cfg.BackendTimeout)
	defer cancel()
	if err := s.backend.AddFace(ctx, name, frame); err != nil {
		s.writeBackendError(w, "add-face", err)
		return
	}
	s.log.Info("Enrolled face %q", name)
	writeJSON(w, map[string]any{"status": "added", "name": name})
}

func (s *Server) handleReloadFaces(w http.ResponseWriter, r *http.Request) {
	if s.backend == nil {
		writeJSONWithStatus(w, map[string]any{"error": "detection service not configured"}, http.StatusServiceUnavailable)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*s.cfg.BackendTimeout)
	defer cancel()
	count, err := s.backend.ReloadKnownFaces(ctx)
	if err != nil {
		s.writeBackendError(w, "reload-known-faces", err)
		return
	}
	writeJSON(w, map[string]any{"status": "reloaded", "count": count})
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if s.webrtc == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC disabled"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxOfferBytes))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}
	if payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.webrtc.HandleOffer(body)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, webrtc.ErrMaxClients) {
			status = http.StatusServiceUnavailable
		}
		s.log.Warn("WebRTC offer rejected: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

// writeBackendError maps detection client errors onto gateway statuses
func (s *Server) writeBackendError(w http.ResponseWriter, op string, err error) {
	status := http.StatusBadGateway
	var te *detection.TransportError
	if errors.As(err, &te) && te.StatusCode == 0 && errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	s.log.Warn("Backend %s failed: %v", op, err)
	writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("%s: %v", op, err)}, status)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}

var _ session.Sink = (*FrameBroadcaster)(nil)
var _ session.Publisher = (*OverlayBroadcaster)(nil)
