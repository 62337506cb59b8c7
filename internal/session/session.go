// Package session owns one live capture: it acquires the camera, derives the
// fixed capture size, and drives the capture → detect → render pipeline on the
// scheduler until Close.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/face-overlay/internal/camera"
	"github.com/dj-oyu/face-overlay/internal/detection"
	"github.com/dj-oyu/face-overlay/internal/encoder"
	"github.com/dj-oyu/face-overlay/internal/logger"
	"github.com/dj-oyu/face-overlay/internal/metrics"
	"github.com/dj-oyu/face-overlay/internal/overlay"
	"github.com/dj-oyu/face-overlay/internal/scheduler"
	"github.com/dj-oyu/face-overlay/pkg/types"
)

var (
	ErrClosed = errors.New("session closed")
	ErrOpen   = errors.New("session already open")
)

// Sink is the display side that shows the raw stream
type Sink interface {
	Bind(stream camera.Stream)
	Unbind()
}

// Publisher receives every painted overlay
type Publisher interface {
	PublishOverlay(ev overlay.Event)
}

// Options wire a Session
type Options struct {
	CaptureWidth    int
	TickInterval    time.Duration
	MetadataTimeout time.Duration

	Camera    camera.Opener
	Encoder   *encoder.Encoder
	Detector  detection.Detector
	Renderer  *overlay.Renderer
	Surface   overlay.Surface
	Publisher Publisher // optional

	Metrics *metrics.Metrics
	Log     logger.Module
}

type state int

const (
	stateIdle state = iota
	stateOpening
	stateOpen
	stateClosed
)

// Stats describe a session for the status endpoints
type Stats struct {
	ID        string          `json:"id"`
	State     string          `json:"state"`
	Native    types.Size      `json:"native"`
	Capture   types.Size      `json:"capture"`
	Interval  string          `json:"interval"`
	OpenedAt  float64         `json:"opened_at,omitempty"`
	Overlays  uint64          `json:"overlays"`
	LastFaces int             `json:"last_faces"`
	Scheduler scheduler.Stats `json:"scheduler"`
	LastError string          `json:"last_error,omitempty"`
}

// Session is one capture session. It can be opened once.
type Session struct {
	id   string
	opts Options
	log  logger.Module

	mu       sync.Mutex
	state    state
	stream   camera.Stream
	sink     Sink
	sched    *scheduler.Scheduler
	native   types.Size
	capture  types.Size
	openedAt time.Time

	stopped   atomic.Bool
	seq       atomic.Uint64
	lastFaces atomic.Int64
	lastErr   atomic.Pointer[string]
}

// New validates opts and returns an idle session
func New(opts Options) (*Session, error) {
	if opts.CaptureWidth <= 0 {
		return nil, fmt.Errorf("capture width must be positive, got %d", opts.CaptureWidth)
	}
	if opts.TickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %v", opts.TickInterval)
	}
	if opts.Camera == nil || opts.Encoder == nil || opts.Detector == nil || opts.Renderer == nil {
		return nil, errors.New("camera, encoder, detector and renderer are required")
	}
	if opts.MetadataTimeout <= 0 {
		opts.MetadataTimeout = 10 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Session{
		id:   uuid.NewString(),
		opts: opts,
		log:  opts.Log,
	}, nil
}

// ID returns the session UUID
func (s *Session) ID() string { return s.id }

// Open acquires the camera, binds it to sink (which may be nil), waits for the
// native frame size and starts the capture loop.
func (s *Session) Open(ctx context.Context, sink Sink) error {
	s.mu.Lock()
	switch s.state {
	case stateClosed:
		s.mu.Unlock()
		return ErrClosed
	case stateOpening, stateOpen:
		s.mu.Unlock()
		return ErrOpen
	}
	s.state = stateOpening
	s.mu.Unlock()

	stream, err := s.opts.Camera.Open(ctx)
	if err != nil {
		var ae *camera.AcquisitionError
		if !errors.As(err, &ae) {
			err = &camera.AcquisitionError{Backend: "camera", Err: err}
		}
		s.mu.Lock()
		if s.state == stateOpening {
			s.state = stateIdle
		}
		s.mu.Unlock()
		s.log.Error("Camera acquisition failed: %v", err)
		return err
	}

	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		camera.StopAll(stream)
		return ErrClosed
	}
	s.stream = stream
	s.sink = sink
	s.mu.Unlock()

	if sink != nil {
		sink.Bind(stream)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.opts.MetadataTimeout)
	native, err := stream.WaitMetadata(waitCtx)
	cancel()
	if err != nil {
		s.Close()
		return fmt.Errorf("wait for stream metadata: %w", err)
	}

	capture, err := encoder.CaptureSize(native, s.opts.CaptureWidth)
	if err != nil {
		s.Close()
		return err
	}

	sched, err := scheduler.New(s.opts.TickInterval, s.tick, scheduler.Options{
		Log:     logger.For("Scheduler"),
		Metrics: s.opts.Metrics,
	})
	if err != nil {
		s.Close()
		return err
	}

	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.native = native
	s.capture = capture
	s.sched = sched
	s.state = stateOpen
	s.openedAt = time.Now()
	s.mu.Unlock()

	// the loop outlives the caller's ctx; Close ends it
	if err := sched.Start(context.Background()); err != nil {
		if errors.Is(err, scheduler.ErrStopped) {
			return ErrClosed
		}
		return err
	}

	s.log.Info("Session %s open: native %v, capture %v, every %v", s.id, native, capture, s.opts.TickInterval)
	return nil
}

// Close tears the session down: mark stopped, stop the scheduler, stop every
// track, then drop the stream. Safe to call repeatedly and at any point.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return
	}
	s.state = stateClosed
	s.stopped.Store(true)
	sched := s.sched
	stream := s.stream
	s.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
	camera.StopAll(stream)

	s.mu.Lock()
	s.stream = nil
	sink := s.sink
	s.sink = nil
	s.mu.Unlock()
	if sink != nil {
		sink.Unbind()
	}

	s.log.Info("Session %s closed (overlays=%d)", s.id, s.seq.Load())
}

// Wait blocks until the capture loop and any in-flight tick have finished
func (s *Session) Wait() {
	s.mu.Lock()
	sched := s.sched
	s.mu.Unlock()
	if sched != nil {
		sched.Wait()
	}
}

// Closed reports whether Close has been called
func (s *Session) Closed() bool { return s.stopped.Load() }

// CaptureSize returns the fixed capture size, zero before Open completes
func (s *Session) CaptureSize() types.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture
}

// Stream returns the bound camera stream, nil when closed
func (s *Session) Stream() camera.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Snapshot encodes the current frame at capture size, outside the tick loop.
// Used by enrollment and snapshot endpoints.
func (s *Session) Snapshot() (*types.Payload, error) {
	s.mu.Lock()
	stream, capture := s.stream, s.capture
	s.mu.Unlock()
	if stream == nil || capture.Empty() {
		return nil, ErrClosed
	}
	return s.opts.Encoder.Capture(stream, capture)
}

// Stats returns a snapshot for the status endpoints
func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		ID:       s.id,
		State:    s.state.String(),
		Native:   s.native,
		Capture:  s.capture,
		Interval: s.opts.TickInterval.String(),
	}
	if !s.openedAt.IsZero() {
		st.OpenedAt = float64(s.openedAt.UnixNano()) / 1e9
	}
	sched := s.sched
	s.mu.Unlock()

	if sched != nil {
		st.Scheduler = sched.Stats()
	}
	st.Overlays = s.seq.Load()
	st.LastFaces = int(s.lastFaces.Load())
	if e := s.lastErr.Load(); e != nil {
		st.LastError = *e
	}
	return st
}

func (st state) String() string {
	switch st {
	case stateIdle:
		return "idle"
	case stateOpening:
		return "opening"
	case stateOpen:
		return "open"
	default:
		return "closed"
	}
}
