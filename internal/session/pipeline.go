package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dj-oyu/face-overlay/internal/detection"
	"github.com/dj-oyu/face-overlay/internal/overlay"
)

// tick runs one capture → detect → render pass. Any failure leaves the
// previous overlay on screen.
func (s *Session) tick(ctx context.Context) error {
	s.mu.Lock()
	stream, capture := s.stream, s.capture
	s.mu.Unlock()
	if stream == nil || s.stopped.Load() {
		return ErrClosed
	}
	m := s.opts.Metrics

	start := time.Now()
	payload, err := s.opts.Encoder.Capture(stream, capture)
	if err != nil {
		m.EncodeErrors.Add(1)
		return s.fail(fmt.Errorf("capture frame: %w", err))
	}
	m.ObserveEncode(time.Since(start))

	start = time.Now()
	m.DetectRequests.Add(1)
	resp, err := s.opts.Detector.Detect(ctx, payload)
	m.ObserveDetect(time.Since(start))
	if err != nil {
		var te *detection.TransportError
		var de *detection.DecodeError
		switch {
		case errors.As(err, &te):
			m.TransportErrors.Add(1)
		case errors.As(err, &de):
			m.DecodeErrors.Add(1)
		}
		return s.fail(err)
	}

	// the session may have closed while the request was in flight
	if ctx.Err() != nil || s.stopped.Load() {
		m.RendersSkipped.Add(1)
		return nil
	}

	frame, ok := s.opts.Renderer.RenderFrame(s.opts.Surface, resp, capture)
	if !ok {
		return nil
	}
	s.lastFaces.Store(int64(len(frame.Annotations)))
	s.lastErr.Store(nil)

	ev := overlay.Event{
		SessionID:   s.id,
		Seq:         s.seq.Add(1),
		Timestamp:   float64(time.Now().UnixNano()) / 1e9,
		Capture:     capture,
		Display:     frame.Display,
		Annotations: frame.Annotations,
	}
	if s.opts.Publisher != nil {
		s.opts.Publisher.PublishOverlay(ev)
	}
	return nil
}

func (s *Session) fail(err error) error {
	msg := err.Error()
	s.lastErr.Store(&msg)
	s.log.Debug("Tick skipped: %v", err)
	return err
}
