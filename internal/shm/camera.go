package shm

import (
	"context"
	"errors"
	"time"

	"github.com/dj-oyu/face-overlay/internal/camera"
	"github.com/dj-oyu/face-overlay/internal/logger"
)

// Camera is a camera.Opener reading the capture daemon's frame ring
type Camera struct {
	Name        string
	OpenTimeout time.Duration // how long to wait for the segment to appear
	Log         logger.Module
}

// Open maps the segment and starts a reader goroutine driven by the
// producer's semaphore.
func (c Camera) Open(ctx context.Context) (camera.Stream, error) {
	timeout := c.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	openCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r, err := Open(openCtx, c.Name, c.Log)
	if err != nil {
		return nil, &camera.AcquisitionError{Backend: "shm", Err: err}
	}

	done := make(chan struct{})
	feed := camera.NewFeed(c.Name, func() { <-done })
	go func() {
		defer close(done)
		defer r.Close()
		c.run(r, feed)
	}()
	return feed, nil
}

func (c Camera) run(r *Reader, feed *camera.Feed) {
	errorCount := 0
	for {
		select {
		case <-feed.Done():
			return
		default:
		}

		if err := r.WaitNewFrame(200 * time.Millisecond); err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			errorCount++
			if errorCount == 1 || errorCount%100 == 0 {
				c.Log.Warn("Semaphore wait error (%d): %v", errorCount, err)
			}
			// semaphore unusable, fall back to polling
			time.Sleep(33 * time.Millisecond)
		} else if errorCount > 0 {
			c.Log.Info("Semaphore recovered after %d errors", errorCount)
			errorCount = 0
		}

		raw, ok, err := r.ReadLatest()
		if err != nil {
			c.Log.Debug("Read failed: %v", err)
			continue
		}
		if !ok {
			continue
		}
		img, err := Decode(raw)
		if err != nil {
			c.Log.Debug("Frame %d skipped: %v", raw.Number, err)
			continue
		}
		feed.Publish(img)
	}
}
