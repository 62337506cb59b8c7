// Package camera defines the live video stream the capture loop reads from and
// the pure-Go backends (test pattern, MJPEG network camera). Backends that need
// cgo live in subpackages so the core packages build without system libraries.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/dj-oyu/face-overlay/pkg/types"
)

var (
	// ErrNoFrame is returned by Frame before the first frame has arrived
	ErrNoFrame = errors.New("camera: no frame yet")
	// ErrStopped is returned once every track of the stream has been stopped
	ErrStopped = errors.New("camera: stream stopped")
)

// AcquisitionError means the camera could not be opened: permission denied,
// no device, unreachable URL, broken pipeline.
type AcquisitionError struct {
	Backend string
	Err     error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("camera %s: acquisition failed: %v", e.Backend, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Track is one media track of a stream
type Track interface {
	ID() string
	Kind() string
	Stop()
	Stopped() bool
}

// Stream is an opened camera. Frame returns the most recent frame, which the
// caller must not modify.
type Stream interface {
	ID() string
	Frame() (image.Image, error)
	Tracks() []Track
	// WaitMetadata blocks until the native frame size is known
	WaitMetadata(ctx context.Context) (types.Size, error)
}

// Opener acquires a stream
type Opener interface {
	Open(ctx context.Context) (Stream, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context) (Stream, error)

func (f OpenerFunc) Open(ctx context.Context) (Stream, error) { return f(ctx) }

// StopAll stops every track of s
func StopAll(s Stream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
