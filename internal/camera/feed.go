package camera

import (
	"context"
	"image"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dj-oyu/face-overlay/pkg/types"
)

// Feed is the Stream implementation shared by every backend. The backend's
// producer goroutine calls Publish for each decoded frame and watches Done to
// know when to exit.
type Feed struct {
	id    string
	track *videoTrack

	mu     sync.RWMutex
	frame  image.Image
	native types.Size
	err    error
	seq    uint64

	ready     chan struct{}
	readyOnce sync.Once
}

// NewFeed creates a stream with a single video track. onStop runs once when
// the track is stopped and should release the backend's device.
func NewFeed(label string, onStop func()) *Feed {
	f := &Feed{
		id:    uuid.NewString(),
		ready: make(chan struct{}),
	}
	f.track = &videoTrack{
		id:     uuid.NewString(),
		label:  label,
		onStop: onStop,
		done:   make(chan struct{}),
	}
	return f
}

// ID returns the stream ID
func (f *Feed) ID() string { return f.id }

// Tracks returns the single video track
func (f *Feed) Tracks() []Track { return []Track{f.track} }

// Done is closed when the track is stopped
func (f *Feed) Done() <-chan struct{} { return f.track.done }

// Publish replaces the latest frame. The first frame fixes the native size.
func (f *Feed) Publish(img image.Image) {
	if img == nil || f.track.Stopped() {
		return
	}
	b := img.Bounds()

	f.mu.Lock()
	f.frame = img
	f.seq++
	if f.native.Empty() {
		f.native = types.Size{Width: b.Dx(), Height: b.Dy()}
	}
	f.mu.Unlock()

	f.readyOnce.Do(func() { close(f.ready) })
}

// Fail records a terminal producer error. Pending WaitMetadata calls return it.
func (f *Feed) Fail(err error) {
	if err == nil {
		return
	}
	f.mu.Lock()
	if f.err == nil {
		f.err = err
	}
	f.mu.Unlock()
	f.readyOnce.Do(func() { close(f.ready) })
}

// Frame returns the latest frame
func (f *Feed) Frame() (image.Image, error) {
	if f.track.Stopped() {
		return nil, ErrStopped
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.frame == nil {
		if f.err != nil {
			return nil, f.err
		}
		return nil, ErrNoFrame
	}
	return f.frame, nil
}

// Sequence returns the number of frames published so far
func (f *Feed) Sequence() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.seq
}

// WaitMetadata blocks until the first frame arrives
func (f *Feed) WaitMetadata(ctx context.Context) (types.Size, error) {
	select {
	case <-f.ready:
	case <-f.track.done:
		return types.Size{}, ErrStopped
	case <-ctx.Done():
		return types.Size{}, ctx.Err()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.native.Empty() {
		return types.Size{}, f.err
	}
	return f.native, nil
}

type videoTrack struct {
	id      string
	label   string
	onStop  func()
	stopped atomic.Bool
	done    chan struct{}
}

func (t *videoTrack) ID() string    { return t.id }
func (t *videoTrack) Kind() string  { return "video" }
func (t *videoTrack) Label() string { return t.label }
func (t *videoTrack) Stopped() bool { return t.stopped.Load() }

func (t *videoTrack) Stop() {
	if t.stopped.Swap(true) {
		return
	}
	close(t.done)
	if t.onStop != nil {
		t.onStop()
	}
}
