package overlay

import (
	"image"
	"sync"

	"github.com/dj-oyu/face-overlay/pkg/types"
)

// Buffer is the paintable state of a surface for the duration of one Paint call
type Buffer struct {
	Display types.Size  // size the surface is currently shown at
	Image   *image.RGBA // transparent backing store
}

// Size returns the backing store dimensions
func (b *Buffer) Size() types.Size {
	if b.Image == nil {
		return types.Size{}
	}
	r := b.Image.Bounds()
	return types.Size{Width: r.Dx(), Height: r.Dy()}
}

// Resize replaces the backing store with a transparent one of size s
func (b *Buffer) Resize(s types.Size) {
	if s.Width < 0 {
		s.Width = 0
	}
	if s.Height < 0 {
		s.Height = 0
	}
	b.Image = image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
}

// Surface is a display-side drawing target. Paint runs fn with exclusive
// access and reports false, without calling fn, once the surface is gone.
type Surface interface {
	Paint(fn func(*Buffer)) bool
}

// Canvas is the in-process overlay surface shared by the renderer and the
// viewer compositors.
type Canvas struct {
	mu       sync.Mutex
	display  types.Size
	img      *image.RGBA
	version  uint64
	detached bool
}

// NewCanvas returns a canvas shown at display until a viewer reports otherwise
func NewCanvas(display types.Size) *Canvas {
	return &Canvas{
		display: display,
		img:     image.NewRGBA(image.Rect(0, 0, 0, 0)),
	}
}

// Paint implements Surface
func (c *Canvas) Paint(fn func(*Buffer)) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return false
	}

	buf := &Buffer{Display: c.display, Image: c.img}
	fn(buf)
	c.img = buf.Image
	c.version++
	return true
}

// SetDisplaySize records the size the overlay is shown at. Reports from
// several viewers overwrite each other; the last one wins.
func (c *Canvas) SetDisplaySize(s types.Size) {
	if s.Empty() {
		return
	}
	c.mu.Lock()
	c.display = s
	c.mu.Unlock()
}

// DisplaySize returns the last reported display size
func (c *Canvas) DisplaySize() types.Size {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.display
}

// Detach tears the surface down; later paints are no-ops
func (c *Canvas) Detach() {
	c.mu.Lock()
	c.detached = true
	c.mu.Unlock()
}

// Detached reports whether Detach has been called
func (c *Canvas) Detached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detached
}

// Version increments on every successful paint
func (c *Canvas) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Snapshot returns a copy of the backing store and the paint version it reflects
func (c *Canvas) Snapshot() (*image.RGBA, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := &image.RGBA{
		Pix:    append([]byte(nil), c.img.Pix...),
		Stride: c.img.Stride,
		Rect:   c.img.Rect,
	}
	return cp, c.version
}
