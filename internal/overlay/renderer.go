package overlay

import (
	"errors"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/face-overlay/internal/logger"
	"github.com/dj-oyu/face-overlay/internal/metrics"
	"github.com/dj-oyu/face-overlay/pkg/types"
)

// Style holds the drawing constants
type Style struct {
	LineWidth   int
	BoxColor    color.RGBA
	TextColor   color.RGBA
	LabelPad    int // horizontal padding either side of the label text
	LabelHeight int // label band height, bottom-aligned with the box
	TextInset   int // text top below the band top
	Face        font.Face
}

// DefaultStyle is a 3 px lime box with black text on a lime band
func DefaultStyle() Style {
	return Style{
		LineWidth:   3,
		BoxColor:    color.RGBA{R: 0, G: 255, B: 0, A: 255},
		TextColor:   color.RGBA{A: 255},
		LabelPad:    4,
		LabelHeight: 18,
		TextInset:   2,
		Face:        basicfont.Face7x13,
	}
}

// Annotation is one rendered detection in display space
type Annotation struct {
	Box       types.CaptureBox  `json:"box"`
	Rect      types.DisplayRect `json:"rect"`
	Label     string            `json:"label"`
	LabelRect types.DisplayRect `json:"label_rect"`
}

// Renderer paints detection results onto a Surface
type Renderer struct {
	style   Style
	log     logger.Module
	metrics *metrics.Metrics
}

// NewRenderer creates a Renderer. A zero Style selects DefaultStyle.
func NewRenderer(style Style, log logger.Module) *Renderer {
	if style.Face == nil {
		style = DefaultStyle()
	}
	return &Renderer{style: style, log: log}
}

// WithMetrics counts skipped records and renders into m
func (r *Renderer) WithMetrics(m *metrics.Metrics) *Renderer {
	r.metrics = m
	return r
}

// Frame is one finished paint: the annotations and the display size their
// rectangles are in.
type Frame struct {
	Display     types.Size
	Annotations []Annotation
}

// Render replaces the surface contents with the annotations for resp.
// capture is the size of the frame the detector saw. It reports false
// without drawing when the surface is nil or detached.
func (r *Renderer) Render(s Surface, resp *types.Response, capture types.Size) ([]Annotation, bool) {
	f, ok := r.RenderFrame(s, resp, capture)
	return f.Annotations, ok
}

// RenderFrame is Render that also returns the display size read inside the
// paint. Later display reports do not change it.
func (r *Renderer) RenderFrame(s Surface, resp *types.Response, capture types.Size) (Frame, bool) {
	if s == nil {
		return Frame{}, false
	}

	records, err := Normalize(resp)
	if err != nil {
		r.log.Debug("Skipped malformed detections: %v", err)
		if r.metrics != nil {
			r.metrics.ShapeMismatches.Add(uint64(countErrors(err)))
		}
	}

	var out Frame
	ok := s.Paint(func(b *Buffer) {
		if b.Size() != b.Display {
			b.Resize(b.Display)
		}
		out.Display = b.Display
		out.Annotations = r.Annotate(records, types.NewScale(b.Display, capture))
		clear(b.Image.Pix)
		for _, a := range out.Annotations {
			r.draw(b.Image, a)
		}
	})
	if !ok {
		if r.metrics != nil {
			r.metrics.RendersSkipped.Add(1)
		}
		return Frame{}, false
	}
	if r.metrics != nil {
		r.metrics.Renders.Add(1)
		r.metrics.FacesLast.Store(uint64(len(out.Annotations)))
	}
	return out, true
}

func countErrors(err error) int {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return len(joined.Unwrap())
	}
	return 1
}

// Annotate computes display geometry and labels without drawing
func (r *Renderer) Annotate(records []types.DetectionRecord, scale types.Scale) []Annotation {
	out := make([]Annotation, 0, len(records))
	for _, rec := range records {
		rect := rec.Box.ToDisplay(scale)
		label := Label(rec)
		textW := font.MeasureString(r.style.Face, label).Ceil()
		out = append(out, Annotation{
			Box:   rec.Box,
			Rect:  rect,
			Label: label,
			LabelRect: types.DisplayRect{
				X: rect.X,
				Y: rect.Y + rect.H - r.style.LabelHeight,
				W: textW + 2*r.style.LabelPad,
				H: r.style.LabelHeight,
			},
		})
	}
	return out
}

// Draw paints annotations onto dst without clearing it
func (r *Renderer) Draw(dst draw.Image, annotations []Annotation) {
	for _, a := range annotations {
		r.draw(dst, a)
	}
}

func (r *Renderer) draw(dst draw.Image, a Annotation) {
	strokeRect(dst, a.Rect.Rect(), r.style.LineWidth, r.style.BoxColor)
	draw.Draw(dst, a.LabelRect.Rect(), image.NewUniform(r.style.BoxColor), image.Point{}, draw.Src)

	top := a.LabelRect.Y + r.style.TextInset
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(r.style.TextColor),
		Face: r.style.Face,
		Dot:  fixed.P(a.LabelRect.X+r.style.LabelPad, top+r.style.Face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(a.Label)
}

// strokeRect draws a lw-wide outline centred on the edges of rect
func strokeRect(dst draw.Image, rect image.Rectangle, lw int, c color.Color) {
	if lw <= 0 {
		return
	}
	src := image.NewUniform(c)
	half := lw / 2
	outer := image.Rect(rect.Min.X-half, rect.Min.Y-half, rect.Max.X+lw-half, rect.Max.Y+lw-half)
	inner := outer.Inset(lw)
	if inner.Empty() {
		draw.Draw(dst, outer, src, image.Point{}, draw.Src)
		return
	}

	bands := []image.Rectangle{
		image.Rect(outer.Min.X, outer.Min.Y, outer.Max.X, inner.Min.Y), // top
		image.Rect(outer.Min.X, inner.Max.Y, outer.Max.X, outer.Max.Y), // bottom
		image.Rect(outer.Min.X, inner.Min.Y, inner.Min.X, inner.Max.Y), // left
		image.Rect(inner.Max.X, inner.Min.Y, outer.Max.X, inner.Max.Y), // right
	}
	for _, b := range bands {
		draw.Draw(dst, b, src, image.Point{}, draw.Src)
	}
}
