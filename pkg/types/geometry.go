package types

import (
	"fmt"
	"image"
	"math"
)

// Size is a width/height pair in pixels
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether either dimension is not positive
func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Scale holds per-axis factors from capture space to display space
type Scale struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewScale returns display/capture per axis. A zero capture dimension yields
// a zero factor on that axis.
func NewScale(display, capture Size) Scale {
	var s Scale
	if capture.Width > 0 {
		s.X = float64(display.Width) / float64(capture.Width)
	}
	if capture.Height > 0 {
		s.Y = float64(display.Height) / float64(capture.Height)
	}
	return s
}

// CaptureBox is a face rectangle in capture-frame pixels, in the
// [top, right, bottom, left] order used on the wire.
type CaptureBox struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// BoxFromSlice converts a wire box. ok is false unless v has exactly 4 elements.
func BoxFromSlice(v []int) (CaptureBox, bool) {
	if len(v) != 4 {
		return CaptureBox{}, false
	}
	return CaptureBox{Top: v[0], Right: v[1], Bottom: v[2], Left: v[3]}, true
}

// Slice returns the box in wire order
func (b CaptureBox) Slice() []int {
	return []int{b.Top, b.Right, b.Bottom, b.Left}
}

// ToDisplay is the only conversion from capture units to display units.
func (b CaptureBox) ToDisplay(s Scale) DisplayRect {
	return DisplayRect{
		X: round(float64(b.Left) * s.X),
		Y: round(float64(b.Top) * s.Y),
		W: round(float64(b.Right-b.Left) * s.X),
		H: round(float64(b.Bottom-b.Top) * s.Y),
	}
}

// DisplayRect is a rectangle in display-surface pixels
type DisplayRect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Rect returns the equivalent image.Rectangle
func (r DisplayRect) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

func round(v float64) int {
	return int(math.Round(v))
}
