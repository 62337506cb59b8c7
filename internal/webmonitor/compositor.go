package webmonitor

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/dj-oyu/face-overlay/internal/encoder"
	"github.com/dj-oyu/face-overlay/pkg/types"
)

// Compose scales frame to display and draws the overlay over it. The overlay
// is stretched when it was painted at an older display size.
func Compose(frame image.Image, ov *image.RGBA, display types.Size) *image.RGBA {
	if display.Empty() {
		b := frame.Bounds()
		display = types.Size{Width: b.Dx(), Height: b.Dy()}
	}
	dst := encoder.Scale(frame, display)
	if ov == nil || ov.Rect.Empty() {
		return dst
	}

	if ov.Rect.Dx() == display.Width && ov.Rect.Dy() == display.Height {
		draw.Draw(dst, dst.Bounds(), ov, ov.Rect.Min, draw.Over)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), ov, ov.Rect, draw.Over, nil)
	}
	return dst
}
