package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/face-overlay/internal/logger"
)

// colour bars: white, yellow, cyan, green, magenta, red, blue, black
var barColors = []color.RGBA{
	{R: 255, G: 255, B: 255, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 0, G: 255, B: 0, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 255, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
	{R: 0, G: 0, B: 0, A: 255},
}

// TestPattern produces scrolling colour bars stamped with a frame counter.
// It needs no hardware and is the default backend.
type TestPattern struct {
	Width  int
	Height int
	FPS    int
	Log    logger.Module
}

// Open starts the pattern generator. The first frame is published before
// Open returns.
func (p TestPattern) Open(ctx context.Context) (Stream, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, &AcquisitionError{Backend: "testpattern", Err: fmt.Errorf("invalid resolution %dx%d", p.Width, p.Height)}
	}
	fps := p.FPS
	if fps <= 0 {
		fps = 30
	}

	feed := NewFeed("testpattern", nil)
	feed.Publish(PatternFrame(p.Width, p.Height, 0))

	go func() {
		ticker := time.NewTicker(time.Second / time.Duration(fps))
		defer ticker.Stop()
		var n uint64
		for {
			select {
			case <-feed.Done():
				p.Log.Debug("Test pattern stopped after %d frames", n)
				return
			case <-ticker.C:
				n++
				feed.Publish(PatternFrame(p.Width, p.Height, n))
			}
		}
	}()

	p.Log.Info("Test pattern %dx%d @ %d fps", p.Width, p.Height, fps)
	return feed, nil
}

// PatternFrame renders frame n of the test pattern
func PatternFrame(width, height int, n uint64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	barWidth := max(width/len(barColors), 1)
	shift := int(n*2) % width
	for x := range width {
		idx := ((x + shift) % width) / barWidth
		if idx >= len(barColors) {
			idx = len(barColors) - 1
		}
		draw.Draw(img, image.Rect(x, 0, x+1, height), image.NewUniform(barColors[idx]), image.Point{}, draw.Src)
	}

	label := fmt.Sprintf("frame %d", n)
	face := basicfont.Face7x13
	band := image.Rect(8, 8, 8+font.MeasureString(face, label).Ceil()+8, 8+face.Height+6)
	draw.Draw(img, band, image.Black, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(band.Min.X+4, band.Min.Y+3+face.Ascent),
	}
	d.DrawString(label)
	return img
}
