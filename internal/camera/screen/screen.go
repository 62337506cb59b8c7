// Package screen captures the desktop as a camera, handy for running the
// overlay against a video call or a browser window.
package screen

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/vova616/screenshot"

	"github.com/dj-oyu/face-overlay/internal/camera"
	"github.com/dj-oyu/face-overlay/internal/logger"
)

// Grabber returns one screen image. Region is empty for the whole screen.
type Grabber func(region image.Rectangle) (*image.RGBA, error)

// Grab captures the primary screen or a region of it
func Grab(region image.Rectangle) (*image.RGBA, error) {
	if region.Empty() {
		return screenshot.CaptureScreen()
	}
	return screenshot.CaptureRect(region)
}

// Camera is a camera.Opener polling the screen at FPS
type Camera struct {
	Region image.Rectangle
	FPS    int
	Grab   Grabber
	Log    logger.Module
}

// Open grabs the first frame synchronously so a missing display fails here
func (c Camera) Open(ctx context.Context) (camera.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, &camera.AcquisitionError{Backend: "screen", Err: err}
	}
	grab := c.Grab
	if grab == nil {
		grab = Grab
	}
	fps := c.FPS
	if fps <= 0 {
		fps = 5
	}

	first, err := grab(c.Region)
	if err != nil {
		return nil, &camera.AcquisitionError{Backend: "screen", Err: fmt.Errorf("capture screen: %w", err)}
	}

	feed := camera.NewFeed("screen", nil)
	feed.Publish(first)

	go func() {
		ticker := time.NewTicker(time.Second / time.Duration(fps))
		defer ticker.Stop()
		failures := 0
		for {
			select {
			case <-feed.Done():
				return
			case <-ticker.C:
			}
			img, err := grab(c.Region)
			if err != nil {
				failures++
				if failures%50 == 1 {
					c.Log.Warn("Screen capture failed (%d): %v", failures, err)
				}
				continue
			}
			failures = 0
			feed.Publish(img)
		}
	}()

	b := first.Bounds()
	c.Log.Info("Screen capture %dx%d @ %d fps", b.Dx(), b.Dy(), fps)
	return feed, nil
}
