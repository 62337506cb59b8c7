// Package cascade is a local face detector built on OpenCV's Haar cascade.
// It answers in the faces shape without names or attributes, so the overlay
// labels every box "Unknown".
package cascade

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/face-overlay/internal/detection"
	"github.com/dj-oyu/face-overlay/internal/logger"
	"github.com/dj-oyu/face-overlay/pkg/types"
)

// Options tune DetectMultiScale
type Options struct {
	Path         string
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int // smallest face side in capture pixels
	Log          logger.Module
}

// Detector implements detection.Detector
type Detector struct {
	opts Options

	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	closed     bool
}

var _ detection.Detector = (*Detector)(nil)

// New loads the cascade XML
func New(opts Options) (*Detector, error) {
	if opts.ScaleFactor <= 1 {
		opts.ScaleFactor = 1.1
	}
	if opts.MinNeighbors <= 0 {
		opts.MinNeighbors = 4
	}
	if opts.MinSize <= 0 {
		opts.MinSize = 24
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(opts.Path) {
		classifier.Close()
		return nil, fmt.Errorf("load cascade %q", opts.Path)
	}
	opts.Log.Info("Loaded cascade %s (scale=%.2f neighbors=%d)", opts.Path, opts.ScaleFactor, opts.MinNeighbors)
	return &Detector{opts: opts, classifier: classifier}, nil
}

// Detect decodes the payload and runs the cascade on its grey equalised image
func (d *Detector) Detect(ctx context.Context, frame *types.Payload) (*types.Response, error) {
	if frame == nil || len(frame.Data) == 0 {
		return nil, &detection.DecodeError{Op: "cascade", Err: errors.New("empty frame")}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.IMDecode(frame.Data, gocv.IMReadGrayScale)
	if err != nil {
		return nil, &detection.DecodeError{Op: "cascade", Err: err}
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, &detection.DecodeError{Op: "cascade", Err: errors.New("undecodable frame")}
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.EqualizeHist(mat, &gray)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errors.New("cascade detector closed")
	}
	minSize := image.Pt(d.opts.MinSize, d.opts.MinSize)
	rects := d.classifier.DetectMultiScaleWithParams(gray, d.opts.ScaleFactor, d.opts.MinNeighbors, 0, minSize, image.Point{})
	d.mu.Unlock()

	return ToResponse(rects), nil
}

// ToResponse converts OpenCV rectangles to the faces shape
func ToResponse(rects []image.Rectangle) *types.Response {
	resp := &types.Response{Faces: make([]types.Face, 0, len(rects))}
	for _, r := range rects {
		box := types.CaptureBox{Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y, Left: r.Min.X}
		resp.Faces = append(resp.Faces, types.Face{Box: box.Slice()})
	}
	return resp
}

// Close releases the classifier
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.classifier.Close()
}
