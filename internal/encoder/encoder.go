package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/dj-oyu/face-overlay/pkg/types"
)

// Format is the upload image format
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
)

// Source yields the current camera frame
type Source interface {
	Frame() (image.Image, error)
}

// Options configure an Encoder
type Options struct {
	Format  Format
	Quality int // JPEG only
}

// Encoder downscales frames to the capture size and encodes them for upload
type Encoder struct {
	format  Format
	quality int
	png     png.Encoder
}

// New creates an Encoder. An empty format selects PNG.
func New(opts Options) (*Encoder, error) {
	switch opts.Format {
	case "":
		opts.Format = PNG
	case PNG, JPEG:
	default:
		return nil, fmt.Errorf("unsupported encoder format %q", opts.Format)
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = jpeg.DefaultQuality
	}
	return &Encoder{
		format:  opts.Format,
		quality: opts.Quality,
		png:     png.Encoder{CompressionLevel: png.BestSpeed},
	}, nil
}

// CaptureHeight derives the capture height for a fixed capture width so the
// native aspect ratio is preserved.
func CaptureHeight(native types.Size, width int) int {
	if native.Width <= 0 {
		return 0
	}
	return int(math.Round(float64(native.Height) * float64(width) / float64(native.Width)))
}

// CaptureSize returns the fixed capture size for a stream of the given native size
func CaptureSize(native types.Size, width int) (types.Size, error) {
	if width <= 0 {
		return types.Size{}, fmt.Errorf("capture width must be positive, got %d", width)
	}
	if native.Empty() {
		return types.Size{}, fmt.Errorf("invalid native size %s", native)
	}
	size := types.Size{Width: width, Height: CaptureHeight(native, width)}
	if size.Height <= 0 {
		size.Height = 1
	}
	return size, nil
}

// Capture scales the current frame of src to exactly target (no cropping)
// and encodes it.
func (e *Encoder) Capture(src Source, target types.Size) (*types.Payload, error) {
	if src == nil {
		return nil, errors.New("no frame source")
	}
	if target.Empty() {
		return nil, fmt.Errorf("invalid capture size %s", target)
	}
	frame, err := src.Frame()
	if err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return e.Encode(Scale(frame, target))
}

// Encode encodes an already scaled frame
func (e *Encoder) Encode(img image.Image) (*types.Payload, error) {
	var buf bytes.Buffer
	payload := &types.Payload{
		Size: types.Size{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()},
	}

	switch e.format {
	case JPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg: %w", err)
		}
		payload.ContentType = "image/jpeg"
		payload.Filename = "frame.jpg"
	default:
		if err := e.png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
		payload.ContentType = "image/png"
		payload.Filename = "frame.png"
	}

	payload.Data = buf.Bytes()
	return payload, nil
}

// Scale resamples img into a new RGBA buffer of exactly size
func Scale(img image.Image, size types.Size) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}
