package shm

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// Decode turns a ring slot into an image. JPEG, NV12 and packed RGB frames
// are supported; H.264 slots belong to the streaming path and are rejected.
func Decode(f *RawFrame) (image.Image, error) {
	switch f.Format {
	case FormatJPEG:
		return jpeg.Decode(bytes.NewReader(f.Data))
	case FormatNV12:
		return NV12ToImage(f.Data, f.Width, f.Height)
	case FormatRGB:
		return rgbToImage(f.Data, f.Width, f.Height)
	default:
		return nil, fmt.Errorf("unsupported frame format %d", f.Format)
	}
}

// NV12ToImage deinterleaves an NV12 buffer (Y plane then interleaved UV at
// half resolution) into a 4:2:0 YCbCr image.
func NV12ToImage(data []byte, width, height int) (*image.YCbCr, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("nv12: invalid size %dx%d", width, height)
	}
	ySize := width * height
	if len(data) < ySize+ySize/2 {
		return nil, fmt.Errorf("nv12: short buffer %d for %dx%d", len(data), width, height)
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
	copy(img.Y, data[:ySize])

	uv := data[ySize : ySize+ySize/2]
	cw := width / 2
	for row := 0; row < height/2; row++ {
		src := uv[row*width : row*width+width]
		dst := row * img.CStride
		for col := range cw {
			img.Cb[dst+col] = src[2*col]
			img.Cr[dst+col] = src[2*col+1]
		}
	}
	return img, nil
}

func rgbToImage(data []byte, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 || len(data) < width*height*3 {
		return nil, fmt.Errorf("rgb: bad buffer %d for %dx%d", len(data), width, height)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i < width*height*3; i, j = i+3, j+4 {
		img.Pix[j] = data[i]
		img.Pix[j+1] = data[i+1]
		img.Pix[j+2] = data[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}
