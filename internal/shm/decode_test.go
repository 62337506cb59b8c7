package shm

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func TestNV12ToImage(t *testing.T) {
	const w, h = 4, 2
	data := make([]byte, w*h+w*h/2)
	for i := range w * h {
		data[i] = byte(16 + i)
	}
	// one UV row for two chroma samples: (U0,V0) (U1,V1)
	copy(data[w*h:], []byte{100, 200, 110, 210})

	img, err := NV12ToImage(data, w, h)
	if err != nil {
		t.Fatal(err)
	}
	if img.Y[5] != 21 {
		t.Fatalf("Y[5] = %d", img.Y[5])
	}
	if img.Cb[0] != 100 || img.Cr[0] != 200 || img.Cb[1] != 110 || img.Cr[1] != 210 {
		t.Fatalf("chroma = %v %v", img.Cb, img.Cr)
	}

	c := img.YCbCrAt(3, 1)
	if c.Cb != 110 || c.Cr != 210 {
		t.Fatalf("pixel (3,1) chroma = %+v", c)
	}
}

func TestNV12Rejects(t *testing.T) {
	if _, err := NV12ToImage(make([]byte, 10), 4, 4); err == nil {
		t.Fatal("short buffer accepted")
	}
	if _, err := NV12ToImage(make([]byte, 100), 3, 4); err == nil {
		t.Fatal("odd width accepted")
	}
}

func TestDecodeFormats(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 16, 8))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, nil); err != nil {
		t.Fatal(err)
	}

	img, err := Decode(&RawFrame{Format: FormatJPEG, Data: buf.Bytes()})
	if err != nil || img.Bounds().Dx() != 16 {
		t.Fatalf("jpeg decode = %v, %v", img, err)
	}

	rgb, err := Decode(&RawFrame{Format: FormatRGB, Width: 1, Height: 1, Data: []byte{1, 2, 3}})
	if err != nil {
		t.Fatal(err)
	}
	if got := rgb.At(0, 0).(color.RGBA); got != (color.RGBA{1, 2, 3, 255}) {
		t.Fatalf("rgb pixel = %v", got)
	}

	if _, err := Decode(&RawFrame{Format: FormatH264, Data: []byte{0, 0, 1}}); err == nil {
		t.Fatal("h264 slot accepted")
	}
}
