package overlay

import (
	"bytes"
	"errors"
	"image"
	"testing"

	"github.com/dj-oyu/face-overlay/internal/logger"
	"github.com/dj-oyu/face-overlay/pkg/types"
)

var capture640 = types.Size{Width: 640, Height: 360}

func ptr[T any](v T) *T { return &v }

func newTestRenderer() *Renderer {
	return NewRenderer(DefaultStyle(), logger.Discard().Module("Overlay"))
}

func nonZeroPixels(img *image.RGBA) int {
	n := 0
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			n++
		}
	}
	return n
}

func TestLabel(t *testing.T) {
	tests := []struct {
		name string
		rec  types.DetectionRecord
		want string
	}{
		{
			name: "full attributes",
			rec: types.DetectionRecord{Attributes: &types.Attributes{
				Age: ptr(31.0), HairColor: ptr("brown"), EyeColor: ptr("green"),
			}},
			want: "31y brown hair green eyes",
		},
		{
			name: "partial attributes",
			rec:  types.DetectionRecord{Attributes: &types.Attributes{Age: ptr(27.5)}},
			want: "27.5y ? hair ? eyes",
		},
		{
			name: "empty attributes fall back to name",
			rec:  types.DetectionRecord{Name: "alice", Attributes: &types.Attributes{}},
			want: "alice",
		},
		{
			name: "empty colors render as unknown",
			rec: types.DetectionRecord{Attributes: &types.Attributes{
				Age: ptr(25.0), HairColor: ptr(""), EyeColor: ptr(""),
			}},
			want: "25y ? hair ? eyes",
		},
		{
			name: "only empty colors fall back to name",
			rec: types.DetectionRecord{Name: "carol", Attributes: &types.Attributes{
				HairColor: ptr(""), EyeColor: ptr(""),
			}},
			want: "carol",
		},
		{
			name: "legacy name",
			rec:  types.DetectionRecord{Name: "bob"},
			want: "bob",
		},
		{
			name: "nothing",
			rec:  types.DetectionRecord{},
			want: "Unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Label(tt.rec); got != tt.want {
				t.Fatalf("Label = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeFacesWinsWhenPresent(t *testing.T) {
	resp := &types.Response{
		Faces: []types.Face{},
		Boxes: [][]int{{1, 2, 3, 4}},
		Names: []string{"ignored"},
	}
	records, err := Normalize(resp)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("records = %+v, want none", records)
	}
}

func TestNormalizeLegacyShape(t *testing.T) {
	resp := &types.Response{
		Boxes: [][]int{{10, 110, 60, 10}, {1, 2, 3}, {20, 40, 30, 20}},
		Names: []string{"alice", "broken"},
	}
	records, err := Normalize(resp)
	if len(records) != 2 {
		t.Fatalf("records = %+v", records)
	}
	if records[0].Name != "alice" || records[1].Name != "" {
		t.Fatalf("names = %q, %q", records[0].Name, records[1].Name)
	}
	var mismatch *ShapeMismatch
	if !errors.As(err, &mismatch) || mismatch.Index != 1 {
		t.Fatalf("err = %v, want ShapeMismatch at index 1", err)
	}
}

func TestRenderCoordinateTransform(t *testing.T) {
	canvas := NewCanvas(types.Size{Width: 320, Height: 180})
	resp := &types.Response{Faces: []types.Face{{Box: []int{10, 110, 60, 10}}}}

	anns, ok := newTestRenderer().Render(canvas, resp, capture640)
	if !ok {
		t.Fatal("Render reported no surface")
	}
	if len(anns) != 1 {
		t.Fatalf("annotations = %d", len(anns))
	}
	want := types.DisplayRect{X: 5, Y: 5, W: 50, H: 25}
	if anns[0].Rect != want {
		t.Fatalf("rect = %+v, want %+v", anns[0].Rect, want)
	}
	if anns[0].Label != "Unknown" {
		t.Fatalf("label = %q", anns[0].Label)
	}
	lr := anns[0].LabelRect
	if lr.X != 5 || lr.Y != 5+25-18 || lr.H != 18 || lr.W != 7*len("Unknown")+8 {
		t.Fatalf("label rect = %+v", lr)
	}

	img, _ := canvas.Snapshot()
	if img.Bounds().Dx() != 320 || img.Bounds().Dy() != 180 {
		t.Fatalf("backing size = %v", img.Bounds())
	}
	// Stroke covers the top-left corner of the box.
	if c := img.RGBAAt(5, 5); c.G != 255 || c.A != 255 {
		t.Fatalf("corner pixel = %+v", c)
	}
	// Far from the box stays transparent.
	if c := img.RGBAAt(300, 170); c.A != 0 {
		t.Fatalf("background pixel = %+v", c)
	}
}

func TestRenderEmptyClearsPreviousOverlay(t *testing.T) {
	canvas := NewCanvas(types.Size{Width: 320, Height: 180})
	r := newTestRenderer()

	r.Render(canvas, &types.Response{Boxes: [][]int{{10, 110, 60, 10}}, Names: []string{"x"}}, capture640)
	img, _ := canvas.Snapshot()
	if nonZeroPixels(img) == 0 {
		t.Fatal("first render drew nothing")
	}

	anns, ok := r.Render(canvas, &types.Response{Faces: []types.Face{}}, capture640)
	if !ok || len(anns) != 0 {
		t.Fatalf("second render = %v, %v", anns, ok)
	}
	img, _ = canvas.Snapshot()
	if n := nonZeroPixels(img); n != 0 {
		t.Fatalf("%d pixels left after empty render", n)
	}
}

func TestRenderShapesArePixelIdentical(t *testing.T) {
	r := newTestRenderer()
	display := types.Size{Width: 480, Height: 270}

	a := NewCanvas(display)
	r.Render(a, &types.Response{Faces: []types.Face{{Box: []int{40, 300, 200, 100}}}}, capture640)

	b := NewCanvas(display)
	r.Render(b, &types.Response{Boxes: [][]int{{40, 300, 200, 100}}}, capture640)

	imgA, _ := a.Snapshot()
	imgB, _ := b.Snapshot()
	if !bytes.Equal(imgA.Pix, imgB.Pix) {
		t.Fatal("faces and boxes shapes rendered differently")
	}
}

func TestRenderTracksDisplayResize(t *testing.T) {
	canvas := NewCanvas(types.Size{Width: 320, Height: 180})
	r := newTestRenderer()
	resp := &types.Response{Faces: []types.Face{{Box: []int{10, 110, 60, 10}}}}

	r.Render(canvas, resp, capture640)
	canvas.SetDisplaySize(types.Size{Width: 1280, Height: 720})
	anns, _ := r.Render(canvas, resp, capture640)

	if want := (types.DisplayRect{X: 20, Y: 20, W: 200, H: 100}); anns[0].Rect != want {
		t.Fatalf("rect after resize = %+v, want %+v", anns[0].Rect, want)
	}
	img, _ := canvas.Snapshot()
	if img.Bounds().Dx() != 1280 || img.Bounds().Dy() != 720 {
		t.Fatalf("backing not resized: %v", img.Bounds())
	}
}

func TestRenderFrameKeepsPaintedDisplay(t *testing.T) {
	canvas := NewCanvas(types.Size{Width: 320, Height: 180})
	resp := &types.Response{Faces: []types.Face{{Box: []int{10, 110, 60, 10}}}}

	frame, ok := newTestRenderer().RenderFrame(canvas, resp, capture640)
	canvas.SetDisplaySize(types.Size{Width: 1280, Height: 720})
	if !ok {
		t.Fatal("RenderFrame reported no surface")
	}
	if frame.Display != (types.Size{Width: 320, Height: 180}) {
		t.Fatalf("display = %+v", frame.Display)
	}
	if len(frame.Annotations) != 1 || frame.Annotations[0].Rect != (types.DisplayRect{X: 5, Y: 5, W: 50, H: 25}) {
		t.Fatalf("annotations = %+v", frame.Annotations)
	}
}

func TestRenderWithoutSurfaceIsNoop(t *testing.T) {
	r := newTestRenderer()
	resp := &types.Response{Faces: []types.Face{{Box: []int{1, 2, 3, 4}}}}

	if _, ok := r.Render(nil, resp, capture640); ok {
		t.Fatal("nil surface reported as rendered")
	}
	var missing *Canvas
	if _, ok := r.Render(missing, resp, capture640); ok {
		t.Fatal("nil canvas reported as rendered")
	}

	canvas := NewCanvas(types.Size{Width: 320, Height: 180})
	canvas.Detach()
	before := canvas.Version()
	if _, ok := r.Render(canvas, resp, capture640); ok {
		t.Fatal("detached canvas reported as rendered")
	}
	if canvas.Version() != before {
		t.Fatal("detached canvas was painted")
	}
}

func TestRenderSkipsMalformedBoxes(t *testing.T) {
	canvas := NewCanvas(capture640)
	resp := &types.Response{Faces: []types.Face{
		{Box: []int{1, 2}},
		{Box: []int{10, 110, 60, 10}, Attributes: &types.Attributes{HairColor: ptr("red")}},
	}}
	anns, ok := newTestRenderer().Render(canvas, resp, capture640)
	if !ok || len(anns) != 1 {
		t.Fatalf("annotations = %+v", anns)
	}
	if anns[0].Label != "?y red hair ? eyes" {
		t.Fatalf("label = %q", anns[0].Label)
	}
}

func TestStrokeStaysInsideImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	strokeRect(img, image.Rect(-5, -5, 50, 50), 3, DefaultStyle().BoxColor)
	if c := img.RGBAAt(5, 5); c.A != 0 {
		t.Fatalf("interior painted: %+v", c)
	}
}
