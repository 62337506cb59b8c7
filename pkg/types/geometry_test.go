package types

import "testing"

func TestCaptureBoxToDisplay(t *testing.T) {
	tests := []struct {
		name    string
		box     []int
		capture Size
		display Size
		want    DisplayRect
	}{
		{
			name:    "half scale",
			box:     []int{10, 110, 60, 10},
			capture: Size{Width: 640, Height: 360},
			display: Size{Width: 320, Height: 180},
			want:    DisplayRect{X: 5, Y: 5, W: 50, H: 25},
		},
		{
			name:    "identity",
			box:     []int{10, 110, 60, 10},
			capture: Size{Width: 640, Height: 360},
			display: Size{Width: 640, Height: 360},
			want:    DisplayRect{X: 10, Y: 10, W: 100, H: 50},
		},
		{
			name:    "rounds to nearest",
			box:     []int{3, 13, 7, 3},
			capture: Size{Width: 640, Height: 480},
			display: Size{Width: 1280, Height: 720},
			want:    DisplayRect{X: 6, Y: 5, W: 20, H: 6},
		},
		{
			name:    "non uniform",
			box:     []int{100, 300, 200, 100},
			capture: Size{Width: 640, Height: 480},
			display: Size{Width: 320, Height: 960},
			want:    DisplayRect{X: 50, Y: 200, W: 100, H: 200},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			box, ok := BoxFromSlice(tt.box)
			if !ok {
				t.Fatalf("BoxFromSlice(%v) rejected", tt.box)
			}
			got := box.ToDisplay(NewScale(tt.display, tt.capture))
			if got != tt.want {
				t.Fatalf("ToDisplay = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBoxFromSliceRejectsWrongLength(t *testing.T) {
	for _, v := range [][]int{nil, {1, 2, 3}, {1, 2, 3, 4, 5}} {
		if _, ok := BoxFromSlice(v); ok {
			t.Fatalf("BoxFromSlice(%v) accepted", v)
		}
	}
}

func TestNewScaleZeroCapture(t *testing.T) {
	s := NewScale(Size{Width: 320, Height: 180}, Size{})
	if s.X != 0 || s.Y != 0 {
		t.Fatalf("NewScale with empty capture = %+v", s)
	}
}

func TestAttributesEmpty(t *testing.T) {
	var nilAttrs *Attributes
	if !nilAttrs.Empty() {
		t.Fatal("nil attributes should be empty")
	}
	if !(&Attributes{}).Empty() {
		t.Fatal("zero attributes should be empty")
	}
	age := 30.0
	if (&Attributes{Age: &age}).Empty() {
		t.Fatal("attributes with age should not be empty")
	}
}
