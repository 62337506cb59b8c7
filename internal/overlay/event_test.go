package overlay

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dj-oyu/face-overlay/pkg/types"
)

// fields flattens one message level into number -> raw values
func fields(t *testing.T, b []byte) map[protowire.Number][]any {
	t.Helper()
	out := map[protowire.Number][]any{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			t.Fatalf("bad tag: %v", protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			out[num] = append(out[num], v)
			b = b[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			out[num] = append(out[num], v)
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			out[num] = append(out[num], v)
			b = b[n:]
		default:
			t.Fatalf("unexpected wire type %v", typ)
		}
	}
	return out
}

func TestEventMarshalProto(t *testing.T) {
	ev := Event{
		SessionID: "abc",
		Seq:       7,
		Timestamp: 1.5,
		Capture:   types.Size{Width: 640, Height: 360},
		Display:   types.Size{Width: 320, Height: 180},
		Annotations: []Annotation{{
			Box:       types.CaptureBox{Top: 10, Right: 110, Bottom: 60, Left: 10},
			Rect:      types.DisplayRect{X: 5, Y: 5, W: 50, H: 25},
			Label:     "Unknown",
			LabelRect: types.DisplayRect{X: 5, Y: 12, W: 57, H: 18},
		}},
	}

	top := fields(t, ev.MarshalProto())
	if string(top[1][0].([]byte)) != "abc" || top[2][0].(uint64) != 7 {
		t.Fatalf("header fields = %v", top)
	}
	if math.Float64frombits(top[3][0].(uint64)) != 1.5 {
		t.Fatal("timestamp mismatch")
	}
	capture := fields(t, top[4][0].([]byte))
	if capture[1][0].(uint64) != 640 || capture[2][0].(uint64) != 360 {
		t.Fatalf("capture = %v", capture)
	}
	if len(top[6]) != 1 {
		t.Fatalf("annotations = %d", len(top[6]))
	}
	ann := fields(t, top[6][0].([]byte))
	rect := fields(t, ann[2][0].([]byte))
	if rect[1][0].(uint64) != 5 || rect[3][0].(uint64) != 50 || rect[4][0].(uint64) != 25 {
		t.Fatalf("rect = %v", rect)
	}
	if string(ann[3][0].([]byte)) != "Unknown" {
		t.Fatalf("label = %q", ann[3][0])
	}
}

func TestEventJSONKeepsEmptyArray(t *testing.T) {
	data, err := json.Marshal(Event{Seq: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"annotations":[]`) {
		t.Fatalf("json = %s", data)
	}
}
