package overlay

import (
	"encoding/json"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dj-oyu/face-overlay/pkg/types"
)

// Event is one painted overlay, fanned out to viewers that repaint on their
// own canvas. Box is in capture space; Rect and LabelRect are in the display
// space the server rendered at.
type Event struct {
	SessionID   string       `json:"session_id"`
	Seq         uint64       `json:"seq"`
	Timestamp   float64      `json:"timestamp"`
	Capture     types.Size   `json:"capture"`
	Display     types.Size   `json:"display"`
	Annotations []Annotation `json:"annotations"`
}

// MarshalJSON keeps annotations an array when empty so clients can clear
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	if e.Annotations == nil {
		e.Annotations = []Annotation{}
	}
	return json.Marshal(plain(e))
}

// Wire layout (proto3):
//
//	message Event      { string session_id = 1; uint64 seq = 2; double timestamp = 3;
//	                     Size capture = 4; Size display = 5; repeated Annotation annotations = 6; }
//	message Size       { int32 width = 1; int32 height = 2; }
//	message Annotation { Box box = 1; Rect rect = 2; string label = 3; Rect label_rect = 4; }
//	message Box        { int32 top = 1; int32 right = 2; int32 bottom = 3; int32 left = 4; }
//	message Rect       { int32 x = 1; int32 y = 2; int32 w = 3; int32 h = 4; }

// MarshalProto encodes e in the layout above
func (e Event) MarshalProto() []byte {
	var b []byte
	if e.SessionID != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, e.SessionID)
	}
	if e.Seq != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, e.Seq)
	}
	if e.Timestamp != 0 {
		b = protowire.AppendTag(b, 3, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(e.Timestamp))
	}
	b = appendMessage(b, 4, appendInts(nil, e.Capture.Width, e.Capture.Height))
	b = appendMessage(b, 5, appendInts(nil, e.Display.Width, e.Display.Height))
	for _, a := range e.Annotations {
		b = appendMessage(b, 6, a.appendProto(nil))
	}
	return b
}

func (a Annotation) appendProto(b []byte) []byte {
	b = appendMessage(b, 1, appendInts(nil, a.Box.Top, a.Box.Right, a.Box.Bottom, a.Box.Left))
	b = appendMessage(b, 2, appendInts(nil, a.Rect.X, a.Rect.Y, a.Rect.W, a.Rect.H))
	if a.Label != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, a.Label)
	}
	b = appendMessage(b, 4, appendInts(nil, a.LabelRect.X, a.LabelRect.Y, a.LabelRect.W, a.LabelRect.H))
	return b
}

// appendInts writes vals as int32 fields numbered from 1, skipping zeros
func appendInts(b []byte, vals ...int) []byte {
	for i, v := range vals {
		if v == 0 {
			continue
		}
		b = protowire.AppendTag(b, protowire.Number(i+1), protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(int32(v))))
	}
	return b
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
