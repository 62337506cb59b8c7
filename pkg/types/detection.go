package types

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Attributes are the optional per-face enrichment fields
type Attributes struct {
	Age       *float64 `json:"age,omitempty"`
	HairColor *string  `json:"hair_color,omitempty"`
	EyeColor  *string  `json:"eye_color,omitempty"`
}

// Empty reports whether no attribute field is set. Empty color strings count
// as unset.
func (a *Attributes) Empty() bool {
	return a == nil || (a.Age == nil && blank(a.HairColor) && blank(a.EyeColor))
}

func blank(s *string) bool { return s == nil || *s == "" }

// UnmarshalJSON decodes each field on its own. A field of the wrong type is
// left unset instead of failing the whole response, so one odd value such as
// "age": "unknown" only turns that field into "?". Ages sent as numeric
// strings are accepted.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	var raw struct {
		Age       json.RawMessage `json:"age"`
		HairColor json.RawMessage `json:"hair_color"`
		EyeColor  json.RawMessage `json:"eye_color"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Attributes{
		Age:       decodeAge(raw.Age),
		HairColor: decodeString(raw.HairColor),
		EyeColor:  decodeString(raw.EyeColor),
	}
	return nil
}

func decodeAge(raw json.RawMessage) *float64 {
	if isNull(raw) {
		return nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return &n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	return &n
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func decodeString(raw json.RawMessage) *string {
	if isNull(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

// Face is one entry of the attribute-capable response shape
type Face struct {
	Box        []int       `json:"box"`
	Attributes *Attributes `json:"attributes,omitempty"`
}

// Response is the detection service reply. Two shapes are accepted:
// {"faces": [...]} and the legacy {"boxes": [...], "names": [...]}.
type Response struct {
	Faces           []Face   `json:"faces,omitempty"`
	Boxes           [][]int  `json:"boxes,omitempty"`
	Names           []string `json:"names,omitempty"`
	LandmarksCounts []int    `json:"landmarks_counts,omitempty"`
}

// DetectionRecord is a normalized detection in capture space
type DetectionRecord struct {
	Box        CaptureBox  `json:"box"`
	Name       string      `json:"name,omitempty"`       // legacy shape only
	Attributes *Attributes `json:"attributes,omitempty"` // faces shape only
}

// Payload is an encoded capture frame ready for upload
type Payload struct {
	Data        []byte
	ContentType string
	Filename    string
	Size        Size
}
