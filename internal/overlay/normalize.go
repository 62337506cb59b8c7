package overlay

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dj-oyu/face-overlay/pkg/types"
)

// ShapeMismatch describes a response entry that could not be interpreted.
// The entry is skipped; the rest of the response still renders.
type ShapeMismatch struct {
	Index  int
	Reason string
}

func (e *ShapeMismatch) Error() string {
	return fmt.Sprintf("detection %d: %s", e.Index, e.Reason)
}

// Normalize maps either accepted response shape to detection records in
// response order. The faces list wins whenever it is present. The returned
// error joins one *ShapeMismatch per skipped entry and never invalidates the
// returned records.
func Normalize(resp *types.Response) ([]types.DetectionRecord, error) {
	if resp == nil {
		return nil, nil
	}

	var (
		records []types.DetectionRecord
		skipped []error
	)

	if resp.Faces != nil {
		records = make([]types.DetectionRecord, 0, len(resp.Faces))
		for i, face := range resp.Faces {
			box, ok := types.BoxFromSlice(face.Box)
			if !ok {
				skipped = append(skipped, &ShapeMismatch{Index: i, Reason: fmt.Sprintf("box has %d values", len(face.Box))})
				continue
			}
			records = append(records, types.DetectionRecord{Box: box, Attributes: face.Attributes})
		}
		return records, errors.Join(skipped...)
	}

	records = make([]types.DetectionRecord, 0, len(resp.Boxes))
	for i, raw := range resp.Boxes {
		box, ok := types.BoxFromSlice(raw)
		if !ok {
			skipped = append(skipped, &ShapeMismatch{Index: i, Reason: fmt.Sprintf("box has %d values", len(raw))})
			continue
		}
		rec := types.DetectionRecord{Box: box}
		if i < len(resp.Names) {
			rec.Name = resp.Names[i]
		}
		records = append(records, rec)
	}
	return records, errors.Join(skipped...)
}

// Label returns the text drawn under a box: the attribute summary when any
// attribute is known, else the legacy name, else "Unknown".
func Label(rec types.DetectionRecord) string {
	if !rec.Attributes.Empty() {
		a := rec.Attributes
		age, hair, eye := "?", "?", "?"
		if a.Age != nil {
			age = strconv.FormatFloat(*a.Age, 'f', -1, 64)
		}
		if a.HairColor != nil && *a.HairColor != "" {
			hair = *a.HairColor
		}
		if a.EyeColor != nil && *a.EyeColor != "" {
			eye = *a.EyeColor
		}
		return age + "y " + hair + " hair " + eye + " eyes"
	}
	if name := strings.TrimSpace(rec.Name); name != "" {
		return name
	}
	return "Unknown"
}
