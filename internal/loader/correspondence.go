package loader

import (
	"encoding/json"

	"github.com/banshee-data/sketchlift/internal/geometry"
)

type rawCorrespondence struct {
	Sketch [][]float64 `json:"points_2D_sketch"`
	Object [][]float64 `json:"points_3D_object"`
}

// ParseCorrespondence decodes a correspondence file. The set size is not
// checked against the plane minimum here; the fitter reports that.
func ParseCorrespondence(data []byte) (geometry.Correspondence, error) {
	var c geometry.Correspondence

	var raw rawCorrespondence
	if err := json.Unmarshal(data, &raw); err != nil {
		return c, schemaErr("correspondence", "decode: %v", err)
	}
	if raw.Sketch == nil || raw.Object == nil {
		return c, schemaErr("correspondence", "points_2D_sketch and points_3D_object are both required")
	}
	if len(raw.Sketch) != len(raw.Object) {
		return c, schemaErr("correspondence", "%d sketch points but %d object points", len(raw.Sketch), len(raw.Object))
	}

	c.Sketch = make([]geometry.Point2D, len(raw.Sketch))
	c.Object = make([]geometry.Point3D, len(raw.Object))
	for i := range raw.Sketch {
		if len(raw.Sketch[i]) != 2 {
			return geometry.Correspondence{}, schemaErr("correspondence", "sketch point %d has %d coordinates, want 2", i, len(raw.Sketch[i]))
		}
		if len(raw.Object[i]) != 3 {
			return geometry.Correspondence{}, schemaErr("correspondence", "object point %d has %d coordinates, want 3", i, len(raw.Object[i]))
		}
		c.Sketch[i] = geometry.Point2D{X: raw.Sketch[i][0], Y: raw.Sketch[i][1]}
		c.Object[i] = geometry.Point3D{X: raw.Object[i][0], Y: raw.Object[i][1], Z: raw.Object[i][2]}
	}
	return c, nil
}
