package export

import (
	"encoding/json"
	"fmt"

	"github.com/banshee-data/sketchlift/internal/fsutil"
	"github.com/banshee-data/sketchlift/internal/geometry"
	"github.com/banshee-data/sketchlift/internal/lift"
)

// StrokeRecord is one entry of reconstructed_strokes.json.
type StrokeRecord struct {
	// StrokeIndex is the stroke's position in the source sketch file.
	StrokeIndex int          `json:"stroke_index"`
	Geometry    [][3]float64 `json:"geometry"`
}

// Records converts a lift result into output records. sourceIndex maps
// the lifter's stroke index back to the sketch file position; nil keeps
// the lifter index.
func Records(res lift.Result, sourceIndex []int) []StrokeRecord {
	out := make([]StrokeRecord, 0, len(res.Strokes))
	for _, s := range res.Strokes {
		idx := s.Index
		if sourceIndex != nil && idx < len(sourceIndex) {
			idx = sourceIndex[idx]
		}
		out = append(out, StrokeRecord{StrokeIndex: idx, Geometry: toArrays(s.Points)})
	}
	return out
}

// Geometry returns the point lists of the records.
func Geometry(records []StrokeRecord) []geometry.Stroke3D {
	out := make([]geometry.Stroke3D, len(records))
	for i, r := range records {
		pts := make(geometry.Stroke3D, len(r.Geometry))
		for j, a := range r.Geometry {
			pts[j] = geometry.Point3D{X: a[0], Y: a[1], Z: a[2]}
		}
		out[i] = pts
	}
	return out
}

func toArrays(s geometry.Stroke3D) [][3]float64 {
	out := make([][3]float64, len(s))
	for i, p := range s {
		out[i] = p.Array()
	}
	return out
}

// MarshalStrokes encodes records as indented JSON. An empty result encodes
// as [] rather than null.
func MarshalStrokes(records []StrokeRecord) ([]byte, error) {
	if records == nil {
		records = []StrokeRecord{}
	}
	for _, r := range records {
		for j, a := range r.Geometry {
			if !(geometry.Point3D{X: a[0], Y: a[1], Z: a[2]}).IsFinite() {
				return nil, fmt.Errorf("stroke %d point %d is not finite", r.StrokeIndex, j)
			}
		}
	}
	return json.MarshalIndent(records, "", "  ")
}

// WriteStrokes writes records to path.
func WriteStrokes(fsys fsutil.FileSystem, path string, records []StrokeRecord) error {
	data, err := MarshalStrokes(records)
	if err != nil {
		return fmt.Errorf("encode strokes: %w", err)
	}
	if err := fsys.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadStrokes reads a reconstructed_strokes.json file.
func ReadStrokes(fsys fsutil.FileSystem, path string) ([]StrokeRecord, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var records []StrokeRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return records, nil
}

