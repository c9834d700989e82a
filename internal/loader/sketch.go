package loader

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/banshee-data/sketchlift/internal/geometry"
)

// Canvas is the drawing surface size recorded with a sketch.
type Canvas struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Sketch is a validated sketch file.
type Sketch struct {
	Canvas Canvas
	// Strokes holds the surviving strokes in file order.
	Strokes []geometry.Stroke2D
	// Indices[i] is the position of Strokes[i] in the file.
	Indices []int
	// Removed counts strokes flagged is_removed.
	Removed int
	// Empty counts strokes with no points.
	Empty int
}

type rawSketch struct {
	Canvas  *Canvas           `json:"canvas"`
	Strokes []json.RawMessage `json:"strokes"`
}

type rawStroke struct {
	Points    json.RawMessage `json:"points"`
	IsRemoved bool            `json:"is_removed"`
}

type rawPoint struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// ParseSketch decodes and validates a sketch file.
func ParseSketch(data []byte) (*Sketch, error) {
	var raw rawSketch
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, schemaErr("sketch", "decode: %v", err)
	}
	if raw.Canvas == nil {
		return nil, schemaErr("sketch", "missing canvas")
	}
	if raw.Canvas.Width <= 0 || raw.Canvas.Height <= 0 {
		return nil, schemaErr("sketch", "canvas must have positive size, got %gx%g", raw.Canvas.Width, raw.Canvas.Height)
	}
	if raw.Strokes == nil {
		return nil, schemaErr("sketch", "missing strokes")
	}

	sk := &Sketch{Canvas: *raw.Canvas}
	for i, msg := range raw.Strokes {
		if kind := jsonKind(msg); kind != '{' {
			return nil, schemaErr("sketch", "stroke %d is a JSON %s, want an object", i, kindName(kind))
		}
		var rs rawStroke
		if err := json.Unmarshal(msg, &rs); err != nil {
			return nil, schemaErr("sketch", "stroke %d: %v", i, err)
		}
		if rs.IsRemoved {
			sk.Removed++
			continue
		}
		if kind := jsonKind(rs.Points); kind != '[' {
			return nil, schemaErr("sketch", "stroke %d points is a JSON %s, want an array", i, kindName(kind))
		}
		pts, err := parsePoints(i, rs.Points)
		if err != nil {
			return nil, err
		}
		if len(pts) == 0 {
			sk.Empty++
			continue
		}
		sk.Strokes = append(sk.Strokes, pts)
		sk.Indices = append(sk.Indices, i)
	}
	return sk, nil
}

func parsePoints(stroke int, msg json.RawMessage) (geometry.Stroke2D, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, schemaErr("sketch", "stroke %d points: %v", stroke, err)
	}
	pts := make(geometry.Stroke2D, 0, len(raw))
	for j, pm := range raw {
		if kind := jsonKind(pm); kind != '{' {
			return nil, schemaErr("sketch", "stroke %d point %d is a JSON %s, want an object", stroke, j, kindName(kind))
		}
		var rp rawPoint
		if err := json.Unmarshal(pm, &rp); err != nil {
			return nil, schemaErr("sketch", "stroke %d point %d: %v", stroke, j, err)
		}
		if rp.X == nil || rp.Y == nil {
			return nil, schemaErr("sketch", "stroke %d point %d is missing x or y", stroke, j)
		}
		pts = append(pts, geometry.Point2D{X: *rp.X, Y: *rp.Y})
	}
	return pts, nil
}

// CheckSquare fails with geometry.ErrConfiguration when the canvas is not
// square. Calibrations are square, so a non-square sketch cannot be mapped
// onto the camera image without distorting it.
func (s *Sketch) CheckSquare() error {
	if s.Canvas.Width != s.Canvas.Height {
		return geometry.Errorf(geometry.ErrConfiguration, "loader",
			"sketch canvas is %gx%g, want a square canvas", s.Canvas.Width, s.Canvas.Height)
	}
	return nil
}

// Rescaled maps stroke points from canvas pixels to a square image of the
// given width, the size the camera was calibrated at. Both axes use one
// factor; a non-square canvas fails CheckSquare. Strokes are returned
// unchanged when the canvas already matches.
func (s *Sketch) Rescaled(width int) ([]geometry.Stroke2D, error) {
	if err := s.CheckSquare(); err != nil {
		return nil, err
	}
	k := float64(width) / s.Canvas.Width
	if k == 1 {
		return s.Strokes, nil
	}
	out := make([]geometry.Stroke2D, len(s.Strokes))
	for i, st := range s.Strokes {
		scaled := make(geometry.Stroke2D, len(st))
		for j, p := range st {
			scaled[j] = geometry.Point2D{X: p.X * k, Y: p.Y * k}
		}
		out[i] = scaled
	}
	return out, nil
}

// jsonKind returns the first significant byte of a JSON value, or 0.
func jsonKind(msg json.RawMessage) byte {
	b := bytes.TrimSpace(msg)
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

func kindName(k byte) string {
	switch k {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 'n':
		return "null"
	case 't', 'f':
		return "boolean"
	case 0:
		return "missing value"
	default:
		return "number"
	}
}

func schemaErr(record, format string, args ...interface{}) error {
	return geometry.Errorf(geometry.ErrSchema, "loader", "%s: %s", record, fmt.Sprintf(format, args...))
}
