package export

import (
	"fmt"
	"image/color"
	"io"

	"github.com/banshee-data/sketchlift/internal/geometry"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Projection selects the world plane an orthographic preview is drawn on.
type Projection int

const (
	ProjectXY Projection = iota
	ProjectXZ
	ProjectYZ
)

func (p Projection) String() string {
	switch p {
	case ProjectXY:
		return "xy"
	case ProjectXZ:
		return "xz"
	case ProjectYZ:
		return "yz"
	}
	return fmt.Sprintf("Projection(%d)", int(p))
}

// ParseProjection maps "xy", "xz" or "yz" to a Projection.
func ParseProjection(s string) (Projection, error) {
	switch s {
	case "xy", "":
		return ProjectXY, nil
	case "xz":
		return ProjectXZ, nil
	case "yz":
		return ProjectYZ, nil
	}
	return ProjectXY, fmt.Errorf("unknown preview projection %q", s)
}

func (p Projection) axes() (h, v string) {
	switch p {
	case ProjectXZ:
		return "X", "Z"
	case ProjectYZ:
		return "Y", "Z"
	default:
		return "X", "Y"
	}
}

func (p Projection) flatten(pt geometry.Point3D) plotter.XY {
	switch p {
	case ProjectXZ:
		return plotter.XY{X: pt.X, Y: pt.Z}
	case ProjectYZ:
		return plotter.XY{X: pt.Y, Y: pt.Z}
	default:
		return plotter.XY{X: pt.X, Y: pt.Y}
	}
}

func (p Projection) span(b Bounds) (hMin, hMax, vMin, vMax float64) {
	lo, hi := p.flatten(b.Min), p.flatten(b.Max)
	return lo.X, hi.X, lo.Y, hi.Y
}

// Line is a stroke with a drawing opacity in [0, 1].
type Line struct {
	Points  geometry.Stroke3D
	Opacity float64
}

// Opaque wraps strokes as fully opaque lines.
func Opaque(strokes []geometry.Stroke3D) []Line {
	out := make([]Line, len(strokes))
	for i, s := range strokes {
		out[i] = Line{Points: s, Opacity: 1}
	}
	return out
}

// PreviewSize is the edge length of the square PNG preview.
const PreviewSize = 8 * vg.Inch

// RenderPreview draws lines projected onto proj as a square PNG. Axes span
// the bounding cube of all lines so the drawing is not distorted.
func RenderPreview(w io.Writer, lines []Line, proj Projection, title string) error {
	p := plot.New()
	p.Title.Text = title
	hName, vName := proj.axes()
	p.X.Label.Text = hName
	p.Y.Label.Text = vName
	p.Add(plotter.NewGrid())

	strokes := make([]geometry.Stroke3D, 0, len(lines))
	for i, ln := range lines {
		if len(ln.Points) < 2 {
			continue
		}
		strokes = append(strokes, ln.Points)
		xys := make(plotter.XYs, len(ln.Points))
		for j, pt := range ln.Points {
			xys[j] = proj.flatten(pt)
		}
		l, err := plotter.NewLine(xys)
		if err != nil {
			return fmt.Errorf("stroke %d: %w", i, err)
		}
		l.Width = vg.Points(0.8)
		l.Color = color.NRGBA{A: alpha(ln.Opacity)}
		p.Add(l)
	}

	if b, ok := BoundsOf(strokes); ok {
		p.X.Min, p.X.Max, p.Y.Min, p.Y.Max = proj.span(b.Cube())
	}

	wt, err := p.WriterTo(PreviewSize, PreviewSize, "png")
	if err != nil {
		return fmt.Errorf("render preview: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write preview: %w", err)
	}
	return nil
}

func alpha(opacity float64) uint8 {
	switch {
	case opacity <= 0:
		return 0
	case opacity >= 1:
		return 255
	}
	return uint8(opacity*255 + 0.5)
}
