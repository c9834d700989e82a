package export

import (
	"fmt"
	"io"

	"github.com/banshee-data/sketchlift/internal/geometry"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// HTMLOptions tunes the interactive view.
type HTMLOptions struct {
	Title    string
	Subtitle string
	// AssetsHost overrides where echarts.min.js is loaded from.
	AssetsHost string
}

// RenderHTML writes an echarts page drawing each line as its own Line3D
// series inside the bounding cube.
func RenderHTML(w io.Writer, lines []Line, o HTMLOptions) error {
	chart := BuildLine3D(lines, o)
	if err := chart.Render(w); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	return nil
}

// BuildLine3D assembles the chart RenderHTML draws, for callers that embed
// it in a larger page.
func BuildLine3D(lines []Line, o HTMLOptions) *charts.Line3D {
	initOpts := opts.Initialization{PageTitle: o.Title, Width: "900px", Height: "900px"}
	if o.AssetsHost != "" {
		initOpts.AssetsHost = o.AssetsHost
	}

	chart := charts.NewLine3D()
	global := []charts.GlobalOpts{
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: o.Title, Subtitle: o.Subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
	}

	var data [][]opts.Chart3DData
	var colors []string
	for _, ln := range lines {
		if len(ln.Points) < 2 {
			continue
		}
		d := make([]opts.Chart3DData, len(ln.Points))
		for j, p := range ln.Points {
			d[j] = opts.Chart3DData{Value: []interface{}{p.X, p.Y, p.Z}}
		}
		data = append(data, d)
		colors = append(colors, fmt.Sprintf("rgba(32,32,32,%.3f)", float64(alpha(ln.Opacity))/255))
	}

	strokes := make([]geometry.Stroke3D, len(lines))
	for i, ln := range lines {
		strokes[i] = ln.Points
	}
	if b, ok := BoundsOf(strokes); ok {
		c := b.Cube()
		global = append(global,
			charts.WithXAxis3DOpts(opts.XAxis3D{Name: "X", Min: c.Min.X, Max: c.Max.X}),
			charts.WithYAxis3DOpts(opts.YAxis3D{Name: "Y", Min: c.Min.Y, Max: c.Max.Y}),
			charts.WithZAxis3DOpts(opts.ZAxis3D{Name: "Z", Min: c.Min.Z, Max: c.Max.Z}),
		)
	}
	chart.SetGlobalOptions(global...)

	for i, d := range data {
		chart.AddSeries(fmt.Sprintf("stroke %d", i), d,
			charts.WithLineStyleOpts(opts.LineStyle{Color: colors[i]}),
		)
	}
	return chart
}
