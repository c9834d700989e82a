// Package opacity annotates bootstrapped stroke batches with a line
// category and a random drawing opacity.
package opacity

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"path/filepath"

	"github.com/banshee-data/sketchlift/internal/export"
	"github.com/banshee-data/sketchlift/internal/fsutil"
	"github.com/banshee-data/sketchlift/internal/geometry"
	"github.com/banshee-data/sketchlift/internal/monitoring"
	"github.com/banshee-data/sketchlift/internal/security"
)

const (
	// InputName is the per-entry batch file read by ProcessDataset.
	InputName = "batches_results_bootstrapped.json"
	// OutputName is the per-entry annotated file it writes.
	OutputName = "perturbed_all_lines.json"
)

// Category classifies an annotated line.
type Category int

const (
	FeatureLine Category = iota
	ConstructionLine
)

func (c Category) String() string {
	switch c {
	case FeatureLine:
		return "feature_line"
	case ConstructionLine:
		return "construction_line"
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// MarshalText encodes the category by name.
func (c Category) MarshalText() ([]byte, error) {
	switch c {
	case FeatureLine, ConstructionLine:
		return []byte(c.String()), nil
	}
	return nil, fmt.Errorf("unknown line category %d", int(c))
}

// UnmarshalText decodes a category name.
func (c *Category) UnmarshalText(b []byte) error {
	switch string(b) {
	case "feature_line":
		*c = FeatureLine
	case "construction_line":
		*c = ConstructionLine
	default:
		return fmt.Errorf("unknown line category %q", b)
	}
	return nil
}

// Range returns the closed opacity interval for c.
func Range(c Category) (lo, hi float64) {
	if c == ConstructionLine {
		return 0.05, 0.1
	}
	return 0.2, 0.4
}

// Draw returns a uniform sample in [0, 1).
type Draw func() float64

// NewDraw returns a Draw backed by a PCG source seeded with seed.
func NewDraw(seed uint64) Draw {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return r.Float64
}

// Opacity maps a draw into c's range.
func Opacity(c Category, draw Draw) float64 {
	lo, hi := Range(c)
	return lo + draw()*(hi-lo)
}

// Batch is one bootstrapped result. Stroke points pass through untouched.
type Batch struct {
	FixedStrokes [][][]float64 `json:"fixed_strokes"`
	FinalProxies [][][]float64 `json:"final_proxies"`
}

// AnnotatedLine is one entry of perturbed_all_lines.json.
type AnnotatedLine struct {
	Type      Category    `json:"type"`
	FeatureID int         `json:"feature_id"`
	Geometry  [][]float64 `json:"geometry"`
	Opacity   float64     `json:"opacity"`
}

// ParseBatches decodes a bootstrapped batch file.
func ParseBatches(data []byte) ([]Batch, error) {
	var batches []Batch
	if err := json.Unmarshal(data, &batches); err != nil {
		return nil, geometry.Errorf(geometry.ErrSchema, "opacity", "decode batches: %v", err)
	}
	return batches, nil
}

// Annotate turns batches into lines: fixed strokes become feature lines
// and final proxies construction lines. Strokes under two points are
// skipped. Within each batch feature lines come first.
func Annotate(batches []Batch, draw Draw) []AnnotatedLine {
	var out []AnnotatedLine
	add := func(c Category, strokes [][][]float64) {
		for _, s := range strokes {
			if len(s) < 2 {
				continue
			}
			out = append(out, AnnotatedLine{Type: c, Geometry: s, Opacity: Opacity(c, draw)})
		}
	}
	for _, b := range batches {
		add(FeatureLine, b.FixedStrokes)
		add(ConstructionLine, b.FinalProxies)
	}
	return out
}

// Lines converts annotated lines for rendering. Points that are not
// 3-vectors are dropped.
func Lines(lines []AnnotatedLine) []export.Line {
	out := make([]export.Line, 0, len(lines))
	for _, l := range lines {
		pts := make(geometry.Stroke3D, 0, len(l.Geometry))
		for _, p := range l.Geometry {
			if len(p) == 3 {
				pts = append(pts, geometry.Point3D{X: p[0], Y: p[1], Z: p[2]})
			}
		}
		out = append(out, export.Line{Points: pts, Opacity: l.Opacity})
	}
	return out
}

// EntryResult reports what ProcessDataset did for one entry.
type EntryResult struct {
	Entry string
	Lines []AnnotatedLine
	// Written is false when the entry produced no lines.
	Written bool
}

// ProcessDataset annotates every sub-folder of root holding InputName and
// writes OutputName next to it. Folders without the input are skipped; a
// malformed input fails the whole call.
func ProcessDataset(ctx context.Context, fsys fsutil.FileSystem, root string, draw Draw) ([]EntryResult, error) {
	entries, err := fsys.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}

	var results []EntryResult
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if err := security.WithinRoot(dir, root); err != nil {
			return results, err
		}
		in := filepath.Join(dir, InputName)
		if info, err := fsys.Stat(in); err != nil || info.IsDir() {
			continue
		}

		data, err := fsys.ReadFile(in)
		if err != nil {
			return results, fmt.Errorf("read %s: %w", in, err)
		}
		batches, err := ParseBatches(data)
		if err != nil {
			return results, fmt.Errorf("%s: %w", in, err)
		}

		res := EntryResult{Entry: e.Name(), Lines: Annotate(batches, draw)}
		if len(res.Lines) > 0 {
			out, err := json.MarshalIndent(res.Lines, "", "  ")
			if err != nil {
				return results, fmt.Errorf("encode %s: %w", e.Name(), err)
			}
			path := filepath.Join(dir, OutputName)
			if err := fsys.WriteFile(path, out, 0o644); err != nil {
				return results, fmt.Errorf("write %s: %w", path, err)
			}
			res.Written = true
			monitoring.Logf("Saved %d lines with opacity to %s", len(res.Lines), path)
		}
		results = append(results, res)
	}
	return results, nil
}
