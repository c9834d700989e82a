package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/sketchlift/internal/backproject"
	"github.com/banshee-data/sketchlift/internal/camera"
	"github.com/banshee-data/sketchlift/internal/config"
	"github.com/banshee-data/sketchlift/internal/export"
	"github.com/banshee-data/sketchlift/internal/fsutil"
	"github.com/banshee-data/sketchlift/internal/lift"
	"github.com/banshee-data/sketchlift/internal/loader"
	"github.com/banshee-data/sketchlift/internal/monitoring"
	"github.com/banshee-data/sketchlift/internal/plane"
	"github.com/banshee-data/sketchlift/internal/security"
	"github.com/banshee-data/sketchlift/internal/store"
)

// Output file names written next to reconstructed_strokes.json.
const (
	PreviewName = "preview.png"
	ViewName    = "view.html"
)

// Recorder persists finished runs. *store.Store satisfies it.
type Recorder interface {
	Insert(ctx context.Context, run *store.Run, strokes []store.StrokeResult) error
}

// Runner reconstructs dataset entries.
type Runner struct {
	fsys      fsutil.FileSystem
	cfg       *config.ReconstructConfig
	recorder  Recorder
	outputDir string
	preview   bool
	html      bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithRecorder stores every finished run.
func WithRecorder(r Recorder) Option {
	return func(rn *Runner) { rn.recorder = r }
}

// WithOutputDir writes outputs under dir/<entry> instead of the entry's
// own folder.
func WithOutputDir(dir string) Option {
	return func(rn *Runner) { rn.outputDir = dir }
}

// WithPreview toggles preview.png.
func WithPreview(on bool) Option {
	return func(rn *Runner) { rn.preview = on }
}

// WithHTML toggles view.html.
func WithHTML(on bool) Option {
	return func(rn *Runner) { rn.html = on }
}

// NewRunner returns a Runner reading and writing through fsys. A nil cfg
// uses the built-in defaults.
func NewRunner(fsys fsutil.FileSystem, cfg *config.ReconstructConfig, opts ...Option) *Runner {
	if cfg == nil {
		cfg = config.EmptyReconstructConfig()
	}
	r := &Runner{fsys: fsys, cfg: cfg, preview: true, html: true}
	for _, fn := range opts {
		fn(r)
	}
	return r
}

// EntryResult is the outcome of one entry.
type EntryResult struct {
	Entry Entry
	Fit   plane.Fit
	Lift  lift.Result
	// Records are the strokes as written to the output file.
	Records []export.StrokeRecord
	// Short counts strokes dropped for having too few points.
	Short int
	// Removed and Empty are the loader's filtered stroke counts.
	Removed, Empty int
	Outputs        []string
	// RunID is set when a Recorder stored the run.
	RunID string
}

// ReconstructEntry runs the full pipeline for e. Camera, plane and
// abort_all failures are returned; per-point failures are in the result.
func (r *Runner) ReconstructEntry(ctx context.Context, e Entry) (*EntryResult, error) {
	cal, err := loader.ReadCalibration(r.fsys, e.CameraPath)
	if err != nil {
		return nil, err
	}
	cam, err := camera.New(cal)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.CameraPath, err)
	}

	corr, err := loader.ReadCorrespondence(r.fsys, e.CorrespondencePath)
	if err != nil {
		return nil, err
	}
	fit, err := plane.FitCorrespondence(corr, r.cfg.PlaneOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.CorrespondencePath, err)
	}

	bp, err := backproject.New(cam.P(), r.cfg.BackprojectOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.CameraPath, err)
	}

	sk, err := loader.ReadSketch(r.fsys, e.SketchPath)
	if err != nil {
		return nil, err
	}
	if err := sk.CheckSquare(); err != nil {
		return nil, fmt.Errorf("%s: %w", e.SketchPath, err)
	}
	strokes := sk.Strokes
	if r.cfg.GetRescaleCanvas() {
		if strokes, err = sk.Rescaled(cam.Intrinsics().Width); err != nil {
			return nil, fmt.Errorf("%s: %w", e.SketchPath, err)
		}
	}

	kept, keptIdx := lift.FilterStrokes(strokes, r.cfg.GetMinStrokePoints())
	source := make([]int, len(kept))
	for i, k := range keptIdx {
		source[i] = sk.Indices[k]
	}

	res, err := lift.New(bp, fit.Plane, r.cfg.LiftOptions()...).Lift(ctx, kept)
	if err != nil {
		var pf *lift.PointFailure
		if errors.As(err, &pf) {
			return nil, fmt.Errorf("%s: stroke %d point %d: %w", e.Name, source[pf.StrokeIndex], pf.PointIndex, pf.Err)
		}
		return nil, err
	}

	out := &EntryResult{
		Entry:   e,
		Fit:     fit,
		Lift:    res,
		Records: export.Records(res, source),
		Short:   len(strokes) - len(kept),
		Removed: sk.Removed,
		Empty:   sk.Empty,
	}
	for _, f := range res.Failures {
		monitoring.Logf("dataset: %s: stroke %d point %d: %v", e.Name, source[f.StrokeIndex], f.PointIndex, f.Err)
	}

	if err := r.writeOutputs(e, out); err != nil {
		return nil, err
	}
	if r.recorder != nil {
		if err := r.record(ctx, out, len(kept), source); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Runner) entryOutputDir(e Entry) (string, error) {
	if r.outputDir == "" {
		return e.Dir, nil
	}
	dir := filepath.Join(r.outputDir, e.Name)
	if err := security.WithinRoot(dir, r.outputDir); err != nil {
		return "", err
	}
	if err := r.fsys.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

func (r *Runner) writeOutputs(e Entry, res *EntryResult) error {
	dir, err := r.entryOutputDir(e)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, r.cfg.GetOutputName())
	if err := export.WriteStrokes(r.fsys, path, res.Records); err != nil {
		return err
	}
	res.Outputs = append(res.Outputs, path)

	lines := export.Opaque(export.Geometry(res.Records))
	title := fmt.Sprintf("%s: %d strokes", e.Name, len(res.Records))

	if r.preview {
		proj, err := export.ParseProjection(r.cfg.GetPreviewProjection())
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := export.RenderPreview(&buf, lines, proj, title); err != nil {
			return fmt.Errorf("%s: %w", e.Name, err)
		}
		p := filepath.Join(dir, PreviewName)
		if err := r.fsys.WriteFile(p, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
		res.Outputs = append(res.Outputs, p)
	}

	if r.html {
		var buf bytes.Buffer
		sub := fmt.Sprintf("plane %.4gx %+.4gy %+.4gz %+.4g = 0", res.Fit.Plane.A, res.Fit.Plane.B, res.Fit.Plane.C, res.Fit.Plane.D)
		if err := export.RenderHTML(&buf, lines, export.HTMLOptions{Title: title, Subtitle: sub}); err != nil {
			return fmt.Errorf("%s: %w", e.Name, err)
		}
		p := filepath.Join(dir, ViewName)
		if err := r.fsys.WriteFile(p, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
		res.Outputs = append(res.Outputs, p)
	}
	return nil
}

func (r *Runner) record(ctx context.Context, res *EntryResult, lifted int, source []int) error {
	params, err := json.Marshal(r.cfg)
	if err != nil {
		return fmt.Errorf("encode run params: %w", err)
	}

	failed := make(map[int][]lift.PointFailure)
	for _, f := range res.Lift.Failures {
		failed[f.StrokeIndex] = append(failed[f.StrokeIndex], f)
	}
	got := make(map[int]lift.Stroke, len(res.Lift.Strokes))
	for _, s := range res.Lift.Strokes {
		got[s.Index] = s
	}

	results := make([]store.StrokeResult, 0, lifted)
	for i := 0; i < lifted; i++ {
		sr := store.StrokeResult{StrokeIndex: source[i], Status: store.StatusLifted}
		if s, ok := got[i]; ok {
			sr.PointCount = len(s.Points)
			sr.Geometry = make([][3]float64, len(s.Points))
			for j, p := range s.Points {
				sr.Geometry[j] = p.Array()
			}
		}
		if fs := failed[i]; len(fs) > 0 {
			sr.Status = store.StatusPartial
			if _, ok := got[i]; !ok {
				sr.Status = store.StatusFailed
			}
			sr.FailureReason = fmt.Sprintf("point %d: %v", fs[0].PointIndex, fs[0].Err)
		}
		results = append(results, sr)
	}

	run := &store.Run{
		Entry:        res.Entry.Name,
		Plane:        res.Fit.Plane,
		Residual:     res.Fit.Residual,
		StrokeCount:  lifted,
		LiftedCount:  len(res.Lift.Strokes),
		FailureCount: len(res.Lift.Failures),
		Params:       params,
	}
	if err := r.recorder.Insert(ctx, run, results); err != nil {
		return fmt.Errorf("record run for %s: %w", res.Entry.Name, err)
	}
	res.RunID = run.ID
	return nil
}

// Summary reports a whole dataset run.
type Summary struct {
	Results []*EntryResult
	// Failed maps entry names to the error that stopped them.
	Failed map[string]error
}

// Run discovers and reconstructs every entry under root. An entry's
// failure is logged and recorded in Summary.Failed; the remaining entries
// still run. Only discovery errors and cancellation are returned.
func (r *Runner) Run(ctx context.Context, root string) (*Summary, error) {
	entries, err := Discover(r.fsys, root, r.cfg)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Failed: make(map[string]error)}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := r.ReconstructEntry(ctx, e)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			monitoring.Logf("dataset: %s failed: %v", e.Name, err)
			sum.Failed[e.Name] = err
			continue
		}
		monitoring.Logf("dataset: %s: lifted %d strokes (%d failures) to %s",
			e.Name, len(res.Records), len(res.Lift.Failures), res.Outputs[0])
		sum.Results = append(sum.Results, res)
	}
	return sum, nil
}
