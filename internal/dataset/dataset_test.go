package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/banshee-data/sketchlift/internal/camera"
	"github.com/banshee-data/sketchlift/internal/config"
	"github.com/banshee-data/sketchlift/internal/export"
	"github.com/banshee-data/sketchlift/internal/fsutil"
	"github.com/banshee-data/sketchlift/internal/geometry"
	"github.com/banshee-data/sketchlift/internal/lift"
	"github.com/banshee-data/sketchlift/internal/monitoring"
	"github.com/banshee-data/sketchlift/internal/plane"
	"github.com/banshee-data/sketchlift/internal/security"
	"github.com/banshee-data/sketchlift/internal/store"
	"github.com/banshee-data/sketchlift/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const canvasSize = 972.0

func obliqueCalibration() camera.Calibration {
	return testutil.Calibration(500, 691, testutil.ModelView(0.35, -0.2, geometry.Point3D{X: 0.1, Y: -0.2, Z: 5}))
}

// groundTruth are strokes on the z=0 plane.
var groundTruth = []geometry.Stroke3D{
	{{X: -0.5, Y: -0.5}, {X: 0, Y: -0.4}, {X: 0.5, Y: -0.3}},
	{{X: 0.2, Y: 0.4}, {X: 0.3, Y: 0.5}},
}

type sketchPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type sketchStroke struct {
	Points    []sketchPoint `json:"points"`
	IsRemoved bool          `json:"is_removed"`
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// writeEntry lays out a complete entry whose sketch is groundTruth seen
// through cal, drawn on a canvasSize canvas. File order: truth[0], a removed
// stroke, a one-point stroke, truth[1].
func writeEntry(t *testing.T, fsys *fsutil.MemoryFileSystem, dir string, cal camera.Calibration) {
	t.Helper()
	cam, err := camera.New(cal)
	require.NoError(t, err)

	scale := canvasSize / float64(cal.Width)
	project := func(s geometry.Stroke3D) []sketchPoint {
		out := make([]sketchPoint, len(s))
		for i, p := range s {
			px, err := cam.Project(p)
			require.NoError(t, err)
			out[i] = sketchPoint{X: px.X * scale, Y: px.Y * scale}
		}
		return out
	}

	sketch := map[string]interface{}{
		"canvas": map[string]float64{"width": canvasSize, "height": canvasSize},
		"strokes": []sketchStroke{
			{Points: project(groundTruth[0])},
			{Points: []sketchPoint{{X: 1, Y: 2}, {X: 3, Y: 4}}, IsRemoved: true},
			{Points: []sketchPoint{{X: 10, Y: 10}}},
			{Points: project(groundTruth[1])},
		},
	}
	corr := map[string]interface{}{
		"points_2D_sketch": [][]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}},
		"points_3D_object": [][]float64{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0}},
	}

	require.NoError(t, fsys.WriteFile(filepath.Join(dir, "view1_concept.json"), mustJSON(t, sketch), 0o644))
	require.NoError(t, fsys.WriteFile(filepath.Join(dir, "Professional1_vacuum_view1_camparam.json"), testutil.CalibrationJSON(t, cal), 0o644))
	require.NoError(t, fsys.WriteFile(filepath.Join(dir, "professional1_vacuum_v1_points.json"), mustJSON(t, corr), 0o644))
}

type fakeRecorder struct {
	runs    []*store.Run
	strokes [][]store.StrokeResult
	err     error
}

func (f *fakeRecorder) Insert(_ context.Context, run *store.Run, strokes []store.StrokeResult) error {
	if f.err != nil {
		return f.err
	}
	run.ID = "run-1"
	f.runs = append(f.runs, run)
	f.strokes = append(f.strokes, strokes)
	return nil
}

func quiet(t *testing.T) *[]string {
	t.Helper()
	lines, restore := monitoring.Capture()
	t.Cleanup(restore)
	return lines
}

func TestDiscover(t *testing.T) {
	logs := quiet(t)
	fsys := fsutil.NewMemoryFileSystem()
	writeEntry(t, fsys, "/dataset/vacuum", obliqueCalibration())
	require.NoError(t, fsys.WriteFile("/dataset/partial/view1_concept.json", []byte("{}"), 0o644))
	require.NoError(t, fsys.WriteFile("/dataset/README.md", []byte("x"), 0o644))
	// A second sketch view; the first by name wins.
	require.NoError(t, fsys.WriteFile("/dataset/vacuum/view2_concept.json", []byte("{}"), 0o644))

	entries, err := Discover(fsys, "/dataset", config.EmptyReconstructConfig())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "vacuum", e.Name)
	assert.Equal(t, "/dataset/vacuum/view1_concept.json", e.SketchPath)
	assert.Equal(t, "/dataset/vacuum/Professional1_vacuum_view1_camparam.json", e.CameraPath)
	assert.Equal(t, "/dataset/vacuum/professional1_vacuum_v1_points.json", e.CorrespondencePath)

	joined := ""
	for _, l := range *logs {
		joined += l + "\n"
	}
	assert.Contains(t, joined, "skipping partial")
	assert.Contains(t, joined, "using view1_concept.json")

	_, err = Discover(fsys, "/missing", config.EmptyReconstructConfig())
	assert.Error(t, err)
}

func TestResolveEntry(t *testing.T) {
	quiet(t)
	fsys := fsutil.NewMemoryFileSystem()
	writeEntry(t, fsys, "/dataset/vacuum", obliqueCalibration())
	cfg := config.EmptyReconstructConfig()

	e, err := ResolveEntry(fsys, "/dataset", "vacuum", cfg)
	require.NoError(t, err)
	assert.Equal(t, "/dataset/vacuum", e.Dir)

	_, err = ResolveEntry(fsys, "/dataset", "../etc", cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, security.ErrPathTraversal))
}

func TestReconstructEntryRecoversGroundTruth(t *testing.T) {
	quiet(t)
	fsys := fsutil.NewMemoryFileSystem()
	writeEntry(t, fsys, "/dataset/vacuum", obliqueCalibration())
	rec := &fakeRecorder{}

	r := NewRunner(fsys, nil, WithRecorder(rec))
	e, err := ResolveEntry(fsys, "/dataset", "vacuum", config.EmptyReconstructConfig())
	require.NoError(t, err)

	res, err := r.ReconstructEntry(context.Background(), e)
	require.NoError(t, err)

	assert.InDelta(t, 0, res.Fit.Plane.A, 1e-9)
	assert.InDelta(t, 0, res.Fit.Plane.B, 1e-9)
	assert.InDelta(t, 0, res.Fit.Plane.D, 1e-9)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 1, res.Short)
	assert.Empty(t, res.Lift.Failures)

	require.Len(t, res.Records, 2)
	assert.Equal(t, 0, res.Records[0].StrokeIndex)
	assert.Equal(t, 3, res.Records[1].StrokeIndex)
	for i, got := range export.Geometry(res.Records) {
		require.Len(t, got, len(groundTruth[i]))
		for j := range got {
			testutil.AssertPointNear(t, groundTruth[i][j], got[j], 1e-6)
		}
	}

	onDisk, err := export.ReadStrokes(fsys, "/dataset/vacuum/reconstructed_strokes.json")
	require.NoError(t, err)
	assert.Equal(t, res.Records, onDisk)

	png, err := fsys.ReadFile("/dataset/vacuum/" + PreviewName)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
	html, err := fsys.ReadFile("/dataset/vacuum/" + ViewName)
	require.NoError(t, err)
	assert.Contains(t, string(html), "line3D")
	assert.Len(t, res.Outputs, 3)

	require.Len(t, rec.runs, 1)
	assert.Equal(t, "run-1", res.RunID)
	run := rec.runs[0]
	assert.Equal(t, "vacuum", run.Entry)
	assert.Equal(t, 2, run.StrokeCount)
	assert.Equal(t, 2, run.LiftedCount)
	assert.Equal(t, 0, run.FailureCount)
	assert.JSONEq(t, `{}`, string(run.Params))
	require.Len(t, rec.strokes[0], 2)
	assert.Equal(t, store.StatusLifted, rec.strokes[0][1].Status)
	assert.Equal(t, 3, rec.strokes[0][1].StrokeIndex)
	assert.Equal(t, 2, rec.strokes[0][1].PointCount)
}

func TestReconstructEntryWithoutRescale(t *testing.T) {
	quiet(t)
	fsys := fsutil.NewMemoryFileSystem()
	writeEntry(t, fsys, "/dataset/vacuum", obliqueCalibration())

	cfg, err := config.ParseReconstructConfig([]byte(`{"rescale_canvas": false, "output_name": "raw.json"}`))
	require.NoError(t, err)
	r := NewRunner(fsys, cfg, WithPreview(false), WithHTML(false), WithOutputDir("/out"))
	e, err := ResolveEntry(fsys, "/dataset", "vacuum", cfg)
	require.NoError(t, err)

	res, err := r.ReconstructEntry(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, []string{"/out/vacuum/raw.json"}, res.Outputs)

	// Canvas pixels fed straight to a 691 pixel camera land elsewhere.
	got := export.Geometry(res.Records)[0][0]
	assert.Greater(t, got.Distance(groundTruth[0][0]), 1e-3)

	_, err = fsys.Stat("/dataset/vacuum/" + PreviewName)
	assert.Error(t, err)
}

func TestRunCollectsEntryFailures(t *testing.T) {
	quiet(t)
	fsys := fsutil.NewMemoryFileSystem()
	writeEntry(t, fsys, "/dataset/vacuum", obliqueCalibration())

	nonSquare := obliqueCalibration()
	nonSquare.Height = 480
	writeEntry(t, fsys, "/dataset/wide", obliqueCalibration())
	require.NoError(t, fsys.WriteFile("/dataset/wide/Professional1_vacuum_view1_camparam.json", testutil.CalibrationJSON(t, nonSquare), 0o644))

	writeEntry(t, fsys, "/dataset/flat", obliqueCalibration())
	collinear := `{"points_2D_sketch": [[0,0],[1,1],[2,2]], "points_3D_object": [[0,0,0],[1,1,1],[2,2,2]]}`
	require.NoError(t, fsys.WriteFile("/dataset/flat/professional1_vacuum_v1_points.json", []byte(collinear), 0o644))

	sum, err := NewRunner(fsys, nil, WithPreview(false), WithHTML(false)).Run(context.Background(), "/dataset")
	require.NoError(t, err)

	require.Len(t, sum.Results, 1)
	assert.Equal(t, "vacuum", sum.Results[0].Entry.Name)
	require.Len(t, sum.Failed, 2)
	assert.True(t, errors.Is(sum.Failed["wide"], geometry.ErrConfiguration), "wide: %v", sum.Failed["wide"])
	assert.True(t, errors.Is(sum.Failed["flat"], geometry.ErrDegenerateGeometry), "flat: %v", sum.Failed["flat"])

	_, err = fsys.Stat("/dataset/wide/reconstructed_strokes.json")
	assert.Error(t, err, "no output for a failed entry")
}

func TestReconstructEntryRejectsNonSquareCanvas(t *testing.T) {
	quiet(t)
	fsys := fsutil.NewMemoryFileSystem()
	writeEntry(t, fsys, "/dataset/landscape", obliqueCalibration())
	landscape := `{"canvas": {"width": 800, "height": 600}, "strokes": [{"points": [{"x": 800, "y": 600}, {"x": 400, "y": 300}]}]}`
	require.NoError(t, fsys.WriteFile("/dataset/landscape/view1_concept.json", []byte(landscape), 0o644))

	for _, body := range []string{`{}`, `{"rescale_canvas": false}`} {
		cfg, err := config.ParseReconstructConfig([]byte(body))
		require.NoError(t, err)
		e, err := ResolveEntry(fsys, "/dataset", "landscape", cfg)
		require.NoError(t, err)

		_, err = NewRunner(fsys, cfg, WithPreview(false), WithHTML(false)).ReconstructEntry(context.Background(), e)
		require.Error(t, err, body)
		assert.True(t, errors.Is(err, geometry.ErrConfiguration), "%s: %v", body, err)
		assert.Contains(t, err.Error(), "800x600")
	}

	_, err := fsys.Stat("/dataset/landscape/reconstructed_strokes.json")
	assert.Error(t, err, "no output for a non-square sketch")
}

func TestRunCancelled(t *testing.T) {
	quiet(t)
	fsys := fsutil.NewMemoryFileSystem()
	writeEntry(t, fsys, "/dataset/vacuum", obliqueCalibration())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRunner(fsys, nil).Run(ctx, "/dataset")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecorderErrorFailsEntry(t *testing.T) {
	quiet(t)
	fsys := fsutil.NewMemoryFileSystem()
	writeEntry(t, fsys, "/dataset/vacuum", obliqueCalibration())
	rec := &fakeRecorder{err: errors.New("disk full")}

	sum, err := NewRunner(fsys, nil, WithRecorder(rec), WithPreview(false), WithHTML(false)).Run(context.Background(), "/dataset")
	require.NoError(t, err)
	require.Contains(t, sum.Failed, "vacuum")
	assert.Contains(t, sum.Failed["vacuum"].Error(), "disk full")
}

func TestRecordStrokeStatuses(t *testing.T) {
	rec := &fakeRecorder{}
	r := NewRunner(fsutil.NewMemoryFileSystem(), nil, WithRecorder(rec))

	parallel := geometry.Errorf(geometry.ErrParallelRay, "backproject", "ray (0, 0, 1)")
	res := &EntryResult{
		Entry: Entry{Name: "vacuum"},
		Fit:   plane.Fit{Plane: plane.Plane{C: 1}},
		Lift: lift.Result{
			Strokes: []lift.Stroke{
				{Index: 0, Points: geometry.Stroke3D{{X: 1}, {X: 2}}},
				{Index: 2, Points: geometry.Stroke3D{{Y: 1}}},
			},
			Failures: []lift.PointFailure{
				{StrokeIndex: 1, PointIndex: 0, Err: parallel},
				{StrokeIndex: 2, PointIndex: 1, Err: parallel},
			},
		},
	}

	require.NoError(t, r.record(context.Background(), res, 3, []int{4, 6, 9}))
	require.Len(t, rec.strokes, 1)
	got := rec.strokes[0]
	require.Len(t, got, 3)

	assert.Equal(t, store.StrokeResult{StrokeIndex: 4, Status: store.StatusLifted, PointCount: 2, Geometry: [][3]float64{{1, 0, 0}, {2, 0, 0}}}, got[0])
	assert.Equal(t, 6, got[1].StrokeIndex)
	assert.Equal(t, store.StatusFailed, got[1].Status)
	assert.Zero(t, got[1].PointCount)
	assert.Contains(t, got[1].FailureReason, "point 0: backproject: ray parallel to plane")
	assert.Equal(t, store.StatusPartial, got[2].Status)
	assert.Equal(t, 1, got[2].PointCount)

	run := rec.runs[0]
	assert.Equal(t, 3, run.StrokeCount)
	assert.Equal(t, 2, run.LiftedCount)
	assert.Equal(t, 2, run.FailureCount)
}

func TestRunWithSQLiteStore(t *testing.T) {
	quiet(t)
	fsys := fsutil.NewMemoryFileSystem()
	writeEntry(t, fsys, "/dataset/vacuum", obliqueCalibration())

	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	sum, err := NewRunner(fsys, config.DefaultReconstructConfig(), WithRecorder(st), WithPreview(false), WithHTML(false)).Run(ctx, "/dataset")
	require.NoError(t, err)
	require.Len(t, sum.Results, 1)

	run, err := st.Get(ctx, sum.Results[0].RunID)
	require.NoError(t, err)
	assert.Equal(t, "vacuum", run.Entry)
	assert.Contains(t, string(run.Params), `"failure_policy":"abort_stroke"`)

	strokes, err := st.Strokes(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, strokes, 2)
	assert.Equal(t, 3, strokes[1].StrokeIndex)
}
