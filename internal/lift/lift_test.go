package lift

import (
	"context"
	"errors"
	"testing"

	"github.com/banshee-data/sketchlift/internal/backproject"
	"github.com/banshee-data/sketchlift/internal/camera"
	"github.com/banshee-data/sketchlift/internal/geometry"
	"github.com/banshee-data/sketchlift/internal/plane"
	"github.com/banshee-data/sketchlift/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frontCamera sits at (0, 0, -5) looking down +z. Against the wall x = 1
// its principal ray is parallel, so the pixel (cx, cy) always fails.
func frontCamera(t *testing.T) (*camera.Model, *backproject.Backprojector) {
	t.Helper()
	m, err := camera.New(testutil.Calibration(500, 691, testutil.ModelView(0, 0, geometry.Point3D{Z: 5})))
	require.NoError(t, err)
	bp, err := backproject.New(m.P())
	require.NoError(t, err)
	return m, bp
}

var wall = plane.Plane{A: 1, B: 0, C: 0, D: -1}

const c = 345.5

func TestLiftPreservesStructure(t *testing.T) {
	m := testutil.ObliqueCamera(t)
	bp, err := backproject.New(m.P())
	require.NoError(t, err)
	floor := plane.Plane{C: 1}

	// Build strokes by projecting known floor points.
	var want [][]geometry.Point3D
	var strokes []geometry.Stroke2D
	for s := 0; s < 20; s++ {
		var pts3 []geometry.Point3D
		var pts2 geometry.Stroke2D
		for k := 0; k < 2+s%5; k++ {
			p := geometry.Point3D{X: 0.1*float64(k) - 0.5, Y: 0.05*float64(s) - 0.4}
			px, err := m.Project(p)
			require.NoError(t, err)
			pts3 = append(pts3, p)
			pts2 = append(pts2, px)
		}
		want = append(want, pts3)
		strokes = append(strokes, pts2)
	}

	for _, workers := range []int{1, 4, 0} {
		res, err := New(bp, floor, WithWorkers(workers)).Lift(context.Background(), strokes)
		require.NoError(t, err)
		require.Empty(t, res.Failures)
		require.Len(t, res.Strokes, len(strokes))

		for i, s := range res.Strokes {
			assert.Equal(t, i, s.Index)
			require.Len(t, s.Points, len(strokes[i]))
			assert.Nil(t, s.Valid)
			for j := range s.Points {
				testutil.AssertPointNear(t, want[i][j], s.Points[j], 1e-6)
			}
		}
		assert.Len(t, res.Geometry(), len(strokes))
	}
}

func failingStrokes() []geometry.Stroke2D {
	return []geometry.Stroke2D{
		{{X: c + 100, Y: c}, {X: c + 50, Y: c + 10}},
		{{X: c + 100, Y: c}, {X: c, Y: c}, {X: c + 25, Y: c}},
		{{X: c, Y: c}, {X: c, Y: c}},
		{{X: c + 20, Y: c - 20}, {X: c + 30, Y: c - 20}},
	}
}

func TestPolicyAbortStroke(t *testing.T) {
	_, bp := frontCamera(t)
	res, err := New(bp, wall).Lift(context.Background(), failingStrokes())
	require.NoError(t, err)

	require.Len(t, res.Strokes, 2)
	assert.Equal(t, 0, res.Strokes[0].Index)
	assert.Equal(t, 3, res.Strokes[1].Index)

	require.Len(t, res.Failures, 2)
	assert.Equal(t, 1, res.Failures[0].StrokeIndex)
	assert.Equal(t, 1, res.Failures[0].PointIndex)
	assert.Equal(t, 2, res.Failures[1].StrokeIndex)
	assert.Equal(t, 0, res.Failures[1].PointIndex)
	assert.True(t, errors.Is(&res.Failures[0], geometry.ErrParallelRay))
}

func TestPolicyDropPoint(t *testing.T) {
	_, bp := frontCamera(t)
	res, err := New(bp, wall, WithPolicy(PolicyDropPoint)).Lift(context.Background(), failingStrokes())
	require.NoError(t, err)

	// Stroke 2 loses every point and disappears.
	require.Len(t, res.Strokes, 3)
	assert.Equal(t, []int{0, 1, 3}, []int{res.Strokes[0].Index, res.Strokes[1].Index, res.Strokes[2].Index})
	assert.Len(t, res.Strokes[1].Points, 2)
	assert.Len(t, res.Failures, 3)
	for _, s := range res.Strokes {
		for _, p := range s.Points {
			assert.InDelta(t, 1, p.X, 1e-9)
		}
	}
}

func TestPolicyDropPointMinPoints(t *testing.T) {
	_, bp := frontCamera(t)
	// The second point fails, leaving a single lifted point.
	strokes := []geometry.Stroke2D{{{X: c + 100, Y: c}, {X: c, Y: c}}}

	res, err := New(bp, wall, WithPolicy(PolicyDropPoint)).Lift(context.Background(), strokes)
	require.NoError(t, err)
	assert.Empty(t, res.Strokes, "a one-point remainder is below the default minimum")
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].PointIndex)

	res, err = New(bp, wall, WithPolicy(PolicyDropPoint), WithMinPoints(1)).Lift(context.Background(), strokes)
	require.NoError(t, err)
	require.Len(t, res.Strokes, 1)
	assert.Len(t, res.Strokes[0].Points, 1)
	assert.Len(t, res.Failures, 1)
}

func TestPolicySentinel(t *testing.T) {
	_, bp := frontCamera(t)
	sentinel := geometry.Point3D{X: -999}
	res, err := New(bp, wall, WithPolicy(PolicySentinel), WithSentinel(sentinel)).Lift(context.Background(), failingStrokes())
	require.NoError(t, err)

	require.Len(t, res.Strokes, 4)
	s := res.Strokes[1]
	require.Len(t, s.Points, 3)
	assert.Equal(t, []bool{true, false, true}, s.Valid)
	assert.Equal(t, sentinel, s.Points[1])
	assert.True(t, s.Points[0].IsFinite())
	assert.Len(t, res.Failures, 3)
}

func TestPolicyAbortAll(t *testing.T) {
	_, bp := frontCamera(t)
	l := New(bp, wall, WithPolicy(PolicyAbortAll), WithWorkers(3))
	assert.Equal(t, PolicyAbortAll, l.Policy())

	_, err := l.Lift(context.Background(), failingStrokes())
	require.Error(t, err)

	var pf *PointFailure
	require.True(t, errors.As(err, &pf))
	assert.Equal(t, 1, pf.StrokeIndex)
	assert.Equal(t, 1, pf.PointIndex)
	assert.True(t, errors.Is(err, geometry.ErrParallelRay))
	assert.Contains(t, err.Error(), "stroke 1 point 1")
}

func TestLiftCancelled(t *testing.T) {
	_, bp := frontCamera(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(bp, wall, WithWorkers(1)).Lift(ctx, failingStrokes())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLiftStroke(t *testing.T) {
	_, bp := frontCamera(t)
	stroke, failures, keep := New(bp, wall).LiftStroke(7, geometry.Stroke2D{{X: c + 100, Y: c}})
	assert.True(t, keep)
	assert.Empty(t, failures)
	assert.Equal(t, 7, stroke.Index)
	testutil.AssertPointNear(t, geometry.Point3D{X: 1}, stroke.Points[0], 1e-9)
}

func TestFilterStrokes(t *testing.T) {
	strokes := []geometry.Stroke2D{
		{{X: 1, Y: 1}},
		{{X: 1, Y: 1}, {X: 2, Y: 2}},
		nil,
		{{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}},
	}
	kept, idx := FilterStrokes(strokes, DefaultMinStrokePoints)
	require.Len(t, kept, 2)
	assert.Equal(t, []int{1, 3}, idx)

	kept, idx = FilterStrokes(strokes, 0)
	assert.Len(t, kept, 3)
	assert.Equal(t, []int{0, 1, 3}, idx)
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []Policy{PolicyAbortStroke, PolicyDropPoint, PolicySentinel, PolicyAbortAll} {
		got, err := ParsePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	got, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyAbortStroke, got)

	_, err = ParsePolicy("retry")
	assert.Error(t, err)
}
