package opacity

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/banshee-data/sketchlift/internal/fsutil"
	"github.com/banshee-data/sketchlift/internal/geometry"
	"github.com/banshee-data/sketchlift/internal/monitoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constDraw(v float64) Draw { return func() float64 { return v } }

func TestRange(t *testing.T) {
	lo, hi := Range(FeatureLine)
	assert.Equal(t, 0.2, lo)
	assert.Equal(t, 0.4, hi)

	lo, hi = Range(ConstructionLine)
	assert.Equal(t, 0.05, lo)
	assert.Equal(t, 0.1, hi)
}

func TestOpacityWithInjectedDraw(t *testing.T) {
	assert.Equal(t, 0.2, Opacity(FeatureLine, constDraw(0)))
	assert.InDelta(t, 0.3, Opacity(FeatureLine, constDraw(0.5)), 1e-12)
	assert.InDelta(t, 0.075, Opacity(ConstructionLine, constDraw(0.5)), 1e-12)
}

func TestNewDrawStaysInRange(t *testing.T) {
	draw := NewDraw(42)
	for i := 0; i < 1000; i++ {
		for _, c := range []Category{FeatureLine, ConstructionLine} {
			lo, hi := Range(c)
			o := Opacity(c, draw)
			if o < lo || o > hi {
				t.Fatalf("%v opacity %g outside [%g, %g]", c, o, lo, hi)
			}
		}
	}

	// Same seed, same sequence.
	a, b := NewDraw(7), NewDraw(7)
	assert.Equal(t, a(), b())
}

func TestCategoryText(t *testing.T) {
	data, err := json.Marshal([]Category{FeatureLine, ConstructionLine})
	require.NoError(t, err)
	assert.Equal(t, `["feature_line","construction_line"]`, string(data))

	var c Category
	require.NoError(t, json.Unmarshal([]byte(`"construction_line"`), &c))
	assert.Equal(t, ConstructionLine, c)
	assert.Error(t, json.Unmarshal([]byte(`"proxy"`), &c))

	_, err = json.Marshal(Category(9))
	assert.Error(t, err)
}

const batchesJSON = `[
  {
    "fixed_strokes": [[[0,0,0],[1,0,0]], [[5,5,5]]],
    "final_proxies": [[[0,1,0],[0,1,1],[0,2,1]]],
    "score": 0.7
  },
  {
    "final_proxies": [[[2,2,2],[3,3,3]], []]
  }
]`

func TestAnnotate(t *testing.T) {
	batches, err := ParseBatches([]byte(batchesJSON))
	require.NoError(t, err)
	require.Len(t, batches, 2)

	lines := Annotate(batches, constDraw(0))
	require.Len(t, lines, 3)

	assert.Equal(t, FeatureLine, lines[0].Type)
	assert.Equal(t, 0.2, lines[0].Opacity)
	assert.Equal(t, [][]float64{{0, 0, 0}, {1, 0, 0}}, lines[0].Geometry)

	assert.Equal(t, ConstructionLine, lines[1].Type)
	assert.Equal(t, 0.05, lines[1].Opacity)
	assert.Len(t, lines[1].Geometry, 3)

	assert.Equal(t, ConstructionLine, lines[2].Type)
	for _, l := range lines {
		assert.Equal(t, 0, l.FeatureID)
	}

	rendered := Lines(lines)
	require.Len(t, rendered, 3)
	assert.Equal(t, geometry.Point3D{X: 1}, rendered[0].Points[1])
	assert.Equal(t, 0.05, rendered[1].Opacity)
}

func TestParseBatchesRejectsGarbage(t *testing.T) {
	_, err := ParseBatches([]byte(`{"fixed_strokes": []}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, geometry.ErrSchema))
}

func TestProcessDataset(t *testing.T) {
	lines, restore := monitoring.Capture()
	defer restore()

	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("/small/chair/"+InputName, []byte(batchesJSON), 0o644))
	require.NoError(t, fsys.WriteFile("/small/lamp/"+InputName, []byte(`[{"fixed_strokes": [[[1,1,1]]]}]`), 0o644))
	require.NoError(t, fsys.MkdirAll("/small/empty", 0o755))
	require.NoError(t, fsys.WriteFile("/small/notes.txt", []byte("x"), 0o644))

	results, err := ProcessDataset(context.Background(), fsys, "/small", constDraw(0.5))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "chair", results[0].Entry)
	assert.True(t, results[0].Written)
	assert.Equal(t, "lamp", results[1].Entry)
	assert.False(t, results[1].Written)

	data, err := fsys.ReadFile("/small/chair/" + OutputName)
	require.NoError(t, err)
	var written []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &written))
	require.Len(t, written, 3)
	assert.Equal(t, "feature_line", written[0]["type"])
	assert.Equal(t, 0.0, written[0]["feature_id"])
	assert.InDelta(t, 0.3, written[0]["opacity"], 1e-12)

	_, err = fsys.Stat("/small/lamp/" + OutputName)
	assert.Error(t, err, "no output when there are no lines")

	require.Len(t, *lines, 1)
	assert.Contains(t, (*lines)[0], "Saved 3 lines")
}

func TestProcessDatasetMalformed(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("/small/chair/"+InputName, []byte(`nope`), 0o644))

	_, err := ProcessDataset(context.Background(), fsys, "/small", constDraw(0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, geometry.ErrSchema))
}

func TestProcessDatasetCancelled(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("/small/chair/"+InputName, []byte(batchesJSON), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ProcessDataset(ctx, fsys, "/small", constDraw(0))
	assert.ErrorIs(t, err, context.Canceled)
}
