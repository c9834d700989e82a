// Package camera builds the pinhole camera model for a sketch view: the
// intrinsic matrix K, the [R|t] extrinsics taken from the view's model-view
// matrix, and the composite projection P = K·[R|t].
package camera

import (
	"math"

	"github.com/banshee-data/sketchlift/internal/geometry"
	"github.com/banshee-data/sketchlift/internal/monitoring"
	"gonum.org/v1/gonum/mat"
)

const op = "camera"

// projectEpsilon is the smallest homogeneous w accepted by Project.
const projectEpsilon = 1e-12

// Intrinsics are the calibration parameters of a single view.
// U and V are the principal point in normalised [-1, 1] canvas units.
// Height may be left zero, in which case the canvas is taken to be square.
type Intrinsics struct {
	F      float64
	U      float64
	V      float64
	Skew   float64
	Width  int
	Height int
}

// Calibration is one view's intrinsics plus its row-major 4x4 model-view
// matrix (world to camera).
type Calibration struct {
	Intrinsics
	ModelView [4][4]float64
}

// Model is an immutable camera built from a Calibration.
type Model struct {
	intr   Intrinsics
	cx, cy float64
	k      *mat.Dense
	rt     *mat.Dense
	p      *mat.Dense
}

// ModelViewFromRows converts a decoded JSON matrix into the fixed 4x4
// layout, rejecting any other shape.
func ModelViewFromRows(rows [][]float64) ([4][4]float64, error) {
	var mv [4][4]float64
	if len(rows) != 4 {
		return mv, geometry.Errorf(geometry.ErrConfiguration, op, "model-view matrix has %d rows, want 4", len(rows))
	}
	for i, row := range rows {
		if len(row) != 4 {
			return mv, geometry.Errorf(geometry.ErrConfiguration, op, "model-view row %d has %d columns, want 4", i, len(row))
		}
		copy(mv[i][:], row)
	}
	return mv, nil
}

// New validates the calibration and builds K, [R|t] and P.
func New(cal Calibration) (*Model, error) {
	intr := cal.Intrinsics
	if intr.Width <= 0 {
		return nil, geometry.Errorf(geometry.ErrConfiguration, op, "width must be positive, got %d", intr.Width)
	}
	if intr.Height == 0 {
		intr.Height = intr.Width
	}
	if intr.Height != intr.Width {
		return nil, geometry.Errorf(geometry.ErrConfiguration, op,
			"canvas is %dx%d but the principal point conversion assumes a square canvas", intr.Width, intr.Height)
	}
	if intr.F == 0 || math.IsNaN(intr.F) || math.IsInf(intr.F, 0) {
		return nil, geometry.Errorf(geometry.ErrConfiguration, op, "focal length must be finite and non-zero, got %v", intr.F)
	}
	for _, v := range []float64{intr.U, intr.V, intr.Skew} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, geometry.Errorf(geometry.ErrConfiguration, op, "non-finite intrinsic parameter %v", v)
		}
	}
	for i := range cal.ModelView {
		for j, v := range cal.ModelView[i] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, geometry.Errorf(geometry.ErrConfiguration, op, "model-view[%d][%d] is not finite", i, j)
			}
		}
	}
	if intr.Skew != 0 {
		monitoring.Logf("camera: non-zero skew %.6g in calibration", intr.Skew)
	}

	cx := (intr.U + 1) * float64(intr.Width) / 2
	cy := (intr.V + 1) * float64(intr.Height) / 2

	k := mat.NewDense(3, 3, []float64{
		intr.F, intr.Skew, cx,
		0, intr.F, cy,
		0, 0, 1,
	})

	// Drop the homogeneous row of the model-view to get [R|t].
	rt := mat.NewDense(3, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			rt.Set(i, j, cal.ModelView[i][j])
		}
	}

	var p mat.Dense
	p.Mul(k, rt)

	return &Model{intr: intr, cx: cx, cy: cy, k: k, rt: rt, p: &p}, nil
}

// Intrinsics returns the validated intrinsics (Height filled in).
func (m *Model) Intrinsics() Intrinsics { return m.intr }

// PrincipalPoint returns (cx, cy) in pixels.
func (m *Model) PrincipalPoint() (cx, cy float64) { return m.cx, m.cy }

// K returns a copy of the 3x3 intrinsic matrix.
func (m *Model) K() *mat.Dense { return mat.DenseCopyOf(m.k) }

// RT returns a copy of the 3x4 extrinsic matrix.
func (m *Model) RT() *mat.Dense { return mat.DenseCopyOf(m.rt) }

// P returns a copy of the 3x4 projection matrix.
func (m *Model) P() *mat.Dense { return mat.DenseCopyOf(m.p) }

// Project maps a world point to pixel coordinates. Points on the camera's
// principal plane have no image and are reported as a configuration error.
func (m *Model) Project(pt geometry.Point3D) (geometry.Point2D, error) {
	x := mat.NewVecDense(4, []float64{pt.X, pt.Y, pt.Z, 1})
	var h mat.VecDense
	h.MulVec(m.p, x)

	w := h.AtVec(2)
	if math.Abs(w) < projectEpsilon {
		return geometry.Point2D{}, geometry.Errorf(geometry.ErrConfiguration, op,
			"point (%g, %g, %g) lies on the camera plane", pt.X, pt.Y, pt.Z)
	}
	return geometry.Point2D{X: h.AtVec(0) / w, Y: h.AtVec(1) / w}, nil
}
