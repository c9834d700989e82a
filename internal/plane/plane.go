// Package plane fits the support plane of a sketch from the 3D side of its
// correspondence set.
//
// The plane ax + by + cz + d = 0 is homogeneous, so one coefficient is
// fixed to 1 and the other three are solved by linear least squares. The
// fixed axis defaults to Z (c = 1), which assumes the surface is never
// parallel to Z. Fits where that assumption fails are reported as
// degenerate instead of returning a meaningless plane.
package plane

import (
	"fmt"
	"math"

	"github.com/banshee-data/sketchlift/internal/geometry"
	"gonum.org/v1/gonum/mat"
)

const op = "plane"

// MinPoints is the smallest correspondence set that defines a plane.
const MinPoints = 3

// Axis selects which coefficient is fixed to 1.
type Axis int

const (
	AxisZ Axis = iota
	AxisX
	AxisY
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return fmt.Sprintf("Axis(%d)", int(a))
	}
}

// ParseAxis maps "x", "y" or "z" to an Axis.
func ParseAxis(s string) (Axis, error) {
	switch s {
	case "x", "X":
		return AxisX, nil
	case "y", "Y":
		return AxisY, nil
	case "z", "Z", "":
		return AxisZ, nil
	}
	return AxisZ, fmt.Errorf("unknown plane axis %q", s)
}

// Plane holds the coefficients of ax + by + cz + d = 0.
type Plane struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
	C float64 `json:"c"`
	D float64 `json:"d"`
}

// Normal returns the (unnormalised) plane normal (a, b, c).
func (p Plane) Normal() geometry.Point3D {
	return geometry.Point3D{X: p.A, Y: p.B, Z: p.C}
}

// Eval returns ax + by + cz + d for pt.
func (p Plane) Eval(pt geometry.Point3D) float64 {
	return p.A*pt.X + p.B*pt.Y + p.C*pt.Z + p.D
}

// Distance returns the signed Euclidean distance from pt to the plane.
func (p Plane) Distance(pt geometry.Point3D) float64 {
	return p.Eval(pt) / p.Normal().Norm()
}

// Fit is a fitted plane plus the diagnostics of the solve.
type Fit struct {
	Plane Plane
	// Residual is the sum of squared residuals along the fixed axis.
	Residual float64
	// SingularValues of the design matrix, largest first.
	SingularValues []float64
	Axis           Axis
}

// RMS returns the root-mean-square residual over n points.
func (f Fit) RMS(n int) float64 {
	if n == 0 {
		return 0
	}
	return math.Sqrt(f.Residual / float64(n))
}

type options struct {
	axis         Axis
	tolerance    float64
	minAxisShare float64
}

// Option configures FitPoints.
type Option func(*options)

// WithAxis fixes the coefficient of the given axis to 1.
func WithAxis(a Axis) Option {
	return func(o *options) { o.axis = a }
}

// WithTolerance sets the relative singular value threshold below which the
// design matrix is treated as rank deficient.
func WithTolerance(tol float64) Option {
	return func(o *options) {
		if tol > 0 {
			o.tolerance = tol
		}
	}
}

// WithMinAxisShare sets the minimum |n_axis| / |n| of the fitted unit
// normal. Planes closer than that to being parallel to the fixed axis are
// reported as degenerate.
func WithMinAxisShare(share float64) Option {
	return func(o *options) {
		if share > 0 {
			o.minAxisShare = share
		}
	}
}

// Default thresholds.
const (
	DefaultTolerance    = 1e-9
	DefaultMinAxisShare = 1e-6
)

// FitPoints solves for the plane through pts. It fails with
// geometry.ErrDegenerateGeometry for fewer than MinPoints points, for
// collinear or coincident points, and for planes parallel to the fixed axis.
func FitPoints(pts []geometry.Point3D, opts ...Option) (Fit, error) {
	o := options{axis: AxisZ, tolerance: DefaultTolerance, minAxisShare: DefaultMinAxisShare}
	for _, fn := range opts {
		fn(&o)
	}

	n := len(pts)
	if n < MinPoints {
		return Fit{}, geometry.Errorf(geometry.ErrDegenerateGeometry, op, "need at least %d points, got %d", MinPoints, n)
	}

	// Design matrix columns are the two free coordinates and 1; the target
	// is the negated fixed coordinate.
	a := mat.NewDense(n, 3, nil)
	b := mat.NewVecDense(n, nil)
	for i, p := range pts {
		if !p.IsFinite() {
			return Fit{}, geometry.Errorf(geometry.ErrDegenerateGeometry, op, "point %d is not finite", i)
		}
		u, v, w := split(o.axis, p)
		a.Set(i, 0, u)
		a.Set(i, 1, v)
		a.Set(i, 2, 1)
		b.SetVec(i, -w)
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return Fit{}, geometry.Errorf(geometry.ErrDegenerateGeometry, op, "SVD did not converge")
	}
	sigma := svd.Values(nil)
	if sigma[0] == 0 || sigma[len(sigma)-1] < o.tolerance*sigma[0] {
		return Fit{}, geometry.Errorf(geometry.ErrDegenerateGeometry, op,
			"design matrix is rank deficient (singular values %.3g), points are collinear or parallel to the %s axis", sigma, o.axis)
	}

	var coef mat.VecDense
	svd.SolveVecTo(&coef, b, len(sigma))

	var fitted, resid mat.VecDense
	fitted.MulVec(a, &coef)
	resid.SubVec(b, &fitted)

	pl := assemble(o.axis, coef.AtVec(0), coef.AtVec(1), coef.AtVec(2))
	for _, c := range []float64{pl.A, pl.B, pl.C, pl.D} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return Fit{}, geometry.Errorf(geometry.ErrDegenerateGeometry, op, "non-finite plane coefficients %+v", pl)
		}
	}
	if share := 1 / pl.Normal().Norm(); share < o.minAxisShare {
		return Fit{}, geometry.Errorf(geometry.ErrDegenerateGeometry, op,
			"plane is nearly parallel to the %s axis (normal share %.3g)", o.axis, share)
	}

	return Fit{
		Plane:          pl,
		Residual:       mat.Dot(&resid, &resid),
		SingularValues: sigma,
		Axis:           o.axis,
	}, nil
}

// FitCorrespondence fits the plane through the object side of c.
func FitCorrespondence(c geometry.Correspondence, opts ...Option) (Fit, error) {
	return FitPoints(c.Object, opts...)
}

// split returns the two free coordinates and the fixed one.
func split(axis Axis, p geometry.Point3D) (u, v, w float64) {
	switch axis {
	case AxisX:
		return p.Y, p.Z, p.X
	case AxisY:
		return p.X, p.Z, p.Y
	default:
		return p.X, p.Y, p.Z
	}
}

func assemble(axis Axis, c0, c1, d float64) Plane {
	switch axis {
	case AxisX:
		return Plane{A: 1, B: c0, C: c1, D: d}
	case AxisY:
		return Plane{A: c0, B: 1, C: c1, D: d}
	default:
		return Plane{A: c0, B: c1, C: 1, D: d}
	}
}
