// Package backproject inverts a pinhole projection: each image point
// becomes a ray from the camera centre, and the ray is intersected with a
// support plane to recover the 3D point that images there.
//
// The decomposition of P (M⁻¹, pinv(M) and the camera centre) is done once
// in New. A Backprojector is read-only afterwards and safe for concurrent
// use by any number of strokes.
package backproject

import (
	"math"

	"github.com/banshee-data/sketchlift/internal/geometry"
	"github.com/banshee-data/sketchlift/internal/plane"
	"gonum.org/v1/gonum/mat"
)

const op = "backproject"

// machineEpsilon is the float64 spacing at 1.0.
const machineEpsilon = 0x1p-52

// Default numerical thresholds.
const (
	// DefaultRayEpsilon is the smallest un-normalised ray length accepted.
	DefaultRayEpsilon = 1e-12
	// DefaultParallelEpsilon bounds |cos| between the ray and the plane
	// normal. Rays closer than this to lying in the plane are rejected.
	DefaultParallelEpsilon = 1e-9
	// DefaultMaxCondition is the largest 2-norm condition number of M
	// treated as invertible.
	DefaultMaxCondition = 1e12
)

type options struct {
	rayEps      float64
	parallelEps float64
	maxCond     float64
}

// Option configures a Backprojector.
type Option func(*options)

// WithRayEpsilon overrides DefaultRayEpsilon.
func WithRayEpsilon(eps float64) Option {
	return func(o *options) {
		if eps > 0 {
			o.rayEps = eps
		}
	}
}

// WithParallelEpsilon overrides DefaultParallelEpsilon.
func WithParallelEpsilon(eps float64) Option {
	return func(o *options) {
		if eps > 0 {
			o.parallelEps = eps
		}
	}
}

// WithMaxCondition overrides DefaultMaxCondition.
func WithMaxCondition(c float64) Option {
	return func(o *options) {
		if c > 0 {
			o.maxCond = c
		}
	}
}

// Ray is the line through the camera centre that images at one pixel,
// with a unit direction. The direction's sign follows the projection's
// homogeneous scale, so it does not say which side is in front.
type Ray struct {
	Origin    geometry.Point3D
	Direction geometry.Point3D
}

// At returns Origin + t*Direction.
func (r Ray) At(t float64) geometry.Point3D {
	return r.Origin.Add(r.Direction.Scale(t))
}

// Backprojector holds the per-camera decomposition of a projection matrix.
type Backprojector struct {
	opts   options
	inv    *mat.Dense
	pinv   *mat.Dense
	center geometry.Point3D
}

// New decomposes the 3x4 projection p into M and p4 and precomputes the
// camera centre C = -M⁻¹·p4 and pinv(M). A non-invertible M fails with
// geometry.ErrSingularProjection since no camera centre exists.
func New(p mat.Matrix, opts ...Option) (*Backprojector, error) {
	o := options{rayEps: DefaultRayEpsilon, parallelEps: DefaultParallelEpsilon, maxCond: DefaultMaxCondition}
	for _, fn := range opts {
		fn(&o)
	}

	if r, c := p.Dims(); r != 3 || c != 4 {
		return nil, geometry.Errorf(geometry.ErrConfiguration, op, "projection matrix is %dx%d, want 3x4", r, c)
	}

	m := mat.NewDense(3, 3, nil)
	p4 := mat.NewVecDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			v := p.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, geometry.Errorf(geometry.ErrConfiguration, op, "projection[%d][%d] is not finite", i, j)
			}
			if j < 3 {
				m.Set(i, j, v)
			} else {
				p4.SetVec(i, v)
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, geometry.Errorf(geometry.ErrSingularProjection, op, "SVD of M did not converge")
	}
	sigma := svd.Values(nil)
	if sigma[0] == 0 || sigma[0]/sigma[2] > o.maxCond {
		return nil, geometry.Errorf(geometry.ErrSingularProjection, op,
			"leading 3x3 block is not invertible (singular values %.3g)", sigma)
	}

	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return nil, geometry.Errorf(geometry.ErrSingularProjection, op, "invert M: %v", err)
	}

	var c mat.VecDense
	c.MulVec(&inv, p4)
	c.ScaleVec(-1, &c)

	return &Backprojector{
		opts:   o,
		inv:    &inv,
		pinv:   pseudoInverse(&svd, sigma),
		center: geometry.Point3D{X: c.AtVec(0), Y: c.AtVec(1), Z: c.AtVec(2)},
	}, nil
}

// pseudoInverse assembles V·Σ⁺·Uᵀ from a full SVD, zeroing singular values
// below machine precision relative to the largest.
func pseudoInverse(svd *mat.SVD, sigma []float64) *mat.Dense {
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	cutoff := sigma[0] * float64(len(sigma)) * machineEpsilon
	sInv := mat.NewDiagDense(len(sigma), nil)
	for i, s := range sigma {
		if s > cutoff {
			sInv.SetDiag(i, 1/s)
		}
	}

	var vs, pinv mat.Dense
	vs.Mul(&v, sInv)
	pinv.Mul(&vs, u.T())
	return &pinv
}

// Center returns the camera centre in world coordinates.
func (b *Backprojector) Center() geometry.Point3D { return b.center }

// Inverse returns a copy of M⁻¹.
func (b *Backprojector) Inverse() *mat.Dense { return mat.DenseCopyOf(b.inv) }

// PseudoInverse returns a copy of pinv(M).
func (b *Backprojector) PseudoInverse() *mat.Dense { return mat.DenseCopyOf(b.pinv) }

// Ray casts the ray through pixel pt.
func (b *Backprojector) Ray(pt geometry.Point2D) (Ray, error) {
	h := mat.NewVecDense(3, []float64{pt.X, pt.Y, 1})
	var d mat.VecDense
	d.MulVec(b.pinv, h)
	return b.ray(pt, d.AtVec(0), d.AtVec(1), d.AtVec(2))
}

func (b *Backprojector) ray(pt geometry.Point2D, dx, dy, dz float64) (Ray, error) {
	dir := geometry.Point3D{X: dx, Y: dy, Z: dz}
	n := dir.Norm()
	if !(n >= b.opts.rayEps) || math.IsInf(n, 0) {
		return Ray{}, geometry.Errorf(geometry.ErrDegenerateRay, op,
			"ray through (%g, %g) has length %.3g", pt.X, pt.Y, n)
	}
	return Ray{Origin: b.center, Direction: dir.Scale(1 / n)}, nil
}

// Intersect returns the point on pl that images at pt.
func (b *Backprojector) Intersect(pt geometry.Point2D, pl plane.Plane) (geometry.Point3D, error) {
	r, err := b.Ray(pt)
	if err != nil {
		return geometry.Point3D{}, err
	}
	return b.hit(pt, r, pl)
}

// hit solves C + t·d on pl, i.e. t = -(n·C + d_coef) / (n·d). Negative t
// is accepted: P and -P image every point identically but flip d, so a
// negative t is a valid hit under a camera whose w is negative in front
// (the OpenGL model-view convention).
func (b *Backprojector) hit(pt geometry.Point2D, r Ray, pl plane.Plane) (geometry.Point3D, error) {
	normal := pl.Normal()
	nn := normal.Norm()
	if nn == 0 || math.IsNaN(nn) || math.IsInf(nn, 0) {
		return geometry.Point3D{}, geometry.Errorf(geometry.ErrDegenerateGeometry, op, "plane %+v has no normal", pl)
	}

	denom := normal.Dot(r.Direction)
	if math.Abs(denom)/nn < b.opts.parallelEps {
		return geometry.Point3D{}, geometry.Errorf(geometry.ErrParallelRay, op,
			"ray through (%g, %g) is parallel to the plane (n·d = %.3g)", pt.X, pt.Y, denom)
	}

	t := -pl.Eval(r.Origin) / denom
	x := r.At(t)
	if !x.IsFinite() {
		return geometry.Point3D{}, geometry.Errorf(geometry.ErrParallelRay, op,
			"ray through (%g, %g) meets the plane at infinity", pt.X, pt.Y)
	}
	return x, nil
}

// BatchIntersect intersects every point of a stroke with pl using a single
// 3xN matrix product for the ray directions. errs[i] is nil when points[i]
// is valid; failed points hold the zero value.
func (b *Backprojector) BatchIntersect(stroke geometry.Stroke2D, pl plane.Plane) (points []geometry.Point3D, errs []error) {
	n := len(stroke)
	points = make([]geometry.Point3D, n)
	errs = make([]error, n)
	if n == 0 {
		return points, errs
	}

	h := mat.NewDense(3, n, nil)
	for i, pt := range stroke {
		h.Set(0, i, pt.X)
		h.Set(1, i, pt.Y)
		h.Set(2, i, 1)
	}
	var dirs mat.Dense
	dirs.Mul(b.pinv, h)

	for i, pt := range stroke {
		r, err := b.ray(pt, dirs.At(0, i), dirs.At(1, i), dirs.At(2, i))
		if err != nil {
			errs[i] = err
			continue
		}
		points[i], errs[i] = b.hit(pt, r, pl)
	}
	return points, errs
}
