package export

import (
	"math"

	"github.com/banshee-data/sketchlift/internal/geometry"
)

// Bounds is an axis-aligned box.
type Bounds struct {
	Min, Max geometry.Point3D
}

// BoundsOf returns the box around every point. ok is false when there are
// no points.
func BoundsOf(strokes []geometry.Stroke3D) (b Bounds, ok bool) {
	inf := math.Inf(1)
	b = Bounds{
		Min: geometry.Point3D{X: inf, Y: inf, Z: inf},
		Max: geometry.Point3D{X: -inf, Y: -inf, Z: -inf},
	}
	for _, s := range strokes {
		for _, p := range s {
			ok = true
			b.Min = geometry.Point3D{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)}
			b.Max = geometry.Point3D{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)}
		}
	}
	if !ok {
		return Bounds{}, false
	}
	return b, true
}

// Center returns the box centre.
func (b Bounds) Center() geometry.Point3D {
	return b.Min.Add(b.Max).Scale(0.5)
}

// Extent returns the largest side length.
func (b Bounds) Extent() float64 {
	d := b.Max.Sub(b.Min)
	return math.Max(d.X, math.Max(d.Y, d.Z))
}

// Cube returns the cube with the same centre whose side is Extent, so that
// plots drawn inside it keep equal axis scales. A zero-size box grows to a
// unit cube.
func (b Bounds) Cube() Bounds {
	half := b.Extent() / 2
	if half == 0 {
		half = 0.5
	}
	c := b.Center()
	h := geometry.Point3D{X: half, Y: half, Z: half}
	return Bounds{Min: c.Sub(h), Max: c.Add(h)}
}
