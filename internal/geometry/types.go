package geometry

import "math"

// Point2D is a sketch point in pixel coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Point3D is a point in world (object) coordinates.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns p+q.
func (p Point3D) Add(q Point3D) Point3D {
	return Point3D{X: p.X + q.X, Y: p.Y + q.Y, Z: p.Z + q.Z}
}

// Sub returns p-q.
func (p Point3D) Sub(q Point3D) Point3D {
	return Point3D{X: p.X - q.X, Y: p.Y - q.Y, Z: p.Z - q.Z}
}

// Scale returns p scaled by s.
func (p Point3D) Scale(s float64) Point3D {
	return Point3D{X: p.X * s, Y: p.Y * s, Z: p.Z * s}
}

// Dot returns the dot product of p and q.
func (p Point3D) Dot(q Point3D) float64 {
	return p.X*q.X + p.Y*q.Y + p.Z*q.Z
}

// Norm returns the Euclidean length of p.
func (p Point3D) Norm() float64 {
	return math.Sqrt(p.Dot(p))
}

// Distance returns the Euclidean distance between p and q.
func (p Point3D) Distance(q Point3D) float64 {
	return p.Sub(q).Norm()
}

// IsFinite reports whether every coordinate is neither NaN nor infinite.
func (p Point3D) IsFinite() bool {
	return isFinite(p.X) && isFinite(p.Y) && isFinite(p.Z)
}

// Array returns p as an [x, y, z] triple, the layout used by stroke exports.
func (p Point3D) Array() [3]float64 {
	return [3]float64{p.X, p.Y, p.Z}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Stroke2D is one pen gesture as drawn; index order is drawing order.
type Stroke2D []Point2D

// Stroke3D is a lifted stroke. Point i corresponds to point i of the
// source Stroke2D unless the lifter was told to drop failing points.
type Stroke3D []Point3D

// Correspondence pairs sketch points with the object points they mark.
// Sketch[i] and Object[i] describe the same physical location.
type Correspondence struct {
	Sketch []Point2D
	Object []Point3D
}

// Len returns the number of pairs.
func (c Correspondence) Len() int {
	return len(c.Object)
}
