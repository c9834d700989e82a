// Package geometry holds the value types shared by the reconstruction
// pipeline (2D sketch points, 3D object points, strokes and
// correspondences) and the error taxonomy reported by every stage.
//
// Dependency rule: geometry depends on nothing else in this module.
package geometry
