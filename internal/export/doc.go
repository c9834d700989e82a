// Package export writes lifted strokes out of the pipeline: the
// reconstructed_strokes.json record, a points-plus-segments line set, PNG
// orthographic previews and an interactive 3D HTML view.
package export
