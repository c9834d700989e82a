// Package testutil provides shared fixtures for the reconstruction tests:
// synthetic calibrations, rigid model-view matrices and tolerance asserts.
package testutil

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/banshee-data/sketchlift/internal/camera"
	"github.com/banshee-data/sketchlift/internal/geometry"
)

// Identity returns the 4x4 identity model-view.
func Identity() [4][4]float64 {
	return [4][4]float64{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// ModelView builds a rigid model-view from rotations about X then Y
// (radians) followed by a translation.
func ModelView(rotX, rotY float64, t geometry.Point3D) [4][4]float64 {
	cx, sx := math.Cos(rotX), math.Sin(rotX)
	cy, sy := math.Cos(rotY), math.Sin(rotY)

	// R = Ry * Rx
	r := [3][3]float64{
		{cy, sy * sx, sy * cx},
		{0, cx, -sx},
		{-sy, cy * sx, cy * cx},
	}
	return [4][4]float64{
		{r[0][0], r[0][1], r[0][2], t.X},
		{r[1][0], r[1][1], r[1][2], t.Y},
		{r[2][0], r[2][1], r[2][2], t.Z},
		{0, 0, 0, 1},
	}
}

// Calibration returns a square-canvas calibration with a centred principal
// point.
func Calibration(f float64, width int, mv [4][4]float64) camera.Calibration {
	return camera.Calibration{
		Intrinsics: camera.Intrinsics{F: f, Width: width},
		ModelView:  mv,
	}
}

// CalibrationJSON encodes cal in the camera parameter file layout.
func CalibrationJSON(t *testing.T, cal camera.Calibration) []byte {
	t.Helper()
	rows := make([][]float64, 4)
	for i := range cal.ModelView {
		rows[i] = cal.ModelView[i][:]
	}
	doc := map[string]interface{}{
		"width": cal.Width,
		"restricted": map[string]interface{}{
			"f":        cal.F,
			"u":        cal.U,
			"v":        cal.V,
			"skew":     cal.Skew,
			"mvMatrix": rows,
		},
	}
	if cal.Height != 0 {
		doc["height"] = cal.Height
	}
	data, err := json.Marshal(doc)
	AssertNoError(t, err)
	return data
}

// ObliqueCamera returns a camera 5 units from the origin, tilted so that
// the z=0 plane is seen at an angle.
func ObliqueCamera(t *testing.T) *camera.Model {
	t.Helper()
	m, err := camera.New(Calibration(500, 691, ModelView(0.35, -0.2, geometry.Point3D{X: 0.1, Y: -0.2, Z: 5})))
	AssertNoError(t, err)
	return m
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertPointNear fails the test if got is farther than tol from want,
// relative to the magnitude of want (absolute when want is near the origin).
func AssertPointNear(t *testing.T, want, got geometry.Point3D, tol float64) {
	t.Helper()
	scale := math.Max(1, want.Norm())
	if d := want.Distance(got); d > tol*scale {
		t.Errorf("point = (%.9g, %.9g, %.9g), want (%.9g, %.9g, %.9g) (distance %.3g)",
			got.X, got.Y, got.Z, want.X, want.Y, want.Z, d)
	}
}
