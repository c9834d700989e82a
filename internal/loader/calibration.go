package loader

import (
	"encoding/json"

	"github.com/banshee-data/sketchlift/internal/camera"
	"github.com/banshee-data/sketchlift/internal/geometry"
)

type rawCalibration struct {
	Width      *int                `json:"width"`
	Height     int                 `json:"height"`
	Restricted *rawRestrictedModel `json:"restricted"`
}

// rawRestrictedModel is the "restricted" camera block: square pixels, shared
// focal length.
type rawRestrictedModel struct {
	F        *float64        `json:"f"`
	U        float64         `json:"u"`
	V        float64         `json:"v"`
	Skew     float64         `json:"skew"`
	MVMatrix json.RawMessage `json:"mvMatrix"`
}

// ParseCalibration decodes a camera parameter file.
func ParseCalibration(data []byte) (camera.Calibration, error) {
	var cal camera.Calibration

	var raw rawCalibration
	if err := json.Unmarshal(data, &raw); err != nil {
		return cal, schemaErr("calibration", "decode: %v", err)
	}
	if raw.Width == nil {
		return cal, schemaErr("calibration", "missing width")
	}
	if raw.Restricted == nil {
		return cal, schemaErr("calibration", "missing restricted camera model")
	}
	r := raw.Restricted
	if r.F == nil {
		return cal, schemaErr("calibration", "missing focal length f")
	}
	if len(r.MVMatrix) == 0 {
		return cal, geometry.Errorf(geometry.ErrConfiguration, "loader", "calibration: missing mvMatrix")
	}
	var rows [][]float64
	if err := json.Unmarshal(r.MVMatrix, &rows); err != nil {
		return cal, geometry.Errorf(geometry.ErrConfiguration, "loader", "calibration: mvMatrix is not a numeric matrix: %v", err)
	}
	mv, err := camera.ModelViewFromRows(rows)
	if err != nil {
		return cal, err
	}

	cal = camera.Calibration{
		Intrinsics: camera.Intrinsics{
			F:      *r.F,
			U:      r.U,
			V:      r.V,
			Skew:   r.Skew,
			Width:  *raw.Width,
			Height: raw.Height,
		},
		ModelView: mv,
	}
	return cal, nil
}

// ParseCamera decodes a camera parameter file and builds the camera model.
func ParseCamera(data []byte) (*camera.Model, error) {
	cal, err := ParseCalibration(data)
	if err != nil {
		return nil, err
	}
	return camera.New(cal)
}
