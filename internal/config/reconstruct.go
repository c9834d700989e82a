package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/banshee-data/sketchlift/internal/backproject"
	"github.com/banshee-data/sketchlift/internal/lift"
	"github.com/banshee-data/sketchlift/internal/plane"
)

// DefaultConfigPath is the path to the canonical reconstruction defaults file.
const DefaultConfigPath = "config/reconstruct.defaults.json"

// Preview projections accepted by preview_projection.
var previewProjections = map[string]bool{"xy": true, "xz": true, "yz": true}

// ReconstructConfig holds the tunable parameters of a reconstruction run.
// Every field is optional; the Get* methods fill in defaults.
type ReconstructConfig struct {
	// Numerical thresholds
	SingularTolerance *float64 `json:"singular_tolerance,omitempty"`
	ParallelEpsilon   *float64 `json:"parallel_epsilon,omitempty"`
	RayEpsilon        *float64 `json:"ray_epsilon,omitempty"`

	// Lifting
	FailurePolicy   *string `json:"failure_policy,omitempty"` // abort_stroke, drop_point, sentinel, abort_all
	FixedAxis       *string `json:"fixed_axis,omitempty"`     // x, y or z
	MinStrokePoints *int    `json:"min_stroke_points,omitempty"`
	Workers         *int    `json:"workers,omitempty"` // 0 means GOMAXPROCS

	// Input handling
	RescaleCanvas      *bool   `json:"rescale_canvas,omitempty"`
	SketchGlob         *string `json:"sketch_glob,omitempty"`
	CameraGlob         *string `json:"camera_glob,omitempty"`
	CorrespondenceGlob *string `json:"correspondence_glob,omitempty"`

	// Output
	PreviewProjection *string `json:"preview_projection,omitempty"`
	OutputName        *string `json:"output_name,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyReconstructConfig returns a config with every field unset.
func EmptyReconstructConfig() *ReconstructConfig {
	return &ReconstructConfig{}
}

// DefaultReconstructConfig returns a config with every field set to the
// value its getter would fall back to.
func DefaultReconstructConfig() *ReconstructConfig {
	return &ReconstructConfig{
		SingularTolerance:  ptrFloat64(plane.DefaultTolerance),
		ParallelEpsilon:    ptrFloat64(backproject.DefaultParallelEpsilon),
		RayEpsilon:         ptrFloat64(backproject.DefaultRayEpsilon),
		FailurePolicy:      ptrString(lift.PolicyAbortStroke.String()),
		FixedAxis:          ptrString(plane.AxisZ.String()),
		MinStrokePoints:    ptrInt(lift.DefaultMinStrokePoints),
		Workers:            ptrInt(0),
		RescaleCanvas:      ptrBool(true),
		SketchGlob:         ptrString("view*_concept.json"),
		CameraGlob:         ptrString("*_camparam.json"),
		CorrespondenceGlob: ptrString("*_points.json"),
		PreviewProjection:  ptrString("xy"),
		OutputName:         ptrString("reconstructed_strokes.json"),
	}
}

// LoadReconstructConfig loads a config from a JSON file.
// The file must have a .json extension and be under 1MB. Unknown keys are
// rejected so a typo does not silently fall back to a default.
func LoadReconstructConfig(path string) (*ReconstructConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseReconstructConfig(data)
}

// ParseReconstructConfig decodes and validates config JSON.
func ParseReconstructConfig(data []byte) (*ReconstructConfig, error) {
	cfg := EmptyReconstructConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *ReconstructConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, p := range candidates {
		if cfg, err := LoadReconstructConfig(p); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are usable.
func (c *ReconstructConfig) Validate() error {
	for name, v := range map[string]*float64{
		"singular_tolerance": c.SingularTolerance,
		"parallel_epsilon":   c.ParallelEpsilon,
		"ray_epsilon":        c.RayEpsilon,
	} {
		if v != nil && !(*v > 0) {
			return fmt.Errorf("%s must be positive, got %g", name, *v)
		}
	}

	if c.FailurePolicy != nil {
		if _, err := lift.ParsePolicy(*c.FailurePolicy); err != nil {
			return fmt.Errorf("invalid failure_policy: %w", err)
		}
	}
	if c.FixedAxis != nil {
		if _, err := plane.ParseAxis(*c.FixedAxis); err != nil {
			return fmt.Errorf("invalid fixed_axis: %w", err)
		}
	}
	if c.MinStrokePoints != nil && *c.MinStrokePoints < 1 {
		return fmt.Errorf("min_stroke_points must be at least 1, got %d", *c.MinStrokePoints)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.PreviewProjection != nil && !previewProjections[*c.PreviewProjection] {
		return fmt.Errorf("preview_projection must be xy, xz or yz, got %q", *c.PreviewProjection)
	}

	for name, v := range map[string]*string{
		"sketch_glob":         c.SketchGlob,
		"camera_glob":         c.CameraGlob,
		"correspondence_glob": c.CorrespondenceGlob,
	} {
		if v == nil {
			continue
		}
		if _, err := path.Match(*v, ""); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, *v, err)
		}
	}
	if c.OutputName != nil {
		if *c.OutputName == "" || filepath.Base(*c.OutputName) != *c.OutputName {
			return fmt.Errorf("output_name must be a bare file name, got %q", *c.OutputName)
		}
	}
	return nil
}

// GetSingularTolerance returns the plane fit rank tolerance or the default.
func (c *ReconstructConfig) GetSingularTolerance() float64 {
	if c.SingularTolerance == nil {
		return plane.DefaultTolerance
	}
	return *c.SingularTolerance
}

// GetParallelEpsilon returns the ray/plane parallel threshold or the default.
func (c *ReconstructConfig) GetParallelEpsilon() float64 {
	if c.ParallelEpsilon == nil {
		return backproject.DefaultParallelEpsilon
	}
	return *c.ParallelEpsilon
}

// GetRayEpsilon returns the degenerate ray threshold or the default.
func (c *ReconstructConfig) GetRayEpsilon() float64 {
	if c.RayEpsilon == nil {
		return backproject.DefaultRayEpsilon
	}
	return *c.RayEpsilon
}

// GetFailurePolicy returns the partial failure policy. Unparseable values
// fall back to the default.
func (c *ReconstructConfig) GetFailurePolicy() lift.Policy {
	if c.FailurePolicy == nil {
		return lift.PolicyAbortStroke
	}
	p, err := lift.ParsePolicy(*c.FailurePolicy)
	if err != nil {
		return lift.PolicyAbortStroke
	}
	return p
}

// GetFixedAxis returns the plane fit's fixed axis. Unparseable values fall
// back to z.
func (c *ReconstructConfig) GetFixedAxis() plane.Axis {
	if c.FixedAxis == nil {
		return plane.AxisZ
	}
	a, err := plane.ParseAxis(*c.FixedAxis)
	if err != nil {
		return plane.AxisZ
	}
	return a
}

// GetMinStrokePoints returns the minimum stroke length or the default.
func (c *ReconstructConfig) GetMinStrokePoints() int {
	if c.MinStrokePoints == nil {
		return lift.DefaultMinStrokePoints
	}
	return *c.MinStrokePoints
}

// GetWorkers returns the lifter worker count; 0 means GOMAXPROCS.
func (c *ReconstructConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetRescaleCanvas reports whether sketch points are rescaled to the
// calibration width.
func (c *ReconstructConfig) GetRescaleCanvas() bool {
	if c.RescaleCanvas == nil {
		return true
	}
	return *c.RescaleCanvas
}

// GetSketchGlob returns the sketch file pattern or the default.
func (c *ReconstructConfig) GetSketchGlob() string {
	if c.SketchGlob == nil {
		return "view*_concept.json"
	}
	return *c.SketchGlob
}

// GetCameraGlob returns the calibration file pattern or the default.
func (c *ReconstructConfig) GetCameraGlob() string {
	if c.CameraGlob == nil {
		return "*_camparam.json"
	}
	return *c.CameraGlob
}

// GetCorrespondenceGlob returns the correspondence file pattern or the default.
func (c *ReconstructConfig) GetCorrespondenceGlob() string {
	if c.CorrespondenceGlob == nil {
		return "*_points.json"
	}
	return *c.CorrespondenceGlob
}

// GetPreviewProjection returns the preview plane: xy, xz or yz.
func (c *ReconstructConfig) GetPreviewProjection() string {
	if c.PreviewProjection == nil {
		return "xy"
	}
	return *c.PreviewProjection
}

// GetOutputName returns the reconstructed strokes file name or the default.
func (c *ReconstructConfig) GetOutputName() string {
	if c.OutputName == nil {
		return "reconstructed_strokes.json"
	}
	return *c.OutputName
}

// PlaneOptions converts the config into plane fit options.
func (c *ReconstructConfig) PlaneOptions() []plane.Option {
	return []plane.Option{
		plane.WithAxis(c.GetFixedAxis()),
		plane.WithTolerance(c.GetSingularTolerance()),
	}
}

// BackprojectOptions converts the config into backprojector options.
func (c *ReconstructConfig) BackprojectOptions() []backproject.Option {
	return []backproject.Option{
		backproject.WithRayEpsilon(c.GetRayEpsilon()),
		backproject.WithParallelEpsilon(c.GetParallelEpsilon()),
	}
}

// LiftOptions converts the config into lifter options.
func (c *ReconstructConfig) LiftOptions() []lift.Option {
	return []lift.Option{
		lift.WithPolicy(c.GetFailurePolicy()),
		lift.WithWorkers(c.GetWorkers()),
		lift.WithMinPoints(c.GetMinStrokePoints()),
	}
}
