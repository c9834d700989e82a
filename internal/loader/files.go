package loader

import (
	"fmt"

	"github.com/banshee-data/sketchlift/internal/camera"
	"github.com/banshee-data/sketchlift/internal/fsutil"
	"github.com/banshee-data/sketchlift/internal/geometry"
)

// MaxFileSize caps each input record. Dense sketches stay well under it.
const MaxFileSize = 64 << 20

// ReadSketch reads and parses a sketch file.
func ReadSketch(fsys fsutil.FileSystem, path string) (*Sketch, error) {
	data, err := fsutil.ReadFileLimited(fsys, path, MaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("read sketch %s: %w", path, err)
	}
	sk, err := ParseSketch(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sk, nil
}

// ReadCalibration reads and parses a camera parameter file.
func ReadCalibration(fsys fsutil.FileSystem, path string) (camera.Calibration, error) {
	data, err := fsutil.ReadFileLimited(fsys, path, MaxFileSize)
	if err != nil {
		return camera.Calibration{}, fmt.Errorf("read calibration %s: %w", path, err)
	}
	cal, err := ParseCalibration(data)
	if err != nil {
		return camera.Calibration{}, fmt.Errorf("%s: %w", path, err)
	}
	return cal, nil
}

// ReadCorrespondence reads and parses a correspondence file.
func ReadCorrespondence(fsys fsutil.FileSystem, path string) (geometry.Correspondence, error) {
	data, err := fsutil.ReadFileLimited(fsys, path, MaxFileSize)
	if err != nil {
		return geometry.Correspondence{}, fmt.Errorf("read correspondence %s: %w", path, err)
	}
	c, err := ParseCorrespondence(data)
	if err != nil {
		return geometry.Correspondence{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
