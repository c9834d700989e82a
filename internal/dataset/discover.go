// Package dataset walks a dataset root, one entry per sub-folder, and runs
// the reconstruction pipeline over each entry.
package dataset

import (
	"fmt"
	"path/filepath"

	"github.com/banshee-data/sketchlift/internal/config"
	"github.com/banshee-data/sketchlift/internal/fsutil"
	"github.com/banshee-data/sketchlift/internal/monitoring"
	"github.com/banshee-data/sketchlift/internal/security"
)

// Entry is one dataset folder with its resolved input files.
type Entry struct {
	Name               string
	Dir                string
	SketchPath         string
	CameraPath         string
	CorrespondencePath string
}

// Discover lists the entries under root. Folders missing one of the three
// inputs are skipped with a log line. When a pattern matches several files
// the first by name is used.
func Discover(fsys fsutil.FileSystem, root string, cfg *config.ReconstructConfig) ([]Entry, error) {
	dirs, err := fsys.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list dataset root %s: %w", root, err)
	}

	var entries []Entry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		e, ok, err := resolve(fsys, root, d.Name(), cfg)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// ResolveEntry resolves a single named entry under root.
func ResolveEntry(fsys fsutil.FileSystem, root, name string, cfg *config.ReconstructConfig) (Entry, error) {
	e, ok, err := resolve(fsys, root, name, cfg)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, fmt.Errorf("entry %s is missing input files", name)
	}
	return e, nil
}

func resolve(fsys fsutil.FileSystem, root, name string, cfg *config.ReconstructConfig) (Entry, bool, error) {
	dir := filepath.Join(root, name)
	if err := security.WithinRoot(dir, root); err != nil {
		return Entry{}, false, err
	}
	files, err := fsys.ReadDir(dir)
	if err != nil {
		return Entry{}, false, fmt.Errorf("list entry %s: %w", dir, err)
	}

	e := Entry{Name: name, Dir: dir}
	targets := []struct {
		kind    string
		pattern string
		dst     *string
	}{
		{"sketch", cfg.GetSketchGlob(), &e.SketchPath},
		{"calibration", cfg.GetCameraGlob(), &e.CameraPath},
		{"correspondence", cfg.GetCorrespondenceGlob(), &e.CorrespondencePath},
	}
	for _, tgt := range targets {
		var matches []string
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			ok, err := filepath.Match(tgt.pattern, f.Name())
			if err != nil {
				return Entry{}, false, fmt.Errorf("%s pattern %q: %w", tgt.kind, tgt.pattern, err)
			}
			if ok {
				matches = append(matches, f.Name())
			}
		}
		switch len(matches) {
		case 0:
			monitoring.Logf("dataset: skipping %s: no %s file matching %q", name, tgt.kind, tgt.pattern)
			return Entry{}, false, nil
		case 1:
		default:
			monitoring.Logf("dataset: %s has %d %s files matching %q, using %s", name, len(matches), tgt.kind, tgt.pattern, matches[0])
		}
		*tgt.dst = filepath.Join(dir, matches[0])
	}
	return e, true, nil
}
