package security

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWithinRoot(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		root      string
		wantError bool
	}{
		{"entry file", "/data/vacuum/view1_concept.json", "/data", false},
		{"root itself", "/data", "/data", false},
		{"dot segments that stay inside", "/data/a/../b/file.json", "/data", false},
		{"parent escape", "/data/../etc/passwd", "/data", true},
		{"sibling with shared prefix", "/database/file.json", "/data", true},
		{"relative escape", "../outside.json", ".", true},
		{"relative inside", "dataset/vacuum/x.json", "dataset", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithinRoot(tt.path, tt.root)
			if (err != nil) != tt.wantError {
				t.Errorf("WithinRoot(%q, %q) error = %v, wantError %v", tt.path, tt.root, err, tt.wantError)
			}
			if err != nil && !errors.Is(err, ErrPathTraversal) {
				t.Errorf("expected ErrPathTraversal, got %v", err)
			}
		})
	}
}

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	safeDir := filepath.Join(tmpDir, "safe")
	unsafeDir := filepath.Join(tmpDir, "unsafe")
	if err := os.MkdirAll(safeDir, 0755); err != nil {
		t.Fatalf("Failed to create safe directory: %v", err)
	}
	if err := os.MkdirAll(unsafeDir, 0755); err != nil {
		t.Fatalf("Failed to create unsafe directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(unsafeDir, "view1_camparam.json"), []byte("{}"), 0644); err != nil {
		t.Fatalf("Failed to create unsafe file: %v", err)
	}

	symlinkPath := filepath.Join(safeDir, "evil-entry")
	if err := os.Symlink(unsafeDir, symlinkPath); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		safeDir   string
		wantError bool
	}{
		{"valid path within directory", filepath.Join(tmpDir, "file.json"), tmpDir, false},
		{"valid nested path that does not exist", filepath.Join(tmpDir, "entry", "preview.png"), tmpDir, false},
		{"path traversal with ..", filepath.Join(tmpDir, "..", "file.json"), tmpDir, true},
		{"absolute path outside safe dir", "/etc/passwd", tmpDir, true},
		{"symlinked entry pointing outside", filepath.Join(symlinkPath, "view1_camparam.json"), safeDir, true},
		{"new file under symlinked entry", filepath.Join(symlinkPath, "reconstructed_strokes.json"), safeDir, true},
		{"symlink itself", symlinkPath, safeDir, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, tt.safeDir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestValidatePathWithinDirectoryMissingRoot(t *testing.T) {
	err := ValidatePathWithinDirectory("/tmp/x.json", filepath.Join(t.TempDir(), "missing"))
	if err == nil || !strings.Contains(err.Error(), "safe directory") {
		t.Errorf("expected safe directory error, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"vacuum", "vacuum"},
		{"Professional1 vacuum cleaner", "Professional1_vacuum_cleaner"},
		{"../../etc/passwd", "etc_passwd"},
		{"a//b??c", "a_b_c"},
		{"", "unknown"},
		{"...", "unknown"},
		{strings.Repeat("x", 200), strings.Repeat("x", 128)},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
