package version

import "testing"

func TestString(t *testing.T) {
	got := String("sketchlift")
	want := "sketchlift dev (git unknown, built unknown)"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
