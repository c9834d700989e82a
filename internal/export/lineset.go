package export

import "github.com/banshee-data/sketchlift/internal/geometry"

// LineSet is a flat point list plus index pairs joining consecutive points
// of each stroke.
type LineSet struct {
	Points [][3]float64 `json:"points"`
	Lines  [][2]int     `json:"lines"`
}

// BuildLineSet concatenates the strokes' points and links neighbours
// within each stroke. Strokes with fewer than two points contribute
// nothing, not even their points.
func BuildLineSet(strokes []geometry.Stroke3D) LineSet {
	var ls LineSet
	for _, s := range strokes {
		if len(s) < 2 {
			continue
		}
		offset := len(ls.Points)
		for i, p := range s {
			ls.Points = append(ls.Points, p.Array())
			if i > 0 {
				ls.Lines = append(ls.Lines, [2]int{offset + i - 1, offset + i})
			}
		}
	}
	return ls
}

// Segments returns the number of line segments.
func (ls LineSet) Segments() int { return len(ls.Lines) }
