// Package lift turns 2D sketch strokes into 3D strokes on a support plane.
//
// Strokes are independent, so Lift fans them out over a bounded worker
// pool. Each result lands in the slot of its source stroke; output order
// always mirrors input order regardless of scheduling.
package lift

import (
	"context"
	"fmt"
	"runtime"

	"github.com/banshee-data/sketchlift/internal/backproject"
	"github.com/banshee-data/sketchlift/internal/geometry"
	"github.com/banshee-data/sketchlift/internal/plane"
	"golang.org/x/sync/errgroup"
)

// DefaultMinStrokePoints is the shortest stroke worth reconstructing.
const DefaultMinStrokePoints = 2

// Policy decides what happens to a stroke when one of its points cannot be
// backprojected.
type Policy int

const (
	// PolicyAbortStroke omits the stroke and reports the first failing point.
	PolicyAbortStroke Policy = iota
	// PolicyDropPoint keeps the stroke minus its failing points.
	PolicyDropPoint
	// PolicySentinel keeps every point, replacing failures with the
	// sentinel and marking them invalid.
	PolicySentinel
	// PolicyAbortAll fails the whole Lift call on the first failure.
	PolicyAbortAll
)

var policyNames = map[Policy]string{
	PolicyAbortStroke: "abort_stroke",
	PolicyDropPoint:   "drop_point",
	PolicySentinel:    "sentinel",
	PolicyAbortAll:    "abort_all",
}

func (p Policy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy maps a config name to a Policy. The empty string selects
// PolicyAbortStroke.
func ParsePolicy(s string) (Policy, error) {
	if s == "" {
		return PolicyAbortStroke, nil
	}
	for p, name := range policyNames {
		if name == s {
			return p, nil
		}
	}
	return PolicyAbortStroke, fmt.Errorf("unknown failure policy %q", s)
}

// PointFailure records a point that could not be lifted.
type PointFailure struct {
	StrokeIndex int
	PointIndex  int
	Err         error
}

func (f *PointFailure) Error() string {
	return fmt.Sprintf("stroke %d point %d: %v", f.StrokeIndex, f.PointIndex, f.Err)
}

func (f *PointFailure) Unwrap() error { return f.Err }

// Stroke is one lifted stroke.
type Stroke struct {
	// Index of the source stroke in the slice given to Lift.
	Index  int
	Points geometry.Stroke3D
	// Valid is only populated under PolicySentinel; Valid[i] is false
	// where Points[i] is the sentinel.
	Valid []bool
}

// Result holds the lifted strokes in input order plus every failure.
type Result struct {
	Strokes  []Stroke
	Failures []PointFailure
}

// Geometry returns just the point lists of the lifted strokes.
func (r Result) Geometry() []geometry.Stroke3D {
	out := make([]geometry.Stroke3D, len(r.Strokes))
	for i, s := range r.Strokes {
		out[i] = s.Points
	}
	return out
}

// Lifter lifts strokes through one camera onto one plane.
type Lifter struct {
	bp       *backproject.Backprojector
	pl       plane.Plane
	policy   Policy
	workers   int
	minPoints int
	sentinel  geometry.Point3D
}

// Option configures a Lifter.
type Option func(*Lifter)

// WithPolicy sets the partial failure policy.
func WithPolicy(p Policy) Option {
	return func(l *Lifter) { l.policy = p }
}

// WithWorkers bounds the number of strokes lifted concurrently. Values
// below 1 select GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(l *Lifter) { l.workers = n }
}

// WithMinPoints sets the shortest stroke PolicyDropPoint may emit after
// dropping failed points. Values below 1 are treated as 1.
func WithMinPoints(n int) Option {
	return func(l *Lifter) { l.minPoints = n }
}

// WithSentinel sets the placeholder used by PolicySentinel.
func WithSentinel(p geometry.Point3D) Option {
	return func(l *Lifter) { l.sentinel = p }
}

// New returns a Lifter using bp and pl.
func New(bp *backproject.Backprojector, pl plane.Plane, opts ...Option) *Lifter {
	l := &Lifter{bp: bp, pl: pl, policy: PolicyAbortStroke, minPoints: DefaultMinStrokePoints}
	for _, fn := range opts {
		fn(l)
	}
	if l.minPoints < 1 {
		l.minPoints = 1
	}
	if l.workers < 1 {
		l.workers = runtime.GOMAXPROCS(0)
	}
	return l
}

// Policy returns the configured failure policy.
func (l *Lifter) Policy() Policy { return l.policy }

type slot struct {
	stroke   Stroke
	keep     bool
	failures []PointFailure
}

// Lift backprojects every point of every stroke. Under PolicyAbortAll the
// returned error is the lowest-indexed failure, wrapped in *PointFailure.
// The only other error is ctx's.
func (l *Lifter) Lift(ctx context.Context, strokes []geometry.Stroke2D) (Result, error) {
	slots := make([]slot, len(strokes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i := range strokes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slots[i] = l.liftStroke(i, strokes[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var res Result
	for _, s := range slots {
		res.Failures = append(res.Failures, s.failures...)
		if s.keep {
			res.Strokes = append(res.Strokes, s.stroke)
		}
	}
	if l.policy == PolicyAbortAll && len(res.Failures) > 0 {
		f := res.Failures[0]
		return Result{}, &f
	}
	return res, nil
}

// LiftStroke lifts a single stroke. keep reports whether the policy
// retains it.
func (l *Lifter) LiftStroke(index int, s geometry.Stroke2D) (stroke Stroke, failures []PointFailure, keep bool) {
	sl := l.liftStroke(index, s)
	return sl.stroke, sl.failures, sl.keep
}

func (l *Lifter) liftStroke(index int, s geometry.Stroke2D) slot {
	points, errs := l.bp.BatchIntersect(s, l.pl)

	var failures []PointFailure
	for j, err := range errs {
		if err != nil {
			failures = append(failures, PointFailure{StrokeIndex: index, PointIndex: j, Err: err})
		}
	}
	if len(failures) == 0 {
		return slot{stroke: Stroke{Index: index, Points: points}, keep: true}
	}

	switch l.policy {
	case PolicyDropPoint:
		kept := make(geometry.Stroke3D, 0, len(points)-len(failures))
		for j, p := range points {
			if errs[j] == nil {
				kept = append(kept, p)
			}
		}
		// A stroke left shorter than minPoints is omitted; its failures stay.
		return slot{stroke: Stroke{Index: index, Points: kept}, keep: len(kept) >= l.minPoints, failures: failures}
	case PolicySentinel:
		valid := make([]bool, len(points))
		for j := range points {
			if errs[j] == nil {
				valid[j] = true
			} else {
				points[j] = l.sentinel
			}
		}
		return slot{stroke: Stroke{Index: index, Points: points, Valid: valid}, keep: true, failures: failures}
	default:
		// Abort the stroke; report only the first failing point.
		return slot{failures: failures[:1]}
	}
}

// FilterStrokes drops strokes shorter than minPoints and returns the kept
// strokes with their indices in the input.
func FilterStrokes(strokes []geometry.Stroke2D, minPoints int) (kept []geometry.Stroke2D, indices []int) {
	if minPoints < 1 {
		minPoints = 1
	}
	for i, s := range strokes {
		if len(s) < minPoints {
			continue
		}
		kept = append(kept, s)
		indices = append(indices, i)
	}
	return kept, indices
}
