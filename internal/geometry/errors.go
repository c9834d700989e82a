package geometry

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	// ErrConfiguration reports malformed or inconsistent camera parameters.
	ErrConfiguration = errors.New("configuration error")
	// ErrDegenerateGeometry reports a correspondence set that cannot
	// support a plane fit (too few points, collinear, or a plane parallel
	// to the fixed axis).
	ErrDegenerateGeometry = errors.New("degenerate geometry")
	// ErrSingularProjection reports a projection whose leading 3x3 block
	// is not invertible.
	ErrSingularProjection = errors.New("singular projection")
	// ErrDegenerateRay reports a ray direction with near-zero magnitude.
	ErrDegenerateRay = errors.New("degenerate ray")
	// ErrParallelRay reports a ray that does not meaningfully intersect
	// the fitted plane.
	ErrParallelRay = errors.New("ray parallel to plane")
	// ErrSchema reports an input record that does not match the expected
	// JSON layout.
	ErrSchema = errors.New("schema error")
)

// Error carries a kind, the operation that failed and a human readable
// detail string.
type Error struct {
	Kind   error
	Op     string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Detail)
}

// Unwrap exposes the kind so errors.Is(err, ErrParallelRay) works.
func (e *Error) Unwrap() error { return e.Kind }

// Errorf builds an *Error of the given kind.
func Errorf(kind error, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// IsPointLocal reports whether err only invalidates the point being
// backprojected, as opposed to the whole camera or plane.
func IsPointLocal(err error) bool {
	return errors.Is(err, ErrDegenerateRay) || errors.Is(err, ErrParallelRay)
}
