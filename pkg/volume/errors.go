package volume

import (
	"errors"
	"fmt"
)

var (
	// ErrSkipped signals that an operation had nothing to work on. It is not a
	// failure: callers surface the reason to the user and leave state untouched.
	ErrSkipped = errors.New("operation skipped")

	// ErrInvalidGeometry is returned when an extent is degenerate or spacing is
	// not strictly positive.
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrGeometryMismatch is returned when two volumes that must share a voxel
	// grid do not.
	ErrGeometryMismatch = errors.New("geometry mismatch")

	// ErrInvalidParameter is returned for out-of-range configuration values.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// SkipError carries the user-facing reason an operation was skipped.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "skipped: " + e.Reason }

func (e *SkipError) Is(target error) bool { return target == ErrSkipped }

// Skipf returns a SkipError with a formatted reason.
func Skipf(format string, args ...any) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// GeometryMismatchError reports which input did not match the reference grid.
type GeometryMismatchError struct {
	Input    string
	Expected Geometry
	Actual   Geometry
}

func (e *GeometryMismatchError) Error() string {
	return fmt.Sprintf("geometry mismatch: %s has extent %v spacing %v, expected extent %v spacing %v",
		e.Input, e.Actual.Extent, e.Actual.Spacing, e.Expected.Extent, e.Expected.Spacing)
}

func (e *GeometryMismatchError) Is(target error) bool { return target == ErrGeometryMismatch }

// ParameterError describes a rejected parameter value.
type ParameterError struct {
	Name   string
	Value  any
	Reason string
}

func (e *ParameterError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid parameter %s: %v", e.Name, e.Value)
	}
	return fmt.Sprintf("invalid parameter %s: %v (%s)", e.Name, e.Value, e.Reason)
}

func (e *ParameterError) Is(target error) bool { return target == ErrInvalidParameter }

// InvalidParameter is a shorthand for returning a *ParameterError.
func InvalidParameter(name string, value any, reason string) error {
	return &ParameterError{Name: name, Value: value, Reason: reason}
}
