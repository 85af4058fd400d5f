package glue

import (
	"errors"
	"fmt"
)

// Configuration-time and per-parameter failures. Typed errors below match
// these with errors.Is.
var (
	ErrInvalidBounds      = errors.New("glue: invalid parameter bounds")
	ErrInvalidSampleCount = errors.New("glue: sample count must be positive")
	ErrInsufficientData   = errors.New("glue: insufficient data for fit")
)

// InvalidBoundsError reports a parameter whose declared range cannot be sampled.
type InvalidBoundsError struct {
	Name         string
	Lower, Upper float64
	Reason       string
}

func (e *InvalidBoundsError) Error() string {
	return fmt.Sprintf("glue: parameter %q bounds [%g, %g]: %s", e.Name, e.Lower, e.Upper, e.Reason)
}

func (e *InvalidBoundsError) Is(target error) bool { return target == ErrInvalidBounds }

// InvalidSampleCountError reports a non-positive sample count.
type InvalidSampleCountError struct {
	N int
}

func (e *InvalidSampleCountError) Error() string {
	return fmt.Sprintf("glue: sample count must be positive, got %d", e.N)
}

func (e *InvalidSampleCountError) Is(target error) bool { return target == ErrInvalidSampleCount }

// InsufficientDataError is recorded on a curve when a parameter has too few
// distinct values for the requested polynomial degree.
type InsufficientDataError struct {
	Parameter string
	Unique    int
	Degree    int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("glue: insufficient data for fit of %q: %d unique values, degree %d needs %d",
		e.Parameter, e.Unique, e.Degree, e.Degree+1)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }
