package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for solver operations.
var (
	// ErrInvalidState indicates geometry or state values that are NaN or Inf.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrInvalidSettings indicates solver settings outside their valid range.
	ErrInvalidSettings = errors.New("dynamo: invalid solver settings")

	// ErrDimensionMismatch indicates mismatched node/position/mass counts.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between positions, velocities and masses")

	// ErrContextCanceled indicates a run was interrupted between ticks.
	ErrContextCanceled = errors.New("dynamo: run canceled by context")
)

// TickError wraps a validation error with the tick it surfaced in.
type TickError struct {
	Tick      int
	Time      float64
	Iteration int
	Wrapped   error
}

func (e *TickError) Error() string {
	return fmt.Sprintf("tick %d (t=%.4f, newton %d): %v", e.Tick, e.Time, e.Iteration, e.Wrapped)
}

func (e *TickError) Unwrap() error {
	return e.Wrapped
}
