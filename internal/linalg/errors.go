// Package linalg holds the sparse storage and the preconditioned conjugate
// gradient solver used by the Newton step.
package linalg

import "errors"

var (
	// ErrDimensionMismatch indicates operands of incompatible sizes.
	ErrDimensionMismatch = errors.New("linalg: dimension mismatch")

	// ErrOutOfRange indicates an index outside the matrix.
	ErrOutOfRange = errors.New("linalg: index out of range")

	// ErrNotConverged indicates PCG hit its iteration cap above tolerance.
	// The partial solution is still returned; callers report it.
	ErrNotConverged = errors.New("linalg: conjugate gradient did not converge")

	// ErrBreakdown indicates a non-positive curvature pᵀAp, i.e. the
	// operator is not SPD along the search direction.
	ErrBreakdown = errors.New("linalg: conjugate gradient breakdown (operator not SPD)")
)
