package integrator

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/dynbarrier/internal/constraint"
	"github.com/san-kum/dynbarrier/internal/dynamo"
	"github.com/san-kum/dynbarrier/internal/linalg"
)

// Elasticity is the elastic energy of the mesh. Hessian blocks it adds
// must already be SPD.
type Elasticity interface {
	Energy(x []mgl64.Vec3) float64
	AddGradient(g, x []mgl64.Vec3)
	AddHessian(h *linalg.BlockMatrix, x []mgl64.Vec3) error
	NodeHessians(x []mgl64.Vec3) ([]mgl64.Mat3, error)
}

// Active pairs a constraint with the candidate that measures it.
type Active struct {
	Constraint constraint.Constraint
	Candidate  Candidate
}

// System is the state handed to Step. Positions and Velocities are owned
// by the caller and updated in place.
type System struct {
	Positions  []mgl64.Vec3
	Velocities []mgl64.Vec3
	Masses     []float64
	Candidates []Active
	Elasticity Elasticity
	Settings   dynamo.Settings
}

func (s *System) Nodes() int { return len(s.Positions) }

// Validate checks sizes, finiteness and candidate wiring.
func (s *System) Validate() error {
	if err := s.Settings.Validate(); err != nil {
		return err
	}
	n := len(s.Positions)
	if len(s.Velocities) != n || len(s.Masses) != n {
		return fmt.Errorf("%w: %d positions, %d velocities, %d masses",
			dynamo.ErrDimensionMismatch, n, len(s.Velocities), len(s.Masses))
	}
	for i := 0; i < n; i++ {
		if !dynamo.AllFinite(s.Positions[i], s.Velocities[i]) {
			return fmt.Errorf("node %d: %w", i, dynamo.ErrInvalidState)
		}
		if m := s.Masses[i]; !(m > 0) || math.IsInf(m, 0) {
			return fmt.Errorf("node %d mass %g: %w", i, m, dynamo.ErrInvalidState)
		}
	}
	seen := make(map[constraint.ID]struct{}, len(s.Candidates))
	for i, a := range s.Candidates {
		if a.Constraint == nil || a.Candidate == nil {
			return fmt.Errorf("candidate %d: missing constraint or candidate: %w", i, dynamo.ErrInvalidSettings)
		}
		id := a.Constraint.ID()
		if _, dup := seen[id]; dup {
			return fmt.Errorf("constraint %d listed twice: %w", id, dynamo.ErrInvalidSettings)
		}
		seen[id] = struct{}{}
		for _, node := range a.Candidate.Nodes() {
			if node < 0 || node >= n {
				return fmt.Errorf("constraint %d node %d of %d: %w", id, node, n, dynamo.ErrDimensionMismatch)
			}
		}
	}
	return nil
}

// Report summarizes one tick. Convergence problems are recorded here
// rather than returned as errors.
type Report struct {
	Time             float64
	NewtonIterations int
	OuterIterations  int
	PCGIterations    int
	Beta             float64
	// Residual is max over nodes of ‖∇E‖·Δt²/m, a displacement.
	Residual           float64
	Energy             float64
	Converged          bool
	PCGConverged       bool
	LineSearchFailures int
	ErrorReduction     bool
	ActiveConstraints  int
	MinGap             float64
	// Unresolved lists constraints left with a negative gap.
	Unresolved []constraint.ID
}

// Incomplete reports whether the tick left work for the next one.
func (r *Report) Incomplete() bool {
	return !r.Converged || !r.PCGConverged || r.LineSearchFailures > 0 || len(r.Unresolved) > 0
}
