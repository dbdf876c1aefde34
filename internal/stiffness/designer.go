// Package stiffness designs the frozen barrier stiffness of a constraint
// from its local mass and local elastic curvature, and projects local
// elasticity Hessians onto the SPD cone before they are used.
package stiffness

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/dynbarrier/internal/dynamo"
)

// Epsilon bounds the gap used in the mass term away from zero.
const Epsilon = 1e-8

// ErrDegenerate is returned for inputs with no usable stiffness term.
var ErrDegenerate = errors.New("stiffness: degenerate input (no mass or elasticity term)")

// Input is everything the designer reads.
type Input struct {
	EffectiveMass float64
	Gap           float64
	Direction     mgl64.Vec3
	// LocalHessian is the SPD-projected local elasticity Hessian, if any.
	LocalHessian *mgl64.Mat3
	// Min and Max clamp the result when non-zero.
	Min, Max float64
}

// Design returns κ = m / max(|g|, ε)² + dᵀ H d, clamped to [Min, Max].
// The result is held fixed through one Newton step. A zero-length
// direction drops the elasticity term.
func Design(in Input) (float64, error) {
	if !finite(in.EffectiveMass) || !finite(in.Gap) || !dynamo.IsFinite(in.Direction) {
		return 0, fmt.Errorf("stiffness: %w", dynamo.ErrInvalidState)
	}

	elastic := 0.0
	hasElastic := false
	if in.LocalHessian != nil {
		if d, ok := unitDirection(in.Direction); ok {
			elastic = d.Dot(in.LocalHessian.Mul3x1(d))
			if !finite(elastic) {
				return 0, fmt.Errorf("stiffness: local hessian: %w", dynamo.ErrInvalidState)
			}
			// Negative curvature means the Hessian skipped projection.
			elastic = math.Max(elastic, 0)
			hasElastic = true
		}
	}

	if in.EffectiveMass < 0 || (in.EffectiveMass == 0 && !hasElastic) {
		return 0, fmt.Errorf("%w: mass=%g", ErrDegenerate, in.EffectiveMass)
	}

	g := math.Max(math.Abs(in.Gap), Epsilon)
	kappa := in.EffectiveMass/(g*g) + elastic

	if in.Min > 0 && kappa < in.Min {
		kappa = in.Min
	}
	if in.Max > 0 && kappa > in.Max {
		kappa = in.Max
	}
	return kappa, nil
}

func unitDirection(d mgl64.Vec3) (mgl64.Vec3, bool) {
	l := d.Len()
	if !(l > 1e-12) {
		return mgl64.Vec3{}, false
	}
	return d.Mul(1 / l), true
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
