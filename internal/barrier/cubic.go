package barrier

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Cubic is the C² cubic barrier
//
//	ψ(g) = 2κ/(3ĝ) · (ĝ − g)³   for g < ĝ
//	ψ(g) = 0                    for g ≥ ĝ
//
// with κ the frozen stiffness and ĝ the admissible gap. Value, slope and
// curvature all vanish at g = ĝ.
type Cubic struct{}

// Energy returns ψ(g). It is zero for any invalid parameter.
func (Cubic) Energy(g, maxGap, kappa float64) float64 {
	v, ok := violation(g, maxGap, kappa)
	if !ok {
		return 0
	}
	return 2 * kappa / (3 * maxGap) * v * v * v
}

// Derivative returns ψ'(g) ≤ 0.
func (Cubic) Derivative(g, maxGap, kappa float64) float64 {
	v, ok := violation(g, maxGap, kappa)
	if !ok {
		return 0
	}
	return -2 * kappa / maxGap * v * v
}

// Curvature returns ψ''(g) ≥ 0.
func (Cubic) Curvature(g, maxGap, kappa float64) float64 {
	v, ok := violation(g, maxGap, kappa)
	if !ok {
		return 0
	}
	return 4 * kappa / maxGap * v
}

// Evaluate lifts ψ onto a 3D relative position whose gap changes along
// direction: gradient ψ'·d and Hessian ψ''·d dᵀ. scale multiplies d, so a
// caller whose gap is an affine map of the geometric gap can fold the
// chain factor in. Degenerate inputs yield the zero evaluation.
func (c Cubic) Evaluate(g, maxGap, kappa float64, direction mgl64.Vec3, scale float64) Evaluation {
	if !validDirection(direction) || scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return Evaluation{}
	}
	if _, ok := violation(g, maxGap, kappa); !ok {
		return Evaluation{}
	}
	d := direction.Mul(scale)
	return Evaluation{
		Energy:   c.Energy(g, maxGap, kappa),
		Gradient: d.Mul(c.Derivative(g, maxGap, kappa)),
		Hessian:  Outer(d, d).Mul(c.Curvature(g, maxGap, kappa)),
	}
}

// EvaluateState evaluates the bare barrier over a state using its own
// stiffness and direction.
func (c Cubic) EvaluateState(s State) Evaluation {
	return c.Evaluate(s.Gap, s.MaxGap, s.Stiffness, s.Direction, 1)
}

func violation(g, maxGap, kappa float64) (float64, bool) {
	if !finite(g) || !finite(maxGap) || !finite(kappa) {
		return 0, false
	}
	if kappa <= 0 || maxGap <= 0 {
		return 0, false
	}
	v := maxGap - g
	if v <= 0 {
		return 0, false
	}
	return v, true
}

func validDirection(d mgl64.Vec3) bool {
	l := d.Len()
	return l > 1e-12 && !math.IsInf(l, 0) && !math.IsNaN(l)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
