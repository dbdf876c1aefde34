// Package barrier holds the cubic barrier potential shared by every
// constraint variant, together with the state a constraint is evaluated
// from and the evaluation it produces.
package barrier

import (
	"github.com/go-gl/mathgl/mgl64"
)

// Meta carries variant-specific inputs.
type Meta struct {
	// LocalHessian is the local elasticity Hessian estimate used by the
	// stiffness designer. It must already be SPD-projected.
	LocalHessian *mgl64.Mat3
	// SingularValues of the deformation gradient, for strain limiting.
	SingularValues []float64
	// ContactForce is the current normal force magnitude, for friction.
	ContactForce float64
	// Tangential is the relative displacement of a contact, for friction.
	Tangential mgl64.Vec3
}

// State is the per-Newton-iteration input of one constraint. It is produced
// by the gap evaluators, consumed by exactly one Evaluate call, then dropped.
type State struct {
	Gap    float64
	MaxGap float64
	// Stiffness is the frozen stiffness for the current Newton step. Zero
	// asks the constraint to design one from EffectiveMass and Meta.
	Stiffness float64
	// Direction is the derivative of Gap with respect to the relative
	// position the constraint acts on.
	Direction mgl64.Vec3
	// ExtendedDirection optionally replaces Direction for contacts.
	ExtendedDirection *mgl64.Vec3
	EffectiveMass     float64
	Meta              Meta
}

// Evaluation is energy, gradient and Hessian of one constraint. The zero
// value is the inactive evaluation.
type Evaluation struct {
	Energy   float64
	Gradient mgl64.Vec3
	Hessian  mgl64.Mat3
}

// Active reports whether e carries any contribution.
func (e Evaluation) Active() bool {
	return e != Evaluation{}
}

// Force is the negated gradient.
func (e Evaluation) Force() mgl64.Vec3 {
	return e.Gradient.Mul(-1)
}

// Add returns the component-wise sum of e and o.
func (e Evaluation) Add(o Evaluation) Evaluation {
	return Evaluation{
		Energy:   e.Energy + o.Energy,
		Gradient: e.Gradient.Add(o.Gradient),
		Hessian:  e.Hessian.Add(o.Hessian),
	}
}

// Outer returns a bᵀ as a column-major matrix.
func Outer(a, b mgl64.Vec3) mgl64.Mat3 {
	var m mgl64.Mat3
	for col := 0; col < 3; col++ {
		for row := 0; row < 3; row++ {
			m[col*3+row] = a[row] * b[col]
		}
	}
	return m
}
