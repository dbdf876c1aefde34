package constraint

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/dynbarrier/internal/barrier"
	"github.com/san-kum/dynbarrier/internal/dynamo"
)

// Friction is a quadratic tangential penalty E = ½ κ uᵀ T u with
// T = I − n nᵀ the tangent projector of the contact normal n and u the
// relative tangential displacement. Its stiffness tracks the normal force,
// κ = μ f / max(ε, ‖T u‖).
type Friction struct {
	base
	mu float64
}

func NewFriction(id ID, mu float64, opts ...Option) *Friction {
	return &Friction{base: newBase(id, KindFriction, opts), mu: mu}
}

func (f *Friction) Coefficient() float64 { return f.mu }

// Stiffness returns μ f / max(ε, slip).
func (f *Friction) Stiffness(force, slip float64) float64 {
	return f.mu * force / math.Max(f.opts.slipEps, slip)
}

// DesignStiffness lags the friction stiffness at the slip carried by s.
func (f *Friction) DesignStiffness(s barrier.State) float64 {
	if !(f.mu > 0) || !(s.Meta.ContactForce > 0) {
		return 0
	}
	n, ok := unitNormal(s.Direction)
	if !ok || !dynamo.IsFinite(s.Meta.Tangential) {
		return 0
	}
	ut := mgl64.Ident3().Sub(barrier.Outer(n, n)).Mul3x1(s.Meta.Tangential)
	return f.Stiffness(s.Meta.ContactForce, ut.Len())
}

func unitNormal(d mgl64.Vec3) (mgl64.Vec3, bool) {
	if !dynamo.IsFinite(d) {
		return mgl64.Vec3{}, false
	}
	l := d.Len()
	if !(l > 1e-12) {
		return mgl64.Vec3{}, false
	}
	return d.Mul(1 / l), true
}

func (f *Friction) Evaluate(s barrier.State, _ dynamo.Context) barrier.Evaluation {
	if !f.enabled || !(f.mu > 0) || !(s.Meta.ContactForce > 0) {
		return barrier.Evaluation{}
	}
	n, ok := unitNormal(s.Direction)
	if !ok || !dynamo.IsFinite(s.Meta.Tangential) {
		return barrier.Evaluation{}
	}

	proj := mgl64.Ident3().Sub(barrier.Outer(n, n))
	ut := proj.Mul3x1(s.Meta.Tangential)
	slip := ut.Len()
	if slip == 0 {
		return barrier.Evaluation{}
	}

	k := s.Stiffness
	if !(k > 0) {
		k = f.Stiffness(s.Meta.ContactForce, slip)
	}
	return barrier.Evaluation{
		Energy:   0.5 * k * slip * slip,
		Gradient: ut.Mul(k),
		Hessian:  proj.Mul(k),
	}
}
