package constraint

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/dynbarrier/internal/barrier"
	"github.com/san-kum/dynbarrier/internal/dynamo"
)

// Contact keeps two features (point–triangle or edge–edge) apart.
//
// The barrier acts along the extended direction w = Wᵀ(p − q) when the
// state supplies one, else along the contact normal. The gap is divided by
// the margin before it reaches the barrier, so a contact engages once
// g < margin·ĝ, slightly ahead of the admissible gap.
type Contact struct {
	base
}

func NewContact(id ID, opts ...Option) *Contact {
	return &Contact{base: newBase(id, KindContact, opts)}
}

// Margin is the activation scale of this contact.
func (c *Contact) Margin() float64 { return c.opts.margin }

func (c *Contact) Evaluate(s barrier.State, _ dynamo.Context) barrier.Evaluation {
	m := c.opts.margin
	if !c.enabled || !(s.MaxGap > 0) || !(s.Gap < m*s.MaxGap) {
		return barrier.Evaluation{}
	}

	dir := contactDirection(s)
	k := c.kappa(s, s.Gap, dir, true)
	return cubic.Evaluate(s.Gap/m, s.MaxGap, k, dir, 1/m)
}

func (c *Contact) DesignStiffness(s barrier.State) float64 {
	s.Stiffness = 0
	return c.kappa(s, s.Gap, contactDirection(s), true)
}

func contactDirection(s barrier.State) mgl64.Vec3 {
	if s.ExtendedDirection != nil && dynamo.IsFinite(*s.ExtendedDirection) && s.ExtendedDirection.Len() > 0 {
		return *s.ExtendedDirection
	}
	return s.Direction
}

// anchor is the shared shape of pin and wall constraints.
func (b *base) anchor(s barrier.State, dir mgl64.Vec3) barrier.Evaluation {
	if !b.enabled || !(s.MaxGap > 0) || !(s.Gap < s.MaxGap) {
		return barrier.Evaluation{}
	}
	k := b.kappa(s, s.Gap, dir, b.opts.elastic)
	return cubic.Evaluate(s.Gap, s.MaxGap, k, dir, 1)
}

// Pin anchors a point to a target. The gap is supplied by the caller,
// typically radius − ‖x − target‖, with direction toward the target.
type Pin struct {
	base
}

func NewPin(id ID, opts ...Option) *Pin {
	return &Pin{base: newBase(id, KindPin, opts)}
}

func (p *Pin) Evaluate(s barrier.State, _ dynamo.Context) barrier.Evaluation {
	return p.anchor(s, p.direction(s))
}

func (p *Pin) DesignStiffness(s barrier.State) float64 {
	s.Stiffness = 0
	return p.kappa(s, s.Gap, p.direction(s), p.opts.elastic)
}

func (p *Pin) direction(s barrier.State) mgl64.Vec3 {
	if p.opts.direction != nil {
		return *p.opts.direction
	}
	return s.Direction
}

// Wall is a pin whose direction is the wall's fixed outward normal.
type Wall struct {
	base
	normal mgl64.Vec3
}

// NewWall builds a wall constraint. A zero normal leaves the wall inert.
func NewWall(id ID, normal mgl64.Vec3, opts ...Option) *Wall {
	w := &Wall{base: newBase(id, KindWall, opts)}
	if l := normal.Len(); l > 0 && dynamo.IsFinite(normal) {
		w.normal = normal.Mul(1 / l)
	}
	return w
}

func (w *Wall) Normal() mgl64.Vec3 { return w.normal }

func (w *Wall) Evaluate(s barrier.State, _ dynamo.Context) barrier.Evaluation {
	return w.anchor(s, w.normal)
}

func (w *Wall) DesignStiffness(s barrier.State) float64 {
	s.Stiffness = 0
	return w.kappa(s, s.Gap, w.normal, w.opts.elastic)
}
