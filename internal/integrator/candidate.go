package integrator

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynbarrier/internal/barrier"
	"github.com/san-kum/dynbarrier/internal/constraint"
	"github.com/san-kum/dynbarrier/internal/dynamo"
	"github.com/san-kum/dynbarrier/internal/geom"
)

var ErrDegenerateRest = errors.New("integrator: degenerate rest triangle")

// Measurement is one candidate's state at a configuration together with
// the linear map from node positions to the relative position r the
// constraint acts on: r = Σ Weights[k]·x[Nodes[k]].
type Measurement struct {
	State   barrier.State
	Weights []float64
}

// Candidate is a broad-phase pair handed to the integrator. Measure and
// Gap must not mutate the candidate; they run concurrently.
type Candidate interface {
	Nodes() []int
	Measure(x []mgl64.Vec3) (Measurement, error)
	// Gap is the feasibility gap checked by the line search. Candidates
	// without a feasibility condition return +Inf.
	Gap(x []mgl64.Vec3) (float64, error)
}

// TickStarter is implemented by candidates that capture tick-start data.
// BeginTick runs sequentially before the first Newton step of a tick.
type TickStarter interface {
	BeginTick(x []mgl64.Vec3, masses []float64) error
}

// PointTriangle pairs node P with triangle (A, B, C). With Extended set
// the contact axis is the gap direction captured at the start of the tick:
// the gap becomes its projection of r = p − Σ bᵢ xᵢ and the state carries
// it as the extended direction, so sliding within the tick does not rotate
// the barrier.
type PointTriangle struct {
	P, A, B, C int
	MaxGap     float64
	Extended   bool
	frame      mgl64.Vec3
}

func (c *PointTriangle) Nodes() []int { return []int{c.P, c.A, c.B, c.C} }

func (c *PointTriangle) BeginTick(x []mgl64.Vec3, _ []float64) error {
	if !c.Extended {
		return nil
	}
	tg, err := geom.PointTriangle(x[c.P], x[c.A], x[c.B], x[c.C])
	if err != nil {
		return err
	}
	c.frame = tg.Direction
	return nil
}

func (c *PointTriangle) Measure(x []mgl64.Vec3) (Measurement, error) {
	tg, err := geom.PointTriangle(x[c.P], x[c.A], x[c.B], x[c.C])
	if err != nil {
		return Measurement{}, err
	}
	s := barrier.State{Gap: tg.Gap, MaxGap: c.MaxGap, Direction: tg.Direction}
	if c.Extended {
		extend(&s, c.frame, x[c.P].Sub(tg.Closest))
	}
	return Measurement{
		State:   s,
		Weights: []float64{1, -tg.Barycentric[0], -tg.Barycentric[1], -tg.Barycentric[2]},
	}, nil
}

func (c *PointTriangle) Gap(x []mgl64.Vec3) (float64, error) {
	tg, err := geom.PointTriangle(x[c.P], x[c.A], x[c.B], x[c.C])
	return tg.Gap, err
}

// EdgeEdge pairs segment (A0, A1) with segment (B0, B1). The raw distance
// is unsigned; the feasibility gap turns negative once the separation
// flips against the direction captured at the start of the tick. With
// Extended set that direction is also the contact axis, as for
// PointTriangle.
type EdgeEdge struct {
	A0, A1, B0, B1 int
	MaxGap         float64
	Extended       bool
	side           mgl64.Vec3
}

func (c *EdgeEdge) Nodes() []int { return []int{c.A0, c.A1, c.B0, c.B1} }

func (c *EdgeEdge) BeginTick(x []mgl64.Vec3, _ []float64) error {
	eg, err := geom.EdgeEdge(x[c.A0], x[c.A1], x[c.B0], x[c.B1])
	if err != nil {
		return err
	}
	c.side = eg.Direction
	return nil
}

func (c *EdgeEdge) Measure(x []mgl64.Vec3) (Measurement, error) {
	eg, err := geom.EdgeEdge(x[c.A0], x[c.A1], x[c.B0], x[c.B1])
	if err != nil {
		return Measurement{}, err
	}
	s := barrier.State{Gap: eg.Gap, MaxGap: c.MaxGap, Direction: eg.Direction}
	if c.Extended {
		extend(&s, c.side, eg.ClosestA.Sub(eg.ClosestB))
	}
	return Measurement{
		State:   s,
		Weights: []float64{1 - eg.S, eg.S, -(1 - eg.T), -eg.T},
	}, nil
}

func (c *EdgeEdge) Gap(x []mgl64.Vec3) (float64, error) {
	eg, err := geom.EdgeEdge(x[c.A0], x[c.A1], x[c.B0], x[c.B1])
	if err != nil {
		return 0, err
	}
	if c.side.Dot(eg.ClosestA.Sub(eg.ClosestB)) < 0 {
		return -eg.Gap, nil
	}
	return eg.Gap, nil
}

// extend measures s along the tick-start axis w, the gap being w·r for the
// relative position r. A zero axis leaves s on the current normal.
func extend(s *barrier.State, w, r mgl64.Vec3) {
	u, ok := geom.Unit(w)
	if !ok {
		return
	}
	s.Gap = u.Dot(r)
	s.ExtendedDirection = &u
}

// Wall keeps Node on the positive side of the plane (Origin, Normal).
type Wall struct {
	Node   int
	Origin mgl64.Vec3
	Normal mgl64.Vec3
	MaxGap float64
}

func (c *Wall) Nodes() []int { return []int{c.Node} }

func (c *Wall) Measure(x []mgl64.Vec3) (Measurement, error) {
	pg, err := geom.PointPlane(x[c.Node], c.Origin, c.Normal)
	if err != nil {
		return Measurement{}, err
	}
	return Measurement{
		State:   barrier.State{Gap: pg.Gap, MaxGap: c.MaxGap, Direction: pg.Normal},
		Weights: []float64{1},
	}, nil
}

func (c *Wall) Gap(x []mgl64.Vec3) (float64, error) {
	pg, err := geom.PointPlane(x[c.Node], c.Origin, c.Normal)
	return pg.Gap, err
}

// Pin keeps Node within Radius of Target. The gap is Radius − ‖x − Target‖
// and the barrier engages once the gap falls below MaxGap (Radius when
// unset).
type Pin struct {
	Node   int
	Target mgl64.Vec3
	Radius float64
	MaxGap float64
}

func (c *Pin) Nodes() []int { return []int{c.Node} }

func (c *Pin) maxGap() float64 {
	if c.MaxGap > 0 {
		return c.MaxGap
	}
	return c.Radius
}

func (c *Pin) Measure(x []mgl64.Vec3) (Measurement, error) {
	p := x[c.Node]
	if !dynamo.AllFinite(p, c.Target) {
		return Measurement{}, geom.ErrNonFinite
	}
	off := p.Sub(c.Target)
	dist := off.Len()
	var dir mgl64.Vec3
	if dist > 0 {
		dir = off.Mul(-1 / dist)
	}
	return Measurement{
		State:   barrier.State{Gap: c.Radius - dist, MaxGap: c.maxGap(), Direction: dir},
		Weights: []float64{1},
	}, nil
}

func (c *Pin) Gap(x []mgl64.Vec3) (float64, error) {
	if !dynamo.AllFinite(x[c.Node], c.Target) {
		return 0, geom.ErrNonFinite
	}
	return c.Radius - x[c.Node].Sub(c.Target).Len(), nil
}

// StrainTriangle measures the deformation gradient of triangle (A, B, C)
// against its rest shape for a strain-limiting constraint.
type StrainTriangle struct {
	A, B, C int
	Limits  *constraint.Strain
	// Band is the admissible violation; the constraint's margin when zero.
	Band  float64
	dmInv *mat.Dense
	// grad[k] maps a node to its column weights in F = Ds·Dm⁻¹.
	grad [3][2]float64
}

// NewStrainTriangle captures the rest shape of (a, b, c) from rest.
func NewStrainTriangle(a, b, c int, rest []mgl64.Vec3, limits *constraint.Strain, band float64) (*StrainTriangle, error) {
	d1 := rest[b].Sub(rest[a])
	d2 := rest[c].Sub(rest[a])
	e1, ok := geom.Unit(d1)
	if !ok {
		return nil, fmt.Errorf("%w: nodes %d %d %d", ErrDegenerateRest, a, b, c)
	}
	e2, ok := geom.Unit(d1.Cross(d2).Cross(d1))
	if !ok {
		return nil, fmt.Errorf("%w: nodes %d %d %d", ErrDegenerateRest, a, b, c)
	}
	dm := mat.NewDense(2, 2, []float64{
		e1.Dot(d1), e1.Dot(d2),
		e2.Dot(d1), e2.Dot(d2),
	})
	var inv mat.Dense
	if err := inv.Inverse(dm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateRest, err)
	}
	st := &StrainTriangle{A: a, B: b, C: c, Limits: limits, Band: band, dmInv: &inv}
	// Ds = [x_b − x_a, x_c − x_a], so node a contributes −(row0 + row1).
	for j := 0; j < 2; j++ {
		st.grad[1][j] = inv.At(0, j)
		st.grad[2][j] = inv.At(1, j)
		st.grad[0][j] = -inv.At(0, j) - inv.At(1, j)
	}
	return st, nil
}

func (c *StrainTriangle) Nodes() []int { return []int{c.A, c.B, c.C} }

// DeformationGradient returns F = Ds·Dm⁻¹ as a 3×2 matrix.
func (c *StrainTriangle) DeformationGradient(x []mgl64.Vec3) *mat.Dense {
	d1 := x[c.B].Sub(x[c.A])
	d2 := x[c.C].Sub(x[c.A])
	ds := mat.NewDense(3, 2, []float64{
		d1[0], d2[0],
		d1[1], d2[1],
		d1[2], d2[2],
	})
	var f mat.Dense
	f.Mul(ds, c.dmInv)
	return &f
}

func (c *StrainTriangle) band() float64 {
	if c.Band > 0 {
		return c.Band
	}
	return c.Limits.Band(barrier.State{})
}

func (c *StrainTriangle) Measure(x []mgl64.Vec3) (Measurement, error) {
	if !dynamo.AllFinite(x[c.A], x[c.B], x[c.C]) {
		return Measurement{}, geom.ErrNonFinite
	}
	d, err := constraint.Decompose(c.DeformationGradient(x))
	if err != nil {
		return Measurement{}, err
	}
	v, idx, _ := c.Limits.Violation(d.Values)
	if idx < 0 {
		idx = 0
	}
	u := mgl64.Vec3{d.U.At(0, idx), d.U.At(1, idx), d.U.At(2, idx)}
	rv := [2]float64{d.V.At(0, idx), d.V.At(1, idx)}
	w := make([]float64, 3)
	for k := range w {
		w[k] = c.grad[k][0]*rv[0] + c.grad[k][1]*rv[1]
	}
	band := c.band()
	return Measurement{
		State: barrier.State{
			Gap:       band - v,
			MaxGap:    band,
			Direction: u,
			Meta:      barrier.Meta{SingularValues: d.Values},
		},
		Weights: w,
	}, nil
}

func (c *StrainTriangle) Gap(x []mgl64.Vec3) (float64, error) {
	if !dynamo.AllFinite(x[c.A], x[c.B], x[c.C]) {
		return 0, geom.ErrNonFinite
	}
	sigma, err := constraint.SingularValues(c.DeformationGradient(x))
	if err != nil {
		return 0, err
	}
	v, _, _ := c.Limits.Violation(sigma)
	return c.band() - v, nil
}

// Friction resists tangential slip of a contact measured by Normal. The
// normal force and the slip origin are lagged at the start of each tick.
type Friction struct {
	Normal  Candidate
	Barrier constraint.Constraint
	origin  mgl64.Vec3
	force   float64
}

func (c *Friction) Nodes() []int { return c.Normal.Nodes() }

// Force is the lagged normal force of the current tick.
func (c *Friction) Force() float64 { return c.force }

func (c *Friction) BeginTick(x []mgl64.Vec3, masses []float64) error {
	m, err := c.Normal.Measure(x)
	if err != nil {
		return err
	}
	c.origin = relative(c.Normal.Nodes(), m.Weights, x)
	s := m.State
	s.EffectiveMass = effectiveMass(c.Normal.Nodes(), m.Weights, masses)
	if d, ok := c.Barrier.(constraint.Designer); ok {
		s.Stiffness = d.DesignStiffness(s)
	}
	c.force = c.Barrier.Evaluate(s, dynamo.Context{}).Gradient.Len()
	return nil
}

func (c *Friction) Measure(x []mgl64.Vec3) (Measurement, error) {
	m, err := c.Normal.Measure(x)
	if err != nil {
		return Measurement{}, err
	}
	return Measurement{
		State: barrier.State{
			Direction: m.State.Direction,
			Meta: barrier.Meta{
				ContactForce: c.force,
				Tangential:   relative(c.Normal.Nodes(), m.Weights, x).Sub(c.origin),
			},
		},
		Weights: m.Weights,
	}, nil
}

func (c *Friction) Gap([]mgl64.Vec3) (float64, error) { return math.Inf(1), nil }

func relative(nodes []int, w []float64, x []mgl64.Vec3) mgl64.Vec3 {
	var r mgl64.Vec3
	for k, n := range nodes {
		r = r.Add(x[n].Mul(w[k]))
	}
	return r
}

// effectiveMass is 1 / Σ w²/m over the candidate's nodes.
func effectiveMass(nodes []int, w []float64, masses []float64) float64 {
	inv := 0.0
	for k, n := range nodes {
		inv += w[k] * w[k] / masses[n]
	}
	if !(inv > 0) {
		return 0
	}
	return 1 / inv
}
