// Package constraint implements the barrier constraint variants. Every
// barrier variant derives its own gap, direction and stiffness and then
// delegates to the shared cubic barrier; variants whose activation test
// fails return the zero evaluation without touching the barrier. Friction
// is a quadratic tangential penalty and does not use the barrier.
package constraint

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/dynbarrier/internal/barrier"
	"github.com/san-kum/dynbarrier/internal/dynamo"
	"github.com/san-kum/dynbarrier/internal/stiffness"
)

// ID is the stable identity of a constraint across Newton steps and ticks.
type ID uint64

type Kind string

const (
	KindCubic    Kind = "cubic-barrier"
	KindContact  Kind = "contact-barrier"
	KindPin      Kind = "pin-barrier"
	KindWall     Kind = "wall-barrier"
	KindStrain   Kind = "strain-barrier"
	KindFriction Kind = "friction"
)

// DefaultMargin is the contact activation scale, matching the line search's
// extended step.
const DefaultMargin = 1.25

// Constraint is the capability every variant exposes.
type Constraint interface {
	ID() ID
	Kind() Kind
	Enabled() bool
	Evaluate(s barrier.State, ctx dynamo.Context) barrier.Evaluation
}

// Designer is implemented by every variant. DesignStiffness returns the
// stiffness the variant would design for s, ignoring any frozen value the
// state already carries. The integrator feeds it to the freeze schedule.
type Designer interface {
	DesignStiffness(s barrier.State) float64
}

type options struct {
	margin     float64
	direction  *mgl64.Vec3
	elastic    bool
	minK, maxK float64
	strainGap  float64
	slipEps    float64
	disabled   bool
}

// Option customizes a variant at construction.
type Option func(*options)

// WithMargin sets the contact activation scale. Values below 1 are raised to 1.
func WithMargin(m float64) Option {
	return func(o *options) {
		if !(m >= 1) {
			m = 1
		}
		o.margin = m
	}
}

// WithDirection fixes the constraint axis instead of reading it from state.
func WithDirection(d mgl64.Vec3) Option {
	return func(o *options) { o.direction = &d }
}

// WithElasticity lets pin and wall designs include the local Hessian term.
func WithElasticity() Option {
	return func(o *options) { o.elastic = true }
}

// WithStiffnessClamp bounds designed stiffness; zero disables a side.
func WithStiffnessClamp(lo, hi float64) Option {
	return func(o *options) { o.minK, o.maxK = lo, hi }
}

// WithStrainMargin sets the admissible strain band used as ĝ when the state
// carries no MaxGap.
func WithStrainMargin(g float64) Option {
	return func(o *options) { o.strainGap = g }
}

// WithSlipEpsilon sets the slip floor of the friction stiffness.
func WithSlipEpsilon(eps float64) Option {
	return func(o *options) { o.slipEps = eps }
}

// Disabled constructs the constraint switched off.
func Disabled() Option {
	return func(o *options) { o.disabled = true }
}

func buildOptions(opts []Option) options {
	o := options{
		margin:    DefaultMargin,
		strainGap: 0.05,
		slipEps:   1e-6,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// cubic is the barrier shared by every barrier variant.
var cubic barrier.Cubic

type base struct {
	id      ID
	kind    Kind
	enabled bool
	opts    options
}

func newBase(id ID, kind Kind, opts []Option) base {
	o := buildOptions(opts)
	return base{id: id, kind: kind, enabled: !o.disabled, opts: o}
}

func (b *base) ID() ID        { return b.id }
func (b *base) Kind() Kind    { return b.kind }
func (b *base) Enabled() bool { return b.enabled }

// kappa returns the state's frozen stiffness, or designs one when the
// state carries none. A design failure yields zero, which the barrier
// treats as inactive.
func (b *base) kappa(s barrier.State, gap float64, dir mgl64.Vec3, elastic bool) float64 {
	if s.Stiffness > 0 {
		return s.Stiffness
	}
	in := stiffness.Input{
		EffectiveMass: s.EffectiveMass,
		Gap:           gap,
		Direction:     dir,
		Min:           b.opts.minK,
		Max:           b.opts.maxK,
	}
	if elastic {
		in.LocalHessian = s.Meta.LocalHessian
	}
	k, err := stiffness.Design(in)
	if err != nil {
		return 0
	}
	return k
}

// Cubic is the bare cubic barrier over a state.
type Cubic struct {
	base
}

func NewCubic(id ID, opts ...Option) *Cubic {
	return &Cubic{base: newBase(id, KindCubic, opts)}
}

func (c *Cubic) Evaluate(s barrier.State, _ dynamo.Context) barrier.Evaluation {
	if !c.enabled || !(s.Gap < s.MaxGap) {
		return barrier.Evaluation{}
	}
	k := c.kappa(s, s.Gap, s.Direction, true)
	return cubic.Evaluate(s.Gap, s.MaxGap, k, s.Direction, 1)
}

func (c *Cubic) DesignStiffness(s barrier.State) float64 {
	s.Stiffness = 0
	return c.kappa(s, s.Gap, s.Direction, true)
}

// EvaluateAll evaluates cs[i] against states[i] concurrently. Each call
// reads only its own state and writes only its own slot.
func EvaluateAll(cs []Constraint, states []barrier.State, ctx dynamo.Context) []barrier.Evaluation {
	out := make([]barrier.Evaluation, len(cs))
	n := len(cs)
	if len(states) < n {
		n = len(states)
	}
	dynamo.ParallelFor(n, 64, func(start, end int) {
		for i := start; i < end; i++ {
			if cs[i] == nil || !cs[i].Enabled() {
				continue
			}
			out[i] = cs[i].Evaluate(states[i], ctx)
		}
	})
	return out
}
