package constraint

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynbarrier/internal/barrier"
	"github.com/san-kum/dynbarrier/internal/dynamo"
	"github.com/san-kum/dynbarrier/internal/testutil"
)

const fdTol = 1e-4

var ctx = dynamo.Context{Dt: 1.0 / 60}

func sampleDirections() []mgl64.Vec3 {
	return []mgl64.Vec3{
		{0, 0, 1},
		mgl64.Vec3{1, -2, 0.5}.Normalize(),
		mgl64.Vec3{-0.2, 0.4, -0.9}.Normalize(),
	}
}

func assertDerivatives(t *testing.T, displaced testutil.Displaced, msg string) {
	t.Helper()
	require.True(t, displaced(mgl64.Vec3{}).Active(), "%s: expected an active evaluation", msg)
	gErr, hErr := testutil.DerivativeError(displaced, 1e-7, 1e-9)
	assert.Less(t, gErr, fdTol, "%s: gradient", msg)
	assert.Less(t, hErr, fdTol, "%s: hessian", msg)
}

func TestContact_FiniteDifferences(t *testing.T) {
	for _, margin := range []float64{1, 1.25, 2} {
		c := NewContact(1, WithMargin(margin))
		for _, d := range sampleDirections() {
			for _, g0 := range []float64{0.002, 0.004, 0.009} {
				for _, k := range []float64{10, 1e3} {
					displaced := func(u mgl64.Vec3) barrier.Evaluation {
						return c.Evaluate(barrier.State{Gap: g0 + d.Dot(u), MaxGap: 0.01, Stiffness: k, Direction: d}, ctx)
					}
					assertDerivatives(t, displaced, "contact")
				}
			}
		}
	}
}

func TestContact_EngagesAheadOfMaxGap(t *testing.T) {
	d := mgl64.Vec3{0, 0, 1}
	s := barrier.State{Gap: 0.0105, MaxGap: 0.01, Stiffness: 100, Direction: d}

	assert.False(t, NewContact(1, WithMargin(1)).Evaluate(s, ctx).Active())
	for _, margin := range []float64{1.25, 2} {
		c := NewContact(1, WithMargin(margin))
		ev := c.Evaluate(s, ctx)
		require.True(t, ev.Active(), "margin %g", margin)
		assert.Less(t, ev.Gradient.Z(), 0.0, "margin %g pushes the pair apart", margin)

		displaced := func(u mgl64.Vec3) barrier.Evaluation {
			at := s
			at.Gap += d.Dot(u)
			return c.Evaluate(at, ctx)
		}
		assertDerivatives(t, displaced, "early contact")
	}

	var plain barrier.Cubic
	unit := NewContact(2, WithMargin(1))
	at := barrier.State{Gap: 0.004, MaxGap: 0.01, Stiffness: 100, Direction: d}
	assert.Equal(t, plain.EvaluateState(at), unit.Evaluate(at, ctx), "margin 1 is the bare barrier")

	wide := NewContact(3, WithMargin(2)).Evaluate(at, ctx)
	assert.Greater(t, wide.Energy, plain.EvaluateState(at).Energy, "a wider band engages harder at the same gap")
}

func TestContact_ExtendedDirection(t *testing.T) {
	c := NewContact(2)
	w := mgl64.Vec3{0.3, 0.1, 0.8}
	n := mgl64.Vec3{0, 0, 1}

	displaced := func(u mgl64.Vec3) barrier.Evaluation {
		return c.Evaluate(barrier.State{
			Gap: 0.005 + w.Dot(u), MaxGap: 0.01, Stiffness: 100,
			Direction: n, ExtendedDirection: &w,
		}, ctx)
	}
	assertDerivatives(t, displaced, "extended")

	ev := displaced(mgl64.Vec3{})
	assert.InDelta(t, 0, ev.Gradient.Cross(w).Len(), 1e-12, "gradient must lie along w")
}

func TestContact_DesignsStiffnessFromMass(t *testing.T) {
	c := NewContact(3)
	ev := c.Evaluate(barrier.State{Gap: 0.005, MaxGap: 0.01, EffectiveMass: 1e-3, Direction: mgl64.Vec3{0, 0, 1}}, ctx)
	require.True(t, ev.Active())
	assert.Greater(t, ev.Hessian.At(2, 2), 0.0)
	assert.Less(t, ev.Gradient.Z(), 0.0)
}

func TestAnchors_FiniteDifferences(t *testing.T) {
	for _, d := range sampleDirections() {
		pin := NewPin(4)
		displaced := func(u mgl64.Vec3) barrier.Evaluation {
			return pin.Evaluate(barrier.State{Gap: 0.03 + d.Dot(u), MaxGap: 0.1, Stiffness: 50, Direction: d}, ctx)
		}
		assertDerivatives(t, displaced, "pin")

		wall := NewWall(5, d.Mul(3))
		displaced = func(u mgl64.Vec3) barrier.Evaluation {
			return wall.Evaluate(barrier.State{Gap: 0.03 + d.Dot(u), MaxGap: 0.1, Stiffness: 50}, ctx)
		}
		assertDerivatives(t, displaced, "wall")
	}
}

func TestPin_FixedDirectionOverridesState(t *testing.T) {
	pin := NewPin(6, WithDirection(mgl64.Vec3{1, 0, 0}))
	ev := pin.Evaluate(barrier.State{Gap: 0.01, MaxGap: 0.1, Stiffness: 10, Direction: mgl64.Vec3{0, 1, 0}}, ctx)
	assert.InDelta(t, 0, ev.Gradient.Y(), 1e-15)
	assert.Less(t, ev.Gradient.X(), 0.0)
}

func TestPin_ElasticityOnlyWhenRequested(t *testing.T) {
	h := mgl64.Diag3(mgl64.Vec3{1e4, 1e4, 1e4})
	s := barrier.State{Gap: 0.5, MaxGap: 1, EffectiveMass: 1, Direction: mgl64.Vec3{0, 0, 1}, Meta: barrier.Meta{LocalHessian: &h}}

	plain := NewPin(7).Evaluate(s, ctx)
	elastic := NewPin(8, WithElasticity()).Evaluate(s, ctx)
	assert.Greater(t, elastic.Energy, plain.Energy)
}

func TestStrain_FiniteDifferences(t *testing.T) {
	st := NewStrain(9, 0.9, 1.1)
	for _, d := range sampleDirections() {
		for _, sigma0 := range [][]float64{{1.12, 1.0}, {1.0, 0.87}, {1.13, 0.95}} {
			displaced := func(u mgl64.Vec3) barrier.Evaluation {
				sv := make([]float64, len(sigma0))
				copy(sv, sigma0)
				_, idx, _ := st.Violation(sigma0)
				sv[idx] += d.Dot(u)
				return st.Evaluate(barrier.State{Stiffness: 20, Direction: d, Meta: barrier.Meta{SingularValues: sv}}, ctx)
			}
			assertDerivatives(t, displaced, "strain")
		}
	}
}

func TestStrain_Violation(t *testing.T) {
	st := NewStrain(10, 0.8, 1.2)
	tests := []struct {
		name  string
		sigma []float64
		v     float64
		index int
		sign  float64
	}{
		{"inside band", []float64{1.0, 0.9}, 0, -1, 0},
		{"stretched", []float64{1.3, 1.0}, 0.1, 0, -1},
		{"compressed", []float64{1.0, 0.7}, 0.1, 1, 1},
		{"worst wins", []float64{1.25, 0.6}, 0.2, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, idx, sign := st.Violation(tt.sigma)
			assert.InDelta(t, tt.v, v, 1e-12)
			assert.Equal(t, tt.index, idx)
			assert.Equal(t, tt.sign, sign)
		})
	}
}

func TestFriction_FiniteDifferences(t *testing.T) {
	f := NewFriction(11, 0.4)
	t0 := mgl64.Vec3{0.01, -0.02, 0.005}
	for _, n := range sampleDirections() {
		displaced := func(u mgl64.Vec3) barrier.Evaluation {
			return f.Evaluate(barrier.State{
				Stiffness: 75, Direction: n,
				Meta: barrier.Meta{ContactForce: 2, Tangential: t0.Add(u)},
			}, ctx)
		}
		assertDerivatives(t, displaced, "friction")
	}
}

func TestFriction_StiffnessTracksForce(t *testing.T) {
	f := NewFriction(12, 0.5, WithSlipEpsilon(1e-3))
	assert.InDelta(t, 0.5*10/0.02, f.Stiffness(10, 0.02), 1e-9)
	assert.InDelta(t, 0.5*10/1e-3, f.Stiffness(10, 1e-9), 1e-9, "slip floor bounds stiffness")

	ev := f.Evaluate(barrier.State{
		Direction: mgl64.Vec3{0, 0, 1},
		Meta:      barrier.Meta{ContactForce: 10, Tangential: mgl64.Vec3{0.02, 0, 0.3}},
	}, ctx)
	k := f.Stiffness(10, 0.02)
	assert.InDelta(t, 0.5*k*0.02*0.02, ev.Energy, 1e-12)
	assert.InDelta(t, 0, ev.Gradient.Z(), 1e-12, "normal component is projected out")
	assert.InDelta(t, 0, ev.Hessian.At(2, 2), 1e-12)
}

func TestInactiveIsExactZero(t *testing.T) {
	d := mgl64.Vec3{0, 0, 1}
	tests := []struct {
		name string
		c    Constraint
		s    barrier.State
	}{
		{"contact at max gap without margin", NewContact(20, WithMargin(1)), barrier.State{Gap: 0.01, MaxGap: 0.01, Stiffness: 1, Direction: d}},
		{"contact beyond margin band", NewContact(34), barrier.State{Gap: 0.013, MaxGap: 0.01, Stiffness: 1, Direction: d}},
		{"contact beyond max gap", NewContact(21), barrier.State{Gap: 1, MaxGap: 0.01, Stiffness: 1, Direction: d}},
		{"contact zero direction", NewContact(22), barrier.State{Gap: 0.001, MaxGap: 0.01, Stiffness: 1}},
		{"contact disabled", NewContact(23, Disabled()), barrier.State{Gap: 0.001, MaxGap: 0.01, Stiffness: 1, Direction: d}},
		{"pin beyond", NewPin(24), barrier.State{Gap: 2, MaxGap: 1, Stiffness: 1, Direction: d}},
		{"pin no stiffness source", NewPin(25), barrier.State{Gap: 0.5, MaxGap: 1, Direction: d}},
		{"wall beyond", NewWall(26, d), barrier.State{Gap: 0.2, MaxGap: 0.1, Stiffness: 1}},
		{"wall zero normal", NewWall(27, mgl64.Vec3{}), barrier.State{Gap: 0.01, MaxGap: 0.1, Stiffness: 1}},
		{"strain in band", NewStrain(28, 0.9, 1.1), barrier.State{Stiffness: 1, Direction: d, Meta: barrier.Meta{SingularValues: []float64{1.1, 0.9}}}},
		{"strain no values", NewStrain(29, 0.9, 1.1), barrier.State{Stiffness: 1, Direction: d}},
		{"friction no force", NewFriction(30, 0.5), barrier.State{Direction: d, Meta: barrier.Meta{Tangential: mgl64.Vec3{1, 0, 0}}}},
		{"friction no slip", NewFriction(31, 0.5), barrier.State{Direction: d, Meta: barrier.Meta{ContactForce: 1, Tangential: mgl64.Vec3{0, 0, 1}}}},
		{"friction zero mu", NewFriction(32, 0), barrier.State{Direction: d, Meta: barrier.Meta{ContactForce: 1, Tangential: mgl64.Vec3{1, 0, 0}}}},
		{"cubic nan gap", NewCubic(33), barrier.State{Gap: math.NaN(), MaxGap: 1, Stiffness: 1, Direction: d}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, barrier.Evaluation{}, tt.c.Evaluate(tt.s, ctx))
		})
	}
}

func TestKindsAndIdentity(t *testing.T) {
	cs := []Constraint{
		NewCubic(1), NewContact(2), NewPin(3), NewWall(4, mgl64.Vec3{0, 1, 0}),
		NewStrain(5, 0.9, 1.1), NewFriction(6, 0.3),
	}
	want := []Kind{KindCubic, KindContact, KindPin, KindWall, KindStrain, KindFriction}
	for i, c := range cs {
		assert.Equal(t, ID(i+1), c.ID())
		assert.Equal(t, want[i], c.Kind())
		assert.True(t, c.Enabled())
	}

	assert.False(t, NewPin(7, Disabled()).Enabled())
}

func TestEvaluateAll_MatchesSerial(t *testing.T) {
	n := 300
	cs := make([]Constraint, n)
	states := make([]barrier.State, n)
	for i := 0; i < n; i++ {
		cs[i] = NewContact(ID(i))
		states[i] = barrier.State{
			Gap:       0.02 * float64(i%7) / 7,
			MaxGap:    0.02,
			Stiffness: float64(1 + i),
			Direction: mgl64.Vec3{0, 0, 1},
		}
	}
	got := EvaluateAll(cs, states, ctx)
	require.Len(t, got, n)
	for i := range cs {
		assert.Equal(t, cs[i].Evaluate(states[i], ctx), got[i])
	}
}

func TestDecompose(t *testing.T) {
	// stretch 1.5 along x, 0.5 along y of a flat triangle
	f := mat.NewDense(3, 2, []float64{
		1.5, 0,
		0, 0.5,
		0, 0,
	})
	d, err := Decompose(f)
	require.NoError(t, err)
	require.Len(t, d.Values, 2)
	assert.InDelta(t, 1.5, d.Values[0], 1e-12)
	assert.InDelta(t, 0.5, d.Values[1], 1e-12)

	r, c := d.U.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)

	_, err = SingularValues(mat.NewDense(3, 2, []float64{math.NaN(), 0, 0, 1, 0, 0}))
	assert.ErrorIs(t, err, dynamo.ErrInvalidState)
}

func TestDesignStiffness_MatchesLazyDesign(t *testing.T) {
	h := mgl64.Diag3(mgl64.Vec3{40, 40, 40})
	st := barrier.State{
		Gap: 0.004, MaxGap: 0.01, Direction: mgl64.Vec3{0, 0, 1}, EffectiveMass: 0.5,
		Meta: barrier.Meta{LocalHessian: &h, SingularValues: []float64{1.2, 0.98}},
	}
	tests := []struct {
		name string
		c    interface {
			Constraint
			Designer
		}
	}{
		{"cubic", NewCubic(1)},
		{"contact", NewContact(2)},
		{"pin", NewPin(3, WithElasticity())},
		{"wall", NewWall(4, mgl64.Vec3{0, 0, 1})},
		{"strain", NewStrain(5, 0.9, 1.1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			preset := st
			preset.Stiffness = 1e9
			k := tt.c.DesignStiffness(preset)
			require.Greater(t, k, 0.0)
			assert.Less(t, k, 1e9, "a frozen stiffness on the state is ignored")

			frozen := st
			frozen.Stiffness = k
			lazy := tt.c.Evaluate(st, ctx)
			got := tt.c.Evaluate(frozen, ctx)
			assert.InDelta(t, lazy.Energy, got.Energy, 1e-9*math.Max(1, math.Abs(lazy.Energy)))
		})
	}
}

func TestFriction_QuadraticPenalty(t *testing.T) {
	f := NewFriction(1, 0.4)
	n := mgl64.Vec3{0, 0, 1}
	at := func(u mgl64.Vec3) barrier.Evaluation {
		return f.Evaluate(barrier.State{Stiffness: 30, Direction: n, Meta: barrier.Meta{ContactForce: 1, Tangential: u}}, ctx)
	}
	small := at(mgl64.Vec3{0.01, 0.02, 0})
	large := at(mgl64.Vec3{0.02, 0.04, 0})
	require.True(t, small.Active())
	assert.InDelta(t, 4*small.Energy, large.Energy, 1e-12)
	assert.InDelta(t, 0.5*30*0.0005, small.Energy, 1e-12)
	assert.Equal(t, small.Hessian, large.Hessian, "curvature does not depend on slip")
}

func TestDesignStiffness_Friction(t *testing.T) {
	f := NewFriction(1, 0.5)
	st := barrier.State{
		Direction: mgl64.Vec3{0, 0, 1},
		Meta:      barrier.Meta{ContactForce: 2, Tangential: mgl64.Vec3{0.1, 0, 0.3}},
	}
	assert.InDelta(t, 0.5*2/0.1, f.DesignStiffness(st), 1e-12, "normal slip is projected out")

	st.Meta.ContactForce = 0
	assert.Equal(t, 0.0, f.DesignStiffness(st))
}
