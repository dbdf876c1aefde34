package metrics

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/dynbarrier/internal/constraint"
	"github.com/san-kum/dynbarrier/internal/dynamo"
	"github.com/san-kum/dynbarrier/internal/elastic"
	"github.com/san-kum/dynbarrier/internal/integrator"
)

func twoNodes() *integrator.System {
	return &integrator.System{
		Positions:  []mgl64.Vec3{{0, 0, 1}, {0, 0, 2}},
		Velocities: []mgl64.Vec3{{3, 0, 0}, {0, 0, 0}},
		Masses:     []float64{2, 1},
		Settings:   dynamo.DefaultSettings(),
	}
}

func TestMechanical(t *testing.T) {
	sys := twoNodes()
	// ½·2·9 + 2·9.8·1 + 1·9.8·2
	want := 9 + 19.6 + 19.6
	if got := Mechanical(sys); math.Abs(got-want) > 1e-12 {
		t.Errorf("Mechanical = %v, want %v", got, want)
	}

	net := elastic.NewNetwork(2)
	if err := net.Add(0, 1, 10, 0.5, nil); err != nil {
		t.Fatal(err)
	}
	sys.Elasticity = net
	// spring stretched by 0.5
	if got := Mechanical(sys); math.Abs(got-(want+0.5*10*0.25)) > 1e-12 {
		t.Errorf("Mechanical with spring = %v", got)
	}
}

func TestEnergyReset(t *testing.T) {
	m := NewEnergy()
	m.Observe(twoNodes(), &integrator.Report{})
	if m.Value() == 0 {
		t.Error("expected non-zero energy")
	}
	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero energy after reset")
	}
}

func TestEnergyDrift(t *testing.T) {
	sys := twoNodes()
	m := NewEnergyDrift()
	m.Observe(sys, &integrator.Report{})
	if m.Value() != 0 {
		t.Errorf("first sample drift = %v, want 0", m.Value())
	}
	e0 := Mechanical(sys)
	sys.Velocities[0] = mgl64.Vec3{}
	m.Observe(sys, &integrator.Report{})
	want := 9 / e0
	if math.Abs(m.Value()-want) > 1e-12 {
		t.Errorf("drift = %v, want %v", m.Value(), want)
	}
}

func TestFeasibility(t *testing.T) {
	f := NewFeasibility()
	if f.Value() != 1 {
		t.Errorf("empty feasibility = %v, want 1", f.Value())
	}
	f.Observe(nil, &integrator.Report{})
	f.Observe(nil, &integrator.Report{Unresolved: []constraint.ID{4}})
	if f.Value() != 0.5 {
		t.Errorf("feasibility = %v, want 0.5", f.Value())
	}
}

func TestMinGap(t *testing.T) {
	m := NewMinGap()
	if m.Value() != 0 {
		t.Errorf("unobserved min gap = %v, want 0", m.Value())
	}
	m.Observe(nil, &integrator.Report{MinGap: math.Inf(1)})
	m.Observe(nil, &integrator.Report{MinGap: 0.3})
	m.Observe(nil, &integrator.Report{MinGap: 0.1})
	if m.Value() != 0.1 {
		t.Errorf("min gap = %v, want 0.1", m.Value())
	}
	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero after reset")
	}
}

func TestEffort(t *testing.T) {
	newton, pcg := NewNewtonEffort(), NewPCGEffort()
	for _, r := range []*integrator.Report{
		{NewtonIterations: 2, PCGIterations: 10},
		{NewtonIterations: 4, PCGIterations: 30},
	} {
		newton.Observe(nil, r)
		pcg.Observe(nil, r)
	}
	if newton.Value() != 3 || pcg.Value() != 20 {
		t.Errorf("effort = %v/%v, want 3/20", newton.Value(), pcg.Value())
	}
	if len(Defaults()) != 5 {
		t.Errorf("expected five default metrics, got %d", len(Defaults()))
	}
}

