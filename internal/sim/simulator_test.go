package sim

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/dynbarrier/internal/constraint"
	"github.com/san-kum/dynbarrier/internal/dynamo"
	"github.com/san-kum/dynbarrier/internal/integrator"
)

func floorNode(height float64) *integrator.System {
	return &integrator.System{
		Positions:  []mgl64.Vec3{{0, 0, height}},
		Velocities: []mgl64.Vec3{{}},
		Masses:     []float64{1},
		Candidates: []integrator.Active{{
			Constraint: constraint.NewWall(1, mgl64.Vec3{0, 0, 1}),
			Candidate:  &integrator.Wall{Node: 0, Normal: mgl64.Vec3{0, 0, 1}, MaxGap: 0.02},
		}},
		Settings: dynamo.DefaultSettings(),
	}
}

func TestTicks(t *testing.T) {
	tests := []struct {
		duration, dt float64
		want         int
	}{
		{1, 0.1, 10},
		{1, 1.0 / 60, 60},
		{0.05, 0.1, 0},
		{0.25, 0.1, 2},
	}
	for _, tt := range tests {
		if got := Ticks(tt.duration, tt.dt); got != tt.want {
			t.Errorf("Ticks(%v, %v) = %d, want %d", tt.duration, tt.dt, got, tt.want)
		}
	}
}

func TestRunnerRun(t *testing.T) {
	sys := floorNode(0.1)
	r := New(integrator.New())

	result, err := r.Run(context.Background(), sys, Config{Duration: 0.5, SnapshotEvery: 10})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if result.TicksTaken != 30 {
		t.Errorf("expected 30 ticks, got %d", result.TicksTaken)
	}
	if len(result.Reports) != 30 {
		t.Errorf("expected 30 reports, got %d", len(result.Reports))
	}
	if len(result.Snapshots) != 4 {
		t.Errorf("expected 4 snapshots, got %d", len(result.Snapshots))
	}
	if result.Snapshots[0].Positions[0][2] != 0.1 {
		t.Errorf("first snapshot should hold the initial state, got %v", result.Snapshots[0].Positions[0])
	}
	last := result.Snapshots[len(result.Snapshots)-1]
	if last.Tick != 30 || last.Positions[0] != sys.Positions[0] {
		t.Errorf("last snapshot tick %d at %v, want tick 30 at %v", last.Tick, last.Positions[0], sys.Positions[0])
	}
	if math.Abs(result.Reports[29].Time-29*sys.Settings.Dt) > 1e-12 {
		t.Errorf("report time = %v", result.Reports[29].Time)
	}
	if result.MinGap() < 0 {
		t.Errorf("node penetrated the floor: min gap %v", result.MinGap())
	}
	if len(result.Residuals()) != 30 {
		t.Errorf("expected 30 residuals, got %d", len(result.Residuals()))
	}

	r.Release(result)
	if result.Snapshots != nil {
		t.Error("release should drop snapshots")
	}
}

func TestRunnerInvalidConfig(t *testing.T) {
	r := New(integrator.New())

	tests := []struct {
		name string
		sys  *integrator.System
		cfg  Config
	}{
		{"zero duration", floorNode(0.1), Config{Duration: 0}},
		{"negative duration", floorNode(0.1), Config{Duration: -1.0}},
		{"negative snapshots", floorNode(0.1), Config{Duration: 1, SnapshotEvery: -1}},
		{"nil system", nil, Config{Duration: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Run(context.Background(), tt.sys, tt.cfg)
			if !errors.Is(err, dynamo.ErrInvalidSettings) {
				t.Errorf("expected ErrInvalidSettings, got %v", err)
			}
		})
	}

	sys := floorNode(0.1)
	sys.Masses = nil
	if _, err := r.Run(context.Background(), sys, Config{Duration: 1}); !errors.Is(err, dynamo.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestRunnerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := New(integrator.New()).Run(ctx, floorNode(0.1), Config{Duration: 1})
	if !errors.Is(err, dynamo.ErrContextCanceled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected a cancellation error, got %v", err)
	}
	if result == nil || result.TicksTaken != 0 {
		t.Errorf("expected an empty partial result, got %+v", result)
	}
}

type testMetric struct {
	count int
}

func (t *testMetric) Name() string                                   { return "test" }
func (t *testMetric) Observe(*integrator.System, *integrator.Report) { t.count++ }
func (t *testMetric) Value() float64                                 { return float64(t.count) }
func (t *testMetric) Reset()                                         { t.count = 0 }

func TestRunnerMetricsAndObservers(t *testing.T) {
	r := New(integrator.New())
	metric := &testMetric{}
	r.AddMetric(metric)

	var ticks []int
	r.AddObserver(ObserverFunc(func(tick int, _ *integrator.System, rep *integrator.Report) {
		ticks = append(ticks, tick)
		if rep == nil {
			t.Error("observer got a nil report")
		}
	}))

	result, err := r.Run(context.Background(), floorNode(0.1), Config{Duration: 10.0 / 60})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if v, ok := result.Metrics["test"]; !ok || v != 10 {
		t.Errorf("metric = %v (present %v), want 10", v, ok)
	}
	if len(ticks) != 10 || ticks[9] != 9 {
		t.Errorf("observer ticks = %v", ticks)
	}
}

func TestRunnerTickError(t *testing.T) {
	sys := floorNode(0.1)
	r := New(integrator.New())
	r.AddObserver(ObserverFunc(func(tick int, s *integrator.System, _ *integrator.Report) {
		if tick == 2 {
			s.Positions[0][0] = math.NaN()
		}
	}))

	result, err := r.Run(context.Background(), sys, Config{Duration: 1})
	var te *dynamo.TickError
	if !errors.As(err, &te) {
		t.Fatalf("expected a TickError, got %v", err)
	}
	if te.Tick != 3 || !errors.Is(err, dynamo.ErrInvalidState) {
		t.Errorf("unexpected tick error %v", te)
	}
	if result.TicksTaken != 3 {
		t.Errorf("expected 3 completed ticks, got %d", result.TicksTaken)
	}
}

func TestRunWithCallback(t *testing.T) {
	calls := 0
	err := New(integrator.New()).RunWithCallback(context.Background(), floorNode(0.1), Config{Duration: 1},
		func(tick int, _ *integrator.Report) bool {
			calls++
			return tick < 4
		})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if calls != 5 {
		t.Errorf("expected 5 callbacks, got %d", calls)
	}
}

func TestEnsemble(t *testing.T) {
	systems := []*integrator.System{floorNode(1), floorNode(2), floorNode(3)}
	e := NewEnsemble(func() *Runner { return New(integrator.New()) })

	results, err := e.Run(context.Background(), systems, Config{Duration: 0.25})
	if err != nil {
		t.Fatalf("ensemble failed: %v", err)
	}
	for i, res := range results {
		if res.TicksTaken != 15 {
			t.Errorf("system %d: expected 15 ticks, got %d", i, res.TicksTaken)
		}
	}
	if systems[2].Positions[0][2] <= systems[0].Positions[0][2] {
		t.Error("systems should advance independently")
	}
}
