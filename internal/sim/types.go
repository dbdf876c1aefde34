package sim

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/dynbarrier/internal/integrator"
)

// Metric folds per-tick reports into one number.
type Metric interface {
	Name() string
	Observe(sys *integrator.System, r *integrator.Report)
	Value() float64
	Reset()
}

// Observer is notified after every completed tick.
type Observer interface {
	OnTick(tick int, sys *integrator.System, r *integrator.Report)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(tick int, sys *integrator.System, r *integrator.Report)

func (f ObserverFunc) OnTick(tick int, sys *integrator.System, r *integrator.Report) {
	f(tick, sys, r)
}

type Config struct {
	Duration float64
	// SnapshotEvery records positions every N ticks; zero disables.
	SnapshotEvery int
	// StopOnUnresolved ends the run at the first tick that leaves a
	// constraint with a negative gap.
	StopOnUnresolved bool
}

type Snapshot struct {
	Tick      int
	Time      float64
	Positions []mgl64.Vec3
}

type Result struct {
	Reports    []integrator.Report
	Snapshots  []Snapshot
	Metrics    map[string]float64
	TicksTaken int
	// Incomplete counts ticks whose report flagged leftover work.
	Incomplete int
	Stopped    bool
}

// Residuals returns the final Newton residual of every tick.
func (r *Result) Residuals() []float64 {
	out := make([]float64, len(r.Reports))
	for i := range r.Reports {
		out[i] = r.Reports[i].Residual
	}
	return out
}

// MinGap returns the smallest end-of-tick gap over the run.
func (r *Result) MinGap() float64 {
	if len(r.Reports) == 0 {
		return 0
	}
	m := r.Reports[0].MinGap
	for _, rep := range r.Reports[1:] {
		if rep.MinGap < m {
			m = rep.MinGap
		}
	}
	return m
}
