package metrics

import (
	"github.com/san-kum/dynbarrier/internal/integrator"
	"github.com/san-kum/dynbarrier/internal/sim"
)

// Effort averages a per-tick iteration count.
type Effort struct {
	name    string
	count   func(*integrator.Report) int
	sum     float64
	samples int
}

// NewNewtonEffort averages Newton iterations per tick.
func NewNewtonEffort() *Effort {
	return &Effort{name: "newton_iterations", count: func(r *integrator.Report) int { return r.NewtonIterations }}
}

// NewPCGEffort averages PCG iterations per tick.
func NewPCGEffort() *Effort {
	return &Effort{name: "pcg_iterations", count: func(r *integrator.Report) int { return r.PCGIterations }}
}

func (e *Effort) Name() string { return e.name }

func (e *Effort) Observe(_ *integrator.System, r *integrator.Report) {
	e.sum += float64(e.count(r))
	e.samples++
}

func (e *Effort) Value() float64 {
	if e.samples == 0 {
		return 0
	}
	return e.sum / float64(e.samples)
}

func (e *Effort) Reset() {
	e.sum = 0
	e.samples = 0
}

// Defaults is the metric set attached to every CLI run.
func Defaults() []sim.Metric {
	return []sim.Metric{
		NewEnergyDrift(),
		NewFeasibility(),
		NewMinGap(),
		NewNewtonEffort(),
		NewPCGEffort(),
	}
}
