package metrics

import (
	"math"

	"github.com/san-kum/dynbarrier/internal/integrator"
)

// Feasibility is the fraction of ticks that ended with every gap
// non-negative.
type Feasibility struct {
	name       string
	violations int
	samples    int
}

func NewFeasibility() *Feasibility {
	return &Feasibility{name: "feasibility"}
}

func (f *Feasibility) Name() string { return f.name }

func (f *Feasibility) Observe(_ *integrator.System, r *integrator.Report) {
	f.samples++
	if len(r.Unresolved) > 0 {
		f.violations++
	}
}

func (f *Feasibility) Value() float64 {
	if f.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(f.violations)/float64(f.samples)
}

func (f *Feasibility) Reset() {
	f.violations = 0
	f.samples = 0
}

// MinGap tracks the smallest finite end-of-tick gap.
type MinGap struct {
	name string
	min  float64
}

func NewMinGap() *MinGap {
	return &MinGap{name: "min_gap", min: math.Inf(1)}
}

func (m *MinGap) Name() string { return m.name }

func (m *MinGap) Observe(_ *integrator.System, r *integrator.Report) {
	if !math.IsInf(r.MinGap, 0) {
		m.min = math.Min(m.min, r.MinGap)
	}
}

// Value is zero when no gap was ever measured.
func (m *MinGap) Value() float64 {
	if math.IsInf(m.min, 1) {
		return 0
	}
	return m.min
}

func (m *MinGap) Reset() { m.min = math.Inf(1) }
