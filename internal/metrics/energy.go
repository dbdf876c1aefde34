package metrics

import (
	"math"

	"github.com/san-kum/dynbarrier/internal/integrator"
)

// Mechanical returns kinetic plus gravitational plus elastic energy of
// sys. Barrier energy is left out.
func Mechanical(sys *integrator.System) float64 {
	g := sys.Settings.Gravity
	e := 0.0
	for i, x := range sys.Positions {
		v := sys.Velocities[i]
		m := sys.Masses[i]
		e += 0.5*m*v.Dot(v) - m*g.Dot(x)
	}
	if sys.Elasticity != nil {
		e += sys.Elasticity.Energy(sys.Positions)
	}
	return e
}

// Energy averages the mechanical energy over observed ticks.
type Energy struct {
	name        string
	samples     int
	totalEnergy float64
}

func NewEnergy() *Energy {
	return &Energy{name: "energy"}
}

func (e *Energy) Name() string { return e.name }

func (e *Energy) Observe(sys *integrator.System, _ *integrator.Report) {
	e.totalEnergy += Mechanical(sys)
	e.samples++
}

func (e *Energy) Value() float64 {
	if e.samples == 0 {
		return 0
	}
	return e.totalEnergy / float64(e.samples)
}

func (e *Energy) Reset() {
	e.totalEnergy = 0
	e.samples = 0
}

// EnergyDrift is the largest relative change of mechanical energy from
// the first observed tick.
type EnergyDrift struct {
	name          string
	initialEnergy float64
	maxDrift      float64
	samples       int
}

func NewEnergyDrift() *EnergyDrift {
	return &EnergyDrift{name: "energy_drift"}
}

func (e *EnergyDrift) Name() string { return e.name }

func (e *EnergyDrift) Observe(sys *integrator.System, _ *integrator.Report) {
	energy := Mechanical(sys)
	if e.samples == 0 {
		e.initialEnergy = energy
	}
	e.samples++

	if e.initialEnergy != 0 {
		drift := math.Abs(energy-e.initialEnergy) / math.Abs(e.initialEnergy)
		e.maxDrift = math.Max(e.maxDrift, drift)
	}
}

func (e *EnergyDrift) Value() float64 {
	return e.maxDrift
}

func (e *EnergyDrift) Reset() {
	e.initialEnergy = 0
	e.maxDrift = 0
	e.samples = 0
}
