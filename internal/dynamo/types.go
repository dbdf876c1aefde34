package dynamo

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Context is the per-evaluation tick information handed to constraints.
type Context struct {
	Dt        float64
	Iteration int
	Time      float64
}

// BetaMode selects how the outer loop grows the error-reduction fraction.
type BetaMode string

const (
	BetaFixed    BetaMode = "fixed"
	BetaAdaptive BetaMode = "adaptive"
)

// Settings are the solver knobs of one simulated system. MinStiffness and
// MaxStiffness bound designed barrier stiffness; zero leaves a side open.
type Settings struct {
	Dt               float64
	MaxNewton        int
	MaxOuter         int
	Tolerance        float64
	AllowEarlyExit   bool
	PCGMaxIterations int
	PCGTolerance     float64
	MaxHalvings      int
	Margin           float64
	BetaMode         BetaMode
	BetaStep         float64
	FreezeDamping    float64
	MinStiffness     float64
	MaxStiffness     float64
	Gravity          mgl64.Vec3
}

func DefaultSettings() Settings {
	return Settings{
		Dt:               1.0 / 60.0,
		MaxNewton:        16,
		MaxOuter:         4,
		Tolerance:        1e-5,
		AllowEarlyExit:   true,
		PCGMaxIterations: 500,
		PCGTolerance:     1e-8,
		MaxHalvings:      8,
		Margin:           1.25,
		BetaMode:         BetaAdaptive,
		BetaStep:         0.25,
		FreezeDamping:    0.5,
		MinStiffness:     0,
		MaxStiffness:     0,
		Gravity:          mgl64.Vec3{0, 0, -9.8},
	}
}

// Validate reports the first setting outside its valid range.
func (s Settings) Validate() error {
	switch {
	case !(s.Dt > 0) || math.IsInf(s.Dt, 0):
		return fmt.Errorf("%w: dt must be positive, got %g", ErrInvalidSettings, s.Dt)
	case s.MaxNewton <= 0:
		return fmt.Errorf("%w: max newton iterations must be positive, got %d", ErrInvalidSettings, s.MaxNewton)
	case s.MaxOuter <= 0:
		return fmt.Errorf("%w: max outer iterations must be positive, got %d", ErrInvalidSettings, s.MaxOuter)
	case !(s.Tolerance > 0):
		return fmt.Errorf("%w: tolerance must be positive, got %g", ErrInvalidSettings, s.Tolerance)
	case s.PCGMaxIterations <= 0:
		return fmt.Errorf("%w: pcg max iterations must be positive, got %d", ErrInvalidSettings, s.PCGMaxIterations)
	case !(s.PCGTolerance > 0):
		return fmt.Errorf("%w: pcg tolerance must be positive, got %g", ErrInvalidSettings, s.PCGTolerance)
	case s.MaxHalvings < 0:
		return fmt.Errorf("%w: max halvings must be non-negative, got %d", ErrInvalidSettings, s.MaxHalvings)
	case !(s.Margin >= 1):
		return fmt.Errorf("%w: line-search margin must be >= 1, got %g", ErrInvalidSettings, s.Margin)
	case s.BetaMode != BetaFixed && s.BetaMode != BetaAdaptive:
		return fmt.Errorf("%w: unknown beta mode %q", ErrInvalidSettings, s.BetaMode)
	case s.BetaMode == BetaFixed && !(s.BetaStep > 0 && s.BetaStep <= 1):
		return fmt.Errorf("%w: beta step must be in (0,1], got %g", ErrInvalidSettings, s.BetaStep)
	case !(s.FreezeDamping >= 0 && s.FreezeDamping < 1):
		return fmt.Errorf("%w: freeze damping must be in [0,1), got %g", ErrInvalidSettings, s.FreezeDamping)
	case s.MinStiffness < 0:
		return fmt.Errorf("%w: min stiffness must be non-negative, got %g", ErrInvalidSettings, s.MinStiffness)
	case s.MaxStiffness < 0 || (s.MaxStiffness > 0 && s.MaxStiffness < s.MinStiffness):
		return fmt.Errorf("%w: max stiffness must be zero or at least %g, got %g", ErrInvalidSettings, s.MinStiffness, s.MaxStiffness)
	}
	return nil
}

// IsFinite reports whether every component of v is finite.
func IsFinite(v mgl64.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// AllFinite reports whether every vector in vs is finite.
func AllFinite(vs ...mgl64.Vec3) bool {
	for _, v := range vs {
		if !IsFinite(v) {
			return false
		}
	}
	return true
}

// Configurable exposes named scalar parameters for presets and the CLI.
type Configurable interface {
	GetParams() map[string]float64
	SetParam(name string, value float64) error
}
