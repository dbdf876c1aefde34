package config

import (
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/dynbarrier/internal/dynamo"
)

const (
	DefaultScene    = "drop"
	DefaultDt       = 1.0 / 60.0
	DefaultDuration = 2.0
	DefaultMargin   = 1.25
	DefaultGravity  = -9.8
)

type Config struct {
	Scene    string             `yaml:"scene"`
	Duration float64            `yaml:"duration"`
	Snapshot int                `yaml:"snapshot_every"`
	Solver   SolverConfig       `yaml:"solver"`
	Params   map[string]float64 `yaml:"params,omitempty"`
}

type SolverConfig struct {
	Dt               float64    `yaml:"dt"`
	MaxNewton        int        `yaml:"max_newton"`
	MaxOuter         int        `yaml:"max_outer"`
	Tolerance        float64    `yaml:"tolerance"`
	AllowEarlyExit   bool       `yaml:"allow_early_exit"`
	PCGMaxIterations int        `yaml:"pcg_max_iterations"`
	PCGTolerance     float64    `yaml:"pcg_tolerance"`
	MaxHalvings      int        `yaml:"max_halvings"`
	Margin           float64    `yaml:"margin"`
	BetaMode         string     `yaml:"beta_mode"`
	BetaStep         float64    `yaml:"beta_step"`
	FreezeDamping    float64    `yaml:"freeze_damping"`
	MinStiffness     float64    `yaml:"min_stiffness"`
	MaxStiffness     float64    `yaml:"max_stiffness"`
	Gravity          [3]float64 `yaml:"gravity,flow"`
}

func DefaultConfig() *Config {
	d := dynamo.DefaultSettings()
	return &Config{
		Scene:    DefaultScene,
		Duration: DefaultDuration,
		Solver: SolverConfig{
			Dt:               DefaultDt,
			MaxNewton:        d.MaxNewton,
			MaxOuter:         d.MaxOuter,
			Tolerance:        d.Tolerance,
			AllowEarlyExit:   d.AllowEarlyExit,
			PCGMaxIterations: d.PCGMaxIterations,
			PCGTolerance:     d.PCGTolerance,
			MaxHalvings:      d.MaxHalvings,
			Margin:           DefaultMargin,
			BetaMode:         string(d.BetaMode),
			BetaStep:         d.BetaStep,
			FreezeDamping:    d.FreezeDamping,
			MinStiffness:     d.MinStiffness,
			MaxStiffness:     d.MaxStiffness,
			Gravity:          [3]float64{0, 0, DefaultGravity},
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Settings converts the solver section and validates it.
func (c *Config) Settings() (dynamo.Settings, error) {
	s := dynamo.Settings{
		Dt:               c.Solver.Dt,
		MaxNewton:        c.Solver.MaxNewton,
		MaxOuter:         c.Solver.MaxOuter,
		Tolerance:        c.Solver.Tolerance,
		AllowEarlyExit:   c.Solver.AllowEarlyExit,
		PCGMaxIterations: c.Solver.PCGMaxIterations,
		PCGTolerance:     c.Solver.PCGTolerance,
		MaxHalvings:      c.Solver.MaxHalvings,
		Margin:           c.Solver.Margin,
		BetaMode:         dynamo.BetaMode(c.Solver.BetaMode),
		BetaStep:         c.Solver.BetaStep,
		FreezeDamping:    c.Solver.FreezeDamping,
		MinStiffness:     c.Solver.MinStiffness,
		MaxStiffness:     c.Solver.MaxStiffness,
		Gravity:          mgl64.Vec3(c.Solver.Gravity),
	}
	if err := s.Validate(); err != nil {
		return dynamo.Settings{}, err
	}
	return s, nil
}

// Set assigns a solver setting by its YAML key. It is the hook behind the
// CLI's --set flag and parameter sweeps.
func (c *Config) Set(key string, value float64) error {
	s := &c.Solver
	switch key {
	case "dt":
		s.Dt = value
	case "max_newton":
		s.MaxNewton = int(value)
	case "max_outer":
		s.MaxOuter = int(value)
	case "tolerance":
		s.Tolerance = value
	case "allow_early_exit":
		s.AllowEarlyExit = value != 0
	case "pcg_max_iterations":
		s.PCGMaxIterations = int(value)
	case "pcg_tolerance":
		s.PCGTolerance = value
	case "max_halvings":
		s.MaxHalvings = int(value)
	case "margin":
		s.Margin = value
	case "beta_step":
		s.BetaStep = value
	case "freeze_damping":
		s.FreezeDamping = value
	case "min_stiffness":
		s.MinStiffness = value
	case "max_stiffness":
		s.MaxStiffness = value
	case "gravity":
		s.Gravity = [3]float64{0, 0, value}
	case "duration":
		c.Duration = value
	default:
		return fmt.Errorf("unknown setting: %s", key)
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	if c.Params != nil {
		out.Params = make(map[string]float64, len(c.Params))
		for k, v := range c.Params {
			out.Params[k] = v
		}
	}
	return &out
}
