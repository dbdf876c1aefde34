// Package automation runs scripted batches of scenes and randomized
// robustness trials.
package automation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/dynbarrier/internal/config"
	"github.com/san-kum/dynbarrier/internal/experiment"
	"github.com/san-kum/dynbarrier/internal/integrator"
	"github.com/san-kum/dynbarrier/internal/metrics"
	"github.com/san-kum/dynbarrier/internal/scene"
	"github.com/san-kum/dynbarrier/internal/sim"
)

// Scenario defines a scripted sequence of runs.
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Steps       []ScenarioStep `yaml:"steps"`
}

// ScenarioStep is one run of a scenario. Preset, when set, is the base the
// other fields override.
type ScenarioStep struct {
	Scene    string             `yaml:"scene"`
	Preset   string             `yaml:"preset"`
	Duration float64            `yaml:"duration"`
	Set      map[string]float64 `yaml:"set"`
	Params   map[string]float64 `yaml:"params"`
	SaveAs   string             `yaml:"save_as"`
}

// StepResult pairs a step's resolved config with its outcome.
type StepResult struct {
	Name   string
	Config *config.Config
	Result *sim.Result
}

// LoadScenario loads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, err
	}
	if len(scenario.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q has no steps", scenario.Name)
	}
	return &scenario, nil
}

// Config resolves a step into a run configuration.
func (s ScenarioStep) Config() (*config.Config, error) {
	cfg := config.DefaultConfig()
	cfg.Scene = s.Scene
	if s.Preset != "" {
		cfg = config.GetPreset(s.Scene, s.Preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s/%s", s.Scene, s.Preset)
		}
	}
	if s.Duration > 0 {
		cfg.Duration = s.Duration
	}
	keys := make([]string, 0, len(s.Set))
	for k := range s.Set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := cfg.Set(k, s.Set[k]); err != nil {
			return nil, err
		}
	}
	if len(s.Params) > 0 && cfg.Params == nil {
		cfg.Params = make(map[string]float64, len(s.Params))
	}
	for k, v := range s.Params {
		cfg.Params[k] = v
	}
	return cfg, nil
}

// RunScenario executes all steps in order and stops at the first failure,
// returning the steps completed so far.
func RunScenario(ctx context.Context, scenario *Scenario, reg *scene.Registry, logger *slog.Logger) ([]StepResult, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	results := make([]StepResult, 0, len(scenario.Steps))

	for i, step := range scenario.Steps {
		logger.Info("scenario step", slog.String("scenario", scenario.Name), slog.Int("step", i+1), slog.String("scene", step.Scene))

		cfg, err := step.Config()
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i+1, err)
		}

		exp := experiment.New(cfg, logger)
		if err := exp.Setup(reg, metrics.Defaults()); err != nil {
			return results, fmt.Errorf("step %d setup: %w", i+1, err)
		}

		result, err := exp.Run(ctx)
		if err != nil {
			return results, fmt.Errorf("step %d run: %w", i+1, err)
		}

		name := step.SaveAs
		if name == "" {
			name = fmt.Sprintf("%s_%d", step.Scene, i+1)
		}
		results = append(results, StepResult{Name: name, Config: cfg, Result: result})
	}

	return results, nil
}

// MonteCarloConfig perturbs scene parameters uniformly by up to
// Perturbation times their base value.
type MonteCarloConfig struct {
	Base         *config.Config
	Params       []string
	Perturbation float64
	NumTrials    int
	Seed         int64
}

// MonteCarloResult is the outcome of one trial.
type MonteCarloResult struct {
	TrialID  int
	Params   scene.Params
	Feasible bool
	MinGap   float64
	Newton   int
}

// RunMonteCarlo runs NumTrials perturbed copies of the base config
// concurrently and reports which stayed feasible.
func RunMonteCarlo(ctx context.Context, cfg *MonteCarloConfig, reg *scene.Registry, logger *slog.Logger) ([]MonteCarloResult, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.NumTrials <= 0 {
		return nil, fmt.Errorf("number of trials must be positive, got %d", cfg.NumTrials)
	}
	defaults, err := reg.Defaults(cfg.Base.Scene)
	if err != nil {
		return nil, err
	}
	for _, p := range cfg.Params {
		if _, ok := defaults[p]; !ok {
			return nil, fmt.Errorf("scene %s has no parameter %s", cfg.Base.Scene, p)
		}
	}
	settings, err := cfg.Base.Settings()
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	trials := make([]scene.Params, cfg.NumTrials)
	for i := range trials {
		p := scene.Params{}
		for k, v := range cfg.Base.Params {
			p[k] = v
		}
		for _, name := range cfg.Params {
			base := p.Get(name, defaults[name])
			p[name] = base * (1 + (rng.Float64()*2-1)*cfg.Perturbation)
		}
		trials[i] = p
	}

	systems := make([]*integrator.System, cfg.NumTrials)
	for i, p := range trials {
		sc, err := reg.Build(cfg.Base.Scene, p, settings)
		if err != nil {
			return nil, fmt.Errorf("trial %d: %w", i, err)
		}
		systems[i] = sc.System
	}

	ens := sim.NewEnsemble(func() *sim.Runner {
		return sim.New(integrator.New(integrator.WithLogger(logger)), sim.WithLogger(logger))
	})
	results, err := ens.Run(ctx, systems, sim.Config{Duration: cfg.Base.Duration})
	if err != nil {
		return nil, err
	}

	out := make([]MonteCarloResult, cfg.NumTrials)
	for i, res := range results {
		feasible := true
		newton := 0
		for _, r := range res.Reports {
			if len(r.Unresolved) > 0 {
				feasible = false
			}
			newton += r.NewtonIterations
		}
		out[i] = MonteCarloResult{
			TrialID:  i,
			Params:   trials[i],
			Feasible: feasible,
			MinGap:   res.MinGap(),
			Newton:   newton,
		}
	}
	return out, nil
}

// MonteCarloStats counts feasible and infeasible trials.
func MonteCarloStats(results []MonteCarloResult) (feasible int, infeasible int) {
	for _, r := range results {
		if r.Feasible {
			feasible++
		} else {
			infeasible++
		}
	}
	return
}
