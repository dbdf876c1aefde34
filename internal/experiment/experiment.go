// Package experiment ties a config, a scene and a runner into one run.
package experiment

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/san-kum/dynbarrier/internal/config"
	"github.com/san-kum/dynbarrier/internal/integrator"
	"github.com/san-kum/dynbarrier/internal/scene"
	"github.com/san-kum/dynbarrier/internal/sim"
)

type Experiment struct {
	cfg    *config.Config
	logger *slog.Logger
	scene  *scene.Scene
	runner *sim.Runner
}

func New(cfg *config.Config, logger *slog.Logger) *Experiment {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Experiment{cfg: cfg, logger: logger}
}

// Setup builds the scene and a runner carrying the given metrics.
func (e *Experiment) Setup(reg *scene.Registry, metrics []sim.Metric) error {
	settings, err := e.cfg.Settings()
	if err != nil {
		return err
	}
	sc, err := reg.Build(e.cfg.Scene, e.cfg.Params, settings)
	if err != nil {
		return err
	}
	in := integrator.New(integrator.WithLogger(e.logger))
	e.scene = sc
	e.runner = sim.New(in, sim.WithLogger(e.logger))
	for _, m := range metrics {
		e.runner.AddMetric(m)
	}
	return nil
}

func (e *Experiment) Run(ctx context.Context) (*sim.Result, error) {
	if e.runner == nil {
		return nil, fmt.Errorf("experiment not setup")
	}
	return e.runner.Run(ctx, e.scene.System, sim.Config{
		Duration:      e.cfg.Duration,
		SnapshotEvery: e.cfg.Snapshot,
	})
}

func (e *Experiment) Config() *config.Config { return e.cfg }

func (e *Experiment) Scene() *scene.Scene { return e.scene }

// GetRunner returns the underlying runner for adding observers.
func (e *Experiment) GetRunner() *sim.Runner {
	return e.runner
}

// SweepPoint is one value of a sweep and its outcome.
type SweepPoint struct {
	Value  float64
	Result *sim.Result
}

// Sweep runs base once per value of a solver setting, concurrently, with
// fresh metrics per run.
func Sweep(ctx context.Context, base *config.Config, key string, values []float64, reg *scene.Registry, metrics func() []sim.Metric, logger *slog.Logger) ([]SweepPoint, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if key == "duration" {
		return nil, fmt.Errorf("duration cannot be swept")
	}
	systems := make([]*integrator.System, len(values))
	for i, v := range values {
		cfg := base.Clone()
		if err := cfg.Set(key, v); err != nil {
			return nil, err
		}
		settings, err := cfg.Settings()
		if err != nil {
			return nil, fmt.Errorf("%s=%g: %w", key, v, err)
		}
		sc, err := reg.Build(cfg.Scene, cfg.Params, settings)
		if err != nil {
			return nil, err
		}
		systems[i] = sc.System
	}

	ens := sim.NewEnsemble(func() *sim.Runner {
		r := sim.New(integrator.New(integrator.WithLogger(logger)), sim.WithLogger(logger))
		if metrics != nil {
			for _, m := range metrics() {
				r.AddMetric(m)
			}
		}
		return r
	})
	results, err := ens.Run(ctx, systems, sim.Config{Duration: base.Duration})
	if err != nil {
		return nil, err
	}

	points := make([]SweepPoint, len(values))
	for i, v := range values {
		points[i] = SweepPoint{Value: v, Result: results[i]}
	}
	return points, nil
}
