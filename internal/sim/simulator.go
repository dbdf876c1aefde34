package sim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/san-kum/dynbarrier/internal/dynamo"
	"github.com/san-kum/dynbarrier/internal/integrator"
)

// Runner advances one system tick by tick with a single integrator, so
// stiffness memory and assembly caches carry across the run.
type Runner struct {
	in        *integrator.Integrator
	metrics   []Metric
	observers []Observer
	logger    *slog.Logger
	pool      *PositionPool
}

type Option func(*Runner)

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func New(in *integrator.Integrator, opts ...Option) *Runner {
	r := &Runner{
		in:        in,
		metrics:   make([]Metric, 0),
		observers: make([]Observer, 0),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "runner"))
	return r
}

func (r *Runner) AddMetric(m Metric)     { r.metrics = append(r.metrics, m) }
func (r *Runner) AddObserver(o Observer) { r.observers = append(r.observers, o) }

// Integrator returns the integrator the runner steps with.
func (r *Runner) Integrator() *integrator.Integrator { return r.in }

// Ticks is the number of whole ticks that fit in the configured duration.
func Ticks(duration, dt float64) int {
	return int(math.Floor(duration/dt + 1e-9))
}

func (r *Runner) Run(ctx context.Context, sys *integrator.System, cfg Config) (*Result, error) {
	if err := r.validateConfig(sys, cfg); err != nil {
		return nil, err
	}

	steps := Ticks(cfg.Duration, sys.Settings.Dt)
	result := &Result{
		Reports: make([]integrator.Report, 0, steps),
		Metrics: make(map[string]float64),
	}
	if cfg.SnapshotEvery > 0 {
		if r.pool == nil || r.pool.Size() != sys.Nodes() {
			r.pool = NewPositionPool(sys.Nodes())
		}
		result.Snapshots = append(result.Snapshots, Snapshot{Positions: r.pool.GetAndCopy(sys.Positions)})
	}

	for _, m := range r.metrics {
		m.Reset()
	}

	r.logger.Info("run started",
		slog.Int("ticks", steps),
		slog.Int("nodes", sys.Nodes()),
		slog.Int("candidates", len(sys.Candidates)))

	t := 0.0
	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return result, fmt.Errorf("%w after %d ticks: %w", dynamo.ErrContextCanceled, i, ctx.Err())
		default:
		}

		report, err := r.in.Step(sys, dynamo.Context{Dt: sys.Settings.Dt, Time: t})
		if err != nil {
			return result, &dynamo.TickError{Tick: i, Time: t, Wrapped: err}
		}
		t += sys.Settings.Dt
		result.TicksTaken++
		result.Reports = append(result.Reports, *report)
		if report.Incomplete() {
			result.Incomplete++
		}

		for _, m := range r.metrics {
			m.Observe(sys, report)
		}
		for _, obs := range r.observers {
			obs.OnTick(i, sys, report)
		}

		if cfg.SnapshotEvery > 0 && (i+1)%cfg.SnapshotEvery == 0 {
			result.Snapshots = append(result.Snapshots, Snapshot{
				Tick:      i + 1,
				Time:      t,
				Positions: r.pool.GetAndCopy(sys.Positions),
			})
		}

		if cfg.StopOnUnresolved && len(report.Unresolved) > 0 {
			r.logger.Warn("run stopped on unresolved constraints",
				slog.Int("tick", i),
				slog.Any("ids", report.Unresolved))
			result.Stopped = true
			break
		}
	}

	for _, m := range r.metrics {
		result.Metrics[m.Name()] = m.Value()
	}

	r.logger.Info("run finished",
		slog.Int("ticks", result.TicksTaken),
		slog.Int("incomplete", result.Incomplete))
	return result, nil
}

// Release hands snapshot buffers of a finished result back to the pool.
func (r *Runner) Release(res *Result) {
	if r.pool == nil || res == nil {
		return
	}
	for i := range res.Snapshots {
		r.pool.Put(res.Snapshots[i].Positions)
		res.Snapshots[i].Positions = nil
	}
	res.Snapshots = nil
}

func (r *Runner) validateConfig(sys *integrator.System, cfg Config) error {
	if sys == nil {
		return fmt.Errorf("%w: nil system", dynamo.ErrInvalidSettings)
	}
	if !(cfg.Duration > 0) || math.IsInf(cfg.Duration, 0) {
		return fmt.Errorf("%w: duration must be positive, got %g", dynamo.ErrInvalidSettings, cfg.Duration)
	}
	if cfg.SnapshotEvery < 0 {
		return fmt.Errorf("%w: snapshot interval must be non-negative, got %d", dynamo.ErrInvalidSettings, cfg.SnapshotEvery)
	}
	return sys.Validate()
}

// RunWithCallback steps until the duration elapses or callback returns
// false. Nothing is recorded.
func (r *Runner) RunWithCallback(ctx context.Context, sys *integrator.System, cfg Config, callback func(tick int, rep *integrator.Report) bool) error {
	if err := r.validateConfig(sys, cfg); err != nil {
		return err
	}

	steps := Ticks(cfg.Duration, sys.Settings.Dt)
	t := 0.0
	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %d ticks: %w", dynamo.ErrContextCanceled, i, ctx.Err())
		default:
		}

		report, err := r.in.Step(sys, dynamo.Context{Dt: sys.Settings.Dt, Time: t})
		if err != nil {
			return &dynamo.TickError{Tick: i, Time: t, Wrapped: err}
		}
		t += sys.Settings.Dt

		if !callback(i, report) {
			return nil
		}
	}
	return nil
}
