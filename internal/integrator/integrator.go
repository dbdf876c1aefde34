// Package integrator advances a System by one tick of the dynamic barrier
// method: an outer loop accumulating the error-reduction fraction β around
// inexact Newton steps with frozen stiffness, a feasibility-only line
// search, and a final error-reduction pass.
package integrator

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/dynbarrier/internal/assembly"
	"github.com/san-kum/dynbarrier/internal/barrier"
	"github.com/san-kum/dynbarrier/internal/constraint"
	"github.com/san-kum/dynbarrier/internal/dynamo"
	"github.com/san-kum/dynbarrier/internal/freeze"
	"github.com/san-kum/dynbarrier/internal/linalg"
)

type Option func(*Integrator)

// WithLogger routes per-iteration diagnostics to l.
func WithLogger(l *slog.Logger) Option {
	return func(in *Integrator) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithSchedule supplies the freeze schedule instead of building one from
// the first system's settings.
func WithSchedule(s *freeze.Schedule) Option {
	return func(in *Integrator) { in.schedule = s }
}

// Integrator owns the cross-tick state of one simulation: the freeze
// schedule and the assembler's index cache. It is not safe for concurrent
// use; independent simulations use independent integrators.
type Integrator struct {
	schedule  *freeze.Schedule
	assembler *assembly.Assembler
	logger    *slog.Logger
	ticks     int
}

func New(opts ...Option) *Integrator {
	in := &Integrator{
		assembler: assembly.New(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(in)
	}
	in.logger = in.logger.With(slog.String("component", "integrator"))
	return in
}

// Schedule returns the freeze schedule, nil before the first tick.
func (in *Integrator) Schedule() *freeze.Schedule { return in.schedule }

func (in *Integrator) Ticks() int { return in.ticks }

// Step advances sys by one tick. ctx.Dt overrides the settings' Dt when
// positive. Validation failures are returned; convergence failures are
// recorded in the report.
func (in *Integrator) Step(sys *System, ctx dynamo.Context) (*Report, error) {
	if err := sys.Validate(); err != nil {
		return nil, err
	}
	set := sys.Settings
	if ctx.Dt > 0 {
		set.Dt = ctx.Dt
	}
	if in.schedule == nil {
		s, err := freeze.New(set.FreezeDamping, set.MinStiffness)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", dynamo.ErrInvalidSettings, err)
		}
		in.schedule = s
	}

	t := newTick(in, sys, set, ctx)
	if err := t.begin(); err != nil {
		return nil, err
	}
	report := &Report{Time: ctx.Time, PCGConverged: true}

	beta := 0.0
	for outer := 0; outer < set.MaxOuter; outer++ {
		report.OuterIterations++
		alpha, converged, err := t.newton(report)
		if err != nil {
			return nil, err
		}
		switch set.BetaMode {
		case dynamo.BetaFixed:
			beta += set.BetaStep
		default:
			beta += (1 - beta) * alpha
		}
		beta = math.Min(beta, 1)
		report.Converged = converged
		if (converged && set.AllowEarlyExit) || beta >= 1 {
			break
		}
	}
	report.Beta = beta

	applied, err := t.reduceError(beta)
	if err != nil {
		return nil, err
	}
	report.ErrorReduction = applied
	if applied {
		if err := t.remeasure(); err != nil {
			return nil, err
		}
	}

	t.finish(report)
	in.ticks++
	in.logger.Debug("tick",
		slog.Float64("time", ctx.Time),
		slog.Int("newton", report.NewtonIterations),
		slog.Int("outer", report.OuterIterations),
		slog.Float64("beta", report.Beta),
		slog.Float64("residual", report.Residual),
		slog.Bool("converged", report.Converged),
	)
	if report.Incomplete() {
		in.logger.Warn("incomplete resolution",
			slog.Float64("time", ctx.Time),
			slog.Int("line_search_failures", report.LineSearchFailures),
			slog.Bool("pcg_converged", report.PCGConverged),
			slog.Int("unresolved", len(report.Unresolved)),
		)
	}
	return report, nil
}

// tick holds the working buffers of one Step.
type tick struct {
	in   *Integrator
	sys  *System
	set  dynamo.Settings
	ctx  dynamo.Context
	prev []mgl64.Vec3
	pred []mgl64.Vec3
	x    []mgl64.Vec3

	meas  []Measurement
	evals []barrier.Evaluation
	grad  []mgl64.Vec3
	gaps  []float64
}

func newTick(in *Integrator, sys *System, set dynamo.Settings, ctx dynamo.Context) *tick {
	n := sys.Nodes()
	t := &tick{
		in:   in,
		sys:  sys,
		set:  set,
		ctx:  ctx,
		prev: make([]mgl64.Vec3, n),
		pred: make([]mgl64.Vec3, n),
		x:    make([]mgl64.Vec3, n),
		grad: make([]mgl64.Vec3, n),
	}
	dt := set.Dt
	for i, p := range sys.Positions {
		t.prev[i] = p
		t.x[i] = p
		t.pred[i] = p.Add(sys.Velocities[i].Mul(dt)).Add(set.Gravity.Mul(dt * dt))
	}
	return t
}

// begin runs tick-start hooks and trims caches to the active set.
func (t *tick) begin() error {
	keep := make(map[freeze.Key]struct{}, len(t.sys.Candidates))
	for _, a := range t.sys.Candidates {
		keep[freeze.Key(a.Constraint.ID())] = struct{}{}
		if ts, ok := a.Candidate.(TickStarter); ok {
			if err := ts.BeginTick(t.x, t.sys.Masses); err != nil {
				return fmt.Errorf("constraint %d: %w", a.Constraint.ID(), err)
			}
		}
	}
	t.in.schedule.Forget(keep)
	if as := t.in.assembler; as.Stale() > as.Len()/2 {
		as.Compact()
	}
	var err error
	t.gaps, err = t.feasibilityGaps(t.x)
	return err
}

// newton runs inner Newton steps until the residual drops below tolerance,
// the line search stalls or the iteration cap is hit. It returns the last
// step length taken.
func (t *tick) newton(report *Report) (float64, bool, error) {
	alpha := 1.0
	for it := 0; it < t.set.MaxNewton; it++ {
		if err := t.measure(it, true); err != nil {
			return 0, false, err
		}
		report.Residual = t.residual()
		if report.Residual < t.set.Tolerance {
			return alpha, true, nil
		}

		d, stats, err := t.solve()
		if err != nil {
			return 0, false, err
		}
		report.PCGIterations += stats.Iterations
		if !stats.Converged {
			report.PCGConverged = false
		}
		report.NewtonIterations++

		step, err := t.lineSearch(d)
		if err != nil {
			return 0, false, err
		}
		t.in.logger.Debug("newton step",
			slog.Int("iteration", it),
			slog.Float64("residual", report.Residual),
			slog.Float64("alpha", step),
			slog.Int("pcg_iterations", stats.Iterations),
		)
		if step == 0 {
			report.LineSearchFailures++
			return 0, false, nil
		}
		for i := range t.x {
			t.x[i] = t.x[i].Add(d[i].Mul(step))
		}
		if t.gaps, err = t.feasibilityGaps(t.x); err != nil {
			return 0, false, err
		}
		alpha = step
	}
	if err := t.measure(t.set.MaxNewton, true); err != nil {
		return 0, false, err
	}
	report.Residual = t.residual()
	return alpha, report.Residual < t.set.Tolerance, nil
}

// measure evaluates every candidate at x and accumulates the gradient of
// the incremental potential. With update set each designed stiffness is
// folded into the freeze schedule; otherwise the frozen values are reused.
func (t *tick) measure(iteration int, update bool) error {
	cands := t.sys.Candidates
	var local []mgl64.Mat3
	if t.sys.Elasticity != nil {
		var err error
		if local, err = t.sys.Elasticity.NodeHessians(t.x); err != nil {
			return err
		}
	}

	t.meas = make([]Measurement, len(cands))
	errs := make([]error, len(cands))
	dynamo.ParallelFor(len(cands), 16, func(start, end int) {
		for i := start; i < end; i++ {
			nodes := cands[i].Candidate.Nodes()
			m, err := cands[i].Candidate.Measure(t.x)
			if err != nil {
				errs[i] = err
				continue
			}
			m.State.EffectiveMass = effectiveMass(nodes, m.Weights, t.sys.Masses)
			if local != nil {
				h := localHessian(nodes, m.Weights, local)
				m.State.Meta.LocalHessian = &h
			}
			t.meas[i] = m
		}
	})
	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("constraint %d: %w", cands[i].Constraint.ID(), err)
		}
	}

	cs := make([]constraint.Constraint, len(cands))
	states := make([]barrier.State, len(cands))
	for i, a := range cands {
		cs[i] = a.Constraint
		s := t.meas[i].State
		if d, ok := a.Constraint.(constraint.Designer); ok && a.Constraint.Enabled() {
			key := freeze.Key(a.Constraint.ID())
			if k, frozen := t.in.schedule.Stiffness(key); frozen && !update {
				s.Stiffness = k
			} else {
				s.Stiffness = t.in.schedule.Update(key, d.DesignStiffness(s))
			}
		}
		states[i] = s
	}
	ctx := t.ctx
	ctx.Iteration = iteration
	t.evals = constraint.EvaluateAll(cs, states, ctx)

	dt2 := t.set.Dt * t.set.Dt
	for i := range t.grad {
		t.grad[i] = t.x[i].Sub(t.pred[i]).Mul(t.sys.Masses[i] / dt2)
	}
	if t.sys.Elasticity != nil {
		t.sys.Elasticity.AddGradient(t.grad, t.x)
	}
	for i, e := range t.evals {
		if !e.Active() {
			continue
		}
		for k, node := range cands[i].Candidate.Nodes() {
			t.grad[node] = t.grad[node].Add(e.Gradient.Mul(t.meas[i].Weights[k]))
		}
	}
	return nil
}

// residual is max over nodes of ‖∇E‖·Δt²/m.
func (t *tick) residual() float64 {
	dt2 := t.set.Dt * t.set.Dt
	r := 0.0
	for i, g := range t.grad {
		r = math.Max(r, g.Len()*dt2/t.sys.Masses[i])
	}
	return r
}

// remeasure refreshes the constraint evaluations at the error-reduced x
// with the stiffness frozen during the last Newton step.
func (t *tick) remeasure() error {
	return t.measure(t.set.MaxNewton, false)
}

// energy is the incremental potential at x, taking constraint energies
// from the last measurement.
func (t *tick) energy() float64 {
	dt2 := t.set.Dt * t.set.Dt
	e := 0.0
	for i, p := range t.x {
		d := p.Sub(t.pred[i])
		e += 0.5 * t.sys.Masses[i] / dt2 * d.Dot(d)
	}
	if t.sys.Elasticity != nil {
		e += t.sys.Elasticity.Energy(t.x)
	}
	for _, ev := range t.evals {
		e += ev.Energy
	}
	return e
}

// solve builds H = A + Jᵀ D J and solves H d = −∇E by PCG.
func (t *tick) solve() ([]mgl64.Vec3, linalg.SolveStats, error) {
	n := t.sys.Nodes()
	dt2 := t.set.Dt * t.set.Dt
	a := linalg.NewBlockMatrix(n)
	for i, m := range t.sys.Masses {
		if err := a.AddBlock(i, i, mgl64.Ident3().Mul(m/dt2)); err != nil {
			return nil, linalg.SolveStats{}, err
		}
	}
	if t.sys.Elasticity != nil {
		if err := t.sys.Elasticity.AddHessian(a, t.x); err != nil {
			return nil, linalg.SolveStats{}, err
		}
	}

	var blocks []assembly.ContactBlock
	var terms []jacobianTerm
	for i, e := range t.evals {
		if e.Hessian == (mgl64.Mat3{}) {
			continue
		}
		id := t.sys.Candidates[i].Constraint.ID()
		blocks = append(blocks, assembly.Block3(id, e.Hessian))
		terms = append(terms, jacobianTerm{
			id:      id,
			nodes:   t.sys.Candidates[i].Candidate.Nodes(),
			weights: t.meas[i].Weights,
			block:   e.Hessian,
		})
	}
	asm, err := t.in.assembler.Assemble(blocks, true)
	if err != nil {
		return nil, linalg.SolveStats{}, err
	}
	op := newNewtonOperator(a, asm, terms)

	rhs := make([]float64, 3*n)
	for i, g := range t.grad {
		rhs[3*i], rhs[3*i+1], rhs[3*i+2] = -g[0], -g[1], -g[2]
	}
	pre := linalg.NewBlockJacobi(op.diagonal())
	sol := make([]float64, 3*n)
	stats, err := linalg.PCG(op, pre, rhs, sol, linalg.SolveOptions{
		MaxIterations: t.set.PCGMaxIterations,
		Tolerance:     t.set.PCGTolerance,
		Relative:      true,
	})
	switch {
	case err == nil, errors.Is(err, linalg.ErrNotConverged):
	case errors.Is(err, linalg.ErrBreakdown):
		t.in.logger.Warn("pcg breakdown, using preconditioned gradient", slog.String("error", err.Error()))
		pre.Precondition(sol, rhs)
		stats.Converged = false
	default:
		return nil, stats, err
	}

	d := make([]mgl64.Vec3, n)
	for i := range d {
		d[i] = mgl64.Vec3{sol[3*i], sol[3*i+1], sol[3*i+2]}
	}
	return d, stats, nil
}

// lineSearch returns the largest α = 2⁻ᵏ, k ≤ MaxHalvings, for which both
// x + α·d and x + margin·α·d are feasible, or 0 when none is.
func (t *tick) lineSearch(d []mgl64.Vec3) (float64, error) {
	margin := math.Max(1, t.set.Margin)
	alpha := 1.0
	trial := make([]mgl64.Vec3, len(t.x))
	for h := 0; h <= t.set.MaxHalvings; h++ {
		ok := true
		for _, scale := range []float64{margin, 1} {
			for i := range trial {
				trial[i] = t.x[i].Add(d[i].Mul(scale * alpha))
			}
			feasible, err := t.feasible(trial)
			if err != nil {
				return 0, err
			}
			if !feasible {
				ok = false
				break
			}
		}
		if ok {
			return alpha, nil
		}
		alpha *= 0.5
	}
	return 0, nil
}

// feasible reports whether no candidate gap at y drops below zero, or
// below its current value for a candidate that is already penetrating.
// Non-finite geometry counts as infeasible.
func (t *tick) feasible(y []mgl64.Vec3) (bool, error) {
	for _, p := range y {
		if !dynamo.IsFinite(p) {
			return false, nil
		}
	}
	gaps, err := t.feasibilityGaps(y)
	if err != nil {
		return false, nil
	}
	for i, g := range gaps {
		if g < math.Min(0, t.gaps[i]) {
			return false, nil
		}
	}
	return true, nil
}

func (t *tick) feasibilityGaps(y []mgl64.Vec3) ([]float64, error) {
	cands := t.sys.Candidates
	gaps := make([]float64, len(cands))
	errs := make([]error, len(cands))
	dynamo.ParallelFor(len(cands), 32, func(start, end int) {
		for i := start; i < end; i++ {
			if !cands[i].Constraint.Enabled() {
				gaps[i] = math.Inf(1)
				continue
			}
			gaps[i], errs[i] = cands[i].Candidate.Gap(y)
		}
	})
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("constraint %d: %w", cands[i].Constraint.ID(), err)
		}
	}
	return gaps, nil
}

// reduceError applies δx = −β·Δt²/m·∇E when the result stays feasible.
func (t *tick) reduceError(beta float64) (bool, error) {
	if beta <= 0 {
		return false, nil
	}
	dt2 := t.set.Dt * t.set.Dt
	y := make([]mgl64.Vec3, len(t.x))
	for i, p := range t.x {
		y[i] = p.Sub(t.grad[i].Mul(beta * dt2 / t.sys.Masses[i]))
	}
	ok, err := t.feasible(y)
	if err != nil || !ok {
		return false, err
	}
	t.x = y
	gaps, err := t.feasibilityGaps(t.x)
	if err != nil {
		return false, err
	}
	t.gaps = gaps
	return true, nil
}

// finish writes positions and velocities back and fills the report.
func (t *tick) finish(report *Report) {
	dt := t.set.Dt
	for i := range t.x {
		t.sys.Velocities[i] = t.x[i].Sub(t.prev[i]).Mul(1 / dt)
		t.sys.Positions[i] = t.x[i]
	}
	report.Energy = t.energy()
	report.MinGap = math.Inf(1)
	for i, g := range t.gaps {
		report.MinGap = math.Min(report.MinGap, g)
		if g < 0 {
			report.Unresolved = append(report.Unresolved, t.sys.Candidates[i].Constraint.ID())
		}
	}
	for _, e := range t.evals {
		if e.Active() {
			report.ActiveConstraints++
		}
	}
}

// localHessian averages the elastic node blocks of a candidate weighted by
// w², the local curvature estimate fed to the stiffness designer.
func localHessian(nodes []int, w []float64, blocks []mgl64.Mat3) mgl64.Mat3 {
	var h mgl64.Mat3
	total := 0.0
	for k, n := range nodes {
		ww := w[k] * w[k]
		h = h.Add(blocks[n].Mul(ww))
		total += ww
	}
	if total > 0 {
		h = h.Mul(1 / total)
	}
	return h
}
