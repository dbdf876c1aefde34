// Package scene builds ready-to-step systems for the CLI, the run loop and
// the scenario tests. Every builder reads named scalar parameters, falling
// back to the scene's defaults for anything not supplied.
package scene

import (
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/dynbarrier/internal/constraint"
	"github.com/san-kum/dynbarrier/internal/dynamo"
	"github.com/san-kum/dynbarrier/internal/elastic"
	"github.com/san-kum/dynbarrier/internal/integrator"
)

// Params are named scalar scene parameters.
type Params map[string]float64

// Get returns p[name] or def when the parameter is absent.
func (p Params) Get(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

func (p Params) count(name string, def float64) (int, error) {
	v := p.Get(name, def)
	n := int(v)
	if float64(n) != v || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %g", dynamo.ErrInvalidSettings, name, v)
	}
	return n, nil
}

func (p Params) positive(name string, def float64) (float64, error) {
	v := p.Get(name, def)
	if !(v > 0) {
		return 0, fmt.Errorf("%w: %s must be positive, got %g", dynamo.ErrInvalidSettings, name, v)
	}
	return v, nil
}

// flag reads a 0/1 switch; any non-zero value is on.
func (p Params) flag(name string) bool { return p.Get(name, 0) != 0 }

// Scene is a built system plus the collaborators a caller may want to
// inspect or tune between ticks.
type Scene struct {
	Name    string
	System  *integrator.System
	Network *elastic.Network
}

// Builder constructs a scene from parameters and solver settings.
type Builder func(p Params, set dynamo.Settings) (*Scene, error)

type entry struct {
	build    Builder
	defaults Params
}

// Registry maps scene names to builders.
type Registry struct {
	scenes map[string]entry
}

func NewRegistry() *Registry {
	r := &Registry{scenes: make(map[string]entry)}
	r.Register("drop", buildDrop, Params{"nodes": 4, "spacing": 0.1, "height": 0.3, "speed": 0, "mass": 0.05, "stiffness": 800, "gap": 0.02})
	r.Register("slide", buildSlide, Params{"height": 0.005, "speed": 2, "mass": 1, "mu": 0.4, "gap": 0.01})
	r.Register("chain", buildChain, Params{"nodes": 8, "spacing": 0.1, "mass": 0.02, "stiffness": 400, "radius": 0.005})
	r.Register("sheet", buildSheet, Params{"nx": 4, "ny": 4, "spacing": 0.1, "mass": 0.01, "stiffness": 200, "stretch": 1.1, "compression": 0.9, "band": 0.05, "strain": 1})
	r.Register("collide", buildCollide, Params{"height": 0.2, "speed": 1, "mass": 0.1, "gap": 0.02, "radius": 0.001, "extended": 0})
	r.Register("cross", buildCross, Params{"height": 0.2, "speed": 1, "mass": 0.1, "stiffness": 500, "gap": 0.02, "radius": 0.001, "extended": 0})
	r.Register("ramp", buildRamp, Params{"angle": 20, "height": 0.005, "speed": 0, "mass": 0.1, "gap": 0.01, "mu": 0})
	return r
}

// Register adds or replaces a scene.
func (r *Registry) Register(name string, b Builder, defaults Params) {
	r.scenes[name] = entry{build: b, defaults: defaults}
}

// Build merges p over the scene defaults and runs its builder.
func (r *Registry) Build(name string, p Params, set dynamo.Settings) (*Scene, error) {
	e, ok := r.scenes[name]
	if !ok {
		return nil, fmt.Errorf("unknown scene: %s", name)
	}
	merged := make(Params, len(e.defaults)+len(p))
	for k, v := range e.defaults {
		merged[k] = v
	}
	for k, v := range p {
		if _, known := e.defaults[k]; !known {
			return nil, fmt.Errorf("scene %s: unknown parameter %q", name, k)
		}
		merged[k] = v
	}
	sc, err := e.build(merged, set)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", name, err)
	}
	sc.Name = name
	if err := sc.System.Validate(); err != nil {
		return nil, fmt.Errorf("scene %s: %w", name, err)
	}
	return sc, nil
}

// Defaults returns a copy of the default parameters of a scene.
func (r *Registry) Defaults(name string) (Params, error) {
	e, ok := r.scenes[name]
	if !ok {
		return nil, fmt.Errorf("unknown scene: %s", name)
	}
	out := make(Params, len(e.defaults))
	for k, v := range e.defaults {
		out[k] = v
	}
	return out, nil
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.scenes))
	for name := range r.scenes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ids hands out constraint ids in creation order.
type ids struct{ next constraint.ID }

func (g *ids) take() constraint.ID {
	g.next++
	return g.next
}

var up = mgl64.Vec3{0, 0, 1}

func newSystem(x []mgl64.Vec3, mass float64, set dynamo.Settings) *integrator.System {
	masses := make([]float64, len(x))
	for i := range masses {
		masses[i] = mass
	}
	return &integrator.System{
		Positions:  x,
		Velocities: make([]mgl64.Vec3, len(x)),
		Masses:     masses,
		Settings:   set,
	}
}

// barrierOptions hands the solver's contact margin and stiffness bounds to
// a constraint, followed by extra.
func barrierOptions(set dynamo.Settings, extra ...constraint.Option) []constraint.Option {
	opts := []constraint.Option{
		constraint.WithMargin(set.Margin),
		constraint.WithStiffnessClamp(set.MinStiffness, set.MaxStiffness),
	}
	return append(opts, extra...)
}

func pin(sys *integrator.System, id constraint.ID, node int, radius float64) {
	sys.Candidates = append(sys.Candidates, integrator.Active{
		Constraint: constraint.NewPin(id, barrierOptions(sys.Settings, constraint.WithElasticity())...),
		Candidate:  &integrator.Pin{Node: node, Target: sys.Positions[node], Radius: radius},
	})
}

func errSheetSize(nx, ny int) error {
	return fmt.Errorf("%w: sheet needs at least 2x2 nodes, got %dx%d", dynamo.ErrInvalidSettings, nx, ny)
}
