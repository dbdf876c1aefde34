package scene

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/dynbarrier/internal/constraint"
	"github.com/san-kum/dynbarrier/internal/dynamo"
	"github.com/san-kum/dynbarrier/internal/elastic"
	"github.com/san-kum/dynbarrier/internal/integrator"
)

// buildDrop drops a spring strip onto the floor z = 0.
func buildDrop(p Params, set dynamo.Settings) (*Scene, error) {
	n, err := p.count("nodes", 4)
	if err != nil {
		return nil, err
	}
	spacing, err := p.positive("spacing", 0.1)
	if err != nil {
		return nil, err
	}
	mass, err := p.positive("mass", 0.05)
	if err != nil {
		return nil, err
	}
	gap, err := p.positive("gap", 0.02)
	if err != nil {
		return nil, err
	}
	height := p.Get("height", 0.3)
	speed := p.Get("speed", 0)

	x := make([]mgl64.Vec3, n)
	for i := range x {
		x[i] = mgl64.Vec3{float64(i) * spacing, 0, height}
	}
	sys := newSystem(x, mass, set)
	for i := range sys.Velocities {
		sys.Velocities[i] = mgl64.Vec3{0, 0, -speed}
	}

	var id ids
	for i := range x {
		sys.Candidates = append(sys.Candidates, integrator.Active{
			Constraint: constraint.NewWall(id.take(), up, barrierOptions(set)...),
			Candidate:  &integrator.Wall{Node: i, Normal: up, MaxGap: gap},
		})
	}

	sc := &Scene{System: sys}
	if n > 1 {
		net := elastic.NewNetwork(n)
		k := p.Get("stiffness", 800)
		for i := 0; i+1 < n; i++ {
			if err := net.Add(i, i+1, k, 0, x); err != nil {
				return nil, err
			}
		}
		sc.Network = net
		sys.Elasticity = net
	}
	return sc, nil
}

// buildSlide launches one node along the floor with Coulomb friction.
func buildSlide(p Params, set dynamo.Settings) (*Scene, error) {
	mass, err := p.positive("mass", 1)
	if err != nil {
		return nil, err
	}
	gap, err := p.positive("gap", 0.01)
	if err != nil {
		return nil, err
	}
	sys := newSystem([]mgl64.Vec3{{0, 0, p.Get("height", 0.005)}}, mass, set)
	sys.Velocities[0] = mgl64.Vec3{p.Get("speed", 2), 0, 0}

	var id ids
	wall := constraint.NewWall(id.take(), up, barrierOptions(set)...)
	floor := &integrator.Wall{Node: 0, Normal: up, MaxGap: gap}
	sys.Candidates = append(sys.Candidates,
		integrator.Active{Constraint: wall, Candidate: floor},
		integrator.Active{
			Constraint: constraint.NewFriction(id.take(), p.Get("mu", 0.4)),
			Candidate:  &integrator.Friction{Normal: floor, Barrier: wall},
		},
	)
	return &Scene{System: sys}, nil
}

// buildChain hangs a spring chain from a pinned first node.
func buildChain(p Params, set dynamo.Settings) (*Scene, error) {
	n, err := p.count("nodes", 8)
	if err != nil {
		return nil, err
	}
	spacing, err := p.positive("spacing", 0.1)
	if err != nil {
		return nil, err
	}
	mass, err := p.positive("mass", 0.02)
	if err != nil {
		return nil, err
	}
	radius, err := p.positive("radius", 0.005)
	if err != nil {
		return nil, err
	}

	x := make([]mgl64.Vec3, n)
	for i := range x {
		x[i] = mgl64.Vec3{float64(i) * spacing, 0, 0}
	}
	sys := newSystem(x, mass, set)
	var id ids
	pin(sys, id.take(), 0, radius)

	sc := &Scene{System: sys}
	if n > 1 {
		net := elastic.NewNetwork(n)
		for i := 0; i+1 < n; i++ {
			if err := net.Add(i, i+1, p.Get("stiffness", 400), 0, x); err != nil {
				return nil, err
			}
		}
		sc.Network = net
		sys.Elasticity = net
	}
	return sc, nil
}

// buildSheet hangs a cloth patch from its two front corners with strain
// limits on every triangle. strain = 0 builds the limits switched off.
func buildSheet(p Params, set dynamo.Settings) (*Scene, error) {
	nx, err := p.count("nx", 4)
	if err != nil {
		return nil, err
	}
	ny, err := p.count("ny", 4)
	if err != nil {
		return nil, err
	}
	spacing, err := p.positive("spacing", 0.1)
	if err != nil {
		return nil, err
	}
	mass, err := p.positive("mass", 0.01)
	if err != nil {
		return nil, err
	}
	band, err := p.positive("band", 0.05)
	if err != nil {
		return nil, err
	}
	if nx < 2 || ny < 2 {
		return nil, errSheetSize(nx, ny)
	}

	node := func(i, j int) int { return j*nx + i }
	x := make([]mgl64.Vec3, nx*ny)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			x[node(i, j)] = mgl64.Vec3{float64(i) * spacing, float64(j) * spacing, 0}
		}
	}
	sys := newSystem(x, mass, set)
	net := elastic.NewNetwork(len(x))
	k := p.Get("stiffness", 200)
	compression, stretch := p.Get("compression", 0.9), p.Get("stretch", 1.1)
	strainOpts := barrierOptions(set)
	if !p.flag("strain") {
		strainOpts = append(strainOpts, constraint.Disabled())
	}

	var id ids
	pin(sys, id.take(), node(0, 0), 0.001)
	pin(sys, id.take(), node(nx-1, 0), 0.001)

	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			if i+1 < nx {
				if err := net.Add(node(i, j), node(i+1, j), k, 0, x); err != nil {
					return nil, err
				}
			}
			if j+1 < ny {
				if err := net.Add(node(i, j), node(i, j+1), k, 0, x); err != nil {
					return nil, err
				}
			}
			if i+1 == nx || j+1 == ny {
				continue
			}
			a, b, c, d := node(i, j), node(i+1, j), node(i, j+1), node(i+1, j+1)
			if err := net.Add(a, d, k, 0, x); err != nil {
				return nil, err
			}
			for _, tri := range [][3]int{{a, b, d}, {a, d, c}} {
				limits := constraint.NewStrain(id.take(), compression, stretch, strainOpts...)
				st, err := integrator.NewStrainTriangle(tri[0], tri[1], tri[2], x, limits, band)
				if err != nil {
					return nil, err
				}
				sys.Candidates = append(sys.Candidates, integrator.Active{Constraint: limits, Candidate: st})
			}
		}
	}
	sys.Elasticity = net
	return &Scene{System: sys, Network: net}, nil
}

// buildCollide drops a node onto a pinned triangle. extended = 1 measures
// the contact along the tick-start normal.
func buildCollide(p Params, set dynamo.Settings) (*Scene, error) {
	mass, err := p.positive("mass", 0.1)
	if err != nil {
		return nil, err
	}
	gap, err := p.positive("gap", 0.02)
	if err != nil {
		return nil, err
	}
	radius, err := p.positive("radius", 0.001)
	if err != nil {
		return nil, err
	}
	x := []mgl64.Vec3{
		{0, 0, 0}, {1, 0, 0}, {0, 1, 0},
		{0.3, 0.3, p.Get("height", 0.2)},
	}
	sys := newSystem(x, mass, set)
	sys.Velocities[3] = mgl64.Vec3{0, 0, -p.Get("speed", 1)}

	var id ids
	for node := 0; node < 3; node++ {
		pin(sys, id.take(), node, radius)
	}
	sys.Candidates = append(sys.Candidates, integrator.Active{
		Constraint: constraint.NewContact(id.take(), barrierOptions(set)...),
		Candidate:  &integrator.PointTriangle{P: 3, A: 0, B: 1, C: 2, MaxGap: gap, Extended: p.flag("extended")},
	})
	return &Scene{System: sys}, nil
}

// buildCross drops a sprung edge across a pinned one. extended = 1 measures
// the contact along the tick-start separation.
func buildCross(p Params, set dynamo.Settings) (*Scene, error) {
	mass, err := p.positive("mass", 0.1)
	if err != nil {
		return nil, err
	}
	gap, err := p.positive("gap", 0.02)
	if err != nil {
		return nil, err
	}
	radius, err := p.positive("radius", 0.001)
	if err != nil {
		return nil, err
	}
	h := p.Get("height", 0.2)
	x := []mgl64.Vec3{
		{-0.5, 0, 0}, {0.5, 0, 0},
		{0.1, -0.5, h}, {0.1, 0.5, h},
	}
	sys := newSystem(x, mass, set)
	v := mgl64.Vec3{0, 0, -p.Get("speed", 1)}
	sys.Velocities[2], sys.Velocities[3] = v, v

	var id ids
	pin(sys, id.take(), 0, radius)
	pin(sys, id.take(), 1, radius)
	sys.Candidates = append(sys.Candidates, integrator.Active{
		Constraint: constraint.NewContact(id.take(), barrierOptions(set)...),
		Candidate:  &integrator.EdgeEdge{A0: 0, A1: 1, B0: 2, B1: 3, MaxGap: gap, Extended: p.flag("extended")},
	})

	net := elastic.NewNetwork(len(x))
	if err := net.Add(2, 3, p.Get("stiffness", 500), 0, x); err != nil {
		return nil, err
	}
	sys.Elasticity = net
	return &Scene{System: sys, Network: net}, nil
}

// buildRamp rests one node on a plane tilted by angle degrees about the
// y axis, held off it by the bare cubic barrier. Without friction the node
// slides down the slope toward −x.
func buildRamp(p Params, set dynamo.Settings) (*Scene, error) {
	mass, err := p.positive("mass", 0.1)
	if err != nil {
		return nil, err
	}
	gap, err := p.positive("gap", 0.01)
	if err != nil {
		return nil, err
	}
	deg := p.Get("angle", 20)
	if !(deg >= 0 && deg < 90) {
		return nil, fmt.Errorf("%w: angle must be in [0, 90), got %g", dynamo.ErrInvalidSettings, deg)
	}
	mu := p.Get("mu", 0)
	if !(mu >= 0) {
		return nil, fmt.Errorf("%w: mu must be non-negative, got %g", dynamo.ErrInvalidSettings, mu)
	}

	theta := deg * math.Pi / 180
	normal := mgl64.Vec3{-math.Sin(theta), 0, math.Cos(theta)}
	slope := mgl64.Vec3{math.Cos(theta), 0, math.Sin(theta)}
	sys := newSystem([]mgl64.Vec3{normal.Mul(p.Get("height", 0.005))}, mass, set)
	sys.Velocities[0] = slope.Mul(-p.Get("speed", 0))

	var id ids
	ramp := constraint.NewCubic(id.take(), barrierOptions(set)...)
	plane := &integrator.Wall{Node: 0, Normal: normal, MaxGap: gap}
	sys.Candidates = append(sys.Candidates, integrator.Active{Constraint: ramp, Candidate: plane})
	if mu > 0 {
		sys.Candidates = append(sys.Candidates, integrator.Active{
			Constraint: constraint.NewFriction(id.take(), mu),
			Candidate:  &integrator.Friction{Normal: plane, Barrier: ramp},
		})
	}
	return &Scene{System: sys}, nil
}
