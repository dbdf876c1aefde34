// Package elastic provides the elastic energy the barrier constraints act
// against: a network of axial springs between mesh nodes.
package elastic

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/dynbarrier/internal/linalg"
	"github.com/san-kum/dynbarrier/internal/stiffness"
)

var ErrBadSpring = errors.New("elastic: invalid spring")

// minLength guards the direction of a collapsed spring.
const minLength = 1e-12

// Spring joins nodes A and B.
type Spring struct {
	A, B int
	Rest float64 // rest length
	K    float64 // axial stiffness
}

// Network is a set of springs over a fixed node count.
type Network struct {
	nodes   int
	springs []Spring
	scale   float64 // global multiplier on every K
}

func NewNetwork(nodes int) *Network {
	return &Network{nodes: nodes, scale: 1}
}

// Add appends a spring. A non-positive rest length takes the current
// distance between the nodes in x.
func (n *Network) Add(a, b int, k, rest float64, x []mgl64.Vec3) error {
	if a == b || a < 0 || b < 0 || a >= n.nodes || b >= n.nodes {
		return fmt.Errorf("%w: nodes %d-%d of %d", ErrBadSpring, a, b, n.nodes)
	}
	if !(k >= 0) || math.IsInf(k, 0) {
		return fmt.Errorf("%w: stiffness %g", ErrBadSpring, k)
	}
	if rest <= 0 {
		if len(x) != n.nodes {
			return fmt.Errorf("%w: rest length needs %d positions, got %d", ErrBadSpring, n.nodes, len(x))
		}
		rest = x[a].Sub(x[b]).Len()
	}
	n.springs = append(n.springs, Spring{A: a, B: b, Rest: rest, K: k})
	return nil
}

func (n *Network) Nodes() int        { return n.nodes }
func (n *Network) Springs() []Spring { return n.springs }

// Energy is Σ ½k(‖xa − xb‖ − L)².
func (n *Network) Energy(x []mgl64.Vec3) float64 {
	e := 0.0
	for _, s := range n.springs {
		l := x[s.A].Sub(x[s.B]).Len()
		d := l - s.Rest
		e += 0.5 * n.scale * s.K * d * d
	}
	return e
}

// AddGradient accumulates ∂E/∂x into g.
func (n *Network) AddGradient(g, x []mgl64.Vec3) {
	for _, s := range n.springs {
		d := x[s.A].Sub(x[s.B])
		l := d.Len()
		if l < minLength {
			continue
		}
		f := d.Mul(n.scale * s.K * (l - s.Rest) / l)
		g[s.A] = g[s.A].Add(f)
		g[s.B] = g[s.B].Sub(f)
	}
}

// springHessian is k(n̂n̂ᵀ + (1 − L/l)(I − n̂n̂ᵀ)), projected onto SPD.
func (n *Network) springHessian(s Spring, x []mgl64.Vec3) (mgl64.Mat3, error) {
	d := x[s.A].Sub(x[s.B])
	l := d.Len()
	k := n.scale * s.K
	if l < minLength {
		return mgl64.Ident3().Mul(k), nil
	}
	u := d.Mul(1 / l)
	nn := u.OuterProd3(u)
	h := nn.Add(mgl64.Ident3().Sub(nn).Mul(1 - s.Rest/l)).Mul(k)
	return stiffness.ProjectSPD(h)
}

// AddHessian accumulates the SPD-projected spring blocks into h.
func (n *Network) AddHessian(h *linalg.BlockMatrix, x []mgl64.Vec3) error {
	for _, s := range n.springs {
		k, err := n.springHessian(s, x)
		if err != nil {
			return err
		}
		neg := k.Mul(-1)
		for _, e := range []struct {
			i, j int
			m    mgl64.Mat3
		}{{s.A, s.A, k}, {s.B, s.B, k}, {s.A, s.B, neg}, {s.B, s.A, neg}} {
			if err := h.AddBlock(e.i, e.j, e.m); err != nil {
				return err
			}
		}
	}
	return nil
}

// NodeHessians returns the diagonal elastic block of every node, used as
// the local Hessian estimate of the stiffness designer.
func (n *Network) NodeHessians(x []mgl64.Vec3) ([]mgl64.Mat3, error) {
	out := make([]mgl64.Mat3, n.nodes)
	for _, s := range n.springs {
		k, err := n.springHessian(s, x)
		if err != nil {
			return nil, err
		}
		out[s.A] = out[s.A].Add(k)
		out[s.B] = out[s.B].Add(k)
	}
	return out, nil
}

// GetParams implements dynamo.Configurable.
func (n *Network) GetParams() map[string]float64 {
	return map[string]float64{"stiffness_scale": n.scale}
}

// SetParam implements dynamo.Configurable.
func (n *Network) SetParam(name string, value float64) error {
	switch name {
	case "stiffness_scale":
		if !(value >= 0) || math.IsInf(value, 0) {
			return fmt.Errorf("%w: stiffness_scale %g", ErrBadSpring, value)
		}
		n.scale = value
		return nil
	default:
		return fmt.Errorf("elastic: unknown parameter %q", name)
	}
}
