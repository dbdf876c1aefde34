package integrator

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/dynbarrier/internal/assembly"
	"github.com/san-kum/dynbarrier/internal/constraint"
	"github.com/san-kum/dynbarrier/internal/linalg"
)

// jacobianTerm maps node displacements to one constraint's relative
// displacement.
type jacobianTerm struct {
	id      constraint.ID
	nodes   []int
	weights []float64
	block   mgl64.Mat3
}

// newtonOperator applies H v = A v + Jᵀ D J v, where A is the node-space
// inertia plus elasticity and D the assembled constraint-space blocks.
type newtonOperator struct {
	a     *linalg.BlockMatrix
	asm   *assembly.Assembly
	terms []jacobianTerm
	u, du []float64
}

func newNewtonOperator(a *linalg.BlockMatrix, asm *assembly.Assembly, terms []jacobianTerm) *newtonOperator {
	return &newtonOperator{
		a:     a,
		asm:   asm,
		terms: terms,
		u:     make([]float64, asm.Dim),
		du:    make([]float64, asm.Dim),
	}
}

func (o *newtonOperator) Dim() int { return o.a.Dim() }

func (o *newtonOperator) Apply(dst, v []float64) {
	o.a.Apply(dst, v)
	if o.asm.Dim == 0 {
		return
	}
	for i := range o.u {
		o.u[i] = 0
	}
	for _, t := range o.terms {
		var r mgl64.Vec3
		for k, n := range t.nodes {
			r = r.Add(mgl64.Vec3{v[3*n], v[3*n+1], v[3*n+2]}.Mul(t.weights[k]))
		}
		o.asm.Gather(o.u, t.id, r)
	}
	o.asm.Matrix.Apply(o.du, o.u)
	for _, t := range o.terms {
		f := o.asm.Scatter(o.du, t.id)
		for k, n := range t.nodes {
			w := t.weights[k]
			dst[3*n] += w * f[0]
			dst[3*n+1] += w * f[1]
			dst[3*n+2] += w * f[2]
		}
	}
}

// diagonal returns the node diagonal blocks A_ii + Σ w² D_c used by the
// block-Jacobi preconditioner.
func (o *newtonOperator) diagonal() []mgl64.Mat3 {
	diag := o.a.Diagonal()
	for _, t := range o.terms {
		sym := t.block.Add(t.block.Transpose()).Mul(0.5)
		for k, n := range t.nodes {
			w := t.weights[k]
			diag[n] = diag[n].Add(sym.Mul(w * w))
		}
	}
	return diag
}
