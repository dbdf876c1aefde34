package linalg

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/floats"
)

// Preconditioner applies an approximation of A⁻¹.
type Preconditioner interface {
	// Precondition writes M⁻¹·r into dst.
	Precondition(dst, r []float64)
}

// Identity is the no-op preconditioner.
type Identity struct{}

func (Identity) Precondition(dst, r []float64) { copy(dst, r) }

// singularDet is the determinant below which a diagonal block falls back
// to its scalar diagonal.
const singularDet = 1e-18

// BlockJacobi inverts the 3×3 diagonal blocks of an operator.
type BlockJacobi struct {
	inv []mgl64.Mat3
}

// NewBlockJacobi precomputes block inverses. A near-singular block is
// replaced by the inverse of its diagonal, and a non-positive diagonal
// entry by 1.
func NewBlockJacobi(diag []mgl64.Mat3) *BlockJacobi {
	inv := make([]mgl64.Mat3, len(diag))
	for i, d := range diag {
		if det := d.Det(); math.Abs(det) > singularDet && !math.IsNaN(det) && !math.IsInf(det, 0) {
			inv[i] = d.Inv()
			continue
		}
		var s mgl64.Mat3
		for k := 0; k < 3; k++ {
			v := d.At(k, k)
			if v > 0 {
				s.Set(k, k, 1/v)
			} else {
				s.Set(k, k, 1)
			}
		}
		inv[i] = s
	}
	return &BlockJacobi{inv: inv}
}

func (p *BlockJacobi) Precondition(dst, r []float64) {
	for i, m := range p.inv {
		v := m.Mul3x1(mgl64.Vec3{r[3*i], r[3*i+1], r[3*i+2]})
		dst[3*i], dst[3*i+1], dst[3*i+2] = v[0], v[1], v[2]
	}
}

type SolveOptions struct {
	MaxIterations int
	Tolerance     float64
	// Relative scales Tolerance by ‖b‖ (with a floor of 1).
	Relative bool
}

type SolveStats struct {
	Iterations int
	Residual   float64
	Converged  bool
}

// PCG solves A x = b by preconditioned conjugate gradients, starting from
// the contents of x and overwriting it. On ErrNotConverged x holds the last
// iterate and stats describe it.
func PCG(a Operator, pre Preconditioner, b, x []float64, opts SolveOptions) (SolveStats, error) {
	n := a.Dim()
	if len(b) != n || len(x) != n {
		return SolveStats{}, fmt.Errorf("%w: operator %d, b %d, x %d", ErrDimensionMismatch, n, len(b), len(x))
	}
	if pre == nil {
		pre = Identity{}
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = n
	}
	threshold := opts.Tolerance
	if opts.Relative {
		threshold *= math.Max(1, floats.Norm(b, 2))
	}

	r := make([]float64, n)
	z := make([]float64, n)
	p := make([]float64, n)
	ap := make([]float64, n)

	a.Apply(ap, x)
	floats.SubTo(r, b, ap)
	stats := SolveStats{Residual: floats.Norm(r, 2)}
	if stats.Residual <= threshold {
		stats.Converged = true
		return stats, nil
	}

	pre.Precondition(z, r)
	copy(p, z)
	rz := floats.Dot(r, z)

	for k := 0; k < maxIter; k++ {
		a.Apply(ap, p)
		pap := floats.Dot(p, ap)
		if !(pap > 0) {
			stats.Iterations = k
			return stats, fmt.Errorf("%w: pᵀAp = %g at iteration %d", ErrBreakdown, pap, k)
		}
		alpha := rz / pap
		floats.AddScaled(x, alpha, p)
		floats.AddScaled(r, -alpha, ap)

		stats.Iterations = k + 1
		stats.Residual = floats.Norm(r, 2)
		if stats.Residual <= threshold {
			stats.Converged = true
			return stats, nil
		}

		pre.Precondition(z, r)
		rzNext := floats.Dot(r, z)
		beta := rzNext / rz
		rz = rzNext
		for i := range p {
			p[i] = z[i] + beta*p[i]
		}
	}
	return stats, fmt.Errorf("%w: residual %g after %d iterations", ErrNotConverged, stats.Residual, stats.Iterations)
}
