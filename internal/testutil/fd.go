// Package testutil holds finite-difference checks shared by package tests.
package testutil

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/dynbarrier/internal/barrier"
)

// Displaced evaluates a constraint at a displacement u of its relative position.
type Displaced func(u mgl64.Vec3) barrier.Evaluation

// DerivativeError compares the analytic gradient and Hessian at u = 0 with
// central differences of step h, returning relative errors. floor bounds
// the denominator so vanishing derivatives compare absolutely.
func DerivativeError(displaced Displaced, h, floor float64) (gradErr, hessErr float64) {
	at := displaced(mgl64.Vec3{})

	var numGrad mgl64.Vec3
	var numHess mgl64.Mat3
	for i := 0; i < 3; i++ {
		var e mgl64.Vec3
		e[i] = h
		plus := displaced(e)
		minus := displaced(e.Mul(-1))
		numGrad[i] = (plus.Energy - minus.Energy) / (2 * h)
		col := plus.Gradient.Sub(minus.Gradient).Mul(1 / (2 * h))
		for row := 0; row < 3; row++ {
			numHess[i*3+row] = col[row]
		}
	}

	gradErr = numGrad.Sub(at.Gradient).Len() / math.Max(at.Gradient.Len(), floor)
	hessErr = frobenius(numHess.Sub(at.Hessian)) / math.Max(frobenius(at.Hessian), floor)
	return gradErr, hessErr
}

func frobenius(m mgl64.Mat3) float64 {
	sum := 0.0
	for _, v := range m {
		sum += v * v
	}
	return math.Sqrt(sum)
}
