package stiffness

import (
	"errors"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/mat"
)

// ErrEigenFailed is returned when the symmetric eigensolver does not converge.
var ErrEigenFailed = errors.New("stiffness: eigen decomposition failed")

// ProjectSPD clamps the negative eigenvalues of the symmetric part of m to
// zero and reassembles it. SPD input comes back unchanged up to rounding.
func ProjectSPD(m mgl64.Mat3) (mgl64.Mat3, error) {
	data := make([]float64, 9)
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			data[row*3+col] = 0.5 * (m.At(row, col) + m.At(col, row))
		}
	}

	projected, err := projectSym(mat.NewSymDense(3, data))
	if err != nil {
		return mgl64.Mat3{}, err
	}

	var out mgl64.Mat3
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			out.Set(row, col, projected.At(row, col))
		}
	}
	return out, nil
}

func projectSym(a mat.Symmetric) (*mat.SymDense, error) {
	n := a.SymmetricDim()

	var eig mat.EigenSym
	if ok := eig.Factorize(a, true); !ok {
		return nil, ErrEigenFailed
	}
	values := eig.Values(nil)

	clamped := false
	for i, v := range values {
		if v < 0 {
			values[i] = 0
			clamped = true
		}
	}
	if !clamped {
		return mat.NewSymDense(n, symData(a)), nil
	}

	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// out = Q diag(λ⁺) Qᵀ
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sum := 0.0
			for k := 0; k < n; k++ {
				sum += vecs.At(i, k) * values[k] * vecs.At(j, k)
			}
			out.SetSym(i, j, sum)
		}
	}
	return out, nil
}

func symData(a mat.Symmetric) []float64 {
	n := a.SymmetricDim()
	data := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			data[i*n+j] = a.At(i, j)
		}
	}
	return data
}
