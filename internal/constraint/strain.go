package constraint

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynbarrier/internal/barrier"
	"github.com/san-kum/dynbarrier/internal/dynamo"
)

// ErrSVDFailed is returned when the deformation gradient cannot be factorized.
var ErrSVDFailed = errors.New("constraint: singular value decomposition failed")

// Strain limits the singular values of a triangle's deformation gradient
// to [minCompression, maxStretch]. The worst violation v feeds the barrier
// as the gap ĝ − v, so the barrier is inert while every σ is inside the
// band. Direction is ∂σ/∂x of the violating singular value.
type Strain struct {
	base
	minCompression float64
	maxStretch     float64
}

func NewStrain(id ID, minCompression, maxStretch float64, opts ...Option) *Strain {
	return &Strain{
		base:           newBase(id, KindStrain, opts),
		minCompression: minCompression,
		maxStretch:     maxStretch,
	}
}

// Limits returns the admissible singular value band.
func (s *Strain) Limits() (minCompression, maxStretch float64) {
	return s.minCompression, s.maxStretch
}

// Violation returns the worst violation over sigma, the index of the
// violating value, and the sign of ∂gap/∂σ (−1 stretch, +1 compression).
func (s *Strain) Violation(sigma []float64) (v float64, index int, sign float64) {
	index = -1
	for i, sv := range sigma {
		if stretch := sv - s.maxStretch; stretch > v {
			v, index, sign = stretch, i, -1
		}
		if compress := s.minCompression - sv; compress > v {
			v, index, sign = compress, i, 1
		}
	}
	return v, index, sign
}

func (s *Strain) Evaluate(st barrier.State, _ dynamo.Context) barrier.Evaluation {
	if !s.enabled || len(st.Meta.SingularValues) == 0 {
		return barrier.Evaluation{}
	}
	v, _, sign := s.Violation(st.Meta.SingularValues)
	if v <= 0 {
		return barrier.Evaluation{}
	}

	band := s.Band(st)
	gap := band - v
	dir := st.Direction.Mul(sign)
	k := s.kappa(st, gap, dir, true)
	return cubic.Evaluate(gap, band, k, dir, 1)
}

// Band is the admissible violation: the state's MaxGap, or the strain
// margin when the state has none.
func (s *Strain) Band(st barrier.State) float64 {
	if st.MaxGap > 0 {
		return st.MaxGap
	}
	return s.opts.strainGap
}

// Gap is Band minus the worst violation of sigma.
func (s *Strain) Gap(st barrier.State) float64 {
	v, _, _ := s.Violation(st.Meta.SingularValues)
	return s.Band(st) - v
}

func (s *Strain) DesignStiffness(st barrier.State) float64 {
	v, _, sign := s.Violation(st.Meta.SingularValues)
	st.Stiffness = 0
	return s.kappa(st, s.Band(st)-v, st.Direction.Mul(sign), true)
}

// Decomposition is the thin SVD of a deformation gradient F = U Σ Vᵀ.
type Decomposition struct {
	Values []float64
	U, V   *mat.Dense
}

// Decompose factorizes a 3×2 (or any m×n) deformation gradient.
func Decompose(f mat.Matrix) (Decomposition, error) {
	r, c := f.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if !finiteScalar(f.At(i, j)) {
				return Decomposition{}, fmt.Errorf("constraint: deformation gradient: %w", dynamo.ErrInvalidState)
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(f, mat.SVDThin); !ok {
		return Decomposition{}, ErrSVDFailed
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	return Decomposition{Values: svd.Values(nil), U: &u, V: &v}, nil
}

// SingularValues returns the singular values of f in descending order.
func SingularValues(f mat.Matrix) ([]float64, error) {
	d, err := Decompose(f)
	if err != nil {
		return nil, err
	}
	return d.Values, nil
}

func finiteScalar(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
