package linalg

import (
	"fmt"
	"sort"

	"github.com/san-kum/dynbarrier/internal/dynamo"
)

// parallelRows is the row count above which mat-vec products fan out.
const parallelRows = 2048

// Operator is a square linear map.
type Operator interface {
	Dim() int
	// Apply writes A·x into dst. dst and x must not alias.
	Apply(dst, x []float64)
}

// Triplet collects (i, j, x) entries; duplicates are summed on compression.
// Capacity doubles when full and is kept across Reset.
type Triplet struct {
	rows, cols []int
	vals       []float64
	dim        int
}

func NewTriplet(capacity int) *Triplet {
	if capacity < 1 {
		capacity = 1
	}
	return &Triplet{
		rows: make([]int, 0, capacity),
		cols: make([]int, 0, capacity),
		vals: make([]float64, 0, capacity),
	}
}

// Put adds x at (i, j).
func (t *Triplet) Put(i, j int, x float64) error {
	if i < 0 || j < 0 {
		return fmt.Errorf("%w: (%d,%d)", ErrOutOfRange, i, j)
	}
	if len(t.vals) == cap(t.vals) {
		t.grow(2 * cap(t.vals))
	}
	t.rows = append(t.rows, i)
	t.cols = append(t.cols, j)
	t.vals = append(t.vals, x)
	if i+1 > t.dim {
		t.dim = i + 1
	}
	if j+1 > t.dim {
		t.dim = j + 1
	}
	return nil
}

func (t *Triplet) grow(capacity int) {
	rows := make([]int, len(t.rows), capacity)
	cols := make([]int, len(t.cols), capacity)
	vals := make([]float64, len(t.vals), capacity)
	copy(rows, t.rows)
	copy(cols, t.cols)
	copy(vals, t.vals)
	t.rows, t.cols, t.vals = rows, cols, vals
}

func (t *Triplet) Len() int { return len(t.vals) }
func (t *Triplet) Cap() int { return cap(t.vals) }

// Dim is one past the largest index put so far.
func (t *Triplet) Dim() int { return t.dim }

// Reset empties the triplet, keeping its capacity.
func (t *Triplet) Reset() {
	t.rows = t.rows[:0]
	t.cols = t.cols[:0]
	t.vals = t.vals[:0]
	t.dim = 0
}

// ToCSR compresses the triplet into an n×n CSR matrix, summing duplicates.
// Entries outside n are cropped.
func (t *Triplet) ToCSR(n int) *CSR {
	type entry struct {
		col int
		val float64
	}
	perRow := make([][]entry, n)
	for k, i := range t.rows {
		j := t.cols[k]
		if i >= n || j >= n {
			continue
		}
		perRow[i] = append(perRow[i], entry{col: j, val: t.vals[k]})
	}

	m := &CSR{n: n, rowPtr: make([]int, n+1)}
	for i, row := range perRow {
		sort.SliceStable(row, func(a, b int) bool { return row[a].col < row[b].col })
		for k := 0; k < len(row); k++ {
			if k > 0 && row[k].col == row[k-1].col {
				m.values[len(m.values)-1] += row[k].val
				continue
			}
			m.colIdx = append(m.colIdx, row[k].col)
			m.values = append(m.values, row[k].val)
		}
		m.rowPtr[i+1] = len(m.values)
	}
	return m
}

// CSR is a compressed sparse row square matrix.
type CSR struct {
	n      int
	rowPtr []int
	colIdx []int
	values []float64
}

func (m *CSR) Dim() int { return m.n }

// NNZ is the number of stored entries.
func (m *CSR) NNZ() int { return len(m.values) }

// At returns entry (i, j), zero when not stored.
func (m *CSR) At(i, j int) float64 {
	if i < 0 || i >= m.n || j < 0 || j >= m.n {
		return 0
	}
	cols := m.colIdx[m.rowPtr[i]:m.rowPtr[i+1]]
	k := sort.SearchInts(cols, j)
	if k < len(cols) && cols[k] == j {
		return m.values[m.rowPtr[i]+k]
	}
	return 0
}

func (m *CSR) Apply(dst, x []float64) {
	row := func(start, end int) {
		for i := start; i < end; i++ {
			sum := 0.0
			for k := m.rowPtr[i]; k < m.rowPtr[i+1]; k++ {
				sum += m.values[k] * x[m.colIdx[k]]
			}
			dst[i] = sum
		}
	}
	if m.n < parallelRows {
		row(0, m.n)
		return
	}
	dynamo.ParallelFor(m.n, parallelRows/4, row)
}

// Dense expands m row-major, for tests and diagnostics.
func (m *CSR) Dense() []float64 {
	out := make([]float64, m.n*m.n)
	for i := 0; i < m.n; i++ {
		for k := m.rowPtr[i]; k < m.rowPtr[i+1]; k++ {
			out[i*m.n+m.colIdx[k]] = m.values[k]
		}
	}
	return out
}
