package linalg

import (
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/dynbarrier/internal/dynamo"
)

type blockRow struct {
	cols   []int
	blocks []mgl64.Mat3
}

// BlockMatrix is a node-indexed sparse matrix of 3×3 blocks. Columns of a
// row are kept sorted so products sum in a fixed order.
type BlockMatrix struct {
	rows []blockRow
}

func NewBlockMatrix(nodes int) *BlockMatrix {
	return &BlockMatrix{rows: make([]blockRow, nodes)}
}

func (b *BlockMatrix) Nodes() int { return len(b.rows) }
func (b *BlockMatrix) Dim() int   { return 3 * len(b.rows) }

// AddBlock adds m into block (i, j).
func (b *BlockMatrix) AddBlock(i, j int, m mgl64.Mat3) error {
	if i < 0 || j < 0 || i >= len(b.rows) || j >= len(b.rows) {
		return fmt.Errorf("%w: block (%d,%d) of %d nodes", ErrOutOfRange, i, j, len(b.rows))
	}
	row := &b.rows[i]
	k := sort.SearchInts(row.cols, j)
	if k < len(row.cols) && row.cols[k] == j {
		row.blocks[k] = row.blocks[k].Add(m)
		return nil
	}
	row.cols = append(row.cols, 0)
	row.blocks = append(row.blocks, mgl64.Mat3{})
	copy(row.cols[k+1:], row.cols[k:])
	copy(row.blocks[k+1:], row.blocks[k:])
	row.cols[k] = j
	row.blocks[k] = m
	return nil
}

// Block returns block (i, j), zero when absent.
func (b *BlockMatrix) Block(i, j int) mgl64.Mat3 {
	if i < 0 || i >= len(b.rows) {
		return mgl64.Mat3{}
	}
	row := b.rows[i]
	k := sort.SearchInts(row.cols, j)
	if k < len(row.cols) && row.cols[k] == j {
		return row.blocks[k]
	}
	return mgl64.Mat3{}
}

// Diagonal returns every diagonal block.
func (b *BlockMatrix) Diagonal() []mgl64.Mat3 {
	out := make([]mgl64.Mat3, len(b.rows))
	for i := range b.rows {
		out[i] = b.Block(i, i)
	}
	return out
}

// Clear zeroes every block, keeping the sparsity pattern.
func (b *BlockMatrix) Clear() {
	for i := range b.rows {
		for k := range b.rows[i].blocks {
			b.rows[i].blocks[k] = mgl64.Mat3{}
		}
	}
}

func (b *BlockMatrix) Apply(dst, x []float64) {
	row := func(start, end int) {
		for i := start; i < end; i++ {
			var sum mgl64.Vec3
			r := b.rows[i]
			for k, j := range r.cols {
				xj := mgl64.Vec3{x[3*j], x[3*j+1], x[3*j+2]}
				sum = sum.Add(r.blocks[k].Mul3x1(xj))
			}
			dst[3*i], dst[3*i+1], dst[3*i+2] = sum[0], sum[1], sum[2]
		}
	}
	if len(b.rows) < parallelRows/3 {
		row(0, len(b.rows))
		return
	}
	dynamo.ParallelFor(len(b.rows), parallelRows/12, row)
}
