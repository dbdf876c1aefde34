// Package assembly builds the global constraint-space matrix from per-contact
// blocks and caches each contact's index range across passes.
package assembly

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/dynbarrier/internal/constraint"
	"github.com/san-kum/dynbarrier/internal/linalg"
)

var (
	// ErrBlockSizeMismatch is returned when a cached contact id comes back
	// with a different block size. It signals a configuration bug.
	ErrBlockSizeMismatch = errors.New("assembly: block size mismatch for cached contact")

	ErrMalformedBlock = errors.New("assembly: block values do not match its size")
)

const defaultCapacity = 48

// ContactBlock is a square block tagged by the contact that produced it.
// Values are row-major, Size×Size.
type ContactBlock struct {
	ID     constraint.ID
	Size   int
	Values []float64
}

// Block3 wraps a 3×3 matrix as a contact block.
func Block3(id constraint.ID, m mgl64.Mat3) ContactBlock {
	v := make([]float64, 9)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			v[3*r+c] = m.At(r, c)
		}
	}
	return ContactBlock{ID: id, Size: 3, Values: v}
}

// CachedAssembly is the index range owned by one contact.
type CachedAssembly struct {
	ID         constraint.ID
	Base       int
	Size       int
	Generation uint64
}

// Assembly is the result of one pass.
type Assembly struct {
	Matrix     *linalg.CSR
	Index      map[constraint.ID]CachedAssembly
	Dim        int
	Generation uint64
}

// Assembler owns the arena of index ranges and the growable triplet
// storage. It is not safe for concurrent use.
type Assembler struct {
	index      map[constraint.ID]*CachedAssembly
	next       int
	capacity   int
	generation uint64
	triplet    *linalg.Triplet
	grows      int
}

func New() *Assembler {
	return &Assembler{
		index:    make(map[constraint.ID]*CachedAssembly),
		capacity: defaultCapacity,
		triplet:  linalg.NewTriplet(defaultCapacity * 3),
	}
}

// Assemble runs one pass. Each distinct id gets a contiguous index range,
// allocated in ascending id order the first time it is seen and reused
// afterwards. Blocks with the same id are summed and must agree on size.
// With mirror set every block enters as (B + Bᵀ)/2.
func (a *Assembler) Assemble(blocks []ContactBlock, mirror bool) (*Assembly, error) {
	sorted := make([]ContactBlock, len(blocks))
	copy(sorted, blocks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	seen := make(map[constraint.ID]int, len(sorted))
	for _, b := range sorted {
		if b.Size <= 0 || len(b.Values) != b.Size*b.Size {
			return nil, fmt.Errorf("%w: contact %d size %d with %d values", ErrMalformedBlock, b.ID, b.Size, len(b.Values))
		}
		if c, ok := a.index[b.ID]; ok && c.Size != b.Size {
			return nil, fmt.Errorf("%w: contact %d cached with size %d, got %d", ErrBlockSizeMismatch, b.ID, c.Size, b.Size)
		}
		if size, ok := seen[b.ID]; ok && size != b.Size {
			return nil, fmt.Errorf("%w: contact %d repeated with size %d and %d", ErrBlockSizeMismatch, b.ID, size, b.Size)
		}
		seen[b.ID] = b.Size
	}

	a.generation++
	a.triplet.Reset()
	out := &Assembly{
		Index:      make(map[constraint.ID]CachedAssembly, len(sorted)),
		Generation: a.generation,
	}

	for _, b := range sorted {
		c := a.allocate(b.ID, b.Size)
		c.Generation = a.generation
		out.Index[b.ID] = *c
		if end := c.Base + c.Size; end > out.Dim {
			out.Dim = end
		}
		for r := 0; r < b.Size; r++ {
			for col := 0; col < b.Size; col++ {
				v := b.Values[r*b.Size+col]
				if mirror {
					v = 0.5 * (v + b.Values[col*b.Size+r])
				}
				if v == 0 {
					continue
				}
				if err := a.triplet.Put(c.Base+r, c.Base+col, v); err != nil {
					return nil, err
				}
			}
		}
	}

	out.Matrix = a.triplet.ToCSR(out.Dim)
	return out, nil
}

func (a *Assembler) allocate(id constraint.ID, size int) *CachedAssembly {
	if c, ok := a.index[id]; ok {
		return c
	}
	for a.next+size > a.capacity {
		a.capacity *= 2
		a.grows++
	}
	c := &CachedAssembly{ID: id, Base: a.next, Size: size}
	a.next += size
	a.index[id] = c
	return c
}

// Compact drops contacts absent from the latest pass and repacks the live
// ones in id order. Returns the number of dropped contacts.
func (a *Assembler) Compact() int {
	live := make([]*CachedAssembly, 0, len(a.index))
	dropped := 0
	for id, c := range a.index {
		if c.Generation != a.generation {
			delete(a.index, id)
			dropped++
			continue
		}
		live = append(live, c)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })
	a.next = 0
	for _, c := range live {
		c.Base = a.next
		a.next += c.Size
	}
	return dropped
}

// Stale is the number of cached contacts absent from the latest pass.
func (a *Assembler) Stale() int {
	n := 0
	for _, c := range a.index {
		if c.Generation != a.generation {
			n++
		}
	}
	return n
}

func (a *Assembler) Len() int           { return len(a.index) }
func (a *Assembler) Capacity() int      { return a.capacity }
func (a *Assembler) Generation() uint64 { return a.generation }

// Grows counts arena capacity doublings.
func (a *Assembler) Grows() int { return a.grows }

// Gather copies per-contact vectors into a constraint-space vector.
func (as *Assembly) Gather(dst []float64, id constraint.ID, v mgl64.Vec3) {
	c, ok := as.Index[id]
	if !ok {
		return
	}
	for k := 0; k < c.Size && k < 3; k++ {
		dst[c.Base+k] = v[k]
	}
}

// Scatter reads the 3-vector of id from a constraint-space vector.
func (as *Assembly) Scatter(src []float64, id constraint.ID) mgl64.Vec3 {
	var v mgl64.Vec3
	c, ok := as.Index[id]
	if !ok {
		return v
	}
	for k := 0; k < c.Size && k < 3; k++ {
		v[k] = src[c.Base+k]
	}
	return v
}
