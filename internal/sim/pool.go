package sim

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// PositionPool recycles snapshot buffers of a fixed node count.
type PositionPool struct {
	pool sync.Pool
	size int
}

func NewPositionPool(nodes int) *PositionPool {
	return &PositionPool{
		size: nodes,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]mgl64.Vec3, nodes)
			},
		},
	}
}

func (p *PositionPool) Size() int { return p.size }

func (p *PositionPool) Get() []mgl64.Vec3 {
	return p.pool.Get().([]mgl64.Vec3)
}

func (p *PositionPool) Put(x []mgl64.Vec3) {
	if len(x) == p.size {
		for i := range x {
			x[i] = mgl64.Vec3{}
		}
		p.pool.Put(x)
	}
}

func (p *PositionPool) GetAndCopy(src []mgl64.Vec3) []mgl64.Vec3 {
	dst := p.Get()
	copy(dst, src)
	return dst
}
