// Package freeze remembers each constraint's frozen stiffness across Newton
// steps and low-pass filters it toward the freshly designed value.
package freeze

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidDamping is returned for a damping factor outside [0, 1).
var ErrInvalidDamping = errors.New("freeze: damping must be in [0, 1)")

// Key identifies a constraint in the schedule.
type Key uint64

// Schedule is an explicit, owned cache of key → stiffness. It is mutated
// once per Newton step by its owner and is not safe for concurrent writes.
type Schedule struct {
	damping float64
	min     float64
	memory  map[Key]float64
	updates int
}

func New(damping, minStiffness float64) (*Schedule, error) {
	if !(damping >= 0 && damping < 1) {
		return nil, fmt.Errorf("%w: got %g", ErrInvalidDamping, damping)
	}
	if math.IsNaN(minStiffness) || minStiffness < 0 {
		minStiffness = 0
	}
	return &Schedule{
		damping: damping,
		min:     minStiffness,
		memory:  make(map[Key]float64),
	}, nil
}

// Update folds a newly designed term into the remembered stiffness:
//
//	κ ← max(min, κ·damping + new·(1 − damping))
//
// The first sighting of a key stores max(min, new).
func (s *Schedule) Update(key Key, term float64) float64 {
	if math.IsNaN(term) || term < 0 {
		term = 0
	}
	s.updates++
	prev, ok := s.memory[key]
	next := term
	if ok {
		next = prev*s.damping + term*(1-s.damping)
	}
	next = math.Max(s.min, next)
	s.memory[key] = next
	return next
}

// Stiffness returns the remembered stiffness of key.
func (s *Schedule) Stiffness(key Key) (float64, bool) {
	k, ok := s.memory[key]
	return k, ok
}

// Forget drops every key not in keep. Keys of constraints that left the
// active set would otherwise resurface with stale stiffness.
func (s *Schedule) Forget(keep map[Key]struct{}) int {
	dropped := 0
	for k := range s.memory {
		if _, ok := keep[k]; !ok {
			delete(s.memory, k)
			dropped++
		}
	}
	return dropped
}

func (s *Schedule) Len() int { return len(s.memory) }

// Updates counts Update calls since construction.
func (s *Schedule) Updates() int { return s.updates }

func (s *Schedule) Reset() {
	s.memory = make(map[Key]float64)
	s.updates = 0
}
