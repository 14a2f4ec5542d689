// Package visited provides a reusable visited-node set for graph traversal.
package visited

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// Set tracks visited node ids with a bitset and a dirty list so that a
// reset only touches the ids set since the last reset.
type Set struct {
	bits  *bitset.BitSet
	dirty []uint32
}

// New creates a set sized for capacity ids. It grows on demand.
func New(capacity int) *Set {
	return &Set{
		bits:  bitset.New(uint(capacity)),
		dirty: make([]uint32, 0, 128),
	}
}

// Visit marks id and reports whether it was newly marked
func (s *Set) Visit(id uint32) bool {
	if s.bits.Test(uint(id)) {
		return false
	}
	s.bits.Set(uint(id))
	s.dirty = append(s.dirty, id)
	return true
}

// Visited reports whether id has been marked
func (s *Set) Visited(id uint32) bool {
	return s.bits.Test(uint(id))
}

// Len returns the number of ids marked since the last reset
func (s *Set) Len() int {
	return len(s.dirty)
}

// Reset clears every id marked since the last reset
func (s *Set) Reset() {
	for _, id := range s.dirty {
		s.bits.Clear(uint(id))
	}
	s.dirty = s.dirty[:0]
}

// Pool hands out sets sized for an index
type Pool struct {
	pool sync.Pool
}

// NewPool creates a pool whose fresh sets are sized by capacity()
func NewPool(capacity func() int) *Pool {
	p := &Pool{}
	p.pool.New = func() any {
		return New(capacity())
	}
	return p
}

// Get returns an empty set
func (p *Pool) Get() *Set {
	return p.pool.Get().(*Set)
}

// Put resets s and returns it to the pool
func (p *Pool) Put(s *Set) {
	s.Reset()
	p.pool.Put(s)
}
