package divgraph

import (
	"sync"
	"sync/atomic"
)

// store is the node arena, indexed by vector id. Lookups are lock-free;
// growing the arena excludes publishers through growMu.
type store struct {
	growMu sync.RWMutex
	slots  atomic.Pointer[[]atomic.Pointer[node]]
	count  atomic.Int64
}

func newStore(capacity int) *store {
	s := &store{}
	slots := make([]atomic.Pointer[node], capacity)
	s.slots.Store(&slots)
	return s
}

// get returns the node for id, or nil if it has not been published
func (s *store) get(id uint32) *node {
	slots := *s.slots.Load()
	if int(id) >= len(slots) {
		return nil
	}
	return slots[id].Load()
}

// publish makes n visible. It returns false if the id is already taken.
func (s *store) publish(n *node) bool {
	for {
		s.growMu.RLock()
		slots := *s.slots.Load()
		if int(n.id) < len(slots) {
			ok := slots[n.id].CompareAndSwap(nil, n)
			s.growMu.RUnlock()
			if ok {
				s.count.Add(1)
			}
			return ok
		}
		s.growMu.RUnlock()
		s.grow(int(n.id) + 1)
	}
}

func (s *store) grow(min int) {
	s.growMu.Lock()
	defer s.growMu.Unlock()

	old := *s.slots.Load()
	if len(old) >= min {
		return
	}
	size := 2 * len(old)
	if size < min {
		size = min
	}
	slots := make([]atomic.Pointer[node], size)
	for i := range old {
		slots[i].Store(old[i].Load())
	}
	s.slots.Store(&slots)
}

// len returns the number of published nodes
func (s *store) len() int {
	return int(s.count.Load())
}

// capacity returns the arena size
func (s *store) capacity() int {
	return len(*s.slots.Load())
}

// each calls fn for every published node in id order
func (s *store) each(fn func(*node)) {
	slots := *s.slots.Load()
	for i := range slots {
		if n := slots[i].Load(); n != nil {
			fn(n)
		}
	}
}
