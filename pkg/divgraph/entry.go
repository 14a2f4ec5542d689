package divgraph

import "sync"

// entrySet holds the ids used to seed every search. Roots are nodes that
// could not be anchored under an existing node; every node is reachable
// from some root, so roots are never dropped. Extras are added by the
// refresh policy and rotate out first-in first-out.
type entrySet struct {
	mu     sync.RWMutex
	roots  []uint32
	extras []uint32
	next   int // ring position in extras
}

func (e *entrySet) snapshot() []uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]uint32, 0, len(e.roots)+len(e.extras))
	out = append(out, e.roots...)
	for _, id := range e.extras {
		if !containsID(e.roots, id) {
			out = append(out, id)
		}
	}
	return out
}

func (e *entrySet) empty() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.roots) == 0
}

func (e *entrySet) addRoot(id uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !containsID(e.roots, id) {
		e.roots = append(e.roots, id)
	}
}

func (e *entrySet) addExtra(id uint32, max int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if containsID(e.extras, id) || containsID(e.roots, id) {
		return
	}
	if len(e.extras) < max {
		e.extras = append(e.extras, id)
		return
	}
	e.extras[e.next] = id
	e.next = (e.next + 1) % max
}

func (e *entrySet) rootCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.roots)
}

func (e *entrySet) state() (roots, extras []uint32, next int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]uint32(nil), e.roots...), append([]uint32(nil), e.extras...), e.next
}

func (e *entrySet) restore(roots, extras []uint32, next int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.roots = roots
	e.extras = extras
	e.next = next
}

func containsID(ids []uint32, id uint32) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
