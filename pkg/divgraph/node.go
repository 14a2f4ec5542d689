package divgraph

import (
	"sync"
	"sync/atomic"

	"github.com/therealutkarshpriyadarshi/lshapg/pkg/lsh"
)

// neighbor is one outgoing edge. Pinned edges carry the node's
// reachability from the entry points and are never evicted.
type neighbor struct {
	ID     uint32
	Dist   float32
	Pinned bool
}

// node is one vertex of the graph. The neighbor list is published as an
// immutable slice: writers build a new slice under mu and swap it in,
// readers load it without locking.
type node struct {
	id    uint32
	order uint64
	sig   lsh.Signature

	mu    sync.Mutex
	links atomic.Pointer[[]neighbor]

	// settled is set once the node has a pinned inbound edge or has been
	// promoted to an entry point
	settled atomic.Bool
}

func newNode(id uint32, sig lsh.Signature) *node {
	n := &node{id: id, sig: sig}
	empty := []neighbor{}
	n.links.Store(&empty)
	return n
}

// neighbors returns the current list. The slice must not be modified.
func (n *node) neighbors() []neighbor {
	return *n.links.Load()
}

// setNeighbors replaces the list. Callers hold n.mu, except before the
// node is published.
func (n *node) setNeighbors(list []neighbor) {
	n.links.Store(&list)
}

// neighborIDs returns a copy of the neighbor ids
func (n *node) neighborIDs() []uint32 {
	list := n.neighbors()
	ids := make([]uint32, len(list))
	for i, nb := range list {
		ids[i] = nb.ID
	}
	return ids
}

func (n *node) hasNeighbor(id uint32) bool {
	for _, nb := range n.neighbors() {
		if nb.ID == id {
			return true
		}
	}
	return false
}

func countPinned(list []neighbor) int {
	c := 0
	for _, nb := range list {
		if nb.Pinned {
			c++
		}
	}
	return c
}
