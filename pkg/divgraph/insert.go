package divgraph

import (
	"log/slog"
	"time"

	"github.com/therealutkarshpriyadarshi/lshapg/pkg/metric"
)

// Insert links dataset vector id into the graph. It is safe to call
// concurrently for distinct ids. A failed insert leaves the graph
// unchanged.
func (idx *Index) Insert(id uint32) error {
	idx.snapshotMu.RLock()
	defer idx.snapshotMu.RUnlock()

	start := time.Now()
	var cnt metric.Counter
	err := idx.insert(id, &cnt)
	idx.comparisons.Add(cnt.Comparisons)
	idx.recorder.ObserveInsert(time.Since(start), err)
	if err == nil {
		idx.recorder.SetNodes(idx.Len())
	}
	return err
}

func (idx *Index) insert(id uint32, cnt *metric.Counter) error {
	vec, err := idx.checkID(id)
	if err != nil {
		return err
	}
	if idx.nodes.get(id) != nil {
		return ErrAlreadyInserted
	}

	sig, err := idx.hasher.Assign(vec)
	if err != nil {
		return &DimensionError{Expected: idx.dim, Actual: len(vec)}
	}
	n := newNode(id, sig)

	if idx.insertFirst(n) {
		return nil
	}

	// Find candidates in the graph built so far and pick the diversified
	// neighbor set.
	var st SearchStats
	seeds, _ := idx.seeds(sig, idx.opts.seedBudget(idx.opts.EfConstruction), int64(id))
	found := idx.beamSearch(vec, sig.Proj, seeds, idx.opts.EfConstruction, idx.pruneC, int64(id), &st)
	cnt.Comparisons += st.Comparisons

	cands := make([]neighbor, len(found))
	for i, c := range found {
		cands[i] = neighbor{ID: c.id, Dist: c.dist}
	}
	selected := idx.diversify(id, cands, cnt)
	n.setNeighbors(selected)
	n.order = idx.order.Add(1) - 1

	if !idx.nodes.publish(n) {
		return ErrAlreadyInserted
	}

	// Back-edges. The first settled neighbor that accepts a pinned edge
	// becomes the anchor that keeps n reachable.
	anchored := false
	for _, nb := range selected {
		q := idx.nodes.get(nb.ID)
		if pinned := idx.link(q, n, nb.Dist, !anchored && q.settled.Load(), cnt); pinned {
			anchored = true
		}
	}
	if !anchored {
		anchored = idx.anchorFromCandidates(n, cands, selected, cnt)
	}
	if !anchored {
		idx.entries.addRoot(id)
		idx.logger.Debug("node promoted to entry point", slog.Uint64("id", uint64(id)))
	}
	n.settled.Store(true)

	idx.tables.Add(id, sig)
	if every := idx.opts.EntryRefresh; every > 0 && n.order%uint64(every) == 0 {
		idx.entries.addExtra(id, idx.opts.MaxEntryPoints)
	}
	idx.inserts.Add(1)
	return nil
}

// insertFirst publishes n as the first root if the graph is empty
func (idx *Index) insertFirst(n *node) bool {
	if !idx.entries.empty() {
		return false
	}

	idx.entries.mu.Lock()
	defer idx.entries.mu.Unlock()
	if len(idx.entries.roots) > 0 {
		return false
	}

	n.order = idx.order.Add(1) - 1
	if !idx.nodes.publish(n) {
		return false
	}
	n.settled.Store(true)
	idx.entries.roots = append(idx.entries.roots, n.id)
	idx.tables.Add(n.id, n.sig)
	idx.inserts.Add(1)
	return true
}

// anchorFromCandidates tries the search candidates that were not selected
// as neighbors, closest first, for a pinned edge into n
func (idx *Index) anchorFromCandidates(n *node, cands, selected []neighbor, cnt *metric.Counter) bool {
	chosen := make(map[uint32]struct{}, len(selected))
	for _, nb := range selected {
		chosen[nb.ID] = struct{}{}
	}
	for _, c := range cands {
		if _, ok := chosen[c.ID]; ok {
			continue
		}
		q := idx.nodes.get(c.ID)
		if q == nil || !q.settled.Load() {
			continue
		}
		if idx.link(q, n, c.Dist, true, cnt) {
			return true
		}
	}
	return false
}

// link adds the edge q -> n under q's lock. When q is full its list is
// re-diversified together with n, which may evict n or an older neighbor.
// With pin set, the edge is added as pinned if q has room for another
// pinned edge. It reports whether a pinned edge was added.
func (idx *Index) link(q, n *node, dist float32, pin bool, cnt *metric.Counter) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	cur := q.neighbors()
	if q.hasNeighbor(n.id) {
		return false
	}
	if pin && countPinned(cur) >= idx.opts.MaxDegree {
		pin = false
	}

	edge := neighbor{ID: n.id, Dist: dist, Pinned: pin}
	next := make([]neighbor, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, edge)

	if len(next) > idx.opts.MaxDegree {
		next = idx.diversify(q.id, next, cnt)
	} else {
		sortNeighbors(next)
	}
	q.setNeighbors(next)
	return pin
}
