package divgraph

import (
	"container/heap"
	"math"

	"github.com/therealutkarshpriyadarshi/lshapg/pkg/lsh"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/metric"
)

// noExclude marks a beam search that may return any node
const noExclude = int64(-1)

// beamSearch runs best-first search from seeds and returns up to ef
// candidates closest to query, ascending.
//
// Once the result set is full, a neighbor whose projected distance to the
// query exceeds threshold times the current worst distance is skipped
// without computing its exact distance. threshold is +Inf when the test is
// disabled.
func (idx *Index) beamSearch(query, qproj []float32, seeds []uint32, ef int, threshold float64, exclude int64, st *SearchStats) []candidate {
	vis := idx.visited.Get()
	defer idx.visited.Put(vis)

	var cnt metric.Counter
	candidates := &minHeap{}
	results := &maxHeap{}
	prune := !math.IsInf(threshold, 1) && qproj != nil

	for _, id := range seeds {
		if !vis.Visit(id) || int64(id) == exclude {
			continue
		}
		if idx.nodes.get(id) == nil {
			continue
		}
		c := candidate{id: id, dist: idx.metric.Distance(query, idx.vector(id), &cnt)}
		heap.Push(candidates, c)
		heap.Push(results, c)
		if results.Len() > ef {
			heap.Pop(results)
		}
	}

	stale := 0
	for candidates.Len() > 0 {
		current := heap.Pop(candidates).(candidate)
		if results.Len() >= ef && results.Peek().less(current) {
			break
		}
		st.Hops++

		n := idx.nodes.get(current.id)
		improved := false
		for _, nb := range n.neighbors() {
			if !vis.Visit(nb.ID) || int64(nb.ID) == exclude {
				continue
			}
			other := idx.nodes.get(nb.ID)
			if other == nil {
				continue
			}

			full := results.Len() >= ef
			if full && prune {
				bound := idx.metric.Bound(results.Peek().dist)
				if lsh.ProjectedDistance(qproj, other.sig.Proj) > threshold*bound {
					st.Pruned++
					continue
				}
			}

			c := candidate{id: nb.ID, dist: idx.metric.Distance(query, idx.vector(nb.ID), &cnt)}
			if !full || c.less(results.Peek()) {
				heap.Push(candidates, c)
				heap.Push(results, c)
				if results.Len() > ef {
					heap.Pop(results)
				}
				improved = true
			}
		}

		if idx.opts.Patience > 0 {
			if improved {
				stale = 0
			} else if stale++; stale >= idx.opts.Patience {
				break
			}
		}
	}

	st.Visited += vis.Len()
	st.Comparisons += cnt.Comparisons
	return results.sorted()
}

// seeds merges the entry points with up to budget LSH candidates. It
// reports how many LSH candidates were used.
func (idx *Index) seeds(sig lsh.Signature, budget int, exclude int64) ([]uint32, int) {
	entries := idx.entries.snapshot()
	found := idx.tables.Candidates(sig, budget, func(id uint32) bool {
		return int64(id) == exclude || idx.nodes.get(id) == nil
	})

	out := make([]uint32, 0, len(entries)+len(found))
	for _, c := range found {
		out = append(out, c.ID)
	}
	for _, id := range entries {
		if int64(id) != exclude {
			out = append(out, id)
		}
	}
	return out, len(found)
}
