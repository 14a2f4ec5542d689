package divgraph

import (
	"sort"

	"github.com/therealutkarshpriyadarshi/lshapg/pkg/metric"
)

// sortNeighbors orders by distance, then id
func sortNeighbors(list []neighbor) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Dist != list[j].Dist {
			return list[i].Dist < list[j].Dist
		}
		return list[i].ID < list[j].ID
	})
}

// diversify selects the neighbor list of owner from cands.
//
// Candidates are visited in increasing distance. Pinned candidates are
// always kept and count toward the degree bound. Any other candidate q is
// accepted unless an already accepted r satisfies dist(q, r) < dist(owner, q)*C,
// until MaxDegree entries are held. With KeepPruned, free slots are then
// filled with the closest rejected candidates. The result depends only on
// the candidate set, and applying diversify to its own output returns the
// same list.
func (idx *Index) diversify(owner uint32, cands []neighbor, cnt *metric.Counter) []neighbor {
	list := make([]neighbor, 0, len(cands))
	seen := make(map[uint32]int, len(cands))
	for _, c := range cands {
		if c.ID == owner {
			continue
		}
		if i, ok := seen[c.ID]; ok {
			if c.Dist < list[i].Dist {
				list[i].Dist = c.Dist
			}
			list[i].Pinned = list[i].Pinned || c.Pinned
			continue
		}
		seen[c.ID] = len(list)
		list = append(list, c)
	}
	sortNeighbors(list)

	maxDegree := idx.opts.MaxDegree
	budget := maxDegree - countPinned(list)
	if budget < 0 {
		budget = 0
	}
	c := float32(idx.opts.C)

	accepted := make([]neighbor, 0, maxDegree)
	var rejected []neighbor
	free := 0
	for _, q := range list {
		if q.Pinned {
			accepted = append(accepted, q)
			continue
		}
		if free >= budget {
			continue
		}

		qv := idx.vector(q.ID)
		dominated := false
		for _, r := range accepted {
			if idx.metric.Distance(qv, idx.vector(r.ID), cnt) < q.Dist*c {
				dominated = true
				break
			}
		}
		if dominated {
			rejected = append(rejected, q)
			continue
		}
		accepted = append(accepted, q)
		free++
	}

	if idx.opts.KeepPruned {
		for _, q := range rejected {
			if free >= budget {
				break
			}
			accepted = append(accepted, q)
			free++
		}
	}

	sortNeighbors(accepted)
	return accepted
}
