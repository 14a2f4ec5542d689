package dataset

import (
	"sort"

	"github.com/therealutkarshpriyadarshi/lshapg/internal/parallel"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/metric"
)

type scored struct {
	id   uint32
	dist float32
}

// BruteForce computes the exact k nearest base vectors of every query
// using the given number of worker threads
func BruteForce(base, queries Dataset, k int, m metric.Metric, threads int) Truth {
	out := make(Truth, queries.Len())
	parallel.For(queries.Len(), threads, func(_, q int) {
		out[q] = KNN(base, queries.Vector(uint32(q)), k, m)
	})
	return out
}

// KNN returns the ids of the k nearest base vectors to query, closest first.
// Ties are broken by id.
func KNN(base Dataset, query []float32, k int, m metric.Metric) []uint32 {
	n := base.Len()
	all := make([]scored, n)
	for i := 0; i < n; i++ {
		all[i] = scored{id: uint32(i), dist: m.Fn(query, base.Vector(uint32(i)))}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].dist != all[j].dist {
			return all[i].dist < all[j].dist
		}
		return all[i].id < all[j].id
	})
	if k > n {
		k = n
	}
	ids := make([]uint32, k)
	for i := range ids {
		ids[i] = all[i].id
	}
	return ids
}

// Recall returns |got ∩ truth[:k]| / k
func Recall(got, truth []uint32, k int) float64 {
	if k <= 0 {
		return 0
	}
	if k > len(truth) {
		k = len(truth)
	}
	if k == 0 {
		return 0
	}
	return float64(Hits(got, truth, k)) / float64(k)
}

// Hits counts how many of the first k true neighbors appear in got
func Hits(got, truth []uint32, k int) int {
	if k > len(truth) {
		k = len(truth)
	}
	want := make(map[uint32]struct{}, k)
	for _, id := range truth[:k] {
		want[id] = struct{}{}
	}
	hits := 0
	for _, id := range got {
		if _, ok := want[id]; ok {
			hits++
			delete(want, id)
		}
	}
	return hits
}
