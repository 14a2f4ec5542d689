package divgraph

import (
	"log/slog"
	"time"
)

// Result is one search hit
type Result struct {
	ID       uint32
	Distance float32
}

// SearchStats is the accounting surface of one search
type SearchStats struct {
	Comparisons   int64 // exact distance computations
	Visited       int   // nodes marked visited
	Hops          int   // nodes expanded
	Pruned        int   // neighbors skipped by the projected-distance test
	LSHCandidates int   // seeds contributed by the LSH layer
	Fallback      bool  // no LSH bucket collision; seeded from entry points only
}

// Add accumulates another search's counters
func (s *SearchStats) Add(o SearchStats) {
	s.Comparisons += o.Comparisons
	s.Visited += o.Visited
	s.Hops += o.Hops
	s.Pruned += o.Pruned
	s.LSHCandidates += o.LSHCandidates
	if o.Fallback {
		s.Fallback = true
	}
}

// Search returns up to k nearest inserted vectors to query, closest first.
// ef is raised to k when smaller.
func (idx *Index) Search(query []float32, k, ef int) ([]Result, SearchStats, error) {
	var st SearchStats
	if len(query) != idx.dim {
		return nil, st, &DimensionError{Expected: idx.dim, Actual: len(query)}
	}
	if k < 1 {
		return nil, st, configErrorf("k", "%d (must be > 0)", k)
	}
	if ef < k {
		ef = k
	}
	if idx.Len() == 0 {
		return []Result{}, st, nil
	}

	start := time.Now()
	sig, err := idx.hasher.Assign(query)
	if err != nil {
		return nil, st, &DimensionError{Expected: idx.dim, Actual: len(query)}
	}

	seeds, fromLSH := idx.seeds(sig, idx.opts.seedBudget(ef), noExclude)
	st.LSHCandidates = fromLSH
	if fromLSH == 0 {
		st.Fallback = true
		idx.fallbacks.Add(1)
		idx.logger.Debug("no LSH bucket collision, searching from entry points",
			slog.Int("entry_points", len(seeds)))
	}

	found := idx.beamSearch(query, sig.Proj, seeds, ef, idx.pruneQ, noExclude, &st)
	if len(found) > k {
		found = found[:k]
	}
	results := make([]Result, len(found))
	for i, c := range found {
		results[i] = Result{ID: c.id, Distance: c.dist}
	}

	idx.searches.Add(1)
	idx.comparisons.Add(st.Comparisons)
	idx.recorder.ObserveSearch(time.Since(start), st)
	return results, st, nil
}

// KNNSearch searches with the default ef
func (idx *Index) KNNSearch(query []float32, k int) ([]Result, SearchStats, error) {
	return idx.Search(query, k, idx.Ef())
}

// SearchID searches with the dataset vector stored under id as the query
func (idx *Index) SearchID(id uint32, k, ef int) ([]Result, SearchStats, error) {
	vec, err := idx.checkID(id)
	if err != nil {
		return nil, SearchStats{}, err
	}
	return idx.Search(vec, k, ef)
}

// IDs extracts the ids of results
func IDs(results []Result) []uint32 {
	ids := make([]uint32, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}
