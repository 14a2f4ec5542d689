package lsh

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// Candidate is a node id found in the query's buckets
type Candidate struct {
	ID      uint32
	Matches int // number of tables in which the id shares the query's bucket
}

// table is one hash table: bucket key -> posting list
type table struct {
	mu      sync.RWMutex
	buckets map[uint64]*roaring.Bitmap
}

// Tables holds the L bucket maps. Each table has its own lock so that
// concurrent inserts into different tables do not contend.
type Tables struct {
	l, k   int
	tables []*table
}

// NewTables creates empty tables for the given parameters
func NewTables(p Params) *Tables {
	t := &Tables{l: p.L, k: p.K, tables: make([]*table, p.L)}
	for i := range t.tables {
		t.tables[i] = &table{buckets: make(map[uint64]*roaring.Bitmap)}
	}
	return t
}

// Add registers id under every bucket of sig
func (t *Tables) Add(id uint32, sig Signature) {
	for i, tb := range t.tables {
		key := sig.Key(i, t.k)
		tb.mu.Lock()
		bm, ok := tb.buckets[key]
		if !ok {
			bm = roaring.New()
			tb.buckets[key] = bm
		}
		bm.Add(id)
		tb.mu.Unlock()
	}
}

// Candidates returns up to budget ids sharing at least one bucket with sig,
// ordered by number of matching tables (descending) then id (ascending).
// Ids for which skip returns true are left out. Each posting list is
// scanned up to a limit proportional to budget so that a degenerate bucket
// holding most of the dataset cannot turn a lookup into a full scan.
func (t *Tables) Candidates(sig Signature, budget int, skip func(uint32) bool) []Candidate {
	if budget <= 0 || sig.IsZero() {
		return nil
	}

	scanLimit := budget * 16
	if scanLimit < 256 {
		scanLimit = 256
	}

	counts := make(map[uint32]int)
	for i, tb := range t.tables {
		key := sig.Key(i, t.k)
		tb.mu.RLock()
		bm, ok := tb.buckets[key]
		if ok {
			it := bm.Iterator()
			for scanned := 0; it.HasNext() && scanned < scanLimit; scanned++ {
				id := it.Next()
				if skip != nil && skip(id) {
					continue
				}
				counts[id]++
			}
		}
		tb.mu.RUnlock()
	}

	if len(counts) == 0 {
		return nil
	}

	out := make([]Candidate, 0, len(counts))
	for id, n := range counts {
		out = append(out, Candidate{ID: id, Matches: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Matches != out[j].Matches {
			return out[i].Matches > out[j].Matches
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > budget {
		out = out[:budget]
	}
	return out
}

// Buckets returns the total number of non-empty buckets across tables
func (t *Tables) Buckets() int {
	total := 0
	for _, tb := range t.tables {
		tb.mu.RLock()
		total += len(tb.buckets)
		tb.mu.RUnlock()
	}
	return total
}

// BucketSizes returns the largest bucket cardinality and the mean
func (t *Tables) BucketSizes() (max uint64, mean float64) {
	var total, n uint64
	for _, tb := range t.tables {
		tb.mu.RLock()
		for _, bm := range tb.buckets {
			c := bm.GetCardinality()
			total += c
			n++
			if c > max {
				max = c
			}
		}
		tb.mu.RUnlock()
	}
	if n > 0 {
		mean = float64(total) / float64(n)
	}
	return max, mean
}
