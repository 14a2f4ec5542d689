package divgraph

import (
	"testing"

	"github.com/therealutkarshpriyadarshi/lshapg/pkg/dataset"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/metric"
)

func measureRecall(t *testing.T, idx *Index, queries dataset.Dataset, truth dataset.Truth, k, ef int) (float64, int, SearchStats) {
	t.Helper()
	var total SearchStats
	hits := 0
	for q := 0; q < queries.Len(); q++ {
		results, st, err := idx.Search(queries.Vector(uint32(q)), k, ef)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		total.Add(st)
		hits += dataset.Hits(IDs(results), truth.GroundTruth(q), k)
	}
	return float64(hits) / float64(k*queries.Len()), hits, total
}

func TestRecallIncreasesWithEf(t *testing.T) {
	base := dataset.Uniform(1000, 8, 31)
	queries := dataset.Uniform(200, 8, 32)
	k := 10
	truth := dataset.BruteForce(base, queries, k, metric.SquaredEuclidean, 4)

	opts := testOptions()
	idx := buildTestIndex(t, base, opts)

	prevHits := -1
	for _, ef := range []int{10, 20, 40, 80, 160} {
		recall, hits, st := measureRecall(t, idx, queries, truth, k, ef)
		t.Logf("ef=%d recall=%.4f comparisons/query=%.1f pruned=%d",
			ef, recall, float64(st.Comparisons)/float64(queries.Len()), st.Pruned)
		if hits < prevHits {
			t.Errorf("Recall dropped at ef=%d: %d hits < %d", ef, hits, prevHits)
		}
		prevHits = hits
	}
}

func TestRecallUnitSphere(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping in short mode")
	}

	base := dataset.UnitSphere(10000, 16, 33)
	queries := dataset.UnitSphere(100, 16, 34)
	k := 10
	truth := dataset.BruteForce(base, queries, k, metric.SquaredEuclidean, 8)

	opts := DefaultOptions()
	opts.TopK = k
	opts.L = 2
	opts.K = 18
	opts.EfConstruction = 80
	opts.C = 1.5
	opts.Ef = 100
	idx := buildTestIndex(t, base, opts)
	t.Logf("Stats: %s", idx.Stats())

	recall, _, st := measureRecall(t, idx, queries, truth, k, 100)
	t.Logf("ef=100 recall=%.4f comparisons/query=%.1f", recall, float64(st.Comparisons)/float64(queries.Len()))
	if recall < 0.8 {
		t.Errorf("Recall too low: %.4f (expected >= 0.8)", recall)
	}

	low, _, _ := measureRecall(t, idx, queries, truth, k, 50)
	high, _, _ := measureRecall(t, idx, queries, truth, k, 200)
	t.Logf("ef=50 recall=%.4f, ef=200 recall=%.4f", low, high)
	if high < low {
		t.Errorf("Recall at ef=200 (%.4f) below ef=50 (%.4f)", high, low)
	}
	if low < 1 && high <= low {
		t.Errorf("Expected recall to improve from ef=50 to ef=200: %.4f -> %.4f", low, high)
	}
}

func TestParallelBuildRecall(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping in short mode")
	}

	all := dataset.Clustered(5100, 12, 50, 0.1, 35)
	base, err := dataset.Slice(all, 0, 5000)
	if err != nil {
		t.Fatalf("Slice failed: %v", err)
	}
	queries, err := dataset.Slice(all, 5000, 5100)
	if err != nil {
		t.Fatalf("Slice failed: %v", err)
	}
	k := 10
	truth := dataset.BruteForce(base, queries, k, metric.SquaredEuclidean, 8)
	order := dataset.Shuffled(base.Len(), 36)

	for _, threads := range []int{1, 8} {
		opts := DefaultOptions()
		opts.TopK = k
		opts.Threads = threads
		idx, err := New(base, opts)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		result := idx.BatchInsert(order, threads, nil)
		if err := result.Err(); err != nil {
			t.Fatalf("threads=%d: BatchInsert failed: %v", threads, err)
		}
		if idx.Len() != base.Len() {
			t.Fatalf("threads=%d: expected %d nodes, got %d", threads, base.Len(), idx.Len())
		}

		checkGraph(t, idx, opts.MaxDegree)
		checkReachable(t, idx)

		recall, _, _ := measureRecall(t, idx, queries, truth, k, 80)
		t.Logf("threads=%d recall=%.4f", threads, recall)
		if recall < 0.75 {
			t.Errorf("threads=%d: recall too low: %.4f", threads, recall)
		}
	}
}
