package divgraph

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/lshapg/pkg/dataset"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/metric"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.TopK = 10
	opts.EfConstruction = 40
	opts.Ef = 50
	opts.MaxDegree = 16
	opts.Threads = 1
	return opts
}

func buildTestIndex(t *testing.T, ds Dataset, opts Options) *Index {
	t.Helper()
	idx, err := BuildIndex(ds, opts)
	if err != nil {
		t.Fatalf("BuildIndex failed: %v", err)
	}
	if idx.Len() != ds.Len() {
		t.Fatalf("Expected %d nodes, got %d", ds.Len(), idx.Len())
	}
	return idx
}

// reachable runs a BFS over the graph from the entry points
func reachable(idx *Index) map[uint32]bool {
	seen := make(map[uint32]bool)
	queue := idx.EntryPoints()
	for _, id := range queue {
		seen[id] = true
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, nb := range idx.Neighbors(current) {
			if !seen[nb] {
				seen[nb] = true
				queue = append(queue, nb)
			}
		}
	}
	return seen
}

// checkGraph verifies the degree bound and that every neighbor list is
// sorted, free of self loops and duplicates, and points at linked nodes
func checkGraph(t *testing.T, idx *Index, maxDegree int) {
	t.Helper()
	for id := uint32(0); id < uint32(idx.nodes.capacity()); id++ {
		n := idx.nodes.get(id)
		if n == nil {
			continue
		}
		list := n.neighbors()
		if len(list) > maxDegree {
			t.Fatalf("Node %d has degree %d > %d", id, len(list), maxDegree)
		}
		seen := make(map[uint32]bool)
		for i, nb := range list {
			if nb.ID == id {
				t.Fatalf("Node %d has a self loop", id)
			}
			if seen[nb.ID] {
				t.Fatalf("Node %d lists neighbor %d twice", id, nb.ID)
			}
			seen[nb.ID] = true
			if !idx.Contains(nb.ID) {
				t.Fatalf("Node %d points at missing node %d", id, nb.ID)
			}
			if i > 0 && nb.Dist < list[i-1].Dist {
				t.Fatalf("Node %d neighbors not sorted", id)
			}
		}
	}
}

// checkReachable fails unless every node is reachable from the entry points
func checkReachable(t *testing.T, idx *Index) {
	t.Helper()
	seen := reachable(idx)
	t.Logf("Reachable nodes: %d/%d, entry points: %d", len(seen), idx.Len(), len(idx.EntryPoints()))
	if len(seen) != idx.Len() {
		var missing []uint32
		for id := uint32(0); id < uint32(idx.Len()); id++ {
			if !seen[id] {
				missing = append(missing, id)
			}
		}
		t.Fatalf("Unreachable nodes: %v", missing[:min(10, len(missing))])
	}
}

func TestNewValidation(t *testing.T) {
	ds := dataset.Uniform(10, 4, 1)

	tests := []struct {
		name   string
		modify func(*Options)
		field  string
	}{
		{"zero c", func(o *Options) { o.C = 0 }, "c"},
		{"negative c", func(o *Options) { o.C = -1 }, "c"},
		{"zero k", func(o *Options) { o.TopK = 0 }, "k"},
		{"zero L", func(o *Options) { o.L = 0 }, "L"},
		{"zero K", func(o *Options) { o.K = 0 }, "K"},
		{"zero W", func(o *Options) { o.W = 0 }, "W"},
		{"zero threads", func(o *Options) { o.Threads = 0 }, "T"},
		{"zero efC", func(o *Options) { o.EfConstruction = 0 }, "efC"},
		{"k above efC", func(o *Options) { o.TopK = 100; o.Ef = 100 }, "k"},
		{"ef below k", func(o *Options) { o.Ef = 5 }, "ef"},
		{"pC above one", func(o *Options) { o.PC = 1.5 }, "pC"},
		{"zero pQ", func(o *Options) { o.PQ = 0 }, "pQ"},
		{"negative beta", func(o *Options) { o.Beta = -0.1 }, "beta"},
		{"zero max degree", func(o *Options) { o.MaxDegree = 0 }, "max degree"},
		{"max degree above uint16", func(o *Options) { o.MaxDegree = 70000 }, "max degree"},
		{"dimension", func(o *Options) { o.Dim = 8 }, "dim"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.modify(&opts)

			idx, err := New(ds, opts)
			if err == nil {
				t.Fatal("Expected configuration error")
			}
			if idx != nil {
				t.Error("Expected no index on configuration error")
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("Expected ErrConfiguration, got %v", err)
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected *ConfigError, got %T", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Expected field %q, got %q", tt.field, cfgErr.Field)
			}
		})
	}

	if _, err := New(nil, testOptions()); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for nil dataset, got %v", err)
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if opts.C != 1.5 {
		t.Errorf("Expected c 1.5, got %v", opts.C)
	}
	if opts.TopK != 50 {
		t.Errorf("Expected k 50, got %d", opts.TopK)
	}
	if opts.L != 2 || opts.K != 18 {
		t.Errorf("Expected L=2 K=18, got L=%d K=%d", opts.L, opts.K)
	}
	if opts.EfConstruction != 80 {
		t.Errorf("Expected efC 80, got %d", opts.EfConstruction)
	}
	if opts.PC != 0.95 || opts.PQ != 0.9 {
		t.Errorf("Expected pC=0.95 pQ=0.9, got pC=%v pQ=%v", opts.PC, opts.PQ)
	}
	if opts.Threads < 1 {
		t.Errorf("Expected at least one thread, got %d", opts.Threads)
	}
	if err := opts.Validate(); err != nil {
		t.Errorf("Default options should be valid: %v", err)
	}
}

type ragged struct {
	*dataset.Memory
	short uint32
}

func (r ragged) Vector(id uint32) []float32 {
	v := r.Memory.Vector(id)
	if id == r.short {
		return v[:len(v)-1]
	}
	return v
}

func TestInsertErrors(t *testing.T) {
	ds := dataset.Uniform(20, 4, 2)
	idx, err := New(ragged{Memory: ds, short: 7}, testOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := idx.Insert(0); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	t.Run("out of range", func(t *testing.T) {
		err := idx.Insert(20)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
		var nf *NotFoundError
		if !errors.As(err, &nf) || nf.ID != 20 || nf.Len != 20 {
			t.Errorf("Unexpected error detail: %v", err)
		}
	})

	t.Run("already inserted", func(t *testing.T) {
		if err := idx.Insert(0); !errors.Is(err, ErrAlreadyInserted) {
			t.Errorf("Expected ErrAlreadyInserted, got %v", err)
		}
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		err := idx.Insert(7)
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("Expected ErrDimensionMismatch, got %v", err)
		}
		if idx.Contains(7) {
			t.Error("Failed insert should not add a node")
		}
	})

	if idx.Len() != 1 {
		t.Errorf("Expected 1 node after failed inserts, got %d", idx.Len())
	}
}

func TestSearchEdgeCases(t *testing.T) {
	ds := dataset.Uniform(50, 4, 3)
	idx, err := New(ds, testOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	results, _, err := idx.Search(ds.Vector(0), 5, 10)
	if err != nil {
		t.Fatalf("Search on empty index failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no results from empty index, got %d", len(results))
	}

	if _, _, err := idx.Search([]float32{1, 2}, 5, 10); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Expected ErrDimensionMismatch, got %v", err)
	}
	if _, _, err := idx.Search(ds.Vector(0), 0, 10); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for k=0, got %v", err)
	}

	if err := idx.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// More neighbors than points
	results, _, err = idx.Search(ds.Vector(0), 100, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != ds.Len() {
		t.Errorf("Expected all %d points, got %d", ds.Len(), len(results))
	}
	if results[0].ID != 0 || results[0].Distance != 0 {
		t.Errorf("Expected the query point first, got %+v", results[0])
	}
	seen := make(map[uint32]bool)
	for i, r := range results {
		if seen[r.ID] {
			t.Errorf("Duplicate result %d", r.ID)
		}
		seen[r.ID] = true
		if i > 0 && r.Distance < results[i-1].Distance {
			t.Errorf("Results not sorted at %d: %v < %v", i, r.Distance, results[i-1].Distance)
		}
	}

	if _, _, err := idx.SearchID(50, 5, 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSinglePoint(t *testing.T) {
	ds := dataset.Uniform(1, 4, 4)
	idx := buildTestIndex(t, ds, testOptions())

	results, _, err := idx.Search([]float32{0.5, 0.5, 0.5, 0.5}, 10, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != 0 {
		t.Errorf("Expected the single point, got %v", results)
	}
	if got := idx.EntryPoints(); len(got) != 1 || got[0] != 0 {
		t.Errorf("Expected entry point 0, got %v", got)
	}
}

func TestGraphInvariants(t *testing.T) {
	ds := dataset.Clustered(2000, 8, 10, 0.05, 5)
	opts := testOptions()
	opts.MaxDegree = 12
	idx := buildTestIndex(t, ds, opts)

	checkGraph(t, idx, opts.MaxDegree)

	st := idx.Stats()
	t.Logf("Stats: %s", st)
	if st.Nodes != ds.Len() {
		t.Errorf("Expected %d nodes in stats, got %d", ds.Len(), st.Nodes)
	}
	if st.MaxDegree > opts.MaxDegree {
		t.Errorf("Stats max degree %d exceeds bound", st.MaxDegree)
	}
	if st.PinnedEdges+st.Roots != st.Nodes {
		t.Errorf("Expected every node to be pinned or a root: pinned=%d roots=%d nodes=%d",
			st.PinnedEdges, st.Roots, st.Nodes)
	}
}

func TestGraphReachability(t *testing.T) {
	tests := []struct {
		name    string
		ds      *dataset.Memory
		threads int
	}{
		{"uniform", dataset.Uniform(1500, 6, 6), 1},
		{"clustered", dataset.Clustered(1500, 6, 30, 0.01, 7), 1},
		{"parallel", dataset.Clustered(3000, 8, 20, 0.05, 8), 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			opts.MaxDegree = 8
			opts.Threads = tt.threads
			idx := buildTestIndex(t, tt.ds, opts)

			checkGraph(t, idx, opts.MaxDegree)
			checkReachable(t, idx)
		})
	}
}

func TestDeterministicBuild(t *testing.T) {
	ds := dataset.Uniform(800, 8, 9)
	opts := testOptions()

	a := buildTestIndex(t, ds, opts)
	b := buildTestIndex(t, ds, opts)

	for id := uint32(0); id < uint32(ds.Len()); id++ {
		na, nb := a.Neighbors(id), b.Neighbors(id)
		if len(na) != len(nb) {
			t.Fatalf("Node %d: neighbor count %d vs %d", id, len(na), len(nb))
		}
		for i := range na {
			if na[i] != nb[i] {
				t.Fatalf("Node %d: neighbor lists differ: %v vs %v", id, na, nb)
			}
		}
	}

	queries := dataset.Uniform(20, 8, 10)
	for q := 0; q < queries.Len(); q++ {
		ra, _, _ := a.Search(queries.Vector(uint32(q)), 10, 40)
		rb, _, _ := b.Search(queries.Vector(uint32(q)), 10, 40)
		if len(ra) != len(rb) {
			t.Fatalf("Query %d: result count %d vs %d", q, len(ra), len(rb))
		}
		for i := range ra {
			if ra[i] != rb[i] {
				t.Fatalf("Query %d: results differ at %d: %+v vs %+v", q, i, ra[i], rb[i])
			}
		}
	}
}

func TestDiversifyIdempotent(t *testing.T) {
	ds := dataset.Uniform(300, 4, 11)

	for _, keep := range []bool{true, false} {
		opts := testOptions()
		opts.MaxDegree = 6
		opts.KeepPruned = keep
		idx, err := New(ds, opts)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		for owner := uint32(0); owner < 20; owner++ {
			var cands []neighbor
			for id := uint32(0); id < uint32(ds.Len()); id += 3 {
				d := idx.metric.Fn(ds.Vector(owner), ds.Vector(id))
				cands = append(cands, neighbor{ID: id, Dist: d})
			}

			once := idx.diversify(owner, cands, nil)
			twice := idx.diversify(owner, once, nil)

			if len(once) > opts.MaxDegree {
				t.Fatalf("keep=%v: degree %d exceeds bound", keep, len(once))
			}
			if keep && len(once) != opts.MaxDegree {
				t.Errorf("keep=%v: expected a full list of %d, got %d", keep, opts.MaxDegree, len(once))
			}
			if len(once) != len(twice) {
				t.Fatalf("keep=%v owner=%d: %v vs %v", keep, owner, once, twice)
			}
			for i := range once {
				if once[i] != twice[i] {
					t.Fatalf("keep=%v owner=%d: lists differ at %d", keep, owner, i)
				}
				if once[i].ID == owner {
					t.Fatalf("owner %d selected itself", owner)
				}
			}
		}
	}
}

func TestDiversifyKeepsPinned(t *testing.T) {
	ds := dataset.Uniform(50, 4, 12)
	opts := testOptions()
	opts.MaxDegree = 4
	idx, err := New(ds, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var cands []neighbor
	for id := uint32(1); id < 50; id++ {
		cands = append(cands, neighbor{ID: id, Dist: idx.metric.Fn(ds.Vector(0), ds.Vector(id))})
	}
	// the farthest candidate is pinned
	far := 0
	for i, c := range cands {
		if c.Dist > cands[far].Dist {
			far = i
		}
	}
	cands[far].Pinned = true

	list := idx.diversify(0, cands, nil)
	if len(list) != opts.MaxDegree {
		t.Fatalf("Expected %d neighbors, got %d", opts.MaxDegree, len(list))
	}
	if countPinned(list) != 1 || !list[len(list)-1].Pinned || list[len(list)-1].ID != cands[far].ID {
		t.Errorf("Pinned neighbor was not kept: %v", list)
	}
}

func TestFallbackSeeding(t *testing.T) {
	ds := dataset.Uniform(500, 8, 13)

	t.Run("no collisions", func(t *testing.T) {
		opts := testOptions()
		opts.K = 30
		opts.W = 1e-4
		idx := buildTestIndex(t, ds, opts)

		query := []float32{0.31, 0.72, 0.05, 0.44, 0.98, 0.13, 0.57, 0.66}
		results, st, err := idx.Search(query, 10, 50)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if !st.Fallback || st.LSHCandidates != 0 {
			t.Errorf("Expected fallback search, got %+v", st)
		}
		if len(results) != 10 {
			t.Errorf("Expected 10 results from fallback search, got %d", len(results))
		}
		if idx.Stats().Fallbacks != 1 {
			t.Errorf("Expected 1 fallback, got %d", idx.Stats().Fallbacks)
		}
	})

	t.Run("wide buckets", func(t *testing.T) {
		opts := testOptions()
		opts.K = 2
		opts.W = 1e6
		idx := buildTestIndex(t, ds, opts)

		_, st, err := idx.Search(ds.Vector(3), 10, 50)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if st.Fallback || st.LSHCandidates == 0 {
			t.Errorf("Expected LSH seeds, got %+v", st)
		}
	})
}

func TestSetEf(t *testing.T) {
	ds := dataset.Uniform(100, 4, 14)
	idx := buildTestIndex(t, ds, testOptions())

	if err := idx.SetEf(5); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for ef below k, got %v", err)
	}
	if idx.Ef() != 50 {
		t.Errorf("Rejected SetEf changed ef to %d", idx.Ef())
	}
	if err := idx.SetEf(120); err != nil {
		t.Fatalf("SetEf failed: %v", err)
	}
	if idx.Ef() != 120 {
		t.Errorf("Expected ef 120, got %d", idx.Ef())
	}
	if _, _, err := idx.KNNSearch(ds.Vector(1), 10); err != nil {
		t.Errorf("KNNSearch failed: %v", err)
	}
}

func TestEntryRefresh(t *testing.T) {
	ds := dataset.Uniform(400, 4, 15)
	opts := testOptions()
	opts.EntryRefresh = 25
	opts.MaxEntryPoints = 4
	idx := buildTestIndex(t, ds, opts)

	st := idx.Stats()
	extra := st.EntryPoints - st.Roots
	if extra < 1 || extra > opts.MaxEntryPoints {
		t.Errorf("Expected 1..%d refreshed entry points, got %d", opts.MaxEntryPoints, extra)
	}
}

func TestAngularMetric(t *testing.T) {
	ds := dataset.UnitSphere(600, 8, 16)
	opts := testOptions()
	opts.Metric = metric.Angular
	idx := buildTestIndex(t, ds, opts)

	results, st, err := idx.Search(ds.Vector(42), 5, 50)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if results[0].ID != 42 {
		t.Errorf("Expected the query point first, got %d", results[0].ID)
	}
	if st.Pruned != 0 {
		t.Errorf("Projected-distance pruning should be off for cosine, pruned %d", st.Pruned)
	}
}

func TestBatchInsertFailures(t *testing.T) {
	ds := dataset.Uniform(100, 4, 17)
	idx, err := New(ds, testOptions())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ids := []uint32{0, 1, 2, 1, 500, 3}
	var calls int
	result := idx.BatchInsert(ids, 1, func(processed, total int) {
		calls++
		if total != len(ids) {
			t.Errorf("Expected total %d, got %d", len(ids), total)
		}
	})

	if result.TotalProcessed != 6 || result.SuccessCount != 4 || result.FailureCount != 2 {
		t.Errorf("Unexpected result: %+v", result)
	}
	if calls != len(ids) {
		t.Errorf("Expected %d progress calls, got %d", len(ids), calls)
	}
	err = result.Err()
	if err == nil {
		t.Fatal("Expected batch error")
	}
	if !errors.Is(err, ErrAlreadyInserted) {
		t.Errorf("Expected the first failure to be ErrAlreadyInserted, got %v", err)
	}
}

func TestConcurrentInsertAndSearch(t *testing.T) {
	ds := dataset.Uniform(3000, 8, 18)
	opts := testOptions()
	opts.Threads = 4
	idx, err := New(ds, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := idx.Insert(0); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-done:
					return
				default:
				}
				q := ds.Vector(uint32((w*131 + i*17) % ds.Len()))
				results, _, err := idx.Search(q, 10, 30)
				if err != nil {
					t.Errorf("Search failed: %v", err)
					return
				}
				for _, r := range results {
					if !idx.Contains(r.ID) {
						t.Errorf("Search returned uninserted id %d", r.ID)
						return
					}
				}
			}
		}(w)
	}

	if err := idx.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	close(done)
	wg.Wait()

	if len(reachable(idx)) != ds.Len() {
		t.Errorf("Expected all %d nodes reachable after concurrent build", ds.Len())
	}
}

type countingRecorder struct {
	mu       sync.Mutex
	inserts  int
	searches int
	builds   int
	persists map[string]int
	nodes    int
}

func (r *countingRecorder) ObserveInsert(time.Duration, error) {
	r.mu.Lock()
	r.inserts++
	r.mu.Unlock()
}

func (r *countingRecorder) ObserveSearch(time.Duration, SearchStats) {
	r.mu.Lock()
	r.searches++
	r.mu.Unlock()
}

func (r *countingRecorder) ObserveBuild(_ time.Duration, nodes int) {
	r.mu.Lock()
	r.builds++
	r.nodes = nodes
	r.mu.Unlock()
}

func (r *countingRecorder) ObservePersist(op string, _ time.Duration, _ error) {
	r.mu.Lock()
	if r.persists == nil {
		r.persists = make(map[string]int)
	}
	r.persists[op]++
	r.mu.Unlock()
}

func (r *countingRecorder) SetNodes(n int) {
	r.mu.Lock()
	r.nodes = n
	r.mu.Unlock()
}

func TestRecorder(t *testing.T) {
	ds := dataset.Uniform(200, 4, 19)
	rec := &countingRecorder{}
	opts := testOptions()
	opts.Recorder = rec
	idx := buildTestIndex(t, ds, opts)

	for i := 0; i < 5; i++ {
		if _, _, err := idx.Search(ds.Vector(uint32(i)), 10, 20); err != nil {
			t.Fatalf("Search failed: %v", err)
		}
	}

	if rec.inserts != 200 {
		t.Errorf("Expected 200 inserts observed, got %d", rec.inserts)
	}
	if rec.searches != 5 {
		t.Errorf("Expected 5 searches observed, got %d", rec.searches)
	}
	if rec.builds != 1 || rec.nodes != 200 {
		t.Errorf("Expected one build of 200 nodes, got builds=%d nodes=%d", rec.builds, rec.nodes)
	}
}
