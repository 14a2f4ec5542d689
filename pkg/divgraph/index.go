// Package divgraph implements an approximate nearest neighbor index that
// combines an LSH layer with a diversified proximity graph. New points are
// linked by a beam search seeded from the entry points and the LSH
// buckets, followed by a diversification rule that bounds the out-degree.
// Construction, insertion and search are safe for concurrent use.
package divgraph

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/therealutkarshpriyadarshi/lshapg/internal/visited"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/lsh"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/metric"
)

// Dataset is the vector collection an index is built over. Vectors are
// referenced by id and never copied by the index.
type Dataset interface {
	Len() int
	Dim() int
	Vector(id uint32) []float32
}

// Index is a divGraph index
type Index struct {
	opts   Options
	ds     Dataset
	dim    int
	metric metric.Metric

	hasher *lsh.Hasher
	tables *lsh.Tables

	nodes   *store
	entries entrySet

	// snapshotMu is held shared by inserts and exclusively by Save
	snapshotMu sync.RWMutex

	ef atomic.Int64

	// chi-square thresholds for projected-distance pruning, +Inf when off
	pruneC float64
	pruneQ float64

	visited  *visited.Pool
	logger   *slog.Logger
	recorder Recorder

	order       atomic.Uint64
	comparisons atomic.Int64
	inserts     atomic.Int64
	searches    atomic.Int64
	fallbacks   atomic.Int64
}

// New creates an empty index over ds. It fails with a *ConfigError when
// the options are invalid or do not match the dataset.
func New(ds Dataset, opts Options) (*Index, error) {
	if ds == nil {
		return nil, configErrorf("dataset", "nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if ds.Dim() < 1 {
		return nil, configErrorf("dim", "dataset dimension %d (must be > 0)", ds.Dim())
	}
	if opts.Dim != 0 && opts.Dim != ds.Dim() {
		return nil, configErrorf("dim", "index dimension %d does not match dataset dimension %d", opts.Dim, ds.Dim())
	}

	hasher, err := lsh.NewHasher(ds.Dim(), opts.LSHParams())
	if err != nil {
		return nil, configErrorf("lsh", "%v", err)
	}
	return newIndex(ds, opts, hasher), nil
}

func newIndex(ds Dataset, opts Options, hasher *lsh.Hasher) *Index {
	opts = opts.withDefaults()
	opts.Dim = ds.Dim()

	idx := &Index{
		opts:     opts,
		ds:       ds,
		dim:      ds.Dim(),
		metric:   opts.Metric,
		hasher:   hasher,
		tables:   lsh.NewTables(hasher.Params()),
		nodes:    newStore(ds.Len()),
		logger:   opts.Logger,
		recorder: opts.Recorder,
	}
	idx.ef.Store(int64(opts.Ef))

	idx.pruneC, idx.pruneQ = math.Inf(1), math.Inf(1)
	if opts.Metric.Euclidean {
		m := hasher.Params().Functions()
		idx.pruneC = lsh.PruneThreshold(m, opts.PC)
		idx.pruneQ = lsh.PruneThreshold(m, opts.PQ)
	}
	idx.visited = visited.NewPool(func() int { return idx.nodes.capacity() })
	return idx
}

// Options returns the options the index was created with
func (idx *Index) Options() Options {
	return idx.opts
}

// Dim returns the vector dimension
func (idx *Index) Dim() int {
	return idx.dim
}

// Len returns the number of inserted vectors
func (idx *Index) Len() int {
	return idx.nodes.len()
}

// Dataset returns the dataset the index refers to
func (idx *Index) Dataset() Dataset {
	return idx.ds
}

// Contains reports whether id has been inserted
func (idx *Index) Contains(id uint32) bool {
	return idx.nodes.get(id) != nil
}

// Neighbors returns a copy of id's neighbor list, closest first, or nil if
// id has not been inserted
func (idx *Index) Neighbors(id uint32) []uint32 {
	n := idx.nodes.get(id)
	if n == nil {
		return nil
	}
	return n.neighborIDs()
}

// EntryPoints returns the current entry-point set
func (idx *Index) EntryPoints() []uint32 {
	return idx.entries.snapshot()
}

// Signature returns the LSH signature assigned to id at insertion time
func (idx *Index) Signature(id uint32) (lsh.Signature, bool) {
	n := idx.nodes.get(id)
	if n == nil {
		return lsh.Signature{}, false
	}
	return n.sig, true
}

// Ef returns the default query beam width
func (idx *Index) Ef() int {
	return int(idx.ef.Load())
}

// SetEf changes the default query beam width. Values below k are rejected.
func (idx *Index) SetEf(ef int) error {
	if ef < idx.opts.TopK {
		return configErrorf("ef", "%d (must be >= k %d)", ef, idx.opts.TopK)
	}
	idx.ef.Store(int64(ef))
	return nil
}

// Stats summarizes the graph and the work done so far
type Stats struct {
	Nodes         int
	Edges         int
	AvgDegree     float64
	MaxDegree     int
	PinnedEdges   int
	EntryPoints   int
	Roots         int
	Buckets       int
	MaxBucketSize uint64
	Comparisons   int64
	Inserts       int64
	Searches      int64
	Fallbacks     int64
}

// Stats walks the graph and returns its statistics
func (idx *Index) Stats() Stats {
	st := Stats{
		EntryPoints: len(idx.entries.snapshot()),
		Roots:       idx.entries.rootCount(),
		Buckets:     idx.tables.Buckets(),
		Comparisons: idx.comparisons.Load(),
		Inserts:     idx.inserts.Load(),
		Searches:    idx.searches.Load(),
		Fallbacks:   idx.fallbacks.Load(),
	}
	st.MaxBucketSize, _ = idx.tables.BucketSizes()

	idx.nodes.each(func(n *node) {
		list := n.neighbors()
		st.Nodes++
		st.Edges += len(list)
		st.PinnedEdges += countPinned(list)
		if len(list) > st.MaxDegree {
			st.MaxDegree = len(list)
		}
	})
	if st.Nodes > 0 {
		st.AvgDegree = float64(st.Edges) / float64(st.Nodes)
	}
	return st
}

// String returns a one-line summary
func (s Stats) String() string {
	return fmt.Sprintf("nodes=%d edges=%d avg_degree=%.2f max_degree=%d entry_points=%d roots=%d buckets=%d",
		s.Nodes, s.Edges, s.AvgDegree, s.MaxDegree, s.EntryPoints, s.Roots, s.Buckets)
}

// vector returns the dataset vector of a published node
func (idx *Index) vector(id uint32) []float32 {
	return idx.ds.Vector(id)
}

// checkID validates id against the dataset range and vector dimension
func (idx *Index) checkID(id uint32) ([]float32, error) {
	if int(id) >= idx.ds.Len() {
		return nil, &NotFoundError{ID: id, Len: idx.ds.Len()}
	}
	vec := idx.ds.Vector(id)
	if len(vec) != idx.dim {
		return nil, &DimensionError{Expected: idx.dim, Actual: len(vec)}
	}
	return vec, nil
}
