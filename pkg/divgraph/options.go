package divgraph

import (
	"log/slog"
	"math"
	"runtime"

	"github.com/therealutkarshpriyadarshi/lshapg/internal/codec"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/lsh"
	"github.com/therealutkarshpriyadarshi/lshapg/pkg/metric"
)

// Compression selects how snapshots are compressed on disk
type Compression = codec.Compression

const (
	CompressionNone = codec.CompressionNone
	CompressionLZ4  = codec.CompressionLZ4
	CompressionZSTD = codec.CompressionZSTD
)

// Options holds the index parameters. All fields except Ef are fixed for
// the lifetime of an index.
type Options struct {
	// Dim, when non-zero, must match the dataset dimension
	Dim int

	// C is the approximation factor of the diversification rule: a
	// candidate q is dominated by an accepted neighbor r when
	// dist(q, r) < dist(p, q) * C.
	C float64

	// TopK is the default number of neighbors returned per query (k)
	TopK int

	// L hash tables of K concatenated hash functions with bucket width W
	L    int
	K    int
	W    float64
	Seed uint64

	// Threads is the number of construction workers (T)
	Threads int

	// EfConstruction is the beam width used while linking a new point
	EfConstruction int

	// Ef is the default query beam width; it can be changed with SetEf
	Ef int

	// PC and PQ are the confidences of the projected-distance test applied
	// during construction and queries. 1 disables the test.
	PC float64
	PQ float64

	// Beta scales the number of LSH candidates used as extra seeds:
	// max(1, ceil(Beta*ef))
	Beta float64

	// MaxDegree bounds every neighbor list
	MaxDegree int

	// KeepPruned tops a neighbor list up to MaxDegree with the closest
	// dominated candidates when diversification leaves free slots
	KeepPruned bool

	// Patience stops a beam search after this many consecutive expansions
	// that do not improve the result set. 0 disables it.
	Patience int

	// EntryRefresh adds every Nth inserted node to the entry-point set,
	// keeping at most MaxEntryPoints of them. 0 never refreshes.
	EntryRefresh   int
	MaxEntryPoints int

	// RebuildOnLoadError lets BuildOrLoad fall back to a fresh build when
	// the snapshot cannot be loaded
	RebuildOnLoadError bool

	// Compression applied by Save
	Compression Compression

	Metric   metric.Metric
	Logger   *slog.Logger
	Recorder Recorder
}

// DefaultOptions returns the parameters used by the reference experiments
func DefaultOptions() Options {
	return Options{
		C:              1.5,
		TopK:           50,
		L:              2,
		K:              18,
		W:              1.0,
		Seed:           1,
		Threads:        runtime.NumCPU(),
		EfConstruction: 80,
		Ef:             80,
		PC:             0.95,
		PQ:             0.9,
		Beta:           0.1,
		MaxDegree:      24,
		KeepPruned:     true,
		EntryRefresh:   0,
		MaxEntryPoints: 16,
		Compression:    CompressionZSTD,
		Metric:         metric.SquaredEuclidean,
	}
}

// LSHParams returns the hash family parameters
func (o Options) LSHParams() lsh.Params {
	return lsh.Params{L: o.L, K: o.K, W: o.W, Seed: o.Seed}
}

// Validate checks every parameter and returns a *ConfigError for the first
// invalid one
func (o Options) Validate() error {
	switch {
	case o.Dim < 0:
		return configErrorf("dim", "%d (must be >= 0)", o.Dim)
	case !(o.C > 0) || math.IsInf(o.C, 0):
		return configErrorf("c", "%v (must be a positive finite number)", o.C)
	case o.TopK < 1:
		return configErrorf("k", "%d (must be > 0)", o.TopK)
	case o.L < 1:
		return configErrorf("L", "%d (must be > 0)", o.L)
	case o.K < 1:
		return configErrorf("K", "%d (must be > 0)", o.K)
	case !(o.W > 0) || math.IsInf(o.W, 0):
		return configErrorf("W", "%v (must be a positive finite number)", o.W)
	case o.Threads < 1:
		return configErrorf("T", "%d (must be > 0)", o.Threads)
	case o.EfConstruction < 1:
		return configErrorf("efC", "%d (must be > 0)", o.EfConstruction)
	case o.TopK > o.EfConstruction:
		return configErrorf("k", "%d exceeds efC %d", o.TopK, o.EfConstruction)
	case o.Ef < o.TopK:
		return configErrorf("ef", "%d (must be >= k %d)", o.Ef, o.TopK)
	case !(o.PC > 0 && o.PC <= 1):
		return configErrorf("pC", "%v (must be in (0, 1])", o.PC)
	case !(o.PQ > 0 && o.PQ <= 1):
		return configErrorf("pQ", "%v (must be in (0, 1])", o.PQ)
	case !(o.Beta >= 0) || math.IsInf(o.Beta, 0):
		return configErrorf("beta", "%v (must be >= 0)", o.Beta)
	case o.MaxDegree < 1:
		return configErrorf("max degree", "%d (must be > 0)", o.MaxDegree)
	case o.MaxDegree > math.MaxUint16:
		return configErrorf("max degree", "%d (must be <= %d)", o.MaxDegree, math.MaxUint16)
	case o.Patience < 0:
		return configErrorf("patience", "%d (must be >= 0)", o.Patience)
	case o.EntryRefresh < 0:
		return configErrorf("entry refresh", "%d (must be >= 0)", o.EntryRefresh)
	case o.EntryRefresh > 0 && o.MaxEntryPoints < 1:
		return configErrorf("max entry points", "%d (must be > 0 when entry refresh is enabled)", o.MaxEntryPoints)
	case o.Compression > CompressionZSTD:
		return configErrorf("compression", "%d (unknown)", o.Compression)
	}
	return nil
}

// withDefaults fills in the collaborators left unset
func (o Options) withDefaults() Options {
	if o.Metric.Fn == nil {
		o.Metric = metric.SquaredEuclidean
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	return o
}

// seedBudget is the number of LSH candidates used to seed a search of
// width ef
func (o Options) seedBudget(ef int) int {
	n := int(math.Ceil(o.Beta * float64(ef)))
	if n < 1 {
		n = 1
	}
	return n
}
