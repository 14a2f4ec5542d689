// Package metric provides the distance functions used by the index and a
// per-call comparison counter for cost accounting.
package metric

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"gonum.org/v1/gonum/blas/gonum"
)

// Func is a function type for calculating distance between two vectors.
// Lower values mean more similar.
type Func func(a, b []float32) float32

var blasEngine = gonum.Implementation{}

// diffPool holds scratch slices for a - b
var diffPool = sync.Pool{
	New: func() any {
		s := make([]float32, 0, 128)
		return &s
	},
}

// Metric bundles a distance function with the properties the index needs
// to know about it
type Metric struct {
	Name string
	Fn   Func

	// Euclidean is set for the L2 family. Projected-distance pruning is only
	// sound for these metrics.
	Euclidean bool

	// Squared is set when Fn returns squared L2 distance
	Squared bool
}

// Counter accumulates distance comparisons for one caller. It is not safe
// for concurrent use; each search or insert owns its own Counter and the
// caller aggregates.
type Counter struct {
	Comparisons int64
}

// Add merges another counter into c
func (c *Counter) Add(other Counter) {
	c.Comparisons += other.Comparisons
}

// Distance computes the metric between a and b and charges one comparison
// to c. A nil counter is allowed.
func (m Metric) Distance(a, b []float32, c *Counter) float32 {
	if c != nil {
		c.Comparisons++
	}
	return m.Fn(a, b)
}

// Bound converts a metric value into the squared L2 scale used by
// projected-distance pruning
func (m Metric) Bound(d float32) float64 {
	if m.Squared {
		return float64(d)
	}
	return float64(d) * float64(d)
}

// SquaredL2 returns Σ(a[i] - b[i])²
func SquaredL2(a, b []float32) float32 {
	if len(a) != len(b) {
		panic("vectors must have the same dimension")
	}

	n := len(a)
	buf := diffPool.Get().(*[]float32)
	defer diffPool.Put(buf)
	if cap(*buf) < n {
		*buf = make([]float32, n)
	}
	diff := (*buf)[:n]

	copy(diff, a)
	blasEngine.Saxpy(n, -1, b, 1, diff, 1)
	return blasEngine.Sdot(n, diff, 1, diff, 1)
}

// L2 returns the Euclidean distance between a and b
func L2(a, b []float32) float32 {
	return float32(math.Sqrt(float64(SquaredL2(a, b))))
}

// InnerProduct returns the negated dot product so that lower is better
func InnerProduct(a, b []float32) float32 {
	if len(a) != len(b) {
		panic("vectors must have the same dimension")
	}
	return -blasEngine.Sdot(len(a), a, 1, b, 1)
}

// Cosine returns 1 - cos(a, b). Zero vectors are treated as orthogonal.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		panic("vectors must have the same dimension")
	}

	dot := blasEngine.Sdot(len(a), a, 1, b, 1)
	na := blasEngine.Snrm2(len(a), a, 1)
	nb := blasEngine.Snrm2(len(b), b, 1)
	if na == 0 || nb == 0 {
		return 1.0
	}
	return 1.0 - dot/(na*nb)
}

// Predefined metrics
var (
	SquaredEuclidean = Metric{Name: "l2sqr", Fn: SquaredL2, Euclidean: true, Squared: true}
	Euclidean        = Metric{Name: "l2", Fn: L2, Euclidean: true}
	Dot              = Metric{Name: "ip", Fn: InnerProduct}
	Angular          = Metric{Name: "cosine", Fn: Cosine}
)

// ByName looks up a predefined metric. The empty name selects squared L2.
func ByName(name string) (Metric, error) {
	switch strings.ToLower(name) {
	case "", "l2sqr", "sqeuclidean":
		return SquaredEuclidean, nil
	case "l2", "euclidean":
		return Euclidean, nil
	case "ip", "dot", "inner_product":
		return Dot, nil
	case "cosine", "angular":
		return Angular, nil
	default:
		return Metric{}, fmt.Errorf("unknown metric %q", name)
	}
}
