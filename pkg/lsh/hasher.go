// Package lsh implements the E2LSH hashing layer: L tables of K concatenated
// p-stable hash functions h(x) = floor((a·x + b) / W), bucket posting lists
// kept as roaring bitmaps, and the collision/projection statistics used to
// drive early termination in graph search.
package lsh

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/blas/gonum"
)

var blasEngine = gonum.Implementation{}

// Params configures the hash family
type Params struct {
	L    int     // number of hash tables
	K    int     // hash functions concatenated per table
	W    float64 // bucket width
	Seed uint64  // seed for projection vectors and offsets
}

// DefaultParams returns L=2, K=18, W=1.0
func DefaultParams() Params {
	return Params{L: 2, K: 18, W: 1.0, Seed: 1}
}

// Validate checks the parameters
func (p Params) Validate() error {
	if p.L < 1 {
		return fmt.Errorf("invalid L: %d (must be > 0)", p.L)
	}
	if p.K < 1 {
		return fmt.Errorf("invalid K: %d (must be > 0)", p.K)
	}
	if !(p.W > 0) || math.IsInf(p.W, 0) {
		return fmt.Errorf("invalid W: %v (must be a positive finite number)", p.W)
	}
	return nil
}

// Functions returns the total number of hash functions, L*K
func (p Params) Functions() int {
	return p.L * p.K
}

// Hasher maps vectors to signatures. It is immutable after construction
// and safe for concurrent use.
type Hasher struct {
	params  Params
	dim     int
	proj    []float32 // L*K rows of dim, row-major
	offsets []float32 // L*K offsets in [0, W)
}

// NewHasher draws L*K Gaussian projection vectors and uniform offsets from
// a PCG source seeded with p.Seed
func NewHasher(dim int, p Params) (*Hasher, error) {
	if dim < 1 {
		return nil, fmt.Errorf("invalid dimension: %d (must be > 0)", dim)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	m := p.Functions()
	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))

	proj := make([]float32, m*dim)
	for i := range proj {
		proj[i] = float32(rng.NormFloat64())
	}
	offsets := make([]float32, m)
	for i := range offsets {
		offsets[i] = float32(rng.Float64() * p.W)
	}

	return &Hasher{params: p, dim: dim, proj: proj, offsets: offsets}, nil
}

// Restore rebuilds a hasher from previously exported projections
func Restore(dim int, p Params, proj, offsets []float32) (*Hasher, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m := p.Functions()
	if len(proj) != m*dim {
		return nil, fmt.Errorf("projection matrix has %d values, expected %d", len(proj), m*dim)
	}
	if len(offsets) != m {
		return nil, fmt.Errorf("offset vector has %d values, expected %d", len(offsets), m)
	}
	return &Hasher{params: p, dim: dim, proj: proj, offsets: offsets}, nil
}

// Params returns the hash family parameters
func (h *Hasher) Params() Params {
	return h.params
}

// Dim returns the input dimension
func (h *Hasher) Dim() int {
	return h.dim
}

// Projections exposes the projection matrix and offsets for persistence.
// Callers must not modify them.
func (h *Hasher) Projections() (proj, offsets []float32) {
	return h.proj, h.offsets
}

// Assign computes the signature of vec. The result only depends on vec
// and the hasher's seed.
func (h *Hasher) Assign(vec []float32) (Signature, error) {
	if len(vec) != h.dim {
		return Signature{}, fmt.Errorf("vector dimension mismatch: expected %d, got %d", h.dim, len(vec))
	}

	m := h.params.Functions()
	sig := Signature{
		Codes: make([]int32, m),
		Proj:  make([]float32, m),
	}
	w := float32(h.params.W)
	for i := 0; i < m; i++ {
		row := h.proj[i*h.dim : (i+1)*h.dim]
		dot := blasEngine.Sdot(h.dim, row, 1, vec, 1)
		sig.Proj[i] = dot
		sig.Codes[i] = int32(math.Floor(float64((dot + h.offsets[i]) / w)))
	}
	return sig, nil
}
