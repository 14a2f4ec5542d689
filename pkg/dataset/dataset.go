// Package dataset provides the vector collections the index is built over:
// an appendable in-memory store, loaders for the fvecs/ivecs/bvecs and
// Parquet formats, synthetic generators and brute-force ground truth.
package dataset

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Dataset is a fixed-dimension collection of vectors addressed by id.
// Vectors returned by Vector must not be modified.
type Dataset interface {
	Len() int
	Dim() int
	Vector(id uint32) []float32
}

// GroundTruth supplies precomputed exact nearest neighbors for queries
type GroundTruth interface {
	GroundTruth(query int) []uint32
}

// Memory is an in-memory dataset that supports concurrent reads while
// vectors are appended. Appends are serialized; readers never block.
type Memory struct {
	dim  int
	mu   sync.Mutex
	rows atomic.Pointer[[][]float32]
}

// NewMemory creates a dataset holding vectors, which must all have length dim
func NewMemory(dim int, vectors [][]float32) (*Memory, error) {
	if dim < 1 {
		return nil, fmt.Errorf("invalid dimension: %d (must be > 0)", dim)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d dimension mismatch: expected %d, got %d", i, dim, len(v))
		}
	}

	rows := make([][]float32, len(vectors))
	copy(rows, vectors)

	m := &Memory{dim: dim}
	m.rows.Store(&rows)
	return m, nil
}

// Len returns the number of vectors
func (m *Memory) Len() int {
	return len(*m.rows.Load())
}

// Dim returns the vector dimension
func (m *Memory) Dim() int {
	return m.dim
}

// Vector returns the vector stored under id
func (m *Memory) Vector(id uint32) []float32 {
	return (*m.rows.Load())[id]
}

// Append copies vec into the dataset and returns its id
func (m *Memory) Append(vec []float32) (uint32, error) {
	if len(vec) != m.dim {
		return 0, fmt.Errorf("vector dimension mismatch: expected %d, got %d", m.dim, len(vec))
	}

	v := make([]float32, len(vec))
	copy(v, vec)

	m.mu.Lock()
	defer m.mu.Unlock()

	rows := *m.rows.Load()
	id := uint32(len(rows))
	rows = append(rows, v)
	m.rows.Store(&rows)
	return id, nil
}

// Slice returns a dataset view over ids [from, to) of ds, renumbered from 0
func Slice(ds Dataset, from, to int) (*Memory, error) {
	if from < 0 || to > ds.Len() || from > to {
		return nil, fmt.Errorf("invalid range [%d, %d) for dataset of %d vectors", from, to, ds.Len())
	}
	rows := make([][]float32, 0, to-from)
	for i := from; i < to; i++ {
		rows = append(rows, ds.Vector(uint32(i)))
	}
	return NewMemory(ds.Dim(), rows)
}
