package lsh

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Signature is the hash signature of one vector: L tuples of K integer
// codes, plus the raw projections a·x that produced them
type Signature struct {
	Codes []int32
	Proj  []float32
}

// IsZero reports whether the signature is empty
func (s Signature) IsZero() bool {
	return len(s.Codes) == 0
}

// Key returns the bucket key of table t for a signature built with k
// functions per table
func (s Signature) Key(t, k int) uint64 {
	var buf [4]byte
	d := xxhash.New()
	for _, c := range s.Codes[t*k : (t+1)*k] {
		binary.LittleEndian.PutUint32(buf[:], uint32(c))
		d.Write(buf[:])
	}
	return d.Sum64()
}

// ProjectedDistance returns Σ(a_i - b_i)² over two projection vectors.
// For Gaussian projections this is distributed as ||x-y||² · χ²(m).
func ProjectedDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return sum
}

// Equal reports whether two signatures carry identical codes and
// projections
func (s Signature) Equal(o Signature) bool {
	if len(s.Codes) != len(o.Codes) || len(s.Proj) != len(o.Proj) {
		return false
	}
	for i := range s.Codes {
		if s.Codes[i] != o.Codes[i] {
			return false
		}
	}
	for i := range s.Proj {
		if math.Float32bits(s.Proj[i]) != math.Float32bits(o.Proj[i]) {
			return false
		}
	}
	return true
}
