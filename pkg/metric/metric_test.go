package metric

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSquaredL2(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"unit axis", []float32{0, 0}, []float32{1, 0}, 1},
		{"pythagoras", []float32{0, 0}, []float32{3, 4}, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, SquaredL2(tt.a, tt.b), 1e-6)
			assert.InDelta(t, tt.expected, SquaredL2(tt.b, tt.a), 1e-6)
		})
	}
}

func TestL2(t *testing.T) {
	assert.InDelta(t, 5.0, L2([]float32{0, 0}, []float32{3, 4}), 1e-6)
}

func TestInnerProduct(t *testing.T) {
	assert.InDelta(t, -32.0, InnerProduct([]float32{1, 2, 3}, []float32{4, 5, 6}), 1e-5)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 0.0, Cosine([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-6)
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, 2.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.InDelta(t, 1.0, Cosine([]float32{0, 0}, []float32{1, 1}), 1e-6)
}

func TestDimensionMismatchPanics(t *testing.T) {
	assert.Panics(t, func() { SquaredL2([]float32{1}, []float32{1, 2}) })
	assert.Panics(t, func() { Cosine([]float32{1}, []float32{1, 2}) })
}

func naiveSquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

func TestSquaredL2MatchesLoop(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 9))
	for _, dim := range []int{0, 1, 7, 128, 300, 960} {
		a := make([]float32, dim)
		b := make([]float32, dim)
		for i := range a {
			a[i] = rng.Float32()*2 - 1
			b[i] = rng.Float32()*2 - 1
		}
		want := naiveSquaredL2(a, b)
		assert.InDelta(t, want, SquaredL2(a, b), 1e-4*(1+want), "dim=%d", dim)
		assert.Zero(t, SquaredL2(a, a), "dim=%d", dim)
	}
}

func TestSquaredL2Concurrent(t *testing.T) {
	a := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	b := []float32{8, 7, 6, 5, 4, 3, 2, 1}
	want := float32(naiveSquaredL2(a, b))

	var wg sync.WaitGroup
	errs := make(chan float32, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if got := SquaredL2(a, b); got != want {
					errs <- got
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for got := range errs {
		t.Errorf("SquaredL2 = %v, want %v", got, want)
	}
}

func TestDistanceCountsComparisons(t *testing.T) {
	var c Counter
	a := []float32{1, 1}
	b := []float32{2, 2}

	for i := 0; i < 5; i++ {
		SquaredEuclidean.Distance(a, b, &c)
	}
	assert.Equal(t, int64(5), c.Comparisons)

	// nil counters are ignored
	assert.InDelta(t, 2.0, SquaredEuclidean.Distance(a, b, nil), 1e-6)

	var total Counter
	total.Add(c)
	total.Add(c)
	assert.Equal(t, int64(10), total.Comparisons)
}

func TestBound(t *testing.T) {
	assert.InDelta(t, 4.0, SquaredEuclidean.Bound(4), 1e-9)
	assert.InDelta(t, 16.0, Euclidean.Bound(4), 1e-9)
}

func TestByName(t *testing.T) {
	m, err := ByName("")
	require.NoError(t, err)
	assert.Equal(t, "l2sqr", m.Name)

	m, err = ByName("Cosine")
	require.NoError(t, err)
	assert.Equal(t, "cosine", m.Name)
	assert.False(t, m.Euclidean)

	_, err = ByName("hamming")
	assert.Error(t, err)
}
