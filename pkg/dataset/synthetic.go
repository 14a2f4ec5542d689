package dataset

import (
	"math"
	"math/rand/v2"
)

// Uniform generates n vectors with coordinates drawn from [0, 1)
func Uniform(n, dim int, seed uint64) *Memory {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	rows := make([][]float32, n)
	for i := range rows {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()
		}
		rows[i] = v
	}
	m, _ := NewMemory(dim, rows)
	return m
}

// UnitSphere generates n vectors uniformly distributed on the unit sphere
func UnitSphere(n, dim int, seed uint64) *Memory {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	rows := make([][]float32, n)
	for i := range rows {
		v := make([]float32, dim)
		var norm float64
		for j := range v {
			x := rng.NormFloat64()
			v[j] = float32(x)
			norm += x * x
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			v[0], norm = 1, 1
		}
		for j := range v {
			v[j] = float32(float64(v[j]) / norm)
		}
		rows[i] = v
	}
	m, _ := NewMemory(dim, rows)
	return m
}

// Clustered generates n vectors around the given number of Gaussian
// centers with standard deviation sigma
func Clustered(n, dim, centers int, sigma float64, seed uint64) *Memory {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	if centers < 1 {
		centers = 1
	}
	cs := make([][]float64, centers)
	for i := range cs {
		c := make([]float64, dim)
		for j := range c {
			c[j] = rng.Float64()
		}
		cs[i] = c
	}

	rows := make([][]float32, n)
	for i := range rows {
		c := cs[rng.IntN(centers)]
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(c[j] + rng.NormFloat64()*sigma)
		}
		rows[i] = v
	}
	m, _ := NewMemory(dim, rows)
	return m
}

// Shuffled returns the ids [0, n) in a seeded random order
func Shuffled(n int, seed uint64) []uint32 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = uint32(i)
	}
	rng.Shuffle(n, func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	return ids
}
