package lsh

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// CollisionProbability is the probability that one p-stable hash function
// with bucket width w maps two points at distance r to the same code
func CollisionProbability(r, w float64) float64 {
	if r <= 0 {
		return 1
	}
	s := w / r
	return 1 - 2*distuv.UnitNormal.CDF(-s) - 2/(math.Sqrt(2*math.Pi)*s)*(1-math.Exp(-s*s/2))
}

// TableCollisionProbability is the probability that two points at
// distance r share a bucket in at least one of the L tables
func TableCollisionProbability(r float64, p Params) float64 {
	p1 := math.Pow(CollisionProbability(r, p.W), float64(p.K))
	return 1 - math.Pow(1-p1, float64(p.L))
}

// PruneThreshold returns the factor t such that a point whose projected
// distance exceeds t·bound is farther than bound with probability at least
// conf, for m Gaussian projections. conf >= 1 disables pruning (+Inf).
func PruneThreshold(m int, conf float64) float64 {
	if conf >= 1 || m < 1 {
		return math.Inf(1)
	}
	if conf <= 0 {
		return 0
	}
	return distuv.ChiSquared{K: float64(m)}.Quantile(conf)
}
