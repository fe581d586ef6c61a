// Package acquisition provides closed-form acquisition functions that rank
// unexplored candidates from the surrogate's posterior mean and variance.
// All functions assume maximization of the objective.
package acquisition

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Function scores one candidate from its posterior mean and standard
// deviation given the best score observed so far. Higher is better.
type Function interface {
	Compute(mu, sigma, best float64) float64
}

// ExpectedImprovement implements EI with an exploration margin xi.
type ExpectedImprovement struct {
	// Xi shifts the improvement threshold above the incumbent.
	Xi float64
}

// Compute returns E[max(f - best - xi, 0)] under the posterior.
func (ei ExpectedImprovement) Compute(mu, sigma, best float64) float64 {
	improvement := mu - best - ei.Xi
	if sigma <= 1e-10 {
		return math.Max(improvement, 0)
	}
	z := improvement / sigma
	n := distuv.UnitNormal
	return improvement*n.CDF(z) + sigma*n.Prob(z)
}

// ProbabilityOfImprovement implements PI with an exploration margin xi.
type ProbabilityOfImprovement struct {
	Xi float64
}

// Compute returns P(f > best + xi) under the posterior.
func (pi ProbabilityOfImprovement) Compute(mu, sigma, best float64) float64 {
	improvement := mu - best - pi.Xi
	if sigma <= 1e-10 {
		if improvement > 0 {
			return 1
		}
		return 0
	}
	return distuv.UnitNormal.CDF(improvement / sigma)
}
