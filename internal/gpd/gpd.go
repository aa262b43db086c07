// Package gpd implements the generalized Pareto tail model used above each
// variable's threshold, and the hybrid empirical/parametric quantile mapping
// that carries copula-uniform coordinates back to physical units.
//
// Tail parameters are fitted externally (threshold selection and GPD fitting
// are collaborator concerns); this package only inverts the fitted model.
package gpd

import (
	"fmt"
	"math"
)

// Tail is a fitted generalized Pareto exceedance model for one variable.
// Rate is the probability of exceeding Threshold; it is 1 for samples that
// are already conditioned on exceedance.
type Tail struct {
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Scale     float64 `json:"scale" yaml:"scale"`
	Shape     float64 `json:"shape" yaml:"shape"`
	Rate      float64 `json:"rate" yaml:"rate"`
}

// DegenerateShapeError reports a shape parameter that produced a non-finite
// tail quantile.
type DegenerateShapeError struct {
	Shape float64
	U     float64
}

func (e *DegenerateShapeError) Error() string {
	return fmt.Sprintf("gpd inverse is non-finite at u=%v with shape=%v", e.U, e.Shape)
}

// Validate checks the parameter ranges shared by all Tail operations.
func (t Tail) Validate() error {
	if t.Scale <= 0 || math.IsNaN(t.Scale) {
		return fmt.Errorf("gpd scale must be positive, got %v", t.Scale)
	}
	if t.Rate <= 0 || t.Rate > 1 || math.IsNaN(t.Rate) {
		return fmt.Errorf("gpd exceedance rate must be in (0,1], got %v", t.Rate)
	}
	return nil
}

// Conditional returns the tail with its exceedance rate forced to 1, for use
// on samples that are already conditioned on exceeding the threshold.
func (t Tail) Conditional() Tail {
	t.Rate = 1
	return t
}

// Quantile inverts the fitted tail at uniform level u:
//
//	x = threshold + (scale/shape) * (((1-u)/rate)^(-shape) - 1)
//
// with the exponential limit threshold - scale*ln((1-u)/rate) when the shape
// is exactly zero. u outside [0,1] is a contract violation.
func (t Tail) Quantile(u float64) (float64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	if u < 0 || u > 1 || math.IsNaN(u) {
		return 0, fmt.Errorf("uniform level %v outside [0,1]", u)
	}

	z := (1 - u) / t.Rate
	var x float64
	if t.Shape == 0 {
		x = t.Threshold - t.Scale*math.Log(z)
	} else {
		x = t.Threshold + t.Scale/t.Shape*(math.Pow(z, -t.Shape)-1)
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, &DegenerateShapeError{Shape: t.Shape, U: u}
	}
	return x, nil
}

// CDF is the unconditional distribution of exceedance values implied by the
// tail: P(X <= x | model), with mass Rate above the threshold. Exposed for
// continuity checks; x below the threshold maps to 1-Rate.
func (t Tail) CDF(x float64) float64 {
	if x <= t.Threshold {
		return 1 - t.Rate
	}
	z := (x - t.Threshold) / t.Scale
	var surv float64
	if t.Shape == 0 {
		surv = math.Exp(-z)
	} else {
		base := 1 + t.Shape*z
		if base <= 0 {
			return 1
		}
		surv = math.Pow(base, -1/t.Shape)
	}
	return 1 - t.Rate*surv
}
