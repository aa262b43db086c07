// Package empirical provides NaN-tolerant empirical quantile and rank
// lookups over raw reference samples. The quantile convention is linear
// interpolation between order statistics at fractional index u*(n-1), so
// Quantile and Rank are exact inverses of each other.
package empirical

import (
	"fmt"
	"math"
	"sort"
)

// MinObservations is the smallest usable sample size for an empirical lookup.
const MinObservations = 2

// InsufficientDataError reports a sample too small to support an empirical
// quantile or a distribution fit.
type InsufficientDataError struct {
	Op   string
	Need int
	Got  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: need at least %d non-missing observations, got %d", e.Op, e.Need, e.Got)
}

// Clean returns a copy of xs with NaN and infinite entries removed.
func Clean(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, v := range xs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Prepare cleans and sorts a reference sample for quantile lookups. It fails
// when fewer than MinObservations usable values remain.
func Prepare(xs []float64) ([]float64, error) {
	clean := Clean(xs)
	if len(clean) < MinObservations {
		return nil, &InsufficientDataError{Op: "empirical sample", Need: MinObservations, Got: len(clean)}
	}
	sort.Float64s(clean)
	return clean, nil
}

// Quantile returns the u-quantile of a sorted sample by linear interpolation
// between adjacent order statistics. u must lie in [0,1].
func Quantile(sorted []float64, u float64) (float64, error) {
	if u < 0 || u > 1 || math.IsNaN(u) {
		return 0, fmt.Errorf("quantile level %v outside [0,1]", u)
	}
	n := len(sorted)
	if n < MinObservations {
		return 0, &InsufficientDataError{Op: "empirical quantile", Need: MinObservations, Got: n}
	}
	idx := u * float64(n-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper {
		return sorted[lower], nil
	}
	w := idx - float64(lower)
	return sorted[lower]*(1-w) + sorted[upper]*w, nil
}

// Rank is the inverse of Quantile: it returns the interpolated level u in
// [0,1] at which Quantile(sorted, u) == x. Values outside the sample range
// clamp to 0 or 1.
func Rank(sorted []float64, x float64) (float64, error) {
	n := len(sorted)
	if n < MinObservations {
		return 0, &InsufficientDataError{Op: "empirical rank", Need: MinObservations, Got: n}
	}
	if x <= sorted[0] {
		return 0, nil
	}
	if x >= sorted[n-1] {
		return 1, nil
	}
	// First order statistic >= x.
	j := sort.SearchFloat64s(sorted, x)
	if sorted[j] == x {
		return float64(j) / float64(n-1), nil
	}
	lo, hi := sorted[j-1], sorted[j]
	frac := (x - lo) / (hi - lo)
	return (float64(j-1) + frac) / float64(n-1), nil
}
