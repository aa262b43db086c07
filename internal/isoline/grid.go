// Package isoline turns a fitted bivariate copula into return-period level
// sets: the return-level surface RL(u,v) = EL / S(u,v) over a fine uniform
// grid, with S = 1 - u - v + C(u,v) the joint survival function and EL the
// mean inter-exceedance time in years. Level sets are traced by marching
// squares and merged across conditioning regimes into a composite exceedance
// boundary.
package isoline

import (
	"fmt"
	"math"

	"github.com/driftline/compex/internal/copula"
)

// DefaultStep is the uniform grid resolution used when the caller passes a
// non-positive step.
const DefaultStep = 1e-4

// Axis returns the uniform evaluation grid {k*step : k >= 1, k*step <= 0.9999}.
func Axis(step float64) []float64 {
	if step <= 0 {
		step = DefaultStep
	}
	n := int(0.9999/step + 1e-9)
	axis := make([]float64, n)
	for k := range axis {
		axis[k] = float64(k+1) * step
	}
	return axis
}

// NoIsolineError reports a requested return period outside the range
// representable on the evaluated grid.
type NoIsolineError struct {
	ReturnPeriod float64
	MinRP, MaxRP float64
}

func (e *NoIsolineError) Error() string {
	return fmt.Sprintf("no isoline for return period %g years: the grid supports %g to %g years",
		e.ReturnPeriod, e.MinRP, e.MaxRP)
}

// ReturnLevelIsoline traces the rp-year level set of the return-level
// surface for the given copula and mean inter-exceedance time el. When the
// level set has several disjoint branches the first in the tracer's
// row-major discovery order is returned.
func ReturnLevelIsoline(c copula.CDFer, rp, el, step float64) ([]Point, error) {
	if !(rp > 0) {
		return nil, fmt.Errorf("isoline: return period must be positive, got %v", rp)
	}
	if !(el > 0) {
		return nil, fmt.Errorf("isoline: inter-exceedance time must be positive, got %v", el)
	}
	if step >= 1 {
		return nil, fmt.Errorf("isoline: grid step must lie below 1, got %v", step)
	}

	branches, sMin, sMax := traceSurvival(survivalOf(c), Axis(step), el/rp)
	if len(branches) == 0 {
		return nil, &NoIsolineError{
			ReturnPeriod: rp,
			MinRP:        el / sMax,
			MaxRP:        maxAchievableRP(el, sMin),
		}
	}
	return branches[0], nil
}

// Extract traces the raw survival level set S(u,v) == level, returning
// every disjoint branch in discovery order.
func Extract(c copula.CDFer, level, step float64) ([][]Point, error) {
	if step >= 1 {
		return nil, fmt.Errorf("isoline: grid step must lie below 1, got %v", step)
	}
	branches, sMin, sMax := traceSurvival(survivalOf(c), Axis(step), level)
	if len(branches) == 0 {
		return nil, fmt.Errorf("isoline: level %g is outside the surveyed survival range [%g, %g]", level, sMin, sMax)
	}
	return branches, nil
}

func survivalOf(c copula.CDFer) func(u, v float64) float64 {
	return func(u, v float64) float64 {
		return 1 - u - v + c.CDF(u, v)
	}
}

func maxAchievableRP(el, sMin float64) float64 {
	if sMin <= 0 {
		return math.Inf(1)
	}
	return el / sMin
}
