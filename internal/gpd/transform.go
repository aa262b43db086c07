package gpd

import (
	"fmt"
	"math"

	"github.com/driftline/compex/internal/empirical"
)

// MapUniform maps copula-uniform coordinates to physical units through the
// composite quantile function: empirical interpolation over the bulk sample,
// overwritten by the parametric tail inverse wherever the empirically mapped
// value exceeds the threshold. The same uniform coordinate feeds both
// branches, which keeps the composite map continuous and rank-preserving
// across the threshold kink.
func MapUniform(u []float64, bulk []float64, tail Tail) ([]float64, error) {
	if err := tail.Validate(); err != nil {
		return nil, err
	}
	sorted, err := empirical.Prepare(bulk)
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(u))
	for i, ui := range u {
		if ui < 0 || ui > 1 || math.IsNaN(ui) {
			return nil, fmt.Errorf("uniform sample entry %d is %v, outside [0,1]", i, ui)
		}
		x, err := empirical.Quantile(sorted, ui)
		if err != nil {
			return nil, err
		}
		if x > tail.Threshold {
			x, err = tail.Quantile(ui)
			if err != nil {
				return nil, fmt.Errorf("tail inverse at entry %d: %w", i, err)
			}
		}
		out[i] = x
	}
	return out, nil
}
