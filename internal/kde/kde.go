// Package kde provides the bivariate kernel density estimate used to weight
// isoline points: a product Gaussian kernel with per-axis plug-in
// bandwidths h = sigma_robust * n^(-1/6), the normal reference rule in two
// dimensions, where sigma_robust guards against heavy tails by taking the
// smaller of the standard deviation and IQR/1.349.
package kde

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/driftline/compex/internal/empirical"
)

// Bivariate is a fitted product-Gaussian kernel density estimate.
type Bivariate struct {
	xs, ys []float64
	hx, hy float64
}

// Fit builds the estimate from paired observations. Pairs with a
// non-finite member are dropped; fewer than two usable pairs fail with
// empirical.InsufficientDataError, and a coordinate without spread cannot
// carry a bandwidth.
func Fit(xs, ys []float64) (*Bivariate, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("kde: got %d x values for %d y values", len(xs), len(ys))
	}
	cx := make([]float64, 0, len(xs))
	cy := make([]float64, 0, len(ys))
	for i := range xs {
		if finite(xs[i]) && finite(ys[i]) {
			cx = append(cx, xs[i])
			cy = append(cy, ys[i])
		}
	}
	if len(cx) < empirical.MinObservations {
		return nil, &empirical.InsufficientDataError{
			Op: "fit bivariate kde", Need: empirical.MinObservations, Got: len(cx),
		}
	}

	hx, err := bandwidth(cx)
	if err != nil {
		return nil, fmt.Errorf("kde x bandwidth: %w", err)
	}
	hy, err := bandwidth(cy)
	if err != nil {
		return nil, fmt.Errorf("kde y bandwidth: %w", err)
	}
	return &Bivariate{xs: cx, ys: cy, hx: hx, hy: hy}, nil
}

// Bandwidths reports the fitted per-axis kernel widths.
func (b *Bivariate) Bandwidths() (hx, hy float64) { return b.hx, b.hy }

// Len reports the number of pairs backing the estimate.
func (b *Bivariate) Len() int { return len(b.xs) }

// Density evaluates the estimate at (x, y).
func (b *Bivariate) Density(x, y float64) float64 {
	sum := 0.0
	for i := range b.xs {
		dx := (x - b.xs[i]) / b.hx
		dy := (y - b.ys[i]) / b.hy
		sum += math.Exp(-0.5 * (dx*dx + dy*dy))
	}
	return sum / (2 * math.Pi * b.hx * b.hy * float64(len(b.xs)))
}

// DensityAll evaluates the estimate at each paired point.
func (b *Bivariate) DensityAll(xs, ys []float64) ([]float64, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("kde: got %d x values for %d y values", len(xs), len(ys))
	}
	out := make([]float64, len(xs))
	for i := range xs {
		out[i] = b.Density(xs[i], ys[i])
	}
	return out, nil
}

// bandwidth applies the plug-in rule to one coordinate.
func bandwidth(xs []float64) (float64, error) {
	sorted, err := empirical.Prepare(xs)
	if err != nil {
		return 0, err
	}
	sd := stat.StdDev(xs, nil)
	q1, err := empirical.Quantile(sorted, 0.25)
	if err != nil {
		return 0, err
	}
	q3, err := empirical.Quantile(sorted, 0.75)
	if err != nil {
		return 0, err
	}
	sigma := sd
	if iqr := q3 - q1; iqr > 0 {
		sigma = math.Min(sd, iqr/1.349)
	}
	if !(sigma > 0) {
		return 0, fmt.Errorf("coordinate has no spread, cannot select a bandwidth")
	}
	return sigma * math.Pow(float64(len(xs)), -1.0/6), nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
