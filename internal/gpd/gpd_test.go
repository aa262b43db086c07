package gpd

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/compex/internal/empirical"
)

func TestQuantile_ExponentialLimit(t *testing.T) {
	// A shape of exactly zero must take the log branch; a tiny shape must
	// approach it smoothly through the power branch.
	zero := Tail{Threshold: 10, Scale: 2, Shape: 0, Rate: 0.1}
	tiny := Tail{Threshold: 10, Scale: 2, Shape: 1e-8, Rate: 0.1}

	for _, u := range []float64{0.91, 0.95, 0.99, 0.999} {
		a, err := zero.Quantile(u)
		require.NoError(t, err)
		b, err := tiny.Quantile(u)
		require.NoError(t, err)
		assert.InDelta(t, a, b, 1e-5, "shape 1e-8 should match the exponential form at u=%v", u)
	}
}

func TestQuantile_BoundedSupportNegativeShape(t *testing.T) {
	tail := Tail{Threshold: 5, Scale: 3, Shape: -0.5, Rate: 1}

	// Upper endpoint of the support is threshold - scale/shape.
	upper := 5.0 - 3.0/(-0.5)
	x, err := tail.Quantile(1)
	require.NoError(t, err)
	assert.InDelta(t, upper, x, 1e-9)
}

func TestQuantile_NonFiniteIsTyped(t *testing.T) {
	tail := Tail{Threshold: 5, Scale: 3, Shape: 0.2, Rate: 1}

	_, err := tail.Quantile(1) // (1-u)=0 with positive shape diverges
	require.Error(t, err)

	var degenerate *DegenerateShapeError
	assert.True(t, errors.As(err, &degenerate), "expected DegenerateShapeError, got %v", err)
}

func TestQuantile_RejectsBadInputs(t *testing.T) {
	tail := Tail{Threshold: 0, Scale: 1, Shape: 0.1, Rate: 0.1}

	_, err := tail.Quantile(-0.01)
	assert.Error(t, err, "u below zero")

	_, err = tail.Quantile(1.01)
	assert.Error(t, err, "u above one")

	bad := tail
	bad.Rate = 0
	_, err = bad.Quantile(0.5)
	assert.Error(t, err, "zero rate")

	bad = tail
	bad.Rate = 1.5
	_, err = bad.Quantile(0.5)
	assert.Error(t, err, "rate above one")

	bad = tail
	bad.Scale = -1
	_, err = bad.Quantile(0.5)
	assert.Error(t, err, "negative scale")
}

func TestQuantile_ContinuousAtThreshold(t *testing.T) {
	// With rate p, the tail inverse equals the threshold exactly at u = 1-p.
	tail := Tail{Threshold: 42, Scale: 6, Shape: 0.15, Rate: 0.08}

	x, err := tail.Quantile(1 - tail.Rate)
	require.NoError(t, err)
	assert.InDelta(t, tail.Threshold, x, 1e-9, "tail inverse should meet the threshold at u=1-rate")
}

func TestCDF_InvertsQuantile(t *testing.T) {
	tails := []Tail{
		{Threshold: 3, Scale: 1.5, Shape: 0.1, Rate: 0.2},
		{Threshold: 3, Scale: 1.5, Shape: 0, Rate: 0.2},
		{Threshold: 3, Scale: 1.5, Shape: -0.2, Rate: 0.2},
	}
	for _, tail := range tails {
		for _, u := range []float64{0.85, 0.9, 0.95, 0.99} {
			x, err := tail.Quantile(u)
			require.NoError(t, err)
			assert.InDelta(t, u, tail.CDF(x), 1e-9, "CDF(Quantile(u)) shape=%v u=%v", tail.Shape, u)
		}
	}
}

func TestMapUniform_BranchSelection(t *testing.T) {
	// Bulk sample 1..10; threshold at the 0.9 empirical quantile.
	bulk := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tail := Tail{Threshold: 9.1, Scale: 1, Shape: 0.1, Rate: 0.1}

	out, err := MapUniform([]float64{0.0, 0.5, 0.95}, bulk, tail)
	require.NoError(t, err)

	// Below the threshold the empirical quantile applies untouched.
	assert.InDelta(t, 1.0, out[0], 1e-12)
	assert.InDelta(t, 5.5, out[1], 1e-12)

	// Above the threshold the same uniform is re-mapped through the tail.
	want, err := tail.Quantile(0.95)
	require.NoError(t, err)
	assert.InDelta(t, want, out[2], 1e-12)
	assert.Greater(t, out[2], tail.Threshold)
}

func TestMapUniform_RankRoundTrip(t *testing.T) {
	bulk := []float64{12, 3, 7, 19, 5, 8, 15, 1, 10, 4, 17, 6}
	sorted, err := empirical.Prepare(bulk)
	require.NoError(t, err)
	tail := Tail{Threshold: 18, Scale: 2, Shape: 0.1, Rate: 0.1}

	// All of these land below the threshold, so the empirical branch applies
	// and ranking the mapped value must recover the original uniform.
	us := []float64{0.05, 0.2, 0.35, 0.5, 0.65, 0.8}
	out, err := MapUniform(us, bulk, tail)
	require.NoError(t, err)
	for i, u := range us {
		got, err := empirical.Rank(sorted, out[i])
		require.NoError(t, err)
		assert.InDelta(t, u, got, 1e-9, "rank should invert the mapping at u=%v", u)
	}
}

func TestMapUniform_ContinuityAtThresholdCrossing(t *testing.T) {
	// Threshold placed at the 0.9 empirical quantile with matching rate 0.1:
	// the empirical and parametric branches agree at the crossing level.
	bulk := make([]float64, 101)
	for i := range bulk {
		bulk[i] = float64(i) // 0..100, 0.9-quantile = 90
	}
	tail := Tail{Threshold: 90, Scale: 10, Shape: 0.1, Rate: 0.1}

	lo, err := MapUniform([]float64{0.9 - 1e-9}, bulk, tail)
	require.NoError(t, err)
	hi, err := MapUniform([]float64{0.9 + 1e-9}, bulk, tail)
	require.NoError(t, err)
	assert.InDelta(t, lo[0], hi[0], 1e-4, "no jump across the empirical/parametric boundary")
}

func TestMapUniform_SkipsMissingBulkValues(t *testing.T) {
	bulk := []float64{math.NaN(), 1, 2, math.NaN(), 3, 4}
	tail := Tail{Threshold: 100, Scale: 1, Shape: 0, Rate: 0.5}

	out, err := MapUniform([]float64{0, 1}, bulk, tail)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out[0])
	assert.Equal(t, 4.0, out[1])
}

func TestMapUniform_RejectsBadUniform(t *testing.T) {
	bulk := []float64{1, 2, 3}
	tail := Tail{Threshold: 100, Scale: 1, Shape: 0, Rate: 0.5}

	_, err := MapUniform([]float64{0.5, 1.2}, bulk, tail)
	assert.Error(t, err)
}

func TestMapUniform_InsufficientBulk(t *testing.T) {
	tail := Tail{Threshold: 1, Scale: 1, Shape: 0, Rate: 1}

	_, err := MapUniform([]float64{0.5}, []float64{math.NaN(), 7}, tail)
	require.Error(t, err)

	var insufficient *empirical.InsufficientDataError
	assert.True(t, errors.As(err, &insufficient), "expected InsufficientDataError, got %v", err)
}
