package design

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/compex/internal/copula"
	"github.com/driftline/compex/internal/dataset"
	"github.com/driftline/compex/internal/gpd"
	"github.com/driftline/compex/internal/isoline"
	"github.com/driftline/compex/internal/marginal"
)

// pairTable builds a two-column conditional sample; only its row count feeds
// the estimator, the values are plausible filler.
func pairTable(t *testing.T, rows int) *dataset.Table {
	t.Helper()
	xs := make([]float64, rows)
	ys := make([]float64, rows)
	for i := range xs {
		xs[i] = 10 + 0.3*float64(i)
		ys[i] = 4 + 0.1*float64(i)
	}
	tbl, err := dataset.New([]string{"rain", "surge"}, [][]float64{xs, ys})
	require.NoError(t, err, "fixture table must build")
	return tbl
}

// fixtureParams wires a rain/surge pair whose bulk marginals overlap their
// tail thresholds, so the two regime isolines share part of the x range.
func fixtureParams(t *testing.T) Params {
	t.Helper()
	bulkX, err := marginal.New(marginal.Gamma, []float64{9, 1})
	require.NoError(t, err, "rain bulk marginal must build")
	bulkY, err := marginal.New(marginal.Gamma, []float64{2, 1})
	require.NoError(t, err, "surge bulk marginal must build")
	copX, err := copula.New(copula.Gumbel, 2, []float64{2})
	require.NoError(t, err, "rain-conditioned copula must build")
	copY, err := copula.New(copula.Clayton, 2, []float64{1.5})
	require.NoError(t, err, "surge-conditioned copula must build")

	return Params{
		X: Variable{
			Name: "rain",
			Tail: gpd.Tail{Threshold: 10, Scale: 2, Shape: 0.1, Rate: 0.1},
			Bulk: bulkX,
		},
		Y: Variable{
			Name: "surge",
			Tail: gpd.Tail{Threshold: 5, Scale: 1, Shape: 0, Rate: 0.08},
			Bulk: bulkY,
		},
		CondX:        Regime{Sample: pairTable(t, 30), Copula: copX},
		CondY:        Regime{Sample: pairTable(t, 20), Copula: copY},
		Years:        15,
		ReturnPeriod: 20,
		GridStep:     0.005,
		PoolSize:     600,
		EnsembleSize: 40,
		Seed:         7,
	}
}

func TestEstimate_ResultShape(t *testing.T) {
	res, err := Estimate(fixtureParams(t))
	require.NoError(t, err, "fixture estimation must succeed")

	n := res.Isoline.Len()
	require.Greater(t, n, 3, "composite isoline must carry real points")
	assert.Len(t, res.Densities, n, "one density per composite point")

	assert.Equal(t, 0.0, res.Isoline.X[0], "composite must open at x=0")
	assert.Equal(t, isoline.SourceSynthetic, res.Isoline.Source[0], "leading point is synthetic")
	assert.Equal(t, isoline.SourceSynthetic, res.Isoline.Source[n-1], "trailing point is synthetic")
	assert.Equal(t, isoline.ClosureSentinel, res.Isoline.Y[n-1], "trailing point closes the region from below")

	var sawA, sawB bool
	for _, s := range res.Isoline.Source {
		sawA = sawA || s == isoline.SourceA
		sawB = sawB || s == isoline.SourceB
	}
	assert.True(t, sawA, "rain-conditioned regime must contribute composite points")
	assert.True(t, sawB, "surge-conditioned regime must contribute composite points")

	for _, x := range res.RegimeX.X {
		assert.GreaterOrEqual(t, x, 10.0, "rain-conditioned isoline x stays above the rain threshold")
	}
	for _, y := range res.RegimeY.Y {
		assert.GreaterOrEqual(t, y, 5.0, "surge-conditioned isoline y stays above the surge threshold")
	}

	require.NotNil(t, res.Pool, "pooled sample must be returned")
	assert.Equal(t, 600, res.Pool.Rows(), "pool size honors the request")
	assert.Equal(t, []string{"rain", "surge"}, res.Pool.Columns(), "pool columns carry the variable names")

	assert.Len(t, res.Ensemble, 40, "ensemble size honors the request")
	assert.Greater(t, res.MostLikely.Density, 0.0, "most-likely event sits in positive density")
}

func TestEstimate_Deterministic(t *testing.T) {
	first, err := Estimate(fixtureParams(t))
	require.NoError(t, err)
	second, err := Estimate(fixtureParams(t))
	require.NoError(t, err)
	require.Equal(t, first, second, "identical parameters must reproduce the result bit for bit")
}

func TestEstimate_SeedMovesEnsembleNotGeometry(t *testing.T) {
	base, err := Estimate(fixtureParams(t))
	require.NoError(t, err)

	p := fixtureParams(t)
	p.Seed = 8
	other, err := Estimate(p)
	require.NoError(t, err)

	assert.Equal(t, base.Isoline, other.Isoline, "isoline geometry does not depend on the seed")
	assert.NotEqual(t, base.Ensemble, other.Ensemble, "a different seed reshuffles the ensemble")
}

func TestEstimate_FullDependenceDominates(t *testing.T) {
	res, err := Estimate(fixtureParams(t))
	require.NoError(t, err)

	fd := res.FullDependence
	assert.GreaterOrEqual(t, fd.X, res.MostLikely.X, "full dependence bounds the most-likely x")
	assert.GreaterOrEqual(t, fd.Y, res.MostLikely.Y, "full dependence bounds the most-likely y")
	for i, e := range res.Ensemble {
		assert.GreaterOrEqual(t, fd.X, e.X, "full dependence bounds ensemble x at %d", i)
		assert.GreaterOrEqual(t, fd.Y, e.Y, "full dependence bounds ensemble y at %d", i)
	}

	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := range res.Isoline.X {
		if res.Isoline.Source[i] == isoline.SourceSynthetic {
			continue
		}
		maxX = math.Max(maxX, res.Isoline.X[i])
		maxY = math.Max(maxY, res.Isoline.Y[i])
	}
	assert.Equal(t, maxX, fd.X, "full dependence x is the isoline's maximum x")
	assert.Equal(t, maxY, fd.Y, "full dependence y is the isoline's maximum regime-contributed y")
}

func TestEstimate_MostLikelyIsDensityArgmax(t *testing.T) {
	res, err := Estimate(fixtureParams(t))
	require.NoError(t, err)

	best := 0
	for i, d := range res.Densities {
		if d > res.Densities[best] {
			best = i
		}
	}
	assert.Equal(t, res.Isoline.X[best], res.MostLikely.X, "most-likely x matches the density argmax")
	assert.Equal(t, res.Isoline.Y[best], res.MostLikely.Y, "most-likely y matches the density argmax")
	assert.Equal(t, res.Densities[best], res.MostLikely.Density, "most-likely density matches the maximum")
}

func TestEstimate_EnsembleLiesOnIsoline(t *testing.T) {
	res, err := Estimate(fixtureParams(t))
	require.NoError(t, err)

	onCurve := make(map[[2]float64]float64, res.Isoline.Len())
	for i := range res.Isoline.X {
		onCurve[[2]float64{res.Isoline.X[i], res.Isoline.Y[i]}] = res.Densities[i]
	}
	for i, e := range res.Ensemble {
		d, ok := onCurve[[2]float64{e.X, e.Y}]
		require.True(t, ok, "ensemble event %d must be a composite isoline point, got (%g,%g)", i, e.X, e.Y)
		assert.Equal(t, d, e.Density, "ensemble event %d carries its point's density", i)
		assert.Greater(t, e.Density, 0.0, "ensemble never selects zero-density points")
	}
}

func TestEstimate_NoIsolinePropagates(t *testing.T) {
	p := fixtureParams(t)
	p.ReturnPeriod = 1e12

	_, err := Estimate(p)
	require.Error(t, err)
	var noIso *isoline.NoIsolineError
	require.ErrorAs(t, err, &noIso, "out-of-range return period surfaces as NoIsolineError")
	assert.Equal(t, 1e12, noIso.ReturnPeriod)
	assert.Less(t, noIso.MaxRP, 1e12, "reported ceiling sits below the request")
}

// noCDF strips the CDF method from a full copula model.
type noCDF struct{ copula.Model }

func TestEstimate_Validation(t *testing.T) {
	indep3, err := copula.New(copula.Independence, 3, nil)
	require.NoError(t, err)
	indep2, err := copula.New(copula.Independence, 2, nil)
	require.NoError(t, err)
	oneCol, err := dataset.New([]string{"rain"}, [][]float64{{1, 2, 3}})
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Params)
		want   string
	}{
		{"zero return period", func(p *Params) { p.ReturnPeriod = 0 }, "return period"},
		{"negative record length", func(p *Params) { p.Years = -1 }, "record length"},
		{"invalid tail", func(p *Params) { p.X.Tail.Scale = 0 }, "tail for rain"},
		{"missing bulk", func(p *Params) { p.Y.Bulk = nil }, "no bulk marginal for surge"},
		{"empty variable name", func(p *Params) { p.X.Name = "" }, "name must not be empty"},
		{"duplicate variable names", func(p *Params) { p.Y.Name = "rain" }, "distinct names"},
		{"nil conditional sample", func(p *Params) { p.CondX.Sample = nil }, "no conditional observations"},
		{"one-column sample", func(p *Params) { p.CondY.Sample = oneCol }, "needs 2 columns"},
		{"nil copula", func(p *Params) { p.CondX.Copula = nil }, "has no copula"},
		{"trivariate copula", func(p *Params) { p.CondX.Copula = indep3 }, "dimension must be 2"},
		{"copula without cdf", func(p *Params) { p.CondY.Copula = noCDF{indep2} }, "does not expose a joint CDF"},
		{"degenerate pool", func(p *Params) { p.PoolSize = 1 }, "pool size"},
		{"negative ensemble", func(p *Params) { p.EnsembleSize = -1 }, "ensemble size"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := fixtureParams(t)
			tc.mutate(&p)
			_, err := Estimate(p)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestDrawEnsemble_SkipsZeroDensityPlateaus(t *testing.T) {
	comp := isoline.Composite{
		X:      []float64{0, 1, 2, 3},
		Y:      []float64{9, 8, 7, -1},
		Source: []isoline.Source{isoline.SourceSynthetic, isoline.SourceA, isoline.SourceB, isoline.SourceSynthetic},
	}
	rng := rand.New(rand.NewPCG(3, 3))

	events, err := drawEnsemble(comp, []float64{0, 0.25, 0, 0}, 50, rng)
	require.NoError(t, err)
	for _, e := range events {
		assert.Equal(t, Event{X: 1, Y: 8, Density: 0.25}, e, "all weight sits on the single positive-density point")
	}
}

func TestDrawEnsemble_AllZeroDensityFails(t *testing.T) {
	comp := isoline.Composite{
		X:      []float64{0, 1},
		Y:      []float64{2, 1},
		Source: []isoline.Source{isoline.SourceSynthetic, isoline.SourceA},
	}
	rng := rand.New(rand.NewPCG(1, 1))

	_, err := drawEnsemble(comp, []float64{0, 0}, 5, rng)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "density vanishes")
}

func TestMostLikely_TieKeepsFirstPoint(t *testing.T) {
	comp := isoline.Composite{
		X:      []float64{0, 1, 2},
		Y:      []float64{5, 4, 3},
		Source: []isoline.Source{isoline.SourceA, isoline.SourceB, isoline.SourceA},
	}
	got := mostLikely(comp, []float64{0.5, 0.7, 0.7})
	assert.Equal(t, Event{X: 1, Y: 4, Density: 0.7}, got, "first maximum in point order wins")
}

func TestEstimate_ErrorWrappingIsTyped(t *testing.T) {
	p := fixtureParams(t)
	p.ReturnPeriod = 1e12
	_, err := Estimate(p)
	require.Error(t, err)
	assert.True(t, errors.As(err, new(*isoline.NoIsolineError)))
	assert.Contains(t, err.Error(), "regime conditioned on", "failure names the regime that raised it")
}
