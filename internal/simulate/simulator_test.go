package simulate

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/compex/internal/copula"
	"github.com/driftline/compex/internal/dataset"
	"github.com/driftline/compex/internal/empirical"
	"github.com/driftline/compex/internal/gpd"
)

func rampTable(t *testing.T, n int) *dataset.Table {
	t.Helper()
	rain := make([]float64, n)
	surge := make([]float64, n)
	for i := 0; i < n; i++ {
		rain[i] = float64(i)
		surge[i] = float64(i) / 10
	}
	tbl, err := dataset.New([]string{"rain", "surge"}, [][]float64{rain, surge})
	require.NoError(t, err)
	return tbl
}

func rampTails() map[string]gpd.Tail {
	return map[string]gpd.Tail{
		"rain":  {Threshold: 90, Scale: 10, Shape: 0.1, Rate: 0.1},
		"surge": {Threshold: 9, Scale: 1, Shape: -0.1, Rate: 0.1},
	}
}

func TestJoint_EventCountAndShape(t *testing.T) {
	tbl := rampTable(t, 101)
	cop, err := copula.New(copula.Gaussian, 2, []float64{0.6})
	require.NoError(t, err)

	res, err := Joint(tbl, rampTails(), cop, 365.25, 100, 42)
	require.NoError(t, err)

	assert.Equal(t, 36525, res.Uniform.Rows(), "events = round(mu*years)")
	assert.Equal(t, 36525, res.Physical.Rows())
	assert.Equal(t, []string{"rain", "surge"}, res.Uniform.Columns())
	assert.Equal(t, []string{"rain", "surge"}, res.Physical.Columns())

	u, err := res.Uniform.Column("rain")
	require.NoError(t, err)
	for _, v := range u {
		require.GreaterOrEqual(t, v, 0.0)
		require.Less(t, v, 1.0)
	}
}

func TestJoint_DeterministicPerSeed(t *testing.T) {
	tbl := rampTable(t, 101)
	cop, err := copula.New(copula.Gumbel, 2, []float64{1.8})
	require.NoError(t, err)

	a, err := Joint(tbl, rampTails(), cop, 2.5, 10, 7)
	require.NoError(t, err)
	b, err := Joint(tbl, rampTails(), cop, 2.5, 10, 7)
	require.NoError(t, err)
	c, err := Joint(tbl, rampTails(), cop, 2.5, 10, 8)
	require.NoError(t, err)

	assert.Equal(t, a.Physical.ColumnAt(0), b.Physical.ColumnAt(0), "same seed replays")
	assert.Equal(t, a.Physical.ColumnAt(1), b.Physical.ColumnAt(1))
	assert.NotEqual(t, a.Physical.ColumnAt(0), c.Physical.ColumnAt(0), "seeds diverge")
}

func TestJoint_TailExceedanceShare(t *testing.T) {
	tbl := rampTable(t, 101)
	cop, err := copula.New(copula.Independence, 2, nil)
	require.NoError(t, err)

	res, err := Joint(tbl, rampTails(), cop, 40, 100, 3)
	require.NoError(t, err)

	rain, err := res.Physical.Column("rain")
	require.NoError(t, err)
	above := 0
	for _, v := range rain {
		if v > 90 {
			above++
		}
	}
	share := float64(above) / float64(len(rain))
	assert.InDelta(t, 0.1, share, 0.03, "exceedance share tracks the tail rate")
}

func TestJoint_PhysicalValuesStayInSupport(t *testing.T) {
	tbl := rampTable(t, 101)
	cop, err := copula.New(copula.Independence, 2, nil)
	require.NoError(t, err)

	tails := map[string]gpd.Tail{
		"rain":  {Threshold: 90, Scale: 1, Shape: 0.1, Rate: 0.1},
		"surge": {Threshold: 9, Scale: 1, Shape: 0.1, Rate: 0.1},
	}
	res, err := Joint(tbl, tails, cop, 365.25, 100, 19)
	require.NoError(t, err)
	require.Equal(t, 36525, res.Physical.Rows())

	mins := map[string]float64{"rain": 0, "surge": 0}
	for name, floor := range mins {
		col, err := res.Physical.Column(name)
		require.NoError(t, err)
		for _, v := range col {
			require.GreaterOrEqual(t, v, floor, "no simulated %s value undercuts the observed record minimum", name)
		}
	}
}

func TestJoint_InputValidation(t *testing.T) {
	tbl := rampTable(t, 101)
	cop2, err := copula.New(copula.Gaussian, 2, []float64{0.5})
	require.NoError(t, err)
	cop3, err := copula.New(copula.Clayton, 3, []float64{2})
	require.NoError(t, err)

	_, err = Joint(nil, rampTails(), cop2, 1, 1, 1)
	assert.Error(t, err)

	_, err = Joint(tbl, rampTails(), cop2, 0, 10, 1)
	assert.Error(t, err, "mu must be positive")

	_, err = Joint(tbl, rampTails(), cop2, 2, -1, 1)
	assert.Error(t, err, "years must be positive")

	_, err = Joint(tbl, rampTails(), cop3, 2, 10, 1)
	assert.Error(t, err, "copula dimension must match column count")

	tails := rampTails()
	delete(tails, "surge")
	_, err = Joint(tbl, tails, cop2, 2, 10, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"surge"`)

	bad := rampTails()
	bad["rain"] = gpd.Tail{Threshold: 90, Scale: -1, Shape: 0.1, Rate: 0.1}
	_, err = Joint(tbl, bad, cop2, 2, 10, 1)
	assert.Error(t, err, "tails are validated up front")
}

func TestJoint_TinyRecordYieldsSamplingError(t *testing.T) {
	tbl := rampTable(t, 101)
	cop, err := copula.New(copula.Frank, 2, []float64{3})
	require.NoError(t, err)

	// round(0.2*2) = 0 events
	_, err = Joint(tbl, rampTails(), cop, 0.2, 2, 1)
	require.Error(t, err)
	var sampling *copula.SamplingError
	assert.True(t, errors.As(err, &sampling), "zero events surface as a sampling refusal")
}

func TestJoint_InsufficientBulkData(t *testing.T) {
	rain := []float64{5, math.NaN(), math.NaN()}
	surge := []float64{1, 2, 3}
	tbl, err := dataset.New([]string{"rain", "surge"}, [][]float64{rain, surge})
	require.NoError(t, err)

	cop, err := copula.New(copula.Independence, 2, nil)
	require.NoError(t, err)

	_, err = Joint(tbl, rampTails(), cop, 2, 10, 1)
	require.Error(t, err)
	var insufficient *empirical.InsufficientDataError
	assert.True(t, errors.As(err, &insufficient))
}
