// Package design derives return-period design events for a bivariate hazard
// pair. Each conditioning regime contributes a physical-scale isoline of the
// target return period; the two are merged into one composite exceedance
// boundary, a kernel density fitted on a pooled copula sample scores every
// boundary point, and the scored boundary yields the most-likely event, the
// full-dependence corner, and a density-weighted ensemble.
package design

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/driftline/compex/internal/copula"
	"github.com/driftline/compex/internal/dataset"
	"github.com/driftline/compex/internal/gpd"
	"github.com/driftline/compex/internal/isoline"
	"github.com/driftline/compex/internal/kde"
	"github.com/driftline/compex/internal/marginal"
)

// Defaults applied when the corresponding Params field is zero.
const (
	DefaultPoolSize     = 10000
	DefaultEnsembleSize = 100
)

// Variable bundles the fitted models for one coordinate of the hazard pair:
// the GPD tail used when the variable conditions a regime, and the bulk
// marginal used when it rides along as the companion coordinate of the other
// regime.
type Variable struct {
	Name string
	Tail gpd.Tail
	Bulk marginal.Distribution
}

// Regime is one conditioning side of the analysis: the concurrent pairs
// observed while the regime's variable exceeded its threshold, and the
// copula fitted to that sample. The copula's first coordinate is the
// conditioning variable.
type Regime struct {
	Sample *dataset.Table
	Copula copula.Model
}

// Params configures one estimation call.
type Params struct {
	X, Y  Variable
	CondX Regime // conditioned on X exceeding its threshold
	CondY Regime // conditioned on Y exceeding its threshold

	Years        float64 // length of the observation record
	ReturnPeriod float64 // target joint return period in years

	GridStep     float64 // uniform grid resolution; isoline.DefaultStep when 0
	MergeStep    float64 // composite resample step; 1/1000 of the x span when 0
	PoolSize     int     // pooled density sample size; DefaultPoolSize when 0
	EnsembleSize int     // DefaultEnsembleSize when 0
	Seed         uint64
}

// Event is a design event on the physical scale, scored by the pooled
// density estimate.
type Event struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Density float64 `json:"density"`
}

// Result carries the selected events plus the intermediate geometry that
// plotting consumers need.
type Result struct {
	MostLikely     Event
	FullDependence Event
	Ensemble       []Event

	// Isoline is the composite exceedance boundary; Densities holds the
	// pooled density estimate at each of its points.
	Isoline   isoline.Composite
	Densities []float64

	// RegimeX and RegimeY are the per-regime physical-scale isolines the
	// composite was merged from.
	RegimeX isoline.Curve
	RegimeY isoline.Curve

	// Pool is the combined copula sample the density was fitted on, with
	// the variables' column names.
	Pool *dataset.Table
}

// Estimate runs the full pipeline for one return period: per-regime isoline
// extraction, physical mapping, merge, pooled density scoring, and event
// selection. Any stage failure aborts the call; no partial result is
// returned. Repeated calls with the same Params produce identical Results.
func Estimate(p Params) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	gridStep := p.GridStep
	if gridStep <= 0 {
		gridStep = isoline.DefaultStep
	}
	poolSize := p.PoolSize
	if poolSize == 0 {
		poolSize = DefaultPoolSize
	}
	ensembleSize := p.EnsembleSize
	if ensembleSize == 0 {
		ensembleSize = DefaultEnsembleSize
	}

	xCond, xOther, err := p.regimePoints(p.X, p.Y, p.CondX, gridStep)
	if err != nil {
		return nil, fmt.Errorf("design: regime conditioned on %s: %w", p.X.Name, err)
	}
	regimeX, err := isoline.NewCurve(xCond, xOther)
	if err != nil {
		return nil, fmt.Errorf("design: regime conditioned on %s: %w", p.X.Name, err)
	}
	yCond, yOther, err := p.regimePoints(p.Y, p.X, p.CondY, gridStep)
	if err != nil {
		return nil, fmt.Errorf("design: regime conditioned on %s: %w", p.Y.Name, err)
	}
	regimeY, err := isoline.NewCurve(yOther, yCond)
	if err != nil {
		return nil, fmt.Errorf("design: regime conditioned on %s: %w", p.Y.Name, err)
	}

	comp, err := isoline.Merge(regimeX, regimeY, p.MergeStep)
	if err != nil {
		return nil, fmt.Errorf("design: %w", err)
	}
	log.Debug().
		Float64("rp", p.ReturnPeriod).
		Int("regime_x_points", len(xCond)).
		Int("regime_y_points", len(yCond)).
		Int("composite_points", comp.Len()).
		Msg("Composite isoline assembled")

	rng := rand.New(rand.NewPCG(p.Seed, p.Seed))
	poolX, poolY, err := p.pool(poolSize, rng)
	if err != nil {
		return nil, err
	}
	den, err := kde.Fit(poolX, poolY)
	if err != nil {
		return nil, fmt.Errorf("design: pooled density: %w", err)
	}
	dens, err := den.DensityAll(comp.X, comp.Y)
	if err != nil {
		return nil, fmt.Errorf("design: %w", err)
	}

	ml := mostLikely(comp, dens)
	fd := fullDependence(comp, den)
	ensemble, err := drawEnsemble(comp, dens, ensembleSize, rng)
	if err != nil {
		return nil, err
	}

	pool, err := dataset.New([]string{p.X.Name, p.Y.Name}, [][]float64{poolX, poolY})
	if err != nil {
		return nil, fmt.Errorf("design: pool table: %w", err)
	}
	log.Debug().
		Float64("rp", p.ReturnPeriod).
		Float64("most_likely_x", ml.X).
		Float64("most_likely_y", ml.Y).
		Float64("full_dependence_x", fd.X).
		Float64("full_dependence_y", fd.Y).
		Int("ensemble", len(ensemble)).
		Msg("Design events estimated")

	return &Result{
		MostLikely:     ml,
		FullDependence: fd,
		Ensemble:       ensemble,
		Isoline:        comp,
		Densities:      dens,
		RegimeX:        regimeX,
		RegimeY:        regimeY,
		Pool:           pool,
	}, nil
}

func (p Params) validate() error {
	if !(p.ReturnPeriod > 0) {
		return fmt.Errorf("design: return period must be positive, got %v", p.ReturnPeriod)
	}
	if !(p.Years > 0) {
		return fmt.Errorf("design: record length must be positive, got %v years", p.Years)
	}
	for _, v := range []Variable{p.X, p.Y} {
		if v.Name == "" {
			return fmt.Errorf("design: variable name must not be empty")
		}
		if err := v.Tail.Validate(); err != nil {
			return fmt.Errorf("design: tail for %s: %w", v.Name, err)
		}
		if v.Bulk == nil {
			return fmt.Errorf("design: no bulk marginal for %s", v.Name)
		}
	}
	if p.X.Name == p.Y.Name {
		return fmt.Errorf("design: variables need distinct names, both are %q", p.X.Name)
	}
	for _, rc := range []struct {
		name string
		reg  Regime
	}{{p.X.Name, p.CondX}, {p.Y.Name, p.CondY}} {
		if rc.reg.Sample == nil || rc.reg.Sample.Rows() == 0 {
			return fmt.Errorf("design: regime conditioned on %s has no conditional observations", rc.name)
		}
		if got := len(rc.reg.Sample.Columns()); got != 2 {
			return fmt.Errorf("design: regime conditioned on %s: sample needs 2 columns, got %d", rc.name, got)
		}
		if rc.reg.Copula == nil {
			return fmt.Errorf("design: regime conditioned on %s has no copula", rc.name)
		}
		if d := rc.reg.Copula.Dim(); d != 2 {
			return fmt.Errorf("design: regime conditioned on %s: copula dimension must be 2, got %d", rc.name, d)
		}
		if _, ok := rc.reg.Copula.(copula.CDFer); !ok {
			return fmt.Errorf("design: regime conditioned on %s: %s copula does not expose a joint CDF", rc.name, rc.reg.Copula.Family())
		}
	}
	if p.PoolSize != 0 && p.PoolSize < 2 {
		return fmt.Errorf("design: pool size must be at least 2, got %d", p.PoolSize)
	}
	if p.EnsembleSize < 0 {
		return fmt.Errorf("design: ensemble size must not be negative, got %d", p.EnsembleSize)
	}
	return nil
}

// regimePoints traces the regime's return-level isoline in uniform space and
// maps it to the physical scale: the conditioning coordinate through the GPD
// tail inverse at rate 1 (the sample is already conditioned on exceeding the
// threshold) and the companion coordinate through its bulk marginal
// quantile. The mean inter-exceedance time follows from the regime's own
// observation count over the record length.
func (p Params) regimePoints(cond, other Variable, reg Regime, gridStep float64) (condVals, otherVals []float64, err error) {
	el := p.Years / float64(reg.Sample.Rows())
	pts, err := isoline.ReturnLevelIsoline(reg.Copula.(copula.CDFer), p.ReturnPeriod, el, gridStep)
	if err != nil {
		return nil, nil, err
	}
	tail := cond.Tail.Conditional()
	condVals = make([]float64, len(pts))
	otherVals = make([]float64, len(pts))
	for i, pt := range pts {
		cv, err := tail.Quantile(pt.U)
		if err != nil {
			return nil, nil, err
		}
		condVals[i] = cv
		otherVals[i] = other.Bulk.Quantile(pt.V)
	}
	return condVals, otherVals, nil
}

// pool draws the shared density sample: per-regime copula draws sized by
// each regime's share of the conditional observations, mapped to the
// physical scale the same way as the isolines. The split is rounded and then
// clamped so both regimes contribute at least one draw.
func (p Params) pool(size int, rng *rand.Rand) (xs, ys []float64, err error) {
	rowsX := float64(p.CondX.Sample.Rows())
	rowsY := float64(p.CondY.Sample.Rows())
	nx := int(math.Round(float64(size) * rowsX / (rowsX + rowsY)))
	if nx < 1 {
		nx = 1
	}
	if nx > size-1 {
		nx = size - 1
	}

	condX, otherX, err := regimeDraws(p.X, p.Y, p.CondX, nx, rng)
	if err != nil {
		return nil, nil, fmt.Errorf("design: pool draw conditioned on %s: %w", p.X.Name, err)
	}
	condY, otherY, err := regimeDraws(p.Y, p.X, p.CondY, size-nx, rng)
	if err != nil {
		return nil, nil, fmt.Errorf("design: pool draw conditioned on %s: %w", p.Y.Name, err)
	}

	xs = append(condX, otherY...)
	ys = append(otherX, condY...)
	return xs, ys, nil
}

// regimeDraws returns n physical-scale pairs from the regime's copula as
// (conditioning coordinate, companion coordinate).
func regimeDraws(cond, other Variable, reg Regime, n int, rng *rand.Rand) (condVals, otherVals []float64, err error) {
	draws, err := copula.Draw(reg.Copula, n, rng)
	if err != nil {
		return nil, nil, err
	}
	tail := cond.Tail.Conditional()
	condVals = make([]float64, n)
	otherVals = make([]float64, n)
	for i, d := range draws {
		cv, err := tail.Quantile(d[0])
		if err != nil {
			return nil, nil, err
		}
		condVals[i] = cv
		otherVals[i] = other.Bulk.Quantile(d[1])
	}
	return condVals, otherVals, nil
}

// mostLikely picks the composite point with the highest estimated density;
// ties keep the earliest point in polyline order.
func mostLikely(comp isoline.Composite, dens []float64) Event {
	best := 0
	for i := 1; i < len(dens); i++ {
		if dens[i] > dens[best] {
			best = i
		}
	}
	return Event{X: comp.X[best], Y: comp.Y[best], Density: dens[best]}
}

// fullDependence returns the corner reached when both variables attain their
// univariate return levels at once: the maximum x paired with the maximum y
// over the regime-contributed points. The synthetic closure points are
// skipped so the leading top point cannot inflate the corner.
func fullDependence(comp isoline.Composite, den *kde.Bivariate) Event {
	x, y := math.Inf(-1), math.Inf(-1)
	for i := range comp.X {
		if comp.Source[i] == isoline.SourceSynthetic {
			continue
		}
		x = math.Max(x, comp.X[i])
		y = math.Max(y, comp.Y[i])
	}
	return Event{X: x, Y: y, Density: den.Density(x, y)}
}

// drawEnsemble samples n composite points with replacement, each with
// probability proportional to its estimated density. The weights stay
// unnormalized; inversion of the cumulative weight never lands on a
// zero-density point.
func drawEnsemble(comp isoline.Composite, dens []float64, n int, rng *rand.Rand) ([]Event, error) {
	cum := make([]float64, len(dens))
	lastPos := -1
	total := 0.0
	for i, d := range dens {
		total += d
		cum[i] = total
		if d > 0 {
			lastPos = i
		}
	}
	if !(total > 0) {
		return nil, fmt.Errorf("design: estimated density vanishes on the whole composite isoline")
	}

	events := make([]Event, n)
	for i := range events {
		target := rng.Float64() * total
		j := sort.Search(len(cum), func(k int) bool { return cum[k] > target })
		if j == len(cum) {
			j = lastPos
		}
		events[i] = Event{X: comp.X[j], Y: comp.Y[j], Density: dens[j]}
	}
	return events, nil
}
