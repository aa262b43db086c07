package http

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/driftline/compex/internal/copula"
	"github.com/driftline/compex/internal/dataset"
	"github.com/driftline/compex/internal/design"
	"github.com/driftline/compex/internal/gpd"
	"github.com/driftline/compex/internal/marginal"
	"github.com/driftline/compex/internal/simulate"
	"github.com/driftline/compex/internal/store"
)

// TailContract carries externally fitted GPD tail parameters.
type TailContract struct {
	Threshold float64 `json:"threshold"`
	Scale     float64 `json:"scale" validate:"required,gt=0"`
	Shape     float64 `json:"shape"`
	Rate      float64 `json:"exceedance_rate" validate:"required,gt=0,lte=1"`
}

func (t TailContract) tail() gpd.Tail {
	return gpd.Tail{Threshold: t.Threshold, Scale: t.Scale, Shape: t.Shape, Rate: t.Rate}
}

// ModelContract names a fitted parametric model: a bulk marginal family or a
// copula family plus its parameter vector.
type ModelContract struct {
	Family string    `json:"family" validate:"required"`
	Params []float64 `json:"params,omitempty"`
}

func (m ModelContract) buildMarginal() (marginal.Distribution, error) {
	fam, err := marginal.Parse(m.Family)
	if err != nil {
		return nil, err
	}
	return marginal.New(fam, m.Params)
}

func (m ModelContract) buildCopula(dim int) (copula.Model, error) {
	fam, err := copula.Parse(m.Family)
	if err != nil {
		return nil, err
	}
	return copula.New(fam, dim, m.Params)
}

// SimulateRequest drives one joint-simulator call. Columns fixes the copula
// coordinate order; Data and Tails are keyed by column name.
type SimulateRequest struct {
	Columns []string                `json:"columns" validate:"required,min=2"`
	Data    map[string][]float64    `json:"data" validate:"required"`
	Tails   map[string]TailContract `json:"tails" validate:"required,dive"`
	Copula  ModelContract           `json:"copula"`
	Mu      float64                 `json:"mu" validate:"required,gt=0"`
	Years   float64                 `json:"years" validate:"required,gt=0"`
	Seed    uint64                  `json:"seed"`
}

// models materializes the request into domain inputs, catching the shape
// mismatches the struct tags cannot express.
func (req SimulateRequest) models() (*dataset.Table, map[string]gpd.Tail, copula.Model, error) {
	cols := make([][]float64, len(req.Columns))
	for i, name := range req.Columns {
		col, ok := req.Data[name]
		if !ok {
			return nil, nil, nil, fmt.Errorf("no data for column %q", name)
		}
		cols[i] = col
	}
	tbl, err := dataset.New(req.Columns, cols)
	if err != nil {
		return nil, nil, nil, err
	}
	tails := make(map[string]gpd.Tail, len(req.Columns))
	for _, name := range req.Columns {
		tc, ok := req.Tails[name]
		if !ok {
			return nil, nil, nil, fmt.Errorf("no tail model for column %q", name)
		}
		tails[name] = tc.tail()
	}
	cop, err := req.Copula.buildCopula(len(req.Columns))
	if err != nil {
		return nil, nil, nil, err
	}
	return tbl, tails, cop, nil
}

// SimulateResponse returns the aligned uniform and physical event sets.
type SimulateResponse struct {
	Columns  []string             `json:"columns"`
	Uniform  map[string][]float64 `json:"uniform"`
	Physical map[string][]float64 `json:"physical"`
	Events   int                  `json:"events"`
	Seed     uint64               `json:"seed"`
	Cached   bool                 `json:"cached"`
	RunID    string               `json:"run_id,omitempty"`
}

func newSimulateResponse(res *simulate.Result, seed uint64) SimulateResponse {
	return SimulateResponse{
		Columns:  res.Physical.Columns(),
		Uniform:  tableColumns(res.Uniform),
		Physical: tableColumns(res.Physical),
		Events:   res.Physical.Rows(),
		Seed:     seed,
	}
}

func tableColumns(t *dataset.Table) map[string][]float64 {
	out := make(map[string][]float64, len(t.Columns()))
	for _, name := range t.Columns() {
		col, err := t.Column(name)
		if err != nil {
			continue
		}
		out[name] = col
	}
	return out
}

// VariableContract bundles one hazard variable's fitted models.
type VariableContract struct {
	Name string        `json:"name" validate:"required"`
	Tail TailContract  `json:"tail"`
	Bulk ModelContract `json:"bulk"`
}

// RegimeContract is one conditioning regime: the concurrent pairs observed
// while the regime's variable exceeded its threshold, conditioning coordinate
// first, and the copula fitted to them.
type RegimeContract struct {
	Sample [][]float64   `json:"sample" validate:"required,min=1,dive,len=2"`
	Copula ModelContract `json:"copula"`
}

func (rc RegimeContract) regime(condName, otherName string) (design.Regime, error) {
	condCol := make([]float64, len(rc.Sample))
	otherCol := make([]float64, len(rc.Sample))
	for i, pair := range rc.Sample {
		condCol[i], otherCol[i] = pair[0], pair[1]
	}
	tbl, err := dataset.New([]string{condName, otherName}, [][]float64{condCol, otherCol})
	if err != nil {
		return design.Regime{}, err
	}
	cop, err := rc.Copula.buildCopula(2)
	if err != nil {
		return design.Regime{}, err
	}
	return design.Regime{Sample: tbl, Copula: cop}, nil
}

// DesignRequest drives one design-event estimation.
type DesignRequest struct {
	X     VariableContract `json:"x"`
	Y     VariableContract `json:"y"`
	CondX RegimeContract   `json:"cond_x"`
	CondY RegimeContract   `json:"cond_y"`

	Years        float64 `json:"years_of_record" validate:"required,gt=0"`
	ReturnPeriod float64 `json:"return_period" validate:"required,gt=0"`
	GridStep     float64 `json:"grid_step" validate:"omitempty,gt=0,lt=1"`
	MergeStep    float64 `json:"merge_step" validate:"omitempty,gt=0"`
	PoolSize     int     `json:"pool_size" validate:"omitempty,min=2"`
	EnsembleSize int     `json:"ensemble_size" validate:"omitempty,min=1"`
	Seed         uint64  `json:"seed"`
}

func (req DesignRequest) params() (design.Params, error) {
	xBulk, err := req.X.Bulk.buildMarginal()
	if err != nil {
		return design.Params{}, fmt.Errorf("variable %s: %w", req.X.Name, err)
	}
	yBulk, err := req.Y.Bulk.buildMarginal()
	if err != nil {
		return design.Params{}, fmt.Errorf("variable %s: %w", req.Y.Name, err)
	}
	condX, err := req.CondX.regime(req.X.Name, req.Y.Name)
	if err != nil {
		return design.Params{}, fmt.Errorf("regime conditioned on %s: %w", req.X.Name, err)
	}
	condY, err := req.CondY.regime(req.Y.Name, req.X.Name)
	if err != nil {
		return design.Params{}, fmt.Errorf("regime conditioned on %s: %w", req.Y.Name, err)
	}
	return design.Params{
		X:            design.Variable{Name: req.X.Name, Tail: req.X.Tail.tail(), Bulk: xBulk},
		Y:            design.Variable{Name: req.Y.Name, Tail: req.Y.Tail.tail(), Bulk: yBulk},
		CondX:        condX,
		CondY:        condY,
		Years:        req.Years,
		ReturnPeriod: req.ReturnPeriod,
		GridStep:     req.GridStep,
		MergeStep:    req.MergeStep,
		PoolSize:     req.PoolSize,
		EnsembleSize: req.EnsembleSize,
		Seed:         req.Seed,
	}, nil
}

// IsolinePoint is one composite-boundary point with its contributor tag and
// pooled density estimate.
type IsolinePoint struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Source  string  `json:"source"`
	Density float64 `json:"density"`
}

// DesignResponse returns the selected events plus the scored composite
// boundary for plotting consumers.
type DesignResponse struct {
	ReturnPeriod   float64        `json:"return_period"`
	MostLikely     design.Event   `json:"most_likely_event"`
	FullDependence design.Event   `json:"full_dependence_event"`
	Ensemble       []design.Event `json:"ensemble_events"`
	Isoline        []IsolinePoint `json:"isoline"`
	Seed           uint64         `json:"seed"`
	Cached         bool           `json:"cached"`
	RunID          string         `json:"run_id,omitempty"`
}

func newDesignResponse(req DesignRequest, res *design.Result) DesignResponse {
	iso := make([]IsolinePoint, res.Isoline.Len())
	for i := range iso {
		iso[i] = IsolinePoint{
			X:       res.Isoline.X[i],
			Y:       res.Isoline.Y[i],
			Source:  res.Isoline.Source[i].String(),
			Density: res.Densities[i],
		}
	}
	return DesignResponse{
		ReturnPeriod:   req.ReturnPeriod,
		MostLikely:     res.MostLikely,
		FullDependence: res.FullDependence,
		Ensemble:       res.Ensemble,
		Isoline:        iso,
		Seed:           req.Seed,
	}
}

// FamiliesResponse lists the recognized model families.
type FamiliesResponse struct {
	Marginals []string `json:"marginals"`
	Copulas   []string `json:"copulas"`
}

// HealthResponse reports service liveness and wiring.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Store     string    `json:"store"`
	Cache     string    `json:"cache"`
}

// RunResponse is one persisted analysis run. Result is only populated on
// single-run lookups.
type RunResponse struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	RequestKey   string          `json:"request_key"`
	ReturnPeriod *float64        `json:"return_period,omitempty"`
	Seed         int64           `json:"seed"`
	Events       int             `json:"events"`
	CreatedAt    time.Time       `json:"created_at"`
	Result       json.RawMessage `json:"result,omitempty"`
}

func newRunResponse(run *store.Run, includeResult bool) RunResponse {
	resp := RunResponse{
		ID:         run.ID.String(),
		Kind:       run.Kind,
		RequestKey: run.RequestKey,
		Seed:       run.Seed,
		Events:     run.Events,
		CreatedAt:  run.CreatedAt,
	}
	if run.ReturnPeriod.Valid {
		rp := run.ReturnPeriod.Float64
		resp.ReturnPeriod = &rp
	}
	if includeResult {
		resp.Result = json.RawMessage(run.Result)
	}
	return resp
}

// RunsResponse wraps a run listing.
type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}
