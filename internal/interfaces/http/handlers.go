package http

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/driftline/compex/internal/cache"
	"github.com/driftline/compex/internal/copula"
	"github.com/driftline/compex/internal/design"
	"github.com/driftline/compex/internal/isoline"
	"github.com/driftline/compex/internal/marginal"
	"github.com/driftline/compex/internal/metrics"
	"github.com/driftline/compex/internal/simulate"
	"github.com/driftline/compex/internal/store"
)

func decodeJSON(r *http.Request, dest any) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Store:     "disabled",
		Cache:     s.cache.Tiers(),
	}
	if s.runs != nil {
		resp.Store = "enabled"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFamilies(w http.ResponseWriter, r *http.Request) {
	resp := FamiliesResponse{}
	for _, f := range marginal.Families() {
		resp.Marginals = append(resp.Marginals, string(f))
	}
	for _, f := range copula.Families() {
		resp.Copulas = append(resp.Copulas, string(f))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	key, keyErr := cache.Key(store.KindSimulate, req)
	if keyErr == nil {
		var cached SimulateResponse
		if s.cache.GetJSON(r.Context(), key, &cached) {
			cached.Cached = true
			s.writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	tbl, tails, cop, err := req.models()
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_model", err.Error())
		return
	}

	timer := s.metrics.StartStage(metrics.StageSimulate)
	res, err := simulate.Joint(tbl, tails, cop, req.Mu, req.Years, req.Seed)
	if err != nil {
		timer.Stop(metrics.ResultError)
		s.writeError(w, r, http.StatusUnprocessableEntity, "simulation_failed", err.Error())
		return
	}
	timer.Stop(metrics.ResultSuccess)
	s.metrics.AddSimulatedEvents(res.Physical.Rows())

	resp := newSimulateResponse(res, req.Seed)
	if keyErr == nil {
		resp.RunID = s.persistRun(r, store.KindSimulate, key, nil, req.Seed, resp.Events, resp)
		if err := s.cache.SetJSON(r.Context(), key, resp); err != nil {
			log.Warn().Err(err).Msg("Simulation result not cached")
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDesign(w http.ResponseWriter, r *http.Request) {
	var req DesignRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	key, keyErr := cache.Key(store.KindDesign, req)
	if keyErr == nil {
		var cached DesignResponse
		if s.cache.GetJSON(r.Context(), key, &cached) {
			cached.Cached = true
			s.writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	params, err := req.params()
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_model", err.Error())
		return
	}

	timer := s.metrics.StartStage(metrics.StageDesign)
	res, err := design.Estimate(params)
	if err != nil {
		timer.Stop(metrics.ResultError)
		s.metrics.RecordDesignRun(metrics.ResultError)
		var noIso *isoline.NoIsolineError
		if errors.As(err, &noIso) {
			s.writeError(w, r, http.StatusUnprocessableEntity, "no_isoline", err.Error())
			return
		}
		s.writeError(w, r, http.StatusUnprocessableEntity, "estimation_failed", err.Error())
		return
	}
	timer.Stop(metrics.ResultSuccess)
	s.metrics.RecordDesignRun(metrics.ResultSuccess)

	resp := newDesignResponse(req, res)
	if keyErr == nil {
		resp.RunID = s.persistRun(r, store.KindDesign, key, &req.ReturnPeriod, req.Seed, len(resp.Ensemble), resp)
		if err := s.cache.SetJSON(r.Context(), key, resp); err != nil {
			log.Warn().Err(err).Msg("Design result not cached")
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// persistRun stores the finished run keyed by the request digest. Persistence
// is best effort: failures are logged and leave the response unpersisted
// rather than failing the request.
func (s *Server) persistRun(r *http.Request, kind, key string, rp *float64, seed uint64, events int, resp any) string {
	if s.runs == nil || key == "" {
		return ""
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		log.Warn().Err(err).Msg("Run persistence skipped")
		return ""
	}
	run := &store.Run{
		Kind:       kind,
		RequestKey: key,
		Seed:       int64(seed),
		Events:     events,
		Result:     payload,
	}
	if rp != nil {
		run.ReturnPeriod = sql.NullFloat64{Float64: *rp, Valid: true}
	}
	if err := s.runs.Insert(r.Context(), run); err != nil {
		if errors.Is(err, store.ErrDuplicateRun) {
			if prev, lookupErr := s.runs.ByRequestKey(r.Context(), kind, key); lookupErr == nil {
				return prev.ID.String()
			}
			return ""
		}
		log.Warn().Err(err).Str("kind", kind).Msg("Run persistence failed")
		return ""
	}
	return run.ID.String()
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "store_disabled",
			"run persistence is not configured")
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = store.KindDesign
	}
	if kind != store.KindSimulate && kind != store.KindDesign {
		s.writeError(w, r, http.StatusBadRequest, "invalid_kind",
			fmt.Sprintf("unknown run kind %q", kind))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, r, http.StatusBadRequest, "invalid_limit",
				fmt.Sprintf("limit must be a positive integer, got %q", raw))
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRecent(r.Context(), kind, limit)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	resp := RunsResponse{Runs: make([]RunResponse, len(runs))}
	for i := range runs {
		resp.Runs[i] = newRunResponse(&runs[i], false)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "store_disabled",
			"run persistence is not configured")
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_run_id", err.Error())
		return
	}
	run, err := s.runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			s.writeError(w, r, http.StatusNotFound, "run_not_found",
				fmt.Sprintf("no run with id %s", id))
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, newRunResponse(run, true))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"the requested endpoint does not exist")
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed",
		fmt.Sprintf("%s is not supported on %s", r.Method, r.URL.Path))
}
