// Package metrics exposes the Prometheus instrumentation for the analysis
// pipeline and the HTTP surface. Every Registry owns its own Prometheus
// registry, so independent instances never collide.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Pipeline stages reported to the stage metrics.
const (
	StageSimulate = "simulate"
	StageDesign   = "design"
	StageReport   = "report"
)

// Stage results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Cache tiers reported to the cache metrics.
const (
	TierMemory = "memory"
	TierRedis  = "redis"
)

var cacheTiers = []string{TierMemory, TierRedis}

// Registry holds the pipeline and transport metrics.
type Registry struct {
	StageDuration *prometheus.HistogramVec
	Stages        *prometheus.CounterVec

	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	CacheHitRatio prometheus.Gauge

	SimulatedEvents prometheus.Counter
	DesignRuns      *prometheus.CounterVec

	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	reg *prometheus.Registry
}

// New builds a Registry with every metric registered on a fresh Prometheus
// registry.
func New() *Registry {
	r := &Registry{
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "compex_stage_duration_seconds",
				Help:    "Duration of each analysis stage in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"stage", "result"},
		),
		Stages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compex_stages_total",
				Help: "Total analysis stages executed",
			},
			[]string{"stage", "result"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compex_cache_hits_total",
				Help: "Total result-cache hits by tier",
			},
			[]string{"tier"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compex_cache_misses_total",
				Help: "Total result-cache misses by tier",
			},
			[]string{"tier"},
		),
		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "compex_cache_hit_ratio",
				Help: "Result-cache hit ratio across all tiers (0.0 to 1.0)",
			},
		),
		SimulatedEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "compex_simulated_events_total",
				Help: "Total synthetic events drawn by the joint simulator",
			},
		),
		DesignRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compex_design_runs_total",
				Help: "Total design-event estimations by outcome",
			},
			[]string{"result"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "compex_http_request_duration_seconds",
				Help:    "HTTP request duration by route, method and status",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"route", "method", "status"},
		),
		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "compex_http_active_requests",
				Help: "HTTP requests currently in flight",
			},
		),
		reg: prometheus.NewRegistry(),
	}

	r.reg.MustRegister(
		r.StageDuration,
		r.Stages,
		r.CacheHits,
		r.CacheMisses,
		r.CacheHitRatio,
		r.SimulatedEvents,
		r.DesignRuns,
		r.RequestDuration,
		r.ActiveRequests,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// StageTimer times one pipeline stage.
type StageTimer struct {
	metrics *Registry
	stage   string
	start   time.Time
}

// StartStage begins timing a pipeline stage.
func (r *Registry) StartStage(stage string) *StageTimer {
	return &StageTimer{metrics: r, stage: stage, start: time.Now()}
}

// Stop records the stage's duration and outcome.
func (st *StageTimer) Stop(result string) {
	duration := time.Since(st.start)
	st.metrics.StageDuration.WithLabelValues(st.stage, result).Observe(duration.Seconds())
	st.metrics.Stages.WithLabelValues(st.stage, result).Inc()

	log.Debug().
		Str("stage", st.stage).
		Str("result", result).
		Dur("duration", duration).
		Msg("Analysis stage completed")
}

// RecordCacheHit records a hit on the given tier and refreshes the ratio.
func (r *Registry) RecordCacheHit(tier string) {
	r.CacheHits.WithLabelValues(tier).Inc()
	r.updateCacheHitRatio()
}

// RecordCacheMiss records a miss on the given tier and refreshes the ratio.
func (r *Registry) RecordCacheMiss(tier string) {
	r.CacheMisses.WithLabelValues(tier).Inc()
	r.updateCacheHitRatio()
}

// updateCacheHitRatio reads the hit and miss counters back through the
// client_model types and recomputes the combined ratio gauge.
func (r *Registry) updateCacheHitRatio() {
	var m io_prometheus_client.Metric
	totalHits, totalMisses := 0.0, 0.0

	for _, tier := range cacheTiers {
		if hit, err := r.CacheHits.GetMetricWithLabelValues(tier); err == nil {
			if err := hit.Write(&m); err == nil {
				totalHits += m.GetCounter().GetValue()
			}
		}
		if miss, err := r.CacheMisses.GetMetricWithLabelValues(tier); err == nil {
			if err := miss.Write(&m); err == nil {
				totalMisses += m.GetCounter().GetValue()
			}
		}
	}

	if total := totalHits + totalMisses; total > 0 {
		r.CacheHitRatio.Set(totalHits / total)
	}
}

// ObserveRequest records one finished HTTP request.
func (r *Registry) ObserveRequest(route, method string, status int, duration time.Duration) {
	r.RequestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(duration.Seconds())
}

// AddSimulatedEvents bumps the simulated-event counter.
func (r *Registry) AddSimulatedEvents(n int) {
	if n > 0 {
		r.SimulatedEvents.Add(float64(n))
	}
}

// RecordDesignRun records one estimation outcome.
func (r *Registry) RecordDesignRun(result string) {
	r.DesignRuns.WithLabelValues(result).Inc()
}
