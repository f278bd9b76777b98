// Package metrics holds the Prometheus collectors for an enrichment run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"

	"github.com/chenders/deadonfilm-sub014/internal/model"
)

// Recorder owns a private registry so concurrent runs and tests never share
// counters. A nil *Recorder is valid and records nothing.
type Recorder struct {
	reg *prometheus.Registry

	lookups        *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec
	cost           *prometheus.CounterVec
	cacheHits      *prometheus.CounterVec
	subjects       *prometheus.CounterVec
	budgetRefusals *prometheus.CounterVec
}

// New registers the run collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deadonfilm_lookups_total",
			Help: "Source lookups by source and outcome",
		}, []string{"source", "outcome"}),
		lookupDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deadonfilm_lookup_duration_seconds",
			Help:    "Source lookup latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		cost: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deadonfilm_cost_usd_total",
			Help: "Spend charged to the run ledger by source",
		}, []string{"source"}),
		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deadonfilm_cache_hits_total",
			Help: "Lookups answered from the query cache",
		}, []string{"source"}),
		subjects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deadonfilm_subjects_total",
			Help: "Subjects by terminal state",
		}, []string{"state"}),
		budgetRefusals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deadonfilm_budget_refusals_total",
			Help: "Calls refused by the budget governor",
		}, []string{"source"}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// Lookup records one adapter call.
func (r *Recorder) Lookup(src model.SourceType, res *model.LookupResult, err error, d time.Duration) {
	if r == nil {
		return
	}
	outcome := "error"
	switch {
	case err == nil && res != nil && res.Success:
		outcome = "success"
	case err == nil && res != nil:
		outcome = string(res.Error)
	}
	r.lookups.WithLabelValues(string(src), outcome).Inc()
	r.lookupDuration.WithLabelValues(string(src)).Observe(d.Seconds())
}

// Cost adds charged spend for a source.
func (r *Recorder) Cost(src model.SourceType, usd float64) {
	if r == nil || usd <= 0 {
		return
	}
	r.cost.WithLabelValues(string(src)).Add(usd)
}

// CacheHit counts a lookup served from the cache.
func (r *Recorder) CacheHit(src model.SourceType) {
	if r == nil {
		return
	}
	r.cacheHits.WithLabelValues(string(src)).Inc()
}

// BudgetRefused counts a call the governor refused.
func (r *Recorder) BudgetRefused(src model.SourceType) {
	if r == nil {
		return
	}
	r.budgetRefusals.WithLabelValues(string(src)).Inc()
}

// Subject counts a subject reaching a terminal state.
func (r *Recorder) Subject(state model.SubjectState) {
	if r == nil {
		return
	}
	r.subjects.WithLabelValues(string(state)).Inc()
}

// WriteTextfile writes the registry in the node-exporter textfile format.
// The write goes through a temp file and rename.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return eris.Wrapf(prometheus.WriteToTextfile(path, r.reg), "metrics: write textfile %s", path)
}
