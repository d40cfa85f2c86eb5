// Package metrics exposes Prometheus instrumentation for the triage
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/open-leads/talon/internal/domain"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so callers never need to guard.
type Metrics struct {
	registry *prometheus.Registry

	leadsProcessed *prometheus.CounterVec
	leadsFailed    *prometheus.CounterVec
	scoreHist      *prometheus.HistogramVec
	bandCounts     *prometheus.CounterVec
	assignments    *prometheus.CounterVec
	triageDuration *prometheus.HistogramVec
}

// New creates a metrics set backed by its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		leadsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talon",
			Name:      "leads_processed_total",
			Help:      "Total number of leads run through triage.",
		}, []string{"tenant"}),

		leadsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talon",
			Name:      "leads_failed_total",
			Help:      "Total number of leads whose triage failed.",
		}, []string{"tenant"}),

		scoreHist: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "talon",
			Name:      "lead_score",
			Help:      "Distribution of final lead scores.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}, []string{"tenant"}),

		bandCounts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talon",
			Name:      "lead_band_total",
			Help:      "Lead count per score band.",
		}, []string{"tenant", "band"}),

		assignments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "talon",
			Name:      "assignments_total",
			Help:      "Owner assignments per pool.",
		}, []string{"tenant", "pool"}),

		triageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "talon",
			Name:      "triage_duration_seconds",
			Help:      "End-to-end triage latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"tenant"}),
	}
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvaluation records the outcome of one triage pass.
func (m *Metrics) RecordEvaluation(tenantID string, eval *domain.Evaluation) {
	if m == nil || eval == nil {
		return
	}
	m.leadsProcessed.WithLabelValues(tenantID).Inc()
	m.scoreHist.WithLabelValues(tenantID).Observe(float64(eval.Score))
	m.bandCounts.WithLabelValues(tenantID, string(eval.Band)).Inc()
	if eval.Routing != nil && eval.Routing.Pool != "" {
		m.assignments.WithLabelValues(tenantID, eval.Routing.Pool).Inc()
	}
	m.triageDuration.WithLabelValues(tenantID).Observe(float64(eval.Metadata.TotalMs) / 1000)
}

// RecordFailure records a lead whose triage errored out.
func (m *Metrics) RecordFailure(tenantID string) {
	if m == nil {
		return
	}
	m.leadsFailed.WithLabelValues(tenantID).Inc()
}
