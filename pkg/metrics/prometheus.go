package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration    *prometheus.HistogramVec
	gateChecksTotal  *prometheus.CounterVec
	gateDuration     *prometheus.HistogramVec
	cacheEventsTotal *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	escalationsTotal *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new Prometheus-based metrics recorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		stageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_stage_duration_seconds",
				Help:    "Duration of stage attempts in seconds by workflow, stage, and verdict",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"workflow", "stage", "verdict"},
		),
		gateChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_gate_checks_total",
				Help: "Total number of gate evaluations by workflow, gate, category, status, and source",
			},
			[]string{"workflow", "gate", "category", "status", "source"},
		),
		gateDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_gate_duration_seconds",
				Help:    "Duration of gate evaluations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"workflow", "gate", "category"},
		),
		cacheEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_cache_events_total",
				Help: "Total number of gate cache events (hit, miss, expired)",
			},
			[]string{"workflow", "event"},
		),
		transitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_transitions_total",
				Help: "Total number of run status transitions",
			},
			[]string{"workflow", "from", "to"},
		),
		escalationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_escalations_total",
				Help: "Total number of runs escalated to a human operator",
			},
			[]string{"workflow", "stage", "category"},
		),
	}
}

// ObserveStage records metrics for a completed stage attempt.
func (p *PrometheusRecorder) ObserveStage(workflow, stage, verdict string, duration time.Duration) {
	p.stageDuration.WithLabelValues(workflow, stage, verdict).Observe(duration.Seconds())
}

// ObserveGate records metrics for a single gate evaluation.
func (p *PrometheusRecorder) ObserveGate(workflow, gateName, category string, passed, cached bool, duration time.Duration) {
	status := "passed"
	if !passed {
		status = "failed"
	}

	source := "fresh"
	if cached {
		source = "cache"
	}

	p.gateChecksTotal.WithLabelValues(workflow, gateName, category, status, source).Inc()

	// Cached verdicts carry no meaningful duration.
	if !cached {
		p.gateDuration.WithLabelValues(workflow, gateName, category).Observe(duration.Seconds())
	}
}

// IncCacheEvent increments the cache event counter.
func (p *PrometheusRecorder) IncCacheEvent(workflow, event string) {
	p.cacheEventsTotal.WithLabelValues(workflow, event).Inc()
}

// IncTransition increments the run status transition counter.
func (p *PrometheusRecorder) IncTransition(workflow, from, to string) {
	p.transitionsTotal.WithLabelValues(workflow, from, to).Inc()
}

// IncEscalation increments the escalation counter.
func (p *PrometheusRecorder) IncEscalation(workflow, stage, category string) {
	p.escalationsTotal.WithLabelValues(workflow, stage, category).Inc()
}
