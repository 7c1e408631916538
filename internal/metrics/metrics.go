package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the history engine.
type Metrics struct {
	// Window-end corrections written by the chain maintainer
	RechainWrites *prometheus.CounterVec

	// Invariant violations detected after a rechain pass
	ChainCorruptions *prometheus.CounterVec

	// Current-table synchronizations by outcome
	SyncOutcome *prometheus.CounterVec

	// Scheduling attempts by outcome
	ScheduleOutcome *prometheus.CounterVec

	// Deferred activations fired, by result
	ActivationsFired *prometheus.CounterVec

	// End-to-end write pipeline latency
	PipelineLatency prometheus.Histogram
}

// New creates a Metrics instance with all engine metrics registered.
func New() *Metrics {
	return &Metrics{
		RechainWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bitempo_rechain_writes_total",
			Help: "Window-end corrections persisted by the chain maintainer",
		}, []string{"level"}), // level: "history", "meta"

		ChainCorruptions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bitempo_chain_corruptions_total",
			Help: "Chain invariant violations detected after rechaining",
		}, []string{"entity_type"}),

		SyncOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bitempo_sync_total",
			Help: "Current-table synchronizations by outcome",
		}, []string{"outcome"}), // outcome: "upsert", "delete", "noop", "error"

		ScheduleOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bitempo_schedule_total",
			Help: "Activation scheduling attempts by outcome",
		}, []string{"outcome"}), // outcome: "scheduled", "cancelled", "error"

		ActivationsFired: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bitempo_activations_fired_total",
			Help: "Deferred activations fired by result",
		}, []string{"result"}), // result: "applied", "stale"

		PipelineLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "bitempo_pipeline_duration_seconds",
			Help:    "Duration of the full write pipeline under the per-key lock",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// ObservePipeline records the duration of one write pipeline run.
func (m *Metrics) ObservePipeline(d time.Duration) {
	if m != nil {
		m.PipelineLatency.Observe(d.Seconds())
	}
}

// IncRechain records persisted window-end corrections for a chain level.
func (m *Metrics) IncRechain(level string, n int) {
	if m != nil && n > 0 {
		m.RechainWrites.WithLabelValues(level).Add(float64(n))
	}
}

// IncCorruption records a detected chain invariant violation.
func (m *Metrics) IncCorruption(entityType string) {
	if m != nil {
		m.ChainCorruptions.WithLabelValues(entityType).Inc()
	}
}

// IncSync records a synchronization outcome.
func (m *Metrics) IncSync(outcome string) {
	if m != nil {
		m.SyncOutcome.WithLabelValues(outcome).Inc()
	}
}

// IncSchedule records a scheduling outcome.
func (m *Metrics) IncSchedule(outcome string) {
	if m != nil {
		m.ScheduleOutcome.WithLabelValues(outcome).Inc()
	}
}

// IncActivation records a fired activation result.
func (m *Metrics) IncActivation(result string) {
	if m != nil {
		m.ActivationsFired.WithLabelValues(result).Inc()
	}
}
