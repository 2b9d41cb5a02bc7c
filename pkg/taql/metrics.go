package taql

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the execution backends. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	BatchEvaluations   prometheus.Counter
	BatchEvalDuration  prometheus.Histogram
	BatchNodeCacheHits prometheus.Counter
	BatchNodeCacheMiss prometheus.Counter
	IncrementalSteps   prometheus.Counter
	SnapshotsTaken     prometheus.Counter
	SnapshotsRestored  prometheus.Counter
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	return &Metrics{
		BatchEvaluations: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Namespace: "taql",
			Name:      "batch_evaluations_total",
			Help:      "Total number of batch plan evaluations.",
		}),
		BatchEvalDuration: promauto.With(registerer).NewHistogram(prometheus.HistogramOpts{
			Namespace: "taql",
			Name:      "batch_evaluation_duration_seconds",
			Help:      "Time spent evaluating one batch plan over one partition.",
			Buckets:   prometheus.DefBuckets,
		}),
		BatchNodeCacheHits: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Namespace: "taql",
			Name:      "batch_node_cache_hits_total",
			Help:      "Total number of per-node result cache hits.",
		}),
		BatchNodeCacheMiss: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Namespace: "taql",
			Name:      "batch_node_cache_misses_total",
			Help:      "Total number of per-node result cache misses.",
		}),
		IncrementalSteps: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Namespace: "taql",
			Name:      "incremental_steps_total",
			Help:      "Total number of ticks processed incrementally.",
		}),
		SnapshotsTaken: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Namespace: "taql",
			Name:      "snapshots_taken_total",
			Help:      "Total number of state snapshots taken.",
		}),
		SnapshotsRestored: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Namespace: "taql",
			Name:      "snapshots_restored_total",
			Help:      "Total number of state snapshots restored.",
		}),
	}
}

func (m *Metrics) incBatchEvaluations() {
	if m != nil {
		m.BatchEvaluations.Inc()
	}
}

func (m *Metrics) observeBatchDuration(d time.Duration) {
	if m != nil {
		m.BatchEvalDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) incCacheHit() {
	if m != nil {
		m.BatchNodeCacheHits.Inc()
	}
}

func (m *Metrics) incCacheMiss() {
	if m != nil {
		m.BatchNodeCacheMiss.Inc()
	}
}

func (m *Metrics) incSteps() {
	if m != nil {
		m.IncrementalSteps.Inc()
	}
}

func (m *Metrics) incSnapshots() {
	if m != nil {
		m.SnapshotsTaken.Inc()
	}
}

func (m *Metrics) incRestores() {
	if m != nil {
		m.SnapshotsRestored.Inc()
	}
}
