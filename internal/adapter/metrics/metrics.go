package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CompactionMetrics holds all Prometheus metrics for the compaction engine.
type CompactionMetrics struct {
	RunsTotal              *prometheus.CounterVec
	TransactionsCompressed prometheus.Counter
	TransactionsArchived   prometheus.Counter
	ClientsFailed          prometheus.Counter
	RunDuration            prometheus.Histogram
}

// NewCompactionMetrics initializes and registers the Prometheus metrics.
func NewCompactionMetrics() *CompactionMetrics {
	return &CompactionMetrics{
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgerfold",
			Subsystem: "compaction",
			Name:      "runs_total",
			Help:      "Total number of compaction runs by outcome.",
		}, []string{"status"}), // status: completed, partial, failed
		TransactionsCompressed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerfold",
			Subsystem: "compaction",
			Name:      "transactions_compressed_total",
			Help:      "Total number of transactions folded into balance-forward summaries.",
		}),
		TransactionsArchived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerfold",
			Subsystem: "compaction",
			Name:      "transactions_archived_total",
			Help:      "Total number of transactions copied to the archive collection.",
		}),
		ClientsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerfold",
			Subsystem: "compaction",
			Name:      "clients_failed_total",
			Help:      "Total number of per-client pipelines that failed mid-run.",
		}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledgerfold",
			Subsystem: "compaction",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of compaction runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

// RunTimer starts a timer that observes into RunDuration when stopped.
func (m *CompactionMetrics) RunTimer() *prometheus.Timer {
	return prometheus.NewTimer(m.RunDuration)
}
