package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the reconcile module.
type Metrics struct {
	// Identify outcomes: created_primary, created_secondary, merged, noop, error
	IdentifyOutcome *prometheus.CounterVec

	// End-to-end identify latency including store I/O
	IdentifyLatency prometheus.Histogram

	// Number of primaries absorbed per merge
	MergeWidth prometheus.Histogram

	// Serialization conflicts that forced an identify retry
	TxRetries prometheus.Counter
}

// New creates a Metrics instance with all reconcile metrics registered.
func New() *Metrics {
	return &Metrics{
		IdentifyOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "weld_identify_outcomes_total",
			Help: "Total identify invocations by outcome",
		}, []string{"outcome"}),

		IdentifyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "weld_identify_duration_seconds",
			Help:    "Duration of identify invocations including store I/O",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		MergeWidth: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "weld_identify_merge_width",
			Help:    "Number of primaries absorbed by a single merge",
			Buckets: []float64{1, 2, 3, 5, 8},
		}),

		TxRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "weld_identify_tx_retries_total",
			Help: "Identify transactions retried after a serialization conflict",
		}),
	}
}

// IncrementOutcome records an identify outcome.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.IdentifyOutcome.WithLabelValues(outcome).Inc()
	}
}

// ObserveIdentifyLatency records the duration of one identify invocation.
func (m *Metrics) ObserveIdentifyLatency(d time.Duration) {
	if m != nil {
		m.IdentifyLatency.Observe(d.Seconds())
	}
}

// ObserveMergeWidth records how many primaries one merge absorbed.
func (m *Metrics) ObserveMergeWidth(absorbed int) {
	if m != nil {
		m.MergeWidth.Observe(float64(absorbed))
	}
}

// IncrementTxRetry records a serialization-conflict retry.
func (m *Metrics) IncrementTxRetry() {
	if m != nil {
		m.TxRetries.Inc()
	}
}
