package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeReplayed = "replayed"
	OutcomeError    = "error"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_ledger_operations_total",
			Help: "Ledger operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exchange_ledger_operation_duration_seconds",
			Help:    "Duration of ledger operations, including lock waits",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	feeCollectedCents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "exchange_fee_collected_cents_total",
			Help: "Conversion fees charged, in USD cents",
		},
	)

	outboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_outbox_messages_total",
			Help: "Outbox relay attempts by result",
		},
		[]string{"result"},
	)
)

// ObserveOperation records one finished ledger operation.
func ObserveOperation(operation, outcome string, started time.Time) {
	operationsTotal.WithLabelValues(operation, outcome).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func AddFeeCollected(cents int64) {
	if cents > 0 {
		feeCollectedCents.Add(float64(cents))
	}
}

func OutboxResult(result string) {
	outboxPublished.WithLabelValues(result).Inc()
}
