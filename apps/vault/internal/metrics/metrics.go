// Package metrics holds the Prometheus collectors of the vault service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vault"

// Registration
var (
	DepositsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_created_total",
			Help:      "Deposits registered and persisted",
		},
	)

	DepositRegistrationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposit_registration_failures_total",
			Help:      "Failed deposit registrations",
		},
		[]string{"reason"}, // validation, upstream, storage
	)
)

// Settlement watcher
var (
	WatcherCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_cycles_total",
			Help:      "Settlement watcher polling cycles",
		},
		[]string{"result"}, // ok, error, standby, lease_lost
	)

	WatcherCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "watcher_cycle_duration_seconds",
			Help:      "Duration of one settlement watcher cycle",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	DepositOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_deposit_outcomes_total",
			Help:      "Per-deposit outcomes of settlement attempts",
		},
		[]string{"outcome"}, // unfunded, settled, recovered, released, claimed_elsewhere, failed
	)

	EncodingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposit_encoding_failures_total",
			Help:      "Deposits whose amount cannot be encoded on chain",
		},
	)

	PendingSettlements = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_settlements",
			Help:      "Deposits holding a reserved, unconfirmed settlement transaction",
		},
	)

	IsLeader = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watcher_is_leader",
			Help:      "1 while this instance holds the settlement lease",
		},
	)
)

// Outbox and settlement tracking
var (
	OutboxEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_published_total",
			Help:      "Outbox events handed to Kafka",
		},
		[]string{"status"}, // sent, failed
	)

	SettlementReceipts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_receipts_total",
			Help:      "Settlement receipts recorded by the tracker",
		},
		[]string{"status"}, // success, reverted
	)

	StrandedDeposits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stranded_deposits_total",
			Help:      "Deposited deposits whose settlement transaction reverted",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}
