// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SettlementsResolved counts terminal settlement outcomes by kind and status.
	SettlementsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_settlements_resolved_total",
		Help: "Settlement operations resolved to a terminal state.",
	}, []string{"kind", "status"})

	// DispatchAttempts counts provider dispatch attempts by result.
	DispatchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_dispatch_attempts_total",
		Help: "Provider transfer attempts by reported result.",
	}, []string{"result"})

	// ChargesCollected counts successful collection recordings.
	ChargesCollected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_charges_collected_total",
		Help: "Charges recorded against merchant pending balances.",
	})

	// ReconciliationDrift reports the last observed drift per merchant and
	// currency. Nonzero values indicate the balance store and journal have
	// diverged and require operational follow-up.
	ReconciliationDrift = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledger_reconciliation_drift_minor_units",
		Help: "Drift between the stored balance total and the ledger-derived total.",
	}, []string{"merchant_id", "currency"})

	// UnbalancedTransactions counts journal transaction groups found with
	// unequal debits and credits. Any increment is a hard bug.
	UnbalancedTransactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_unbalanced_transactions_total",
		Help: "Transaction groups whose debits and credits do not match.",
	})
)
