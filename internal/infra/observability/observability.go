// Package observability exposes Prometheus metrics for the economy engine:
// mutation outcomes, emission grants and rejections, idempotent replays and
// two-phase repairs. Metrics are registered via promauto and served on the
// API server's /metrics endpoint.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Mutation Metrics ───────────────────────────────────────────────────────

// MutationsTotal counts credit/debit outcomes.
// outcome ∈ applied | skipped | duplicate | insufficient | invalid | error.
var MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "aibarena_economy_mutations_total",
	Help: "Balance mutations by currency, direction and outcome.",
}, []string{"currency", "direction", "outcome"})

// MutatedAmount accumulates the amounts actually applied to balances.
var MutatedAmount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "aibarena_economy_mutated_amount_total",
	Help: "Total amount applied to balances by currency and direction.",
}, []string{"currency", "direction"})

// RepairsTotal counts orphaned two-phase rows completed on retry.
var RepairsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "aibarena_economy_repairs_total",
	Help: "Orphaned two-phase ledger rows repaired inline by a retry.",
})

// TxDowngradesTotal counts transactional calls downgraded to the two-phase
// strategy because the store rejected multi-statement transactions.
var TxDowngradesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "aibarena_economy_tx_downgrades_total",
	Help: "Mutations downgraded from the transactional to the two-phase strategy.",
})

// ─── Emission Metrics ───────────────────────────────────────────────────────

// EmissionAttempts counts capacity checks.
// outcome ∈ granted | cap_exceeded | window_closed | error.
var EmissionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "aibarena_economy_emission_attempts_total",
	Help: "Emission capacity checks by currency and outcome.",
}, []string{"currency", "outcome"})

// EmittedAmount accumulates granted emission amounts.
var EmittedAmount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "aibarena_economy_emitted_amount_total",
	Help: "Total emission amount granted by currency.",
}, []string{"currency"})
