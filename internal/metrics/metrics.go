package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus metrics for the risk engine
// ============================================================
//
// Exposed on METRICS_ADDR via promhttp in cmd/leverbot.

// CooldownBlocks counts entries rejected by the cooldown gate, by rule.
var CooldownBlocks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "leverbot",
		Subsystem: "risk",
		Name:      "cooldown_blocks_total",
		Help:      "Entries blocked by the cooldown gate",
	},
	[]string{"symbol", "rule"},
)

// PenaltyApplied observes the loss penalty handed to the opportunity scorer.
var PenaltyApplied = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "leverbot",
		Subsystem: "risk",
		Name:      "loss_penalty_points",
		Help:      "Loss penalty points applied per evaluation",
		Buckets:   []float64{0, 5, 10, 20, 35, 50, 70},
	},
	[]string{"symbol"},
)

// ForcedExits counts reversal-driven position closes by tier.
var ForcedExits = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "leverbot",
		Subsystem: "risk",
		Name:      "reversal_exits_total",
		Help:      "Positions closed by the reversal classifier",
	},
	[]string{"symbol", "tier"},
)

// OrdersReconciled counts ledger rows inserted or backfilled by reconciliation.
var OrdersReconciled = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "leverbot",
		Subsystem: "ledger",
		Name:      "orders_reconciled_total",
		Help:      "Conditional orders inserted or backfilled during reconciliation",
	},
	[]string{"outcome"},
)

// DuplicatesRemoved counts rows deleted by the duplicate repair routine.
var DuplicatesRemoved = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "leverbot",
		Subsystem: "ledger",
		Name:      "duplicates_removed_total",
		Help:      "Duplicate rows removed by RepairDuplicates",
	},
)

// InconsistentStates counts rejected writes recorded for later inspection.
var InconsistentStates = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "leverbot",
		Subsystem: "ledger",
		Name:      "inconsistent_states_total",
		Help:      "Integrity violations recorded at the write boundary",
	},
	[]string{"kind"},
)

// ActiveLegs tracks currently active protective legs per symbol.
var ActiveLegs = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "leverbot",
		Subsystem: "ledger",
		Name:      "active_legs",
		Help:      "Active protective legs tracked in the ledger",
	},
	[]string{"symbol", "leg_type"},
)
