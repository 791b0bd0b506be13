package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Position side
const (
	SideLong  = "long"
	SideShort = "short"
)

// Protective leg types
const (
	LegStopLoss   = "stop_loss"
	LegTakeProfit = "take_profit"
)

// Conditional order lifecycle states
const (
	OrderActive    = "active"
	OrderTriggered = "triggered"
	OrderCancelled = "cancelled"
)

// Close reasons for ClosedPositionEvent
const (
	CloseReasonStopLoss      = "stop_loss"
	CloseReasonTakeProfit    = "take_profit"
	CloseReasonTrendReversal = "trend_reversal"
	CloseReasonManual        = "manual"
)

// ClosedPositionEvent is one closed-position record from the event store.
// Append-only: the engine reads it and never mutates it (the duplicate
// repair routine is the single exception).
type ClosedPositionEvent struct {
	Symbol         string
	PnL            decimal.Decimal // signed, quote currency
	PnLPercent     decimal.Decimal // signed
	CloseReason    string
	TriggerOrderID string // venue order that closed the position, if any
	ClosedAt       time.Time
}

// IsLoss reports whether the event closed at a loss.
func (e ClosedPositionEvent) IsLoss() bool {
	return e.PnL.IsNegative()
}

// Position represents an open leveraged position. Owned by the entry
// execution flow; the engine only references it.
type Position struct {
	Symbol       string
	Side         string // long | short
	Quantity     decimal.Decimal
	EntryPrice   decimal.Decimal
	StopLoss     decimal.Decimal
	ProfitTarget decimal.Decimal
	EntryOrderID string
	OpenedAt     time.Time

	// Known protective leg order ids at the venue (for reconciliation)
	StopOrderID   string
	TargetOrderID string

	// Market snapshot captured at entry; empty state means no baseline
	EntryState MarketStateSnapshot
}

// MarketStateSnapshot is the analyzer's view of a symbol at one instant.
// State labels carry a directional prefix: "uptrend_*", "downtrend_*" or a
// neutral/range label.
type MarketStateSnapshot struct {
	State              string
	TrendStrength      float64
	MomentumState      string
	Confidence         float64 // 0-1
	TimeframeAlignment float64 // 0-1
}

// IsUptrend reports whether the snapshot state is uptrend-prefixed.
func (s MarketStateSnapshot) IsUptrend() bool {
	return strings.HasPrefix(s.State, "uptrend")
}

// IsDowntrend reports whether the snapshot state is downtrend-prefixed.
func (s MarketStateSnapshot) IsDowntrend() bool {
	return strings.HasPrefix(s.State, "downtrend")
}

// DuplicateGroup is a set of physical rows sharing one supposedly unique
// key, ordered chronologically earliest first.
type DuplicateGroup struct {
	Key    string
	RowIDs []uint
}

// ConditionalOrder is one protective leg as persisted in the ledger.
type ConditionalOrder struct {
	OrderID         string // venue-assigned, globally unique
	PositionOrderID string // entry order this leg protects; "" on legacy rows
	Symbol          string
	Side            string // long | short
	LegType         string // stop_loss | take_profit
	TriggerPrice    decimal.Decimal
	Quantity        decimal.Decimal
	Status          string // active | triggered | cancelled
	CreatedAt       time.Time
	UpdatedAt       *time.Time
}
