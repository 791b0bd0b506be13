package risk

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/quantara/leverbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REVERSAL CLASSIFIER - Has the market turned against the entry thesis?
// ═══════════════════════════════════════════════════════════════════════════════

// Action is what the position monitor should do about a reversal score.
type Action string

const (
	ActionNone          Action = "none"
	ActionFreezeTrail   Action = "freeze_trailing"   // early warning
	ActionAdvisoryClose Action = "advisory_close"    // close if profitable or loss is small
	ActionForceClose    Action = "force_close"       // close regardless of P&L
)

// Thresholds are the reversal-score tier boundaries. Two constant sets have
// shipped (70/50/30, then 60/40/25), so they are configuration.
type Thresholds struct {
	High   float64
	Medium float64
	Low    float64
}

// DefaultThresholds returns the current shipped set.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 60, Medium: 40, Low: 25}
}

// ReversalClassifier turns market-state labels and continuous reversal
// scores into exit decisions.
type ReversalClassifier struct {
	thresholds         Thresholds
	advisoryMaxLossPct decimal.Decimal
}

// NewReversalClassifier creates a classifier with the given tier thresholds.
func NewReversalClassifier(t Thresholds, advisoryMaxLossPct decimal.Decimal) *ReversalClassifier {
	return &ReversalClassifier{thresholds: t, advisoryMaxLossPct: advisoryMaxLossPct}
}

// HasReversed reports whether the current market state contradicts the
// entry-time state for the given position side. An unknown entry state is
// never treated as a reversal: absence of a baseline must not manufacture
// an exit signal.
func HasReversed(side, entryState, currentState string) bool {
	if entryState == "" {
		return false
	}

	entryUp := strings.HasPrefix(entryState, "uptrend")
	entryDown := strings.HasPrefix(entryState, "downtrend")
	currentUp := strings.HasPrefix(currentState, "uptrend")
	currentDown := strings.HasPrefix(currentState, "downtrend")

	switch side {
	case types.SideLong:
		return entryUp && currentDown
	case types.SideShort:
		return entryDown && currentUp
	}
	return false
}

// HasReversedSnapshot is HasReversed over analyzer snapshots.
func HasReversedSnapshot(side string, entry, current types.MarketStateSnapshot) bool {
	return HasReversed(side, entry.State, current.State)
}

// Classify maps a continuous reversal score (0-100) to a tier action.
func (c *ReversalClassifier) Classify(score float64) Action {
	switch {
	case score >= c.thresholds.High:
		return ActionForceClose
	case score >= c.thresholds.Medium:
		return ActionAdvisoryClose
	case score >= c.thresholds.Low:
		return ActionFreezeTrail
	}
	return ActionNone
}

// AdvisoryShouldClose decides the advisory tier: close when the position is
// profitable or its loss is still small, otherwise hold.
func (c *ReversalClassifier) AdvisoryShouldClose(pnlPercent decimal.Decimal) bool {
	if !pnlPercent.IsNegative() {
		return true
	}
	return pnlPercent.Abs().LessThanOrEqual(c.advisoryMaxLossPct)
}
