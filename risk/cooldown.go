package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantara/leverbot/internal/metrics"
	"github.com/quantara/leverbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COOLDOWN GATE - Blocks re-entry into recently losing symbols
// ═══════════════════════════════════════════════════════════════════════════════
//
// Rules run in fixed order and the first rule whose window is still open
// wins. This is a deliberate short-circuit, not a union: a short
// early-expiring rule can mask a longer rule that would otherwise still be
// active. Kept as-is on purpose.
//
// Reads fail open: if the event store is unreachable the symbol trades.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	severeLossPct = 15

	severeLossCooldown   = 12 * time.Hour
	repeatedLossCooldown = 24 * time.Hour
	frequentLossCooldown = 48 * time.Hour
	reversalLossCooldown = 6 * time.Hour

	lossLookback = 24 * time.Hour
)

// ClosedEventSource provides closed-position events for a symbol within a
// trailing window, most recent first.
type ClosedEventSource interface {
	ClosedEventsSince(symbol string, since time.Time) ([]types.ClosedPositionEvent, error)
}

// CooldownStatus is the gate's answer for one symbol.
type CooldownStatus struct {
	InCooldown     bool
	Reason         string
	Rule           string
	CooldownUntil  time.Time
	RemainingHours float64 // hours until expiry, rounded up to one decimal
}

// CooldownGate decides whether a symbol is blocked from new entries.
type CooldownGate struct {
	events ClosedEventSource
}

// NewCooldownGate creates the gate over an injected event source.
func NewCooldownGate(events ClosedEventSource) *CooldownGate {
	return &CooldownGate{events: events}
}

// Evaluate checks the cooldown rules for a symbol at the given instant.
func (g *CooldownGate) Evaluate(symbol string, now time.Time) CooldownStatus {
	events, err := g.events.ClosedEventsSince(symbol, now.Add(-lossLookback))
	if err != nil {
		// Fail open: availability of trading wins over strict safety here
		log.Error().Err(err).Str("symbol", symbol).Msg("Cooldown read failed, trading allowed")
		return CooldownStatus{}
	}

	losses := make([]types.ClosedPositionEvent, 0, len(events))
	for _, ev := range events {
		if ev.IsLoss() {
			losses = append(losses, ev)
		}
	}
	if len(losses) == 0 {
		return CooldownStatus{}
	}

	latest := losses[0]

	// 1. Severe single loss
	if latest.PnLPercent.Abs().GreaterThanOrEqual(decimalFromInt(severeLossPct)) {
		until := latest.ClosedAt.Add(severeLossCooldown)
		if now.Before(until) {
			return g.blocked(symbol, "severe_loss",
				fmt.Sprintf("severe loss of %s%% on last trade", latest.PnLPercent.Abs().StringFixed(1)),
				until, now)
		}
	}

	// 2. Repeated losses
	if len(losses) >= 2 {
		until := latest.ClosedAt.Add(repeatedLossCooldown)
		if now.Before(until) {
			return g.blocked(symbol, "repeated_losses",
				fmt.Sprintf("%d losses in the last 24h", len(losses)),
				until, now)
		}
	}

	// 3. Frequent losses
	if len(losses) >= 3 {
		until := latest.ClosedAt.Add(frequentLossCooldown)
		if now.Before(until) {
			return g.blocked(symbol, "frequent_losses",
				fmt.Sprintf("%d losses in the last 24h", len(losses)),
				until, now)
		}
	}

	// 4. Reversal-triggered loss: first matching loss, not necessarily the
	// most recent overall
	for _, loss := range losses {
		if loss.CloseReason == types.CloseReasonTrendReversal {
			until := loss.ClosedAt.Add(reversalLossCooldown)
			if now.Before(until) {
				return g.blocked(symbol, "reversal_loss",
					"recent loss caused by trend reversal", until, now)
			}
			break
		}
	}

	return CooldownStatus{}
}

func (g *CooldownGate) blocked(symbol, rule, reason string, until, now time.Time) CooldownStatus {
	remaining := roundUpHours(until.Sub(now))

	metrics.CooldownBlocks.WithLabelValues(symbol, rule).Inc()
	log.Info().
		Str("symbol", symbol).
		Str("rule", rule).
		Time("until", until).
		Float64("remaining_h", remaining).
		Msg("🧊 Symbol in cooldown")

	return CooldownStatus{
		InCooldown:     true,
		Reason:         reason,
		Rule:           rule,
		CooldownUntil:  until,
		RemainingHours: remaining,
	}
}

// roundUpHours rounds a remaining duration up to one decimal of hours.
func roundUpHours(d time.Duration) float64 {
	return math.Ceil(d.Hours()*10) / 10
}
