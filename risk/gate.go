package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK GATE - Entry approval for the opportunity evaluator
// ═══════════════════════════════════════════════════════════════════════════════
//
// Evaluator asks → Gate approves/rejects → entry flow executes
//
// The gate is stateless per call: cooldown and penalty both read the closed
// event store, so concurrent evaluations across symbols need no
// coordination.
//
// ═══════════════════════════════════════════════════════════════════════════════

// EntryApproval is the gate's answer to "may I open a position here".
type EntryApproval struct {
	Approved     bool
	RejectionMsg string
	ScorePenalty int // subtracted from the opportunity score by the caller
	Cooldown     CooldownStatus
	Stats        LossStats
}

// CooldownNotifier receives cooldown-trip alerts. Optional.
type CooldownNotifier interface {
	NotifyCooldown(symbol string, status CooldownStatus)
}

// RiskGate combines the cooldown gate and the loss penalty scorer.
type RiskGate struct {
	cooldown *CooldownGate
	scorer   *LossPenaltyScorer

	mu       sync.Mutex
	notifier CooldownNotifier
	alerted  map[string]time.Time // symbol -> CooldownUntil last alerted
}

// NewRiskGate creates the entry approval gate.
func NewRiskGate(cooldown *CooldownGate, scorer *LossPenaltyScorer) *RiskGate {
	return &RiskGate{
		cooldown: cooldown,
		scorer:   scorer,
		alerted:  make(map[string]time.Time),
	}
}

// SetNotifier wires the optional cooldown alert sink.
func (g *RiskGate) SetNotifier(n CooldownNotifier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notifier = n
}

// maybeNotify alerts once per cooldown window. Repeated rejections inside
// the same window stay silent.
func (g *RiskGate) maybeNotify(symbol string, status CooldownStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.notifier == nil || g.alerted[symbol].Equal(status.CooldownUntil) {
		return
	}
	g.alerted[symbol] = status.CooldownUntil
	g.notifier.NotifyCooldown(symbol, status)
}

// CanEnter checks cooldown state and computes the loss penalty for a symbol.
func (g *RiskGate) CanEnter(symbol string, now time.Time) EntryApproval {
	status := g.cooldown.Evaluate(symbol, now)
	if status.InCooldown {
		log.Debug().
			Str("symbol", symbol).
			Str("reason", status.Reason).
			Float64("remaining_h", status.RemainingHours).
			Msg("🚫 Entry rejected")
		g.maybeNotify(symbol, status)
		return EntryApproval{
			Approved:     false,
			RejectionMsg: status.Reason,
			Cooldown:     status,
		}
	}

	stats := g.scorer.GetLossStats(symbol, now)
	penalty := CalculatePenalty(stats)

	log.Debug().
		Str("symbol", symbol).
		Int("penalty", penalty).
		Int("losses_24h", stats.Losses24h).
		Msg("✅ Entry approved by risk gate")

	return EntryApproval{
		Approved:     true,
		ScorePenalty: penalty,
		Stats:        stats,
	}
}
