package risk

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantara/leverbot/internal/metrics"
	"github.com/quantara/leverbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LOSS PENALTY SCORER - Historical losses → opportunity-score penalty
// ═══════════════════════════════════════════════════════════════════════════════
//
// The opportunity evaluator subtracts the penalty from its score before
// deciding to open a position. No upper cap.
//
// ═══════════════════════════════════════════════════════════════════════════════

// LossStats aggregates a symbol's loss history over two trailing windows.
// The 48h window is a superset of the 24h window.
type LossStats struct {
	Losses24h         int
	Losses48h         int
	TotalLoss24h      decimal.Decimal // sum of absolute loss amounts
	TotalLoss48h      decimal.Decimal
	AvgLossPercent24h decimal.Decimal // mean of absolute loss percents, 0 if none
	HasReversalLoss   bool            // any 24h loss closed by trend reversal
}

// LossPenaltyScorer reduces loss history to an additive penalty.
type LossPenaltyScorer struct {
	events ClosedEventSource
}

// NewLossPenaltyScorer creates a scorer over an injected event source.
func NewLossPenaltyScorer(events ClosedEventSource) *LossPenaltyScorer {
	return &LossPenaltyScorer{events: events}
}

// GetLossStats aggregates loss events for a symbol. On a read failure it
// fails open with an all-zero struct.
func (s *LossPenaltyScorer) GetLossStats(symbol string, now time.Time) LossStats {
	events, err := s.events.ClosedEventsSince(symbol, now.Add(-48*time.Hour))
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("Loss stats read failed, returning zeros")
		return LossStats{TotalLoss24h: decimal.Zero, TotalLoss48h: decimal.Zero, AvgLossPercent24h: decimal.Zero}
	}

	stats := LossStats{
		TotalLoss24h:      decimal.Zero,
		TotalLoss48h:      decimal.Zero,
		AvgLossPercent24h: decimal.Zero,
	}
	cutoff24h := now.Add(-24 * time.Hour)

	pctSum24h := decimal.Zero
	for _, ev := range events {
		if !ev.IsLoss() {
			continue
		}

		stats.Losses48h++
		stats.TotalLoss48h = stats.TotalLoss48h.Add(ev.PnL.Abs())

		if ev.ClosedAt.Before(cutoff24h) {
			continue
		}
		stats.Losses24h++
		stats.TotalLoss24h = stats.TotalLoss24h.Add(ev.PnL.Abs())
		pctSum24h = pctSum24h.Add(ev.PnLPercent.Abs())
		if ev.CloseReason == types.CloseReasonTrendReversal {
			stats.HasReversalLoss = true
		}
	}

	if stats.Losses24h > 0 {
		stats.AvgLossPercent24h = pctSum24h.Div(decimalFromInt(stats.Losses24h))
	}

	return stats
}

// CalculatePenalty converts loss stats into penalty points. Pure and
// deterministic.
//
//	+20  any loss in 24h
//	+5/10/15  avg 24h loss percent tier (10 / 15 / 20), highest tier only
//	+20  two or more losses in 48h
//	+15  any 24h loss caused by trend reversal
func CalculatePenalty(stats LossStats) int {
	penalty := 0

	if stats.Losses24h > 0 {
		penalty += 20
	}

	switch {
	case stats.AvgLossPercent24h.GreaterThanOrEqual(decimalFromInt(20)):
		penalty += 15
	case stats.AvgLossPercent24h.GreaterThanOrEqual(decimalFromInt(15)):
		penalty += 10
	case stats.AvgLossPercent24h.GreaterThanOrEqual(decimalFromInt(10)):
		penalty += 5
	}

	if stats.Losses48h >= 2 {
		penalty += 20
	}

	if stats.HasReversalLoss {
		penalty += 15
	}

	return penalty
}

// PenaltyFor is the one-call path used by the opportunity evaluator.
func (s *LossPenaltyScorer) PenaltyFor(symbol string, now time.Time) int {
	penalty := CalculatePenalty(s.GetLossStats(symbol, now))
	metrics.PenaltyApplied.WithLabelValues(symbol).Observe(float64(penalty))
	return penalty
}

func decimalFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}
