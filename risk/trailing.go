package risk

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantara/leverbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRAILING STOP MANAGER - Moves stops with the market, freezes on warning
// ═══════════════════════════════════════════════════════════════════════════════

// TrailingStopManager computes moved stop prices for open positions. The
// early-warning reversal tier freezes trailing per symbol without closing.
type TrailingStopManager struct {
	mu sync.RWMutex

	startPct    decimal.Decimal // start trailing after this profit fraction
	distancePct decimal.Decimal // trail by this fraction off the water mark

	frozen    map[string]bool            // symbol -> trailing frozen
	waterMark map[string]decimal.Decimal // symbol -> high (long) / low (short)
}

// NewTrailingStopManager creates a trailing manager.
func NewTrailingStopManager(startPct, distancePct decimal.Decimal) *TrailingStopManager {
	return &TrailingStopManager{
		startPct:    startPct,
		distancePct: distancePct,
		frozen:      make(map[string]bool),
		waterMark:   make(map[string]decimal.Decimal),
	}
}

// Freeze stops further trailing for a symbol (early-warning tier).
func (m *TrailingStopManager) Freeze(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.frozen[symbol] {
		m.frozen[symbol] = true
		log.Warn().Str("symbol", symbol).Msg("⚠️ Trailing frozen on reversal warning")
	}
}

// Unfreeze re-enables trailing for a symbol.
func (m *TrailingStopManager) Unfreeze(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.frozen, symbol)
}

// IsFrozen reports the freeze state for a symbol.
func (m *TrailingStopManager) IsFrozen(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frozen[symbol]
}

// Forget clears per-symbol tracking after a position closes.
func (m *TrailingStopManager) Forget(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.frozen, symbol)
	delete(m.waterMark, symbol)
}

// NextStop returns a moved stop price for the position at the current
// price, and whether the stop should move at all.
func (m *TrailingStopManager) NextStop(pos *types.Position, currentPrice decimal.Decimal) (decimal.Decimal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen[pos.Symbol] || pos.EntryPrice.IsZero() {
		return decimal.Zero, false
	}

	one := decimal.NewFromInt(1)

	switch pos.Side {
	case types.SideLong:
		profitPct := currentPrice.Sub(pos.EntryPrice).Div(pos.EntryPrice)
		if profitPct.LessThan(m.startPct) {
			return decimal.Zero, false
		}
		high, ok := m.waterMark[pos.Symbol]
		if !ok || currentPrice.GreaterThan(high) {
			high = currentPrice
			m.waterMark[pos.Symbol] = high
		}
		newSL := high.Mul(one.Sub(m.distancePct))
		if newSL.GreaterThan(pos.StopLoss) {
			return newSL, true
		}

	case types.SideShort:
		profitPct := pos.EntryPrice.Sub(currentPrice).Div(pos.EntryPrice)
		if profitPct.LessThan(m.startPct) {
			return decimal.Zero, false
		}
		low, ok := m.waterMark[pos.Symbol]
		if !ok || currentPrice.LessThan(low) {
			low = currentPrice
			m.waterMark[pos.Symbol] = low
		}
		newSL := low.Mul(one.Add(m.distancePct))
		if newSL.LessThan(pos.StopLoss) {
			return newSL, true
		}
	}

	return decimal.Zero, false
}
