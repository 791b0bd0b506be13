package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantara/leverbot/execution"
	"github.com/quantara/leverbot/internal/metrics"
	"github.com/quantara/leverbot/risk"
	"github.com/quantara/leverbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION MONITOR - Reversal-driven exits and stop maintenance
// ═══════════════════════════════════════════════════════════════════════════════
//
// Per open position, each tick:
//   1. Compare entry-time market state against the current state
//   2. Classify the continuous reversal score into a tier
//   3. Force close / advisory close / freeze trailing / trail the stop
//
// ═══════════════════════════════════════════════════════════════════════════════

// MarketAnalyzer is the external market-state component.
type MarketAnalyzer interface {
	GetMarketState(symbol string) (types.MarketStateSnapshot, error)
	ReversalScore(symbol, side string) (float64, error)
	MarkPrice(symbol string) (decimal.Decimal, error)
}

// VenueCloser closes positions at the venue.
type VenueCloser interface {
	ClosePosition(symbol, side string, quantity decimal.Decimal) error
}

// EventRecorder appends closed-position events. Satisfied by *storage.Database.
type EventRecorder interface {
	SaveClosedEvent(ev types.ClosedPositionEvent) error
}

// Notifier pushes exit alerts. Optional.
type Notifier interface {
	NotifyForcedExit(symbol, reason string, pnl decimal.Decimal)
}

// Monitor watches tracked positions and applies the reversal policy.
type Monitor struct {
	mu        sync.RWMutex
	positions map[string]*types.Position // by symbol

	analyzer   MarketAnalyzer
	classifier *risk.ReversalClassifier
	trailing   *risk.TrailingStopManager
	ledger     *execution.Ledger
	venue      VenueCloser
	events     EventRecorder
	notifier   Notifier

	interval time.Duration
	running  bool
	paused   bool
	stopCh   chan struct{}
}

// NewMonitor creates the position monitor.
func NewMonitor(analyzer MarketAnalyzer, classifier *risk.ReversalClassifier, trailing *risk.TrailingStopManager,
	ledger *execution.Ledger, venue VenueCloser, events EventRecorder, interval time.Duration) *Monitor {
	return &Monitor{
		positions:  make(map[string]*types.Position),
		analyzer:   analyzer,
		classifier: classifier,
		trailing:   trailing,
		ledger:     ledger,
		venue:      venue,
		events:     events,
		interval:   interval,
	}
}

// SetNotifier wires the optional alert sink.
func (m *Monitor) SetNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// Track registers an open position for monitoring. Called by the entry
// flow after the protective pair is in place.
func (m *Monitor) Track(pos *types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.Symbol] = pos
}

// Untrack removes a position after it closes.
func (m *Monitor) Untrack(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, symbol)
}

// Tracked returns a snapshot of monitored positions.
func (m *Monitor) Tracked() []*types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// Start begins the monitor loop. Safe to call again after Stop: each run
// gets a fresh stop channel.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	go m.loop(stopCh)
	log.Info().Dur("interval", m.interval).Msg("👁️ Position monitor started")
}

// Stop halts the loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
	log.Info().Msg("Position monitor stopped")
}

// Pause suspends position checks without dropping tracked state. Exits and
// stop moves stop; entry gating elsewhere is unaffected.
func (m *Monitor) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.paused {
		m.paused = true
		log.Warn().Msg("⏸️ Position monitor paused")
	}
}

// Resume re-enables position checks.
func (m *Monitor) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		m.paused = false
		log.Info().Msg("▶️ Position monitor resumed")
	}
}

// IsPaused reports the pause state.
func (m *Monitor) IsPaused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

func (m *Monitor) loop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if m.IsPaused() {
				continue
			}
			for _, pos := range m.Tracked() {
				m.checkPosition(pos)
			}
		}
	}
}

func (m *Monitor) checkPosition(pos *types.Position) {
	current, err := m.analyzer.GetMarketState(pos.Symbol)
	if err != nil {
		log.Error().Err(err).Str("symbol", pos.Symbol).Msg("Market state read failed")
		return
	}

	// Hard reversal of the entry thesis closes regardless of score
	if risk.HasReversedSnapshot(pos.Side, pos.EntryState, current) {
		m.closePosition(pos, types.CloseReasonTrendReversal, "hard_reversal")
		return
	}

	score, err := m.analyzer.ReversalScore(pos.Symbol, pos.Side)
	if err != nil {
		log.Error().Err(err).Str("symbol", pos.Symbol).Msg("Reversal score read failed")
		return
	}

	switch m.classifier.Classify(score) {
	case risk.ActionForceClose:
		log.Warn().
			Str("symbol", pos.Symbol).
			Float64("score", score).
			Msg("🚨 Reversal score critical, forcing exit")
		m.closePosition(pos, types.CloseReasonTrendReversal, "force_close")

	case risk.ActionAdvisoryClose:
		pnlPct, ok := m.pnlPercent(pos)
		if !ok {
			return
		}
		if m.classifier.AdvisoryShouldClose(pnlPct) {
			log.Warn().
				Str("symbol", pos.Symbol).
				Float64("score", score).
				Str("pnl_pct", pnlPct.StringFixed(2)).
				Msg("⚠️ Advisory exit taken")
			m.closePosition(pos, types.CloseReasonTrendReversal, "advisory_close")
		} else {
			log.Info().
				Str("symbol", pos.Symbol).
				Float64("score", score).
				Str("pnl_pct", pnlPct.StringFixed(2)).
				Msg("Advisory exit deferred, loss too large to lock in")
		}

	case risk.ActionFreezeTrail:
		m.trailing.Freeze(pos.Symbol)

	case risk.ActionNone:
		m.trailing.Unfreeze(pos.Symbol)
		m.maybeTrailStop(pos)
	}
}

// maybeTrailStop moves the stop through the ledger so the protective pair
// keeps its positionOrderId across the replacement.
func (m *Monitor) maybeTrailStop(pos *types.Position) {
	price, err := m.analyzer.MarkPrice(pos.Symbol)
	if err != nil {
		log.Error().Err(err).Str("symbol", pos.Symbol).Msg("Mark price read failed")
		return
	}

	newStop, move := m.trailing.NextStop(pos, price)
	if !move {
		return
	}

	if _, err := m.ledger.ReplaceProtectivePair(pos.Symbol, newStop, decimal.Zero); err != nil {
		log.Error().Err(err).Str("symbol", pos.Symbol).Msg("Stop move failed")
		return
	}

	pos.StopLoss = newStop
	log.Info().
		Str("symbol", pos.Symbol).
		Str("new_sl", newStop.StringFixed(4)).
		Msg("📐 Trailing stop moved")
}

func (m *Monitor) closePosition(pos *types.Position, reason, tier string) {
	if err := m.venue.ClosePosition(pos.Symbol, pos.Side, pos.Quantity); err != nil {
		log.Error().Err(err).Str("symbol", pos.Symbol).Msg("❌ Forced close failed at venue")
		return
	}

	if err := m.ledger.RetirePair(pos.Symbol); err != nil {
		log.Error().Err(err).Str("symbol", pos.Symbol).Msg("Failed to retire protective pair")
	}

	pnl, pnlPct := decimal.Zero, decimal.Zero
	if price, err := m.analyzer.MarkPrice(pos.Symbol); err == nil {
		pnl, pnlPct = positionPnL(pos, price)
	}

	ev := types.ClosedPositionEvent{
		Symbol:      pos.Symbol,
		PnL:         pnl,
		PnLPercent:  pnlPct,
		CloseReason: reason,
		ClosedAt:    time.Now().UTC(),
	}
	if err := m.events.SaveClosedEvent(ev); err != nil {
		log.Error().Err(err).Str("symbol", pos.Symbol).Msg("Failed to record closed position")
	}

	m.trailing.Forget(pos.Symbol)
	m.Untrack(pos.Symbol)
	metrics.ForcedExits.WithLabelValues(pos.Symbol, tier).Inc()

	m.mu.RLock()
	notifier := m.notifier
	m.mu.RUnlock()
	if notifier != nil {
		notifier.NotifyForcedExit(pos.Symbol, reason, pnl)
	}

	log.Warn().
		Str("symbol", pos.Symbol).
		Str("reason", reason).
		Str("tier", tier).
		Str("pnl", pnl.StringFixed(2)).
		Msg("🛑 Position closed by monitor")
}

func (m *Monitor) pnlPercent(pos *types.Position) (decimal.Decimal, bool) {
	price, err := m.analyzer.MarkPrice(pos.Symbol)
	if err != nil {
		log.Error().Err(err).Str("symbol", pos.Symbol).Msg("Mark price read failed")
		return decimal.Zero, false
	}
	_, pct := positionPnL(pos, price)
	return pct, true
}

// positionPnL computes signed pnl and pnl percent at the given price.
func positionPnL(pos *types.Position, price decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if pos.EntryPrice.IsZero() {
		return decimal.Zero, decimal.Zero
	}

	diff := price.Sub(pos.EntryPrice)
	if pos.Side == types.SideShort {
		diff = diff.Neg()
	}

	pnl := diff.Mul(pos.Quantity)
	pct := diff.Div(pos.EntryPrice).Mul(decimal.NewFromInt(100))
	return pnl, pct
}
