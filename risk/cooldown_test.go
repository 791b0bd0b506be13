package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantara/leverbot/types"
)

// fakeEventSource serves canned closed-position events, most recent first.
type fakeEventSource struct {
	events []types.ClosedPositionEvent
	err    error
}

func (f *fakeEventSource) ClosedEventsSince(symbol string, since time.Time) ([]types.ClosedPositionEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]types.ClosedPositionEvent, 0, len(f.events))
	for _, ev := range f.events {
		if ev.Symbol == symbol && !ev.ClosedAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func loss(symbol string, pnl, pct float64, reason string, closedAt time.Time) types.ClosedPositionEvent {
	return types.ClosedPositionEvent{
		Symbol:      symbol,
		PnL:         decimal.NewFromFloat(pnl),
		PnLPercent:  decimal.NewFromFloat(pct),
		CloseReason: reason,
		ClosedAt:    closedAt,
	}
}

func TestCooldownSevereLoss(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	closedAt := now.Add(-2 * time.Hour)

	gate := NewCooldownGate(&fakeEventSource{events: []types.ClosedPositionEvent{
		loss("AVAXUSDT", -90, -18, types.CloseReasonStopLoss, closedAt),
	}})

	status := gate.Evaluate("AVAXUSDT", now)
	if !status.InCooldown {
		t.Fatal("expected severe loss cooldown")
	}
	if status.Rule != "severe_loss" {
		t.Errorf("rule = %q, want severe_loss", status.Rule)
	}
	if want := closedAt.Add(12 * time.Hour); !status.CooldownUntil.Equal(want) {
		t.Errorf("until = %v, want %v", status.CooldownUntil, want)
	}
	if status.RemainingHours != 10.0 {
		t.Errorf("remaining = %v, want 10.0", status.RemainingHours)
	}
}

func TestCooldownRemainingHoursRoundsUp(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	// 11h59m left of a 12h window rounds up to 12.0, never down
	closedAt := now.Add(-1 * time.Minute)

	gate := NewCooldownGate(&fakeEventSource{events: []types.ClosedPositionEvent{
		loss("BTCUSDT", -200, -16, types.CloseReasonStopLoss, closedAt),
	}})

	status := gate.Evaluate("BTCUSDT", now)
	if !status.InCooldown {
		t.Fatal("expected cooldown")
	}
	if status.RemainingHours != 12.0 {
		t.Errorf("remaining = %v, want 12.0", status.RemainingHours)
	}
}

func TestCooldownRepeatedLosses(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	gate := NewCooldownGate(&fakeEventSource{events: []types.ClosedPositionEvent{
		loss("ETHUSDT", -30, -3, types.CloseReasonStopLoss, now.Add(-1*time.Hour)),
		loss("ETHUSDT", -25, -2, types.CloseReasonStopLoss, now.Add(-5*time.Hour)),
	}})

	status := gate.Evaluate("ETHUSDT", now)
	if !status.InCooldown {
		t.Fatal("expected repeated-loss cooldown")
	}
	if status.Rule != "repeated_losses" {
		t.Errorf("rule = %q, want repeated_losses", status.Rule)
	}
	if want := now.Add(-1 * time.Hour).Add(24 * time.Hour); !status.CooldownUntil.Equal(want) {
		t.Errorf("until = %v, want %v", status.CooldownUntil, want)
	}
}

func TestCooldownReversalLoss(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	gate := NewCooldownGate(&fakeEventSource{events: []types.ClosedPositionEvent{
		loss("SOLUSDT", -12, -1.5, types.CloseReasonTrendReversal, now.Add(-2*time.Hour)),
	}})

	status := gate.Evaluate("SOLUSDT", now)
	if !status.InCooldown {
		t.Fatal("expected reversal-loss cooldown")
	}
	if status.Rule != "reversal_loss" {
		t.Errorf("rule = %q, want reversal_loss", status.Rule)
	}
	if want := now.Add(-2 * time.Hour).Add(6 * time.Hour); !status.CooldownUntil.Equal(want) {
		t.Errorf("until = %v, want %v", status.CooldownUntil, want)
	}
}

func TestCooldownExpires(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// Severe loss 13h ago: the 12h window has passed
	gate := NewCooldownGate(&fakeEventSource{events: []types.ClosedPositionEvent{
		loss("BTCUSDT", -150, -17, types.CloseReasonStopLoss, now.Add(-13*time.Hour)),
	}})

	if status := gate.Evaluate("BTCUSDT", now); status.InCooldown {
		t.Errorf("expected expired cooldown, got rule %q", status.Rule)
	}
}

func TestCooldownIgnoresWins(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	gate := NewCooldownGate(&fakeEventSource{events: []types.ClosedPositionEvent{
		{Symbol: "BTCUSDT", PnL: decimal.NewFromFloat(50), PnLPercent: decimal.NewFromFloat(5),
			CloseReason: types.CloseReasonTakeProfit, ClosedAt: now.Add(-1 * time.Hour)},
		{Symbol: "BTCUSDT", PnL: decimal.NewFromFloat(80), PnLPercent: decimal.NewFromFloat(8),
			CloseReason: types.CloseReasonTakeProfit, ClosedAt: now.Add(-3 * time.Hour)},
	}})

	if status := gate.Evaluate("BTCUSDT", now); status.InCooldown {
		t.Error("wins must never trigger a cooldown")
	}
}

func TestCooldownFailsOpen(t *testing.T) {
	gate := NewCooldownGate(&fakeEventSource{err: errors.New("db down")})

	if status := gate.Evaluate("BTCUSDT", time.Now().UTC()); status.InCooldown {
		t.Error("store failure must fail open")
	}
}
