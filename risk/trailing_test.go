package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/quantara/leverbot/types"
)

func longPosition() *types.Position {
	return &types.Position{
		Symbol:     "BTCUSDT",
		Side:       types.SideLong,
		EntryPrice: decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(95),
	}
}

func TestTrailingStartsOnlyAfterProfit(t *testing.T) {
	m := NewTrailingStopManager(decimal.NewFromFloat(0.05), decimal.NewFromFloat(0.03))
	pos := longPosition()

	// +2% is below the 5% start threshold
	if _, move := m.NextStop(pos, decimal.NewFromInt(102)); move {
		t.Error("stop must not trail before the start threshold")
	}

	// +10% starts trailing: stop = 110 * 0.97 = 106.7
	newSL, move := m.NextStop(pos, decimal.NewFromInt(110))
	if !move {
		t.Fatal("expected stop to trail at +10%")
	}
	if want := decimal.NewFromFloat(106.7); !newSL.Equal(want) {
		t.Errorf("newSL = %s, want %s", newSL, want)
	}
}

func TestTrailingUsesHighWaterMark(t *testing.T) {
	m := NewTrailingStopManager(decimal.NewFromFloat(0.05), decimal.NewFromFloat(0.03))
	pos := longPosition()

	newSL, move := m.NextStop(pos, decimal.NewFromInt(110))
	if !move {
		t.Fatal("expected initial trail")
	}
	pos.StopLoss = newSL

	// Pullback below the high: mark stays at 110, stop does not retreat
	if _, move := m.NextStop(pos, decimal.NewFromInt(108)); move {
		t.Error("stop must never move down on a pullback")
	}

	// New high moves the stop further up
	newSL, move = m.NextStop(pos, decimal.NewFromInt(120))
	if !move {
		t.Fatal("expected trail on new high")
	}
	if want := decimal.NewFromFloat(116.4); !newSL.Equal(want) {
		t.Errorf("newSL = %s, want %s", newSL, want)
	}
}

func TestTrailingShortSide(t *testing.T) {
	m := NewTrailingStopManager(decimal.NewFromFloat(0.05), decimal.NewFromFloat(0.03))
	pos := &types.Position{
		Symbol:     "ETHUSDT",
		Side:       types.SideShort,
		EntryPrice: decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(105),
	}

	// -10% move in the short's favor: stop = 90 * 1.03 = 92.7
	newSL, move := m.NextStop(pos, decimal.NewFromInt(90))
	if !move {
		t.Fatal("expected short stop to trail")
	}
	if want := decimal.NewFromFloat(92.7); !newSL.Equal(want) {
		t.Errorf("newSL = %s, want %s", newSL, want)
	}
}

func TestTrailingFreeze(t *testing.T) {
	m := NewTrailingStopManager(decimal.NewFromFloat(0.05), decimal.NewFromFloat(0.03))
	pos := longPosition()

	m.Freeze(pos.Symbol)
	if !m.IsFrozen(pos.Symbol) {
		t.Fatal("expected frozen state")
	}
	if _, move := m.NextStop(pos, decimal.NewFromInt(120)); move {
		t.Error("frozen symbol must not trail")
	}

	m.Unfreeze(pos.Symbol)
	if _, move := m.NextStop(pos, decimal.NewFromInt(120)); !move {
		t.Error("expected trailing to resume after unfreeze")
	}
}

func TestTrailingForgetClearsState(t *testing.T) {
	m := NewTrailingStopManager(decimal.NewFromFloat(0.05), decimal.NewFromFloat(0.03))
	pos := longPosition()

	if _, move := m.NextStop(pos, decimal.NewFromInt(120)); !move {
		t.Fatal("expected trail")
	}
	m.Freeze(pos.Symbol)
	m.Forget(pos.Symbol)

	if m.IsFrozen(pos.Symbol) {
		t.Error("Forget must clear the freeze")
	}
	// Water mark reset: a lower high on the next position still trails
	newSL, move := m.NextStop(pos, decimal.NewFromInt(110))
	if !move {
		t.Fatal("expected trail against fresh water mark")
	}
	if want := decimal.NewFromFloat(106.7); !newSL.Equal(want) {
		t.Errorf("newSL = %s, want %s", newSL, want)
	}
}
