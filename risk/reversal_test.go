package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/quantara/leverbot/types"
)

func TestHasReversed(t *testing.T) {
	tests := []struct {
		name    string
		side    string
		entry   string
		current string
		want    bool
	}{
		{"long up to down", types.SideLong, "uptrend_strong", "downtrend_weak", true},
		{"long up to weaker up", types.SideLong, "uptrend_strong", "uptrend_weak", false},
		{"long up to ranging", types.SideLong, "uptrend_weak", "ranging", false},
		{"long entered in downtrend", types.SideLong, "downtrend_weak", "downtrend_strong", false},
		{"short down to up", types.SideShort, "downtrend_strong", "uptrend_weak", true},
		{"short down to deeper down", types.SideShort, "downtrend_weak", "downtrend_strong", false},
		{"short entered in uptrend", types.SideShort, "uptrend_weak", "downtrend_weak", false},
		{"empty entry state is never a reversal", types.SideLong, "", "downtrend_strong", false},
		{"empty current state", types.SideLong, "uptrend_strong", "", false},
		{"unknown side", "flat", "uptrend_strong", "downtrend_strong", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasReversed(tt.side, tt.entry, tt.current); got != tt.want {
				t.Errorf("HasReversed(%q, %q, %q) = %v, want %v",
					tt.side, tt.entry, tt.current, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	check := func(t *testing.T, c *ReversalClassifier, score float64, want Action) {
		t.Helper()
		if got := c.Classify(score); got != want {
			t.Errorf("Classify(%v) = %v, want %v", score, got, want)
		}
	}

	t.Run("default thresholds", func(t *testing.T) {
		c := NewReversalClassifier(DefaultThresholds(), decimal.NewFromInt(2))

		check(t, c, 0, ActionNone)
		check(t, c, 24.9, ActionNone)
		check(t, c, 25, ActionFreezeTrail)
		check(t, c, 39.9, ActionFreezeTrail)
		check(t, c, 40, ActionAdvisoryClose)
		check(t, c, 59.9, ActionAdvisoryClose)
		check(t, c, 60, ActionForceClose)
		check(t, c, 100, ActionForceClose)
	})

	// The previously shipped constant set must still work when configured
	t.Run("legacy thresholds", func(t *testing.T) {
		c := NewReversalClassifier(Thresholds{High: 70, Medium: 50, Low: 30}, decimal.NewFromInt(2))

		check(t, c, 29, ActionNone)
		check(t, c, 30, ActionFreezeTrail)
		check(t, c, 50, ActionAdvisoryClose)
		check(t, c, 69.9, ActionAdvisoryClose)
		check(t, c, 70, ActionForceClose)
	})
}

func TestAdvisoryShouldClose(t *testing.T) {
	c := NewReversalClassifier(DefaultThresholds(), decimal.NewFromFloat(2.0))

	tests := []struct {
		name   string
		pnlPct float64
		want   bool
	}{
		{"profitable", 3.5, true},
		{"flat", 0, true},
		{"small loss", -1.5, true},
		{"loss at boundary", -2.0, true},
		{"loss too large", -2.1, false},
		{"deep loss", -12, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.AdvisoryShouldClose(decimal.NewFromFloat(tt.pnlPct)); got != tt.want {
				t.Errorf("AdvisoryShouldClose(%v) = %v, want %v", tt.pnlPct, got, tt.want)
			}
		})
	}
}

func TestHasReversedSnapshot(t *testing.T) {
	entry := types.MarketStateSnapshot{State: "uptrend_strong"}
	current := types.MarketStateSnapshot{State: "downtrend_weak"}

	if !HasReversedSnapshot(types.SideLong, entry, current) {
		t.Error("expected reversal for long entered in uptrend now in downtrend")
	}
	if HasReversedSnapshot(types.SideLong, types.MarketStateSnapshot{}, current) {
		t.Error("empty entry snapshot must never flag a reversal")
	}
}
