package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantara/leverbot/types"
)

func newIdleMonitor() *Monitor {
	// Hour-long interval: the loop never ticks inside a test run.
	return NewMonitor(nil, nil, nil, nil, nil, nil, time.Hour)
}

func TestMonitorTracking(t *testing.T) {
	m := newIdleMonitor()

	m.Track(&types.Position{Symbol: "BTCUSDT", Side: types.SideLong, Quantity: decimal.NewFromInt(1)})
	m.Track(&types.Position{Symbol: "ETHUSDT", Side: types.SideShort, Quantity: decimal.NewFromInt(2)})

	if got := len(m.Tracked()); got != 2 {
		t.Fatalf("tracked = %d, want 2", got)
	}

	m.Untrack("BTCUSDT")
	tracked := m.Tracked()
	if len(tracked) != 1 || tracked[0].Symbol != "ETHUSDT" {
		t.Errorf("tracked after untrack = %+v", tracked)
	}
}

func TestMonitorPauseResume(t *testing.T) {
	m := newIdleMonitor()

	if m.IsPaused() {
		t.Fatal("new monitor should not be paused")
	}
	m.Pause()
	if !m.IsPaused() {
		t.Error("monitor should be paused")
	}
	m.Resume()
	if m.IsPaused() {
		t.Error("monitor should be resumed")
	}
}

func TestMonitorRestart(t *testing.T) {
	m := newIdleMonitor()

	m.Start()
	m.Stop()

	// A second start/stop cycle must get a fresh loop, not a closed
	// channel left over from the first.
	m.Start()
	m.Stop()

	// Redundant calls in either state stay no-ops.
	m.Stop()
	m.Start()
	m.Start()
	m.Stop()
}
