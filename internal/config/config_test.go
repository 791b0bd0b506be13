package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cfg.DryRun {
		t.Error("DryRun must default to true")
	}
	if len(cfg.TradingSymbols) != 1 || cfg.TradingSymbols[0] != "BTCUSDT" {
		t.Errorf("TradingSymbols = %v", cfg.TradingSymbols)
	}
	if cfg.ReversalHighThreshold != 60 || cfg.ReversalMediumThreshold != 40 || cfg.ReversalLowThreshold != 25 {
		t.Errorf("thresholds = %v/%v/%v, want 60/40/25",
			cfg.ReversalHighThreshold, cfg.ReversalMediumThreshold, cfg.ReversalLowThreshold)
	}
	if cfg.MonitorInterval != 30*time.Second {
		t.Errorf("MonitorInterval = %v", cfg.MonitorInterval)
	}
}

func TestLoadSymbolList(t *testing.T) {
	t.Setenv("TRADING_SYMBOLS", "BTCUSDT, ETHUSDT ,SOLUSDT,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	if len(cfg.TradingSymbols) != len(want) {
		t.Fatalf("symbols = %v, want %v", cfg.TradingSymbols, want)
	}
	for i, s := range want {
		if cfg.TradingSymbols[i] != s {
			t.Errorf("symbol[%d] = %q, want %q", i, cfg.TradingSymbols[i], s)
		}
	}
}

func TestLoadLegacyThresholds(t *testing.T) {
	t.Setenv("REVERSAL_HIGH_THRESHOLD", "70")
	t.Setenv("REVERSAL_MEDIUM_THRESHOLD", "50")
	t.Setenv("REVERSAL_LOW_THRESHOLD", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ReversalHighThreshold != 70 || cfg.ReversalMediumThreshold != 50 || cfg.ReversalLowThreshold != 30 {
		t.Error("legacy threshold set must load unchanged")
	}
}

func TestLoadRejectsUnorderedThresholds(t *testing.T) {
	t.Setenv("REVERSAL_HIGH_THRESHOLD", "40")
	t.Setenv("REVERSAL_MEDIUM_THRESHOLD", "40")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-ordered thresholds")
	}
}

func TestLiveModeRequiresKeys(t *testing.T) {
	t.Setenv("DRY_RUN", "false")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for live mode without API keys")
	}
}
