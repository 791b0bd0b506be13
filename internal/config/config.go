package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the bot
type Config struct {
	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Mode
	DryRun bool
	Debug  bool

	// Symbols monitored for open positions
	TradingSymbols []string

	// Venue API (futures)
	VenueAPIURL    string
	VenueWSURL     string
	VenueAPIKey    string
	VenueAPISecret string

	// Reversal tier thresholds (0-100 score). Two constant sets have
	// shipped historically (70/50/30, then 60/40/25), so these stay
	// tunable rather than hardcoded.
	ReversalHighThreshold   float64
	ReversalMediumThreshold float64
	ReversalLowThreshold    float64

	// Advisory exits close losing positions only below this loss size
	AdvisoryMaxLossPct decimal.Decimal

	// Trailing stops
	TrailingStartPct    decimal.Decimal
	TrailingDistancePct decimal.Decimal

	// Loops
	MonitorInterval   time.Duration
	ReconcileInterval time.Duration

	// Metrics
	MetricsAddr string

	// Database
	DatabasePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Telegram
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		// Mode
		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		// Symbols
		TradingSymbols: splitList(getEnv("TRADING_SYMBOLS", "BTCUSDT")),

		// Venue API
		VenueAPIURL:    getEnv("VENUE_API_URL", "https://fapi.binance.com"),
		VenueWSURL:     getEnv("VENUE_WS_URL", "wss://fstream.binance.com/ws"),
		VenueAPIKey:    os.Getenv("VENUE_API_KEY"),
		VenueAPISecret: os.Getenv("VENUE_API_SECRET"),

		// Reversal thresholds
		ReversalHighThreshold:   getEnvFloat("REVERSAL_HIGH_THRESHOLD", 60),
		ReversalMediumThreshold: getEnvFloat("REVERSAL_MEDIUM_THRESHOLD", 40),
		ReversalLowThreshold:    getEnvFloat("REVERSAL_LOW_THRESHOLD", 25),

		AdvisoryMaxLossPct: getEnvDecimal("ADVISORY_MAX_LOSS_PCT", decimal.NewFromFloat(2.0)),

		// Trailing stops
		TrailingStartPct:    getEnvDecimal("TRAILING_START_PCT", decimal.NewFromFloat(0.05)),
		TrailingDistancePct: getEnvDecimal("TRAILING_DISTANCE_PCT", decimal.NewFromFloat(0.03)),

		// Loops
		MonitorInterval:   getEnvDuration("MONITOR_INTERVAL", 30*time.Second),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 15*time.Minute),

		// Metrics
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		// Database
		DatabasePath: getEnv("DATABASE_PATH", "data/leverbot.db"),
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.ReversalHighThreshold <= cfg.ReversalMediumThreshold ||
		cfg.ReversalMediumThreshold <= cfg.ReversalLowThreshold {
		return nil, fmt.Errorf("reversal thresholds must be strictly ordered high > medium > low")
	}

	if !cfg.DryRun && (cfg.VenueAPIKey == "" || cfg.VenueAPISecret == "") {
		return nil, fmt.Errorf("VENUE_API_KEY and VENUE_API_SECRET are required for live mode")
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
