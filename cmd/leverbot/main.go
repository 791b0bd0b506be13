// Leverbot - Position risk and protective-order engine for leveraged futures
//
// The engine guards a leveraged trading loop on three fronts:
// 1. Entry risk: cooldowns and loss penalties per symbol from closed-trade history
// 2. Exit risk: reversal-scored forced exits and trailing stop maintenance
// 3. Order hygiene: the conditional-order ledger reconciled against the venue
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantara/leverbot/bot"
	"github.com/quantara/leverbot/core"
	"github.com/quantara/leverbot/execution"
	"github.com/quantara/leverbot/internal/config"
	"github.com/quantara/leverbot/risk"
	"github.com/quantara/leverbot/storage"
	"github.com/quantara/leverbot/types"
	"github.com/quantara/leverbot/venue"
)

const version = "2.1.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Strs("symbols", cfg.TradingSymbols).
		Bool("dry_run", cfg.DryRun).
		Msg("🛡️ Leverbot risk engine starting...")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// ====== CORE COMPONENTS ======

	// 1. Venue client - protective orders against the futures API
	venueClient := venue.NewClient(cfg.VenueAPIURL, cfg.VenueAPIKey, cfg.VenueAPISecret, cfg.DryRun)

	// 2. Conditional order ledger + reconciler
	ledger := execution.NewLedger(db, venueClient)
	reconciler := execution.NewReconciler(db, db)

	// One-time corrective pass over pre-existing rows before anything
	// starts writing
	repairReport, err := reconciler.RepairAll()
	if err != nil {
		log.Error().Err(err).Msg("Startup ledger repair incomplete")
	}
	if repairReport.DeletedCount > 0 || repairReport.TimestampsNormalized > 0 {
		log.Info().
			Int("duplicates_removed", repairReport.DeletedCount).
			Int64("timestamps_normalized", repairReport.TimestampsNormalized).
			Msg("🧹 Startup ledger repair done")
	}

	// 3. Risk components
	cooldownGate := risk.NewCooldownGate(db)
	scorer := risk.NewLossPenaltyScorer(db)
	riskGate := risk.NewRiskGate(cooldownGate, scorer)

	classifier := risk.NewReversalClassifier(risk.Thresholds{
		High:   cfg.ReversalHighThreshold,
		Medium: cfg.ReversalMediumThreshold,
		Low:    cfg.ReversalLowThreshold,
	}, cfg.AdvisoryMaxLossPct)
	trailing := risk.NewTrailingStopManager(cfg.TrailingStartPct, cfg.TrailingDistancePct)

	// 4. Market analyzer over the venue market data feed
	analyzer := core.NewAnalyzer(cfg.VenueAPIURL)

	// 5. Position monitor - reversal exits and stop maintenance
	monitor := core.NewMonitor(analyzer, classifier, trailing, ledger, venueClient, db, cfg.MonitorInterval)
	monitor.Start()

	// 6. Venue order stream - fills and cancels straight into the ledger
	stream := venue.NewOrderStream(cfg.VenueWSURL, ledger)
	stream.Start()

	// ====== METRICS ======
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Info().Str("addr", cfg.MetricsAddr).Msg("📊 Metrics server listening")
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	// ====== TELEGRAM BOT ======
	var telegramBot *bot.TelegramBot
	if cfg.TelegramToken != "" {
		status := &engineStatus{
			cooldown:   cooldownGate,
			gate:       riskGate,
			db:         db,
			reconciler: reconciler,
			monitor:    monitor,
			symbols:    cfg.TradingSymbols,
		}
		telegramBot, err = bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID, status)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
		}
		telegramBot.Start()
		monitor.SetNotifier(telegramBot)
		riskGate.SetNotifier(telegramBot)
		telegramBot.NotifyRepair(repairReport)
	} else {
		log.Warn().Msg("⚠️ No TELEGRAM_BOT_TOKEN - running without Telegram")
	}

	// 7. Periodic reconciliation of tracked positions against the venue.
	// Started after the bot so pass summaries reach the chat.
	var reconcileNotify reconcileNotifier
	if telegramBot != nil {
		reconcileNotify = telegramBot
	}
	go reconcileLoop(ctx, reconciler, monitor, venueClient, reconcileNotify, cfg.ReconcileInterval)

	// ====== STARTUP COMPLETE ======
	log.Info().Msg("✅ All systems online")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("🛑 Received shutdown signal")
	case <-ctx.Done():
		log.Info().Msg("🛑 Context cancelled")
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down...")

	if telegramBot != nil {
		telegramBot.Stop()
	}
	stream.Stop()
	monitor.Stop()
	cancel()

	log.Info().Msg("👋 Goodbye!")
}

// reconcileNotifier pushes pass summaries to the chat. Satisfied by
// *bot.TelegramBot; nil when running without Telegram.
type reconcileNotifier interface {
	NotifyReconcile(report execution.ReconcileReport)
}

// reconcileLoop periodically re-checks every tracked position's protective
// legs against the venue.
func reconcileLoop(ctx context.Context, reconciler *execution.Reconciler, monitor *core.Monitor,
	venueClient *venue.Client, notify reconcileNotifier, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := reconciler.ReconcileAll(monitor.Tracked(), venueClient.GetOrder)
			if total.Inserted > 0 || total.Failed > 0 {
				log.Info().
					Int("inserted", total.Inserted).
					Int("backfilled", total.Backfilled).
					Int("failed", total.Failed).
					Msg("📥 Periodic reconciliation pass done")
			}
			if notify != nil {
				notify.NotifyReconcile(total)
			}
		}
	}
}

// engineStatus adapts engine internals to the Telegram command surface.
type engineStatus struct {
	cooldown   *risk.CooldownGate
	gate       *risk.RiskGate
	db         *storage.Database
	reconciler *execution.Reconciler
	monitor    *core.Monitor
	symbols    []string
}

func (s *engineStatus) CooldownFor(symbol string, now time.Time) risk.CooldownStatus {
	return s.cooldown.Evaluate(symbol, now)
}

func (s *engineStatus) CheckEntry(symbol string, now time.Time) risk.EntryApproval {
	return s.gate.CanEnter(symbol, now)
}

func (s *engineStatus) ActiveOrders(symbol string) ([]types.ConditionalOrder, error) {
	return s.db.ActiveOrders(symbol)
}

func (s *engineStatus) Symbols() []string {
	return s.symbols
}

func (s *engineStatus) RunRepair() (execution.RepairReport, error) {
	return s.reconciler.RepairAll()
}

func (s *engineStatus) Pause() { s.monitor.Pause() }

func (s *engineStatus) Resume() { s.monitor.Resume() }

func (s *engineStatus) IsPaused() bool { return s.monitor.IsPaused() }
