package bot

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantara/leverbot/execution"
	"github.com/quantara/leverbot/risk"
	"github.com/quantara/leverbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Risk engine notifications & control
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   🧊 Cooldown alerts per symbol
//   🛑 Forced-exit notifications
//   🧹 Reconciliation / repair summaries
//   🎛️ Control commands (/status, /cooldowns, /orders, /repair, /ping)
//
// ═══════════════════════════════════════════════════════════════════════════════

// StatusProvider exposes engine state for commands.
type StatusProvider interface {
	CooldownFor(symbol string, now time.Time) risk.CooldownStatus
	CheckEntry(symbol string, now time.Time) risk.EntryApproval
	ActiveOrders(symbol string) ([]types.ConditionalOrder, error)
	Symbols() []string
	RunRepair() (execution.RepairReport, error)
	Pause()
	Resume()
	IsPaused() bool
}

// TelegramBot manages the Telegram interface.
type TelegramBot struct {
	mu      sync.RWMutex
	api     *tgbotapi.BotAPI
	chatID  int64
	running bool
	stopCh  chan struct{}

	status StatusProvider
}

// NewTelegramBot creates a new Telegram bot.
func NewTelegramBot(token string, chatID int64, status StatusProvider) (*TelegramBot, error) {
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN not set")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	bot := &TelegramBot{
		api:    api,
		chatID: chatID,
		status: status,
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")
	return bot, nil
}

// Start begins listening for commands. Safe to call again after Stop:
// each run gets a fresh stop channel.
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	stopCh := b.stopCh
	b.mu.Unlock()

	go b.commandLoop(stopCh)
	log.Info().Msg("📱 Telegram bot started")
}

// Stop stops the bot.
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	b.running = false
	close(b.stopCh)
	log.Info().Msg("Telegram bot stopped")
}

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// NotifyCooldown alerts that a symbol just entered cooldown.
func (b *TelegramBot) NotifyCooldown(symbol string, status risk.CooldownStatus) {
	msg := fmt.Sprintf(`🧊 *COOLDOWN ACTIVE*

📊 %s
📝 %s
⏱️ %.1fh remaining (until %s)`,
		symbol,
		status.Reason,
		status.RemainingHours,
		status.CooldownUntil.UTC().Format("Jan 2 15:04"),
	)
	b.sendMarkdown(msg)
}

// NotifyForcedExit alerts a reversal-driven close.
func (b *TelegramBot) NotifyForcedExit(symbol, reason string, pnl decimal.Decimal) {
	emoji := "📈"
	sign := "+"
	if pnl.IsNegative() {
		emoji = "📉"
		sign = ""
	}

	msg := fmt.Sprintf(`🛑 *POSITION CLOSED*

📊 %s
📝 Reason: %s
%s P&L: *%s$%s*`,
		symbol, reason,
		emoji, sign, pnl.StringFixed(2),
	)
	b.sendMarkdown(msg)
}

// NotifyRepair reports a ledger repair pass.
func (b *TelegramBot) NotifyRepair(report execution.RepairReport) {
	if report.DeletedCount == 0 && report.TimestampsNormalized == 0 {
		return
	}
	msg := fmt.Sprintf(`🧹 *LEDGER REPAIR*

🗑️ Duplicates removed: *%d*
🕐 Timestamps normalized: *%d*`,
		report.DeletedCount,
		report.TimestampsNormalized,
	)
	b.sendMarkdown(msg)
}

// NotifyReconcile reports a reconciliation pass that changed anything.
func (b *TelegramBot) NotifyReconcile(report execution.ReconcileReport) {
	if report.Inserted == 0 && report.Failed == 0 {
		return
	}
	msg := fmt.Sprintf(`📥 *RECONCILIATION*

➕ Inserted: *%d*
🔗 Backfilled: *%d*
❌ Failed: *%d*`,
		report.Inserted, report.Backfilled, report.Failed,
	)
	b.sendMarkdown(msg)
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) commandLoop(stopCh <-chan struct{}) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-stopCh:
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Chat.ID != b.chatID {
				continue
			}
			b.handleCommand(update.Message)
		}
	}
}

func (b *TelegramBot) handleCommand(msg *tgbotapi.Message) {
	switch strings.ToLower(msg.Command()) {
	case "start", "help":
		b.cmdHelp()
	case "status":
		b.cmdStatus()
	case "cooldowns":
		b.cmdCooldowns()
	case "orders":
		b.cmdOrders(msg.CommandArguments())
	case "check":
		b.cmdCheck(msg.CommandArguments())
	case "repair":
		b.cmdRepair()
	case "pause":
		b.status.Pause()
		b.send("⏸️ Position monitoring paused")
	case "resume":
		b.status.Resume()
		b.send("▶️ Position monitoring resumed")
	case "ping":
		b.send("🏓 Pong!")
	default:
		b.send("❓ Unknown command. Use /help")
	}
}

func (b *TelegramBot) cmdHelp() {
	msg := `🤖 *LEVERBOT COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status — Engine status
🧊 /cooldowns — Cooldown state per symbol
📜 /orders <symbol> — Active protective legs
🚦 /check <symbol> — Entry approval and penalty
🧹 /repair — Run ledger repair
⏸️ /pause — Pause position monitoring
▶️ /resume — Resume position monitoring
🏓 /ping — Test connection`

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdStatus() {
	symbols := b.status.Symbols()
	blocked := 0
	now := time.Now().UTC()
	for _, s := range symbols {
		if b.status.CooldownFor(s, now).InCooldown {
			blocked++
		}
	}

	state := "🟢 RUNNING"
	if b.status.IsPaused() {
		state = "⏸️ PAUSED"
	}

	msg := fmt.Sprintf(`📊 *ENGINE STATUS*
━━━━━━━━━━━━━━━━━━━━

%s
📈 Symbols: *%d*
🧊 In cooldown: *%d*`,
		state, len(symbols), blocked,
	)
	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdCooldowns() {
	now := time.Now().UTC()
	lines := make([]string, 0)
	for _, s := range b.status.Symbols() {
		status := b.status.CooldownFor(s, now)
		if status.InCooldown {
			lines = append(lines, fmt.Sprintf("🧊 %s — %s (%.1fh left)", s, status.Reason, status.RemainingHours))
		}
	}

	if len(lines) == 0 {
		b.send("✅ No symbols in cooldown")
		return
	}
	b.send(strings.Join(lines, "\n"))
}

func (b *TelegramBot) cmdOrders(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		b.send("Usage: /orders <symbol>")
		return
	}

	orders, err := b.status.ActiveOrders(symbol)
	if err != nil {
		b.send("❌ Failed to fetch orders")
		return
	}
	if len(orders) == 0 {
		b.send("📭 No active protective legs for " + symbol)
		return
	}

	msg := "📜 *ACTIVE LEGS — " + symbol + "*\n━━━━━━━━━━━━━━━━━━━━\n\n"
	for _, o := range orders {
		emoji := "🛑"
		if o.LegType == types.LegTakeProfit {
			emoji = "🎯"
		}
		msg += fmt.Sprintf("%s %s @ %s (qty %s)\n   _entry order %s_\n\n",
			emoji, o.LegType,
			o.TriggerPrice.StringFixed(4),
			o.Quantity.StringFixed(4),
			o.PositionOrderID,
		)
	}
	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdCheck(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		b.send("Usage: /check <symbol>")
		return
	}

	approval := b.status.CheckEntry(symbol, time.Now().UTC())
	if !approval.Approved {
		b.sendMarkdown(fmt.Sprintf(`🚫 *ENTRY BLOCKED — %s*

📝 %s
⏱️ %.1fh remaining`,
			symbol, approval.RejectionMsg, approval.Cooldown.RemainingHours))
		return
	}

	b.sendMarkdown(fmt.Sprintf(`✅ *ENTRY ALLOWED — %s*

⚖️ Score penalty: *-%d*
📉 Losses 24h/48h: %d / %d`,
		symbol, approval.ScorePenalty,
		approval.Stats.Losses24h, approval.Stats.Losses48h))
}

func (b *TelegramBot) cmdRepair() {
	report, err := b.status.RunRepair()
	if err != nil {
		b.send("❌ Repair failed: " + err.Error())
		return
	}
	b.send(fmt.Sprintf("🧹 Repair done: %d duplicates removed, %d timestamps normalized",
		report.DeletedCount, report.TimestampsNormalized))
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
