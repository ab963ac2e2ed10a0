// Package notify delivers trade notifications and a small control surface
// over Telegram.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/yeouido/trader/bus"
	"github.com/yeouido/trader/internal/config"
	"github.com/yeouido/trader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM NOTIFIER - Trade alerts & control commands
// ═══════════════════════════════════════════════════════════════════════════════

// Notifier consumes the trade-notification stream and pushes formatted alerts
// to the configured chat. It also answers a few control commands.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	rdb    *redis.Client
}

// NewNotifier connects to the Telegram API.
func NewNotifier(cfg config.TelegramConfig, rdb *redis.Client) (*Notifier, error) {
	if cfg.BotToken == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram bot token and chat id are required")
	}
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("🤖 telegram notifier initialized")
	return &Notifier{api: api, chatID: cfg.ChatID, rdb: rdb}, nil
}

// Run consumes trade notifications and handles commands until cancelled.
func (n *Notifier) Run(ctx context.Context) {
	consumer := bus.NewConsumer[types.TradeNotification](
		n.rdb, bus.StreamNotifications, bus.GroupNotifier, "notifier-1", n.HandleNotification)

	go n.commandLoop(ctx)
	consumer.Run(ctx)
}

// HandleNotification formats and sends one executed trade.
func (n *Notifier) HandleNotification(_ context.Context, msg types.TradeNotification) {
	n.sendMarkdown(FormatTrade(msg))
}

// FormatTrade renders the alert text for one notification.
func FormatTrade(t types.TradeNotification) string {
	var b strings.Builder

	if t.TradeType == types.TradeBuy {
		b.WriteString("✅ *BUY EXECUTED*\n")
	} else if t.ProfitPct >= 0 {
		b.WriteString("💰 *SELL EXECUTED*\n")
	} else {
		b.WriteString("🛑 *SELL EXECUTED*\n")
	}
	if t.DryRun {
		b.WriteString("🧪 _dry run_\n")
	}

	fmt.Fprintf(&b, "\n📊 *%s* (%s)\n", t.StockName, t.StockCode)
	b.WriteString("━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "📦 Qty: *%d*\n", t.Quantity)
	fmt.Fprintf(&b, "💵 Price: *%s원*\n", formatWon(t.Price))
	fmt.Fprintf(&b, "💳 Total: *%s원*\n", formatWon(t.TotalAmount))

	if t.TradeType == types.TradeBuy {
		if t.Signal != "" {
			fmt.Fprintf(&b, "🎯 Signal: *%s*\n", t.Signal)
		}
	} else {
		if t.Reason != "" {
			fmt.Fprintf(&b, "📝 Reason: *%s*\n", t.Reason)
		}
		sign := "+"
		if t.ProfitPct < 0 {
			sign = ""
		}
		fmt.Fprintf(&b, "📈 P&L: *%s%.2f%%*\n", sign, t.ProfitPct)
	}

	b.WriteString("━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "🧾 Order: `%s`", t.OrderNo)
	return b.String()
}

// formatWon renders an integral KRW amount with thousands separators.
func formatWon(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%d", v)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
		if len(s) > lead {
			b.WriteByte(',')
		}
	}
	for i := lead; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

// ─── Control commands ──────────────────────────────────────────────────────────

func (n *Notifier) commandLoop(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := n.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			n.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Chat.ID != n.chatID {
				continue
			}
			n.handleCommand(ctx, update.Message)
		}
	}
}

func (n *Notifier) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch strings.ToLower(msg.Command()) {
	case "start", "help":
		n.sendMarkdown("🤖 *TRADER COMMANDS*\n━━━━━━━━━━━━━━━━\n\n📊 /status — flags and monitor heartbeat\n⏸ /pause — pause signal detection\n▶️ /resume — resume signal detection\n🛑 /stop — emergency stop (blocks all buys and sells)\n🟢 /go — clear the emergency stop\n🏓 /ping — test connection")
	case "status":
		n.cmdStatus(ctx)
	case "pause":
		n.rdb.Set(ctx, bus.KeyPaused, "1", 0)
		n.send("⏸ Signal detection paused")
		log.Info().Msg("trading paused via telegram")
	case "resume":
		n.rdb.Del(ctx, bus.KeyPaused)
		n.send("▶️ Signal detection resumed")
		log.Info().Msg("trading resumed via telegram")
	case "stop":
		n.rdb.Set(ctx, bus.KeyEmergencyStop, "1", 0)
		n.send("🛑 EMERGENCY STOP set")
		log.Warn().Msg("emergency stop set via telegram")
	case "go":
		n.rdb.Del(ctx, bus.KeyEmergencyStop)
		n.send("🟢 Emergency stop cleared")
		log.Info().Msg("emergency stop cleared via telegram")
	case "ping":
		n.send("🏓 Pong!")
	default:
		n.send("❓ Unknown command. Use /help")
	}
}

func (n *Notifier) cmdStatus(ctx context.Context) {
	stopped := bus.FlagSet(ctx, n.rdb, bus.KeyEmergencyStop)
	paused := bus.FlagSet(ctx, n.rdb, bus.KeyPaused)
	dryrun := bus.FlagSet(ctx, n.rdb, bus.KeyDryRunFlag)

	heartbeat := "offline"
	if raw, err := n.rdb.Get(ctx, bus.KeyMonitorStatus).Result(); err == nil && raw != "" {
		heartbeat = "online"
	}

	flag := func(v bool) string {
		if v {
			return "🔴 ON"
		}
		return "⚪ off"
	}

	n.sendMarkdown(fmt.Sprintf(`📊 *SYSTEM STATUS*
━━━━━━━━━━━━━━━━

🛑 Emergency stop: %s
⏸ Paused: %s
🧪 Dry run: %s
📡 Monitor: *%s*

_%s_`,
		flag(stopped), flag(paused), flag(dryrun), heartbeat,
		time.Now().Format("2006-01-02 15:04:05")))
}

func (n *Notifier) send(text string) {
	if _, err := n.api.Send(tgbotapi.NewMessage(n.chatID, text)); err != nil {
		log.Error().Err(err).Msg("telegram send failed")
	}
}

func (n *Notifier) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := n.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("telegram send failed")
	}
}
