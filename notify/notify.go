// Package notify sends Telegram messages for trading events and answers
// a small set of operator commands. Built without a token it is disabled
// and every call is a no-op.
package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"perp-agent/logger"
)

// Commands are the operator actions the bot can trigger. Any nil
// callback makes the matching command reply with a shrug instead.
type Commands struct {
	Status func() string
	Pause  func() error
	Resume func() error
}

// Notifier pushes event messages to one chat and listens for commands
// from that same chat. Messages from other chats are ignored.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	cmds   Commands
	log    zerolog.Logger
	stopCh chan struct{}
}

// New connects the bot. An empty token or zero chat ID yields a
// disabled notifier and no error.
func New(token string, chatID int64, cmds Commands) (*Notifier, error) {
	n := &Notifier{
		chatID: chatID,
		cmds:   cmds,
		log:    logger.Component("notify"),
		stopCh: make(chan struct{}),
	}
	if token == "" || chatID == 0 {
		return n, nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	n.api = api
	n.log.Info().Str("username", api.Self.UserName).Msg("Telegram bot connected")
	return n, nil
}

// Enabled reports whether messages will actually be sent.
func (n *Notifier) Enabled() bool {
	return n != nil && n.api != nil
}

// Start launches the command listener.
func (n *Notifier) Start() {
	if !n.Enabled() {
		return
	}
	go n.listen()
}

// Stop ends the command listener.
func (n *Notifier) Stop() {
	if !n.Enabled() {
		return
	}
	close(n.stopCh)
	n.api.StopReceivingUpdates()
}

func (n *Notifier) listen() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := n.api.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Chat.ID != n.chatID {
				continue
			}
			n.handleCommand(update.Message.Command())
		case <-n.stopCh:
			return
		}
	}
}

func (n *Notifier) handleCommand(cmd string) {
	switch cmd {
	case "ping":
		n.send("pong")
	case "status":
		if n.cmds.Status == nil {
			n.send("status unavailable")
			return
		}
		n.send(n.cmds.Status())
	case "pause":
		n.runControl("pause", n.cmds.Pause, "⏸ Trading paused")
	case "resume":
		n.runControl("resume", n.cmds.Resume, "▶️ Trading resumed")
	default:
		n.send("Unknown command. Available: /status /pause /resume /ping")
	}
}

func (n *Notifier) runControl(name string, fn func() error, ack string) {
	if fn == nil {
		n.send(name + " unavailable")
		return
	}
	if err := fn(); err != nil {
		n.send(fmt.Sprintf("❌ %s failed: %v", name, err))
		return
	}
	n.send(ack)
}

// Startup announces the bot coming online.
func (n *Notifier) Startup(mode string, balance float64, coins []string) {
	n.send(fmt.Sprintf(`🟢 *Trading bot online*

Mode: %s
Balance: $%.2f
Coins: %s`, mode, balance, strings.Join(coins, ", ")))
}

// TradeOpened announces a filled entry.
func (n *Notifier) TradeOpened(coin, side string, quantityUSD, leverage, price float64) {
	emoji := "📈"
	if side == "short" {
		emoji = "📉"
	}
	n.send(fmt.Sprintf(`%s *Opened %s %s*

Size: $%.2f at %gx
Price: $%s`, emoji, strings.ToUpper(side), coin, quantityUSD, leverage, formatPrice(price)))
}

// TradeClosed announces a closed position with its realized result.
func (n *Notifier) TradeClosed(coin string, price, pnl float64) {
	result := fmt.Sprintf("✅ +$%.2f", pnl)
	if pnl < 0 {
		result = fmt.Sprintf("❌ -$%.2f", -pnl)
	}
	n.send(fmt.Sprintf(`🔔 *Closed %s*

Price: $%s
Realized: %s`, coin, formatPrice(price), result))
}

// Liquidated announces a paper position forcibly closed at its
// liquidation price.
func (n *Notifier) Liquidated(coin string, pnl float64) {
	n.send(fmt.Sprintf(`⚠️ *LIQUIDATED %s*

Realized: -$%.2f`, coin, -pnl))
}

// CycleError reports a failed trading cycle.
func (n *Notifier) CycleError(err error) {
	n.send(fmt.Sprintf("🚨 Cycle error: %v", err))
}

// Paused and Resumed acknowledge state changes made outside Telegram.
func (n *Notifier) Paused()  { n.send("⏸ Trading paused") }
func (n *Notifier) Resumed() { n.send("▶️ Trading resumed") }

func (n *Notifier) send(text string) {
	if !n.Enabled() {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "Markdown"
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		n.log.Warn().Err(err).Msg("failed to send Telegram message")
	}
}

func formatPrice(price float64) string {
	if price >= 100 {
		return fmt.Sprintf("%.2f", price)
	}
	return fmt.Sprintf("%.4f", price)
}
