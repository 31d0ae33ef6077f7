package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/richard-senior/kicktipp/internal/logger"
	"github.com/richard-senior/kicktipp/pkg/tipp"
)

// Min interval between two messages to the same chat, telegram answers 429 above ~30/min
const sendInterval = 2 * time.Second

// Config of the outcome notifier. An empty token disables it.
type Config struct {
	TelegramToken string `yaml:"telegram_token"`
	ChatID        int64  `yaml:"chat_id"`
	// OnlyProblems suppresses messages for submitted and closed matchdays
	OnlyProblems bool `yaml:"only_problems"`
}

func (c Config) Enabled() bool {
	return c.TelegramToken != ""
}

func (c Config) Validate() error {
	if c.Enabled() && c.ChatID == 0 {
		return fmt.Errorf("notify chat_id is required with a telegram token")
	}
	return nil
}

// sender is the part of tgbotapi.BotAPI we use
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts a short summary of every matchday to one chat.
// It implements tipp.Notifier.
type Telegram struct {
	bot          sender
	chatID       int64
	onlyProblems bool

	mu       sync.Mutex
	lastSend time.Time
	interval time.Duration
}

var _ tipp.Notifier = (*Telegram)(nil)

// NewTelegram connects to the bot api and checks the token
func NewTelegram(cfg Config) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = false
	logger.Info(fmt.Sprintf("Telegram notifier initialized as @%s for chat %d", bot.Self.UserName, cfg.ChatID))
	return newTelegram(bot, cfg), nil
}

func newTelegram(bot sender, cfg Config) *Telegram {
	return &Telegram{bot: bot, chatID: cfg.ChatID, onlyProblems: cfg.OnlyProblems, interval: sendInterval}
}

// Notify sends one message per outcome, waiting out the send interval
func (t *Telegram) Notify(ctx context.Context, outcome tipp.MatchdayOutcome) error {
	if t.onlyProblems && !Problem(outcome) {
		return nil
	}
	msg := tgbotapi.NewMessage(t.chatID, Format(outcome))
	msg.DisableWebPagePreview = true

	t.mu.Lock()
	defer t.mu.Unlock()
	if wait := t.interval - time.Since(t.lastSend); wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	t.lastSend = time.Now()
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send for matchday %d: %w", outcome.Matchday, err)
	}
	logger.Debug(fmt.Sprintf("Telegram notification sent for matchday %d", outcome.Matchday))
	return nil
}

// Problem is true for outcomes somebody should look at
func Problem(o tipp.MatchdayOutcome) bool {
	switch o.Status {
	case tipp.StatusFailed, tipp.StatusSkipped:
		return true
	}
	return o.Fallback || len(o.Backfilled) > 0
}

var statusIcon = map[tipp.Status]string{
	tipp.StatusSubmitted: "✅",
	tipp.StatusDryRun:    "📝",
	tipp.StatusClosed:    "🔒",
	tipp.StatusSkipped:   "⏭",
	tipp.StatusFailed:    "❌",
}

// Format renders an outcome as plain text
func Format(o tipp.MatchdayOutcome) string {
	var sb strings.Builder
	icon := statusIcon[o.Status]
	if icon == "" {
		icon = "•"
	}
	fmt.Fprintf(&sb, "%s Spieltag %d", icon, o.Matchday)
	if o.Season != "" {
		fmt.Fprintf(&sb, " (%s)", o.Season)
	}
	fmt.Fprintf(&sb, ": %s\n", o.Status)

	if r := o.Report; r != nil && r.Total > 0 {
		fmt.Fprintf(&sb, "Bestätigt: %d/%d nach %d Versuch(en)\n", r.Confirmed, r.Total, r.Attempts)
	}
	if o.Fallback {
		sb.WriteString("Tipps aus den Quoten abgeleitet\n")
	}
	if len(o.Backfilled) > 0 {
		fmt.Fprintf(&sb, "Ergänzt: Zeilen %s\n", joinInts(o.Backfilled))
	}
	if len(o.Nudged) > 0 {
		fmt.Fprintf(&sb, "Remis angepasst: Zeilen %s\n", joinInts(o.Nudged))
	}
	for _, p := range o.Predictions {
		fmt.Fprintf(&sb, "%d) %s\n", p.RowIndex, p.Score())
	}
	if o.Err != "" {
		fmt.Fprintf(&sb, "Fehler: %s\n", o.Err)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}
