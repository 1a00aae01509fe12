package notify

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Alert levels for system notifications.
const (
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// LogEntry is a persisted notification, kept for the dashboard feed.
type LogEntry struct {
	gorm.Model `json:"-"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// Config holds chat-alert delivery settings. Empty credentials
// disable outbound delivery; the log entries are still written.
type Config struct {
	TelegramBotToken string
	TelegramChatID   string
	Timeout          time.Duration
}

// Notifier delivers trade and system alerts. All sends are
// fire-and-forget: failures are logged, never propagated to callers.
type Notifier struct {
	cfg  Config
	db   *Database
	http *http.Client
}

// New creates a notifier.
func New(cfg Config, gormDB *gorm.DB) *Notifier {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{cfg: cfg, db: NewDatabase(gormDB), http: &http.Client{Timeout: timeout}}
}

// NotifyTrade announces an executed or exited trade.
func (n *Notifier) NotifyTrade(symbol, action string, entry, target, stoploss, confidence float64, orderID string, latency time.Duration) {
	var b strings.Builder
	fmt.Fprintf(&b, "*Trade %s*\n", action)
	fmt.Fprintf(&b, "Symbol: `%s`\n", symbol)
	fmt.Fprintf(&b, "Entry: %.2f | Target: %.2f | Stoploss: %.2f\n", entry, target, stoploss)
	fmt.Fprintf(&b, "Confidence: %.0f%% | Order: #%s", confidence, orderID)
	if latency > 0 {
		fmt.Fprintf(&b, "\nExec time: %d ms", latency.Milliseconds())
	}

	n.send(b.String())
	n.logEntry("TRADE", fmt.Sprintf("%s %s | conf %.0f%% | entry %.2f", action, symbol, confidence, entry))
}

// NotifyRiskWarning warns that an account is approaching its loss
// limits.
func (n *Notifier) NotifyRiskWarning(accountID string, pnl, softLimit, hardLimit float64) {
	msg := fmt.Sprintf("*Risk Alert*\nAccount: `%s`\nP&L: %.2f\nSoft limit: %.2f | Hard limit: %.2f", accountID, pnl, softLimit, hardLimit)
	n.send(msg)
	n.logEntry("RISK", fmt.Sprintf("%s: pnl %.2f near limit", accountID, pnl))
}

// NotifySystemAlert reports a system-level event.
func (n *Notifier) NotifySystemAlert(level, title, detail string) {
	msg := fmt.Sprintf("*System %s*\n%s", titleCase(level), title)
	if detail != "" {
		msg += "\n" + detail
	}
	n.send(msg)
	n.logEntry(strings.ToUpper(level), fmt.Sprintf("%s: %s", title, detail))
}

func (n *Notifier) send(text string) {
	if n.cfg.TelegramBotToken == "" || n.cfg.TelegramChatID == "" {
		return
	}
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.cfg.TelegramBotToken)
	form := url.Values{
		"chat_id":    {n.cfg.TelegramChatID},
		"text":       {text},
		"parse_mode": {"Markdown"},
	}
	resp, err := n.http.PostForm(endpoint, form)
	if err != nil {
		log.Warn().Err(err).Str("component", "notify").Msg("telegram send failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Str("component", "notify").Msg("telegram API error")
	}
}

func (n *Notifier) logEntry(status, message string) {
	if err := n.db.CreateLog(&LogEntry{Status: status, Message: message}); err != nil {
		log.Warn().Err(err).Str("component", "notify").Msg("failed to persist notification log")
	}
}

// Recent returns the latest notification log entries.
func (n *Notifier) Recent(limit int) ([]LogEntry, error) {
	return n.db.RecentLogs(limit)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}
