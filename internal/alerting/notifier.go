// Package alerting delivers signal notifications to chat channels.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpscope/internal/model"
)

var millions = decimal.NewFromInt(1_000_000)

// Notification wraps one signal together with the cycle it was observed in.
type Notification struct {
	Signal    model.Signal
	Timestamp time.Time
}

// Notifier delivers notifications and free-form digests.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
	SendText(ctx context.Context, text string) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs the notifier. baseURL is overridable for
// tests; empty means the public API.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify renders the signal as an HTML message and posts it via sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	if err := n.sendMessage(ctx, renderSignal(note)); err != nil {
		return err
	}
	n.logger.Info().
		Str("symbol", note.Signal.Symbol).
		Str("type", string(note.Signal.Type)).
		Str("strength", note.Signal.Strength.String()).
		Msg("signal alert delivered")
	return nil
}

// SendText posts an already rendered message, used by the relay endpoint to
// forward AI commentary verbatim.
func (n *TelegramNotifier) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("empty message")
	}
	if err := n.sendMessage(ctx, text); err != nil {
		return err
	}
	n.logger.Info().Int("length", len(text)).Msg("digest delivered")
	return nil
}

func (n *TelegramNotifier) sendMessage(ctx context.Context, text string) error {
	payload := map[string]string{
		"chat_id":    n.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}
	return nil
}

func renderSignal(note Notification) string {
	sig := note.Signal
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("<b>%s</b>: %s\n", sig.Type, sig.Symbol))
	builder.WriteString(fmt.Sprintf("Strength: %s/10\n", sig.Strength.StringFixed(1)))
	builder.WriteString(fmt.Sprintf("Funding: %s%%/h\n", sig.Indicators.FundingRate.StringFixed(3)))
	builder.WriteString(fmt.Sprintf("CVD: %s\n", sig.Indicators.CVD.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("OI: $%sM\n", sig.Indicators.OpenInterest.Div(millions).StringFixed(1)))
	if sig.Message != "" {
		builder.WriteString(sig.Message + "\n")
	}
	builder.WriteString(note.Timestamp.UTC().Format(time.RFC3339))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
