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
)

// Kind classifies a notification.
type Kind string

const (
	KindHarvestSuccess Kind = "harvest_success"
	KindHarvestFailed  Kind = "harvest_failed"
	KindLowBalance     Kind = "low_balance"
	KindEngineStopped  Kind = "engine_stopped"
)

// Event carries the notification context.
type Event struct {
	Kind   Kind
	Pair   string
	Price  decimal.Decimal
	TxHash string
	Reason string
	At     time.Time
}

// Notifier delivers engine events to an operator channel.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
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

// Notify posts the rendered event via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, event Event) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(event),
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
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("kind", string(event.Kind)).Str("pair", event.Pair).
		Msg("notification sent (Telegram)")
	return nil
}

func renderMessage(event Event) string {
	builder := strings.Builder{}
	switch event.Kind {
	case KindHarvestSuccess:
		builder.WriteString("[Harvest] success\n")
	case KindHarvestFailed:
		builder.WriteString("[Harvest] FAILED\n")
	case KindLowBalance:
		builder.WriteString("[Harvest] insufficient balance\n")
	case KindEngineStopped:
		builder.WriteString("[Harvest] ENGINE STOPPED\n")
	default:
		builder.WriteString("[Harvest] event\n")
	}
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", event.At.UTC().Format(time.RFC3339)))
	if event.Pair != "" {
		builder.WriteString(fmt.Sprintf("Pair: %s\n", event.Pair))
	}
	if !event.Price.IsZero() {
		builder.WriteString(fmt.Sprintf("Price: %s\n", event.Price.StringFixed(4)))
	}
	if event.TxHash != "" {
		builder.WriteString(fmt.Sprintf("Tx: %s\n", event.TxHash))
	}
	if event.Reason != "" {
		builder.WriteString(fmt.Sprintf("Reason: %s\n", event.Reason))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
