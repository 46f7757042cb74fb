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

// AlgorithmSummary is the outcome of one algorithm over an evaluation run.
type AlgorithmSummary struct {
	Algorithm string
	// Aggregate is the mean MARD over scored sessions; invalid when nothing was scored.
	Aggregate decimal.NullDecimal
	Reference decimal.NullDecimal
	Scored    int
	Sessions  int
}

// Notification carries a finished evaluation run.
type Notification struct {
	RunID         string
	Source        string
	Finished      time.Time
	Results       []AlgorithmSummary
	AdditionalMsg string
}

// Notifier delivers run summaries.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts summaries through the Telegram Bot API.
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

// Notify calls sendMessage with the rendered summary.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
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
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("run_id", note.RunID).
		Int("algorithms", len(note.Results)).
		Msg("summary sent (Telegram)")
	return nil
}

// RenderMessage formats a run summary as plain text.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[BG Algorithm Check]\n")
	if note.RunID != "" {
		builder.WriteString(fmt.Sprintf("Run: %s\n", note.RunID))
	}
	if note.Source != "" {
		builder.WriteString(fmt.Sprintf("Source: %s\n", note.Source))
	}
	if !note.Finished.IsZero() {
		builder.WriteString(fmt.Sprintf("Finished: %s UTC\n", note.Finished.UTC().Format(time.RFC3339)))
	}
	for _, r := range note.Results {
		mard := "n/a"
		if r.Aggregate.Valid {
			mard = r.Aggregate.Decimal.StringFixed(4)
		}
		builder.WriteString(fmt.Sprintf("%s: MARD %s over %d/%d sessions", r.Algorithm, mard, r.Scored, r.Sessions))
		if r.Reference.Valid {
			builder.WriteString(fmt.Sprintf(" (reference %s)", r.Reference.Decimal.StringFixed(4)))
		}
		builder.WriteString("\n")
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
