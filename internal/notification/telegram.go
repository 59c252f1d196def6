package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"nifty-engine/internal/httpclient"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends alerts via Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   httpclient.Doer
}

// NewTelegramNotifier creates a Telegram notifier. An empty baseURL uses the
// public Bot API; a nil client gets a 10s-timeout default.
func NewTelegramNotifier(botToken, chatID, baseURL string, client httpclient.Doer) *TelegramNotifier {
	if baseURL == "" {
		baseURL = telegramAPI
	}
	if client == nil {
		client = httpclient.NewClient(httpclient.ClientConfig{
			Timeout:         10 * time.Second,
			RateLimitConfig: httpclient.RateLimitConfig{RequestsPerSecond: 1, RequestsPerMinute: 20},
		})
	}
	return &TelegramNotifier{botToken: botToken, chatID: chatID, baseURL: baseURL, client: client}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       formatHTML(alert),
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

var levelBadge = map[AlertLevel]string{
	AlertInfo:     "ℹ️",
	AlertWarning:  "⚠️",
	AlertCritical: "🚨",
}

// formatHTML renders an alert for Telegram's HTML parse mode.
func formatHTML(a Alert) string {
	var sb strings.Builder
	sb.WriteString(levelBadge[a.Level])
	sb.WriteString(" <b>")
	if a.Symbol != "" {
		sb.WriteString(html.EscapeString(a.Symbol))
		sb.WriteString(": ")
	}
	sb.WriteString(html.EscapeString(a.Title))
	sb.WriteString("</b>")
	if a.Message != "" {
		sb.WriteString("\n\n")
		sb.WriteString(html.EscapeString(a.Message))
	}
	return sb.String()
}
