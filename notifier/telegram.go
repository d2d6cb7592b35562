package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TelegramTransport delivers messages through the Telegram Bot API
type TelegramTransport struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramTransport creates a transport for one bot and chat
func NewTelegramTransport(token, chatID string) *TelegramTransport {
	return &TelegramTransport{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send posts one HTML-formatted message. A 429 surfaces as RateLimitError
// with the API's retry hint.
func (t *TelegramTransport) Send(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var tr telegramResponse
	_ = json.Unmarshal(body, &tr)

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: time.Duration(tr.Parameters.RetryAfter) * time.Second}
	}
	if resp.StatusCode != http.StatusOK || !tr.OK {
		return fmt.Errorf("telegram API: HTTP %d: %s", resp.StatusCode, tr.Description)
	}
	return nil
}
