// Package notify delivers usage and expiry alerts through a chat
// transport and rate-limits repeats per subscription.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Sender delivers one alert message. Satisfied by Notifier; tests swap in
// a fake.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Notifier sends messages to a Telegram chat.
type Notifier struct {
	botToken string
	chatID   string
	client   *http.Client
	limiter  *rate.Limiter

	// apiHost is overridable for tests.
	apiHost string
}

func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
		// Telegram allows ~30 messages per second per bot.
		limiter: rate.NewLimiter(rate.Every(time.Second/30), 1),
		apiHost: "https://api.telegram.org",
	}
}

// Send posts a single message. A non-OK response is an error so callers
// can retry on the next poll cycle.
func (n *Notifier) Send(ctx context.Context, text string) error {
	if n.botToken == "" || n.chatID == "" {
		return fmt.Errorf("notification transport is not configured")
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	payload := map[string]interface{}{
		"chat_id":                  n.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiHost, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		log.WithFields(log.Fields{
			"status": resp.Status,
		}).Warn("Telegram API rejected message")
		return fmt.Errorf("telegram API error: %s - %s", resp.Status, string(respBody))
	}

	return nil
}
