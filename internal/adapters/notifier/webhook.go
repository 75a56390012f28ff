// Package notifier delivers user notifications over an HTTP webhook
// through a non-blocking queue.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"researchEngine/internal/ports"
)

// Sender delivers one notification synchronously.
type Sender interface {
	Send(ctx context.Context, n ports.Notification) error
}

// Webhook posts notifications as JSON to a URL.
type Webhook struct {
	url    string
	client *http.Client
	clock  ports.Clock
}

type payload struct {
	ports.Notification
	Timestamp string `json:"timestamp"`
}

// NewWebhook creates a webhook sender. A nil client uses a 10s timeout.
func NewWebhook(url string, client *http.Client, clock ports.Clock) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Webhook{url: url, client: client, clock: clock}
}

// Send posts n and fails on any non-2xx status.
func (w *Webhook) Send(ctx context.Context, n ports.Notification) error {
	data, err := json.Marshal(payload{Notification: n, Timestamp: w.clock.Now().Format(time.RFC3339)})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ports.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}
	return nil
}

// LogSender writes notifications to the log; used when no webhook is set.
type LogSender struct {
	Logger ports.Logger
}

func (l LogSender) Send(ctx context.Context, n ports.Notification) error {
	l.Logger.Info(ctx, "Notification", map[string]interface{}{
		"user_id":    n.UserID,
		"event_type": string(n.EventType),
		"title":      n.Title,
		"message":    n.Message,
	})
	return nil
}
