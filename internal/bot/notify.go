package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notifier delivers replies that are not answers to an inbound event,
// such as the result of a paid request.
type Notifier interface {
	Notify(ctx context.Context, userID uint64, r Reply) error
}

// WebhookNotifier POSTs {"user_id", "reply"} to the transport.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

type notification struct {
	UserID uint64 `json:"user_id"`
	Reply  Reply  `json:"reply"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, userID uint64, r Reply) error {
	b, err := json.Marshal(notification{UserID: userID, Reply: r})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: status %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier only logs; used when no transport callback is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, userID uint64, r Reply) error {
	slog.Info("out-of-band reply", "user_id", userID, "text", r.Text, "choices", len(r.Choices))
	return nil
}

// NewNotifier picks the webhook notifier when url is set.
func NewNotifier(url string) Notifier {
	if url == "" {
		return LogNotifier{}
	}
	return NewWebhookNotifier(url)
}
