package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"driftwatch/internal/models"
)

// Channel delivers one notification.
type Channel interface {
	Send(ctx context.Context, n models.Notification) error
}

// LogChannel writes notifications to the structured log. It is the default
// channel when no webhook is configured.
type LogChannel struct {
	log *zap.Logger
}

func NewLogChannel(log *zap.Logger) *LogChannel {
	return &LogChannel{log: log.Named("notification")}
}

func (c *LogChannel) Send(ctx context.Context, n models.Notification) error {
	c.log.Info("notification",
		zap.String("kind", string(n.Kind)),
		zap.String("target_id", n.TargetID),
		zap.Time("timestamp", n.Timestamp),
		zap.Any("payload", n.Payload))
	return nil
}

// WebhookChannel POSTs notifications as JSON to a fixed URL.
type WebhookChannel struct {
	url    string
	client *http.Client
}

func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *WebhookChannel) Send(ctx context.Context, n models.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// MultiChannel fans a notification out to every channel. All channels are
// attempted; their errors are joined.
type MultiChannel []Channel

func (m MultiChannel) Send(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, c := range m {
		if err := c.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
