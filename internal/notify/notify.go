// Package notify delivers escalation notifications. The default
// dispatcher writes structured log entries; the webhook dispatcher
// posts JSON to per-channel endpoints.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"constitutional-gov/internal/config"
	"constitutional-gov/internal/logging"
	"constitutional-gov/pkg/types"
)

// Notification is one delivery about an escalation record. Channel is
// the assigned role when the record has one, otherwise the level name.
type Notification struct {
	Channel     string                  `json:"channel"`
	ViolationID string                  `json:"violation_id"`
	Level       types.EscalationLevel   `json:"level"`
	Trigger     types.EscalationTrigger `json:"trigger"`
	Assignee    string                  `json:"assignee,omitempty"`
	Reason      string                  `json:"reason,omitempty"`
	Deadline    time.Time               `json:"deadline"`
	SentAt      time.Time               `json:"sent_at"`
}

// Dispatcher delivers notifications. Delivery failures are reported
// but never block escalation bookkeeping.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// NewDispatcher builds the configured dispatcher.
func NewDispatcher(cfg config.NotifyConfig, logger logging.Logger) (Dispatcher, error) {
	switch cfg.Dispatcher {
	case "log", "":
		return NewLogDispatcher(logger), nil
	case "webhook":
		return NewWebhookDispatcher(cfg.WebhookURLs, cfg.Timeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown notify dispatcher %q", cfg.Dispatcher)
	}
}

// LogDispatcher emits each notification as a structured log entry.
type LogDispatcher struct {
	logger logging.Logger
}

func NewLogDispatcher(logger logging.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.WithComponent("notify")}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, n Notification) error {
	d.logger.InfoContext(ctx, "escalation notification",
		"channel", n.Channel,
		"violation_id", n.ViolationID,
		"level", string(n.Level),
		"trigger", string(n.Trigger),
		"assignee", n.Assignee,
		"deadline", n.Deadline.Format(time.RFC3339))
	return nil
}

// WebhookDispatcher posts notifications as JSON to the URL registered
// for the channel. Channels without a URL fall back to the "default"
// entry when present.
type WebhookDispatcher struct {
	urls   map[string]string
	client *http.Client
	logger logging.Logger
}

func NewWebhookDispatcher(urls map[string]string, timeout time.Duration, logger logging.Logger) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookDispatcher{
		urls:   urls,
		client: &http.Client{Timeout: timeout},
		logger: logger.WithComponent("notify"),
	}
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, n Notification) error {
	url, ok := d.urls[n.Channel]
	if !ok {
		url, ok = d.urls["default"]
	}
	if !ok {
		return fmt.Errorf("no webhook URL for channel %q", n.Channel)
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s returned status %d", n.Channel, resp.StatusCode)
	}
	return nil
}
