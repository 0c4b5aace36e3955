// File: internal/notification/channel.go
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mintheist/steal-indexer/internal/config"
	"github.com/mintheist/steal-indexer/internal/models"
	"github.com/mintheist/steal-indexer/pkg/utils"
	"github.com/sirupsen/logrus"
)

// Channel delivers one notification to one destination
type Channel interface {
	Type() models.NotificationType
	Send(ctx context.Context, notification *models.EventNotification) error
}

// LogChannel writes notifications to the application log
type LogChannel struct {
	logger *logrus.Entry
}

// NewLogChannel creates a log notification channel
func NewLogChannel() *LogChannel {
	return &LogChannel{logger: utils.ComponentLogger("notify_log")}
}

func (l *LogChannel) Type() models.NotificationType {
	return models.NotificationTypeLog
}

func (l *LogChannel) Send(ctx context.Context, n *models.EventNotification) error {
	fields := logrus.Fields{
		"event_id":     n.EventID,
		"kind":         n.Kind,
		"entity_id":    n.EntityID,
		"from":         n.From,
		"to":           n.To,
		"block_height": n.BlockHeight,
	}
	if n.Amount != nil {
		fields["amount_sol"] = utils.FormatSol(*n.Amount)
	}
	l.logger.WithFields(fields).Info("Event notification")
	return nil
}

// WebhookPayload is the body posted to the configured webhook URL
type WebhookPayload struct {
	Notification *models.EventNotification `json:"notification"`
	Timestamp    time.Time                 `json:"timestamp"`
	Source       string                    `json:"source"`
}

// WebhookChannel posts notifications to an HTTP endpoint with bounded retry
type WebhookChannel struct {
	url        string
	attempts   int
	retryDelay time.Duration
	httpClient *http.Client
	logger     *logrus.Entry
}

// NewWebhookChannel creates a webhook notification channel
func NewWebhookChannel(cfg *config.NotificationConfig) *WebhookChannel {
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	return &WebhookChannel{
		url:        cfg.WebhookURL,
		attempts:   attempts,
		retryDelay: cfg.RetryDelay,
		logger:     utils.ComponentLogger("notify_webhook"),
		httpClient: &http.Client{
			Timeout: cfg.WebhookTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

func (w *WebhookChannel) Type() models.NotificationType {
	return models.NotificationTypeWebhook
}

func (w *WebhookChannel) Send(ctx context.Context, n *models.EventNotification) error {
	payload := &WebhookPayload{
		Notification: n,
		Timestamp:    time.Now().UTC(),
		Source:       "steal-indexer",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeNotification, "Failed to marshal webhook payload", err.Error())
	}

	var lastErr error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		lastErr = w.post(ctx, body)
		if lastErr == nil {
			return nil
		}

		w.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"url":     w.url,
			"error":   lastErr.Error(),
		}).Warn("Webhook delivery failed")

		if attempt < w.attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.retryDelay):
			}
		}
	}

	return utils.NewAppError(utils.ErrCodeNotification,
		fmt.Sprintf("Webhook failed after %d attempts", w.attempts), lastErr.Error())
}

func (w *WebhookChannel) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "steal-indexer/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
