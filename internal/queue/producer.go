// File: internal/queue/producer.go
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/mintheist/steal-indexer/internal/config"
	"github.com/mintheist/steal-indexer/internal/metrics"
	"github.com/mintheist/steal-indexer/internal/models"
	"github.com/mintheist/steal-indexer/pkg/utils"
)

// Producer publishes JSON messages to the durable queues. Messages are
// marked persistent so they survive a broker restart.
type Producer struct {
	client  *Client
	config  *config.QueueConfig
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry
}

// NewProducer creates a new producer on an already constructed client
func NewProducer(client *Client, cfg *config.QueueConfig) *Producer {
	return &Producer{
		client: client,
		config: cfg,
		logger: utils.ComponentLogger("producer"),
	}
}

// SetMetrics attaches the publish metrics
func (p *Producer) SetMetrics(m *metrics.PrometheusMetrics) {
	p.metrics = m
}

// PublishIngestion enqueues one ingestion event, keyed by the transaction
// signature so consumers can deduplicate redeliveries.
func (p *Producer) PublishIngestion(ctx context.Context, event *models.IngestionEvent) error {
	if err := p.publish(ctx, p.config.IngestQueue, event.ID, event); err != nil {
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"signature": event.ID,
		"kind":      string(event.Kind),
		"entity":    event.EntityID,
		"slot":      event.BlockHeight,
	}).Debug("Ingestion event published")
	return nil
}

// PublishNotification enqueues a fan-out notification. Delivery is
// best-effort: a failure here is logged by the caller, never retried.
func (p *Producer) PublishNotification(ctx context.Context, event *models.IngestionEvent) error {
	notification := &models.EventNotification{
		ID:          uuid.NewString(),
		EventID:     event.ID,
		Kind:        event.Kind,
		EntityID:    event.EntityID,
		From:        event.From,
		To:          event.To,
		Amount:      event.Amount,
		BlockHeight: event.BlockHeight,
		CreatedAt:   time.Now().UTC(),
	}
	return p.publish(ctx, p.config.NotifyQueue, notification.ID, notification)
}

// PublishPendingUpload enqueues a pending-upload check. The queue's TTL
// dead-letters any item with no confirming CREATE inside the window.
func (p *Producer) PublishPendingUpload(ctx context.Context, upload *models.PendingUpload) error {
	return p.publish(ctx, p.config.PendingQueue, upload.EntityID, upload)
}

func (p *Producer) publish(ctx context.Context, queueName, messageID string, payload interface{}) error {
	channel, err := p.client.Channel()
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeQueue, "Failed to marshal message", err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	err = channel.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return utils.NewAppError(utils.ErrCodeQueue, "Failed to publish message", err.Error())
	}

	if p.metrics != nil {
		p.metrics.RecordEventPublished(queueName)
	}
	return nil
}
