// File: internal/queue/consumer.go
package queue

import (
	"context"
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/mintheist/steal-indexer/internal/config"
	"github.com/mintheist/steal-indexer/internal/metrics"
	"github.com/mintheist/steal-indexer/internal/models"
	"github.com/mintheist/steal-indexer/pkg/utils"
)

// ProjectionStore is the slice of the storage layer the consumer mutates.
// Every operation is idempotent: the broker delivers at least once.
type ProjectionStore interface {
	UpsertEntity(ctx context.Context, entity *models.Entity) error
	UpdateEntityHolder(ctx context.Context, entityID, holder string) error
	InsertHistory(ctx context.Context, row *models.HistoryRow) error
}

// AssetStore promotes staged assets when their entity is confirmed. Its own
// idempotency is the asset store's responsibility.
type AssetStore interface {
	Promote(ctx context.Context, entityID string) error
}

// Consumer applies ingestion events to the projection store. It acknowledges
// a delivery only after the store mutation commits; failures are negatively
// acknowledged with requeue.
type Consumer struct {
	client   *Client
	store    ProjectionStore
	assets   AssetStore
	producer *Producer
	config   *config.QueueConfig
	metrics  *metrics.PrometheusMetrics
	logger   *logrus.Entry

	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	stats ConsumerStats
}

// ConsumerStats provides consumption statistics
type ConsumerStats struct {
	Applied       uint64 `json:"applied"`
	Requeued      uint64 `json:"requeued"`
	Rejected      uint64 `json:"rejected"`
	Notifications uint64 `json:"notifications"`
}

// NewConsumer creates a new ingestion consumer
func NewConsumer(client *Client, store ProjectionStore, assets AssetStore, producer *Producer, cfg *config.QueueConfig) *Consumer {
	return &Consumer{
		client:   client,
		store:    store,
		assets:   assets,
		producer: producer,
		config:   cfg,
		logger:   utils.ComponentLogger("consumer"),
	}
}

// SetMetrics attaches the consumption metrics. Must be called before Start.
func (c *Consumer) SetMetrics(m *metrics.PrometheusMetrics) {
	c.metrics = m
}

// Start begins consuming the ingestion queue
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Consumer already running", "")
	}

	channel, err := c.client.Channel()
	if err != nil {
		return err
	}

	deliveries, err := channel.Consume(c.config.IngestQueue, "", false, false, false, false, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeQueue, "Failed to start consuming", err.Error())
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	workers := c.config.ConsumerWorkers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.consumeLoop(consumeCtx, deliveries)
	}

	c.logger.WithFields(logrus.Fields{
		"queue":   c.config.IngestQueue,
		"workers": workers,
	}).Info("Consumer started")

	return nil
}

// Stop stops consuming and waits for in-flight deliveries
func (c *Consumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
	c.wg.Wait()

	c.logger.Info("Consumer stopped")
	return nil
}

// GetStats returns consumption statistics
func (c *Consumer) GetStats() ConsumerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Consumer) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("Delivery channel closed")
				return
			}
			c.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery applies one delivery and settles it: ack on success,
// nack+requeue on a store failure, reject (no requeue) on a payload that can
// never be applied.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var event models.IngestionEvent
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		c.logger.WithError(err).Error("Rejecting malformed ingestion message")
		c.settle(delivery.Nack(false, false), delivery.MessageId)
		c.count(func(s *ConsumerStats) { s.Rejected++ })
		c.observeConsume("rejected")
		return
	}

	if err := c.Apply(ctx, &event); err != nil {
		c.logger.WithFields(logrus.Fields{
			"signature": event.ID,
			"kind":      string(event.Kind),
		}).WithError(err).Error("Failed to apply event, requeueing")
		c.settle(delivery.Nack(false, true), event.ID)
		c.count(func(s *ConsumerStats) { s.Requeued++ })
		c.observeConsume("requeued")
		if c.metrics != nil {
			c.metrics.RecordEventRequeued()
		}
		return
	}

	// The projection mutation is committed; the notification publish after
	// this point is deliberately best-effort (at-most-once).
	if c.producer != nil {
		if err := c.producer.PublishNotification(ctx, &event); err != nil {
			c.logger.WithField("signature", event.ID).WithError(err).Warn("Notification publish failed")
		} else {
			c.count(func(s *ConsumerStats) { s.Notifications++ })
		}
	}

	c.settle(delivery.Ack(false), event.ID)
	c.count(func(s *ConsumerStats) { s.Applied++ })
	c.observeConsume("applied")
}

func (c *Consumer) observeConsume(status string) {
	if c.metrics != nil {
		c.metrics.RecordEventConsumed(c.config.IngestQueue, status)
	}
}

// Apply mutates the projection store for one ingestion event. Re-applying
// the same event is a no-op or a harmless overwrite, never a double-apply.
func (c *Consumer) Apply(ctx context.Context, event *models.IngestionEvent) error {
	switch event.Kind {
	case models.KindCreate:
		if event.EntitySnapshot == nil {
			return utils.NewAppError(utils.ErrCodeValidation, "CREATE event without entity snapshot", event.ID)
		}
		if err := c.store.UpsertEntity(ctx, event.EntitySnapshot); err != nil {
			return err
		}
		// Promote the staged asset. The asset store deduplicates on its
		// side, so redelivery does not promote twice.
		if c.assets != nil {
			if err := c.assets.Promote(ctx, event.EntityID); err != nil {
				return err
			}
		}

	case models.KindSteal:
		// The snapshot is authoritative for holder and prices; nothing is
		// computed locally.
		if event.EntitySnapshot == nil {
			return utils.NewAppError(utils.ErrCodeValidation, "STEAL event without entity snapshot", event.ID)
		}
		if err := c.store.UpsertEntity(ctx, event.EntitySnapshot); err != nil {
			return err
		}

	case models.KindTransfer:
		// Only ownership moves; price fields stay untouched. A missing
		// entity row is tolerated (CREATE may not have been applied yet).
		if err := c.store.UpdateEntityHolder(ctx, event.EntityID, event.To); err != nil {
			return err
		}

	default:
		return utils.NewAppError(utils.ErrCodeValidation, "Unknown event kind", string(event.Kind))
	}

	return c.store.InsertHistory(ctx, &models.HistoryRow{
		ID:          event.ID,
		EntityID:    event.EntityID,
		Kind:        event.Kind,
		FromAddr:    event.From,
		ToAddr:      event.To,
		Amount:      event.Amount,
		BlockHeight: event.BlockHeight,
		CreatedAt:   event.ObservedAt,
	})
}

func (c *Consumer) settle(err error, messageID string) {
	if err != nil {
		c.logger.WithField("message_id", messageID).WithError(err).Error("Failed to settle delivery")
	}
}

func (c *Consumer) count(update func(*ConsumerStats)) {
	c.mu.Lock()
	update(&c.stats)
	c.mu.Unlock()
}
