// File: internal/notification/dispatcher.go
package notification

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mintheist/steal-indexer/internal/config"
	"github.com/mintheist/steal-indexer/internal/models"
	"github.com/mintheist/steal-indexer/internal/queue"
	"github.com/mintheist/steal-indexer/pkg/utils"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Dispatcher consumes the notification queue and fans each message out to
// the configured channels. Delivery is at most once: a message is acked
// before channel sends and failed sends are logged, never redelivered.
type Dispatcher struct {
	client   *queue.Client
	config   *config.QueueConfig
	channels []Channel
	logger   *logrus.Entry

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
	stats    DispatcherStats
}

// DispatcherStats provides notification dispatch statistics
type DispatcherStats struct {
	Dispatched     uint64     `json:"dispatched"`
	SendFailures   uint64     `json:"send_failures"`
	Malformed      uint64     `json:"malformed"`
	LastDispatched *time.Time `json:"last_dispatched,omitempty"`
}

// NewDispatcher creates a notification dispatcher
func NewDispatcher(client *queue.Client, cfg *config.Config) *Dispatcher {
	var channels []Channel
	channels = append(channels, NewLogChannel())
	if cfg.Notifications.WebhookURL != "" {
		channels = append(channels, NewWebhookChannel(&cfg.Notifications))
	}

	return &Dispatcher{
		client:   client,
		config:   &cfg.Queue,
		channels: channels,
		logger:   utils.ComponentLogger("dispatcher"),
	}
}

// Start begins consuming the notification queue
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Dispatcher already running", "")
	}

	channel, err := d.client.Channel()
	if err != nil {
		return err
	}

	deliveries, err := channel.Consume(d.config.NotifyQueue, "", false, false, false, false, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeQueue, "Failed to start consuming notifications", err.Error())
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true

	d.wg.Add(1)
	go d.dispatchLoop(consumeCtx, deliveries)

	d.logger.WithFields(logrus.Fields{
		"queue":    d.config.NotifyQueue,
		"channels": len(d.channels),
	}).Info("Notification dispatcher started")

	return nil
}

// Stop stops the dispatcher and waits for the in-flight message
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	d.stopOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
	})
	d.wg.Wait()

	d.logger.Info("Notification dispatcher stopped")
	return nil
}

// GetStats returns dispatch statistics
func (d *Dispatcher) GetStats() DispatcherStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Dispatcher) dispatchLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				d.logger.Warn("Notification delivery channel closed")
				return
			}
			d.handleDelivery(ctx, delivery)
		}
	}
}

func (d *Dispatcher) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var notification models.EventNotification
	if err := json.Unmarshal(delivery.Body, &notification); err != nil {
		d.logger.WithField("error", err.Error()).Warn("Rejecting malformed notification")
		d.count(func(s *DispatcherStats) { s.Malformed++ })
		delivery.Nack(false, false)
		return
	}

	// Ack first: a notification is never worth redelivering
	delivery.Ack(false)

	d.Dispatch(ctx, &notification)
}

// Dispatch sends one notification to every configured channel
func (d *Dispatcher) Dispatch(ctx context.Context, notification *models.EventNotification) {
	for _, channel := range d.channels {
		if err := channel.Send(ctx, notification); err != nil {
			d.logger.WithFields(logrus.Fields{
				"channel":  channel.Type(),
				"event_id": notification.EventID,
				"error":    err.Error(),
			}).Warn("Notification send failed")
			d.count(func(s *DispatcherStats) { s.SendFailures++ })
		}
	}

	now := time.Now()
	d.count(func(s *DispatcherStats) {
		s.Dispatched++
		s.LastDispatched = &now
	})
}

func (d *Dispatcher) count(update func(*DispatcherStats)) {
	d.mu.Lock()
	update(&d.stats)
	d.mu.Unlock()
}
