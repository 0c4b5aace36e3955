// File: internal/queue/client.go
package queue

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/mintheist/steal-indexer/internal/config"
	"github.com/mintheist/steal-indexer/pkg/utils"
)

// Client owns the broker connection and channel with an explicit
// connect/close lifecycle. It is constructed once and passed to the
// producer and consumers; nothing reconnects lazily behind the caller's back.
type Client struct {
	config *config.QueueConfig
	logger *logrus.Entry

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewClient creates a new broker client
func NewClient(cfg *config.QueueConfig) *Client {
	return &Client{
		config: cfg,
		logger: utils.ComponentLogger("queue"),
	}
}

// Connect dials the broker, opens a channel, and declares the queue
// topology. Declaration is idempotent, so concurrent instances agree.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := amqp.Dial(c.config.URL)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeQueue, "Failed to connect to broker", err.Error())
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return utils.NewAppError(utils.ErrCodeQueue, "Failed to open channel", err.Error())
	}

	if err := c.declareTopology(channel); err != nil {
		channel.Close()
		conn.Close()
		return err
	}

	if err := channel.Qos(c.config.Prefetch, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return utils.NewAppError(utils.ErrCodeQueue, "Failed to set prefetch", err.Error())
	}

	c.conn = conn
	c.channel = channel

	c.logger.WithFields(logrus.Fields{
		"ingest_queue":  c.config.IngestQueue,
		"notify_queue":  c.config.NotifyQueue,
		"pending_queue": c.config.PendingQueue,
		"prefetch":      c.config.Prefetch,
	}).Info("Broker connected")

	return nil
}

// Close releases the channel and connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.channel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.conn = nil
	}

	c.logger.Info("Broker connection closed")
	return firstErr
}

// IsConnected reports whether the broker connection is open
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// Channel returns the open channel
func (c *Client) Channel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.channel == nil {
		return nil, utils.NewAppError(utils.ErrCodeQueue, "Broker not connected", "")
	}
	return c.channel, nil
}

// DeadLetterQueue returns the name of the pending-uploads dead-letter queue
func (c *Client) DeadLetterQueue() string {
	return c.config.PendingQueue + ".dlq"
}

// declareTopology declares the durable queues:
//
//   - ingest queue: no TTL, survives broker restarts
//   - notify queue: fan-out of applied events
//   - pending-uploads queue: per-message TTL, expired messages routed to the
//     dead-letter queue for reconciliation
func (c *Client) declareTopology(channel *amqp.Channel) error {
	if _, err := channel.QueueDeclare(c.config.IngestQueue, true, false, false, false, nil); err != nil {
		return utils.NewAppError(utils.ErrCodeQueue, "Failed to declare ingest queue", err.Error())
	}

	if _, err := channel.QueueDeclare(c.config.NotifyQueue, true, false, false, false, nil); err != nil {
		return utils.NewAppError(utils.ErrCodeQueue, "Failed to declare notify queue", err.Error())
	}

	dlq := c.DeadLetterQueue()
	if _, err := channel.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return utils.NewAppError(utils.ErrCodeQueue, "Failed to declare dead-letter queue", err.Error())
	}

	pendingArgs := amqp.Table{
		"x-message-ttl":             c.config.PendingTTL.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}
	if _, err := channel.QueueDeclare(c.config.PendingQueue, true, false, false, false, pendingArgs); err != nil {
		return utils.NewAppError(utils.ErrCodeQueue, "Failed to declare pending-uploads queue", err.Error())
	}

	return nil
}
