// File: internal/queue/reconciler.go
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mintheist/steal-indexer/internal/config"
	"github.com/mintheist/steal-indexer/internal/metrics"
	"github.com/mintheist/steal-indexer/internal/models"
	"github.com/mintheist/steal-indexer/pkg/utils"
	"github.com/sirupsen/logrus"
)

// ReconciliationStore is the slice of the storage layer the reconciler needs:
// an entity lookup to tell confirmed uploads apart from expired ones, and the
// reconciliation record for the latter.
type ReconciliationStore interface {
	GetEntity(ctx context.Context, id string) (*models.Entity, error)
	RecordUploadReconciliation(ctx context.Context, rec *models.UploadReconciliation) error
}

// Reconciler drains the pending-uploads dead-letter queue. An expired item
// whose entity was created in the meantime is dropped; the rest are recorded
// so staged assets can be cleaned up out of band instead of being silently
// lost.
type Reconciler struct {
	client  *Client
	store   ReconciliationStore
	config  *config.QueueConfig
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry

	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewReconciler creates a new dead-letter reconciler
func NewReconciler(client *Client, store ReconciliationStore, cfg *config.QueueConfig) *Reconciler {
	return &Reconciler{
		client: client,
		store:  store,
		config: cfg,
		logger: utils.ComponentLogger("reconciler"),
	}
}

// SetMetrics attaches the dead-letter metrics. Must be called before Start.
func (r *Reconciler) SetMetrics(m *metrics.PrometheusMetrics) {
	r.metrics = m
}

// Start begins draining the dead-letter queue
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Reconciler already running", "")
	}

	channel, err := r.client.Channel()
	if err != nil {
		return err
	}

	deliveries, err := channel.Consume(r.client.DeadLetterQueue(), "", false, false, false, false, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeQueue, "Failed to consume dead-letter queue", err.Error())
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go r.drain(consumeCtx, deliveries)

	r.logger.WithField("queue", r.client.DeadLetterQueue()).Info("Reconciler started")
	return nil
}

// Stop stops draining and waits for in-flight work
func (r *Reconciler) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
	})
	r.wg.Wait()

	r.logger.Info("Reconciler stopped")
	return nil
}

func (r *Reconciler) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			r.handle(ctx, delivery)
		}
	}
}

func (r *Reconciler) handle(ctx context.Context, delivery amqp.Delivery) {
	var upload models.PendingUpload
	if err := json.Unmarshal(delivery.Body, &upload); err != nil {
		r.logger.WithError(err).Error("Rejecting malformed dead-letter message")
		if err := delivery.Nack(false, false); err != nil {
			r.logger.WithError(err).Error("Failed to reject dead-letter message")
		}
		return
	}

	// An item dead-letters on TTL alone, so a CREATE that landed late still
	// pushes its upload through here. Those are already promoted; only
	// entities the chain never confirmed need cleanup.
	entity, err := r.store.GetEntity(ctx, upload.EntityID)
	if err != nil {
		r.logger.WithField("entity", upload.EntityID).WithError(err).Error("Entity lookup failed, requeueing")
		if err := delivery.Nack(false, true); err != nil {
			r.logger.WithError(err).Error("Failed to requeue dead-letter message")
		}
		return
	}
	if entity != nil {
		r.logger.WithField("entity", upload.EntityID).Debug("Pending upload already confirmed, dropping")
		if err := delivery.Ack(false); err != nil {
			r.logger.WithError(err).Error("Failed to ack dead-letter message")
		}
		return
	}

	rec := &models.UploadReconciliation{
		ID:           uuid.NewString(),
		EntityID:     upload.EntityID,
		StagingRef:   upload.StagingRef,
		DeadLettered: time.Now().UTC(),
	}
	if err := r.store.RecordUploadReconciliation(ctx, rec); err != nil {
		r.logger.WithField("entity", upload.EntityID).WithError(err).Error("Failed to record reconciliation, requeueing")
		if err := delivery.Nack(false, true); err != nil {
			r.logger.WithError(err).Error("Failed to requeue dead-letter message")
		}
		return
	}

	if r.metrics != nil {
		r.metrics.RecordDeadLettered()
	}
	r.logger.WithFields(logrus.Fields{
		"entity":      upload.EntityID,
		"staging_ref": upload.StagingRef,
	}).Info("Expired pending upload recorded for cleanup")

	if err := delivery.Ack(false); err != nil {
		r.logger.WithError(err).Error("Failed to ack dead-letter message")
	}
}
