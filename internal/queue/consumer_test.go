// File: internal/queue/consumer_test.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintheist/steal-indexer/internal/config"
	"github.com/mintheist/steal-indexer/internal/metrics"
	"github.com/mintheist/steal-indexer/internal/models"
)

// fakeStore implements ProjectionStore in memory
type fakeStore struct {
	entities      map[string]*models.Entity
	history       map[string]*models.HistoryRow
	failUpserts   bool
	holderUpdates int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entities: make(map[string]*models.Entity),
		history:  make(map[string]*models.HistoryRow),
	}
}

func (f *fakeStore) UpsertEntity(ctx context.Context, entity *models.Entity) error {
	if f.failUpserts {
		return fmt.Errorf("store unavailable")
	}
	clone := *entity
	f.entities[entity.ID] = &clone
	return nil
}

func (f *fakeStore) UpdateEntityHolder(ctx context.Context, entityID, holder string) error {
	f.holderUpdates++
	if entity, ok := f.entities[entityID]; ok {
		entity.Holder = holder
	}
	return nil
}

func (f *fakeStore) InsertHistory(ctx context.Context, row *models.HistoryRow) error {
	if _, exists := f.history[row.ID]; exists {
		return nil
	}
	clone := *row
	f.history[row.ID] = &clone
	return nil
}

// fakeAssets implements AssetStore in memory
type fakeAssets struct {
	promoted map[string]int
	fail     bool
}

func newFakeAssets() *fakeAssets {
	return &fakeAssets{promoted: make(map[string]int)}
}

func (f *fakeAssets) Promote(ctx context.Context, entityID string) error {
	if f.fail {
		return fmt.Errorf("asset store unavailable")
	}
	f.promoted[entityID]++
	return nil
}

// fakeAcknowledger records how a delivery was settled
type fakeAcknowledger struct {
	acked    bool
	nacked   bool
	requeued bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return nil
}

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		IngestQueue:  "ingest.events",
		NotifyQueue:  "notify.events",
		PendingQueue: "pending.uploads",
	}
}

func newTestConsumer(store ProjectionStore, assets AssetStore) *Consumer {
	return NewConsumer(nil, store, assets, nil, testQueueConfig())
}

func snapshot(id, holder string) *models.Entity {
	return &models.Entity{
		ID:           id,
		Name:         "Golden Goose",
		Symbol:       "GG",
		Holder:       holder,
		Minter:       "minterA",
		FeeRecipient: "feeA",
		CurrentPrice: 500_000_000,
		NextPrice:    600_000_000,
	}
}

func createEvent(id, entityID string) *models.IngestionEvent {
	return &models.IngestionEvent{
		ID:             id,
		EntityID:       entityID,
		EntitySnapshot: snapshot(entityID, "minterA"),
		Kind:           models.KindCreate,
		From:           "System",
		To:             "minterA",
		BlockHeight:    100,
		Success:        true,
		ObservedAt:     time.Now(),
	}
}

func TestApplyCreate(t *testing.T) {
	store := newFakeStore()
	assets := newFakeAssets()
	c := newTestConsumer(store, assets)

	require.NoError(t, c.Apply(context.Background(), createEvent("sig1", "acct1")))

	require.Contains(t, store.entities, "acct1")
	assert.Equal(t, "minterA", store.entities["acct1"].Holder)
	assert.Equal(t, 1, assets.promoted["acct1"])

	require.Contains(t, store.history, "sig1")
	assert.Equal(t, models.KindCreate, store.history["sig1"].Kind)
}

func TestApplyCreateIdempotent(t *testing.T) {
	store := newFakeStore()
	assets := newFakeAssets()
	c := newTestConsumer(store, assets)

	event := createEvent("sig1", "acct1")
	require.NoError(t, c.Apply(context.Background(), event))
	require.NoError(t, c.Apply(context.Background(), event))

	assert.Len(t, store.entities, 1)
	assert.Len(t, store.history, 1)
}

func TestApplyCreateRequiresSnapshot(t *testing.T) {
	c := newTestConsumer(newFakeStore(), newFakeAssets())

	event := createEvent("sig1", "acct1")
	event.EntitySnapshot = nil
	assert.Error(t, c.Apply(context.Background(), event))
}

func TestApplyStealOverwritesProjection(t *testing.T) {
	store := newFakeStore()
	c := newTestConsumer(store, newFakeAssets())

	require.NoError(t, c.Apply(context.Background(), createEvent("sig1", "acct1")))

	amount := uint64(560_000_000)
	stolen := snapshot("acct1", "thief")
	stolen.CurrentPrice = 600_000_000
	stolen.NextPrice = 720_000_000

	require.NoError(t, c.Apply(context.Background(), &models.IngestionEvent{
		ID:             "sig2",
		EntityID:       "acct1",
		EntitySnapshot: stolen,
		Kind:           models.KindSteal,
		From:           "minterA",
		To:             "thief",
		Amount:         &amount,
		BlockHeight:    110,
		Success:        true,
	}))

	entity := store.entities["acct1"]
	assert.Equal(t, "thief", entity.Holder)
	assert.Equal(t, uint64(600_000_000), entity.CurrentPrice)
	assert.Equal(t, uint64(720_000_000), entity.NextPrice)

	row := store.history["sig2"]
	require.NotNil(t, row)
	require.NotNil(t, row.Amount)
	assert.Equal(t, uint64(560_000_000), *row.Amount)
}

func TestApplyStealRequiresSnapshot(t *testing.T) {
	c := newTestConsumer(newFakeStore(), newFakeAssets())

	assert.Error(t, c.Apply(context.Background(), &models.IngestionEvent{
		ID:       "sig1",
		EntityID: "acct1",
		Kind:     models.KindSteal,
	}))
}

func TestApplyTransferMovesHolderOnly(t *testing.T) {
	store := newFakeStore()
	c := newTestConsumer(store, newFakeAssets())

	require.NoError(t, c.Apply(context.Background(), createEvent("sig1", "acct1")))

	require.NoError(t, c.Apply(context.Background(), &models.IngestionEvent{
		ID:          "sig2",
		EntityID:    "acct1",
		Kind:        models.KindTransfer,
		From:        "minterA",
		To:          "friend",
		BlockHeight: 120,
	}))

	entity := store.entities["acct1"]
	assert.Equal(t, "friend", entity.Holder)
	assert.Equal(t, uint64(500_000_000), entity.CurrentPrice)
}

func TestApplyTransferToleratesMissingEntity(t *testing.T) {
	store := newFakeStore()
	c := newTestConsumer(store, newFakeAssets())

	// TRANSFER for an entity whose CREATE has not been applied: no error,
	// history is still recorded.
	require.NoError(t, c.Apply(context.Background(), &models.IngestionEvent{
		ID:          "sig1",
		EntityID:    "acct-unknown",
		Kind:        models.KindTransfer,
		From:        "a",
		To:          "b",
		BlockHeight: 120,
	}))

	assert.Equal(t, 1, store.holderUpdates)
	assert.Contains(t, store.history, "sig1")
}

func TestApplyRejectsUnknownKind(t *testing.T) {
	c := newTestConsumer(newFakeStore(), newFakeAssets())

	assert.Error(t, c.Apply(context.Background(), &models.IngestionEvent{
		ID:   "sig1",
		Kind: models.KindUnknown,
	}))
}

func TestHandleDeliveryAcksAppliedEvent(t *testing.T) {
	store := newFakeStore()
	c := newTestConsumer(store, newFakeAssets())

	body, err := json.Marshal(createEvent("sig1", "acct1"))
	require.NoError(t, err)

	ack := &fakeAcknowledger{}
	c.handleDelivery(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         body,
		MessageId:    "sig1",
	})

	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
	assert.Contains(t, store.entities, "acct1")
	assert.Equal(t, uint64(1), c.GetStats().Applied)
}

func TestHandleDeliveryRequeuesOnStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.failUpserts = true
	c := newTestConsumer(store, newFakeAssets())

	body, err := json.Marshal(createEvent("sig1", "acct1"))
	require.NoError(t, err)

	ack := &fakeAcknowledger{}
	c.handleDelivery(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         body,
		MessageId:    "sig1",
	})

	assert.False(t, ack.acked)
	assert.True(t, ack.nacked)
	assert.True(t, ack.requeued)
	assert.Equal(t, uint64(1), c.GetStats().Requeued)
}

func TestHandleDeliveryRejectsMalformedPayload(t *testing.T) {
	c := newTestConsumer(newFakeStore(), newFakeAssets())

	ack := &fakeAcknowledger{}
	c.handleDelivery(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte("not json"),
		MessageId:    "garbage",
	})

	// A payload that can never be applied is rejected, not requeued
	assert.False(t, ack.acked)
	assert.True(t, ack.nacked)
	assert.False(t, ack.requeued)
	assert.Equal(t, uint64(1), c.GetStats().Rejected)
}

func TestHandleDeliveryRecordsConsumeMetrics(t *testing.T) {
	store := newFakeStore()
	c := newTestConsumer(store, newFakeAssets())
	prom := metrics.NewPrometheusMetricsWith(prometheus.NewRegistry())
	c.SetMetrics(prom)

	body, err := json.Marshal(createEvent("sig1", "acct1"))
	require.NoError(t, err)
	c.handleDelivery(context.Background(), amqp.Delivery{
		Acknowledger: &fakeAcknowledger{},
		Body:         body,
		MessageId:    "sig1",
	})

	c.handleDelivery(context.Background(), amqp.Delivery{
		Acknowledger: &fakeAcknowledger{},
		Body:         []byte("not json"),
		MessageId:    "garbage",
	})

	store.failUpserts = true
	body, err = json.Marshal(createEvent("sig2", "acct2"))
	require.NoError(t, err)
	c.handleDelivery(context.Background(), amqp.Delivery{
		Acknowledger: &fakeAcknowledger{},
		Body:         body,
		MessageId:    "sig2",
	})

	queueName := testQueueConfig().IngestQueue
	assert.Equal(t, float64(1), testutil.ToFloat64(prom.EventsConsumedTotal.WithLabelValues(queueName, "applied")))
	assert.Equal(t, float64(1), testutil.ToFloat64(prom.EventsConsumedTotal.WithLabelValues(queueName, "rejected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(prom.EventsConsumedTotal.WithLabelValues(queueName, "requeued")))
	assert.Equal(t, float64(1), testutil.ToFloat64(prom.EventsRequeuedTotal))
}
