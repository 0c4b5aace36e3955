// File: internal/queue/reconciler_test.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintheist/steal-indexer/internal/models"
)

type fakeReconciliationStore struct {
	entities    map[string]*models.Entity
	records     []*models.UploadReconciliation
	fail        bool
	failLookups bool
}

func newFakeReconciliationStore() *fakeReconciliationStore {
	return &fakeReconciliationStore{entities: make(map[string]*models.Entity)}
}

func (f *fakeReconciliationStore) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	if f.failLookups {
		return nil, fmt.Errorf("store unavailable")
	}
	return f.entities[id], nil
}

func (f *fakeReconciliationStore) RecordUploadReconciliation(ctx context.Context, rec *models.UploadReconciliation) error {
	if f.fail {
		return fmt.Errorf("store unavailable")
	}
	f.records = append(f.records, rec)
	return nil
}

func deadLetterDelivery(t *testing.T, ack *fakeAcknowledger) amqp.Delivery {
	t.Helper()

	body, err := json.Marshal(models.PendingUpload{
		EntityID:   "entity-1",
		StagingRef: "staging/entity-1.png",
		EnqueuedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	return amqp.Delivery{Acknowledger: ack, Body: body}
}

func TestReconcilerRecordsExpiredUpload(t *testing.T) {
	store := newFakeReconciliationStore()
	reconciler := NewReconciler(nil, store, testQueueConfig())
	ack := &fakeAcknowledger{}

	reconciler.handle(context.Background(), deadLetterDelivery(t, ack))

	require.Len(t, store.records, 1)
	assert.Equal(t, "entity-1", store.records[0].EntityID)
	assert.Equal(t, "staging/entity-1.png", store.records[0].StagingRef)
	assert.NotEmpty(t, store.records[0].ID)
	assert.False(t, store.records[0].DeadLettered.IsZero())
	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
}

func TestReconcilerRequeuesOnStoreFailure(t *testing.T) {
	store := newFakeReconciliationStore()
	store.fail = true
	reconciler := NewReconciler(nil, store, testQueueConfig())
	ack := &fakeAcknowledger{}

	reconciler.handle(context.Background(), deadLetterDelivery(t, ack))

	assert.Empty(t, store.records)
	assert.False(t, ack.acked)
	assert.True(t, ack.nacked)
	assert.True(t, ack.requeued)
}

func TestReconcilerSkipsConfirmedUpload(t *testing.T) {
	store := newFakeReconciliationStore()
	store.entities["entity-1"] = &models.Entity{ID: "entity-1", Holder: "minterA"}
	reconciler := NewReconciler(nil, store, testQueueConfig())
	ack := &fakeAcknowledger{}

	reconciler.handle(context.Background(), deadLetterDelivery(t, ack))

	// The entity row exists, so the CREATE was applied and the asset
	// promoted. Nothing to reconcile.
	assert.Empty(t, store.records)
	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
}

func TestReconcilerRequeuesOnLookupFailure(t *testing.T) {
	store := newFakeReconciliationStore()
	store.failLookups = true
	reconciler := NewReconciler(nil, store, testQueueConfig())
	ack := &fakeAcknowledger{}

	reconciler.handle(context.Background(), deadLetterDelivery(t, ack))

	assert.Empty(t, store.records)
	assert.True(t, ack.nacked)
	assert.True(t, ack.requeued)
}

func TestReconcilerRejectsMalformedMessage(t *testing.T) {
	store := newFakeReconciliationStore()
	reconciler := NewReconciler(nil, store, testQueueConfig())
	ack := &fakeAcknowledger{}

	reconciler.handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("not json")})

	assert.Empty(t, store.records)
	assert.True(t, ack.nacked)
	assert.False(t, ack.requeued)
}
