// File: internal/notification/channel_test.go
package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintheist/steal-indexer/internal/config"
	"github.com/mintheist/steal-indexer/internal/models"
)

func testNotification() *models.EventNotification {
	amount := uint64(560_000_000)
	return &models.EventNotification{
		ID:          "n1",
		EventID:     "sig1",
		Kind:        models.KindSteal,
		EntityID:    "acct1",
		From:        "victim",
		To:          "thief",
		Amount:      &amount,
		BlockHeight: 100,
		CreatedAt:   time.Now(),
	}
}

func TestWebhookChannelPostsPayload(t *testing.T) {
	var received WebhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := NewWebhookChannel(&config.NotificationConfig{
		WebhookURL:     server.URL,
		WebhookTimeout: 5 * time.Second,
		RetryAttempts:  1,
	})

	require.NoError(t, channel.Send(context.Background(), testNotification()))
	require.NotNil(t, received.Notification)
	assert.Equal(t, "sig1", received.Notification.EventID)
	assert.Equal(t, models.KindSteal, received.Notification.Kind)
	assert.Equal(t, "steal-indexer", received.Source)
}

func TestWebhookChannelRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := NewWebhookChannel(&config.NotificationConfig{
		WebhookURL:     server.URL,
		WebhookTimeout: 5 * time.Second,
		RetryAttempts:  3,
		RetryDelay:     time.Millisecond,
	})

	require.NoError(t, channel.Send(context.Background(), testNotification()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookChannelGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	channel := NewWebhookChannel(&config.NotificationConfig{
		WebhookURL:     server.URL,
		WebhookTimeout: 5 * time.Second,
		RetryAttempts:  2,
		RetryDelay:     time.Millisecond,
	})

	err := channel.Send(context.Background(), testNotification())
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLogChannelNeverFails(t *testing.T) {
	channel := NewLogChannel()
	assert.Equal(t, models.NotificationTypeLog, channel.Type())
	require.NoError(t, channel.Send(context.Background(), testNotification()))

	// Amount is optional
	n := testNotification()
	n.Amount = nil
	require.NoError(t, channel.Send(context.Background(), n))
}
