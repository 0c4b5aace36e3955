package models

import (
	"time"
)

// NotificationType defines the delivery channel of a notification
type NotificationType string

const (
	NotificationTypeWebhook NotificationType = "webhook"
	NotificationTypeLog     NotificationType = "log"
)

// EventNotification is the fan-out message published after an ingestion
// event has been applied to the projection store. Delivery is best-effort.
type EventNotification struct {
	ID          string        `json:"id"`
	EventID     string        `json:"event_id"` // transaction signature
	Kind        OperationKind `json:"kind"`
	EntityID    string        `json:"entity_id"`
	From        string        `json:"from"`
	To          string        `json:"to"`
	Amount      *uint64       `json:"amount,omitempty"` // lamports
	BlockHeight int64         `json:"block_height"`
	CreatedAt   time.Time     `json:"created_at"`
}

// NotificationChannel defines a notification channel configuration
type NotificationChannel struct {
	ID     string           `json:"id"`
	Type   NotificationType `json:"type"`
	Name   string           `json:"name"`
	Target string           `json:"target"` // webhook URL for webhook channels
	Active bool             `json:"active"`
}
