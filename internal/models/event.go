package models

import (
	"time"

	"github.com/mintheist/steal-indexer/pkg/utils"
)

// OperationKind identifies the program instruction a transaction executed
type OperationKind string

const (
	KindCreate   OperationKind = "CREATE"
	KindSteal    OperationKind = "STEAL"
	KindTransfer OperationKind = "TRANSFER"
	KindUnknown  OperationKind = "UNKNOWN"
)

// IngestionEvent is the queue message produced for each matched transaction.
// ID is the chain transaction signature and serves as the idempotency key:
// applying the same event twice must leave the projection unchanged.
type IngestionEvent struct {
	ID             string        `json:"id"`
	EntityID       string        `json:"entity_id"`
	EntitySnapshot *Entity       `json:"entity_snapshot,omitempty"`
	Kind           OperationKind `json:"kind"`
	From           string        `json:"from"`
	To             string        `json:"to"`
	Amount         *uint64       `json:"amount,omitempty"` // lamports
	BlockHeight    int64         `json:"block_height"`
	Success        bool          `json:"success"`
	ObservedAt     time.Time     `json:"observed_at"`
}

// AmountSol returns the event amount in SOL, or 0 when no amount is attached
func (e *IngestionEvent) AmountSol() float64 {
	if e.Amount == nil {
		return 0
	}
	return utils.LamportsToSol(*e.Amount)
}

// EventFilter for querying history rows
type EventFilter struct {
	EntityID *string        `json:"entity_id,omitempty"`
	Kind     *OperationKind `json:"kind,omitempty"`
	From     *string        `json:"from,omitempty"`
	To       *string        `json:"to,omitempty"`
	Limit    int            `json:"limit,omitempty"`
	Offset   int            `json:"offset,omitempty"`
}
