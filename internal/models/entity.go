package models

import (
	"time"
)

// Entity represents one program-owned token account: the projection row and,
// when attached to an IngestionEvent, an immutable point-in-time snapshot of
// the on-chain account state.
type Entity struct {
	ID           string    `json:"id" db:"id"` // program account pubkey, base58
	Name         string    `json:"name" db:"name"`
	Symbol       string    `json:"symbol" db:"symbol"`
	Description  string    `json:"description" db:"description"`
	Image        string    `json:"image" db:"image"`
	Holder       string    `json:"holder" db:"holder"`
	Minter       string    `json:"minter" db:"minter"`
	FeeRecipient string    `json:"fee_recipient" db:"fee_recipient"`
	CurrentPrice uint64    `json:"current_price" db:"current_price"` // lamports
	NextPrice    uint64    `json:"next_price" db:"next_price"`       // lamports
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// HistoryRow is one immutable entry in the transaction history log,
// keyed by the chain transaction signature.
type HistoryRow struct {
	ID          string        `json:"id" db:"id"`
	EntityID    string        `json:"entity_id" db:"entity_id"`
	Kind        OperationKind `json:"kind" db:"kind"`
	FromAddr    string        `json:"from" db:"from_addr"`
	ToAddr      string        `json:"to" db:"to_addr"`
	Amount      *uint64       `json:"amount,omitempty" db:"amount"`
	BlockHeight int64         `json:"block_height" db:"block_height"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}
