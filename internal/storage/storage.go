// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/mintheist/steal-indexer/internal/models"
)

// Storage defines the interface for the projection store. Entity and history
// writes are idempotent: the queue delivers events at least once.
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Entity projection
	UpsertEntity(ctx context.Context, entity *models.Entity) error
	UpdateEntityHolder(ctx context.Context, entityID, holder string) error
	GetEntity(ctx context.Context, id string) (*models.Entity, error)
	GetEntitiesByHolder(ctx context.Context, holder string) ([]*models.Entity, error)
	GetEntitiesByMinter(ctx context.Context, minter string) ([]*models.Entity, error)

	// Transaction history (append-only, insert-if-absent by signature)
	InsertHistory(ctx context.Context, row *models.HistoryRow) error
	GetHistory(ctx context.Context, filter models.EventFilter) ([]*models.HistoryRow, error)

	// Scan cursor
	GetCursor(ctx context.Context, scannerName string) (*models.ScanCursor, error)
	SaveCursor(ctx context.Context, cursor *models.ScanCursor) error

	// Upload reconciliation
	RecordUploadReconciliation(ctx context.Context, rec *models.UploadReconciliation) error
	GetUploadReconciliations(ctx context.Context, limit int) ([]*models.UploadReconciliation, error)

	// Statistics
	GetStorageStats(ctx context.Context) (*StorageStats, error)
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalEntities        int64      `json:"total_entities"`
	TotalHistoryRows     int64      `json:"total_history_rows"`
	TotalReconciliations int64      `json:"total_reconciliations"`
	LatestHistoryAt      *time.Time `json:"latest_history_at,omitempty"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
