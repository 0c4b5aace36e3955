// File: internal/storage/assets.go
package storage

import (
	"context"
	"sync"

	"github.com/mintheist/steal-indexer/pkg/utils"
	"github.com/sirupsen/logrus"
)

// LocalAssetStore tracks staged-to-permanent asset promotion in memory.
// The actual asset bytes live in an external object store keyed by entity
// ID; promotion here only flips the staged flag so repeated CREATE
// deliveries stay idempotent.
type LocalAssetStore struct {
	mu       sync.Mutex
	promoted map[string]bool
	logger   *logrus.Entry
}

// NewLocalAssetStore creates a new in-process asset store
func NewLocalAssetStore() *LocalAssetStore {
	return &LocalAssetStore{
		promoted: make(map[string]bool),
		logger:   utils.ComponentLogger("assets"),
	}
}

// Promote marks the staged asset for an entity as permanent. Promoting an
// already promoted entity is a no-op.
func (a *LocalAssetStore) Promote(ctx context.Context, entityID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.promoted[entityID] {
		return nil
	}

	a.promoted[entityID] = true
	a.logger.WithField("entity_id", entityID).Debug("Asset promoted")
	return nil
}

// IsPromoted reports whether an entity's asset has been promoted
func (a *LocalAssetStore) IsPromoted(entityID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.promoted[entityID]
}
