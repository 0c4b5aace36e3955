package models

import "time"

// PendingUpload is the message on the pending-uploads queue: an asset staged
// for an entity whose CREATE event has not been observed yet. Items that
// expire unconfirmed are dead-lettered for reconciliation.
type PendingUpload struct {
	EntityID   string    `json:"entity_id"`
	StagingRef string    `json:"staging_ref"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// UploadReconciliation records a dead-lettered pending upload so staged
// assets can be cleaned up out of band.
type UploadReconciliation struct {
	ID           string    `json:"id" db:"id"`
	EntityID     string    `json:"entity_id" db:"entity_id"`
	StagingRef   string    `json:"staging_ref" db:"staging_ref"`
	DeadLettered time.Time `json:"dead_lettered_at" db:"dead_lettered_at"`
}
