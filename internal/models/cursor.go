package models

import "time"

// ScanCursor is the persisted scan position for one scanner instance.
// LastProcessedSlot is monotonically non-decreasing per scanner name and is
// never advanced past a slot whose window has not fully resolved.
type ScanCursor struct {
	ScannerName       string    `json:"scanner_name" db:"scanner_name"`
	LastProcessedSlot int64     `json:"last_processed_slot" db:"last_processed_slot"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}
