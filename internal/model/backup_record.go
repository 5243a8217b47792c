package model

import "time"

// Backup record statuses. Records are append-only: pending finalizes to
// completed or failed exactly once and is never reopened.
const (
	BackupStatusPending   = "pending"
	BackupStatusCompleted = "completed"
	BackupStatusFailed    = "failed"
)

// BackupRecord is one entry in the per-destination history ledger.
type BackupRecord struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Destination   string     `json:"destination"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	FileSizeBytes *int64     `json:"file_size_bytes,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
}
