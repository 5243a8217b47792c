package model

import "time"

// FormatVersion is the newest archive format this build reads and writes.
// Readers must reject archives with a higher format_version outright.
const FormatVersion = 1

// Restore scopes.
const (
	ScopeUser  = "user"
	ScopeAdmin = "admin"
)

// Manifest is the self-describing header stored as manifest.json at the
// root of every snapshot archive.
type Manifest struct {
	FormatVersion int            `json:"format_version"`
	CreatedAt     time.Time      `json:"created_at"`
	Scope         string         `json:"scope"`
	EntityCounts  map[string]int `json:"entity_counts"`
}

// RestoreReport summarizes one restore. It is produced once and returned
// even when every count is zero.
type RestoreReport struct {
	RestoredCounts map[string]int `json:"restored_counts"`
	CreatedUsers   int            `json:"created_users,omitempty"`
	Note           string         `json:"note,omitempty"`
}
