package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/spoolvault/internal/model"
	"github.com/edvin/spoolvault/internal/platform"
)

// HistoryService maintains the append-only backup ledger. Records are
// created pending and move to exactly one terminal state; terminal rows
// are never modified again.
type HistoryService struct {
	db DB

	// limit caps records kept per (user, destination). Zero keeps
	// everything.
	limit int
}

func NewHistoryService(db DB, limit int) *HistoryService {
	return &HistoryService{db: db, limit: limit}
}

// Start appends a pending record for a backup that is about to run.
func (s *HistoryService) Start(ctx context.Context, userID, dest string, startedAt time.Time) (*model.BackupRecord, error) {
	rec := &model.BackupRecord{
		ID:          platform.NewID(),
		UserID:      userID,
		Destination: dest,
		Status:      model.BackupStatusPending,
		StartedAt:   startedAt,
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO backup_records (id, user_id, destination, status, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.UserID, rec.Destination, rec.Status, rec.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("insert backup record: %w", err)
	}
	return rec, nil
}

// Complete marks a pending record completed with the archive size.
func (s *HistoryService) Complete(ctx context.Context, id string, completedAt time.Time, sizeBytes int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE backup_records SET status = $1, completed_at = $2, file_size_bytes = $3
		 WHERE id = $4 AND status = $5`,
		model.BackupStatusCompleted, completedAt, sizeBytes, id, model.BackupStatusPending)
	if err != nil {
		return fmt.Errorf("complete backup record %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("backup record %s is not pending", id)
	}
	return nil
}

// Fail marks a pending record failed with the error text.
func (s *HistoryService) Fail(ctx context.Context, id string, failedAt time.Time, message string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE backup_records SET status = $1, completed_at = $2, error_message = $3
		 WHERE id = $4 AND status = $5`,
		model.BackupStatusFailed, failedAt, message, id, model.BackupStatusPending)
	if err != nil {
		return fmt.Errorf("fail backup record %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("backup record %s is not pending", id)
	}
	return nil
}

// List returns the user's ledger newest first with cursor pagination.
// The cursor is the started_at of the last record from the previous
// page, in RFC 3339 format. An empty destination lists all of them.
func (s *HistoryService) List(ctx context.Context, userID, dest string, limit int, cursor string) ([]model.BackupRecord, bool, error) {
	query := `SELECT id, user_id, destination, status, started_at, completed_at, file_size_bytes, error_message
	          FROM backup_records WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if dest != "" {
		query += fmt.Sprintf(` AND destination = $%d`, argIdx)
		args = append(args, dest)
		argIdx++
	}
	if cursor != "" {
		before, err := time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			return nil, false, model.E(model.KindValidationError, "invalid history cursor")
		}
		query += fmt.Sprintf(` AND started_at < $%d`, argIdx)
		args = append(args, before)
		argIdx++
	}

	query += ` ORDER BY started_at DESC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list backup records: %w", err)
	}
	defer rows.Close()

	var records []model.BackupRecord
	for rows.Next() {
		var r model.BackupRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Destination, &r.Status, &r.StartedAt,
			&r.CompletedAt, &r.FileSizeBytes, &r.ErrorMessage); err != nil {
			return nil, false, fmt.Errorf("scan backup record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate backup records: %w", err)
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}
	return records, hasMore, nil
}

// Prune drops the oldest records beyond the per-destination retention cap.
func (s *HistoryService) Prune(ctx context.Context, userID, dest string) error {
	if s.limit <= 0 {
		return nil
	}
	_, err := s.db.Exec(ctx,
		`DELETE FROM backup_records
		 WHERE user_id = $1 AND destination = $2 AND id NOT IN (
		     SELECT id FROM backup_records
		     WHERE user_id = $1 AND destination = $2
		     ORDER BY started_at DESC LIMIT $3)`,
		userID, dest, s.limit)
	if err != nil {
		return fmt.Errorf("prune backup records for %s: %w", dest, err)
	}
	return nil
}
