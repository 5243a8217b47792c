package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/spoolvault/internal/crypto"
	"github.com/edvin/spoolvault/internal/destination"
	"github.com/edvin/spoolvault/internal/model"
	"github.com/edvin/spoolvault/internal/platform"
)

// DestinationService manages per-user backup destination configuration.
// Credentials are sealed with the service key before they touch the
// database and decrypted only when an adapter call needs them.
type DestinationService struct {
	db       DB
	registry *destination.Registry
	key      []byte
	timeout  time.Duration
}

func NewDestinationService(db DB, registry *destination.Registry, key []byte, timeout time.Duration) *DestinationService {
	return &DestinationService{db: db, registry: registry, key: key, timeout: timeout}
}

// boundCtx caps an outbound adapter call. A stalling provider must not
// hold a request open past the configured adapter timeout.
func (s *DestinationService) boundCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Statuses reports every supported destination for the user, configured
// or not, in a fixed order.
func (s *DestinationService) Statuses(ctx context.Context, userID string) ([]model.DestinationStatus, error) {
	rows, err := s.db.Query(ctx,
		`SELECT destination, enabled, folder_path, encrypted_credentials, last_backup_at
		 FROM backup_destinations WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list destinations for user %s: %w", userID, err)
	}
	defer rows.Close()

	byDest := make(map[string]model.DestinationStatus)
	for rows.Next() {
		var st model.DestinationStatus
		var creds *string
		if err := rows.Scan(&st.Destination, &st.Enabled, &st.FolderPath, &creds, &st.LastBackupAt); err != nil {
			return nil, fmt.Errorf("scan destination: %w", err)
		}
		st.Configured = creds != nil && *creds != ""
		byDest[st.Destination] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate destinations: %w", err)
	}

	statuses := make([]model.DestinationStatus, 0, len(model.Destinations))
	for _, dest := range model.Destinations {
		st, ok := byDest[dest]
		if !ok {
			st = model.DestinationStatus{Destination: dest}
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Get returns the stored configuration row for one destination.
func (s *DestinationService) Get(ctx context.Context, userID, dest string) (*model.DestinationConfig, error) {
	var cfg model.DestinationConfig
	var settings []byte
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, destination, enabled, folder_path, settings, encrypted_credentials, last_backup_at, created_at, updated_at
		 FROM backup_destinations WHERE user_id = $1 AND destination = $2`, userID, dest,
	).Scan(&cfg.ID, &cfg.UserID, &cfg.Destination, &cfg.Enabled, &cfg.FolderPath,
		&settings, &cfg.EncryptedCredentials, &cfg.LastBackupAt, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.E(model.KindConfigInvalid, dest+" is not configured")
		}
		return nil, fmt.Errorf("get destination %s: %w", dest, err)
	}
	if err := json.Unmarshal(settings, &cfg.Settings); err != nil {
		return nil, fmt.Errorf("decode destination settings: %w", err)
	}
	return &cfg, nil
}

// Configure stores credentials for a non-OAuth destination after a live
// connectivity test. An existing row is overwritten; the enabled flag is
// preserved so re-entering credentials does not silently re-enable a
// destination the user turned off.
func (s *DestinationService) Configure(ctx context.Context, userID, dest, folderPath string, settings model.DestinationSettings, creds *model.Credentials) (*model.DestinationStatus, error) {
	if model.OAuthDestinations[dest] {
		return nil, model.E(model.KindConfigInvalid, dest+" is configured through the OAuth flow")
	}
	adapter, err := s.registry.For(dest)
	if err != nil {
		return nil, err
	}

	tctx, cancel := s.boundCtx(ctx)
	defer cancel()
	if err := adapter.Test(tctx, destination.Config{
		UserID:      userID,
		Destination: dest,
		FolderPath:  folderPath,
		Settings:    settings,
		Credentials: creds,
	}); err != nil {
		return nil, err
	}

	return s.store(ctx, userID, dest, folderPath, settings, creds)
}

// SaveOAuthCredentials persists a credential obtained from a completed
// authorization-code exchange.
func (s *DestinationService) SaveOAuthCredentials(ctx context.Context, userID, dest string, creds *model.Credentials) (*model.DestinationStatus, error) {
	if !model.OAuthDestinations[dest] {
		return nil, model.E(model.KindConfigInvalid, dest+" is not an OAuth destination")
	}
	return s.store(ctx, userID, dest, "", model.DestinationSettings{}, creds)
}

// ExchangeOAuthCode swaps a redirect code for a long-lived credential
// and stores it for the user the consent flow was issued to.
func (s *DestinationService) ExchangeOAuthCode(ctx context.Context, userID, dest, code string) (*model.DestinationStatus, error) {
	adapter, err := s.registry.OAuthFor(dest)
	if err != nil {
		return nil, err
	}

	tctx, cancel := s.boundCtx(ctx)
	defer cancel()
	creds, err := adapter.ExchangeCode(tctx, code)
	if err != nil {
		return nil, err
	}
	return s.SaveOAuthCredentials(ctx, userID, dest, creds)
}

func (s *DestinationService) store(ctx context.Context, userID, dest, folderPath string, settings model.DestinationSettings, creds *model.Credentials) (*model.DestinationStatus, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("encode credentials: %w", err)
	}
	sealed, err := crypto.Encrypt(plaintext, s.key)
	if err != nil {
		return nil, fmt.Errorf("encrypt credentials: %w", err)
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO backup_destinations (id, user_id, destination, folder_path, settings, encrypted_credentials)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, destination) DO UPDATE
		 SET folder_path = EXCLUDED.folder_path,
		     settings = EXCLUDED.settings,
		     encrypted_credentials = EXCLUDED.encrypted_credentials,
		     updated_at = now()`,
		platform.NewID(), userID, dest, folderPath, settingsJSON, sealed)
	if err != nil {
		return nil, fmt.Errorf("store destination %s: %w", dest, err)
	}

	cfg, err := s.Get(ctx, userID, dest)
	if err != nil {
		return nil, err
	}
	return &model.DestinationStatus{
		Destination:  dest,
		Configured:   cfg.Configured(),
		Enabled:      cfg.Enabled,
		FolderPath:   cfg.FolderPath,
		LastBackupAt: cfg.LastBackupAt,
	}, nil
}

// Toggle flips the enabled flag. Enabling requires a stored credential;
// the WHERE clause enforces it so the check and the write are one
// statement.
func (s *DestinationService) Toggle(ctx context.Context, userID, dest string, enabled bool) error {
	if !model.ValidDestination(dest) {
		return model.E(model.KindConfigInvalid, "unsupported destination "+dest)
	}
	query := `UPDATE backup_destinations SET enabled = $1, updated_at = now()
	          WHERE user_id = $2 AND destination = $3`
	if enabled {
		query += ` AND encrypted_credentials IS NOT NULL AND encrypted_credentials <> ''`
	}
	tag, err := s.db.Exec(ctx, query, enabled, userID, dest)
	if err != nil {
		return fmt.Errorf("toggle destination %s: %w", dest, err)
	}
	if tag.RowsAffected() == 0 {
		if enabled {
			return model.E(model.KindConfigInvalid, "cannot enable "+dest+": no credentials stored")
		}
		return model.E(model.KindConfigInvalid, dest+" is not configured")
	}
	return nil
}

// Disconnect removes the destination row entirely: credentials, folder
// path, settings, and the enabled flag go away in one statement.
func (s *DestinationService) Disconnect(ctx context.Context, userID, dest string) error {
	if !model.ValidDestination(dest) {
		return model.E(model.KindConfigInvalid, "unsupported destination "+dest)
	}
	tag, err := s.db.Exec(ctx,
		`DELETE FROM backup_destinations WHERE user_id = $1 AND destination = $2`, userID, dest)
	if err != nil {
		return fmt.Errorf("disconnect destination %s: %w", dest, err)
	}
	if tag.RowsAffected() == 0 {
		return model.E(model.KindConfigInvalid, dest+" is not configured")
	}
	return nil
}

// AdapterConfig loads and decrypts the configuration an adapter call
// needs. Unconfigured destinations are ConfigInvalid.
func (s *DestinationService) AdapterConfig(ctx context.Context, userID, dest string) (*destination.Config, error) {
	cfg, err := s.Get(ctx, userID, dest)
	if err != nil {
		return nil, err
	}
	if !cfg.Configured() {
		return nil, model.E(model.KindConfigInvalid, dest+" has no stored credentials")
	}
	plaintext, err := crypto.Decrypt(*cfg.EncryptedCredentials, s.key)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials for %s: %w", dest, err)
	}
	var creds model.Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials for %s: %w", dest, err)
	}
	return &destination.Config{
		UserID:      userID,
		Destination: dest,
		FolderPath:  cfg.FolderPath,
		Settings:    cfg.Settings,
		Credentials: &creds,
		PersistCredentials: func(ctx context.Context, refreshed *model.Credentials) error {
			return s.updateCredentials(ctx, userID, dest, refreshed)
		},
	}, nil
}

// updateCredentials reseals only the credential column. Used when an
// adapter's token source refreshes a rotated OAuth token mid-call.
func (s *DestinationService) updateCredentials(ctx context.Context, userID, dest string, creds *model.Credentials) error {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials for %s: %w", dest, err)
	}
	sealed, err := crypto.Encrypt(plaintext, s.key)
	if err != nil {
		return fmt.Errorf("seal credentials for %s: %w", dest, err)
	}
	_, err = s.db.Exec(ctx,
		`UPDATE backup_destinations SET encrypted_credentials = $1, updated_at = now()
		 WHERE user_id = $2 AND destination = $3`, sealed, userID, dest)
	if err != nil {
		return fmt.Errorf("update credentials for %s: %w", dest, err)
	}
	return nil
}

// SetLastBackup records the completion time of the newest successful backup.
func (s *DestinationService) SetLastBackup(ctx context.Context, userID, dest string, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE backup_destinations SET last_backup_at = $1, updated_at = now()
		 WHERE user_id = $2 AND destination = $3`, at, userID, dest)
	if err != nil {
		return fmt.Errorf("set last backup for %s: %w", dest, err)
	}
	return nil
}
