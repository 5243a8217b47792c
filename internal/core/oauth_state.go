package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/spoolvault/internal/model"
	"github.com/edvin/spoolvault/internal/platform"
)

// stateTTL bounds how long an issued consent URL stays valid.
const stateTTL = 10 * time.Minute

// OAuthStateService issues and redeems the single-use state tokens that
// bind an authorization-code callback to the user who started the flow.
// Only the sha256 hash of a state is stored.
type OAuthStateService struct {
	db  DB
	now func() time.Time
}

func NewOAuthStateService(db DB) *OAuthStateService {
	return &OAuthStateService{db: db, now: time.Now}
}

// Issue mints a state token for one (user, destination) flow.
func (s *OAuthStateService) Issue(ctx context.Context, userID, dest string) (string, error) {
	state := platform.NewToken()
	_, err := s.db.Exec(ctx,
		`INSERT INTO backup_oauth_states (state_hash, user_id, destination, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		hashToken(state), userID, dest, s.now().Add(stateTTL))
	if err != nil {
		return "", fmt.Errorf("insert oauth state: %w", err)
	}
	return state, nil
}

// Consume redeems a state token exactly once, returning the user and
// destination it was issued for. The DELETE..RETURNING makes redemption
// atomic: a replayed state finds no row.
func (s *OAuthStateService) Consume(ctx context.Context, state string) (userID, dest string, err error) {
	var expiresAt time.Time
	err = s.db.QueryRow(ctx,
		`DELETE FROM backup_oauth_states WHERE state_hash = $1
		 RETURNING user_id, destination, expires_at`,
		hashToken(state)).Scan(&userID, &dest, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", model.E(model.KindValidationError, "state token is invalid or already used")
		}
		return "", "", fmt.Errorf("consume oauth state: %w", err)
	}
	if s.now().After(expiresAt) {
		return "", "", model.E(model.KindValidationError, "state token expired")
	}
	return userID, dest, nil
}

// ExpireStale clears abandoned flows past their deadline.
func (s *OAuthStateService) ExpireStale(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM backup_oauth_states WHERE expires_at < now()`)
	if err != nil {
		return fmt.Errorf("expire oauth states: %w", err)
	}
	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
