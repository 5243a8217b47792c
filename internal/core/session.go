package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/spoolvault/internal/crypto"
	"github.com/edvin/spoolvault/internal/model"
	"github.com/edvin/spoolvault/internal/platform"
)

const sessionTTL = 30 * 24 * time.Hour

// ErrInvalidLogin is returned for a bad username or password without
// revealing which one was wrong.
var ErrInvalidLogin = errors.New("invalid username or password")

// ErrInvalidSession is returned for unknown or expired session tokens.
var ErrInvalidSession = errors.New("invalid or expired session")

// SessionService issues and validates bearer-token sessions. Only the
// sha256 hash of a token is stored, so a leaked sessions table cannot be
// replayed.
type SessionService struct {
	db  DB
	now func() time.Time
}

func NewSessionService(db DB) *SessionService {
	return &SessionService{db: db, now: time.Now}
}

// Login checks the password and issues a session token. The raw token is
// returned exactly once.
func (s *SessionService) Login(ctx context.Context, username, password string) (*model.User, string, error) {
	var u model.User
	err := s.db.QueryRow(ctx,
		`SELECT id, username, email, password_hash, role, must_change_password, created_at, updated_at
		 FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role,
		&u.MustChangePassword, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrInvalidLogin
		}
		return nil, "", fmt.Errorf("get user %s: %w", username, err)
	}
	if !crypto.VerifyPassword(password, u.PasswordHash) {
		return nil, "", ErrInvalidLogin
	}

	token := platform.NewToken()
	_, err = s.db.Exec(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, expires_at) VALUES ($1, $2, $3, $4)`,
		platform.NewID(), u.ID, hashToken(token), s.now().Add(sessionTTL))
	if err != nil {
		return nil, "", fmt.Errorf("insert session: %w", err)
	}
	return &u, token, nil
}

// Validate resolves a bearer token to its user.
func (s *SessionService) Validate(ctx context.Context, token string) (*model.User, error) {
	var u model.User
	var expiresAt time.Time
	err := s.db.QueryRow(ctx,
		`SELECT u.id, u.username, u.email, u.role, u.must_change_password, u.created_at, u.updated_at, s.expires_at
		 FROM sessions s JOIN users u ON u.id = s.user_id
		 WHERE s.token_hash = $1`, hashToken(token),
	).Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.MustChangePassword,
		&u.CreatedAt, &u.UpdatedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("look up session: %w", err)
	}
	if s.now().After(expiresAt) {
		return nil, ErrInvalidSession
	}
	return &u, nil
}

// Logout revokes one session token. Unknown tokens are a no-op.
func (s *SessionService) Logout(ctx context.Context, token string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, hashToken(token))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// RevokeForUser invalidates every session of one user. Called after a
// restore touches that user's data.
func (s *SessionService) RevokeForUser(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("revoke sessions for user %s: %w", userID, err)
	}
	return nil
}

// RevokeOthers invalidates every session except the given user's. Used
// after an admin restore so affected tenants re-authenticate while the
// admin who ran it stays logged in.
func (s *SessionService) RevokeOthers(ctx context.Context, exceptUserID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE user_id <> $1`, exceptUserID)
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}
