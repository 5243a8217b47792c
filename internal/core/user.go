package core

import (
	"context"
	"fmt"

	"github.com/edvin/spoolvault/internal/crypto"
	"github.com/edvin/spoolvault/internal/model"
	"github.com/edvin/spoolvault/internal/platform"
)

// UserService covers the account operations the backup core needs:
// bootstrap via the create-admin subcommand and lookups for handlers.
type UserService struct {
	db DB
}

func NewUserService(db DB) *UserService {
	return &UserService{db: db}
}

// Create adds an account with an argon2id password hash.
func (s *UserService) Create(ctx context.Context, username, email, password, role string) (*model.User, error) {
	if role != model.RoleAdmin {
		role = model.RoleUser
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &model.User{
		ID:       platform.NewID(),
		Username: username,
		Email:    email,
		Role:     role,
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO users (id, username, email, password_hash, role)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		u.ID, u.Username, u.Email, hash, u.Role,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user %s: %w", username, err)
	}
	return u, nil
}

// GetByID retrieves one account.
func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(ctx,
		`SELECT id, username, email, role, must_change_password, created_at, updated_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.MustChangePassword, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}
