package core

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/spoolvault/internal/crypto"
	"github.com/edvin/spoolvault/internal/model"
)

func userRow(t *testing.T, password string) *mockRow {
	t.Helper()
	hash, err := crypto.HashPassword(password)
	require.NoError(t, err)
	now := time.Now().Truncate(time.Microsecond)
	return &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*string)) = "user-1"
		*(dest[1].(*string)) = "edvin"
		*(dest[2].(*string)) = "edvin@example.com"
		*(dest[3].(*string)) = hash
		*(dest[4].(*string)) = model.RoleUser
		*(dest[5].(*bool)) = false
		*(dest[6].(*time.Time)) = now
		*(dest[7].(*time.Time)) = now
		return nil
	}}
}

// ---------- Login ----------

func TestSessionService_Login_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewSessionService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(userRow(t, "hunter2"))

	var storedHash string
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			storedHash = args.Get(2).([]any)[2].(string)
		}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	user, token, err := svc.Login(ctx, "edvin", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "edvin", user.Username)
	assert.NotEmpty(t, token)
	assert.Equal(t, hashToken(token), storedHash)
	assert.NotEqual(t, token, storedHash)
}

func TestSessionService_Login_WrongPassword(t *testing.T) {
	db := &mockDB{}
	svc := NewSessionService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(userRow(t, "hunter2"))

	_, _, err := svc.Login(ctx, "edvin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidLogin)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionService_Login_UnknownUser(t *testing.T) {
	db := &mockDB{}
	svc := NewSessionService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(errRow(pgx.ErrNoRows))

	_, _, err := svc.Login(ctx, "ghost", "whatever")
	assert.ErrorIs(t, err, ErrInvalidLogin)
}

// ---------- Validate ----------

func sessionRow(expiresAt time.Time) *mockRow {
	now := time.Now().Truncate(time.Microsecond)
	return &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*string)) = "user-1"
		*(dest[1].(*string)) = "edvin"
		*(dest[2].(*string)) = "edvin@example.com"
		*(dest[3].(*string)) = model.RoleUser
		*(dest[4].(*bool)) = false
		*(dest[5].(*time.Time)) = now
		*(dest[6].(*time.Time)) = now
		*(dest[7].(*time.Time)) = expiresAt
		return nil
	}}
}

func TestSessionService_Validate_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewSessionService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(sessionRow(time.Now().Add(time.Hour)))

	user, err := svc.Validate(ctx, "some-token")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
}

func TestSessionService_Validate_Expired(t *testing.T) {
	db := &mockDB{}
	svc := NewSessionService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(sessionRow(time.Now().Add(-time.Minute)))

	_, err := svc.Validate(ctx, "some-token")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessionService_Validate_Unknown(t *testing.T) {
	db := &mockDB{}
	svc := NewSessionService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(errRow(pgx.ErrNoRows))

	_, err := svc.Validate(ctx, "bogus")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

// ---------- Revocation ----------

func TestSessionService_RevokeForUser(t *testing.T) {
	db := &mockDB{}
	svc := NewSessionService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("DELETE 2"), nil)

	require.NoError(t, svc.RevokeForUser(ctx, "user-1"))
	db.AssertExpectations(t)
}

func TestSessionService_RevokeOthers(t *testing.T) {
	db := &mockDB{}
	svc := NewSessionService(db)
	ctx := context.Background()

	var except string
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			except = args.Get(2).([]any)[0].(string)
		}).
		Return(pgconn.NewCommandTag("DELETE 7"), nil)

	require.NoError(t, svc.RevokeOthers(ctx, "admin-1"))
	assert.Equal(t, "admin-1", except)
}
