package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/spoolvault/internal/core"
	"github.com/edvin/spoolvault/internal/crypto"
	"github.com/edvin/spoolvault/internal/model"
)

func newAuthFixture() (*handlerMockDB, *Auth) {
	db := &handlerMockDB{}
	return db, NewAuth(core.NewSessionService(db))
}

// ---------- Login ----------

func TestAuthLogin_InvalidJSON(t *testing.T) {
	_, h := newAuthFixture()
	rec := httptest.NewRecorder()
	r := newRequestRaw(http.MethodPost, "/auth/login", "{bad json")

	h.Login(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "invalid JSON")
}

func TestAuthLogin_MissingPassword(t *testing.T) {
	_, h := newAuthFixture()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/auth/login", map[string]any{"username": "edvin"})

	h.Login(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "validation error")
}

func TestAuthLogin_UnknownUser(t *testing.T) {
	db, h := newAuthFixture()
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(errRow(pgx.ErrNoRows))

	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/auth/login", map[string]any{
		"username": "ghost",
		"password": "hunter2",
	})

	h.Login(rec, r)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Equal(t, "invalid username or password", body["error"])
}

func TestAuthLogin_WrongPassword(t *testing.T) {
	hash, err := crypto.HashPassword("correct-horse")
	require.NoError(t, err)

	db, h := newAuthFixture()
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(userLoginRow("u1", hash))

	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/auth/login", map[string]any{
		"username": "edvin",
		"password": "battery-staple",
	})

	h.Login(rec, r)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthLogin_OK(t *testing.T) {
	hash, err := crypto.HashPassword("correct-horse")
	require.NoError(t, err)

	db, h := newAuthFixture()
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(userLoginRow("u1", hash))
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/auth/login", map[string]any{
		"username": "edvin",
		"password": "correct-horse",
	})

	h.Login(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Token string      `json:"token"`
		User  *model.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Token)
	require.NotNil(t, body.User)
	assert.Equal(t, "u1", body.User.ID)
	assert.NotContains(t, rec.Body.String(), hash)
}

func userLoginRow(id, hash string) *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		*dest[0].(*string) = id
		*dest[1].(*string) = "edvin"
		*dest[2].(*string) = "edvin@example.com"
		*dest[3].(*string) = hash
		*dest[4].(*string) = model.RoleUser
		*dest[5].(*bool) = false
		*dest[6].(*time.Time) = time.Now()
		*dest[7].(*time.Time) = time.Now()
		return nil
	}}
}

// ---------- Logout ----------

func TestAuthLogout_MissingToken(t *testing.T) {
	_, h := newAuthFixture()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/auth/logout", nil)

	h.Logout(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthLogout_OK(t *testing.T) {
	db, h := newAuthFixture()
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)

	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/auth/logout", nil)
	r.Header.Set("Authorization", "Bearer tok-abc")

	h.Logout(rec, r)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}
