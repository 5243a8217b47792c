package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/edvin/spoolvault/internal/api/request"
	"github.com/edvin/spoolvault/internal/api/response"
	"github.com/edvin/spoolvault/internal/core"
	"github.com/edvin/spoolvault/internal/model"
)

type Auth struct {
	sessions *core.SessionService
}

func NewAuth(sessions *core.SessionService) *Auth {
	return &Auth{sessions: sessions}
}

// Login checks the password and issues a bearer token.
func (h *Auth) Login(w http.ResponseWriter, r *http.Request) {
	var req request.Login
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, token, err := h.sessions.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, core.ErrInvalidLogin) {
			response.WriteError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, struct {
		Token string      `json:"token"`
		User  *model.User `json:"user"`
	}{Token: token, User: user})
}

// Logout revokes the presented bearer token. Unknown tokens succeed so
// logout is idempotent.
func (h *Auth) Logout(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		response.WriteError(w, http.StatusBadRequest, "missing bearer token")
		return
	}

	if err := h.sessions.Logout(r.Context(), token); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
