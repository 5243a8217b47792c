package response

import (
	"encoding/json"
	"net/http"

	"github.com/edvin/spoolvault/internal/model"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteServiceError maps a domain error to its HTTP status. Unclassified
// errors become 500 with a generic message so internals never leak.
func WriteServiceError(w http.ResponseWriter, err error) {
	kind := model.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	WriteJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(kind),
	})
}

var kindStatus = map[model.ErrorKind]int{
	model.KindValidationError:   http.StatusBadRequest,
	model.KindAuthExpired:       http.StatusConflict,
	model.KindBackupInProgress:  http.StatusConflict,
	model.KindConfigInvalid:     http.StatusUnprocessableEntity,
	model.KindUnsupportedFormat: http.StatusUnprocessableEntity,
	model.KindNetworkError:      http.StatusBadGateway,
	model.KindQuotaExceeded:     http.StatusInsufficientStorage,
	model.KindRestoreConflict:   http.StatusConflict,
}

// PaginatedResponse wraps a list with pagination metadata.
type PaginatedResponse struct {
	Items      any    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// WritePaginated writes a paginated JSON response.
func WritePaginated(w http.ResponseWriter, status int, items any, nextCursor string, hasMore bool) {
	WriteJSON(w, status, PaginatedResponse{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	})
}
