package handler

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	mw "github.com/edvin/spoolvault/internal/api/middleware"
	"github.com/edvin/spoolvault/internal/api/request"
	"github.com/edvin/spoolvault/internal/api/response"
	"github.com/edvin/spoolvault/internal/core"
	"github.com/edvin/spoolvault/internal/destination"
	"github.com/edvin/spoolvault/internal/metrics"
	"github.com/edvin/spoolvault/internal/model"
)

// maxArchiveBytes caps uploaded restore archives.
const maxArchiveBytes = 512 << 20

type Backup struct {
	destinations *core.DestinationService
	history      *core.HistoryService
	states       *core.OAuthStateService
	orchestrator *core.Orchestrator
	registry     *destination.Registry
}

func NewBackup(destinations *core.DestinationService, history *core.HistoryService,
	states *core.OAuthStateService, orchestrator *core.Orchestrator,
	registry *destination.Registry) *Backup {
	return &Backup{
		destinations: destinations,
		history:      history,
		states:       states,
		orchestrator: orchestrator,
		registry:     registry,
	}
}

// Status reports every destination, configured or not.
func (h *Backup) Status(w http.ResponseWriter, r *http.Request) {
	user := mw.UserFrom(r.Context())

	statuses, err := h.destinations.Statuses(r.Context(), user.ID)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, statuses)
}

// AuthURL starts the consent flow for an OAuth destination.
func (h *Backup) AuthURL(w http.ResponseWriter, r *http.Request) {
	user := mw.UserFrom(r.Context())
	dest, err := request.Destination(chi.URLParam(r, "destination"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	adapter, err := h.registry.OAuthFor(dest)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	state, err := h.states.Issue(r.Context(), user.ID, dest)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{
		"auth_url": adapter.AuthorizationURL(state),
	})
}

// OAuthCallback consumes the state token, exchanges the code, and stores
// the credential for the user the state was issued to. The browser lands
// here on redirect, so the route carries no session.
func (h *Backup) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		response.WriteError(w, http.StatusBadRequest, "missing state or code parameter")
		return
	}

	userID, dest, err := h.states.Consume(r.Context(), state)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	status, err := h.destinations.ExchangeOAuthCode(r.Context(), userID, dest, code)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, status)
}

// Configure stores a credential-based destination after a connectivity
// test against the live provider.
func (h *Backup) Configure(w http.ResponseWriter, r *http.Request) {
	user := mw.UserFrom(r.Context())

	var req request.ConfigureDestination
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := h.destinations.Configure(r.Context(), user.ID, req.Destination,
		req.FolderPath, req.Settings, &req.Credentials)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, status)
}

// Toggle flips the enabled flag. Enabling requires a stored credential
// and never triggers a backup by itself.
func (h *Backup) Toggle(w http.ResponseWriter, r *http.Request) {
	user := mw.UserFrom(r.Context())
	dest, err := request.Destination(chi.URLParam(r, "destination"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.ToggleDestination
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.destinations.Toggle(r.Context(), user.ID, dest, *req.Enabled); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Disconnect wipes the stored credential and configuration.
func (h *Backup) Disconnect(w http.ResponseWriter, r *http.Request) {
	user := mw.UserFrom(r.Context())
	dest, err := request.Destination(chi.URLParam(r, "destination"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.destinations.Disconnect(r.Context(), user.ID, dest); err != nil {
		response.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BackupNow runs a synchronous backup to one destination.
func (h *Backup) BackupNow(w http.ResponseWriter, r *http.Request) {
	user := mw.UserFrom(r.Context())
	dest, err := request.Destination(chi.URLParam(r, "destination"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.orchestrator.BackupNow(r.Context(), user.ID, dest)
	if err != nil {
		metrics.BackupsTotal.WithLabelValues(dest, "failure").Inc()
		response.WriteServiceError(w, err)
		return
	}

	metrics.BackupsTotal.WithLabelValues(dest, "success").Inc()
	if rec.FileSizeBytes != nil {
		metrics.BackupBytes.WithLabelValues(dest).Add(float64(*rec.FileSizeBytes))
	}
	response.WriteJSON(w, http.StatusOK, rec)
}

// History lists the backup ledger, newest first, cursor-paginated.
func (h *Backup) History(w http.ResponseWriter, r *http.Request) {
	user := mw.UserFrom(r.Context())
	p := request.ParsePagination(r)

	dest := r.URL.Query().Get("destination")
	if dest != "" {
		if _, err := request.Destination(dest); err != nil {
			response.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	records, hasMore, err := h.history.List(r.Context(), user.ID, dest, p.Limit, p.Cursor)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	nextCursor := ""
	if hasMore && len(records) > 0 {
		nextCursor = records[len(records)-1].StartedAt.Format(time.RFC3339Nano)
	}
	response.WritePaginated(w, http.StatusOK, records, nextCursor, hasMore)
}

// Download builds a fresh user-scope archive and streams it.
func (h *Backup) Download(w http.ResponseWriter, r *http.Request) {
	user := mw.UserFrom(r.Context())

	data, manifest, err := h.orchestrator.Export(r.Context(), user.ID)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	writeArchive(w, data, manifest)
}

// RestoreZip merges an uploaded archive into the caller's own data.
func (h *Backup) RestoreZip(w http.ResponseWriter, r *http.Request) {
	user := mw.UserFrom(r.Context())

	data, err := readArchive(w, r)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.orchestrator.RestoreUser(r.Context(), user.ID, data)
	if err != nil {
		metrics.RestoresTotal.WithLabelValues(model.ScopeUser, "failure").Inc()
		response.WriteServiceError(w, err)
		return
	}

	metrics.RestoresTotal.WithLabelValues(model.ScopeUser, "success").Inc()
	response.WriteJSON(w, http.StatusOK, report)
}

// DownloadAdmin builds a full-instance archive. Admin only.
func (h *Backup) DownloadAdmin(w http.ResponseWriter, r *http.Request) {
	data, manifest, err := h.orchestrator.ExportAdmin(r.Context())
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	writeArchive(w, data, manifest)
}

// RestoreAdminZip merges a full-instance archive. Admin only. Every
// session except the caller's is revoked on success.
func (h *Backup) RestoreAdminZip(w http.ResponseWriter, r *http.Request) {
	user := mw.UserFrom(r.Context())

	data, err := readArchive(w, r)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.orchestrator.RestoreAdmin(r.Context(), user.ID, data)
	if err != nil {
		metrics.RestoresTotal.WithLabelValues(model.ScopeAdmin, "failure").Inc()
		response.WriteServiceError(w, err)
		return
	}

	metrics.RestoresTotal.WithLabelValues(model.ScopeAdmin, "success").Inc()
	response.WriteJSON(w, http.StatusOK, report)
}

func writeArchive(w http.ResponseWriter, data []byte, manifest *model.Manifest) {
	filename := fmt.Sprintf("spoolvault-%s.zip", manifest.CreatedAt.Format("20060102T150405Z"))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Write(data)
}

func readArchive(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxArchiveBytes))
	if err != nil {
		return nil, fmt.Errorf("read archive body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty archive body")
	}
	return data, nil
}
