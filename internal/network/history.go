package network

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/MRamiBalles/vaultsim/server/internal/events"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/storage"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/logger"
)

const (
	defaultRecapWindow = 24 * time.Hour
	maxHistoryLimit    = 1000
)

// HistoryHandler replays a vault's persisted events.
type HistoryHandler struct {
	repo    storage.VaultRepository
	recaps  *storage.Reconstructor
	logger  *logger.Logger
	nowFunc func() time.Time
}

// NewHistoryHandler creates a history handler over the event outbox.
func NewHistoryHandler(repo storage.VaultRepository, log *logger.Logger) *HistoryHandler {
	return &HistoryHandler{
		repo:    repo,
		recaps:  storage.NewReconstructor(repo),
		logger:  log,
		nowFunc: time.Now,
	}
}

// HistoryResponse is the API response for the event replay.
type HistoryResponse struct {
	VaultID     string              `json:"vault_id"`
	Total       int                 `json:"total"`
	FilteredBy  string              `json:"filtered_by,omitempty"`
	GeneratedAt string              `json:"generated_at"`
	Events      []events.VaultEvent `json:"events"`
}

// HandleEvents returns the event history of a vault.
// GET /api/vaults/{id}/events?since=RFC3339&limit=N&type=INCIDENT_SPAWNED
func (hh *HistoryHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	vaultID := r.PathValue("id")
	since, limit, ok := hh.window(w, r, time.Time{})
	if !ok {
		return
	}
	if !hh.exists(w, r, vaultID) {
		return
	}

	evts, err := hh.repo.ListEvents(r.Context(), vaultID, since, limit)
	if err != nil {
		hh.logger.Error("list events failed", zap.String("vault_id", vaultID), zap.Error(err))
		jsonError(w, "failed to read events", http.StatusServiceUnavailable)
		return
	}

	eventType := r.URL.Query().Get("type")
	out := make([]events.VaultEvent, 0, len(evts))
	for _, e := range evts {
		if eventType != "" && string(e.Type) != eventType {
			continue
		}
		out = append(out, e)
	}

	jsonSuccess(w, http.StatusOK, HistoryResponse{
		VaultID:     vaultID,
		Total:       len(out),
		FilteredBy:  eventType,
		GeneratedAt: hh.nowFunc().UTC().Format(time.RFC3339),
		Events:      out,
	})
}

// HandleRecap returns the "while you were away" digest. Without since it
// covers the last day.
// GET /api/vaults/{id}/recap?since=RFC3339
func (hh *HistoryHandler) HandleRecap(w http.ResponseWriter, r *http.Request) {
	vaultID := r.PathValue("id")
	since, limit, ok := hh.window(w, r, hh.nowFunc().Add(-defaultRecapWindow))
	if !ok {
		return
	}
	if !hh.exists(w, r, vaultID) {
		return
	}

	recap, err := hh.recaps.GenerateRecap(r.Context(), vaultID, since, limit)
	if err != nil {
		hh.logger.Error("recap failed", zap.String("vault_id", vaultID), zap.Error(err))
		jsonError(w, "failed to build recap", http.StatusServiceUnavailable)
		return
	}
	jsonSuccess(w, http.StatusOK, recap)
}

// RegisterRoutes sets up the history routes.
func (hh *HistoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/vaults/{id}/events", hh.HandleEvents)
	mux.HandleFunc("GET /api/vaults/{id}/recap", hh.HandleRecap)
}

func (hh *HistoryHandler) window(w http.ResponseWriter, r *http.Request, defSince time.Time) (time.Time, int, bool) {
	q := r.URL.Query()
	since := defSince
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			jsonError(w, "invalid since", http.StatusBadRequest)
			return time.Time{}, 0, false
		}
		since = t
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return time.Time{}, 0, false
		}
		limit = min(n, maxHistoryLimit)
	}
	return since, limit, true
}

func (hh *HistoryHandler) exists(w http.ResponseWriter, r *http.Request, vaultID string) bool {
	_, err := hh.repo.GetVaultClock(r.Context(), vaultID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		jsonError(w, "vault not found", http.StatusNotFound)
		return false
	case err != nil:
		jsonError(w, "failed to read vault", http.StatusServiceUnavailable)
		return false
	}
	return true
}
