// Package network is the HTTP and WebSocket surface of the vault server:
// player commands, the admin force tick, event history and the live event
// feed.
package network

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/quest"
	"github.com/MRamiBalles/vaultsim/server/internal/engine"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/storage"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/logger"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/metrics"
)

// VaultAPI handles the vault commands.
type VaultAPI struct {
	orch       *engine.Orchestrator
	actions    *engine.Actions
	hub        *Hub
	history    *HistoryHandler
	metrics    *metrics.Collector
	logger     *logger.Logger
	adminToken string
}

// NewVaultAPI creates the API. An empty adminToken disables the force tick.
func NewVaultAPI(orch *engine.Orchestrator, actions *engine.Actions, repo storage.VaultRepository, hub *Hub, m *metrics.Collector, log *logger.Logger, adminToken string) *VaultAPI {
	return &VaultAPI{
		orch:       orch,
		actions:    actions,
		hub:        hub,
		history:    NewHistoryHandler(repo, log),
		metrics:    m,
		logger:     log,
		adminToken: adminToken,
	}
}

// CreateVaultRequest is the body of POST /api/vaults.
type CreateVaultRequest struct {
	Name string `json:"name"`
}

// AssignRequest moves a dweller; a null room_id unassigns.
type AssignRequest struct {
	RoomID *string `json:"room_id"`
}

// ExploreRequest sends a dweller out. Duration uses Go syntax ("90m").
type ExploreRequest struct {
	Duration string `json:"duration"`
	Stimpaks int    `json:"stimpaks"`
	RadAways int    `json:"radaways"`
}

// QuestRequest forms a quest party.
type QuestRequest struct {
	QuestID string   `json:"quest_id"`
	Members []string `json:"members"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

type guardRequest struct {
	Guard bool `json:"guard"`
}

// RegisterRoutes sets up every route on mux.
func (a *VaultAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/vaults", a.HandleCreate)
	mux.HandleFunc("GET /api/vaults/{id}", a.HandleSummary)
	mux.HandleFunc("POST /api/vaults/{id}/tick", a.HandleForceTick)
	mux.HandleFunc("POST /api/vaults/{id}/pause", a.HandlePause)
	mux.HandleFunc("POST /api/vaults/{id}/quests", a.HandleStartQuest)
	mux.HandleFunc("POST /api/vaults/{id}/dwellers/{did}/assign", a.HandleAssign)
	mux.HandleFunc("POST /api/vaults/{id}/dwellers/{did}/explore", a.HandleExplore)
	mux.HandleFunc("POST /api/vaults/{id}/dwellers/{did}/recall", a.HandleRecall)
	mux.HandleFunc("POST /api/vaults/{id}/dwellers/{did}/guard", a.HandleGuard)
	mux.HandleFunc("GET /api/quests", a.HandleQuests)
	a.history.RegisterRoutes(mux)

	if a.hub != nil {
		mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
			ServeWS(a.hub, w, r)
		})
	}
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics.Handler())
		mux.HandleFunc("GET /api/metrics", a.metrics.JSONHandler())
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		jsonSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// HandleCreate founds a vault.
// POST /api/vaults
func (a *VaultAPI) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateVaultRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := a.actions.CreateVault(r.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	jsonSuccess(w, http.StatusCreated, s)
}

// HandleSummary returns the cached read model.
// GET /api/vaults/{id}
func (a *VaultAPI) HandleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := a.actions.Summary(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	jsonSuccess(w, http.StatusOK, sum)
}

// HandleForceTick ticks a vault now, ignoring the minimum interval.
// POST /api/vaults/{id}/tick, Authorization: Bearer <admin token>
func (a *VaultAPI) HandleForceTick(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		jsonError(w, "admin token required", http.StatusUnauthorized)
		return
	}
	vaultID := r.PathValue("id")
	res, err := a.orch.ForceTick(r.Context(), vaultID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.logger.Event("FORCE_TICK", vaultID, "admin forced a tick",
		zap.Bool("skipped", res.Skipped),
		zap.Duration("elapsed", res.Elapsed))
	jsonSuccess(w, http.StatusOK, res)
}

// HandlePause freezes or resumes a vault.
// POST /api/vaults/{id}/pause
func (a *VaultAPI) HandlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.actions.SetPaused(r.Context(), r.PathValue("id"), req.Paused); err != nil {
		a.fail(w, r, err)
		return
	}
	jsonSuccess(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

// HandleAssign moves a dweller between rooms.
// POST /api/vaults/{id}/dwellers/{did}/assign
func (a *VaultAPI) HandleAssign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.actions.AssignDweller(r.Context(), r.PathValue("id"), r.PathValue("did"), req.RoomID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleExplore sends a dweller into the wasteland.
// POST /api/vaults/{id}/dwellers/{did}/explore
func (a *VaultAPI) HandleExplore(w http.ResponseWriter, r *http.Request) {
	var req ExploreRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		jsonError(w, "invalid duration", http.StatusBadRequest)
		return
	}
	if err := a.actions.StartExploration(r.Context(), r.PathValue("id"), r.PathValue("did"), d, req.Stimpaks, req.RadAways); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleRecall brings an explorer home early.
// POST /api/vaults/{id}/dwellers/{did}/recall
func (a *VaultAPI) HandleRecall(w http.ResponseWriter, r *http.Request) {
	evts, err := a.actions.RecallExploration(r.Context(), r.PathValue("id"), r.PathValue("did"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	jsonSuccess(w, http.StatusOK, map[string]interface{}{"events": evts})
}

// HandleGuard toggles security duty.
// POST /api/vaults/{id}/dwellers/{did}/guard
func (a *VaultAPI) HandleGuard(w http.ResponseWriter, r *http.Request) {
	var req guardRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.actions.SetGuard(r.Context(), r.PathValue("id"), r.PathValue("did"), req.Guard); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStartQuest forms a party. An ineligible party gets 422 with reasons.
// POST /api/vaults/{id}/quests
func (a *VaultAPI) HandleStartQuest(w http.ResponseWriter, r *http.Request) {
	var req QuestRequest
	if !decode(w, r, &req) {
		return
	}
	elig, err := a.actions.StartQuest(r.Context(), r.PathValue("id"), req.QuestID, req.Members)
	if errors.Is(err, engine.ErrIneligible) {
		jsonSuccess(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   err.Error(),
			"reasons": elig.Reasons,
		})
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	jsonSuccess(w, http.StatusAccepted, elig)
}

type questView struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Difficulty int      `json:"difficulty"`
	Duration   string   `json:"duration"`
	MinParty   int      `json:"min_party"`
	MaxParty   int      `json:"max_party"`
	MinLevel   int      `json:"min_level"`
	Requires   []string `json:"requires,omitempty"`
	Rewards    []string `json:"rewards"`
}

// HandleQuests lists the quest catalog.
// GET /api/quests
func (a *VaultAPI) HandleQuests(w http.ResponseWriter, r *http.Request) {
	out := make([]questView, 0, len(quest.Registry))
	for _, id := range quest.IDs() {
		q := quest.Registry[id]
		v := questView{
			ID: q.ID, Name: q.Name, Difficulty: q.Difficulty,
			Duration: q.Duration.String(),
			MinParty: q.MinParty, MaxParty: q.MaxParty, MinLevel: q.MinLevel,
			Requires: q.Requires,
		}
		for _, rw := range q.Rewards {
			v.Rewards = append(v.Rewards, string(rw.Kind()))
		}
		out = append(out, v)
	}
	jsonSuccess(w, http.StatusOK, out)
}

func (a *VaultAPI) authorized(r *http.Request) bool {
	if a.adminToken == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(a.adminToken)) == 1
}

// fail maps engine and storage errors to status codes.
func (a *VaultAPI) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	jsonError(w, err.Error(), status)
}

// StatusFor returns the HTTP status of an error.
func StatusFor(err error) int {
	var (
		conflict  *engine.ConflictError
		transient *engine.TransientError
		broken    *engine.InvariantViolation
	)
	switch {
	case errors.As(err, &conflict), errors.Is(err, engine.ErrLockUnavailable), errors.Is(err, storage.ErrVaultExists):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, engine.ErrDwellerNotFound), errors.Is(err, engine.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrRoomFull), errors.Is(err, engine.ErrDwellerBusy),
		errors.Is(err, engine.ErrNoExpedition), errors.Is(err, engine.ErrIneligible):
		return http.StatusUnprocessableEntity
	case errors.As(err, &transient):
		return http.StatusServiceUnavailable
	case errors.As(err, &broken):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// jsonError sends an error response.
func jsonError(w http.ResponseWriter, message string, status int) {
	jsonSuccess(w, status, map[string]string{"error": message})
}

// jsonSuccess sends a JSON response.
func jsonSuccess(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
