package engine

import (
	"time"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
	"github.com/MRamiBalles/vaultsim/server/internal/events"
)

// Skip reasons reported in TickResult.Reason.
const (
	ReasonTooSoon   = "min tick interval not reached"
	ReasonNoElapsed = "no time elapsed"
	ReasonBackwards = "clock went backwards"
	ReasonPaused    = "vault paused"
	ReasonReview    = "vault flagged for review"
	ReasonLocked    = "vault lease held"
)

// TickResult reports what one RunTick did.
type TickResult struct {
	VaultID string        `json:"vault_id"`
	Skipped bool          `json:"skipped"`
	Reason  string        `json:"reason,omitempty"`
	Elapsed time.Duration `json:"elapsed"`

	// ProductionDeltas is the unclamped pool change from production, upkeep,
	// expedition caps and incident losses. Dropped is what clamping discarded.
	ProductionDeltas map[resource.Kind]float64 `json:"production_deltas,omitempty"`
	Dropped          map[resource.Kind]float64 `json:"dropped,omitempty"`
	HappinessDeltas  map[string]float64        `json:"happiness_deltas,omitempty"`

	Events      []events.VaultEvent `json:"events,omitempty"`
	Errors      []ComputeError      `json:"errors,omitempty"`
	CommittedAt time.Time           `json:"committed_at,omitempty"`
}

// Committed reports whether the tick wrote a new state.
func (r TickResult) Committed() bool { return !r.CommittedAt.IsZero() }
