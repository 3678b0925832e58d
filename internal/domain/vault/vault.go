// Package vault defines the vault aggregate: the root entity, the snapshot a
// tick works on and the change set it commits.
// This package is PURE and must NOT import any infrastructure packages.
package vault

import (
	"time"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
)

// Vault is the aggregate root. Everything else references it by id.
type Vault struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	CreatedAt          time.Time      `json:"created_at"`
	LastTickAt         time.Time      `json:"last_tick_at"`
	Version            int64          `json:"version"`
	Paused             bool           `json:"paused"`
	Pools              resource.Pools `json:"pools"`
	StorageCapacity    int            `json:"storage_capacity"`
	PopulationCapacity int            `json:"population_capacity"`
	Lunchboxes         int            `json:"lunchboxes"`
	NeedsReview        bool           `json:"needs_review"`
	ReviewReason       string         `json:"review_reason,omitempty"`
	CompletedQuests    []string       `json:"completed_quests"`
}

// Clone returns a deep copy.
func (v *Vault) Clone() *Vault {
	c := *v
	c.Pools = v.Pools.Clone()
	c.CompletedQuests = append([]string(nil), v.CompletedQuests...)
	return &c
}

// HasCompleted reports whether a quest id is in the completed list.
func (v *Vault) HasCompleted(questID string) bool {
	for _, id := range v.CompletedQuests {
		if id == questID {
			return true
		}
	}
	return false
}

// CompletedSet returns completed quest ids as a set.
func (v *Vault) CompletedSet() map[string]bool {
	out := make(map[string]bool, len(v.CompletedQuests))
	for _, id := range v.CompletedQuests {
		out[id] = true
	}
	return out
}

// Clock is the small projection the scheduler and the pre-check read.
type Clock struct {
	VaultID    string
	LastTickAt time.Time
	Paused     bool
}
