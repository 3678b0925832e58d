// Package room defines the domain entity for a vault room.
// This package is PURE and must NOT import any infrastructure packages.
package room

import (
	"fmt"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
)

// Category groups rooms by what they do.
type Category string

const (
	CategoryProduction Category = "production"
	CategoryLiving     Category = "living"
	CategoryTraining   Category = "training"
	CategoryStorage    Category = "storage"
	CategoryMisc       Category = "misc"
)

// MaxTier is the highest upgrade level.
const MaxTier = 3

// Room is a placed, possibly merged, room of a vault.
type Room struct {
	ID           string         `json:"id"`
	VaultID      string         `json:"vault_id"`
	Name         string         `json:"name"`
	Category     Category       `json:"category"`
	Ability      *dweller.Stat  `json:"ability,omitempty"`       // production rooms only
	Produces     *resource.Kind `json:"produces,omitempty"`      // production rooms only
	TrainingStat *dweller.Stat  `json:"training_stat,omitempty"` // training rooms only
	Tier         int            `json:"tier"`
	Size         int            `json:"size"` // merged width, 1..3
	OutputBase   float64        `json:"output_base"`
}

// Capacity is the maximum number of assigned dwellers.
func (r *Room) Capacity(perSize int) int {
	return perSize * r.Size
}

// Validate checks the structural rules that tie category to its fields.
func (r *Room) Validate() error {
	if r.Size < 1 || r.Size > 3 {
		return fmt.Errorf("room %s: size %d out of range", r.ID, r.Size)
	}
	switch r.Category {
	case CategoryProduction:
		if r.Ability == nil || r.Produces == nil {
			return fmt.Errorf("room %s: production room needs ability and output", r.ID)
		}
	default:
		if r.Ability != nil || r.Produces != nil {
			return fmt.Errorf("room %s: only production rooms carry an ability", r.ID)
		}
	}
	if (r.Category == CategoryTraining) != (r.TrainingStat != nil) {
		return fmt.Errorf("room %s: training stat must be set iff training room", r.ID)
	}
	return nil
}

// KeyStat returns the attribute the room rewards, if any.
func (r *Room) KeyStat() (dweller.Stat, bool) {
	if r.Ability != nil {
		return *r.Ability, true
	}
	if r.TrainingStat != nil {
		return *r.TrainingStat, true
	}
	return 0, false
}

// Clone returns a deep copy.
func (r *Room) Clone() *Room {
	c := *r
	if r.Ability != nil {
		a := *r.Ability
		c.Ability = &a
	}
	if r.Produces != nil {
		p := *r.Produces
		c.Produces = &p
	}
	if r.TrainingStat != nil {
		s := *r.TrainingStat
		c.TrainingStat = &s
	}
	return &c
}
