// Package quest defines the static quest catalog, quest rewards and the
// eligibility rules for sending a party.
// This package is PURE and must NOT import any infrastructure packages.
package quest

import (
	"fmt"
	"sort"
	"time"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/item"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
)

// RewardKind is the tag of a Reward.
type RewardKind string

const (
	RewardCaps       RewardKind = "caps"
	RewardResource   RewardKind = "resource"
	RewardExperience RewardKind = "experience"
	RewardItem       RewardKind = "item"
	RewardDweller    RewardKind = "dweller"
	RewardStimpak    RewardKind = "stimpak"
	RewardRadAway    RewardKind = "radaway"
	RewardLunchbox   RewardKind = "lunchbox"
)

// Reward is one of the concrete reward variants below. Consumers switch on
// the concrete type; the unexported method keeps the set closed.
type Reward interface {
	Kind() RewardKind
	isReward()
}

type CapsReward struct{ Amount int }

type ResourceReward struct {
	Resource resource.Kind
	Amount   float64
}

// ExperienceReward is granted to every surviving party member.
type ExperienceReward struct{ Amount int }

type ItemReward struct{ Item item.ItemType }

// DwellerReward recruits a new dweller into the vault.
type DwellerReward struct {
	Name   string
	Gender dweller.Gender
	Stats  dweller.Stats
}

type StimpakReward struct{ Count int }

type RadAwayReward struct{ Count int }

type LunchboxReward struct{ Count int }

func (CapsReward) Kind() RewardKind       { return RewardCaps }
func (ResourceReward) Kind() RewardKind   { return RewardResource }
func (ExperienceReward) Kind() RewardKind { return RewardExperience }
func (ItemReward) Kind() RewardKind       { return RewardItem }
func (DwellerReward) Kind() RewardKind    { return RewardDweller }
func (StimpakReward) Kind() RewardKind    { return RewardStimpak }
func (RadAwayReward) Kind() RewardKind    { return RewardRadAway }
func (LunchboxReward) Kind() RewardKind   { return RewardLunchbox }

func (CapsReward) isReward()       {}
func (ResourceReward) isReward()   {}
func (ExperienceReward) isReward() {}
func (ItemReward) isReward()       {}
func (DwellerReward) isReward()    {}
func (StimpakReward) isReward()    {}
func (RadAwayReward) isReward()    {}
func (LunchboxReward) isReward()   {}

// Quest is a catalog entry.
type Quest struct {
	ID         string
	Name       string
	Difficulty int
	Duration   time.Duration
	MinParty   int
	MaxParty   int
	MinLevel   int
	Requires   []string // quest ids that must be completed first
	Rewards    []Reward
	Penalty    float64 // health lost by each member on failure
}

// Registry is the quest catalog keyed by id.
var Registry = map[string]Quest{
	"supply-run": {
		ID: "supply-run", Name: "Supply Run", Difficulty: 1,
		Duration: 30 * time.Minute, MinParty: 1, MaxParty: 3, MinLevel: 1,
		Rewards: []Reward{CapsReward{Amount: 150}, ResourceReward{Resource: resource.Food, Amount: 50}, ExperienceReward{Amount: 40}},
		Penalty: 10,
	},
	"medical-cache": {
		ID: "medical-cache", Name: "The Medical Cache", Difficulty: 2,
		Duration: 1 * time.Hour, MinParty: 2, MaxParty: 3, MinLevel: 3,
		Requires: []string{"supply-run"},
		Rewards:  []Reward{StimpakReward{Count: 5}, RadAwayReward{Count: 3}, ExperienceReward{Amount: 80}},
		Penalty:  20,
	},
	"lost-overseer": {
		ID: "lost-overseer", Name: "The Lost Overseer", Difficulty: 3,
		Duration: 2 * time.Hour, MinParty: 3, MaxParty: 3, MinLevel: 5,
		Requires: []string{"medical-cache"},
		Rewards: []Reward{
			DwellerReward{Name: "Overseer Hale", Gender: dweller.Female, Stats: dweller.Stats{5, 5, 5, 7, 6, 4, 5}},
			LunchboxReward{Count: 1},
			ItemReward{Item: item.ItemLaserRifle},
			ExperienceReward{Amount: 200},
		},
		Penalty: 35,
	},
	"water-chip": {
		ID: "water-chip", Name: "The Water Chip", Difficulty: 4,
		Duration: 4 * time.Hour, MinParty: 3, MaxParty: 3, MinLevel: 10,
		Requires: []string{"lost-overseer"},
		Rewards:  []Reward{ResourceReward{Resource: resource.Water, Amount: 500}, ItemReward{Item: item.ItemPowerArmor}, CapsReward{Amount: 1000}},
		Penalty:  50,
	},
}

// Lookup returns a catalog quest.
func Lookup(id string) (Quest, error) {
	q, ok := Registry[id]
	if !ok {
		return Quest{}, fmt.Errorf("unknown quest %q", id)
	}
	return q, nil
}

// IDs returns catalog ids sorted.
func IDs() []string {
	ids := make([]string, 0, len(Registry))
	for id := range Registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Eligibility is the explicit result of a party check.
type Eligibility struct {
	Met     bool     `json:"met"`
	Reasons []string `json:"reasons,omitempty"`
}

func (e *Eligibility) fail(format string, args ...any) {
	e.Met = false
	e.Reasons = append(e.Reasons, fmt.Sprintf(format, args...))
}

// Eligible checks a proposed party against the quest requirements.
// completed holds the ids of quests the vault already finished.
func (q Quest) Eligible(completed map[string]bool, members []*dweller.Dweller, now time.Time) Eligibility {
	e := Eligibility{Met: true}
	for _, req := range q.Requires {
		if !completed[req] {
			e.fail("requires quest %s", req)
		}
	}
	if len(members) < q.MinParty || len(members) > q.MaxParty {
		e.fail("party size %d outside %d..%d", len(members), q.MinParty, q.MaxParty)
	}
	seen := make(map[string]bool, len(members))
	for _, d := range members {
		if seen[d.ID] {
			e.fail("dweller %s listed twice", d.ID)
			continue
		}
		seen[d.ID] = true
		switch {
		case !d.Alive():
			e.fail("dweller %s is dead", d.ID)
		case d.IsChild(now):
			e.fail("dweller %s is a child", d.ID)
		case d.Status == dweller.StatusExploring || d.Status == dweller.StatusQuesting:
			e.fail("dweller %s is away", d.ID)
		case d.Level < q.MinLevel:
			e.fail("dweller %s below level %d", d.ID, q.MinLevel)
		}
	}
	return e
}
