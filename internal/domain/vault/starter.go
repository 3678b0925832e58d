package vault

import (
	"time"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/room"
)

// Starter layout sizes.
const (
	StarterStorage    = 20
	StarterPopulation = 12
)

type starterRoom struct {
	name     string
	category room.Category
	ability  dweller.Stat
	produces resource.Kind
}

var starterRooms = []starterRoom{
	{name: "Power Generator", category: room.CategoryProduction, ability: dweller.Strength, produces: resource.Power},
	{name: "Water Treatment", category: room.CategoryProduction, ability: dweller.Perception, produces: resource.Water},
	{name: "Diner", category: room.CategoryProduction, ability: dweller.Agility, produces: resource.Food},
	{name: "Living Quarters", category: room.CategoryLiving},
	{name: "Storage Room", category: room.CategoryStorage},
	{name: "Weight Room", category: room.CategoryTraining, ability: dweller.Strength},
}

var founders = []struct {
	name   string
	gender dweller.Gender
	stats  dweller.Stats
}{
	{"Ada", dweller.Female, dweller.Stats{6, 2, 3, 2, 2, 2, 3}},
	{"Bram", dweller.Male, dweller.Stats{5, 3, 4, 2, 1, 2, 2}},
	{"Cora", dweller.Female, dweller.Stats{2, 6, 2, 3, 3, 2, 2}},
	{"Dane", dweller.Male, dweller.Stats{2, 5, 3, 2, 2, 3, 3}},
	{"Esme", dweller.Female, dweller.Stats{2, 2, 2, 4, 2, 6, 2}},
	{"Finn", dweller.Male, dweller.Stats{3, 2, 3, 2, 2, 5, 4}},
}

// NewStarter builds the initial state of a freshly opened vault: the three
// production rooms staffed by two founders each, quarters, storage and a
// weight room.
func NewStarter(id, name string, now time.Time, newID func() string) *Snapshot {
	s := &Snapshot{
		Vault: &Vault{
			ID:         id,
			Name:       name,
			CreatedAt:  now,
			LastTickAt: now,
			Pools: resource.Pools{
				resource.Power:   {Amount: 50, Capacity: 100},
				resource.Water:   {Amount: 50, Capacity: 100},
				resource.Food:    {Amount: 50, Capacity: 100},
				resource.Caps:    {Amount: 500, Capacity: 1_000_000},
				resource.Stimpak: {Amount: 5, Capacity: 50},
				resource.RadAway: {Amount: 5, Capacity: 50},
			},
			StorageCapacity:    StarterStorage,
			PopulationCapacity: StarterPopulation,
			CompletedQuests:    []string{},
		},
	}

	for _, sr := range starterRooms {
		r := &room.Room{
			ID:       newID(),
			VaultID:  id,
			Name:     sr.name,
			Category: sr.category,
			Tier:     1,
			Size:     1,
		}
		switch sr.category {
		case room.CategoryProduction:
			ability, produces := sr.ability, sr.produces
			r.Ability, r.Produces, r.OutputBase = &ability, &produces, 1.0
		case room.CategoryTraining:
			stat := sr.ability
			r.TrainingStat = &stat
		}
		s.Rooms = append(s.Rooms, r)
	}

	for i, f := range founders {
		roomID := s.Rooms[i/2].ID
		s.Dwellers = append(s.Dwellers, &dweller.Dweller{
			ID:              newID(),
			VaultID:         id,
			RoomID:          &roomID,
			Name:            f.name,
			Gender:          f.gender,
			Stats:           f.stats,
			Level:           1,
			Health:          100,
			MaxHealth:       100,
			Happiness:       50,
			Status:          dweller.StatusWorking,
			StatusStartedAt: now,
			BornAt:          now,
		})
	}
	return s
}
