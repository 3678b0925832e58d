package rules

import (
	"fmt"
	"time"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/room"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/vault"
)

// EntityError is a compute failure scoped to one entity. The entity is skipped
// for this tick; the rest of the tick proceeds.
type EntityError struct {
	Entity string
	ID     string
	Err    error
}

func (e EntityError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Entity, e.ID, e.Err)
}

// ProductionResult is the raw (unclamped) output of the production rooms.
type ProductionResult struct {
	Deltas  map[resource.Kind]float64
	PerRoom map[string]float64
	Errors  []EntityError
}

// RoomRate returns the per-second output of a production room with the given
// summed ability of its occupants.
func RoomRate(r *room.Room, abilitySum int, b *Balance) (float64, error) {
	mult, ok := b.TierMultiplier[r.Tier]
	if !ok {
		return 0, fmt.Errorf("unknown tier %d", r.Tier)
	}
	return r.OutputBase * float64(abilitySum) * b.BaseProductionRate * mult, nil
}

// Production computes what every staffed production room yields over elapsed.
// It only reads the snapshot.
func Production(s *vault.Snapshot, elapsed time.Duration, now time.Time, b *Balance) ProductionResult {
	res := ProductionResult{
		Deltas:  make(map[resource.Kind]float64),
		PerRoom: make(map[string]float64),
	}
	seconds := elapsed.Seconds()
	if seconds <= 0 {
		return res
	}
	for _, r := range s.Rooms {
		if r.Category != room.CategoryProduction || r.Ability == nil || r.Produces == nil {
			continue
		}
		// rooms on fire produce nothing
		if s.IncidentIn(r.ID) != nil {
			continue
		}
		sum := 0
		for _, d := range s.Occupants(r.ID) {
			if d.IsChild(now) {
				continue
			}
			sum += d.Stats.Get(*r.Ability)
		}
		if sum == 0 {
			continue
		}
		rate, err := RoomRate(r, sum, b)
		if err != nil {
			res.Errors = append(res.Errors, EntityError{Entity: "room", ID: r.ID, Err: err})
			continue
		}
		delta := rate * seconds
		res.PerRoom[r.ID] = delta
		res.Deltas[*r.Produces] += delta
	}
	return res
}

// Consumption returns the negative deltas of upkeep over elapsed: food and
// water per live dweller, power per room.
func Consumption(s *vault.Snapshot, elapsed time.Duration, b *Balance) map[resource.Kind]float64 {
	out := make(map[resource.Kind]float64)
	seconds := elapsed.Seconds()
	if seconds <= 0 {
		return out
	}
	pop := float64(s.Population())
	if b.FoodPerDwellerPerSecond > 0 {
		out[resource.Food] = -pop * b.FoodPerDwellerPerSecond * seconds
	}
	if b.WaterPerDwellerPerSecond > 0 {
		out[resource.Water] = -pop * b.WaterPerDwellerPerSecond * seconds
	}
	if b.PowerPerRoomPerSecond > 0 {
		out[resource.Power] = -float64(len(s.Rooms)) * b.PowerPerRoomPerSecond * seconds
	}
	return out
}
