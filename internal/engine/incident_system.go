package engine

import (
	"sort"

	"go.uber.org/zap"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/activity"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/room"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/rules"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/vault"
	"github.com/MRamiBalles/vaultsim/server/internal/events"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/logger"
)

// IncidentSystem starts fires, infestations and raids, and lets defenders
// fight the ones already burning.
type IncidentSystem struct {
	logger *logger.Logger
}

// NewIncidentSystem creates the incident system.
func NewIncidentSystem(log *logger.Logger) *IncidentSystem {
	return &IncidentSystem{logger: log}
}

// Apply spawns at most one incident, then resolves older ones.
func (is *IncidentSystem) Apply(tc *tickContext) {
	is.spawn(tc)
	is.resolve(tc)
}

func (is *IncidentSystem) spawn(tc *tickContext) {
	active := len(tc.work.ActiveIncidents())
	p := rules.SpawnProbability(tc.pre.Population(), tc.pre.AverageHappiness(), active, tc.elapsed, tc.balance)
	if p <= 0 || tc.rng.Float64() >= p {
		return
	}
	candidates := incidentRooms(tc.work)
	if len(candidates) == 0 {
		return
	}
	r := candidates[tc.rng.IntN(len(candidates))]
	pop := tc.work.Population()
	inc := &activity.Incident{
		ID:          tc.newID(),
		VaultID:     tc.vaultID,
		RoomID:      r.ID,
		Kind:        rules.RollIncidentKind(pop, tc.rng, tc.balance),
		Severity:    rules.RollSeverity(pop, tc.rng, tc.balance),
		Status:      activity.IncidentActive,
		SpawnedAt:   tc.now,
		EscalatedAt: tc.now,
	}
	tc.work.Incidents = append(tc.work.Incidents, inc)
	tc.emit(events.EventTypeIncidentSpawned, inc.ID, events.IncidentSpawnedPayload{
		IncidentID: inc.ID,
		RoomID:     inc.RoomID,
		Kind:       string(inc.Kind),
		Severity:   inc.Severity,
	})
	is.logger.Event("INCIDENT_SPAWNED", tc.vaultID, "incident started",
		zap.String("room_id", inc.RoomID),
		zap.String("kind", string(inc.Kind)),
		zap.Int("severity", inc.Severity))
}

func (is *IncidentSystem) resolve(tc *tickContext) {
	for _, inc := range tc.work.ActiveIncidents() {
		// spawned this tick; it starts burning next tick
		if !inc.SpawnedAt.Before(tc.now) {
			continue
		}
		window := tc.elapsed
		if since := tc.now.Sub(inc.SpawnedAt); since < window {
			window = since
		}

		defenders := defendersOf(tc, inc.RoomID)
		out := rules.ResolveIncident(inc, defenders, tc.now, window, tc.rng, tc.balance)
		for _, k := range resource.Vital {
			tc.addPool(k, -out.ResourceLoss[k])
		}
		for _, id := range out.Deaths {
			tc.died(tc.work.Dweller(id), string(inc.Kind))
		}

		switch {
		case out.Resolved:
			tc.addPool(resource.Caps, float64(out.CapsReward))
			ids := make([]string, 0, len(defenders))
			for _, d := range defenders {
				ids = append(ids, d.ID)
				if d.Alive() {
					tc.gainXP(d, out.XPEach)
				}
			}
			tc.emit(events.EventTypeIncidentResolved, inc.ID, events.IncidentResolvedPayload{
				IncidentID: inc.ID,
				RoomID:     inc.RoomID,
				CapsReward: out.CapsReward,
				Defenders:  ids,
			})
		case out.Escalated:
			tc.emit(events.EventTypeIncidentEscalated, inc.ID, events.IncidentEscalatedPayload{
				IncidentID: inc.ID,
				Severity:   inc.Severity,
			})
		}
	}
}

// incidentRooms lists occupied rooms without an active incident, ordered by
// id so the pick is reproducible.
func incidentRooms(s *vault.Snapshot) []*room.Room {
	var out []*room.Room
	for _, r := range s.Rooms {
		if len(s.Occupants(r.ID)) > 0 && s.IncidentIn(r.ID) == nil {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// defendersOf returns the adults assigned to the room plus every guard at
// home, ordered by id.
func defendersOf(tc *tickContext, roomID string) []*dweller.Dweller {
	var out []*dweller.Dweller
	for _, d := range tc.work.Dwellers {
		if !d.Alive() || d.IsChild(tc.now) {
			continue
		}
		if d.InRoom(roomID) || (d.Guard && d.Status != dweller.StatusExploring && d.Status != dweller.StatusQuesting) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
