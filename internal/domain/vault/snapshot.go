package vault

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/activity"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/room"
)

// Snapshot is the consistent read of one vault that a tick or a user action
// works on. Closed activities are not loaded.
type Snapshot struct {
	Vault         *Vault                      `json:"vault"`
	Rooms         []*room.Room                `json:"rooms"`
	Dwellers      []*dweller.Dweller          `json:"dwellers"`
	Relationships []*dweller.Relationship     `json:"relationships"`
	Incidents     []*activity.Incident        `json:"incidents"`
	Explorations  []*activity.ExplorationRun  `json:"explorations"`
	Trainings     []*activity.TrainingSession `json:"trainings"`
	Pregnancies   []*activity.Pregnancy       `json:"pregnancies"`
	Quests        []*activity.QuestParty      `json:"quests"`
	StorageUsed   int                         `json:"storage_used"`
}

// Clone returns a deep copy, used as the working copy of a tick.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{Vault: s.Vault.Clone(), StorageUsed: s.StorageUsed}
	for _, r := range s.Rooms {
		c.Rooms = append(c.Rooms, r.Clone())
	}
	for _, d := range s.Dwellers {
		c.Dwellers = append(c.Dwellers, d.Clone())
	}
	for _, r := range s.Relationships {
		rc := *r
		c.Relationships = append(c.Relationships, &rc)
	}
	for _, i := range s.Incidents {
		c.Incidents = append(c.Incidents, i.Clone())
	}
	for _, e := range s.Explorations {
		c.Explorations = append(c.Explorations, e.Clone())
	}
	for _, t := range s.Trainings {
		c.Trainings = append(c.Trainings, t.Clone())
	}
	for _, p := range s.Pregnancies {
		c.Pregnancies = append(c.Pregnancies, p.Clone())
	}
	for _, q := range s.Quests {
		c.Quests = append(c.Quests, q.Clone())
	}
	return c
}

// Room finds a room by id.
func (s *Snapshot) Room(id string) *room.Room {
	for _, r := range s.Rooms {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// Dweller finds a dweller by id.
func (s *Snapshot) Dweller(id string) *dweller.Dweller {
	for _, d := range s.Dwellers {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// Occupants returns the live dwellers assigned to a room.
func (s *Snapshot) Occupants(roomID string) []*dweller.Dweller {
	var out []*dweller.Dweller
	for _, d := range s.Dwellers {
		if d.Alive() && d.InRoom(roomID) {
			out = append(out, d)
		}
	}
	return out
}

// Population counts live dwellers.
func (s *Snapshot) Population() int {
	n := 0
	for _, d := range s.Dwellers {
		if d.Alive() {
			n++
		}
	}
	return n
}

// AverageHappiness over live dwellers, 0 for an empty vault.
func (s *Snapshot) AverageHappiness() float64 {
	var sum float64
	n := 0
	for _, d := range s.Dwellers {
		if d.Alive() {
			sum += d.Happiness
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ActiveIncidents returns incidents still burning.
func (s *Snapshot) ActiveIncidents() []*activity.Incident {
	var out []*activity.Incident
	for _, i := range s.Incidents {
		if i.Status == activity.IncidentActive {
			out = append(out, i)
		}
	}
	return out
}

// IncidentIn returns the active incident in a room, if any.
func (s *Snapshot) IncidentIn(roomID string) *activity.Incident {
	for _, i := range s.Incidents {
		if i.Status == activity.IncidentActive && i.RoomID == roomID {
			return i
		}
	}
	return nil
}

// Relationship returns the relationship between two dwellers, if any.
func (s *Snapshot) Relationship(x, y string) *dweller.Relationship {
	a, b := dweller.Pair(x, y)
	for _, r := range s.Relationships {
		if r.A == a && r.B == b {
			return r
		}
	}
	return nil
}

// Partner returns the id of a dweller's partner, or "".
func (s *Snapshot) Partner(id string) string {
	for _, r := range s.Relationships {
		if r.Partnered && r.Involves(id) {
			return r.Other(id)
		}
	}
	return ""
}

// OpenTraining returns the open training session of a dweller, if any.
func (s *Snapshot) OpenTraining(dwellerID string) *activity.TrainingSession {
	for _, t := range s.Trainings {
		if t.DwellerID == dwellerID && t.Status.Open() {
			return t
		}
	}
	return nil
}

// PendingRun returns the pending expedition of a dweller, if any.
func (s *Snapshot) PendingRun(dwellerID string) *activity.ExplorationRun {
	for _, e := range s.Explorations {
		if e.DwellerID == dwellerID && e.Outcome == activity.OutcomePending {
			return e
		}
	}
	return nil
}

// OpenParty returns the open quest party a dweller belongs to, if any.
func (s *Snapshot) OpenParty(dwellerID string) *activity.QuestParty {
	for _, q := range s.Quests {
		if q.Status.Open() && slices.Contains(q.Members, dwellerID) {
			return q
		}
	}
	return nil
}

// Pregnant reports whether a dweller carries an open pregnancy.
func (s *Snapshot) Pregnant(motherID string) bool {
	for _, p := range s.Pregnancies {
		if p.MotherID == motherID && p.Status.Open() {
			return true
		}
	}
	return false
}

// ValidationError lists every broken invariant found in a snapshot.
type ValidationError struct {
	VaultID  string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("vault %s: %s", e.VaultID, strings.Join(e.Problems, "; "))
}

// Validate checks the persistent invariants of the aggregate.
// capacityPerSize is the room capacity of a size-1 room.
func (s *Snapshot) Validate(capacityPerSize int, now time.Time) error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	for k, p := range s.Vault.Pools {
		if !p.Valid() {
			add("pool %s out of range (%.2f/%.2f)", k, p.Amount, p.Capacity)
		}
	}
	if s.StorageUsed > s.Vault.StorageCapacity {
		add("storage used %d exceeds capacity %d", s.StorageUsed, s.Vault.StorageCapacity)
	}

	rooms := make(map[string]*room.Room, len(s.Rooms))
	for _, r := range s.Rooms {
		if err := r.Validate(); err != nil {
			add("%v", err)
		}
		rooms[r.ID] = r
	}

	occupancy := make(map[string]int)
	for _, d := range s.Dwellers {
		if d.Status == dweller.StatusExploring && d.RoomID != nil {
			add("dweller %s exploring while assigned to room %s", d.ID, *d.RoomID)
		}
		if d.RoomID == nil || !d.Alive() {
			continue
		}
		if _, ok := rooms[*d.RoomID]; !ok {
			add("dweller %s assigned to unknown room %s", d.ID, *d.RoomID)
			continue
		}
		occupancy[*d.RoomID]++
	}
	for id, n := range occupancy {
		if limit := rooms[id].Capacity(capacityPerSize); n > limit {
			add("room %s has %d occupants, capacity %d", id, n, limit)
		}
	}

	for _, t := range s.Trainings {
		if t.Status.Open() && s.Dweller(t.DwellerID) == nil {
			add("training %s references unknown dweller %s", t.ID, t.DwellerID)
		}
	}
	for _, e := range s.Explorations {
		if e.Outcome == activity.OutcomePending && s.Dweller(e.DwellerID) == nil {
			add("exploration %s references unknown dweller %s", e.ID, e.DwellerID)
		}
	}

	if s.Vault.LastTickAt.After(now) {
		add("last tick %s is in the future", s.Vault.LastTickAt.Format(time.RFC3339))
	}

	if len(problems) > 0 {
		return &ValidationError{VaultID: s.Vault.ID, Problems: problems}
	}
	return nil
}
