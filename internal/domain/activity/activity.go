// Package activity defines the timed background activities of a vault:
// expeditions, incidents, training, pregnancies and quest parties.
// This package is PURE and must NOT import any infrastructure packages.
package activity

import (
	"time"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/item"
)

// Phase is the lifecycle shared by training, pregnancy and quest parties.
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseInProgress Phase = "in_progress"
	PhaseCompleted  Phase = "completed"
	PhaseCancelled  Phase = "cancelled"
)

// Open reports whether the activity still needs ticking.
func (p Phase) Open() bool { return p == PhasePending || p == PhaseInProgress }

// Outcome is how an exploration run ended.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeReturned Outcome = "returned"
	OutcomeRecalled Outcome = "recalled"
	OutcomeDied     Outcome = "died"
)

// ExplorationRun is one dweller's trip into the wasteland.
type ExplorationRun struct {
	ID              string        `json:"id"`
	VaultID         string        `json:"vault_id"`
	DwellerID       string        `json:"dweller_id"`
	StartedAt       time.Time     `json:"started_at"`
	PlannedDuration time.Duration `json:"planned_duration"`
	LastRollAt      time.Time     `json:"last_roll_at"`
	Loot            []item.Item   `json:"loot"`
	CapsFound       int           `json:"caps_found"`
	Outcome         Outcome       `json:"outcome"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
}

// DueAt is when the run returns on its own.
func (r *ExplorationRun) DueAt() time.Time { return r.StartedAt.Add(r.PlannedDuration) }

// Clone returns a deep copy.
func (r *ExplorationRun) Clone() *ExplorationRun {
	c := *r
	c.Loot = append([]item.Item(nil), r.Loot...)
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// IncidentKind names what is attacking the vault.
type IncidentKind string

const (
	IncidentFire       IncidentKind = "fire"
	IncidentRadroaches IncidentKind = "radroaches"
	IncidentRaiders    IncidentKind = "raiders"
)

// IncidentKinds in roll order.
var IncidentKinds = []IncidentKind{IncidentFire, IncidentRadroaches, IncidentRaiders}

// IncidentStatus is active until defenders win.
type IncidentStatus string

const (
	IncidentActive   IncidentStatus = "active"
	IncidentResolved IncidentStatus = "resolved"
)

// Incident is a hazard in a single room.
type Incident struct {
	ID          string         `json:"id"`
	VaultID     string         `json:"vault_id"`
	RoomID      string         `json:"room_id"`
	Kind        IncidentKind   `json:"kind"`
	Severity    int            `json:"severity"`
	Status      IncidentStatus `json:"status"`
	SpawnedAt   time.Time      `json:"spawned_at"`
	EscalatedAt time.Time      `json:"escalated_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
}

// Clone returns a deep copy.
func (i *Incident) Clone() *Incident {
	c := *i
	if i.ResolvedAt != nil {
		t := *i.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// TrainingSession raises one stat of a dweller assigned to a training room.
type TrainingSession struct {
	ID          string        `json:"id"`
	VaultID     string        `json:"vault_id"`
	DwellerID   string        `json:"dweller_id"`
	RoomID      string        `json:"room_id"`
	Stat        dweller.Stat  `json:"stat"`
	Status      Phase         `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	Duration    time.Duration `json:"duration"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Clone returns a deep copy.
func (t *TrainingSession) Clone() *TrainingSession {
	c := *t
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	return &c
}

// Pregnancy ends with a new dweller.
type Pregnancy struct {
	ID          string        `json:"id"`
	VaultID     string        `json:"vault_id"`
	MotherID    string        `json:"mother_id"`
	FatherID    string        `json:"father_id"`
	Status      Phase         `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	ChildID     string        `json:"child_id,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Clone returns a deep copy.
func (p *Pregnancy) Clone() *Pregnancy {
	c := *p
	c.CompletedAt = cloneTime(p.CompletedAt)
	return &c
}

// QuestParty is a group of dwellers sent on a catalog quest.
type QuestParty struct {
	ID          string        `json:"id"`
	VaultID     string        `json:"vault_id"`
	QuestID     string        `json:"quest_id"`
	Members     []string      `json:"members"`
	Status      Phase         `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	Duration    time.Duration `json:"duration"`
	Success     *bool         `json:"success,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Clone returns a deep copy.
func (q *QuestParty) Clone() *QuestParty {
	c := *q
	c.Members = append([]string(nil), q.Members...)
	c.StartedAt = cloneTime(q.StartedAt)
	c.CompletedAt = cloneTime(q.CompletedAt)
	if q.Success != nil {
		s := *q.Success
		c.Success = &s
	}
	return &c
}

// Due reports whether an in-progress activity started at start has run its duration.
func Due(start *time.Time, d time.Duration, now time.Time) bool {
	return start != nil && !start.Add(d).After(now)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
