// Package events defines the domain events a vault tick emits and the
// dispatcher that fans them out to subscribers after commit.
//
// Events are written to the vault_events outbox in the same transaction as
// the tick, so the durable record never diverges from the state. Sinks are a
// best-effort live feed on top of that record.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/item"
)

// EventType defines the category of a vault event.
type EventType string

const (
	EventTypeIncidentSpawned     EventType = "INCIDENT_SPAWNED"
	EventTypeIncidentEscalated   EventType = "INCIDENT_ESCALATED"
	EventTypeIncidentResolved    EventType = "INCIDENT_RESOLVED"
	EventTypeExplorationReturned EventType = "EXPLORATION_RETURNED"
	EventTypeExplorationRecalled EventType = "EXPLORATION_RECALLED"
	EventTypeTrainingCompleted   EventType = "TRAINING_COMPLETED"
	EventTypePregnancyStarted    EventType = "PREGNANCY_STARTED"
	EventTypePregnancyDelivered  EventType = "PREGNANCY_DELIVERED"
	EventTypeQuestResolved       EventType = "QUEST_RESOLVED"
	EventTypeDwellerDied         EventType = "DWELLER_DIED"
	EventTypeDwellerLeveled      EventType = "DWELLER_LEVELED"
	EventTypePartnersFormed      EventType = "PARTNERS_FORMED"
	EventTypeChildGrewUp         EventType = "CHILD_GREW_UP"
	EventTypeResourceDepleted    EventType = "RESOURCE_DEPLETED"
)

// VaultEvent is an immutable record of something that happened in a vault.
type VaultEvent struct {
	ID        string      `json:"id"`
	VaultID   string      `json:"vault_id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	ActorID   string      `json:"actor_id"` // dweller, room or incident the event is about
	Payload   interface{} `json:"payload"`  // one of the *Payload types; raw JSON once reloaded
}

// New creates an event with a fresh id.
func New(vaultID string, t EventType, at time.Time, actorID string, payload interface{}) VaultEvent {
	return VaultEvent{
		ID:        uuid.NewString(),
		VaultID:   vaultID,
		Type:      t,
		Timestamp: at,
		ActorID:   actorID,
		Payload:   payload,
	}
}

type IncidentSpawnedPayload struct {
	IncidentID string `json:"incident_id"`
	RoomID     string `json:"room_id"`
	Kind       string `json:"kind"`
	Severity   int    `json:"severity"`
}

type IncidentEscalatedPayload struct {
	IncidentID string `json:"incident_id"`
	Severity   int    `json:"severity"`
}

type IncidentResolvedPayload struct {
	IncidentID string   `json:"incident_id"`
	RoomID     string   `json:"room_id"`
	CapsReward int      `json:"caps_reward"`
	Defenders  []string `json:"defenders"`
}

// ExplorationReturnedPayload also serves recalls. OverflowItems are the items
// that did not fit in storage and were lost.
type ExplorationReturnedPayload struct {
	RunID         string      `json:"run_id"`
	DwellerID     string      `json:"dweller_id"`
	Items         []item.Item `json:"items"`
	OverflowItems []item.Item `json:"overflow_items"`
	Caps          int         `json:"caps"`
}

type TrainingCompletedPayload struct {
	SessionID string `json:"session_id"`
	DwellerID string `json:"dweller_id"`
	Stat      string `json:"stat"`
	Amount    int    `json:"amount"`
}

type PregnancyStartedPayload struct {
	PregnancyID string `json:"pregnancy_id"`
	MotherID    string `json:"mother_id"`
	FatherID    string `json:"father_id"`
}

type PregnancyDeliveredPayload struct {
	PregnancyID string `json:"pregnancy_id"`
	MotherID    string `json:"mother_id"`
	ChildID     string `json:"child_id"`
}

type QuestResolvedPayload struct {
	PartyID string   `json:"party_id"`
	QuestID string   `json:"quest_id"`
	Success bool     `json:"success"`
	Members []string `json:"members"`
	Rewards []string `json:"rewards,omitempty"`
}

type DwellerDiedPayload struct {
	DwellerID string `json:"dweller_id"`
	Cause     string `json:"cause"`
}

type DwellerLeveledPayload struct {
	DwellerID string `json:"dweller_id"`
	Level     int    `json:"level"`
}

type PartnersFormedPayload struct {
	A string `json:"a"`
	B string `json:"b"`
}

type ChildGrewUpPayload struct {
	DwellerID string `json:"dweller_id"`
}

type ResourceDepletedPayload struct {
	Resource string `json:"resource"`
}
