package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MRamiBalles/vaultsim/server/internal/events"
)

// Reconstructor builds the "while you were away" recap from the event
// outbox. State itself is never rebuilt from events; the vault tables are
// the source of truth.
type Reconstructor struct {
	repo VaultRepository
}

// NewReconstructor creates a recap builder over a repository.
func NewReconstructor(repo VaultRepository) *Reconstructor {
	return &Reconstructor{repo: repo}
}

// RecapEvent is a simplified event for the recap screen.
type RecapEvent struct {
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
	Summary   string `json:"summary"` // Human-readable description
	Impact    string `json:"impact"`  // "POSITIVE", "NEGATIVE", "NEUTRAL"
}

// Recap is the digest returned to a returning player.
type Recap struct {
	VaultID string                   `json:"vault_id"`
	Since   time.Time                `json:"since"`
	Counts  map[events.EventType]int `json:"counts"`
	Events  []RecapEvent             `json:"events"`
}

// GenerateRecap summarizes everything that happened in a vault since a point in time.
func (r *Reconstructor) GenerateRecap(ctx context.Context, vaultID string, since time.Time, limit int) (*Recap, error) {
	evts, err := r.repo.ListEvents(ctx, vaultID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get vault events: %w", err)
	}

	recap := &Recap{
		VaultID: vaultID,
		Since:   since,
		Counts:  make(map[events.EventType]int),
		Events:  make([]RecapEvent, 0, len(evts)),
	}
	for _, e := range evts {
		recap.Counts[e.Type]++
		recap.Events = append(recap.Events, RecapEvent{
			Timestamp: e.Timestamp.Format(time.RFC3339),
			EventType: string(e.Type),
			Summary:   summarizeEvent(e),
			Impact:    determineImpact(e),
		})
	}
	return recap, nil
}

// summarizeEvent creates a human-readable summary.
func summarizeEvent(e events.VaultEvent) string {
	p := payloadFields(e)
	switch e.Type {
	case events.EventTypeIncidentSpawned:
		return fmt.Sprintf("A %v incident (severity %v) broke out.", p["kind"], p["severity"])
	case events.EventTypeIncidentEscalated:
		return fmt.Sprintf("An incident escalated to severity %v.", p["severity"])
	case events.EventTypeIncidentResolved:
		return fmt.Sprintf("Defenders cleared an incident and found %v caps.", p["caps_reward"])
	case events.EventTypeExplorationReturned:
		if overflow, ok := p["overflow_items"].([]interface{}); ok && len(overflow) > 0 {
			return fmt.Sprintf("An explorer returned; %d items did not fit in storage.", len(overflow))
		}
		return "An explorer returned with their loot."
	case events.EventTypeExplorationRecalled:
		return "An explorer was recalled."
	case events.EventTypeTrainingCompleted:
		return fmt.Sprintf("A dweller finished training %v.", p["stat"])
	case events.EventTypePregnancyStarted:
		return "A dweller is expecting."
	case events.EventTypePregnancyDelivered:
		return "A baby was born."
	case events.EventTypeQuestResolved:
		if ok, _ := p["success"].(bool); ok {
			return fmt.Sprintf("The party completed %v.", p["quest_id"])
		}
		return fmt.Sprintf("The party failed %v.", p["quest_id"])
	case events.EventTypeDwellerDied:
		return fmt.Sprintf("A dweller died (%v).", p["cause"])
	case events.EventTypeDwellerLeveled:
		return fmt.Sprintf("A dweller reached level %v.", p["level"])
	case events.EventTypePartnersFormed:
		return "Two dwellers became partners."
	case events.EventTypeChildGrewUp:
		return "A child grew up."
	case events.EventTypeResourceDepleted:
		return fmt.Sprintf("The vault ran out of %v.", p["resource"])
	default:
		return "Something happened in the vault."
	}
}

// determineImpact classifies the event impact.
func determineImpact(e events.VaultEvent) string {
	switch e.Type {
	case events.EventTypeIncidentSpawned, events.EventTypeIncidentEscalated,
		events.EventTypeDwellerDied, events.EventTypeResourceDepleted:
		return "NEGATIVE"
	case events.EventTypeQuestResolved:
		if ok, _ := payloadFields(e)["success"].(bool); ok {
			return "POSITIVE"
		}
		return "NEGATIVE"
	case events.EventTypeIncidentResolved, events.EventTypeExplorationReturned,
		events.EventTypeTrainingCompleted, events.EventTypePregnancyDelivered,
		events.EventTypeDwellerLeveled, events.EventTypePartnersFormed, events.EventTypeChildGrewUp:
		return "POSITIVE"
	default:
		return "NEUTRAL"
	}
}

// payloadFields decodes a payload generically; events read back from the
// store carry raw JSON, freshly emitted ones carry the typed struct.
func payloadFields(e events.VaultEvent) map[string]interface{} {
	var raw []byte
	switch p := e.Payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil
		}
		raw = b
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
