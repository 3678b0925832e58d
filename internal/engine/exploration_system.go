package engine

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/activity"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/item"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/rules"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/vault"
	"github.com/MRamiBalles/vaultsim/server/internal/events"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/logger"
)

// ExplorationSystem replays wasteland rolls for every pending expedition and
// brings explorers home when their time is up.
type ExplorationSystem struct {
	logger *logger.Logger
}

// NewExplorationSystem creates the exploration system.
func NewExplorationSystem(log *logger.Logger) *ExplorationSystem {
	return &ExplorationSystem{logger: log}
}

// Apply advances pending runs up to now.
func (es *ExplorationSystem) Apply(tc *tickContext) {
	for _, run := range tc.work.Explorations {
		if run.Outcome != activity.OutcomePending {
			continue
		}
		d := tc.work.Dweller(run.DwellerID)
		if d == nil {
			tc.fail("exploration", "exploration", run.ID, errors.New("explorer not in vault"))
			continue
		}

		out := rules.ExploreStep(run, d, tc.now, tc.rng, tc.newID, tc.balance)
		tc.gainXP(d, out.XP)
		switch {
		case out.Died:
			tc.died(d, "wasteland")
			es.logger.Event("EXPLORER_LOST", tc.vaultID, "explorer died in the wasteland",
				zap.String("dweller_id", d.ID),
				zap.Int("items_lost", len(run.Loot)))
		case out.Returned:
			accepted, overflow := tc.store(run.Loot)
			tc.addPool(resource.Caps, float64(run.CapsFound))
			homecoming(tc.work, d, *run.EndedAt)
			tc.emitAt(events.EventTypeExplorationReturned, *run.EndedAt, d.ID, returnPayload(run, accepted, overflow))
		}
	}
}

// homecoming puts a returning explorer back in the vault, idle and
// unassigned, and hands unused supplies back to the vault pools.
func homecoming(s *vault.Snapshot, d *dweller.Dweller, at time.Time) {
	s.Vault.Pools.Add(resource.Stimpak, float64(d.Stimpaks))
	s.Vault.Pools.Add(resource.RadAway, float64(d.RadAways))
	d.Stimpaks, d.RadAways = 0, 0
	d.Status = dweller.StatusIdle
	d.StatusStartedAt = at
	d.RoomID = nil
}

func returnPayload(run *activity.ExplorationRun, accepted, overflow []item.Item) events.ExplorationReturnedPayload {
	return events.ExplorationReturnedPayload{
		RunID:         run.ID,
		DwellerID:     run.DwellerID,
		Items:         accepted,
		OverflowItems: overflow,
		Caps:          run.CapsFound,
	}
}
