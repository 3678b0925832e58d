package engine

import (
	"github.com/MRamiBalles/vaultsim/server/internal/domain/rules"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/logger"
)

// HappinessSystem drifts dweller happiness toward the vault's conditions.
type HappinessSystem struct {
	logger *logger.Logger
}

// NewHappinessSystem creates the happiness system.
func NewHappinessSystem(log *logger.Logger) *HappinessSystem {
	return &HappinessSystem{logger: log}
}

// Apply reads dwellers from the pre-tick snapshot and pools after
// production, then writes the new values onto the working copy.
func (hs *HappinessSystem) Apply(tc *tickContext) {
	for _, c := range rules.Happiness(tc.pre, tc.work.Vault.Pools, tc.elapsed, tc.now, tc.balance) {
		d := tc.work.Dweller(c.DwellerID)
		if d == nil {
			continue
		}
		d.Happiness = c.New
		if delta := c.New - c.Old; delta != 0 {
			tc.result.HappinessDeltas[c.DwellerID] = delta
		}
	}
}
