package engine

import (
	"go.uber.org/zap"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/rules"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/logger"
)

// ProductionSystem turns staffed production rooms into resources and charges
// the vault's upkeep. It runs first; every later system sees its pools.
type ProductionSystem struct {
	logger *logger.Logger
}

// NewProductionSystem creates the production system.
func NewProductionSystem(log *logger.Logger) *ProductionSystem {
	return &ProductionSystem{logger: log}
}

// Apply adds this tick's output and upkeep to the working pools, unclamped.
func (ps *ProductionSystem) Apply(tc *tickContext) {
	out := rules.Production(tc.pre, tc.elapsed, tc.now, tc.balance)
	for _, e := range out.Errors {
		tc.fail("production", e.Entity, e.ID, e.Err)
		ps.logger.Warn("production room skipped",
			zap.String("vault_id", tc.vaultID),
			zap.String("room_id", e.ID),
			zap.Error(e.Err))
	}

	upkeep := rules.Consumption(tc.pre, tc.elapsed, tc.balance)
	for _, k := range resource.Kinds {
		tc.addPool(k, out.Deltas[k]+upkeep[k])
	}
}
