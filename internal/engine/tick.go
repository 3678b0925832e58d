package engine

import (
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/item"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/rules"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/vault"
	"github.com/MRamiBalles/vaultsim/server/internal/events"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/metrics"
)

// tickContext is the working state of one vault tick. Systems read pre and
// mutate work; nothing leaves the tick until the orchestrator commits.
type tickContext struct {
	vaultID string
	now     time.Time
	elapsed time.Duration

	pre  *vault.Snapshot
	work *vault.Snapshot

	rng     *rand.Rand
	newID   func() string
	balance *rules.Balance
	metrics *metrics.Collector

	stored []item.Item
	events []events.VaultEvent
	result *TickResult
}

func newTickContext(pre *vault.Snapshot, now time.Time, newID func() string, b *rules.Balance, m *metrics.Collector) *tickContext {
	return &tickContext{
		vaultID: pre.Vault.ID,
		now:     now,
		elapsed: now.Sub(pre.Vault.LastTickAt),
		pre:     pre,
		work:    pre.Clone(),
		rng:     tickRNG(pre.Vault.ID, pre.Vault.LastTickAt, now),
		newID:   newID,
		balance: b,
		metrics: m,
		result: &TickResult{
			VaultID:          pre.Vault.ID,
			Elapsed:          now.Sub(pre.Vault.LastTickAt),
			ProductionDeltas: make(map[resource.Kind]float64),
			HappinessDeltas:  make(map[string]float64),
		},
	}
}

// tickRNG seeds the tick's random source from the vault and the time window,
// so replaying the same window draws the same numbers.
func tickRNG(vaultID string, last, now time.Time) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(vaultID))
	return rand.New(rand.NewPCG(h.Sum64()^uint64(last.UnixNano()), uint64(now.UnixNano())))
}

func (tc *tickContext) emit(t events.EventType, actorID string, payload interface{}) {
	tc.emitAt(t, tc.now, actorID, payload)
}

func (tc *tickContext) emitAt(t events.EventType, at time.Time, actorID string, payload interface{}) {
	tc.events = append(tc.events, events.New(tc.vaultID, t, at, actorID, payload))
}

func (tc *tickContext) fail(system, entity, id string, err error) {
	tc.result.Errors = append(tc.result.Errors, ComputeError{System: system, Entity: entity, ID: id, Err: err})
	if tc.metrics != nil {
		tc.metrics.RecordSubsystemError(system)
	}
}

// addPool applies an unclamped delta and tracks it in the result.
func (tc *tickContext) addPool(k resource.Kind, delta float64) {
	if delta == 0 {
		return
	}
	if _, ok := tc.work.Vault.Pools[k]; !ok {
		return
	}
	tc.work.Vault.Pools.Add(k, delta)
	tc.result.ProductionDeltas[k] += delta
}

// store moves items into vault storage, rarest first. It returns what did
// not fit.
func (tc *tickContext) store(items []item.Item) (accepted, overflow []item.Item) {
	accepted, overflow = rules.StoreLoot(items, tc.work.StorageUsed, tc.work.Vault.StorageCapacity)
	tc.work.StorageUsed += item.TotalSize(accepted)
	tc.stored = append(tc.stored, accepted...)
	return accepted, overflow
}

func (tc *tickContext) died(d *dweller.Dweller, cause string) {
	tc.emit(events.EventTypeDwellerDied, d.ID, events.DwellerDiedPayload{DwellerID: d.ID, Cause: cause})
}

func (tc *tickContext) gainXP(d *dweller.Dweller, xp int) {
	if rules.GainExperience(d, xp, tc.balance) > 0 {
		tc.leveled(d)
	}
}

func (tc *tickContext) leveled(d *dweller.Dweller) {
	tc.emit(events.EventTypeDwellerLeveled, d.ID, events.DwellerLeveledPayload{DwellerID: d.ID, Level: d.Level})
}
