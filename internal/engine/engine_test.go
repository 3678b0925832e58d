package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/room"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/rules"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/vault"
	"github.com/MRamiBalles/vaultsim/server/internal/events"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/blob"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/lock"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/storage"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/logger"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/metrics"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func idGen(prefix string) func() string {
	var n int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, atomic.AddInt64(&n, 1))
	}
}

func strp(s string) *string { return &s }

func statp(s dweller.Stat) *dweller.Stat { return &s }

func kindp(k resource.Kind) *resource.Kind { return &k }

// quietBalance switches off upkeep and the random background systems so a
// test sees only what it sets up.
func quietBalance() *rules.Balance {
	b := rules.DefaultBalance()
	b.FoodPerDwellerPerSecond = 0
	b.WaterPerDwellerPerSecond = 0
	b.PowerPerRoomPerSecond = 0
	b.Incidents.BaseChancePerMinute = 0
	b.Family.AffinityPerMinute = 0
	return b
}

type harness struct {
	repo    *storage.MemoryRepository
	leaser  *lock.MemoryLeaser
	clock   *FakeClock
	sink    *events.MemorySink
	blobDir string
	orch    *Orchestrator
	actions *Actions
}

func newHarness(t *testing.T, b *rules.Balance) *harness {
	t.Helper()
	h := &harness{
		repo:    storage.NewMemoryRepository(),
		leaser:  lock.NewMemoryLeaser(),
		clock:   NewFakeClock(t0),
		sink:    &events.MemorySink{},
		blobDir: t.TempDir(),
	}
	blobs, err := blob.NewFSStore(h.blobDir)
	require.NoError(t, err)

	log := logger.NewNop()
	m := metrics.New()
	h.orch = NewOrchestrator(Deps{
		Repo:       h.repo,
		Leaser:     h.leaser,
		Dispatcher: events.NewDispatcher(log, m, h.sink),
		Blobs:      blobs,
		Logger:     log,
		Metrics:    m,
		Balance:    b,
		Clock:      h.clock,
		NewID:      idGen("id"),
	}, Settings{
		MinInterval:        10 * time.Second,
		MaxDuration:        5 * time.Second,
		LeaseTTL:           30 * time.Second,
		ActionLockAttempts: 3,
		ActionLockBackoff:  time.Millisecond,
	})
	h.actions = NewActions(h.orch)
	return h
}

func (h *harness) starter(t *testing.T) *vault.Snapshot {
	t.Helper()
	s, err := h.actions.CreateVault(context.Background(), "Vault 101")
	require.NoError(t, err)
	return s
}

func (h *harness) load(t *testing.T, vaultID string) *vault.Snapshot {
	t.Helper()
	s, err := h.repo.LoadVaultSnapshot(context.Background(), vaultID)
	require.NoError(t, err)
	return s
}

// powerVault has one generator staffed by a strength-8 dweller.
func powerVault(power float64) *vault.Snapshot {
	return &vault.Snapshot{
		Vault: &vault.Vault{
			ID: "v1", Name: "Power", CreatedAt: t0, LastTickAt: t0,
			Pools: resource.Pools{
				resource.Power: {Amount: power, Capacity: 100},
				resource.Water: {Amount: 50, Capacity: 100},
				resource.Food:  {Amount: 50, Capacity: 100},
			},
			StorageCapacity: 10, PopulationCapacity: 10,
		},
		Rooms: []*room.Room{{
			ID: "gen", VaultID: "v1", Name: "Generator", Category: room.CategoryProduction,
			Ability: statp(dweller.Strength), Produces: kindp(resource.Power),
			Tier: 1, Size: 1, OutputBase: 1.0,
		}},
		Dwellers: []*dweller.Dweller{{
			ID: "d1", VaultID: "v1", RoomID: strp("gen"), Name: "Ada", Gender: dweller.Female,
			Stats: dweller.Stats{8, 1, 1, 1, 1, 1, 1}, Level: 1, Health: 100, MaxHealth: 100,
			Happiness: 50, Status: dweller.StatusWorking, StatusStartedAt: t0, BornAt: t0,
		}},
	}
}

func TestRunTickProductionExample(t *testing.T) {
	h := newHarness(t, quietBalance())
	ctx := context.Background()
	require.NoError(t, h.repo.CreateVault(ctx, powerVault(10)))

	h.clock.Advance(60 * time.Second)
	res, err := h.orch.RunTick(ctx, "v1")
	require.NoError(t, err)
	require.False(t, res.Skipped)
	assert.InDelta(t, 48.0, res.ProductionDeltas[resource.Power], 1e-9)
	assert.Equal(t, time.Minute, res.Elapsed)

	s := h.load(t, "v1")
	assert.InDelta(t, 58.0, s.Vault.Pools[resource.Power].Amount, 1e-9)
	assert.True(t, s.Vault.LastTickAt.Equal(t0.Add(time.Minute)))
	assert.Equal(t, int64(1), h.repo.Commits())
}

func TestRunTickHappinessScarcityExample(t *testing.T) {
	h := newHarness(t, quietBalance())
	ctx := context.Background()
	s := powerVault(0)
	s.Rooms = nil
	d := s.Dwellers[0]
	d.RoomID = nil
	d.Status = dweller.StatusIdle
	require.NoError(t, h.repo.CreateVault(ctx, s))

	h.clock.Advance(time.Minute)
	res, err := h.orch.RunTick(ctx, "v1")
	require.NoError(t, err)
	assert.InDelta(t, -5.0, res.HappinessDeltas["d1"], 1e-9)
	assert.InDelta(t, 45.0, h.load(t, "v1").Dweller("d1").Happiness, 1e-9)
}

func TestRunTickClampsAndReportsDropped(t *testing.T) {
	h := newHarness(t, quietBalance())
	ctx := context.Background()
	require.NoError(t, h.repo.CreateVault(ctx, powerVault(99)))

	h.clock.Advance(time.Minute)
	res, err := h.orch.RunTick(ctx, "v1")
	require.NoError(t, err)
	assert.InDelta(t, 47.0, res.Dropped[resource.Power], 1e-9)

	p := h.load(t, "v1").Vault.Pools[resource.Power]
	assert.Equal(t, 100.0, p.Amount)
	assert.True(t, p.Valid())
}

func TestSecondRunTickWithinMinIntervalIsNoop(t *testing.T) {
	h := newHarness(t, quietBalance())
	ctx := context.Background()
	s := h.starter(t)

	h.clock.Advance(time.Minute)
	first, err := h.orch.RunTick(ctx, s.Vault.ID)
	require.NoError(t, err)
	require.True(t, first.Committed())
	before := h.load(t, s.Vault.ID)

	again, err := h.orch.RunTick(ctx, s.Vault.ID)
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Equal(t, ReasonNoElapsed, again.Reason)

	h.clock.Advance(5 * time.Second)
	soon, err := h.orch.RunTick(ctx, s.Vault.ID)
	require.NoError(t, err)
	assert.True(t, soon.Skipped)
	assert.Equal(t, ReasonTooSoon, soon.Reason)

	assert.Equal(t, int64(1), h.repo.Commits())
	assert.Equal(t, before, h.load(t, s.Vault.ID))
}

func TestForceTickBypassesOnlyTheMinimumInterval(t *testing.T) {
	h := newHarness(t, quietBalance())
	ctx := context.Background()
	s := h.starter(t)

	res, err := h.orch.ForceTick(ctx, s.Vault.ID)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonNoElapsed, res.Reason)

	h.clock.Advance(2 * time.Second)
	res, err = h.orch.ForceTick(ctx, s.Vault.ID)
	require.NoError(t, err)
	assert.True(t, res.Committed())
	assert.Equal(t, 2*time.Second, res.Elapsed)
}

func TestConcurrentTicksCommitExactlyOnce(t *testing.T) {
	h := newHarness(t, rules.DefaultBalance())
	s := h.starter(t)
	h.clock.Advance(time.Minute)

	var (
		wg        sync.WaitGroup
		committed int32
		contended int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.orch.RunTick(context.Background(), s.Vault.ID)
			switch {
			case err == nil && res.Committed():
				atomic.AddInt32(&committed, 1)
			case err != nil:
				assert.ErrorIs(t, err, ErrLockUnavailable)
				assert.True(t, IsRetryable(err))
				atomic.AddInt32(&contended, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), committed)
	assert.Equal(t, int64(1), h.repo.Commits())
	assert.True(t, h.load(t, s.Vault.ID).Vault.LastTickAt.Equal(t0.Add(time.Minute)))
}

func TestRunTickSkipsWhileLeaseHeld(t *testing.T) {
	h := newHarness(t, quietBalance())
	ctx := context.Background()
	s := h.starter(t)
	_, err := h.leaser.TryAcquire(ctx, s.Vault.ID, time.Minute)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	res, err := h.orch.RunTick(ctx, s.Vault.ID)
	assert.ErrorIs(t, err, ErrLockUnavailable)
	var te *TransientError
	assert.ErrorAs(t, err, &te)
	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonLocked, res.Reason)
	assert.Zero(t, h.repo.Commits())
}

func TestRunTickSkipsPausedAndBackwardsClock(t *testing.T) {
	h := newHarness(t, quietBalance())
	ctx := context.Background()
	s := h.starter(t)

	h.clock.Set(t0.Add(-time.Minute))
	res, err := h.orch.RunTick(ctx, s.Vault.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonBackwards, res.Reason)

	h.clock.Set(t0)
	require.NoError(t, h.actions.SetPaused(ctx, s.Vault.ID, true))
	h.clock.Advance(time.Hour)
	res, err = h.orch.RunTick(ctx, s.Vault.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonPaused, res.Reason)

	// resuming restarts the clock; the paused hour is never simulated
	require.NoError(t, h.actions.SetPaused(ctx, s.Vault.ID, false))
	h.clock.Advance(time.Minute)
	res, err = h.orch.RunTick(ctx, s.Vault.ID)
	require.NoError(t, err)
	assert.True(t, res.Committed())
	assert.Equal(t, time.Minute, res.Elapsed)
}

func TestRunTickUnknownVault(t *testing.T) {
	h := newHarness(t, quietBalance())
	_, err := h.orch.RunTick(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.False(t, IsRetryable(err))
}

func TestInvariantViolationFlagsAndArchives(t *testing.T) {
	h := newHarness(t, quietBalance())
	ctx := context.Background()
	require.NoError(t, h.repo.CreateVault(ctx, powerVault(150)))

	h.clock.Advance(time.Minute)
	_, err := h.orch.RunTick(ctx, "v1")
	var iv *InvariantViolation
	require.ErrorAs(t, err, &iv)
	assert.Equal(t, "load", iv.Stage)
	assert.False(t, IsRetryable(err))
	assert.Zero(t, h.repo.Commits())

	s := h.load(t, "v1")
	assert.True(t, s.Vault.NeedsReview)
	assert.Contains(t, s.Vault.ReviewReason, "pool power out of range")
	assert.True(t, s.Vault.LastTickAt.Equal(t0))

	archived, err := filepath.Glob(filepath.Join(h.blobDir, "vaults", "v1", "*-load.json"))
	require.NoError(t, err)
	assert.Len(t, archived, 1)

	h.clock.Advance(time.Minute)
	res, err := h.orch.RunTick(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, ReasonReview, res.Reason)

	due, err := h.repo.ListDueVaults(ctx, h.clock.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRunTickSpawnsIncident(t *testing.T) {
	b := quietBalance()
	b.Incidents.BaseChancePerMinute = 10
	b.Incidents.MaxSpawnProbability = 1
	h := newHarness(t, b)
	ctx := context.Background()
	s := h.starter(t)

	h.clock.Advance(time.Minute)
	res, err := h.orch.RunTick(ctx, s.Vault.ID)
	require.NoError(t, err)

	spawned := h.sink.OfType(events.EventTypeIncidentSpawned)
	require.Len(t, spawned, 1)
	assert.Len(t, res.Events, len(h.sink.Events()))

	after := h.load(t, s.Vault.ID)
	require.Len(t, after.ActiveIncidents(), 1)
	inc := after.ActiveIncidents()[0]
	assert.NotEmpty(t, after.Occupants(inc.RoomID))
	assert.Equal(t, room.CategoryProduction, after.Room(inc.RoomID).Category)
}

func TestTicksAreDeterministic(t *testing.T) {
	b := rules.DefaultBalance()
	b.Incidents.BaseChancePerMinute = 0.05
	b.Family.AffinityPerMinute = 20

	run := func() *vault.Snapshot {
		h := newHarness(t, b)
		ctx := context.Background()
		s := h.starter(t)
		require.NoError(t, h.actions.AssignDweller(ctx, s.Vault.ID, s.Dwellers[0].ID, strp(s.Rooms[3].ID)))
		require.NoError(t, h.actions.AssignDweller(ctx, s.Vault.ID, s.Dwellers[1].ID, strp(s.Rooms[3].ID)))
		for i := 0; i < 6; i++ {
			h.clock.Advance(10 * time.Minute)
			_, err := h.orch.RunTick(ctx, s.Vault.ID)
			require.NoError(t, err)
		}
		return h.load(t, s.Vault.ID)
	}

	assert.Equal(t, run(), run())
}
