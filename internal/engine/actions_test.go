package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/activity"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/item"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/rules"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/vault"
	"github.com/MRamiBalles/vaultsim/server/internal/events"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/cache"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/lock"
	"github.com/MRamiBalles/vaultsim/server/internal/infra/storage"
)

// safeBalance keeps explorers unharmed so supply accounting is exact.
func safeBalance() *rules.Balance {
	b := quietBalance()
	b.Exploration.DamagePerRoll = 0
	b.Exploration.RadiationPerRoll = 0
	return b
}

func TestCreateVaultRejectsEmptyName(t *testing.T) {
	h := newHarness(t, quietBalance())
	_, err := h.actions.CreateVault(context.Background(), "")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestAssignDweller(t *testing.T) {
	h := newHarness(t, quietBalance())
	ctx := context.Background()
	s := h.starter(t)
	power, weight := s.Rooms[0].ID, s.Rooms[5].ID
	waterWorker := s.Dwellers[2].ID

	err := h.actions.AssignDweller(ctx, s.Vault.ID, waterWorker, strp(power))
	assert.ErrorIs(t, err, ErrRoomFull)

	err = h.actions.AssignDweller(ctx, s.Vault.ID, "ghost", strp(power))
	assert.ErrorIs(t, err, ErrDwellerNotFound)

	err = h.actions.AssignDweller(ctx, s.Vault.ID, waterWorker, strp("nowhere"))
	assert.ErrorIs(t, err, ErrRoomNotFound)

	require.NoError(t, h.actions.AssignDweller(ctx, s.Vault.ID, waterWorker, strp(weight)))
	after := h.load(t, s.Vault.ID)
	d := after.Dweller(waterWorker)
	assert.Equal(t, dweller.StatusTraining, d.Status)
	tr := after.OpenTraining(waterWorker)
	require.NotNil(t, tr)
	assert.Equal(t, dweller.Strength, tr.Stat)
	assert.Equal(t, activity.PhasePending, tr.Status)

	require.NoError(t, h.actions.AssignDweller(ctx, s.Vault.ID, waterWorker, nil))
	after = h.load(t, s.Vault.ID)
	assert.Nil(t, after.OpenTraining(waterWorker))
	assert.Nil(t, after.Dweller(waterWorker).RoomID)
	assert.Equal(t, dweller.StatusIdle, after.Dweller(waterWorker).Status)

	// actions never move the vault clock
	assert.True(t, after.Vault.LastTickAt.Equal(t0))
}

func TestActionConflictsWithHeldLease(t *testing.T) {
	h := newHarness(t, quietBalance())
	ctx := context.Background()
	s := h.starter(t)
	_, err := h.leaser.TryAcquire(ctx, s.Vault.ID, time.Hour)
	require.NoError(t, err)

	err = h.actions.SetGuard(ctx, s.Vault.ID, s.Dwellers[0].ID, true)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, s.Vault.ID, ce.VaultID)
	assert.True(t, IsRetryable(err))
	assert.False(t, h.load(t, s.Vault.ID).Dweller(s.Dwellers[0].ID).Guard)
}

func TestExplorationReturnsThroughTick(t *testing.T) {
	h := newHarness(t, safeBalance())
	ctx := context.Background()
	s := h.starter(t)
	explorer := s.Dwellers[0].ID

	require.NoError(t, h.actions.StartExploration(ctx, s.Vault.ID, explorer, 10*time.Minute, 2, 1))
	away := h.load(t, s.Vault.ID)
	assert.Equal(t, dweller.StatusExploring, away.Dweller(explorer).Status)
	assert.Nil(t, away.Dweller(explorer).RoomID)
	assert.Equal(t, 3.0, away.Vault.Pools[resource.Stimpak].Amount)
	assert.Equal(t, 4.0, away.Vault.Pools[resource.RadAway].Amount)

	err := h.actions.StartExploration(ctx, s.Vault.ID, explorer, 10*time.Minute, 0, 0)
	assert.ErrorIs(t, err, ErrDwellerBusy)

	h.clock.Advance(11 * time.Minute)
	_, err = h.orch.RunTick(ctx, s.Vault.ID)
	require.NoError(t, err)

	returned := h.sink.OfType(events.EventTypeExplorationReturned)
	require.Len(t, returned, 1)
	p, ok := returned[0].Payload.(events.ExplorationReturnedPayload)
	require.True(t, ok)
	assert.Equal(t, explorer, p.DwellerID)
	assert.True(t, returned[0].Timestamp.Equal(t0.Add(10*time.Minute)))

	home := h.load(t, s.Vault.ID)
	d := home.Dweller(explorer)
	assert.Equal(t, dweller.StatusIdle, d.Status)
	assert.Zero(t, d.Stimpaks)
	assert.Equal(t, 5.0, home.Vault.Pools[resource.Stimpak].Amount)
	assert.Equal(t, 5.0, home.Vault.Pools[resource.RadAway].Amount)
	assert.Empty(t, home.Explorations)

	stored := h.repo.Items(s.Vault.ID)
	assert.Len(t, stored, len(p.Items))
	assert.Equal(t, item.TotalSize(p.Items), home.StorageUsed)
	assert.LessOrEqual(t, home.StorageUsed, home.Vault.StorageCapacity)
}

func TestRecallExploration(t *testing.T) {
	h := newHarness(t, safeBalance())
	ctx := context.Background()
	s := h.starter(t)
	explorer := s.Dwellers[1].ID

	_, err := h.actions.RecallExploration(ctx, s.Vault.ID, explorer)
	assert.ErrorIs(t, err, ErrNoExpedition)

	require.NoError(t, h.actions.StartExploration(ctx, s.Vault.ID, explorer, time.Hour, 1, 0))
	h.clock.Advance(5 * time.Minute)

	evts, err := h.actions.RecallExploration(ctx, s.Vault.ID, explorer)
	require.NoError(t, err)
	require.NotEmpty(t, evts)
	last := evts[len(evts)-1]
	assert.Equal(t, events.EventTypeExplorationRecalled, last.Type)
	assert.True(t, last.Timestamp.Equal(t0.Add(5*time.Minute)))

	after := h.load(t, s.Vault.ID)
	assert.Equal(t, dweller.StatusIdle, after.Dweller(explorer).Status)
	assert.Nil(t, after.PendingRun(explorer))
	assert.Equal(t, 5.0, after.Vault.Pools[resource.Stimpak].Amount)
	assert.Len(t, h.sink.OfType(events.EventTypeExplorationRecalled), 1)
}

func TestStartQuestIneligible(t *testing.T) {
	h := newHarness(t, quietBalance())
	s := h.starter(t)

	elig, err := h.actions.StartQuest(context.Background(), s.Vault.ID, "medical-cache",
		[]string{s.Dwellers[0].ID, s.Dwellers[1].ID})
	assert.ErrorIs(t, err, ErrIneligible)
	assert.False(t, elig.Met)
	assert.Contains(t, elig.Reasons, "requires quest supply-run")
	assert.Contains(t, elig.Reasons, "dweller "+s.Dwellers[0].ID+" below level 3")

	_, err = h.actions.StartQuest(context.Background(), s.Vault.ID, "no-such-quest", nil)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestQuestResolvesAcrossTicks(t *testing.T) {
	h := newHarness(t, quietBalance())
	ctx := context.Background()
	s := h.starter(t)
	member := s.Dwellers[0].ID

	elig, err := h.actions.StartQuest(ctx, s.Vault.ID, "supply-run", []string{member})
	require.NoError(t, err)
	assert.True(t, elig.Met)

	_, err = h.actions.StartQuest(ctx, s.Vault.ID, "supply-run", []string{member})
	assert.ErrorIs(t, err, ErrIneligible)

	h.clock.Advance(time.Minute)
	_, err = h.orch.RunTick(ctx, s.Vault.ID)
	require.NoError(t, err)
	assert.Equal(t, dweller.StatusQuesting, h.load(t, s.Vault.ID).Dweller(member).Status)

	h.clock.Advance(31 * time.Minute)
	_, err = h.orch.RunTick(ctx, s.Vault.ID)
	require.NoError(t, err)

	resolved := h.sink.OfType(events.EventTypeQuestResolved)
	require.Len(t, resolved, 1)
	p := resolved[0].Payload.(events.QuestResolvedPayload)
	assert.Equal(t, []string{member}, p.Members)

	after := h.load(t, s.Vault.ID)
	d := after.Dweller(member)
	assert.True(t, d.Alive())
	assert.Equal(t, dweller.StatusIdle, d.Status)
	assert.Empty(t, after.Quests)
	assert.Equal(t, p.Success, after.Vault.HasCompleted("supply-run"))
}

func TestQuestMembersStayHomeUntilDeparture(t *testing.T) {
	h := newHarness(t, safeBalance())
	ctx := context.Background()
	s := h.starter(t)
	member := s.Dwellers[0].ID

	_, err := h.actions.StartQuest(ctx, s.Vault.ID, "supply-run", []string{member})
	require.NoError(t, err)

	err = h.actions.StartExploration(ctx, s.Vault.ID, member, 10*time.Minute, 0, 0)
	assert.ErrorIs(t, err, ErrDwellerBusy)
	err = h.actions.AssignDweller(ctx, s.Vault.ID, member, nil)
	assert.ErrorIs(t, err, ErrDwellerBusy)

	h.clock.Advance(time.Minute)
	_, err = h.orch.RunTick(ctx, s.Vault.ID)
	require.NoError(t, err)

	after := h.load(t, s.Vault.ID)
	assert.Equal(t, dweller.StatusQuesting, after.Dweller(member).Status)
	assert.Nil(t, after.PendingRun(member))
	assert.NotNil(t, after.OpenParty(member))
}

// interleavingRepo lets a test stall snapshot loads or slip a write in
// right after one.
type interleavingRepo struct {
	storage.VaultRepository
	stall bool
	after func()
}

func (r *interleavingRepo) LoadVaultSnapshot(ctx context.Context, vaultID string) (*vault.Snapshot, error) {
	if r.stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s, err := r.VaultRepository.LoadVaultSnapshot(ctx, vaultID)
	if err == nil && r.after != nil {
		f := r.after
		r.after = nil
		f()
	}
	return s, err
}

func TestActionIsBoundedByMaxDuration(t *testing.T) {
	h := newHarness(t, quietBalance())
	ctx := context.Background()
	s := h.starter(t)
	h.orch.repo = &interleavingRepo{VaultRepository: h.repo, stall: true}
	h.orch.settings.MaxDuration = 20 * time.Millisecond

	err := h.actions.SetGuard(ctx, s.Vault.ID, s.Dwellers[0].ID, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, IsRetryable(err))
	assert.False(t, h.load(t, s.Vault.ID).Dweller(s.Dwellers[0].ID).Guard)

	// the lease was released
	require.NoError(t, h.leaser.Release(ctx, mustAcquire(t, h, s.Vault.ID)))
}

func TestTickLosesToWriteCommittedAfterItsRead(t *testing.T) {
	h := newHarness(t, quietBalance())
	ctx := context.Background()
	s := h.starter(t)
	guard := s.Dwellers[0].ID

	// a writer whose lease lapsed commits between the tick's read and write
	h.orch.repo = &interleavingRepo{VaultRepository: h.repo, after: func() {
		before, err := h.repo.LoadVaultSnapshot(ctx, s.Vault.ID)
		require.NoError(t, err)
		after := before.Clone()
		after.Dweller(guard).Guard = true
		require.NoError(t, h.repo.CommitVaultDeltas(ctx, vault.Diff(before, after, nil), nil))
	}}

	h.clock.Advance(time.Minute)
	_, err := h.orch.RunTick(ctx, s.Vault.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrStaleSnapshot)
	assert.True(t, IsRetryable(err))

	got := h.load(t, s.Vault.ID)
	assert.True(t, got.Dweller(guard).Guard)
	assert.True(t, got.Vault.LastTickAt.Equal(t0))
	assert.EqualValues(t, 1, h.repo.Commits())
}

func mustAcquire(t *testing.T, h *harness, vaultID string) lock.Lease {
	t.Helper()
	lease, err := h.leaser.TryAcquire(context.Background(), vaultID, time.Minute)
	require.NoError(t, err)
	return lease
}

func TestSummaryReadsThroughCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	h := newHarness(t, quietBalance())
	h.orch.cache = cache.NewVaultCache(cache.GoRedis{Client: client}, time.Minute)
	ctx := context.Background()
	s := h.starter(t)

	sum, err := h.actions.Summary(ctx, s.Vault.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Population)
	assert.True(t, mr.Exists("vault:"+s.Vault.ID+":summary"))

	require.NoError(t, h.actions.SetGuard(ctx, s.Vault.ID, s.Dwellers[0].ID, true))
	assert.False(t, mr.Exists("vault:"+s.Vault.ID+":summary"))
}
