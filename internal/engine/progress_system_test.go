package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/activity"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/room"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/vault"
	"github.com/MRamiBalles/vaultsim/server/internal/events"
)

// familyVault has a partnered couple in the living quarters, two hours into
// a three hour pregnancy.
func familyVault() *vault.Snapshot {
	a, b := dweller.Pair("m", "f")
	return &vault.Snapshot{
		Vault: &vault.Vault{
			ID: "v1", Name: "Family", CreatedAt: t0, LastTickAt: t0,
			Pools: resource.Pools{
				resource.Power: {Amount: 50, Capacity: 100},
				resource.Water: {Amount: 50, Capacity: 100},
				resource.Food:  {Amount: 50, Capacity: 100},
			},
			StorageCapacity: 10, PopulationCapacity: 10,
		},
		Rooms: []*room.Room{{
			ID: "q", VaultID: "v1", Name: "Living Quarters", Category: room.CategoryLiving, Tier: 1, Size: 1,
		}},
		Dwellers: []*dweller.Dweller{
			{
				ID: "m", VaultID: "v1", RoomID: strp("q"), Name: "Mia", Gender: dweller.Female,
				Stats: dweller.Stats{4, 4, 4, 4, 4, 4, 4}, Level: 1, Health: 100, MaxHealth: 100,
				Happiness: 50, Status: dweller.StatusIdle, StatusStartedAt: t0, BornAt: t0,
			},
			{
				ID: "f", VaultID: "v1", RoomID: strp("q"), Name: "Finn", Gender: dweller.Male,
				Stats: dweller.Stats{6, 6, 6, 6, 6, 6, 6}, Level: 1, Health: 100, MaxHealth: 100,
				Happiness: 50, Status: dweller.StatusIdle, StatusStartedAt: t0, BornAt: t0,
			},
		},
		Relationships: []*dweller.Relationship{{VaultID: "v1", A: a, B: b, Affinity: 100, Partnered: true}},
		Pregnancies: []*activity.Pregnancy{{
			ID: "p1", VaultID: "v1", MotherID: "m", FatherID: "f",
			Status: activity.PhaseInProgress, StartedAt: t0.Add(-2 * time.Hour), Duration: 3 * time.Hour,
		}},
	}
}

func familyBalanceHarness(t *testing.T) *harness {
	b := quietBalance()
	b.Family.ConceiveChance = 0
	return newHarness(t, b)
}

func TestPregnancyDeliversOnce(t *testing.T) {
	h := familyBalanceHarness(t)
	ctx := context.Background()
	require.NoError(t, h.repo.CreateVault(ctx, familyVault()))

	h.clock.Advance(30 * time.Minute)
	_, err := h.orch.RunTick(ctx, "v1")
	require.NoError(t, err)
	assert.Empty(t, h.sink.OfType(events.EventTypePregnancyDelivered))
	assert.True(t, h.load(t, "v1").Pregnant("m"))

	h.clock.Advance(time.Hour)
	_, err = h.orch.RunTick(ctx, "v1")
	require.NoError(t, err)

	delivered := h.sink.OfType(events.EventTypePregnancyDelivered)
	require.Len(t, delivered, 1)
	born := t0.Add(time.Hour)
	assert.True(t, delivered[0].Timestamp.Equal(born))
	p, ok := delivered[0].Payload.(events.PregnancyDeliveredPayload)
	require.True(t, ok)
	assert.Equal(t, "p1", p.PregnancyID)
	assert.Equal(t, "m", p.MotherID)

	s := h.load(t, "v1")
	require.Len(t, s.Dwellers, 3)
	child := s.Dweller(p.ChildID)
	require.NotNil(t, child)
	assert.Equal(t, []string{"m", "f"}, child.ParentIDs)
	require.NotNil(t, child.ChildUntil)
	assert.True(t, child.ChildUntil.Equal(born.Add(3*time.Hour)))
	for _, v := range child.Stats {
		assert.GreaterOrEqual(t, v, 4)
		assert.LessOrEqual(t, v, 6)
	}
	assert.False(t, s.Pregnant("m"))
	assert.Empty(t, s.Pregnancies)
	for _, id := range []string{"m", "f"} {
		assert.Equal(t, dweller.StatusIdle, s.Dweller(id).Status)
		assert.Equal(t, strp("q"), s.Dweller(id).RoomID)
	}

	h.clock.Advance(time.Minute)
	_, err = h.orch.RunTick(ctx, "v1")
	require.NoError(t, err)
	assert.Len(t, h.sink.OfType(events.EventTypePregnancyDelivered), 1)
	assert.Len(t, h.load(t, "v1").Dwellers, 3)
}

func TestPregnancyCancelledWhenMotherDies(t *testing.T) {
	h := familyBalanceHarness(t)
	ctx := context.Background()
	snap := familyVault()
	snap.Dwellers[0].Health = 0
	snap.Dwellers[0].Status = dweller.StatusDead
	require.NoError(t, h.repo.CreateVault(ctx, snap))

	h.clock.Advance(time.Minute)
	_, err := h.orch.RunTick(ctx, "v1")
	require.NoError(t, err)

	s := h.load(t, "v1")
	assert.False(t, s.Pregnant("m"))
	assert.Empty(t, s.Pregnancies)

	h.clock.Advance(2 * time.Hour)
	_, err = h.orch.RunTick(ctx, "v1")
	require.NoError(t, err)
	assert.Empty(t, h.sink.OfType(events.EventTypePregnancyDelivered))
	assert.Len(t, h.load(t, "v1").Dwellers, 2)
}
