package vault

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/activity"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/room"
)

func strp(s string) *string { return &s }

func fixture(now time.Time) *Snapshot {
	living := &room.Room{ID: "r1", VaultID: "v1", Category: room.CategoryLiving, Tier: 1, Size: 1}
	return &Snapshot{
		Vault: &Vault{
			ID: "v1", LastTickAt: now.Add(-time.Minute), StorageCapacity: 10,
			Pools: resource.Pools{resource.Power: {Amount: 10, Capacity: 100}},
		},
		Rooms: []*room.Room{living},
		Dwellers: []*dweller.Dweller{
			{ID: "d1", RoomID: strp("r1"), Status: dweller.StatusWorking, Health: 100},
			{ID: "d2", RoomID: strp("r1"), Status: dweller.StatusWorking, Health: 100},
		},
	}
}

func TestValidateAcceptsConsistentSnapshot(t *testing.T) {
	now := time.Now()
	require.NoError(t, fixture(now).Validate(2, now))
}

func TestValidateReportsEveryProblem(t *testing.T) {
	now := time.Now()
	s := fixture(now)
	s.Vault.Pools[resource.Power] = resource.Pool{Amount: 120, Capacity: 100}
	s.Dwellers = append(s.Dwellers, &dweller.Dweller{ID: "d3", RoomID: strp("r1"), Status: dweller.StatusExploring})
	s.StorageUsed = 11

	err := s.Validate(2, now)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Problems, 4)
}

func TestDeadDwellersDoNotCountTowardOccupancy(t *testing.T) {
	now := time.Now()
	s := fixture(now)
	s.Dwellers = append(s.Dwellers, &dweller.Dweller{ID: "d3", RoomID: strp("r1"), Status: dweller.StatusDead})
	assert.NoError(t, s.Validate(2, now))
	assert.Len(t, s.Occupants("r1"), 2)
}

func TestDiffOnlyCarriesModifiedEntities(t *testing.T) {
	now := time.Now()
	before := fixture(now)
	before.Vault.Version = 7
	after := before.Clone()

	after.Dwellers[1].Happiness = 60
	after.Incidents = append(after.Incidents, &activity.Incident{ID: "i1", RoomID: "r1", Status: activity.IncidentActive})
	after.Vault.LastTickAt = now

	cs := Diff(before, after, nil)
	require.Len(t, cs.Dwellers, 1)
	assert.Equal(t, "d2", cs.Dwellers[0].ID)
	assert.Len(t, cs.Incidents, 1)
	assert.Equal(t, int64(7), cs.ExpectedVersion)
	assert.Equal(t, now, cs.Vault.LastTickAt)
}

func TestCloneIsIndependent(t *testing.T) {
	s := fixture(time.Now())
	c := s.Clone()
	*c.Dwellers[0].RoomID = "elsewhere"
	c.Vault.Pools.Add(resource.Power, 5)

	assert.Equal(t, "r1", *s.Dwellers[0].RoomID)
	assert.Equal(t, 10.0, s.Vault.Pools[resource.Power].Amount)
}

func TestNewStarterIsValid(t *testing.T) {
	now := time.Now()
	n := 0
	s := NewStarter("v9", "Vault 9", now, func() string { n++; return fmt.Sprintf("e%d", n) })

	require.NoError(t, s.Validate(2, now))
	assert.Equal(t, 6, s.Population())
	assert.Len(t, s.Rooms, 6)
	for _, r := range s.Rooms[:3] {
		assert.Len(t, s.Occupants(r.ID), 2)
	}
}
