package quest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/dweller"
)

func member(id string, level int) *dweller.Dweller {
	return &dweller.Dweller{ID: id, Level: level, Status: dweller.StatusIdle, Health: 100, MaxHealth: 100}
}

func TestEligibleRequiresChainPrerequisite(t *testing.T) {
	q, err := Lookup("medical-cache")
	require.NoError(t, err)

	now := time.Now()
	party := []*dweller.Dweller{member("a", 5), member("b", 5)}

	e := q.Eligible(map[string]bool{}, party, now)
	assert.False(t, e.Met)
	assert.Contains(t, e.Reasons, "requires quest supply-run")

	e = q.Eligible(map[string]bool{"supply-run": true}, party, now)
	assert.True(t, e.Met)
	assert.Empty(t, e.Reasons)
}

func TestEligibleRejectsBusyChildAndDuplicateMembers(t *testing.T) {
	q, err := Lookup("supply-run")
	require.NoError(t, err)

	now := time.Now()
	later := now.Add(time.Hour)
	kid := member("kid", 1)
	kid.ChildUntil = &later
	away := member("away", 1)
	away.Status = dweller.StatusExploring

	e := q.Eligible(nil, []*dweller.Dweller{kid, away, away}, now)
	assert.False(t, e.Met)
	assert.Len(t, e.Reasons, 3)
}

func TestRewardKindsAreDistinct(t *testing.T) {
	rewards := []Reward{
		CapsReward{}, ResourceReward{}, ExperienceReward{}, ItemReward{},
		DwellerReward{}, StimpakReward{}, RadAwayReward{}, LunchboxReward{},
	}
	seen := map[RewardKind]bool{}
	for _, r := range rewards {
		assert.False(t, seen[r.Kind()], "duplicate kind %s", r.Kind())
		seen[r.Kind()] = true
	}
	assert.Len(t, seen, 8)
}

func TestCatalogChainsResolve(t *testing.T) {
	for _, id := range IDs() {
		q := Registry[id]
		for _, req := range q.Requires {
			_, err := Lookup(req)
			assert.NoError(t, err, "quest %s requires unknown %s", id, req)
		}
		assert.LessOrEqual(t, q.MinParty, q.MaxParty)
	}
}
