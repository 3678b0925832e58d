package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/vaultsim/server/internal/platform/logger"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/metrics"
)

type failingSink struct{ calls int }

func (f *failingSink) Name() string { return "failing" }

func (f *failingSink) Publish(context.Context, []VaultEvent) error {
	f.calls++
	return errors.New("broker down")
}

func TestDispatcherContinuesPastFailingSink(t *testing.T) {
	bad := &failingSink{}
	good := &MemorySink{}
	d := NewDispatcher(logger.NewNop(), metrics.New(), bad, good)

	evts := []VaultEvent{
		New("v1", EventTypeIncidentSpawned, time.Now(), "room-1", IncidentSpawnedPayload{RoomID: "room-1", Severity: 1}),
		New("v1", EventTypeQuestResolved, time.Now(), "party-1", QuestResolvedPayload{Success: true}),
	}
	d.Publish(context.Background(), evts)

	assert.Equal(t, 1, bad.calls)
	require.Len(t, good.Events(), 2)
	assert.Len(t, good.OfType(EventTypeQuestResolved), 1)
}

func TestDispatcherSkipsEmptyBatches(t *testing.T) {
	bad := &failingSink{}
	NewDispatcher(logger.NewNop(), nil, bad).Publish(context.Background(), nil)
	assert.Zero(t, bad.calls)
}

func TestNewAssignsUniqueIDs(t *testing.T) {
	a := New("v1", EventTypeChildGrewUp, time.Now(), "d1", nil)
	b := New("v1", EventTypeChildGrewUp, time.Now(), "d1", nil)
	assert.NotEqual(t, a.ID, b.ID)
}
