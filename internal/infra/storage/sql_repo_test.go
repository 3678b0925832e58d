package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/activity"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/item"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/vault"
	"github.com/MRamiBalles/vaultsim/server/internal/events"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

func idGen(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func newSQLite(t *testing.T) *SQLRepository {
	t.Helper()
	db, err := InitSQLite(filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLRepository(db, DialectSQLite)
}

// repositories runs a test against every implementation.
func repositories(t *testing.T, fn func(t *testing.T, repo VaultRepository)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLite(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryRepository()) })
}

func TestCreateAndLoadRoundTrip(t *testing.T) {
	repositories(t, func(t *testing.T, repo VaultRepository) {
		ctx := context.Background()
		s := vault.NewStarter("v1", "Vault 1", t0, idGen("v1"))
		require.NoError(t, repo.CreateVault(ctx, s))

		got, err := repo.LoadVaultSnapshot(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, "Vault 1", got.Vault.Name)
		assert.True(t, got.Vault.LastTickAt.Equal(t0))
		assert.Equal(t, s.Vault.Pools, got.Vault.Pools)
		assert.Len(t, got.Rooms, len(s.Rooms))
		assert.Len(t, got.Dwellers, len(s.Dwellers))
		assert.Zero(t, got.StorageUsed)

		clock, err := repo.GetVaultClock(ctx, "v1")
		require.NoError(t, err)
		assert.True(t, clock.LastTickAt.Equal(t0))

		assert.ErrorIs(t, repo.CreateVault(ctx, s), ErrVaultExists)
		_, err = repo.LoadVaultSnapshot(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCommitAppliesChangesetAtomically(t *testing.T) {
	repositories(t, func(t *testing.T, repo VaultRepository) {
		ctx := context.Background()
		require.NoError(t, repo.CreateVault(ctx, vault.NewStarter("v1", "Vault 1", t0, idGen("v1"))))

		before, err := repo.LoadVaultSnapshot(ctx, "v1")
		require.NoError(t, err)
		after := before.Clone()
		now := t0.Add(time.Minute)
		after.Vault.LastTickAt = now
		after.Vault.Pools[resource.Power] = resource.Pool{Amount: 58, Capacity: 100}
		after.Dwellers[0].Happiness = 45
		after.Incidents = append(after.Incidents, &activity.Incident{
			ID: "inc-1", VaultID: "v1", RoomID: after.Rooms[0].ID,
			Kind: activity.IncidentFire, Severity: 1, Status: activity.IncidentActive, SpawnedAt: now, EscalatedAt: now,
		})
		stored := []item.Item{item.New("it-1", item.ItemPowerArmor, now)}

		evt := events.New("v1", events.EventTypeIncidentSpawned, now, "inc-1",
			events.IncidentSpawnedPayload{IncidentID: "inc-1", Kind: "fire", Severity: 1})
		require.NoError(t, repo.CommitVaultDeltas(ctx, vault.Diff(before, after, stored), []events.VaultEvent{evt}))

		got, err := repo.LoadVaultSnapshot(ctx, "v1")
		require.NoError(t, err)
		assert.True(t, got.Vault.LastTickAt.Equal(now))
		assert.Equal(t, before.Vault.Version+1, got.Vault.Version)
		assert.Equal(t, 58.0, got.Vault.Pools[resource.Power].Amount)
		assert.Equal(t, 45.0, got.Dwellers[0].Happiness)
		require.Len(t, got.Incidents, 1)
		assert.Equal(t, 2, got.StorageUsed)

		evts, err := repo.ListEvents(ctx, "v1", time.Time{}, 0)
		require.NoError(t, err)
		require.Len(t, evts, 1)
		assert.Equal(t, events.EventTypeIncidentSpawned, evts[0].Type)
		var p events.IncidentSpawnedPayload
		require.NoError(t, json.Unmarshal(evts[0].Payload.(json.RawMessage), &p))
		assert.Equal(t, "inc-1", p.IncidentID)
	})
}

func TestCommitRejectsStaleSnapshot(t *testing.T) {
	repositories(t, func(t *testing.T, repo VaultRepository) {
		ctx := context.Background()
		require.NoError(t, repo.CreateVault(ctx, vault.NewStarter("v1", "Vault 1", t0, idGen("v1"))))

		before, err := repo.LoadVaultSnapshot(ctx, "v1")
		require.NoError(t, err)

		first := before.Clone()
		first.Vault.LastTickAt = t0.Add(time.Minute)
		require.NoError(t, repo.CommitVaultDeltas(ctx, vault.Diff(before, first, nil), nil))

		second := before.Clone()
		second.Vault.LastTickAt = t0.Add(2 * time.Minute)
		second.Dwellers[0].Happiness = 1
		err = repo.CommitVaultDeltas(ctx, vault.Diff(before, second, nil), []events.VaultEvent{
			events.New("v1", events.EventTypeChildGrewUp, t0, "x", events.ChildGrewUpPayload{DwellerID: "x"}),
		})
		assert.ErrorIs(t, err, ErrStaleSnapshot)

		got, err := repo.LoadVaultSnapshot(ctx, "v1")
		require.NoError(t, err)
		assert.True(t, got.Vault.LastTickAt.Equal(t0.Add(time.Minute)))
		assert.Equal(t, 50.0, got.Dwellers[0].Happiness)
		evts, err := repo.ListEvents(ctx, "v1", time.Time{}, 0)
		require.NoError(t, err)
		assert.Empty(t, evts)
	})
}

func TestCommitFencesTickAgainstEarlierAction(t *testing.T) {
	repositories(t, func(t *testing.T, repo VaultRepository) {
		ctx := context.Background()
		require.NoError(t, repo.CreateVault(ctx, vault.NewStarter("v1", "Vault 1", t0, idGen("v1"))))

		before, err := repo.LoadVaultSnapshot(ctx, "v1")
		require.NoError(t, err)

		// an action leaves LastTickAt alone
		guarded := before.Clone()
		guarded.Dwellers[0].Guard = true
		require.NoError(t, repo.CommitVaultDeltas(ctx, vault.Diff(before, guarded, nil), nil))

		tick := before.Clone()
		tick.Vault.LastTickAt = t0.Add(time.Minute)
		tick.Dwellers[0].Happiness = 55
		assert.ErrorIs(t, repo.CommitVaultDeltas(ctx, vault.Diff(before, tick, nil), nil), ErrStaleSnapshot)

		got, err := repo.LoadVaultSnapshot(ctx, "v1")
		require.NoError(t, err)
		assert.True(t, got.Dwellers[0].Guard)
		assert.True(t, got.Vault.LastTickAt.Equal(t0))
		assert.Equal(t, before.Vault.Version+1, got.Vault.Version)
	})
}

func TestClosedActivitiesAreNotLoaded(t *testing.T) {
	repositories(t, func(t *testing.T, repo VaultRepository) {
		ctx := context.Background()
		require.NoError(t, repo.CreateVault(ctx, vault.NewStarter("v1", "Vault 1", t0, idGen("v1"))))
		before, err := repo.LoadVaultSnapshot(ctx, "v1")
		require.NoError(t, err)

		after := before.Clone()
		done := t0
		after.Trainings = append(after.Trainings,
			&activity.TrainingSession{ID: "tr-1", VaultID: "v1", Status: activity.PhaseCompleted, CompletedAt: &done},
			&activity.TrainingSession{ID: "tr-2", VaultID: "v1", Status: activity.PhaseInProgress, StartedAt: &done},
		)
		require.NoError(t, repo.CommitVaultDeltas(ctx, vault.Diff(before, after, nil), nil))

		got, err := repo.LoadVaultSnapshot(ctx, "v1")
		require.NoError(t, err)
		require.Len(t, got.Trainings, 1)
		assert.Equal(t, "tr-2", got.Trainings[0].ID)
	})
}

func TestListDueVaultsSkipsPausedAndFlagged(t *testing.T) {
	repositories(t, func(t *testing.T, repo VaultRepository) {
		ctx := context.Background()
		for i, id := range []string{"a", "b", "c", "d"} {
			s := vault.NewStarter(id, id, t0.Add(time.Duration(i)*time.Second), idGen(id))
			if id == "b" {
				s.Vault.Paused = true
			}
			require.NoError(t, repo.CreateVault(ctx, s))
		}
		require.NoError(t, repo.FlagForReview(ctx, "c", "negative pool"))
		assert.ErrorIs(t, repo.FlagForReview(ctx, "zz", "x"), ErrNotFound)

		due, err := repo.ListDueVaults(ctx, t0.Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, "a", due[0].VaultID)
		assert.Equal(t, "d", due[1].VaultID)

		due, err = repo.ListDueVaults(ctx, t0.Add(time.Minute), 1)
		require.NoError(t, err)
		assert.Len(t, due, 1)

		flagged, err := repo.LoadVaultSnapshot(ctx, "c")
		require.NoError(t, err)
		assert.True(t, flagged.Vault.NeedsReview)
		assert.Equal(t, "negative pool", flagged.Vault.ReviewReason)
	})
}

func TestRebindNumbersPlaceholders(t *testing.T) {
	assert.Equal(t, "a = $1 AND b IN ($2, $3)", rebind(DialectPostgres, "a = ? AND b IN (?, ?)"))
	assert.Equal(t, "a = ?", rebind(DialectSQLite, "a = ?"))
}

func TestPostgresCommitUsesCompareAndSwap(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSQLRepository(db, DialectPostgres)

	s := vault.NewStarter("v1", "Vault 1", t0, idGen("v1"))
	cs := &vault.Changeset{VaultID: "v1", ExpectedVersion: 3, Vault: s.Vault}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE vaults SET name = $1, last_tick_at = $2, paused = $3, data = $4, version = version + 1 WHERE id = $5 AND version = $6`)).
		WithArgs("Vault 1", t0.UnixNano(), false, sqlmock.AnyArg(), "v1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM vaults WHERE id = $1`)).
		WithArgs("v1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectRollback()

	err = repo.CommitVaultDeltas(context.Background(), cs, nil)
	assert.ErrorIs(t, err, ErrStaleSnapshot)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCommitWritesOutbox(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSQLRepository(db, DialectPostgres)

	s := vault.NewStarter("v1", "Vault 1", t0, idGen("v1"))
	now := t0.Add(time.Minute)
	s.Vault.LastTickAt = now
	cs := &vault.Changeset{VaultID: "v1", ExpectedVersion: 0, Vault: s.Vault, Dwellers: s.Dwellers[:1]}
	evt := events.New("v1", events.EventTypeDwellerLeveled, now, s.Dwellers[0].ID, events.DwellerLeveledPayload{Level: 2})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE vaults SET`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO dwellers (id, vault_id, status, data) VALUES ($1, $2, $3, $4)`)).
		WithArgs(s.Dwellers[0].ID, "v1", "working", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO vault_events`)).
		WithArgs(evt.ID, "v1", now.UnixNano(), 0, "DWELLER_LEVELED", evt.ActorID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CommitVaultDeltas(context.Background(), cs, []events.VaultEvent{evt}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
