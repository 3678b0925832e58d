// Package storage provides the persistence layer for vault state.
// This package implements the repository pattern to keep the domain pure.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/vault"
	"github.com/MRamiBalles/vaultsim/server/internal/events"
)

var (
	// ErrNotFound is returned when the vault does not exist.
	ErrNotFound = errors.New("vault not found")

	// ErrStaleSnapshot is returned by CommitVaultDeltas when the stored
	// version no longer matches the one the change set was computed from.
	ErrStaleSnapshot = errors.New("stale vault snapshot")

	// ErrVaultExists is returned by CreateVault on a duplicate id.
	ErrVaultExists = errors.New("vault already exists")
)

// VaultRepository defines the persistence operations of the tick engine.
// The engine uses this interface; implementations live in this package.
type VaultRepository interface {
	// GetVaultClock reads the cheap pre-check projection.
	GetVaultClock(ctx context.Context, vaultID string) (vault.Clock, error)

	// LoadVaultSnapshot reads the vault and all its open child entities in
	// one consistent read.
	LoadVaultSnapshot(ctx context.Context, vaultID string) (*vault.Snapshot, error)

	// CommitVaultDeltas applies the change set and appends the events in a
	// single transaction and bumps the vault version. Nothing is written
	// when the stored version does not equal cs.ExpectedVersion.
	CommitVaultDeltas(ctx context.Context, cs *vault.Changeset, evts []events.VaultEvent) error

	// ListDueVaults returns unpaused, unflagged vaults last ticked at or
	// before cutoff, oldest first.
	ListDueVaults(ctx context.Context, cutoff time.Time, limit int) ([]vault.Clock, error)

	// CreateVault inserts a new vault with its rooms and founding dwellers.
	CreateVault(ctx context.Context, s *vault.Snapshot) error

	// FlagForReview marks a vault as broken; the scheduler stops ticking it.
	FlagForReview(ctx context.Context, vaultID, reason string) error

	// ListEvents reads the outbox history of a vault, oldest first.
	ListEvents(ctx context.Context, vaultID string, since time.Time, limit int) ([]events.VaultEvent, error)
}
