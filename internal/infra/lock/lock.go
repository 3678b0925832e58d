// Package lock provides the per-vault lease that serializes ticks and user
// actions across workers and processes.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLeaseHeld is returned by TryAcquire when another holder owns the vault.
var ErrLeaseHeld = errors.New("vault lease held")

// Lease proves ownership of a vault until ExpiresAt.
type Lease struct {
	VaultID   string
	Token     string
	ExpiresAt time.Time
}

// Leaser grants exclusive, expiring ownership of a vault.
type Leaser interface {
	// TryAcquire never waits; it returns ErrLeaseHeld when the vault is owned.
	TryAcquire(ctx context.Context, vaultID string, ttl time.Duration) (Lease, error)

	// Release gives the lease back. Releasing an expired or foreign lease is a no-op.
	Release(ctx context.Context, lease Lease) error
}

// MemoryLeaser is a process-local Leaser.
type MemoryLeaser struct {
	mu     sync.Mutex
	leases map[string]Lease
	now    func() time.Time
}

// NewMemoryLeaser creates an in-process leaser.
func NewMemoryLeaser() *MemoryLeaser {
	return &MemoryLeaser{leases: make(map[string]Lease), now: time.Now}
}

// WithClock replaces the time source, for expiry tests.
func (m *MemoryLeaser) WithClock(now func() time.Time) *MemoryLeaser {
	m.now = now
	return m
}

func (m *MemoryLeaser) TryAcquire(_ context.Context, vaultID string, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if cur, ok := m.leases[vaultID]; ok && now.Before(cur.ExpiresAt) {
		return Lease{}, ErrLeaseHeld
	}
	l := Lease{VaultID: vaultID, Token: uuid.NewString(), ExpiresAt: now.Add(ttl)}
	m.leases[vaultID] = l
	return l, nil
}

func (m *MemoryLeaser) Release(_ context.Context, lease Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.leases[lease.VaultID]; ok && cur.Token == lease.Token {
		delete(m.leases, lease.VaultID)
	}
	return nil
}
