// Package cache provides Redis-based caching for quick vault reads.
// The cache is never the source of truth; a miss falls back to the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/resource"
	"github.com/MRamiBalles/vaultsim/server/internal/domain/vault"
)

// ErrMiss is returned when the key is not cached.
var ErrMiss = errors.New("cache miss")

// RedisClient is an interface for Redis operations.
// This allows for easy mocking in tests.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// GoRedis adapts a go-redis client to RedisClient.
type GoRedis struct {
	Client *redis.Client
}

func (g GoRedis) Get(ctx context.Context, key string) (string, error) {
	v, err := g.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

func (g GoRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return g.Client.Set(ctx, key, value, expiration).Err()
}

func (g GoRedis) Del(ctx context.Context, keys ...string) error {
	return g.Client.Del(ctx, keys...).Err()
}

// VaultSummary is the read model behind GET /api/vaults/{id}.
type VaultSummary struct {
	VaultID          string         `json:"vault_id"`
	Name             string         `json:"name"`
	LastTickAt       time.Time      `json:"last_tick_at"`
	Paused           bool           `json:"paused"`
	NeedsReview      bool           `json:"needs_review"`
	Pools            resource.Pools `json:"pools"`
	Population       int            `json:"population"`
	AverageHappiness float64        `json:"average_happiness"`
	ActiveIncidents  int            `json:"active_incidents"`
	Exploring        int            `json:"exploring"`
	StorageUsed      int            `json:"storage_used"`
	StorageCapacity  int            `json:"storage_capacity"`
}

// Summarize projects a snapshot into its summary.
func Summarize(s *vault.Snapshot) VaultSummary {
	return VaultSummary{
		VaultID:          s.Vault.ID,
		Name:             s.Vault.Name,
		LastTickAt:       s.Vault.LastTickAt,
		Paused:           s.Vault.Paused,
		NeedsReview:      s.Vault.NeedsReview,
		Pools:            s.Vault.Pools.Clone(),
		Population:       s.Population(),
		AverageHappiness: s.AverageHappiness(),
		ActiveIncidents:  len(s.ActiveIncidents()),
		Exploring:        len(s.Explorations),
		StorageUsed:      s.StorageUsed,
		StorageCapacity:  s.Vault.StorageCapacity,
	}
}

// VaultCache provides fast access to vault summaries.
type VaultCache struct {
	client     RedisClient
	expiration time.Duration
}

// NewVaultCache creates a new vault cache instance.
func NewVaultCache(client RedisClient, expiration time.Duration) *VaultCache {
	if expiration <= 0 {
		expiration = 15 * time.Minute
	}
	return &VaultCache{client: client, expiration: expiration}
}

// SetSummary caches the current summary of a vault.
func (c *VaultCache) SetSummary(ctx context.Context, sum VaultSummary) error {
	data, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("failed to marshal vault summary: %w", err)
	}
	return c.client.Set(ctx, c.summaryKey(sum.VaultID), data, c.expiration)
}

// GetSummary retrieves a cached summary. A miss returns ErrMiss.
func (c *VaultCache) GetSummary(ctx context.Context, vaultID string) (*VaultSummary, error) {
	data, err := c.client.Get(ctx, c.summaryKey(vaultID))
	if err != nil {
		return nil, err
	}
	var sum VaultSummary
	if err := json.Unmarshal([]byte(data), &sum); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vault summary: %w", err)
	}
	return &sum, nil
}

// Invalidate drops the cached summary after a commit.
func (c *VaultCache) Invalidate(ctx context.Context, vaultID string) error {
	return c.client.Del(ctx, c.summaryKey(vaultID))
}

func (c *VaultCache) summaryKey(vaultID string) string {
	return fmt.Sprintf("vault:%s:summary", vaultID)
}
