package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/vaultsim/server/internal/domain/vault"
)

func TestVaultCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	c := NewVaultCache(GoRedis{Client: client}, time.Minute)
	ctx := context.Background()

	n := 0
	s := vault.NewStarter("v1", "Vault 1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), func() string { n++; return fmt.Sprint(n) })
	require.NoError(t, c.SetSummary(ctx, Summarize(s)))

	got, err := c.GetSummary(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 6, got.Population)
	assert.Equal(t, 50.0, got.AverageHappiness)
	assert.Equal(t, s.Vault.Pools, got.Pools)
	assert.Equal(t, time.Minute, mr.TTL("vault:v1:summary"))

	require.NoError(t, c.Invalidate(ctx, "v1"))
	_, err = c.GetSummary(ctx, "v1")
	assert.ErrorIs(t, err, ErrMiss)
}
