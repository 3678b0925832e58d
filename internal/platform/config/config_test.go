package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, 30*time.Second, cfg.Tick.LeaseTTL)
	assert.Equal(t, 10*time.Second, cfg.Tick.MaxDuration)
	assert.Equal(t, "vault-events", cfg.Redis.Stream)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadReadsPrefixedSections(t *testing.T) {
	t.Setenv("VAULT_DB_DRIVER", "postgres")
	t.Setenv("VAULT_DB_HOST", "db.internal")
	t.Setenv("VAULT_TICK_WORKERS", "12")
	t.Setenv("VAULT_TICK_INTERVAL", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Tick.Workers)
	assert.Equal(t, 5*time.Second, cfg.Tick.Interval)
	assert.Equal(t, "host=db.internal port=5432 user=vault password= dbname=vault sslmode=disable", cfg.DB.GetDSN())
}

func TestLoadRejectsTickLongerThanLease(t *testing.T) {
	t.Setenv("VAULT_TICK_MAX_DURATION", "1m")
	t.Setenv("VAULT_TICK_LEASE_TTL", "30s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lease ttl")
}

func TestLoadRejectsS3WithoutBucket(t *testing.T) {
	t.Setenv("VAULT_BLOB_BACKEND", "s3")
	_, err := Load()
	assert.Error(t, err)
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("VAULT_TICK_WORKERS", "many")
	_, err := Load()
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "parse env:"))
}
