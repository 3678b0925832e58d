package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLeaser implements Leaser with SET NX PX, so leases are shared by
// every server process pointed at the same Redis.
type RedisLeaser struct {
	client *redis.Client
	prefix string
}

// NewRedisLeaser wraps a client; keys are prefix + vault id.
func NewRedisLeaser(client *redis.Client, prefix string) *RedisLeaser {
	if prefix == "" {
		prefix = "vault:lease:"
	}
	return &RedisLeaser{client: client, prefix: prefix}
}

// NewRedisClient creates a Redis client.
func NewRedisClient(addr, password string, db, poolSize int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
}

func (r *RedisLeaser) key(vaultID string) string { return r.prefix + vaultID }

func (r *RedisLeaser) TryAcquire(ctx context.Context, vaultID string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key(vaultID), token, ttl).Result()
	if err != nil {
		return Lease{}, fmt.Errorf("acquire lease %s: %w", vaultID, err)
	}
	if !ok {
		return Lease{}, ErrLeaseHeld
	}
	return Lease{VaultID: vaultID, Token: token, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (r *RedisLeaser) Release(ctx context.Context, lease Lease) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key(lease.VaultID)}, lease.Token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lease %s: %w", lease.VaultID, err)
	}
	return nil
}
