package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "coach21:submit:"

// compare-and-delete so an expired holder cannot release a newer lease
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares submission leases across server instances
type RedisGuard struct {
	rdb *goredis.Client
}

// NewRedisGuard connects to addr and verifies the connection
func NewRedisGuard(addr string) (*RedisGuard, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisGuard{rdb: rdb}, nil
}

func (g *RedisGuard) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := g.rdb.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire submission lease: %w", err)
	}
	if !ok {
		return "", ErrHeld
	}
	return token, nil
}

func (g *RedisGuard) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, g.rdb, []string{keyPrefix + key}, token).Err(); err != nil && err != goredis.Nil {
		return fmt.Errorf("failed to release submission lease: %w", err)
	}
	return nil
}

func (g *RedisGuard) Close() error {
	return g.rdb.Close()
}
