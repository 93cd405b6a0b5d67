package identity

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/wifidoor/gateway-server-go/internal/redis"
)

// CachedResolver wraps a Resolver with a redis read-through cache so the
// per-request hot path rarely shells out. Only positive results are cached;
// a NotFound must stay retryable on the next probe cycle.
type CachedResolver struct {
	inner Resolver
	rdb   *redis.Client
	ttl   time.Duration
}

func NewCachedResolver(inner Resolver, rdb *redis.Client, ttl time.Duration) *CachedResolver {
	return &CachedResolver{inner: inner, rdb: rdb, ttl: ttl}
}

func (c *CachedResolver) Resolve(ctx context.Context, ip string) (string, error) {
	key := redis.IdentityKey(ip)

	mac, err := c.rdb.Get(ctx, key).Result()
	if err == nil && mac != "" {
		return mac, nil
	}
	if err != nil && err != goredis.Nil {
		log.Debug().Err(err).Str("ip", ip).Msg("identity cache read failed")
	}

	mac, err = c.inner.Resolve(ctx, ip)
	if err != nil {
		return "", err
	}

	if setErr := c.rdb.Set(ctx, key, mac, c.ttl).Err(); setErr != nil {
		log.Debug().Err(setErr).Str("ip", ip).Msg("identity cache write failed")
	}
	return mac, nil
}

// Invalidate drops a cached mapping, used when a lease change is observed.
func (c *CachedResolver) Invalidate(ctx context.Context, ip string) {
	if err := c.rdb.Del(ctx, redis.IdentityKey(ip)).Err(); err != nil {
		log.Debug().Err(err).Str("ip", ip).Msg("identity cache invalidate failed")
	}
}
