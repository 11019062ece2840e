package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements SweepLock as a SETNX lease so two service replicas never
// run the same sweep type concurrently. The TTL bounds how long a crashed
// replica can hold a sweep hostage.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed sweep lock.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Redis{client: client, ttl: ttl}
}

func (l *Redis) TryAcquire(ctx context.Context, sweep string) (bool, error) {
	return l.client.SetNX(ctx, l.key(sweep), "1", l.ttl).Result()
}

func (l *Redis) Release(ctx context.Context, sweep string) {
	l.client.Del(ctx, l.key(sweep))
}

func (l *Redis) key(sweep string) string {
	return "tracient:sync:sweep:" + sweep
}
