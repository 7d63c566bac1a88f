package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
)

// releaseScript deletes the lock only if it still holds our token, so a sweep
// that outlived its TTL cannot drop another instance's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSweepLock is a single-holder lease shared by every server instance.
type RedisSweepLock struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedisSweepLock creates a new RedisSweepLock.
func NewRedisSweepLock(rdb *redis.Client, ttl time.Duration) *RedisSweepLock {
	return &RedisSweepLock{
		rdb: rdb,
		key: config.CacheKey.SweeperLockKey(),
		ttl: ttl,
	}
}

// TryAcquire takes the lease without waiting.
func (l *RedisSweepLock) TryAcquire(ctx context.Context) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}

	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err()
	}
	return release, true, nil
}
