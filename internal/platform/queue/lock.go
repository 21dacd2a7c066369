package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if we still hold it.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLock is a single-holder lease on one key (SET NX PX + compare-and-delete).
type RedisLock struct {
	rdb redis.Cmdable
	key string
	ttl time.Duration
}

func NewRedisLock(rdb redis.Cmdable, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{rdb: rdb, key: key, ttl: ttl}
}

// TryAcquire takes the lock without waiting. ok is false when another holder
// has it. release must be called once the work is done; it is a no-op if the
// lease already expired and someone else took it.
func (l *RedisLock) TryAcquire(ctx context.Context) (release func(context.Context), ok bool, err error) {
	value := uuid.NewString()
	ok, err = l.rdb.SetNX(ctx, l.key, value, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) {
		deleted, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, value).Int64()
		if err != nil {
			slog.Error("failed to release lock", "key", l.key, "error", err)
			return
		}
		if deleted == 0 {
			slog.Warn("lock expired before release", "key", l.key)
		}
	}
	return release, true, nil
}
