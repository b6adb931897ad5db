// Package cache holds the Redis backed helpers shared by every replica: a
// lock for periodic jobs and the idempotency response cache.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// LockKeyPrefix namespaces distributed locks
const LockKeyPrefix = "lock:"

// Locker is a best effort mutual exclusion between replicas. A lock expires
// after its ttl so a crashed holder never blocks the others for long.
type Locker struct {
	rdb    redis.Cmdable
	logger *slog.Logger
}

func NewLocker(logger *slog.Logger, rdb redis.Cmdable) *Locker {
	return &Locker{rdb: rdb, logger: logger.With("component", "redis_locker")}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	acquired, err := l.rdb.SetNX(ctx, LockKeyPrefix+key, "locked", ttl).Result()
	if err != nil {
		l.logger.Error("Failed to acquire lock", "key", key, "error", err)
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return acquired, nil
}

func (l *Locker) Unlock(ctx context.Context, key string) error {
	if err := l.rdb.Del(ctx, LockKeyPrefix+key).Err(); err != nil {
		l.logger.Error("Failed to release lock", "key", key, "error", err)
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}
