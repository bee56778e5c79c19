package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// freezeKey is the Redis key marking the global change freeze. Shared across
// instances so a freeze engaged by one controller is visible to all.
const freezeKey = "soakgate:change_freeze"

// RedisFreezeFlag is the Redis-backed change-freeze marker. The local
// rollout controller state remains authoritative for this process; the flag
// extends the freeze to sibling instances and survives restarts. All
// operations degrade gracefully when Redis is down.
type RedisFreezeFlag struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewRedisFreezeFlag creates the flag. The Redis client may be nil; the flag
// then no-ops.
func NewRedisFreezeFlag(d *Data, logger log.Logger) *RedisFreezeFlag {
	return &RedisFreezeFlag{
		rdb:    d.redisClient,
		logger: log.NewHelper(logger),
	}
}

// Engage sets the freeze marker with the reason as value. No TTL: a freeze
// holds until explicitly released.
func (f *RedisFreezeFlag) Engage(ctx context.Context, reason string) error {
	if f.rdb == nil {
		f.logger.Warn("change freeze engaged locally only (Redis unavailable)")
		return nil
	}
	if err := f.rdb.Set(ctx, freezeKey, reason, 0).Err(); err != nil {
		return fmt.Errorf("failed to set change freeze flag: %w", err)
	}
	f.logger.Infow("change freeze engaged", "reason", reason)
	return nil
}

// Release clears the freeze marker.
func (f *RedisFreezeFlag) Release(ctx context.Context) error {
	if f.rdb == nil {
		return nil
	}
	if err := f.rdb.Del(ctx, freezeKey).Err(); err != nil {
		return fmt.Errorf("failed to clear change freeze flag: %w", err)
	}
	f.logger.Info("change freeze released")
	return nil
}

// Engaged reports whether the freeze marker is set. With Redis unavailable
// it reports false and the caller falls back to its local state.
func (f *RedisFreezeFlag) Engaged(ctx context.Context) (bool, error) {
	if f.rdb == nil {
		return false, nil
	}
	_, err := f.rdb.Get(ctx, freezeKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read change freeze flag: %w", err)
	}
	return true, nil
}
