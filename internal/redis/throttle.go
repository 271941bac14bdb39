package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ThrottleConfig defines the per-owner notification budget.
type ThrottleConfig struct {
	Limit  int           // Maximum notifications allowed
	Window time.Duration // Time window for the limit
}

// ThrottleResult contains the result of a throttle check.
type ThrottleResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// OwnerThrottle caps how many notifications one owner receives per window,
// using a sliding window over a Redis sorted set. A misconfigured interval
// reminder firing every minute burns its budget instead of paging the owner
// forty times an hour.
type OwnerThrottle struct {
	client *Client
	logger *zap.Logger
	config ThrottleConfig
}

// NewOwnerThrottle creates a new owner throttle with the given configuration.
func NewOwnerThrottle(client *Client, logger *zap.Logger, config ThrottleConfig) *OwnerThrottle {
	return &OwnerThrottle{
		client: client,
		logger: logger,
		config: config,
	}
}

// Allow checks whether one more notification fits the owner's budget and,
// if so, records it in the window.
func (t *OwnerThrottle) Allow(ctx context.Context, ownerID uuid.UUID) (*ThrottleResult, error) {
	now := time.Now()
	windowStart := now.Add(-t.config.Window)
	resetAt := now.Add(t.config.Window)

	redisKey := fmt.Sprintf("throttle:owner:%s", ownerID)

	pipe := t.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, redisKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	currentCount := int(countCmd.Val())
	remaining := t.config.Limit - currentCount

	if currentCount+1 > t.config.Limit {
		t.logger.Debug("owner throttled",
			zap.String("owner_id", ownerID.String()),
			zap.Int("current", currentCount),
			zap.Int("limit", t.config.Limit),
		)
		return &ThrottleResult{
			Allowed:   false,
			Remaining: max(0, remaining),
			ResetAt:   resetAt,
		}, nil
	}

	pipe2 := t.client.rdb.Pipeline()
	pipe2.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe2.Expire(ctx, redisKey, t.config.Window+time.Second)

	if _, err := pipe2.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis zadd failed: %w", err)
	}

	return &ThrottleResult{
		Allowed:   true,
		Remaining: remaining - 1,
		ResetAt:   resetAt,
	}, nil
}
