package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// dedupeTTL is how long a dispatched occurrence is remembered. It only
// needs to outlive the recovery sweep: a re-queued claim for the same
// occurrence arrives within the in-flight grace, not hours later.
const dedupeTTL = 2 * time.Hour

// DispatchGuard deduplicates notification sends per (reminder, occurrence).
// Recovery re-queues a claim whose outcome was never persisted; if the send
// itself had succeeded before the crash, the guard stops the duplicate.
type DispatchGuard struct {
	client *Client
	logger *zap.Logger
}

// NewDispatchGuard creates a new dispatch dedupe guard.
func NewDispatchGuard(client *Client, logger *zap.Logger) *DispatchGuard {
	return &DispatchGuard{
		client: client,
		logger: logger,
	}
}

func (g *DispatchGuard) buildKey(reminderID uuid.UUID, occurrence time.Time) string {
	return fmt.Sprintf("dispatch:%s:%d", reminderID, occurrence.Unix())
}

// Acquire marks the occurrence as being dispatched. Returns false when a
// previous dispatch of the same occurrence already holds the key, meaning
// the notification was (or is being) sent.
func (g *DispatchGuard) Acquire(ctx context.Context, reminderID uuid.UUID, occurrence time.Time) (bool, error) {
	key := g.buildKey(reminderID, occurrence)

	set, err := g.client.rdb.SetNX(ctx, key, "1", dedupeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	if !set {
		g.logger.Info("duplicate dispatch suppressed",
			zap.String("reminder_id", reminderID.String()),
			zap.Time("occurrence", occurrence),
		)
	}

	return set, nil
}

// Release drops the guard after a dispatch that delivered nothing, so the
// next attempt at the same occurrence is not suppressed.
func (g *DispatchGuard) Release(ctx context.Context, reminderID uuid.UUID, occurrence time.Time) error {
	key := g.buildKey(reminderID, occurrence)

	if err := g.client.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}

	return nil
}
