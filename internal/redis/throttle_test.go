package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestOwnerThrottle_AllowsUpToLimit(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	throttle := NewOwnerThrottle(client, zap.NewNop(), ThrottleConfig{
		Limit:  3,
		Window: time.Hour,
	})
	ctx := context.Background()
	owner := uuid.New()

	for i := 0; i < 3; i++ {
		res, err := throttle.Allow(ctx, owner)
		if err != nil {
			t.Fatalf("allow %d failed: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("notification %d should be allowed", i)
		}
	}

	res, err := throttle.Allow(ctx, owner)
	if err != nil {
		t.Fatalf("allow failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("fourth notification should be throttled")
	}
	if res.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", res.Remaining)
	}
}

func TestOwnerThrottle_IsolatesOwners(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	throttle := NewOwnerThrottle(client, zap.NewNop(), ThrottleConfig{
		Limit:  1,
		Window: time.Hour,
	})
	ctx := context.Background()

	if res, err := throttle.Allow(ctx, uuid.New()); err != nil || !res.Allowed {
		t.Fatalf("first owner: allowed=%v err=%v", res.Allowed, err)
	}
	if res, err := throttle.Allow(ctx, uuid.New()); err != nil || !res.Allowed {
		t.Fatalf("second owner should have a fresh budget: allowed=%v err=%v", res.Allowed, err)
	}
}
