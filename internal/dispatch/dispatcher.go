// Package dispatch turns a due reminder occurrence into notifications:
// subject snapshot, target resolution, throttling, dedupe, bounded
// fan-out across channels, and failure classification.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/chime/internal/db"
	"github.com/lalithlochan/chime/internal/metrics"
	"github.com/lalithlochan/chime/internal/redis"
)

// TargetResolver resolves and mutates delivery targets.
type TargetResolver interface {
	TargetsFor(ctx context.Context, ownerID uuid.UUID, channels []string) ([]*db.Target, error)
	DeactivateTarget(ctx context.Context, id uuid.UUID) error
	MarkTargetNotified(ctx context.Context, id uuid.UUID, at time.Time) error
}

// SubjectReader loads the snapshot of a reminder's subject entity.
type SubjectReader interface {
	SubjectSnapshot(ctx context.Context, kind string, id uuid.UUID) (*db.Snapshot, error)
}

// Guard deduplicates sends per (reminder, occurrence).
type Guard interface {
	Acquire(ctx context.Context, reminderID uuid.UUID, occurrence time.Time) (bool, error)
	Release(ctx context.Context, reminderID uuid.UUID, occurrence time.Time) error
}

// Throttle caps notifications per owner.
type Throttle interface {
	Allow(ctx context.Context, ownerID uuid.UUID) (*redis.ThrottleResult, error)
}

// Result summarizes one occurrence's dispatch. The occurrence is consumed
// in every case; the flags tell the caller whether to also deactivate.
type Result struct {
	Delivered int
	Transient int
	Permanent int

	Deduped     bool // another dispatch already sent this occurrence
	Throttled   bool // owner over budget, nothing sent
	NoTargets   bool // owner has no active targets on these channels
	SubjectGone bool // subject entity deleted, reminder is orphaned
	SubjectDone bool // subject completed, nothing left to remind about
}

// Delivered-to-anyone is success; so are the quiet outcomes where there
// was legitimately nothing to send.
func (r *Result) Succeeded() bool {
	return r.Delivered > 0 || r.Deduped || r.NoTargets || r.SubjectDone
}

// Outcome is the short label used in events and metrics.
func (r *Result) Outcome() string {
	switch {
	case r.SubjectGone:
		return "subject_gone"
	case r.SubjectDone:
		return "subject_done"
	case r.Deduped:
		return "deduped"
	case r.Throttled:
		return "throttled"
	case r.NoTargets:
		return "no_targets"
	case r.Delivered > 0:
		return "delivered"
	default:
		return "failed"
	}
}

// Config holds dispatcher settings.
type Config struct {
	Concurrency    int           // max in-flight deliveries per occurrence
	AttemptTimeout time.Duration // per-target delivery deadline
}

// Dispatcher coordinates the delivery of one occurrence.
type Dispatcher struct {
	targets  TargetResolver
	subjects SubjectReader
	sender   Sender
	guard    Guard    // optional
	throttle Throttle // optional
	config   Config
	logger   *zap.Logger
}

// New creates a dispatcher. guard and throttle may be nil, disabling
// dedupe and owner throttling respectively.
func New(targets TargetResolver, subjects SubjectReader, sender Sender, guard Guard, throttle Throttle, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}

	return &Dispatcher{
		targets:  targets,
		subjects: subjects,
		sender:   sender,
		guard:    guard,
		throttle: throttle,
		config:   cfg,
		logger:   logger,
	}
}

// Dispatch delivers one occurrence of rem to all resolvable targets.
// Infrastructure errors (store unreachable) return an error; delivery
// failures are classified into the Result instead.
func (d *Dispatcher) Dispatch(ctx context.Context, rem *db.Reminder, occurrence time.Time) (*Result, error) {
	result := &Result{}

	var snap *db.Snapshot
	if rem.HasSubject() {
		var err error
		snap, err = d.subjects.SubjectSnapshot(ctx, rem.SubjectKind, *rem.SubjectID)
		if errors.Is(err, db.ErrSubjectNotFound) {
			result.SubjectGone = true
			return result, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load subject: %w", err)
		}
		if snap.Completed {
			result.SubjectDone = true
			return result, nil
		}
	}

	targets, err := d.targets.TargetsFor(ctx, rem.OwnerID, rem.Channels)
	if err != nil {
		return nil, fmt.Errorf("resolve targets: %w", err)
	}
	if len(targets) == 0 {
		result.NoTargets = true
		d.logger.Debug("no active targets for reminder",
			zap.String("reminder_id", rem.ID.String()),
			zap.String("owner_id", rem.OwnerID.String()),
		)
		return result, nil
	}

	if d.throttle != nil {
		tr, err := d.throttle.Allow(ctx, rem.OwnerID)
		if err != nil {
			// Throttle outage must not silence notifications.
			d.logger.Warn("owner throttle unavailable, allowing dispatch",
				zap.Error(err),
				zap.String("owner_id", rem.OwnerID.String()),
			)
		} else if !tr.Allowed {
			result.Throttled = true
			d.logger.Info("dispatch throttled",
				zap.String("reminder_id", rem.ID.String()),
				zap.String("owner_id", rem.OwnerID.String()),
				zap.Time("reset_at", tr.ResetAt),
			)
			return result, nil
		}
	}

	if d.guard != nil {
		acquired, err := d.guard.Acquire(ctx, rem.ID, occurrence)
		if err != nil {
			d.logger.Warn("dispatch guard unavailable, proceeding without dedupe",
				zap.Error(err),
				zap.String("reminder_id", rem.ID.String()),
			)
		} else if !acquired {
			result.Deduped = true
			return result, nil
		}
	}

	msg := composeMessage(rem, snap, occurrence)
	d.fanOut(ctx, targets, msg, result)

	if result.Delivered == 0 && result.Transient > 0 && d.guard != nil {
		// Nothing went out; let a recovery retry of this occurrence send.
		if err := d.guard.Release(ctx, rem.ID, occurrence); err != nil {
			d.logger.Warn("failed to release dispatch guard",
				zap.Error(err),
				zap.String("reminder_id", rem.ID.String()),
			)
		}
	}

	return result, nil
}

// fanOut delivers msg to every target, bounded by Concurrency, one
// timeout per attempt.
func (d *Dispatcher) fanOut(ctx context.Context, targets []*db.Target, msg *Message, result *Result) {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, d.config.Concurrency)
	)

	for _, target := range targets {
		wg.Add(1)
		sem <- struct{}{}

		go func(target *db.Target) {
			defer wg.Done()
			defer func() { <-sem }()

			attemptCtx, cancel := context.WithTimeout(ctx, d.config.AttemptTimeout)
			defer cancel()

			err := d.sender.Deliver(attemptCtx, target, msg)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				result.Delivered++
				metrics.RecordDispatchAttempt(target.Channel, "success")
				if markErr := d.targets.MarkTargetNotified(ctx, target.ID, msg.Occurrence); markErr != nil {
					d.logger.Warn("failed to mark target notified",
						zap.Error(markErr),
						zap.String("target_id", target.ID.String()),
					)
				}

			case IsPermanent(err):
				result.Permanent++
				metrics.RecordDispatchAttempt(target.Channel, "permanent")
				d.logger.Warn("permanent delivery failure, deactivating target",
					zap.Error(err),
					zap.String("target_id", target.ID.String()),
					zap.String("channel", target.Channel),
				)
				if deErr := d.targets.DeactivateTarget(ctx, target.ID); deErr != nil {
					d.logger.Error("failed to deactivate target",
						zap.Error(deErr),
						zap.String("target_id", target.ID.String()),
					)
				}

			default:
				result.Transient++
				metrics.RecordDispatchAttempt(target.Channel, "transient")
				d.logger.Warn("transient delivery failure",
					zap.Error(err),
					zap.String("target_id", target.ID.String()),
					zap.String("channel", target.Channel),
				)
			}
		}(target)
	}

	wg.Wait()
}

// composeMessage builds the notification content. The subject snapshot
// wins over the reminder's stored message for the title; satellite
// sub-kinds get their own phrasing.
func composeMessage(rem *db.Reminder, snap *db.Snapshot, occurrence time.Time) *Message {
	title := "Reminder"
	if snap != nil && snap.Title != "" {
		title = snap.Title
	}

	var body string
	switch rem.SubKind {
	case db.SubKindPrepare:
		body = fmt.Sprintf("Start getting ready: %s", title)
	case db.SubKindUrgent:
		body = fmt.Sprintf("Time to leave: %s", title)
	default:
		switch {
		case rem.Message != nil && *rem.Message != "":
			body = *rem.Message
		case rem.Kind == db.KindBeforeDue:
			body = fmt.Sprintf("%s is due soon", title)
		case snap != nil && snap.Description != "":
			body = snap.Description
		default:
			body = fmt.Sprintf("Don't forget: %s", title)
		}
	}

	return &Message{
		ReminderID:  rem.ID,
		OwnerID:     rem.OwnerID,
		Title:       title,
		Body:        body,
		SubjectKind: rem.SubjectKind,
		Occurrence:  occurrence,
	}
}
