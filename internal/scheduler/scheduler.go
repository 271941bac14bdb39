// Package scheduler runs the polling loop: find due reminders, claim each
// one, dispatch, then persist the fire and the recomputed next occurrence.
// A separate sweep re-queues claims orphaned by a crash.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/chime/internal/db"
	"github.com/lalithlochan/chime/internal/dispatch"
	"github.com/lalithlochan/chime/internal/metrics"
	"github.com/lalithlochan/chime/internal/occurrence"
	"github.com/lalithlochan/chime/internal/sqs"
)

// ErrBatchInProgress is returned by RunOnce while a batch is already
// executing.
var ErrBatchInProgress = errors.New("scheduler batch already in progress")

// Clock abstracts time.Now so batch processing is testable at fixed
// instants.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the production clock.
var SystemClock Clock = systemClock{}

// Repository is the persistence contract the loop drives.
type Repository interface {
	FindDueActive(ctx context.Context, now time.Time, limit int) ([]*db.Reminder, error)
	TryClaim(ctx context.Context, id uuid.UUID, expectedNextDueAt time.Time, now time.Time) (bool, error)
	PersistOutcome(ctx context.Context, id uuid.UUID, lastFiredAt *time.Time, nextDueAt *time.Time, active bool) error
	RecoverStuckInFlight(ctx context.Context, olderThan time.Time) ([]*db.Reminder, error)
}

// Dispatcher delivers one claimed occurrence.
type Dispatcher interface {
	Dispatch(ctx context.Context, rem *db.Reminder, occurrence time.Time) (*dispatch.Result, error)
}

// OutcomePublisher emits dispatch outcome events. Optional.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, ev sqs.OutcomeEvent) error
}

// Config holds loop settings.
type Config struct {
	TickInterval  time.Duration // cadence of the due-reminder poll
	BatchSize     int           // page bound per poll
	GraceWindow   time.Duration // how stale an occurrence may be and still fire
	InFlightGrace time.Duration // claim age before the sweep re-queues it
	SweepInterval time.Duration // cadence of the recovery sweep
}

// Stats is the loop's observable state, served by the admin surface.
type Stats struct {
	Running          bool       `json:"running"`
	BatchInProgress  bool       `json:"batch_in_progress"`
	LastTickAt       *time.Time `json:"last_tick_at,omitempty"`
	LastBatchSize    int        `json:"last_batch_size"`
	TotalBatches     int64      `json:"total_batches"`
	TotalFired       int64      `json:"total_fired"`
	TotalDropped     int64      `json:"total_dropped"` // stale occurrences not dispatched
	TotalDeactivated int64      `json:"total_deactivated"`
	TotalConflicts   int64      `json:"total_conflicts"`
	TotalRecovered   int64      `json:"total_recovered"`
}

// Loop is the reminder scheduler.
type Loop struct {
	repo       Repository
	dispatcher Dispatcher
	outcomes   OutcomePublisher // optional
	clock      Clock
	config     Config
	logger     *zap.Logger

	batchMu sync.Mutex // held for the duration of one batch

	statsMu sync.Mutex
	stats   Stats
}

// New creates a scheduler loop. outcomes may be nil; clock defaults to
// the system clock.
func New(repo Repository, dispatcher Dispatcher, outcomes OutcomePublisher, clock Clock, cfg Config, logger *zap.Logger) *Loop {
	if clock == nil {
		clock = SystemClock
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = time.Minute
	}
	if cfg.InFlightGrace <= 0 {
		cfg.InFlightGrace = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Minute
	}

	return &Loop{
		repo:       repo,
		dispatcher: dispatcher,
		outcomes:   outcomes,
		clock:      clock,
		config:     cfg,
		logger:     logger,
	}
}

// Start runs the loop until ctx is cancelled. An immediate sweep runs
// first so reminders stranded in-flight by the previous process don't
// wait a full sweep interval.
func (l *Loop) Start(ctx context.Context) {
	l.setRunning(true)
	defer l.setRunning(false)

	l.recoverStuck(ctx)

	ticker := time.NewTicker(l.config.TickInterval)
	defer ticker.Stop()
	sweep := time.NewTicker(l.config.SweepInterval)
	defer sweep.Stop()

	l.logger.Info("scheduler started",
		zap.Duration("tick_interval", l.config.TickInterval),
		zap.Int("batch_size", l.config.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			if err := l.RunOnce(ctx); err != nil && !errors.Is(err, ErrBatchInProgress) {
				l.logger.Error("batch failed", zap.Error(err))
			}
		case <-sweep.C:
			l.recoverStuck(ctx)
		}
	}
}

// RunOnce executes a single batch. Returns ErrBatchInProgress when a
// batch is already running (the ticker fired mid-batch, or an operator
// triggered a manual run concurrently).
func (l *Loop) RunOnce(ctx context.Context) error {
	if !l.batchMu.TryLock() {
		return ErrBatchInProgress
	}
	defer l.batchMu.Unlock()

	l.setBatchInProgress(true)
	defer l.setBatchInProgress(false)

	start := time.Now()
	now := l.clock.Now()

	due, err := l.repo.FindDueActive(ctx, now, l.config.BatchSize)
	if err != nil {
		return err
	}

	metrics.SetDueBacklog(len(due))

	for _, rem := range due {
		l.processReminder(ctx, rem, now)
	}

	metrics.RecordBatch(time.Since(start))

	l.statsMu.Lock()
	l.stats.TotalBatches++
	l.stats.LastBatchSize = len(due)
	l.stats.LastTickAt = &now
	l.statsMu.Unlock()

	if len(due) > 0 {
		l.logger.Info("batch processed",
			zap.Int("due", len(due)),
			zap.Duration("took", time.Since(start)),
		)
	}

	return nil
}

// processReminder handles one due reminder: validate, claim, grace-check,
// dispatch, persist.
func (l *Loop) processReminder(ctx context.Context, rem *db.Reminder, now time.Time) {
	if err := occurrence.Validate(rem); err != nil {
		l.logger.Warn("deactivating misconfigured reminder",
			zap.Error(err),
			zap.String("reminder_id", rem.ID.String()),
		)
		l.deactivate(ctx, rem, nil, "config_error")
		return
	}

	if rem.NextDueAt == nil {
		return
	}
	occurredAt := *rem.NextDueAt

	claimed, err := l.repo.TryClaim(ctx, rem.ID, occurredAt, now)
	if err != nil {
		l.logger.Error("claim failed",
			zap.Error(err),
			zap.String("reminder_id", rem.ID.String()),
		)
		return
	}
	if !claimed {
		metrics.RecordClaimConflict()
		l.statsMu.Lock()
		l.stats.TotalConflicts++
		l.statsMu.Unlock()
		return
	}
	metrics.RecordClaimed()

	// Too stale to still be useful: the occurrence is dropped, not
	// delivered late. Recurring schedules move on; single-shots retire.
	if now.Sub(occurredAt) > l.config.GraceWindow {
		l.dropStale(ctx, rem, occurredAt, now)
		return
	}

	result, err := l.dispatcher.Dispatch(ctx, rem, occurredAt)
	if err != nil {
		// Infrastructure failure: put the claim back so the next tick
		// retries the same occurrence.
		l.logger.Error("dispatch failed, re-queueing",
			zap.Error(err),
			zap.String("reminder_id", rem.ID.String()),
		)
		if pErr := l.repo.PersistOutcome(ctx, rem.ID, nil, &occurredAt, true); pErr != nil {
			l.logger.Error("failed to re-queue reminder", zap.Error(pErr),
				zap.String("reminder_id", rem.ID.String()))
		}
		return
	}

	l.publishOutcome(ctx, rem, result, occurredAt)

	if result.SubjectGone || result.SubjectDone {
		l.deactivate(ctx, rem, &occurredAt, "subject_gone")
		return
	}

	l.statsMu.Lock()
	l.stats.TotalFired++
	l.statsMu.Unlock()

	l.reschedule(ctx, rem, occurredAt, now)
}

// dropStale consumes an occurrence that aged past the grace window
// without dispatching it.
func (l *Loop) dropStale(ctx context.Context, rem *db.Reminder, occurredAt, now time.Time) {
	l.logger.Warn("dropping stale occurrence",
		zap.String("reminder_id", rem.ID.String()),
		zap.Time("due_at", occurredAt),
		zap.Duration("staleness", now.Sub(occurredAt)),
	)

	l.statsMu.Lock()
	l.stats.TotalDropped++
	l.statsMu.Unlock()

	if isSingleShot(rem) {
		l.deactivate(ctx, rem, nil, "stale")
		return
	}

	// Recurring: skip this occurrence and line up the next one. The
	// dropped slot counts as fired for schedule math only, so the next
	// candidate is strictly later.
	l.reschedule(ctx, rem, occurredAt, now)
}

// reschedule persists the fire and the recomputed next occurrence.
func (l *Loop) reschedule(ctx context.Context, rem *db.Reminder, firedAt, now time.Time) {
	if isSingleShot(rem) {
		l.deactivate(ctx, rem, &firedAt, "single_shot")
		return
	}

	rem.LastFiredAt = &firedAt
	next, ok := occurrence.Next(rem, now, nil)
	if !ok {
		// Valid config with no future occurrence left.
		l.deactivate(ctx, rem, &firedAt, "single_shot")
		return
	}

	if err := l.repo.PersistOutcome(ctx, rem.ID, &firedAt, &next, true); err != nil {
		l.logger.Error("failed to persist outcome",
			zap.Error(err),
			zap.String("reminder_id", rem.ID.String()),
		)
		return
	}

	l.logger.Debug("reminder rescheduled",
		zap.String("reminder_id", rem.ID.String()),
		zap.Time("next_due_at", next),
	)
}

// deactivate retires the reminder, optionally recording a fire first.
func (l *Loop) deactivate(ctx context.Context, rem *db.Reminder, firedAt *time.Time, reason string) {
	if err := l.repo.PersistOutcome(ctx, rem.ID, firedAt, nil, false); err != nil {
		l.logger.Error("failed to deactivate reminder",
			zap.Error(err),
			zap.String("reminder_id", rem.ID.String()),
		)
		return
	}

	metrics.RecordDeactivated(reason)
	l.statsMu.Lock()
	l.stats.TotalDeactivated++
	l.statsMu.Unlock()

	l.logger.Info("reminder deactivated",
		zap.String("reminder_id", rem.ID.String()),
		zap.String("reason", reason),
	)
}

// recoverStuck re-queues claims older than the in-flight grace. Their
// next_due_at is untouched, so the next batch picks them up again;
// the dispatch guard suppresses a resend if the crash happened after
// delivery.
func (l *Loop) recoverStuck(ctx context.Context) {
	olderThan := l.clock.Now().Add(-l.config.InFlightGrace)

	recovered, err := l.repo.RecoverStuckInFlight(ctx, olderThan)
	if err != nil {
		l.logger.Error("recovery sweep failed", zap.Error(err))
		return
	}
	if len(recovered) == 0 {
		return
	}

	metrics.RecordRecovered(len(recovered))
	l.statsMu.Lock()
	l.stats.TotalRecovered += int64(len(recovered))
	l.statsMu.Unlock()

	l.logger.Warn("recovery sweep re-queued reminders",
		zap.Int("count", len(recovered)),
	)
}

// publishOutcome emits the dispatch event. Best-effort.
func (l *Loop) publishOutcome(ctx context.Context, rem *db.Reminder, result *dispatch.Result, occurredAt time.Time) {
	if l.outcomes == nil {
		return
	}

	ev := sqs.OutcomeEvent{
		ReminderID: rem.ID.String(),
		OwnerID:    rem.OwnerID.String(),
		Kind:       rem.Kind,
		SubKind:    rem.SubKind,
		Outcome:    result.Outcome(),
		Delivered:  result.Delivered,
		Failed:     result.Transient + result.Permanent,
		Occurrence: occurredAt.Unix(),
	}

	if err := l.outcomes.PublishOutcome(ctx, ev); err != nil {
		l.logger.Warn("failed to publish outcome event",
			zap.Error(err),
			zap.String("reminder_id", rem.ID.String()),
		)
	}
}

// Status returns a copy of the loop's stats.
func (l *Loop) Status() Stats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.stats
}

func (l *Loop) setRunning(v bool) {
	l.statsMu.Lock()
	l.stats.Running = v
	l.statsMu.Unlock()
}

func (l *Loop) setBatchInProgress(v bool) {
	l.statsMu.Lock()
	l.stats.BatchInProgress = v
	l.statsMu.Unlock()
}

// isSingleShot reports whether the reminder retires after one fire:
// before_due always, and scheduled with no recurrence inputs.
func isSingleShot(rem *db.Reminder) bool {
	if rem.Kind == db.KindBeforeDue {
		return true
	}
	return rem.Kind == db.KindScheduled && len(rem.DaysOfWeek) == 0 && !rem.IntervalEnabled
}
