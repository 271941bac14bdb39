package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrReminderNotFound is returned when a reminder id does not exist.
var ErrReminderNotFound = errors.New("reminder not found")

// Repository handles database operations for reminders
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new reminder repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const reminderColumns = `
	id, owner_id, subject_id, subject_kind, kind, sub_kind, parent_id,
	time_of_day, lead_minutes, days_of_week, timezone,
	interval_enabled, interval_minutes, window_start, window_end,
	channels, message,
	active, status, claimed_at, last_fired_at, next_due_at,
	created_at, updated_at`

func scanReminder(row pgx.Row) (*Reminder, error) {
	var r Reminder
	err := row.Scan(
		&r.ID, &r.OwnerID, &r.SubjectID, &r.SubjectKind, &r.Kind, &r.SubKind, &r.ParentID,
		&r.TimeOfDay, &r.LeadMinutes, &r.DaysOfWeek, &r.Timezone,
		&r.IntervalEnabled, &r.IntervalMinutes, &r.WindowStart, &r.WindowEnd,
		&r.Channels, &r.Message,
		&r.Active, &r.Status, &r.ClaimedAt, &r.LastFiredAt, &r.NextDueAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateReminder inserts a new reminder record.
func (r *Repository) CreateReminder(ctx context.Context, rem *Reminder) error {
	query := `
		INSERT INTO reminders (
			id, owner_id, subject_id, subject_kind, kind, sub_kind, parent_id,
			time_of_day, lead_minutes, days_of_week, timezone,
			interval_enabled, interval_minutes, window_start, window_end,
			channels, message, active, status, next_due_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		rem.ID, rem.OwnerID, rem.SubjectID, rem.SubjectKind, rem.Kind, rem.SubKind, rem.ParentID,
		rem.TimeOfDay, rem.LeadMinutes, rem.DaysOfWeek, rem.Timezone,
		rem.IntervalEnabled, rem.IntervalMinutes, rem.WindowStart, rem.WindowEnd,
		rem.Channels, rem.Message, rem.Active, StatusIdle, rem.NextDueAt,
	).Scan(&rem.CreatedAt, &rem.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create reminder",
			zap.Error(err),
			zap.String("reminder_id", rem.ID.String()),
		)
		return fmt.Errorf("insert reminder: %w", err)
	}

	r.logger.Info("reminder created",
		zap.String("reminder_id", rem.ID.String()),
		zap.String("owner_id", rem.OwnerID.String()),
		zap.String("kind", rem.Kind),
		zap.String("sub_kind", rem.SubKind),
	)

	return nil
}

// GetReminder retrieves a reminder by ID
func (r *Repository) GetReminder(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	query := `SELECT` + reminderColumns + ` FROM reminders WHERE id = $1`

	rem, err := scanReminder(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReminderNotFound
	}
	if err != nil {
		r.logger.Error("failed to get reminder",
			zap.Error(err),
			zap.String("reminder_id", id.String()),
		)
		return nil, fmt.Errorf("query reminder: %w", err)
	}

	return rem, nil
}

// FindDueActive returns idle active reminders whose next_due_at has arrived,
// oldest first, bounded by limit. Backlogs larger than limit drain across
// subsequent batches since next_due_at stays in the past until processed.
func (r *Repository) FindDueActive(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	query := `
		SELECT` + reminderColumns + `
		FROM reminders
		WHERE active AND status = $1 AND next_due_at IS NOT NULL AND next_due_at <= $2
		ORDER BY next_due_at ASC
		LIMIT $3
	`

	rows, err := r.db.Pool().Query(ctx, query, StatusIdle, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, rem)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return reminders, nil
}

// TryClaim atomically transitions a reminder from idle to in-flight. The
// conditional predicate on (active, status, next_due_at) is the optimistic
// lock: exactly one of two concurrent claimants observes rows-affected 1.
// A false return means another batch won the race — expected, not a fault.
func (r *Repository) TryClaim(ctx context.Context, id uuid.UUID, expectedNextDueAt time.Time, now time.Time) (bool, error) {
	query := `
		UPDATE reminders
		SET status = $1, claimed_at = $2, updated_at = NOW()
		WHERE id = $3 AND active AND status = $4 AND next_due_at = $5 AND next_due_at <= $2
	`

	result, err := r.db.Pool().Exec(ctx, query, StatusInFlight, now, id, StatusIdle, expectedNextDueAt)
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// PersistOutcome records the result of a dispatched occurrence: the fire
// timestamp, the recomputed next occurrence (nil retires the schedule), and
// the active flag. Clears the in-flight marker.
func (r *Repository) PersistOutcome(ctx context.Context, id uuid.UUID, lastFiredAt *time.Time, nextDueAt *time.Time, active bool) error {
	query := `
		UPDATE reminders
		SET status = $1, claimed_at = NULL,
		    last_fired_at = COALESCE($2, last_fired_at),
		    next_due_at = $3, active = $4, updated_at = NOW()
		WHERE id = $5
	`

	result, err := r.db.Pool().Exec(ctx, query, StatusIdle, lastFiredAt, nextDueAt, active, id)
	if err != nil {
		r.logger.Error("failed to persist reminder outcome",
			zap.Error(err),
			zap.String("reminder_id", id.String()),
		)
		return fmt.Errorf("persist outcome: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrReminderNotFound
	}

	return nil
}

// RecoverStuckInFlight re-queues reminders that were claimed before olderThan
// but never reached PersistOutcome (crash between claim and persist). Each
// sweep re-queues a given reminder at most once: the claim marker is cleared
// by the same statement that selects it.
func (r *Repository) RecoverStuckInFlight(ctx context.Context, olderThan time.Time) ([]*Reminder, error) {
	query := `
		UPDATE reminders
		SET status = $1, claimed_at = NULL, updated_at = NOW()
		WHERE status = $2 AND claimed_at < $3
		RETURNING` + reminderColumns

	rows, err := r.db.Pool().Query(ctx, query, StatusIdle, StatusInFlight, olderThan)
	if err != nil {
		return nil, fmt.Errorf("recover in-flight reminders: %w", err)
	}
	defer rows.Close()

	var recovered []*Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recovered reminder: %w", err)
		}
		recovered = append(recovered, rem)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	for _, rem := range recovered {
		r.logger.Warn("re-queued stuck in-flight reminder",
			zap.String("reminder_id", rem.ID.String()),
			zap.Timep("next_due_at", rem.NextDueAt),
		)
	}

	return recovered, nil
}

// ListUpcoming returns active reminders with the nearest future occurrences,
// soonest first. Admin/debug surface only.
func (r *Repository) ListUpcoming(ctx context.Context, limit int) ([]*Reminder, error) {
	query := `
		SELECT` + reminderColumns + `
		FROM reminders
		WHERE active AND next_due_at IS NOT NULL
		ORDER BY next_due_at ASC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query upcoming reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, rem)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return reminders, nil
}
