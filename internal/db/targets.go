package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TargetStore resolves delivery targets for an owner and handles the
// permanent-failure mutation path. The target registry itself (device
// registration, address verification) is owned by the surrounding
// application; the scheduler only reads and deactivates.
type TargetStore struct {
	db     *DB
	logger *zap.Logger
}

// NewTargetStore creates a new delivery target store.
func NewTargetStore(db *DB, logger *zap.Logger) *TargetStore {
	return &TargetStore{
		db:     db,
		logger: logger,
	}
}

// TargetsFor returns the owner's active targets on the requested channels.
// Returns an empty slice when the owner has notifications disabled — the
// dispatcher treats that as nothing to do, not an error.
func (s *TargetStore) TargetsFor(ctx context.Context, ownerID uuid.UUID, channels []string) ([]*Target, error) {
	if len(channels) == 0 {
		return nil, nil
	}

	query := `
		SELECT t.id, t.owner_id, t.channel, t.endpoint, t.active, t.last_notified_at, t.created_at
		FROM delivery_targets t
		LEFT JOIN owner_settings s ON s.owner_id = t.owner_id
		WHERE t.owner_id = $1
		  AND t.active
		  AND t.channel = ANY($2)
		  AND COALESCE(s.notifications_enabled, TRUE)
		ORDER BY t.created_at ASC
	`

	rows, err := s.db.Pool().Query(ctx, query, ownerID, channels)
	if err != nil {
		return nil, fmt.Errorf("query delivery targets: %w", err)
	}
	defer rows.Close()

	var targets []*Target
	for rows.Next() {
		var t Target
		err := rows.Scan(&t.ID, &t.OwnerID, &t.Channel, &t.Endpoint, &t.Active, &t.LastNotifiedAt, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan delivery target: %w", err)
		}
		targets = append(targets, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return targets, nil
}

// DeactivateTarget marks a target dead after a permanent delivery failure
// (expired push endpoint, bounced address). Future dispatches stop trying it.
func (s *TargetStore) DeactivateTarget(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE delivery_targets
		SET active = FALSE, deactivated_at = NOW()
		WHERE id = $1 AND active
	`

	result, err := s.db.Pool().Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivate target: %w", err)
	}

	if result.RowsAffected() == 1 {
		s.logger.Info("delivery target deactivated",
			zap.String("target_id", id.String()),
		)
	}

	return nil
}

// MarkTargetNotified timestamps a successful delivery.
func (s *TargetStore) MarkTargetNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE delivery_targets SET last_notified_at = $1 WHERE id = $2`

	if _, err := s.db.Pool().Exec(ctx, query, at, id); err != nil {
		return fmt.Errorf("mark target notified: %w", err)
	}

	return nil
}
