package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrSubjectNotFound is returned when a reminder's subject entity no longer
// exists. The dispatcher treats this as a terminal failure.
var ErrSubjectNotFound = errors.New("subject not found")

// SubjectStore reads the projection of external entities (tasks, habits,
// appointments) that reminders reference. The projection rows are written
// by the surrounding CRUD layer; the scheduler only composes messages from
// them.
type SubjectStore struct {
	db     *DB
	logger *zap.Logger
}

// NewSubjectStore creates a new subject projection reader.
func NewSubjectStore(db *DB, logger *zap.Logger) *SubjectStore {
	return &SubjectStore{
		db:     db,
		logger: logger,
	}
}

// SubjectSnapshot returns the minimal projection for one subject.
func (s *SubjectStore) SubjectSnapshot(ctx context.Context, kind string, id uuid.UUID) (*Snapshot, error) {
	query := `
		SELECT title, description, completed, due_at
		FROM subjects
		WHERE kind = $1 AND id = $2
	`

	var snap Snapshot
	err := s.db.Pool().QueryRow(ctx, query, kind, id).Scan(
		&snap.Title, &snap.Description, &snap.Completed, &snap.DueAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubjectNotFound
	}
	if err != nil {
		s.logger.Error("failed to read subject snapshot",
			zap.Error(err),
			zap.String("subject_kind", kind),
			zap.String("subject_id", id.String()),
		)
		return nil, fmt.Errorf("query subject snapshot: %w", err)
	}

	return &snap, nil
}
