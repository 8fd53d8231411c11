package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/phd-adp-api/internal/models"
)

const insertTransitionQuery = `INSERT INTO subject_transitions
	(id, subject_id, from_status, to_status, action, acting_role, acting_user_id, comment, occurred_at)
	VALUES (:id, :subject_id, :from_status, :to_status, :action, :acting_role, :acting_user_id, :comment, :occurred_at)`

// TransitionRepository reads and appends the append-only transition log.
// Records are never updated or deleted.
type TransitionRepository struct {
	db *sqlx.DB
}

// NewTransitionRepository constructs the repository.
func NewTransitionRepository(db *sqlx.DB) *TransitionRepository {
	return &TransitionRepository{db: db}
}

// Append writes a single transition record. Fails only on storage errors; a
// well-formed record is never rejected.
func (r *TransitionRepository) Append(ctx context.Context, record *models.TransitionRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now().UTC()
	}
	if _, err := r.db.NamedExecContext(ctx, insertTransitionQuery, record); err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	return nil
}

// HistoryFor returns the full transition history of a subject, oldest first.
// Replaying the to_status sequence reproduces the subject's current status.
func (r *TransitionRepository) HistoryFor(ctx context.Context, subjectID string) ([]models.TransitionRecord, error) {
	const query = `SELECT id, subject_id, from_status, to_status, action, acting_role, acting_user_id, comment, occurred_at
	FROM subject_transitions WHERE subject_id = $1 ORDER BY occurred_at ASC, id ASC`
	var records []models.TransitionRecord
	if err := r.db.SelectContext(ctx, &records, query, subjectID); err != nil {
		return nil, fmt.Errorf("load transition history: %w", err)
	}
	return records, nil
}
