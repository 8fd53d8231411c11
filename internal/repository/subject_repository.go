package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/phd-adp-api/internal/models"
)

// SubjectRepository persists workflow subjects and applies status
// transitions atomically.
type SubjectRepository struct {
	db *sqlx.DB
}

// NewSubjectRepository constructs the repository.
func NewSubjectRepository(db *sqlx.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

const subjectColumns = `id, subject_type, status, owner_id, director_id, title,
       director_comment, admin_comment, rejection_reason,
       submitted_at, director_decision_at, admin_decision_at, deadline,
       created_at, updated_at`

// Create inserts a new subject row.
func (r *SubjectRepository) Create(ctx context.Context, subject *models.Subject) error {
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if subject.CreatedAt.IsZero() {
		subject.CreatedAt = now
	}
	subject.UpdatedAt = subject.CreatedAt
	const query = `INSERT INTO subjects
	(id, subject_type, status, owner_id, director_id, title,
	 director_comment, admin_comment, rejection_reason,
	 submitted_at, director_decision_at, admin_decision_at, deadline,
	 created_at, updated_at)
	VALUES (:id, :subject_type, :status, :owner_id, :director_id, :title,
	 :director_comment, :admin_comment, :rejection_reason,
	 :submitted_at, :director_decision_at, :admin_decision_at, :deadline,
	 :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, subject); err != nil {
		return fmt.Errorf("create subject: %w", err)
	}
	return nil
}

// GetByID fetches a subject by identifier.
func (r *SubjectRepository) GetByID(ctx context.Context, id string) (*models.Subject, error) {
	query := fmt.Sprintf(`SELECT %s FROM subjects WHERE id = $1`, subjectColumns)
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, id); err != nil {
		return nil, err
	}
	return &subject, nil
}

// List returns subjects matching the filter, newest first.
func (r *SubjectRepository) List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(fmt.Sprintf("SELECT %s FROM subjects", subjectColumns))

	conditions := make([]string, 0, 4)
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("subject_type = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.DirectorID != "" {
		args = append(args, filter.DirectorID)
		conditions = append(conditions, fmt.Sprintf("director_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	return subjects, nil
}

// AssignDirector sets the director on a subject that has none yet. Returns
// sql.ErrNoRows when the subject is missing or a director is already set.
func (r *SubjectRepository) AssignDirector(ctx context.Context, id, directorID string) error {
	const query = `UPDATE subjects SET director_id = $1, updated_at = $2
	WHERE id = $3 AND director_id IS NULL`
	result, err := r.db.ExecContext(ctx, query, directorID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("assign director: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check assign director rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// StageUpdates carries the per-stage fields a transition writes alongside the
// status swap. Nil pointers leave columns untouched.
type StageUpdates struct {
	DirectorComment    *string
	AdminComment       *string
	RejectionReason    *string
	SubmittedAt        *time.Time
	DirectorDecisionAt *time.Time
	AdminDecisionAt    *time.Time
}

// ApplyTransition performs the optimistic-concurrency write: the status swap
// is guarded by the expected current status, and the transition record is
// appended in the same database transaction so history and state can never
// diverge. Returns sql.ErrNoRows when another transition won the race.
func (r *SubjectRepository) ApplyTransition(ctx context.Context, expected models.Status, stage StageUpdates, record *models.TransitionRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	setParts := []string{"status = $1", "updated_at = $2"}
	args := []interface{}{record.ToStatus, record.OccurredAt}
	appendSet := func(column string, value interface{}) {
		args = append(args, value)
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if stage.DirectorComment != nil {
		appendSet("director_comment", stage.DirectorComment)
	}
	if stage.AdminComment != nil {
		appendSet("admin_comment", stage.AdminComment)
	}
	if stage.RejectionReason != nil {
		appendSet("rejection_reason", stage.RejectionReason)
	}
	if stage.SubmittedAt != nil {
		appendSet("submitted_at", stage.SubmittedAt)
	}
	if stage.DirectorDecisionAt != nil {
		appendSet("director_decision_at", stage.DirectorDecisionAt)
	}
	if stage.AdminDecisionAt != nil {
		appendSet("admin_decision_at", stage.AdminDecisionAt)
	}

	args = append(args, record.SubjectID)
	idPos := len(args)
	args = append(args, expected)
	query := fmt.Sprintf("UPDATE subjects SET %s WHERE id = $%d AND status = $%d",
		strings.Join(setParts, ", "), idPos, idPos+1)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("swap subject status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check status swap rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.NamedExecContext(ctx, insertTransitionQuery, record); err != nil {
		return fmt.Errorf("append transition record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition tx: %w", err)
	}
	return nil
}

// ListOverdue returns subjects of the given type still in one of the given
// statuses whose deadline has passed. Used by the expiry sweeper.
func (r *SubjectRepository) ListOverdue(ctx context.Context, t models.SubjectType, statuses []models.Status, before time.Time) ([]models.Subject, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := []interface{}{t}
	placeholders := make([]string, len(statuses))
	for i, status := range statuses {
		args = append(args, status)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}
	args = append(args, before)
	query := fmt.Sprintf(`SELECT %s FROM subjects
	WHERE subject_type = $1 AND status IN (%s) AND deadline IS NOT NULL AND deadline < $%d`,
		subjectColumns, strings.Join(placeholders, ","), len(args))

	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, args...); err != nil {
		return nil, fmt.Errorf("list overdue subjects: %w", err)
	}
	return subjects, nil
}

// CountByStatus aggregates subjects per type and status.
func (r *SubjectRepository) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	const query = `SELECT subject_type, status, COUNT(*) AS count
	FROM subjects GROUP BY subject_type, status ORDER BY subject_type, status`
	var counts []models.StatusCount
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count subjects by status: %w", err)
	}
	return counts, nil
}
