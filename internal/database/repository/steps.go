package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sokoflow/sokoflow/internal/database/models"
)

// StepRepository handles workflow step attempt records.
type StepRepository struct {
	baseRepository
}

// NewStepRepository creates a new StepRepository.
func NewStepRepository(db Querier) *StepRepository {
	return &StepRepository{baseRepository: newBaseRepository(db)}
}

const stepColumns = `id, execution_id, step_index, step_type, status,
	attempt_count, max_retries, next_retry_at, first_failed_at, last_failed_at,
	retry_policy_override, last_error, started_at, completed_at`

// UpsertAttempt records the start of a step attempt. One row per
// (executionID, stepIndex): the first attempt inserts, later attempts update
// the existing row in place. Returns the step row ID.
func (r *StepRepository) UpsertAttempt(ctx context.Context, s *models.WorkflowStep) (string, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_steps (`+stepColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.ExecutionID, s.StepIndex, s.StepType, s.Status,
		s.AttemptCount, s.MaxRetries, s.NextRetryAt, s.FirstFailedAt,
		s.LastFailedAt, rawOrNil(s.RetryPolicyOverride), s.LastError,
		s.StartedAt, s.CompletedAt,
	)
	if err == nil {
		return s.ID, nil
	}
	if !isUniqueViolation(err) {
		return "", err
	}

	// Existing attempt row: bring it back to RUNNING for this attempt.
	existing, getErr := r.GetByExecutionAndIndex(ctx, s.ExecutionID, s.StepIndex)
	if getErr != nil {
		return "", getErr
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE workflow_steps
		SET status = ?, step_type = ?, max_retries = ?,
		    retry_policy_override = ?, started_at = ?, completed_at = NULL
		WHERE id = ?
	`, models.StepStatusRunning, s.StepType, s.MaxRetries,
		rawOrNil(s.RetryPolicyOverride), s.StartedAt, existing.ID)
	if err != nil {
		return "", err
	}
	s.ID = existing.ID
	s.AttemptCount = existing.AttemptCount
	s.FirstFailedAt = existing.FirstFailedAt
	return existing.ID, nil
}

// GetByExecutionAndIndex retrieves the step row for one execution position.
func (r *StepRepository) GetByExecutionAndIndex(ctx context.Context, executionID string, stepIndex int) (*models.WorkflowStep, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+stepColumns+` FROM workflow_steps
		WHERE execution_id = ? AND step_index = ?
	`, executionID, stepIndex)
	return scanStep(row)
}

// ListByExecution retrieves all step rows for an execution ordered by index.
func (r *StepRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.WorkflowStep, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+stepColumns+` FROM workflow_steps
		WHERE execution_id = ?
		ORDER BY step_index
	`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.WorkflowStep
	for rows.Next() {
		s, err := scanStepRows(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// MarkSuccess finalizes the step attempt as SUCCESS.
func (r *StepRepository) MarkSuccess(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE workflow_steps
		SET status = ?, completed_at = ?
		WHERE id = ?
	`, models.StepStatusSuccess, time.Now().UTC(), id)
	return err
}

// MarkRetrying records a failed attempt that will be retried, incrementing
// the attempt counter and stamping the failure window.
func (r *StepRepository) MarkRetrying(ctx context.Context, id string, attemptCount int, nextRetryAt time.Time, lastError string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE workflow_steps
		SET status = ?, attempt_count = ?, next_retry_at = ?,
		    first_failed_at = COALESCE(first_failed_at, ?),
		    last_failed_at = ?, last_error = ?
		WHERE id = ?
	`, models.StepStatusRetrying, attemptCount, nextRetryAt.UTC(), now, now, lastError, id)
	return err
}

// MarkFailed finalizes the step attempt as FAILED without quarantining it,
// used when the execution itself is being stopped.
func (r *StepRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE workflow_steps
		SET status = ?, first_failed_at = COALESCE(first_failed_at, ?),
		    last_failed_at = ?, last_error = ?, completed_at = ?
		WHERE id = ?
	`, models.StepStatusFailed, now, now, lastError, now, id)
	return err
}

// MarkDLQ finalizes the step attempt as quarantined.
func (r *StepRepository) MarkDLQ(ctx context.Context, id string, attemptCount int, lastError string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE workflow_steps
		SET status = ?, attempt_count = ?,
		    first_failed_at = COALESCE(first_failed_at, ?),
		    last_failed_at = ?, last_error = ?, completed_at = ?
		WHERE id = ?
	`, models.StepStatusDLQ, attemptCount, now, now, lastError, now, id)
	return err
}

func scanStep(row *sql.Row) (*models.WorkflowStep, error) {
	var s models.WorkflowStep
	var override sql.NullString
	err := row.Scan(
		&s.ID, &s.ExecutionID, &s.StepIndex, &s.StepType, &s.Status,
		&s.AttemptCount, &s.MaxRetries, &s.NextRetryAt, &s.FirstFailedAt,
		&s.LastFailedAt, &override, &s.LastError, &s.StartedAt, &s.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if override.Valid {
		s.RetryPolicyOverride = []byte(override.String)
	}
	return &s, nil
}

func scanStepRows(rows *sql.Rows) (*models.WorkflowStep, error) {
	var s models.WorkflowStep
	var override sql.NullString
	err := rows.Scan(
		&s.ID, &s.ExecutionID, &s.StepIndex, &s.StepType, &s.Status,
		&s.AttemptCount, &s.MaxRetries, &s.NextRetryAt, &s.FirstFailedAt,
		&s.LastFailedAt, &override, &s.LastError, &s.StartedAt, &s.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if override.Valid {
		s.RetryPolicyOverride = []byte(override.String)
	}
	return &s, nil
}
