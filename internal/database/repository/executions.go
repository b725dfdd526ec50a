package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sokoflow/sokoflow/internal/database/models"
)

// ExecutionRepository handles workflow execution persistence.
type ExecutionRepository struct {
	baseRepository
}

// NewExecutionRepository creates a new ExecutionRepository.
func NewExecutionRepository(db Querier) *ExecutionRepository {
	return &ExecutionRepository{baseRepository: newBaseRepository(db)}
}

const executionColumns = `id, organization_id, workflow_id, status, current_step,
	iteration_count, concurrency_slot_held, safety_limit_code, input, output,
	last_error, correlation_id, created_at, started_at, completed_at`

// Create inserts a new execution.
func (r *ExecutionRepository) Create(ctx context.Context, e *models.WorkflowExecution) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.OrganizationID, e.WorkflowID, e.Status, e.CurrentStep,
		e.IterationCount, boolToInt(e.ConcurrencySlotHeld), e.SafetyLimitCode,
		rawOrNil(e.Input), rawOrNil(e.Output), e.LastError, e.CorrelationID,
		e.CreatedAt, e.StartedAt, e.CompletedAt,
	)
	return err
}

// GetByID retrieves an execution by its ID.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions WHERE id = ?`, id)
	return scanExecution(row)
}

// MarkRunning transitions PENDING -> RUNNING, recording the concurrency slot
// and setting started_at exactly once. Returns false if the execution was not
// PENDING (an idempotent no-op for duplicate job deliveries).
func (r *ExecutionRepository) MarkRunning(ctx context.Context, id string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET status = ?, concurrency_slot_held = 1,
		    started_at = COALESCE(started_at, ?)
		WHERE id = ? AND status IN (?, ?)
	`, models.ExecutionStatusRunning, now.UTC(), id,
		models.ExecutionStatusPending, models.ExecutionStatusDLQPending)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// AdvanceStep persists step progress after a successful step.
func (r *ExecutionRepository) AdvanceStep(ctx context.Context, id string, currentStep, iterationCount int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET current_step = ?, iteration_count = ?
		WHERE id = ?
	`, currentStep, iterationCount, id)
	return err
}

// RequeuePending returns the execution to PENDING after a retry or wait was
// scheduled, keeping step progress but releasing nothing.
func (r *ExecutionRepository) RequeuePending(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions SET status = ? WHERE id = ?
	`, models.ExecutionStatusPending, id)
	return err
}

// Complete finalizes the execution as SUCCESS with its output, dropping the
// concurrency slot marker.
func (r *ExecutionRepository) Complete(ctx context.Context, id string, output []byte) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET status = ?, output = ?, concurrency_slot_held = 0, completed_at = ?
		WHERE id = ?
	`, models.ExecutionStatusSuccess, rawOrNil(output), time.Now().UTC(), id)
	return err
}

// Fail finalizes the execution as FAILED with a structural error message.
func (r *ExecutionRepository) Fail(ctx context.Context, id string, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET status = ?, last_error = ?, concurrency_slot_held = 0, completed_at = ?
		WHERE id = ?
	`, models.ExecutionStatusFailed, errMsg, time.Now().UTC(), id)
	return err
}

// FailSafetyLimit finalizes the execution as FAILED_SAFETY_LIMIT with the
// breached limit code.
func (r *ExecutionRepository) FailSafetyLimit(ctx context.Context, id, limitCode string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET status = ?, safety_limit_code = ?, concurrency_slot_held = 0, completed_at = ?
		WHERE id = ?
	`, models.ExecutionStatusFailedSafetyLimit, limitCode, time.Now().UTC(), id)
	return err
}

// MarkDLQPending parks the execution while its failed step sits in the DLQ.
func (r *ExecutionRepository) MarkDLQPending(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET status = ?, concurrency_slot_held = 0
		WHERE id = ?
	`, models.ExecutionStatusDLQPending, id)
	return err
}

// SetSlotHeld records whether a concurrency slot is currently charged to the
// execution.
func (r *ExecutionRepository) SetSlotHeld(ctx context.Context, id string, held bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions SET concurrency_slot_held = ? WHERE id = ?
	`, boolToInt(held), id)
	return err
}

// ListByOrganization retrieves executions for an organization, optionally
// filtered by status, newest first.
func (r *ExecutionRepository) ListByOrganization(ctx context.Context, orgID string, status models.ExecutionStatus, limit, offset int) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE organization_id = ?`
	args := []any{orgID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*models.WorkflowExecution
	for rows.Next() {
		e, err := scanExecutionRows(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

func scanExecution(row *sql.Row) (*models.WorkflowExecution, error) {
	var e models.WorkflowExecution
	var slotHeld int
	var input, output sql.NullString
	err := row.Scan(
		&e.ID, &e.OrganizationID, &e.WorkflowID, &e.Status, &e.CurrentStep,
		&e.IterationCount, &slotHeld, &e.SafetyLimitCode, &input, &output,
		&e.LastError, &e.CorrelationID, &e.CreatedAt, &e.StartedAt, &e.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.ConcurrencySlotHeld = slotHeld != 0
	if input.Valid {
		e.Input = []byte(input.String)
	}
	if output.Valid {
		e.Output = []byte(output.String)
	}
	return &e, nil
}

func scanExecutionRows(rows *sql.Rows) (*models.WorkflowExecution, error) {
	var e models.WorkflowExecution
	var slotHeld int
	var input, output sql.NullString
	err := rows.Scan(
		&e.ID, &e.OrganizationID, &e.WorkflowID, &e.Status, &e.CurrentStep,
		&e.IterationCount, &slotHeld, &e.SafetyLimitCode, &input, &output,
		&e.LastError, &e.CorrelationID, &e.CreatedAt, &e.StartedAt, &e.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	e.ConcurrencySlotHeld = slotHeld != 0
	if input.Valid {
		e.Input = []byte(input.String)
	}
	if output.Valid {
		e.Output = []byte(output.String)
	}
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func rawOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
