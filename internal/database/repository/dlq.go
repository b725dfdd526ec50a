package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sokoflow/sokoflow/internal/database/models"
	"github.com/sokoflow/sokoflow/internal/pagination"
)

// DLQRepository handles dead-letter item persistence.
type DLQRepository struct {
	baseRepository
}

// NewDLQRepository creates a new DLQRepository.
func NewDLQRepository(db Querier) *DLQRepository {
	return &DLQRepository{baseRepository: newBaseRepository(db)}
}

const dlqColumns = `id, workflow_step_id, execution_id, organization_id,
	step_index, step_type, status, failure_reason, error_category,
	attempt_count, input_payload, step_config, correlation_id, replay_count,
	last_replay_at, last_replay_by, resolved_by, resolved_reason, resolved_at,
	created_at, updated_at`

// DLQFilter narrows a List query.
type DLQFilter struct {
	OrganizationID string
	StepType       string
	ErrorCategory  string
	Status         models.DLQStatus
	From           time.Time
	To             time.Time
	Limit          int
	Cursor         *pagination.Cursor
}

// UpsertOpen quarantines a step: one item per workflowStepID. A repeated
// quarantine of the same step refreshes the failure snapshot and reopens the
// item instead of inserting a duplicate.
func (r *DLQRepository) UpsertOpen(ctx context.Context, item *models.WorkflowStepDLQItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	item.Status = models.DLQStatusOpen
	item.CreatedAt = now
	item.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_step_dlq_items (`+dlqColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID, item.WorkflowStepID, item.ExecutionID, item.OrganizationID,
		item.StepIndex, item.StepType, item.Status, item.FailureReason,
		item.ErrorCategory, item.AttemptCount, rawOrNil(item.InputPayload),
		rawOrNil(item.StepConfig), item.CorrelationID, item.ReplayCount,
		item.LastReplayAt, item.LastReplayBy, item.ResolvedBy,
		item.ResolvedReason, item.ResolvedAt, item.CreatedAt, item.UpdatedAt,
	)
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE workflow_step_dlq_items
		SET status = ?, failure_reason = ?, error_category = ?,
		    attempt_count = ?, input_payload = ?, step_config = ?,
		    correlation_id = ?, updated_at = ?
		WHERE workflow_step_id = ?
	`, models.DLQStatusOpen, item.FailureReason, item.ErrorCategory,
		item.AttemptCount, rawOrNil(item.InputPayload), rawOrNil(item.StepConfig),
		item.CorrelationID, now, item.WorkflowStepID)
	return err
}

// GetByID retrieves a dead-letter item.
func (r *DLQRepository) GetByID(ctx context.Context, id string) (*models.WorkflowStepDLQItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+dlqColumns+` FROM workflow_step_dlq_items WHERE id = ?`, id)
	return scanDLQItem(row)
}

// GetByStepID retrieves the dead-letter item for a workflow step.
func (r *DLQRepository) GetByStepID(ctx context.Context, stepID string) (*models.WorkflowStepDLQItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+dlqColumns+` FROM workflow_step_dlq_items WHERE workflow_step_id = ?`, stepID)
	return scanDLQItem(row)
}

// List retrieves dead-letter items matching the filter, newest first, with
// keyset pagination on (created_at, id).
func (r *DLQRepository) List(ctx context.Context, f DLQFilter) ([]*models.WorkflowStepDLQItem, error) {
	query := `SELECT ` + dlqColumns + ` FROM workflow_step_dlq_items WHERE organization_id = ?`
	args := []any{f.OrganizationID}

	if f.StepType != "" {
		query += ` AND step_type = ?`
		args = append(args, f.StepType)
	}
	if f.ErrorCategory != "" {
		query += ` AND error_category = ?`
		args = append(args, f.ErrorCategory)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if !f.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, f.To.UTC())
	}
	if f.Cursor != nil {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, f.Cursor.CreatedAt.UTC(), f.Cursor.CreatedAt.UTC(), f.Cursor.ID)
	}

	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, pagination.ClampLimit(f.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.WorkflowStepDLQItem
	for rows.Next() {
		item, err := scanDLQItemRows(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountOpen returns the number of currently open dead-letter items.
func (r *DLQRepository) CountOpen(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM workflow_step_dlq_items WHERE status = ?
	`, models.DLQStatusOpen).Scan(&n)
	return n, err
}

// MarkReplaying transitions OPEN/REPLAYING -> REPLAYING and counts the
// replay. Returns false when the item is already terminal.
func (r *DLQRepository) MarkReplaying(ctx context.Context, id, requestedBy string) (bool, error) {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_step_dlq_items
		SET status = ?, replay_count = replay_count + 1,
		    last_replay_at = ?, last_replay_by = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, models.DLQStatusReplaying, now, requestedBy, now, id,
		models.DLQStatusOpen, models.DLQStatusReplaying)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// Resolve transitions the item to RESOLVED. Returns false when already
// terminal.
func (r *DLQRepository) Resolve(ctx context.Context, id, resolvedBy, reason string) (bool, error) {
	return r.finalize(ctx, id, models.DLQStatusResolved, resolvedBy, reason)
}

// Ignore transitions the item to IGNORED. Returns false when already
// terminal.
func (r *DLQRepository) Ignore(ctx context.Context, id, resolvedBy, reason string) (bool, error) {
	return r.finalize(ctx, id, models.DLQStatusIgnored, resolvedBy, reason)
}

func (r *DLQRepository) finalize(ctx context.Context, id string, status models.DLQStatus, by, reason string) (bool, error) {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_step_dlq_items
		SET status = ?, resolved_by = ?, resolved_reason = ?, resolved_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, status, by, reason, now, now, id,
		models.DLQStatusOpen, models.DLQStatusReplaying)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func scanDLQItem(row *sql.Row) (*models.WorkflowStepDLQItem, error) {
	var item models.WorkflowStepDLQItem
	var input, config sql.NullString
	err := row.Scan(
		&item.ID, &item.WorkflowStepID, &item.ExecutionID, &item.OrganizationID,
		&item.StepIndex, &item.StepType, &item.Status, &item.FailureReason,
		&item.ErrorCategory, &item.AttemptCount, &input, &config,
		&item.CorrelationID, &item.ReplayCount, &item.LastReplayAt,
		&item.LastReplayBy, &item.ResolvedBy, &item.ResolvedReason,
		&item.ResolvedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if input.Valid {
		item.InputPayload = []byte(input.String)
	}
	if config.Valid {
		item.StepConfig = []byte(config.String)
	}
	return &item, nil
}

func scanDLQItemRows(rows *sql.Rows) (*models.WorkflowStepDLQItem, error) {
	var item models.WorkflowStepDLQItem
	var input, config sql.NullString
	err := rows.Scan(
		&item.ID, &item.WorkflowStepID, &item.ExecutionID, &item.OrganizationID,
		&item.StepIndex, &item.StepType, &item.Status, &item.FailureReason,
		&item.ErrorCategory, &item.AttemptCount, &input, &config,
		&item.CorrelationID, &item.ReplayCount, &item.LastReplayAt,
		&item.LastReplayBy, &item.ResolvedBy, &item.ResolvedReason,
		&item.ResolvedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if input.Valid {
		item.InputPayload = []byte(input.String)
	}
	if config.Valid {
		item.StepConfig = []byte(config.String)
	}
	return &item, nil
}
