package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sokoflow/sokoflow/internal/database/models"
)

// PlanRepository handles plan persistence.
type PlanRepository struct {
	baseRepository
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(db Querier) *PlanRepository {
	return &PlanRepository{baseRepository: newBaseRepository(db)}
}

const planColumns = `id, name, max_execution_time_ms, max_step_iterations,
	max_workflow_steps, max_daily_workflow_runs, max_daily_messages,
	max_daily_ai_requests, max_concurrent_runs, created_at, updated_at`

// Create inserts a new plan.
func (r *PlanRepository) Create(ctx context.Context, p *models.Plan) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO plans (` + planColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Name, p.MaxExecutionTimeMs, p.MaxStepIterations,
		p.MaxWorkflowSteps, p.MaxDailyWorkflowRuns, p.MaxDailyMessages,
		p.MaxDailyAIRequests, p.MaxConcurrentRuns, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

// GetByID retrieves a plan by its ID.
func (r *PlanRepository) GetByID(ctx context.Context, id string) (*models.Plan, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = ?`, id)
	return scanPlan(row)
}

// GetByName retrieves a plan by its unique name.
func (r *PlanRepository) GetByName(ctx context.Context, name string) (*models.Plan, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE name = ?`, name)
	return scanPlan(row)
}

// Update updates an existing plan's limits.
func (r *PlanRepository) Update(ctx context.Context, p *models.Plan) error {
	p.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE plans
		SET max_execution_time_ms = ?, max_step_iterations = ?,
		    max_workflow_steps = ?, max_daily_workflow_runs = ?,
		    max_daily_messages = ?, max_daily_ai_requests = ?,
		    max_concurrent_runs = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		p.MaxExecutionTimeMs, p.MaxStepIterations, p.MaxWorkflowSteps,
		p.MaxDailyWorkflowRuns, p.MaxDailyMessages, p.MaxDailyAIRequests,
		p.MaxConcurrentRuns, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPlan(row *sql.Row) (*models.Plan, error) {
	var p models.Plan
	err := row.Scan(
		&p.ID, &p.Name, &p.MaxExecutionTimeMs, &p.MaxStepIterations,
		&p.MaxWorkflowSteps, &p.MaxDailyWorkflowRuns, &p.MaxDailyMessages,
		&p.MaxDailyAIRequests, &p.MaxConcurrentRuns, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// OrganizationPlanRepository handles plan assignments.
type OrganizationPlanRepository struct {
	baseRepository
}

// NewOrganizationPlanRepository creates a new OrganizationPlanRepository.
func NewOrganizationPlanRepository(db Querier) *OrganizationPlanRepository {
	return &OrganizationPlanRepository{baseRepository: newBaseRepository(db)}
}

const orgPlanColumns = `id, organization_id, plan_id, override_config, created_at, updated_at`

// GetByOrganization retrieves the active plan assignment for an organization.
func (r *OrganizationPlanRepository) GetByOrganization(ctx context.Context, orgID string) (*models.OrganizationPlan, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orgPlanColumns+` FROM organization_plans WHERE organization_id = ?`, orgID)

	var op models.OrganizationPlan
	var override sql.NullString
	err := row.Scan(&op.ID, &op.OrganizationID, &op.PlanID, &override, &op.CreatedAt, &op.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if override.Valid {
		op.OverrideConfig = []byte(override.String)
	}
	return &op, nil
}

// Create inserts a plan assignment. At most one row per organization; a
// concurrent creation loses the race and gets ErrDuplicateKey, after which
// the caller re-reads the winning row.
func (r *OrganizationPlanRepository) Create(ctx context.Context, op *models.OrganizationPlan) error {
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	op.CreatedAt = now
	op.UpdatedAt = now

	var override any
	if len(op.OverrideConfig) > 0 {
		override = string(op.OverrideConfig)
	}

	query := `
		INSERT INTO organization_plans (` + orgPlanColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		op.ID, op.OrganizationID, op.PlanID, override, op.CreatedAt, op.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

// UpdateOverride replaces the override config for an organization.
func (r *OrganizationPlanRepository) UpdateOverride(ctx context.Context, orgID string, override []byte) error {
	var value any
	if len(override) > 0 {
		value = string(override)
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE organization_plans
		SET override_config = ?, updated_at = ?
		WHERE organization_id = ?
	`, value, time.Now().UTC(), orgID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
