package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sokoflow/sokoflow/internal/database/models"
)

// WorkflowRepository handles workflow definition persistence.
type WorkflowRepository struct {
	baseRepository
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db Querier) *WorkflowRepository {
	return &WorkflowRepository{baseRepository: newBaseRepository(db)}
}

// Create inserts a new workflow definition.
func (r *WorkflowRepository) Create(ctx context.Context, w *models.Workflow) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflows (id, organization_id, name, steps, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, w.ID, w.OrganizationID, w.Name, string(w.Steps), w.CreatedAt, w.UpdatedAt)
	return err
}

// GetByID retrieves a workflow definition by its ID.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, steps, created_at, updated_at
		FROM workflows WHERE id = ?
	`, id)

	var w models.Workflow
	var steps string
	err := row.Scan(&w.ID, &w.OrganizationID, &w.Name, &steps, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	w.Steps = []byte(steps)
	return &w, nil
}

// ListByOrganization retrieves an organization's workflow definitions,
// newest first.
func (r *WorkflowRepository) ListByOrganization(ctx context.Context, orgID string, limit, offset int) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organization_id, name, steps, created_at, updated_at
		FROM workflows WHERE organization_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?
	`, orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		var w models.Workflow
		var steps string
		if err := rows.Scan(&w.ID, &w.OrganizationID, &w.Name, &steps, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		w.Steps = []byte(steps)
		workflows = append(workflows, &w)
	}
	return workflows, rows.Err()
}

// UpdateSteps replaces the step list of a workflow definition.
func (r *WorkflowRepository) UpdateSteps(ctx context.Context, id string, steps []byte) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflows SET steps = ?, updated_at = ? WHERE id = ?
	`, string(steps), time.Now().UTC(), id)
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
