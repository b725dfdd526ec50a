package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sokoflow/sokoflow/internal/database/models"
)

// ViolationRepository handles safety violation audit rows.
type ViolationRepository struct {
	baseRepository
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(db Querier) *ViolationRepository {
	return &ViolationRepository{baseRepository: newBaseRepository(db)}
}

// Insert appends a violation audit row.
func (r *ViolationRepository) Insert(ctx context.Context, v *models.SafetyViolation) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_safety_violations (id, organization_id, limit_code, details, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, v.ID, v.OrganizationID, v.LimitCode, rawOrNil(v.Details), v.CreatedAt)
	return err
}

// List retrieves the most recent violations for an organization, optionally
// filtered by limit code.
func (r *ViolationRepository) List(ctx context.Context, orgID, limitCode string, limit int) ([]*models.SafetyViolation, error) {
	query := `
		SELECT id, organization_id, limit_code, details, created_at
		FROM workflow_safety_violations
		WHERE organization_id = ?
	`
	args := []any{orgID}
	if limitCode != "" {
		query += ` AND limit_code = ?`
		args = append(args, limitCode)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var violations []*models.SafetyViolation
	for rows.Next() {
		var v models.SafetyViolation
		var details sql.NullString
		if err := rows.Scan(&v.ID, &v.OrganizationID, &v.LimitCode, &details, &v.CreatedAt); err != nil {
			return nil, err
		}
		if details.Valid {
			v.Details = []byte(details.String)
		}
		violations = append(violations, &v)
	}
	return violations, rows.Err()
}
