package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sokoflow/sokoflow/internal/database/models"
)

// StepDedupRepository handles step-level dedup lock persistence.
type StepDedupRepository struct {
	baseRepository
}

// NewStepDedupRepository creates a new StepDedupRepository.
func NewStepDedupRepository(db Querier) *StepDedupRepository {
	return &StepDedupRepository{baseRepository: newBaseRepository(db)}
}

const stepDedupColumns = `id, organization_id, workflow_run_id, step_key,
	input_hash, status, result, locked_at, expires_at, created_at`

// InsertLocked attempts the optimistic insert of a fresh LOCKED row.
// Returns ErrDuplicateKey on collision.
func (r *StepDedupRepository) InsertLocked(ctx context.Context, d *models.StepDedup) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	d.Status = models.DedupLocked
	d.LockedAt = now
	d.CreatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO step_dedups (`+stepDedupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.ID, d.OrganizationID, d.WorkflowRunID, d.StepKey, d.InputHash,
		d.Status, rawOrNil(d.Result), d.LockedAt, d.ExpiresAt, d.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

// Get retrieves the dedup row for the full key.
func (r *StepDedupRepository) Get(ctx context.Context, orgID, runID, stepKey, inputHash string) (*models.StepDedup, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+stepDedupColumns+` FROM step_dedups
		WHERE organization_id = ? AND workflow_run_id = ? AND step_key = ? AND input_hash = ?
	`, orgID, runID, stepKey, inputHash)
	return scanStepDedup(row)
}

// MarkDone records the cached result for a held lock. Only the LOCKED holder
// may complete it.
func (r *StepDedupRepository) MarkDone(ctx context.Context, id string, result []byte) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE step_dedups
		SET status = ?, result = ?
		WHERE id = ? AND status = ?
	`, models.DedupDone, rawOrNil(result), id, models.DedupLocked)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// StealLock takes over a stale LOCKED row, refreshing its lock window.
// Returns false if the lock is still fresh or the row completed meanwhile.
func (r *StepDedupRepository) StealLock(ctx context.Context, id string, staleBefore, expiresAt time.Time) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE step_dedups
		SET locked_at = ?, expires_at = ?
		WHERE id = ? AND status = ? AND locked_at <= ?
	`, now, expiresAt.UTC(), id, models.DedupLocked, staleBefore.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Delete removes a dedup row. Used when a lock holder fails before producing
// a result, so a later retry gets a fresh acquire.
func (r *StepDedupRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM step_dedups WHERE id = ? AND status = ?
	`, id, models.DedupLocked)
	return err
}

func scanStepDedup(row *sql.Row) (*models.StepDedup, error) {
	var d models.StepDedup
	var result sql.NullString
	err := row.Scan(
		&d.ID, &d.OrganizationID, &d.WorkflowRunID, &d.StepKey, &d.InputHash,
		&d.Status, &result, &d.LockedAt, &d.ExpiresAt, &d.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if result.Valid {
		d.Result = []byte(result.String)
	}
	return &d, nil
}
