package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sokoflow/sokoflow/internal/database/models"
)

// IdempotencyRepository handles API idempotency key persistence.
type IdempotencyRepository struct {
	baseRepository
}

// NewIdempotencyRepository creates a new IdempotencyRepository.
func NewIdempotencyRepository(db Querier) *IdempotencyRepository {
	return &IdempotencyRepository{baseRepository: newBaseRepository(db)}
}

const idempotencyColumns = `id, organization_id, scope, idem_key,
	request_fingerprint, status, response_code, response_body, error_body,
	locked_at, expires_at, created_at, updated_at`

// InsertInProgress attempts the optimistic insert of a fresh IN_PROGRESS key.
// Returns ErrDuplicateKey on collision; the caller then re-reads the existing
// row and applies the decision table.
func (r *IdempotencyRepository) InsertInProgress(ctx context.Context, k *models.IdempotencyKey) error {
	if k.ID == "" {
		k.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	k.Status = models.IdempotencyInProgress
	k.LockedAt = now
	k.CreatedAt = now
	k.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (`+idempotencyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		k.ID, k.OrganizationID, k.Scope, k.Key, k.RequestFingerprint,
		k.Status, k.ResponseCode, rawOrNil(k.ResponseBody), rawOrNil(k.ErrorBody),
		k.LockedAt, k.ExpiresAt, k.CreatedAt, k.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

// Get retrieves the key row for (organizationID, scope, key).
func (r *IdempotencyRepository) Get(ctx context.Context, orgID, scope, key string) (*models.IdempotencyKey, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+idempotencyColumns+` FROM idempotency_keys
		WHERE organization_id = ? AND scope = ? AND idem_key = ?
	`, orgID, scope, key)
	return scanIdempotencyKey(row)
}

// Reacquire takes over an existing row as a fresh IN_PROGRESS attempt with a
// new fingerprint and expiry. The guard restricts takeover to the states the
// decision table allows: an expired row, a stale IN_PROGRESS lock, or a
// FAILED row without a cacheable error. Returns false if another caller won
// the race or the row changed state.
func (r *IdempotencyRepository) Reacquire(ctx context.Context, id, fingerprint string, staleBefore, expiresAt time.Time) (bool, error) {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET request_fingerprint = ?, status = ?, response_code = NULL,
		    response_body = NULL, error_body = NULL,
		    locked_at = ?, expires_at = ?, updated_at = ?
		WHERE id = ?
		  AND (expires_at <= ?
		       OR (status = ? AND locked_at <= ?)
		       OR (status = ? AND (response_code IS NULL OR response_code >= 500)))
	`, fingerprint, models.IdempotencyInProgress, now, expiresAt.UTC(), now, id,
		now, models.IdempotencyInProgress, staleBefore.UTC(),
		models.IdempotencyFailed)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// Finalize writes the terminal status and cached response for a key. Only the
// IN_PROGRESS holder may finalize.
func (r *IdempotencyRepository) Finalize(ctx context.Context, id string, status models.IdempotencyStatus, code int, responseBody, errorBody []byte) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = ?, response_code = ?, response_body = ?, error_body = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, status, code, rawOrNil(responseBody), rawOrNil(errorBody),
		time.Now().UTC(), id, models.IdempotencyInProgress)
	return err
}

func scanIdempotencyKey(row *sql.Row) (*models.IdempotencyKey, error) {
	var k models.IdempotencyKey
	var responseBody, errorBody sql.NullString
	err := row.Scan(
		&k.ID, &k.OrganizationID, &k.Scope, &k.Key, &k.RequestFingerprint,
		&k.Status, &k.ResponseCode, &responseBody, &errorBody,
		&k.LockedAt, &k.ExpiresAt, &k.CreatedAt, &k.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if responseBody.Valid {
		k.ResponseBody = []byte(responseBody.String)
	}
	if errorBody.Valid {
		k.ErrorBody = []byte(errorBody.String)
	}
	return &k, nil
}
