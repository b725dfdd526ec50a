package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// WebhookDedupRepository handles inbound webhook dedup rows.
type WebhookDedupRepository struct {
	baseRepository
}

// NewWebhookDedupRepository creates a new WebhookDedupRepository.
func NewWebhookDedupRepository(db Querier) *WebhookDedupRepository {
	return &WebhookDedupRepository{baseRepository: newBaseRepository(db)}
}

// Insert records a delivery, returning false when the same
// (organization, provider, dedupKey) was already seen.
func (r *WebhookDedupRepository) Insert(ctx context.Context, orgID, provider, dedupKey string) (bool, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_dedups (id, organization_id, provider, dedup_key, received_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.New().String(), orgID, provider, dedupKey, time.Now().UTC())
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
