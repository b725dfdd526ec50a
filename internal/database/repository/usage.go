package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sokoflow/sokoflow/internal/database/models"
)

// QuotaCounter names an incrementable daily usage counter.
type QuotaCounter string

const (
	QuotaWorkflowRuns QuotaCounter = "workflow_runs_count"
	QuotaMessages     QuotaCounter = "messages_sent_count"
	QuotaAIRequests   QuotaCounter = "ai_requests_count"
)

func (c QuotaCounter) valid() bool {
	switch c {
	case QuotaWorkflowRuns, QuotaMessages, QuotaAIRequests:
		return true
	}
	return false
}

// UsageRepository handles per-(organization, day) usage counters.
type UsageRepository struct {
	baseRepository
}

// NewUsageRepository creates a new UsageRepository.
func NewUsageRepository(db Querier) *UsageRepository {
	return &UsageRepository{baseRepository: newBaseRepository(db)}
}

// EnsureRow creates today's usage row if absent. A lost race against a
// concurrent creator is not an error.
func (r *UsageRepository) EnsureRow(ctx context.Context, orgID, usageDate string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO organization_usage (id, organization_id, usage_date, updated_at)
		VALUES (?, ?, ?, ?)
	`, uuid.New().String(), orgID, usageDate, time.Now().UTC())
	if isUniqueViolation(err) {
		return nil
	}
	return err
}

// Get retrieves the usage row for an organization-day.
func (r *UsageRepository) Get(ctx context.Context, orgID, usageDate string) (*models.OrganizationUsage, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, usage_date, workflow_runs_count,
		       messages_sent_count, ai_requests_count, concurrent_runs_current,
		       updated_at
		FROM organization_usage
		WHERE organization_id = ? AND usage_date = ?
	`, orgID, usageDate)

	var u models.OrganizationUsage
	err := row.Scan(&u.ID, &u.OrganizationID, &u.UsageDate, &u.WorkflowRunsCount,
		&u.MessagesSentCount, &u.AIRequestsCount, &u.ConcurrentRunsCurrent,
		&u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// IncrementIfBelow atomically increments the named counter only while it is
// below limit. Returns the new counter value and whether the increment was
// applied. The guard is part of the UPDATE itself, so concurrent callers for
// the same organization-day cannot both pass a nearly-exhausted quota.
func (r *UsageRepository) IncrementIfBelow(ctx context.Context, orgID, usageDate string, counter QuotaCounter, limit int) (int, bool, error) {
	if !counter.valid() {
		return 0, false, fmt.Errorf("unknown quota counter %q", counter)
	}
	if err := r.EnsureRow(ctx, orgID, usageDate); err != nil {
		return 0, false, err
	}

	col := string(counter)
	query := fmt.Sprintf(`
		UPDATE organization_usage
		SET %s = %s + 1, updated_at = ?
		WHERE organization_id = ? AND usage_date = ? AND %s < ?
	`, col, col, col)

	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), orgID, usageDate, limit)
	if err != nil {
		return 0, false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, false, err
	}

	current, err := r.counterValue(ctx, orgID, usageDate, col)
	if err != nil {
		return 0, false, err
	}
	return current, n > 0, nil
}

// AcquireSlot conditionally increments the concurrency counter, succeeding
// only while it is below limit. Single conditional UPDATE, no read-then-write.
func (r *UsageRepository) AcquireSlot(ctx context.Context, orgID, usageDate string, limit int) (bool, int, error) {
	if err := r.EnsureRow(ctx, orgID, usageDate); err != nil {
		return false, 0, err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE organization_usage
		SET concurrent_runs_current = concurrent_runs_current + 1, updated_at = ?
		WHERE organization_id = ? AND usage_date = ? AND concurrent_runs_current < ?
	`, time.Now().UTC(), orgID, usageDate, limit)
	if err != nil {
		return false, 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, 0, err
	}

	current, err := r.counterValue(ctx, orgID, usageDate, "concurrent_runs_current")
	if err != nil {
		return false, 0, err
	}
	return n > 0, current, nil
}

// ReleaseSlot decrements the concurrency counter, guarded so it never goes
// negative.
func (r *UsageRepository) ReleaseSlot(ctx context.Context, orgID, usageDate string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE organization_usage
		SET concurrent_runs_current = concurrent_runs_current - 1, updated_at = ?
		WHERE organization_id = ? AND usage_date = ? AND concurrent_runs_current > 0
	`, time.Now().UTC(), orgID, usageDate)
	return err
}

func (r *UsageRepository) counterValue(ctx context.Context, orgID, usageDate, col string) (int, error) {
	var v int
	query := fmt.Sprintf(`
		SELECT %s FROM organization_usage
		WHERE organization_id = ? AND usage_date = ?
	`, col)
	err := r.db.QueryRowContext(ctx, query, orgID, usageDate).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return v, err
}
