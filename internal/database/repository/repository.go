// Package repository implements the repository pattern for data access.
//
// Every shared counter mutation here is a single atomic database operation:
// either a conditional UPDATE guarded by a still-valid precondition, or an
// INSERT relying on a unique constraint with explicit collision handling.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateKey is returned when an optimistic insert collides with an
// existing row. Callers re-read the conflicting row and branch on its state.
var ErrDuplicateKey = errors.New("duplicate key")

// Querier is an interface that can execute queries.
// Both *sql.DB and *sql.Tx implement this interface.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// baseRepository provides common functionality for all repositories.
type baseRepository struct {
	db Querier
}

// newBaseRepository creates a new baseRepository.
func newBaseRepository(db Querier) baseRepository {
	return baseRepository{db: db}
}

// isUniqueViolation reports whether err is a unique-constraint violation,
// for both the postgres and sqlite drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// modernc.org/sqlite reports constraint failures in the error message.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

// Repositories bundles all repositories over one database handle.
type Repositories struct {
	Plans        *PlanRepository
	OrgPlans     *OrganizationPlanRepository
	Usage        *UsageRepository
	Workflows    *WorkflowRepository
	Executions   *ExecutionRepository
	Steps        *StepRepository
	DLQ          *DLQRepository
	Idempotency  *IdempotencyRepository
	StepDedup    *StepDedupRepository
	WebhookDedup *WebhookDedupRepository
	Violations   *ViolationRepository
}

// New creates all repositories over the given database handle.
func New(db *sql.DB) *Repositories {
	return &Repositories{
		Plans:        NewPlanRepository(db),
		OrgPlans:     NewOrganizationPlanRepository(db),
		Usage:        NewUsageRepository(db),
		Workflows:    NewWorkflowRepository(db),
		Executions:   NewExecutionRepository(db),
		Steps:        NewStepRepository(db),
		DLQ:          NewDLQRepository(db),
		Idempotency:  NewIdempotencyRepository(db),
		StepDedup:    NewStepDedupRepository(db),
		WebhookDedup: NewWebhookDedupRepository(db),
		Violations:   NewViolationRepository(db),
	}
}
