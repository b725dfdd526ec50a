package payments

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokoflow/sokoflow/internal/database/repository"
	dbtesting "github.com/sokoflow/sokoflow/internal/database/testing"
	"github.com/sokoflow/sokoflow/internal/stepdedup"
	"github.com/sokoflow/sokoflow/pkg/logging"
	"github.com/sokoflow/sokoflow/pkg/metrics"
)

func newTestDedupLedger(t *testing.T) *stepdedup.Ledger {
	t.Helper()
	db := dbtesting.SetupTestDB(t)
	logger := logging.NewWithWriter(logging.DefaultConfig(), io.Discard)
	reg := metrics.NewRegistry(metrics.DefaultConfig())
	return stepdedup.NewLedger(repository.NewStepDedupRepository(db), logger, reg, stepdedup.DefaultConfig())
}

func TestConfirmationGuard_DuplicateTransaction(t *testing.T) {
	guard := NewConfirmationGuard(newTestDedupLedger(t))
	ctx := context.Background()

	clearance, err := guard.Check(ctx, "org-1", "momo", "tx-100")
	require.NoError(t, err)
	require.NoError(t, clearance.Commit(ctx, []byte(`{"status":"processed"}`)))

	_, err = guard.Check(ctx, "org-1", "momo", "tx-100")
	assert.ErrorIs(t, err, ErrDuplicateConfirmation)

	// A different transaction passes.
	_, err = guard.Check(ctx, "org-1", "momo", "tx-101")
	assert.NoError(t, err)
}

func TestConfirmationGuard_AbortAllowsRetry(t *testing.T) {
	guard := NewConfirmationGuard(newTestDedupLedger(t))
	ctx := context.Background()

	clearance, err := guard.Check(ctx, "org-1", "momo", "tx-100")
	require.NoError(t, err)
	require.NoError(t, clearance.Abort(ctx))

	_, err = guard.Check(ctx, "org-1", "momo", "tx-100")
	assert.NoError(t, err)
}

func TestRequestGuard_DuplicateOrder(t *testing.T) {
	guard := NewRequestGuard(newTestDedupLedger(t))
	ctx := context.Background()

	clearance, err := guard.Check(ctx, "org-1", "momo", "order-1", 1500, "+254700000001")
	require.NoError(t, err)
	require.NoError(t, clearance.Commit(ctx, []byte(`{"reference":"req-1"}`)))

	_, err = guard.Check(ctx, "org-1", "momo", "order-1", 1500, "+254700000001")
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	// A different amount for the same order is a distinct request.
	_, err = guard.Check(ctx, "org-1", "momo", "order-1", 2000, "+254700000001")
	assert.NoError(t, err)
}

func TestGuards_OrganizationsAreIndependent(t *testing.T) {
	guard := NewConfirmationGuard(newTestDedupLedger(t))
	ctx := context.Background()

	_, err := guard.Check(ctx, "org-1", "momo", "tx-100")
	require.NoError(t, err)

	_, err = guard.Check(ctx, "org-2", "momo", "tx-100")
	assert.NoError(t, err)
}
