package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokoflow/sokoflow/internal/database/models"
	dbtesting "github.com/sokoflow/sokoflow/internal/database/testing"
)

func createExecution(t *testing.T, repo *ExecutionRepository, org string) *models.WorkflowExecution {
	t.Helper()
	e := models.NewWorkflowExecution(org, "wf-1", "corr-1", []byte(`{"orderId":"o-1"}`))
	require.NoError(t, repo.Create(context.Background(), e))
	return e
}

func TestExecutionRepository_MarkRunning(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewExecutionRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	e := createExecution(t, repo, "org-1")

	ok, err := repo.MarkRunning(ctx, e.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	// Duplicate job delivery: the execution is already RUNNING.
	ok, err = repo.MarkRunning(ctx, e.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, got.Status)
	assert.True(t, got.ConcurrencySlotHeld)
	assert.True(t, got.StartedAt.Valid)
}

func TestExecutionRepository_MarkRunningFromDLQPending(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	e := createExecution(t, repo, "org-1")
	require.NoError(t, repo.MarkDLQPending(ctx, e.ID))

	// Replay picks the parked execution back up.
	ok, err := repo.MarkRunning(ctx, e.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExecutionRepository_StartedAtSetOnce(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	e := createExecution(t, repo, "org-1")
	first := time.Now().UTC().Truncate(time.Second)

	ok, err := repo.MarkRunning(ctx, e.ID, first)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.RequeuePending(ctx, e.ID))

	ok, err = repo.MarkRunning(ctx, e.ID, first.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, first, got.StartedAt.Time, time.Second)
}

func TestExecutionRepository_TerminalTransitions(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	success := createExecution(t, repo, "org-1")
	require.NoError(t, repo.Complete(ctx, success.ID, []byte(`{"done":true}`)))
	got, err := repo.GetByID(ctx, success.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, got.Status)
	assert.False(t, got.ConcurrencySlotHeld)
	assert.True(t, got.CompletedAt.Valid)
	assert.JSONEq(t, `{"done":true}`, string(got.Output))

	failed := createExecution(t, repo, "org-1")
	require.NoError(t, repo.Fail(ctx, failed.ID, "step 2 references unknown step type"))
	got, err = repo.GetByID(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, got.Status)
	assert.Equal(t, "step 2 references unknown step type", got.LastError.String)

	limited := createExecution(t, repo, "org-1")
	require.NoError(t, repo.FailSafetyLimit(ctx, limited.ID, "MAX_EXECUTION_TIME_EXCEEDED"))
	got, err = repo.GetByID(ctx, limited.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailedSafetyLimit, got.Status)
	assert.Equal(t, "MAX_EXECUTION_TIME_EXCEEDED", got.SafetyLimitCode.String)
}

func TestExecutionRepository_ListByOrganization(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	a := createExecution(t, repo, "org-1")
	createExecution(t, repo, "org-1")
	createExecution(t, repo, "org-2")
	require.NoError(t, repo.Complete(ctx, a.ID, nil))

	all, err := repo.ListByOrganization(ctx, "org-1", "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	done, err := repo.ListByOrganization(ctx, "org-1", models.ExecutionStatusSuccess, 10, 0)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, a.ID, done[0].ID)
}

func TestStepRepository_UpsertAttemptPreservesHistory(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	executions := NewExecutionRepository(db)
	steps := NewStepRepository(db)
	ctx := context.Background()

	e := createExecution(t, executions, "org-1")

	s := &models.WorkflowStep{
		ExecutionID: e.ID,
		StepIndex:   0,
		StepType:    "send_message",
		Status:      models.StepStatusRunning,
		MaxRetries:  5,
	}
	firstID, err := steps.UpsertAttempt(ctx, s)
	require.NoError(t, err)

	require.NoError(t, steps.MarkRetrying(ctx, firstID, 1, time.Now().UTC().Add(2*time.Second), "timeout"))

	// Second attempt reuses the row and keeps the attempt counter.
	retry := &models.WorkflowStep{
		ExecutionID: e.ID,
		StepIndex:   0,
		StepType:    "send_message",
		Status:      models.StepStatusRunning,
		MaxRetries:  5,
	}
	secondID, err := steps.UpsertAttempt(ctx, retry)
	require.NoError(t, err)
	assert.Equal(t, firstID, secondID)
	assert.Equal(t, 1, retry.AttemptCount)

	got, err := steps.GetByExecutionAndIndex(ctx, e.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusRunning, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.True(t, got.FirstFailedAt.Valid)
}

func TestStepRepository_MarkDLQ(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	executions := NewExecutionRepository(db)
	steps := NewStepRepository(db)
	ctx := context.Background()

	e := createExecution(t, executions, "org-1")
	s := &models.WorkflowStep{
		ExecutionID: e.ID,
		StepIndex:   0,
		StepType:    "payment_request",
		Status:      models.StepStatusRunning,
		MaxRetries:  6,
	}
	id, err := steps.UpsertAttempt(ctx, s)
	require.NoError(t, err)

	require.NoError(t, steps.MarkDLQ(ctx, id, 7, "provider unreachable"))

	got, err := steps.GetByExecutionAndIndex(ctx, e.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusDLQ, got.Status)
	assert.Equal(t, 7, got.AttemptCount)
	assert.Equal(t, "provider unreachable", got.LastError.String)
	assert.True(t, got.CompletedAt.Valid)
}

func TestStepRepository_ListByExecution(t *testing.T) {
	db := dbtesting.SetupTestDB(t)
	executions := NewExecutionRepository(db)
	steps := NewStepRepository(db)
	ctx := context.Background()

	e := createExecution(t, executions, "org-1")
	for i := 0; i < 3; i++ {
		_, err := steps.UpsertAttempt(ctx, &models.WorkflowStep{
			ExecutionID: e.ID,
			StepIndex:   i,
			StepType:    "update_record",
			Status:      models.StepStatusRunning,
		})
		require.NoError(t, err)
	}

	list, err := steps.ListByExecution(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, s := range list {
		assert.Equal(t, i, s.StepIndex)
	}
}
