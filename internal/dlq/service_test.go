package dlq

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokoflow/sokoflow/internal/database/models"
	"github.com/sokoflow/sokoflow/internal/database/repository"
	dbtesting "github.com/sokoflow/sokoflow/internal/database/testing"
	"github.com/sokoflow/sokoflow/internal/queue"
	"github.com/sokoflow/sokoflow/internal/workflow"
	"github.com/sokoflow/sokoflow/pkg/logging"
	"github.com/sokoflow/sokoflow/pkg/metrics"
)

type fakeEnqueuer struct {
	tasks []*queue.Task
}

func (f *fakeEnqueuer) EnqueueTask(ctx context.Context, task *queue.Task) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func (f *fakeEnqueuer) EnqueueIn(ctx context.Context, task *queue.Task, delay time.Duration) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func newTestService(t *testing.T) (*Service, *repository.Repositories, *fakeEnqueuer) {
	t.Helper()
	db := dbtesting.SetupTestDB(t)
	repos := repository.New(db)
	logger := logging.NewWithWriter(logging.DefaultConfig(), io.Discard)
	reg := metrics.NewRegistry(metrics.DefaultConfig())
	enqueuer := &fakeEnqueuer{}
	return NewService(repos, enqueuer, logger, reg), repos, enqueuer
}

func quarantine(t *testing.T, repos *repository.Repositories, org, stepID string) *models.WorkflowStepDLQItem {
	t.Helper()
	item := &models.WorkflowStepDLQItem{
		WorkflowStepID: stepID,
		ExecutionID:    "exec-1",
		OrganizationID: org,
		StepIndex:      2,
		StepType:       "send_message",
		FailureReason:  "provider unavailable",
		ErrorCategory:  workflow.CategoryTransient,
		AttemptCount:   6,
		CorrelationID:  "corr-1",
	}
	require.NoError(t, repos.DLQ.UpsertOpen(context.Background(), item))
	return item
}

func TestService_Replay_EnqueuesJobWithReplaySpec(t *testing.T) {
	svc, repos, enqueuer := newTestService(t)
	ctx := context.Background()
	item := quarantine(t, repos, "org-1", "step-1")

	got, err := svc.Replay(ctx, "org-1", item.ID, ReplayRequest{
		Mode:              workflow.ReplayStepOnly,
		RequestedByUserID: "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.DLQStatusReplaying, got.Status)
	assert.Equal(t, 1, got.ReplayCount)
	assert.Equal(t, "user-1", got.LastReplayBy.String)

	require.Len(t, enqueuer.tasks, 1)
	assert.Equal(t, queue.TypeWorkflowExecute, enqueuer.tasks[0].Type)

	payload, err := workflow.ParseJobPayload(enqueuer.tasks[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "exec-1", payload.ExecutionID)
	assert.Equal(t, "corr-1", payload.CorrelationID)
	require.NotNil(t, payload.Replay)
	assert.Equal(t, workflow.ReplayStepOnly, payload.Replay.Mode)
	assert.Equal(t, item.ID, payload.Replay.DLQItemID)
	assert.Equal(t, "user-1", payload.Replay.RequestedByUserID)
}

func TestService_Replay_FromStepIndexBounds(t *testing.T) {
	svc, repos, _ := newTestService(t)
	ctx := context.Background()
	item := quarantine(t, repos, "org-1", "step-1") // quarantined at index 2

	_, err := svc.Replay(ctx, "org-1", item.ID, ReplayRequest{
		Mode:          workflow.ReplayFromStep,
		FromStepIndex: 3,
	})
	assert.ErrorIs(t, err, ErrInvalidStepIndex)

	_, err = svc.Replay(ctx, "org-1", item.ID, ReplayRequest{
		Mode:          workflow.ReplayFromStep,
		FromStepIndex: -1,
	})
	assert.ErrorIs(t, err, ErrInvalidStepIndex)

	got, err := svc.Replay(ctx, "org-1", item.ID, ReplayRequest{
		Mode:          workflow.ReplayFromStep,
		FromStepIndex: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DLQStatusReplaying, got.Status)
}

func TestService_Replay_TenantScoped(t *testing.T) {
	svc, repos, enqueuer := newTestService(t)
	item := quarantine(t, repos, "org-1", "step-1")

	_, err := svc.Replay(context.Background(), "org-2", item.ID, ReplayRequest{
		Mode: workflow.ReplayStepOnly,
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Empty(t, enqueuer.tasks)
}

func TestService_ResolveRequiresReason(t *testing.T) {
	svc, repos, _ := newTestService(t)
	ctx := context.Background()
	item := quarantine(t, repos, "org-1", "step-1")

	assert.ErrorIs(t, svc.Resolve(ctx, "org-1", item.ID, "user-1", ""), ErrReasonRequired)

	require.NoError(t, svc.Resolve(ctx, "org-1", item.ID, "user-1", "fixed upstream"))
	got, err := repos.DLQ.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DLQStatusResolved, got.Status)
	assert.Equal(t, "user-1", got.ResolvedBy.String)
	assert.Equal(t, "fixed upstream", got.ResolvedReason.String)

	// Terminal items reject every further action.
	assert.ErrorIs(t, svc.Ignore(ctx, "org-1", item.ID, "user-2", "stale"), ErrItemFinalized)
	_, err = svc.Replay(ctx, "org-1", item.ID, ReplayRequest{Mode: workflow.ReplayStepOnly})
	assert.ErrorIs(t, err, ErrItemFinalized)
}

func TestService_IgnoreClosesItem(t *testing.T) {
	svc, repos, _ := newTestService(t)
	ctx := context.Background()
	item := quarantine(t, repos, "org-1", "step-1")

	require.NoError(t, svc.Ignore(ctx, "org-1", item.ID, "user-1", "test data"))
	got, err := repos.DLQ.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DLQStatusIgnored, got.Status)
}

func TestService_ListFiltersByOrganization(t *testing.T) {
	svc, repos, _ := newTestService(t)
	ctx := context.Background()
	quarantine(t, repos, "org-1", "step-1")
	quarantine(t, repos, "org-1", "step-2")
	quarantine(t, repos, "org-2", "step-3")

	items, err := svc.List(ctx, repository.DLQFilter{OrganizationID: "org-1", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
