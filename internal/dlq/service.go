// Package dlq exposes operator actions over quarantined workflow steps:
// inspection, replay, and manual resolution.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sokoflow/sokoflow/internal/database/models"
	"github.com/sokoflow/sokoflow/internal/database/repository"
	"github.com/sokoflow/sokoflow/internal/queue"
	"github.com/sokoflow/sokoflow/internal/workflow"
	"github.com/sokoflow/sokoflow/pkg/logging"
	"github.com/sokoflow/sokoflow/pkg/metrics"
)

var (
	// ErrItemFinalized is returned for actions on RESOLVED or IGNORED items.
	ErrItemFinalized = errors.New("dead letter item already finalized")
	// ErrReasonRequired is returned when a manual resolution omits a reason.
	ErrReasonRequired = errors.New("resolution reason is required")
	// ErrInvalidStepIndex is returned for FROM_STEP replays outside
	// [0, quarantined step index].
	ErrInvalidStepIndex = errors.New("replay step index out of range")
)

// ReplayRequest carries operator replay parameters.
type ReplayRequest struct {
	Mode                workflow.ReplayMode `json:"mode" validate:"required,oneof=STEP_ONLY FROM_STEP"`
	FromStepIndex       int                 `json:"fromStepIndex"`
	OverrideRetryPolicy json.RawMessage     `json:"overrideRetryPolicy,omitempty"`
	RequestedByUserID   string              `json:"-"`
}

// Service coordinates dead-letter operations.
type Service struct {
	repos    *repository.Repositories
	enqueuer queue.Enqueuer
	logger   *logging.Logger
	metrics  *metrics.Registry
}

// NewService creates a DLQ service.
func NewService(repos *repository.Repositories, enqueuer queue.Enqueuer, logger *logging.Logger, reg *metrics.Registry) *Service {
	return &Service{
		repos:    repos,
		enqueuer: enqueuer,
		logger:   logger.WithModule("dlq"),
		metrics:  reg,
	}
}

// List retrieves dead-letter items for an organization.
func (s *Service) List(ctx context.Context, f repository.DLQFilter) ([]*models.WorkflowStepDLQItem, error) {
	return s.repos.DLQ.List(ctx, f)
}

// GetByID retrieves one dead-letter item scoped to an organization.
func (s *Service) GetByID(ctx context.Context, orgID, id string) (*models.WorkflowStepDLQItem, error) {
	item, err := s.repos.DLQ.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.OrganizationID != orgID {
		// Tenant mismatch is indistinguishable from absence.
		return nil, repository.ErrNotFound
	}
	return item, nil
}

// Replay marks the item REPLAYING and enqueues an execution job carrying the
// replay parameters. The workflow engine resolves the item when the replayed
// step succeeds.
func (s *Service) Replay(ctx context.Context, orgID, id string, req ReplayRequest) (*models.WorkflowStepDLQItem, error) {
	item, err := s.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if req.Mode == workflow.ReplayFromStep {
		if req.FromStepIndex < 0 || req.FromStepIndex > item.StepIndex {
			return nil, ErrInvalidStepIndex
		}
	}

	ok, err := s.repos.DLQ.MarkReplaying(ctx, id, req.RequestedByUserID)
	if err != nil {
		return nil, fmt.Errorf("mark replaying: %w", err)
	}
	if !ok {
		return nil, ErrItemFinalized
	}

	payload := &workflow.JobPayload{
		ExecutionID:   item.ExecutionID,
		CorrelationID: item.CorrelationID,
		Replay: &workflow.ReplaySpec{
			Mode:                req.Mode,
			FromStepIndex:       req.FromStepIndex,
			DLQItemID:           item.ID,
			OverrideRetryPolicy: req.OverrideRetryPolicy,
			RequestedByUserID:   req.RequestedByUserID,
		},
	}
	task, err := queue.NewTask(queue.TypeWorkflowExecute, payload)
	if err != nil {
		return nil, fmt.Errorf("replay task payload: %w", err)
	}
	if _, err := s.enqueuer.EnqueueTask(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue replay: %w", err)
	}

	s.metrics.Governance().RecordDLQReplay(item.StepType)
	s.logger.InfoContext(ctx, "dead letter item replay enqueued",
		"dlq_item_id", item.ID, "mode", string(req.Mode), "requested_by", req.RequestedByUserID)
	return s.GetByID(ctx, orgID, id)
}

// Resolve closes the item as RESOLVED with an operator-supplied reason.
func (s *Service) Resolve(ctx context.Context, orgID, id, by, reason string) error {
	return s.finalize(ctx, orgID, id, by, reason, s.repos.DLQ.Resolve)
}

// Ignore closes the item as IGNORED with an operator-supplied reason.
func (s *Service) Ignore(ctx context.Context, orgID, id, by, reason string) error {
	return s.finalize(ctx, orgID, id, by, reason, s.repos.DLQ.Ignore)
}

func (s *Service) finalize(ctx context.Context, orgID, id, by, reason string, fn func(context.Context, string, string, string) (bool, error)) error {
	if reason == "" {
		return ErrReasonRequired
	}
	if _, err := s.GetByID(ctx, orgID, id); err != nil {
		return err
	}
	ok, err := fn(ctx, id, by, reason)
	if err != nil {
		return err
	}
	if !ok {
		return ErrItemFinalized
	}
	s.refreshDepth(ctx)
	s.logger.InfoContext(ctx, "dead letter item finalized",
		"dlq_item_id", id, "by", by)
	return nil
}

func (s *Service) refreshDepth(ctx context.Context) {
	n, err := s.repos.DLQ.CountOpen(ctx)
	if err != nil {
		return
	}
	s.metrics.Governance().SetDLQDepth(n)
}
