package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sokoflow/sokoflow/internal/database/models"
	"github.com/sokoflow/sokoflow/internal/database/repository"
	"github.com/sokoflow/sokoflow/internal/governance"
	"github.com/sokoflow/sokoflow/internal/queue"
	"github.com/sokoflow/sokoflow/internal/retry"
	"github.com/sokoflow/sokoflow/internal/stepdedup"
	"github.com/sokoflow/sokoflow/pkg/logging"
	"github.com/sokoflow/sokoflow/pkg/metrics"
)

// Control steps have no external side effects and bypass the dedup ledger.
var controlSteps = map[string]bool{
	"wait":     true,
	"approval": true,
}

// Engine drives workflow executions. One ExecuteWorkflow call handles one
// queue delivery; every exit either finalizes the execution or schedules
// the next delivery.
type Engine struct {
	repos    *repository.Repositories
	gov      *governance.Service
	dedup    *stepdedup.Ledger
	registry *Registry
	enqueuer queue.Enqueuer
	logger   *logging.Logger
	metrics  *metrics.Registry
	rand     func() float64
}

// NewEngine creates a workflow engine.
func NewEngine(repos *repository.Repositories, gov *governance.Service, dedup *stepdedup.Ledger, registry *Registry, enqueuer queue.Enqueuer, logger *logging.Logger, reg *metrics.Registry) *Engine {
	return &Engine{
		repos:    repos,
		gov:      gov,
		dedup:    dedup,
		registry: registry,
		enqueuer: enqueuer,
		logger:   logger.WithModule("workflow"),
		metrics:  reg,
		rand:     rand.Float64,
	}
}

// HandleTask is the asynq handler for workflow:execute.
func (e *Engine) HandleTask(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseJobPayload(task.Payload())
	if err != nil {
		// Malformed payloads cannot succeed on redelivery.
		e.logger.ErrorContext(ctx, "dropping malformed workflow job", "error", err)
		return nil
	}
	return e.ExecuteWorkflow(ctx, payload)
}

// Enqueue schedules an execution for processing after the given delay.
func (e *Engine) Enqueue(ctx context.Context, payload *JobPayload, delay time.Duration) error {
	task, err := queue.NewTask(queue.TypeWorkflowExecute, payload)
	if err != nil {
		return fmt.Errorf("workflow task payload: %w", err)
	}
	if delay > 0 {
		_, err = e.enqueuer.EnqueueIn(ctx, task, delay)
	} else {
		_, err = e.enqueuer.EnqueueTask(ctx, task)
	}
	return err
}

// ExecuteWorkflow runs one delivery of an execution job. Returning nil
// acknowledges the delivery; all retry scheduling is explicit.
func (e *Engine) ExecuteWorkflow(ctx context.Context, payload *JobPayload) error {
	ctx = logging.WithExecutionID(ctx, payload.ExecutionID)
	if payload.CorrelationID != "" {
		ctx = logging.WithCorrelationID(ctx, payload.CorrelationID)
	}

	exec, err := e.repos.Executions.GetByID(ctx, payload.ExecutionID)
	if errors.Is(err, repository.ErrNotFound) {
		e.logger.WarnContext(ctx, "dropping job for unknown execution")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load execution: %w", err)
	}
	ctx = logging.WithOrganizationID(ctx, exec.OrganizationID)

	// Duplicate delivery of a finished execution is a no-op.
	if exec.Status.Terminal() {
		return nil
	}

	// A parked execution moves again only through an operator replay. A
	// redelivered retry job must not re-run the quarantined step.
	if exec.Status == models.ExecutionStatusDLQPending && payload.Replay == nil {
		return nil
	}

	wf, err := e.repos.Workflows.GetByID(ctx, exec.WorkflowID)
	if errors.Is(err, repository.ErrNotFound) {
		return e.failStructural(ctx, exec, "workflow definition missing")
	}
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	steps, err := models.ParseSteps(wf.Steps)
	if err != nil {
		return e.failStructural(ctx, exec, err.Error())
	}

	var dlqItem *models.WorkflowStepDLQItem
	startStep := exec.CurrentStep
	if payload.Replay != nil {
		dlqItem, startStep, err = e.prepareReplay(ctx, exec, payload.Replay)
		if err != nil {
			return err
		}
		if dlqItem == nil && payload.Replay.DLQItemID != "" {
			// Item already finalized by another operator; nothing to do.
			return nil
		}
	}

	limits := e.gov.ResolveEffectiveLimits(ctx, exec.OrganizationID)

	if !exec.ConcurrencySlotHeld {
		acq, err := e.gov.TryAcquireConcurrentRunSlot(ctx, exec.OrganizationID)
		if err != nil {
			return fmt.Errorf("acquire run slot: %w", err)
		}
		if !acq.Acquired {
			// Backpressure, not a failure: try again shortly. Does not
			// consume any step's retry budget.
			return e.Enqueue(ctx, payload, acq.RetryDelay)
		}
	}

	now := time.Now().UTC()
	ok, err := e.repos.Executions.MarkRunning(ctx, exec.ID, now)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if !ok {
		// Another worker holds this execution; give the slot back if we
		// just took it.
		if !exec.ConcurrencySlotHeld {
			e.releaseSlot(ctx, exec.OrganizationID)
		}
		return nil
	}
	exec.ConcurrencySlotHeld = true
	if !exec.StartedAt.Valid {
		exec.StartedAt.Time, exec.StartedAt.Valid = now, true
	}
	e.metrics.Workflow().IncActive(exec.OrganizationID)
	defer e.metrics.Workflow().DecActive(exec.OrganizationID)

	return e.run(ctx, exec, steps, startStep, limits, payload, dlqItem)
}

// run advances the execution until it finishes, suspends or fails.
func (e *Engine) run(ctx context.Context, exec *models.WorkflowExecution, steps []models.StepDefinition, stepIndex int, limits governance.EffectiveLimits, payload *JobPayload, dlqItem *models.WorkflowStepDLQItem) error {
	iteration := exec.IterationCount
	var lastOutput json.RawMessage

	for {
		if stepIndex >= len(steps) {
			return e.complete(ctx, exec, lastOutput, dlqItem, payload)
		}

		elapsed := time.Since(exec.StartedAt.Time)
		if elapsed > time.Duration(limits.MaxExecutionTimeMs)*time.Millisecond {
			return e.failSafety(ctx, exec, governance.CodeWorkflowTimeout, map[string]any{
				"elapsedMs": elapsed.Milliseconds(),
				"limitMs":   limits.MaxExecutionTimeMs,
			})
		}

		iteration++
		if iteration > limits.MaxStepIterations {
			return e.failSafety(ctx, exec, governance.CodeStepIterationLimitExceeded, map[string]any{
				"iterations": iteration,
				"limit":      limits.MaxStepIterations,
			})
		}

		def := steps[stepIndex]
		handler, known := e.registry.Get(def.Type)
		if !known {
			return e.failStructural(ctx, exec,
				fmt.Sprintf("step %d references unknown step type %q", stepIndex, def.Type))
		}

		policy, err := e.stepPolicy(def, payload, dlqItem, stepIndex)
		if err != nil {
			return e.failStructural(ctx, exec, err.Error())
		}

		step := &models.WorkflowStep{
			ExecutionID:         exec.ID,
			StepIndex:           stepIndex,
			StepType:            def.Type,
			Status:              models.StepStatusRunning,
			MaxRetries:          policy.MaxRetries,
			RetryPolicyOverride: def.RetryPolicy,
		}
		stepID, err := e.repos.Steps.UpsertAttempt(ctx, step)
		if err != nil {
			return fmt.Errorf("record step attempt: %w", err)
		}

		stepLogger := e.logger.WithStep(stepIndex, def.Type)
		output, outcome, stepErr := e.executeStep(ctx, exec, def, stepIndex, handler, stepLogger)

		switch outcome {
		case stepSucceeded:
			if err := e.repos.Steps.MarkSuccess(ctx, stepID); err != nil {
				return fmt.Errorf("finalize step: %w", err)
			}
			lastOutput = output
			if dlqItem != nil && stepIndex == dlqItem.StepIndex {
				e.resolveDLQItem(ctx, dlqItem, payload)
				dlqItem = nil
			}
			next := stepIndex + 1
			if def.JumpToStep != nil {
				next = *def.JumpToStep
			}
			if err := e.repos.Executions.AdvanceStep(ctx, exec.ID, next, iteration); err != nil {
				return fmt.Errorf("advance execution: %w", err)
			}
			exec.IterationCount = iteration
			stepIndex = next
			continue

		case stepWaiting:
			next := stepIndex
			rerun := false
			var wait time.Duration
			if res, ok := stepErr.(*waitSignal); ok {
				wait, rerun = res.delay, res.rerun
			}
			if !rerun {
				if err := e.repos.Steps.MarkSuccess(ctx, stepID); err != nil {
					return fmt.Errorf("finalize step: %w", err)
				}
				if dlqItem != nil && stepIndex == dlqItem.StepIndex {
					e.resolveDLQItem(ctx, dlqItem, payload)
					dlqItem = nil
				}
				next = stepIndex + 1
			}
			if err := e.repos.Executions.AdvanceStep(ctx, exec.ID, next, iteration); err != nil {
				return fmt.Errorf("advance execution: %w", err)
			}
			if err := e.repos.Executions.RequeuePending(ctx, exec.ID); err != nil {
				return fmt.Errorf("requeue execution: %w", err)
			}
			resume := &JobPayload{ExecutionID: exec.ID, CorrelationID: exec.CorrelationID}
			if rerun {
				// The replayed step has not finished yet; keep the replay
				// parameters for the next entry.
				resume.Replay = payload.Replay
			}
			return e.Enqueue(ctx, resume, wait)

		case stepLockedElsewhere:
			// Another worker is mid-side-effect on this exact step; come
			// back after a policy delay without consuming an attempt.
			if err := e.repos.Executions.RequeuePending(ctx, exec.ID); err != nil {
				return fmt.Errorf("requeue execution: %w", err)
			}
			return e.Enqueue(ctx, payload, policy.DelayFor(1, e.rand))

		default: // stepFailed
			return e.handleStepFailure(ctx, exec, def, step, stepID, policy, stepErr, payload)
		}
	}
}

type stepOutcome int

const (
	stepSucceeded stepOutcome = iota
	stepFailed
	stepWaiting
	stepLockedElsewhere
)

// waitSignal smuggles a suspension through the outcome path.
type waitSignal struct {
	delay time.Duration
	rerun bool
}

func (w *waitSignal) Error() string { return "waiting" }

// executeStep runs one handler under the dedup ledger.
func (e *Engine) executeStep(ctx context.Context, exec *models.WorkflowExecution, def models.StepDefinition, stepIndex int, handler Handler, logger *logging.Logger) (json.RawMessage, stepOutcome, error) {
	sc := StepContext{
		OrganizationID: exec.OrganizationID,
		ExecutionID:    exec.ID,
		StepIndex:      stepIndex,
		Definition:     def,
		Input:          exec.Input,
	}

	if controlSteps[def.Type] {
		res, err := handler.Execute(ctx, sc)
		if err != nil {
			return nil, stepFailed, err
		}
		if res.Wait > 0 {
			return res.Output, stepWaiting, &waitSignal{delay: res.Wait, rerun: res.Rerun}
		}
		return res.Output, stepSucceeded, nil
	}

	dedupInput := dedupIdentity(def, exec.Input)
	acq, err := e.dedup.Acquire(ctx, exec.OrganizationID, exec.ID,
		fmt.Sprintf("step-%d", stepIndex), dedupInput)
	if err != nil {
		return nil, stepFailed, err
	}

	switch acq.Outcome {
	case stepdedup.OutcomeDone:
		logger.InfoContext(ctx, "step side effect already recorded, reusing result")
		return acq.Result, stepSucceeded, nil

	case stepdedup.OutcomeLocked:
		return nil, stepLockedElsewhere, nil
	}

	start := time.Now()
	res, err := handler.Execute(ctx, sc)
	e.metrics.Workflow().RecordStep(def.Type, time.Since(start))
	if err != nil {
		if releaseErr := e.dedup.Release(ctx, acq.LockID); releaseErr != nil {
			logger.ErrorContext(ctx, "dedup lock release failed", "error", releaseErr)
		}
		return nil, stepFailed, err
	}

	if err := e.dedup.MarkDone(ctx, acq.LockID, res.Output); err != nil {
		return nil, stepFailed, err
	}
	if res.Wait > 0 {
		return res.Output, stepWaiting, &waitSignal{delay: res.Wait, rerun: res.Rerun}
	}
	return res.Output, stepSucceeded, nil
}

// dedupIdentity derives the side-effect identity from the step's config and
// the execution input.
func dedupIdentity(def models.StepDefinition, input json.RawMessage) json.RawMessage {
	doc := map[string]json.RawMessage{}
	if len(def.Config) > 0 {
		doc["config"] = def.Config
	}
	if len(input) > 0 {
		doc["input"] = input
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return def.Config
	}
	return raw
}

// handleStepFailure schedules a retry or hands the step to the DLQ.
func (e *Engine) handleStepFailure(ctx context.Context, exec *models.WorkflowExecution, def models.StepDefinition, step *models.WorkflowStep, stepID string, policy retry.Policy, stepErr error, payload *JobPayload) error {
	if code, ok := governance.ViolationCode(stepErr); ok {
		// Quota violations are already recorded by the governance service
		// at the point of rejection.
		if err := e.repos.Steps.MarkFailed(ctx, stepID, stepErr.Error()); err != nil {
			return fmt.Errorf("finalize step: %w", err)
		}
		return e.finishSafetyLimit(ctx, exec, code)
	}

	attempt := step.AttemptCount + 1
	category := CategoryTransient
	var perm *PermanentError
	if errors.As(stepErr, &perm) {
		category = CategoryPermanent
	}

	retryable := category == CategoryTransient && attempt <= policy.MaxRetries
	if retryable {
		delay := policy.DelayFor(attempt, e.rand)
		if err := e.repos.Steps.MarkRetrying(ctx, stepID, attempt,
			time.Now().UTC().Add(delay), stepErr.Error()); err != nil {
			return fmt.Errorf("record step retry: %w", err)
		}
		if err := e.repos.Executions.RequeuePending(ctx, exec.ID); err != nil {
			return fmt.Errorf("requeue execution: %w", err)
		}
		e.metrics.Workflow().RecordStepRetry(def.Type)
		e.logger.WithStep(step.StepIndex, def.Type).WarnContext(ctx, "step failed, retry scheduled",
			"attempt", attempt, "max_retries", policy.MaxRetries, "delay", delay, "error", stepErr)
		return e.Enqueue(ctx, payload, delay)
	}

	// Budget exhausted or permanently broken: quarantine.
	if err := e.repos.Steps.MarkDLQ(ctx, stepID, attempt, stepErr.Error()); err != nil {
		return fmt.Errorf("finalize failed step: %w", err)
	}
	item := &models.WorkflowStepDLQItem{
		WorkflowStepID: stepID,
		ExecutionID:    exec.ID,
		OrganizationID: exec.OrganizationID,
		StepIndex:      step.StepIndex,
		StepType:       def.Type,
		FailureReason:  stepErr.Error(),
		ErrorCategory:  category,
		AttemptCount:   attempt,
		InputPayload:   exec.Input,
		StepConfig:     def.Config,
		CorrelationID:  exec.CorrelationID,
	}
	if err := e.repos.DLQ.UpsertOpen(ctx, item); err != nil {
		return fmt.Errorf("quarantine step: %w", err)
	}
	if err := e.repos.Executions.MarkDLQPending(ctx, exec.ID); err != nil {
		return fmt.Errorf("park execution: %w", err)
	}
	e.releaseSlot(ctx, exec.OrganizationID)
	e.metrics.Governance().RecordDLQItem(category)
	e.refreshDLQDepth(ctx)
	e.logger.WithStep(step.StepIndex, def.Type).ErrorContext(ctx, "step quarantined to dead letter queue",
		"attempt", attempt, "dlq_item_id", item.ID, "error", stepErr)
	return nil
}

// prepareReplay validates the replay request against its DLQ item and
// returns the start index.
func (e *Engine) prepareReplay(ctx context.Context, exec *models.WorkflowExecution, replay *ReplaySpec) (*models.WorkflowStepDLQItem, int, error) {
	if replay.DLQItemID == "" {
		return nil, exec.CurrentStep, nil
	}
	item, err := e.repos.DLQ.GetByID(ctx, replay.DLQItemID)
	if errors.Is(err, repository.ErrNotFound) {
		e.logger.WarnContext(ctx, "replay references unknown dead letter item",
			"dlq_item_id", replay.DLQItemID)
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load dead letter item: %w", err)
	}
	if item.Status != models.DLQStatusReplaying {
		return nil, 0, nil
	}

	// Rewind only on the first entry. Later entries of the same replay
	// (retries, waits) resume from the persisted position.
	start := exec.CurrentStep
	if exec.Status == models.ExecutionStatusDLQPending {
		start = item.StepIndex
		if replay.Mode == ReplayFromStep {
			start = replay.FromStepIndex
		}
	}
	return item, start, nil
}

// stepPolicy resolves the retry policy for a step, applying any operator
// override when replaying that exact step.
func (e *Engine) stepPolicy(def models.StepDefinition, payload *JobPayload, dlqItem *models.WorkflowStepDLQItem, stepIndex int) (retry.Policy, error) {
	policy, err := retry.ForStepType(def.Type).Merge(def.RetryPolicy)
	if err != nil {
		return policy, err
	}
	if payload.Replay != nil && dlqItem != nil && stepIndex == dlqItem.StepIndex {
		policy, err = policy.Merge(payload.Replay.OverrideRetryPolicy)
		if err != nil {
			return policy, err
		}
	}
	return policy, nil
}

func (e *Engine) resolveDLQItem(ctx context.Context, item *models.WorkflowStepDLQItem, payload *JobPayload) {
	by := "system"
	if payload.Replay != nil && payload.Replay.RequestedByUserID != "" {
		by = payload.Replay.RequestedByUserID
	}
	ok, err := e.repos.DLQ.Resolve(ctx, item.ID, by, "replay succeeded")
	if err != nil {
		e.logger.ErrorContext(ctx, "dead letter item resolution failed",
			"dlq_item_id", item.ID, "error", err)
		return
	}
	if ok {
		e.refreshDLQDepth(ctx)
		e.logger.InfoContext(ctx, "dead letter item resolved by replay", "dlq_item_id", item.ID)
	}
}

func (e *Engine) complete(ctx context.Context, exec *models.WorkflowExecution, output json.RawMessage, dlqItem *models.WorkflowStepDLQItem, payload *JobPayload) error {
	if err := e.repos.Executions.Complete(ctx, exec.ID, output); err != nil {
		return fmt.Errorf("complete execution: %w", err)
	}
	if dlqItem != nil {
		e.resolveDLQItem(ctx, dlqItem, payload)
	}
	e.releaseSlot(ctx, exec.OrganizationID)
	e.finishMetrics(exec, models.ExecutionStatusSuccess)
	e.logger.InfoContext(ctx, "workflow execution completed")
	return nil
}

func (e *Engine) failStructural(ctx context.Context, exec *models.WorkflowExecution, reason string) error {
	if err := e.repos.Executions.Fail(ctx, exec.ID, reason); err != nil {
		return fmt.Errorf("fail execution: %w", err)
	}
	if exec.ConcurrencySlotHeld {
		e.releaseSlot(ctx, exec.OrganizationID)
	}
	e.finishMetrics(exec, models.ExecutionStatusFailed)
	e.logger.ErrorContext(ctx, "workflow execution failed", "reason", reason)
	return nil
}

func (e *Engine) failSafety(ctx context.Context, exec *models.WorkflowExecution, code string, details map[string]any) error {
	e.gov.RecordSafetyViolation(ctx, exec.OrganizationID, code, details)
	return e.finishSafetyLimit(ctx, exec, code)
}

func (e *Engine) finishSafetyLimit(ctx context.Context, exec *models.WorkflowExecution, code string) error {
	if err := e.repos.Executions.FailSafetyLimit(ctx, exec.ID, code); err != nil {
		return fmt.Errorf("fail execution: %w", err)
	}
	e.releaseSlot(ctx, exec.OrganizationID)
	e.finishMetrics(exec, models.ExecutionStatusFailedSafetyLimit)
	e.logger.ErrorContext(ctx, "workflow execution stopped by safety limit", "limit_code", code)
	return nil
}

func (e *Engine) releaseSlot(ctx context.Context, orgID string) {
	if err := e.gov.ReleaseConcurrentRunSlot(ctx, orgID); err != nil {
		e.logger.ErrorContext(ctx, "run slot release failed",
			"organization_id", orgID, "error", err)
	}
}

func (e *Engine) finishMetrics(exec *models.WorkflowExecution, status models.ExecutionStatus) {
	var elapsed time.Duration
	if exec.StartedAt.Valid {
		elapsed = time.Since(exec.StartedAt.Time)
	}
	e.metrics.Workflow().RecordExecution(string(status), elapsed)
}

func (e *Engine) refreshDLQDepth(ctx context.Context) {
	n, err := e.repos.DLQ.CountOpen(ctx)
	if err != nil {
		return
	}
	e.metrics.Governance().SetDLQDepth(n)
}
