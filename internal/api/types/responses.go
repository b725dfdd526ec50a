package types

import (
	"encoding/json"
	"time"

	"github.com/sokoflow/sokoflow/internal/database/models"
	"github.com/sokoflow/sokoflow/internal/pagination"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// WorkflowResponse represents a workflow definition.
type WorkflowResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Steps     json.RawMessage `json:"steps"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// WorkflowFromModel converts a workflow row to its API shape.
func WorkflowFromModel(w *models.Workflow) *WorkflowResponse {
	return &WorkflowResponse{
		ID:        w.ID,
		Name:      w.Name,
		Steps:     w.Steps,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

// TriggerResponse acknowledges an accepted execution.
type TriggerResponse struct {
	ExecutionID   string `json:"executionId"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// ExecutionResponse represents one workflow execution.
type ExecutionResponse struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflowId"`
	Status          string          `json:"status"`
	CurrentStep     int             `json:"currentStep"`
	IterationCount  int             `json:"iterationCount"`
	SafetyLimitCode string          `json:"safetyLimitCode,omitempty"`
	Output          json.RawMessage `json:"output,omitempty"`
	LastError       string          `json:"lastError,omitempty"`
	CorrelationID   string          `json:"correlationId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
}

// ExecutionFromModel converts an execution row to its API shape.
func ExecutionFromModel(e *models.WorkflowExecution) *ExecutionResponse {
	resp := &ExecutionResponse{
		ID:              e.ID,
		WorkflowID:      e.WorkflowID,
		Status:          string(e.Status),
		CurrentStep:     e.CurrentStep,
		IterationCount:  e.IterationCount,
		SafetyLimitCode: e.SafetyLimitCode.String,
		Output:          e.Output,
		LastError:       e.LastError.String,
		CorrelationID:   e.CorrelationID,
		CreatedAt:       e.CreatedAt,
	}
	if e.StartedAt.Valid {
		t := e.StartedAt.Time
		resp.StartedAt = &t
	}
	if e.CompletedAt.Valid {
		t := e.CompletedAt.Time
		resp.CompletedAt = &t
	}
	return resp
}

// StepResponse represents one step attempt record.
type StepResponse struct {
	StepIndex    int        `json:"stepIndex"`
	StepType     string     `json:"stepType"`
	Status       string     `json:"status"`
	AttemptCount int        `json:"attemptCount"`
	MaxRetries   int        `json:"maxRetries"`
	LastError    string     `json:"lastError,omitempty"`
	NextRetryAt  *time.Time `json:"nextRetryAt,omitempty"`
}

// StepFromModel converts a step row to its API shape.
func StepFromModel(s *models.WorkflowStep) *StepResponse {
	resp := &StepResponse{
		StepIndex:    s.StepIndex,
		StepType:     s.StepType,
		Status:       string(s.Status),
		AttemptCount: s.AttemptCount,
		MaxRetries:   s.MaxRetries,
		LastError:    s.LastError.String,
	}
	if s.NextRetryAt.Valid {
		t := s.NextRetryAt.Time
		resp.NextRetryAt = &t
	}
	return resp
}

// DLQItemResponse represents a dead-letter item.
type DLQItemResponse struct {
	ID             string          `json:"id"`
	ExecutionID    string          `json:"executionId"`
	StepIndex      int             `json:"stepIndex"`
	StepType       string          `json:"stepType"`
	Status         string          `json:"status"`
	FailureReason  string          `json:"failureReason"`
	ErrorCategory  string          `json:"errorCategory"`
	AttemptCount   int             `json:"attemptCount"`
	InputPayload   json.RawMessage `json:"inputPayload,omitempty"`
	StepConfig     json.RawMessage `json:"stepConfig,omitempty"`
	CorrelationID  string          `json:"correlationId,omitempty"`
	ReplayCount    int             `json:"replayCount"`
	LastReplayBy   string          `json:"lastReplayBy,omitempty"`
	ResolvedBy     string          `json:"resolvedBy,omitempty"`
	ResolvedReason string          `json:"resolvedReason,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// DLQItemFromModel converts a dead-letter row to its API shape.
func DLQItemFromModel(item *models.WorkflowStepDLQItem) *DLQItemResponse {
	return &DLQItemResponse{
		ID:             item.ID,
		ExecutionID:    item.ExecutionID,
		StepIndex:      item.StepIndex,
		StepType:       item.StepType,
		Status:         string(item.Status),
		FailureReason:  item.FailureReason,
		ErrorCategory:  item.ErrorCategory,
		AttemptCount:   item.AttemptCount,
		InputPayload:   item.InputPayload,
		StepConfig:     item.StepConfig,
		CorrelationID:  item.CorrelationID,
		ReplayCount:    item.ReplayCount,
		LastReplayBy:   item.LastReplayBy.String,
		ResolvedBy:     item.ResolvedBy.String,
		ResolvedReason: item.ResolvedReason.String,
		CreatedAt:      item.CreatedAt,
	}
}

// DLQListResponse is a paginated list of dead-letter items.
type DLQListResponse struct {
	Items    []*DLQItemResponse  `json:"items"`
	PageInfo pagination.PageInfo `json:"pageInfo"`
}

// UsageResponse represents one day's usage counters.
type UsageResponse struct {
	UsageDate             string `json:"usageDate"`
	WorkflowRunsCount     int    `json:"workflowRunsCount"`
	MessagesSentCount     int    `json:"messagesSentCount"`
	AIRequestsCount       int    `json:"aiRequestsCount"`
	ConcurrentRunsCurrent int    `json:"concurrentRunsCurrent"`
}

// ViolationResponse represents one recorded safety violation.
type ViolationResponse struct {
	ID        string          `json:"id"`
	LimitCode string          `json:"limitCode"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// WebhookAckResponse acknowledges an inbound webhook delivery.
type WebhookAckResponse struct {
	Accepted  bool `json:"accepted"`
	Duplicate bool `json:"duplicate"`
}
