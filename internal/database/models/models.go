// Package models defines domain models for the database layer.
package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending           ExecutionStatus = "PENDING"
	ExecutionStatusRunning           ExecutionStatus = "RUNNING"
	ExecutionStatusSuccess           ExecutionStatus = "SUCCESS"
	ExecutionStatusFailed            ExecutionStatus = "FAILED"
	ExecutionStatusFailedSafetyLimit ExecutionStatus = "FAILED_SAFETY_LIMIT"
	ExecutionStatusDLQPending        ExecutionStatus = "DLQ_PENDING"
)

// Terminal reports whether the status is a terminal state.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusSuccess, ExecutionStatusFailed, ExecutionStatusFailedSafetyLimit:
		return true
	}
	return false
}

// StepStatus represents the state of a single workflow step attempt.
type StepStatus string

const (
	StepStatusRunning  StepStatus = "RUNNING"
	StepStatusSuccess  StepStatus = "SUCCESS"
	StepStatusRetrying StepStatus = "RETRYING"
	StepStatusFailed   StepStatus = "FAILED"
	StepStatusDLQ      StepStatus = "DLQ"
)

// DLQStatus represents the state of a dead-letter item.
type DLQStatus string

const (
	DLQStatusOpen      DLQStatus = "OPEN"
	DLQStatusReplaying DLQStatus = "REPLAYING"
	DLQStatusResolved  DLQStatus = "RESOLVED"
	DLQStatusIgnored   DLQStatus = "IGNORED"
)

// IdempotencyStatus represents the state of an idempotency key.
type IdempotencyStatus string

const (
	IdempotencyInProgress IdempotencyStatus = "IN_PROGRESS"
	IdempotencyCompleted  IdempotencyStatus = "COMPLETED"
	IdempotencyFailed     IdempotencyStatus = "FAILED"
)

// DedupStatus represents the state of a step dedup lock.
type DedupStatus string

const (
	DedupLocked DedupStatus = "LOCKED"
	DedupDone   DedupStatus = "DONE"
)

// Plan is a named bundle of safety limits assignable to organizations.
type Plan struct {
	ID                   string
	Name                 string
	MaxExecutionTimeMs   int64
	MaxStepIterations    int
	MaxWorkflowSteps     int
	MaxDailyWorkflowRuns int
	MaxDailyMessages     int
	MaxDailyAIRequests   int
	MaxConcurrentRuns    int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// OrganizationPlan is the single active plan assignment for an organization,
// optionally carrying partial per-field limit overrides.
type OrganizationPlan struct {
	ID             string
	OrganizationID string
	PlanID         string
	OverrideConfig json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrganizationUsage holds per-(organization, UTC day) counters. Mutated only
// through atomic increment/decrement operations.
type OrganizationUsage struct {
	ID                    string
	OrganizationID        string
	UsageDate             string // YYYY-MM-DD, UTC
	WorkflowRunsCount     int
	MessagesSentCount     int
	AIRequestsCount       int
	ConcurrentRunsCurrent int
	UpdatedAt             time.Time
}

// Workflow is a tenant-defined automation workflow: an ordered list of steps.
type Workflow struct {
	ID             string
	OrganizationID string
	Name           string
	Steps          json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WorkflowExecution is one run of a workflow.
type WorkflowExecution struct {
	ID                  string
	OrganizationID      string
	WorkflowID          string
	Status              ExecutionStatus
	CurrentStep         int
	IterationCount      int
	ConcurrencySlotHeld bool
	SafetyLimitCode     sql.NullString
	Input               json.RawMessage
	Output              json.RawMessage
	LastError           sql.NullString
	CorrelationID       string
	CreatedAt           time.Time
	StartedAt           sql.NullTime
	CompletedAt         sql.NullTime
}

// WorkflowStep is one step attempt record per (executionID, stepIndex).
// Re-upserted on each attempt, never duplicated.
type WorkflowStep struct {
	ID                  string
	ExecutionID         string
	StepIndex           int
	StepType            string
	Status              StepStatus
	AttemptCount        int
	MaxRetries          int
	NextRetryAt         sql.NullTime
	FirstFailedAt       sql.NullTime
	LastFailedAt        sql.NullTime
	RetryPolicyOverride json.RawMessage
	LastError           sql.NullString
	StartedAt           time.Time
	CompletedAt         sql.NullTime
}

// WorkflowStepDLQItem is a quarantined step awaiting operator action.
type WorkflowStepDLQItem struct {
	ID             string
	WorkflowStepID string
	ExecutionID    string
	OrganizationID string
	StepIndex      int
	StepType       string
	Status         DLQStatus
	FailureReason  string
	ErrorCategory  string
	AttemptCount   int
	InputPayload   json.RawMessage
	StepConfig     json.RawMessage
	CorrelationID  string
	ReplayCount    int
	LastReplayAt   sql.NullTime
	LastReplayBy   sql.NullString
	ResolvedBy     sql.NullString
	ResolvedReason sql.NullString
	ResolvedAt     sql.NullTime
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IdempotencyKey deduplicates externally retried mutating API calls,
// keyed by (organizationID, scope, key).
type IdempotencyKey struct {
	ID                 string
	OrganizationID     string
	Scope              string
	Key                string
	RequestFingerprint string
	Status             IdempotencyStatus
	ResponseCode       sql.NullInt32
	ResponseBody       json.RawMessage
	ErrorBody          json.RawMessage
	LockedAt           time.Time
	ExpiresAt          time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// StepDedup deduplicates a single workflow step's side effect across retried
// job executions, keyed by (organizationID, workflowRunID, stepKey, inputHash).
type StepDedup struct {
	ID             string
	OrganizationID string
	WorkflowRunID  string
	StepKey        string
	InputHash      string
	Status         DedupStatus
	Result         json.RawMessage
	LockedAt       time.Time
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// WebhookDedup is an append-only dedup row for inbound provider callbacks.
type WebhookDedup struct {
	ID             string
	OrganizationID string
	Provider       string
	DedupKey       string
	ReceivedAt     time.Time
}

// SafetyViolation is an audit row recording a breached governance limit.
type SafetyViolation struct {
	ID             string
	OrganizationID string
	LimitCode      string
	Details        json.RawMessage
	CreatedAt      time.Time
}

// NewWorkflowExecution creates a PENDING execution with sensible defaults.
func NewWorkflowExecution(orgID, workflowID, correlationID string, input json.RawMessage) *WorkflowExecution {
	return &WorkflowExecution{
		OrganizationID: orgID,
		WorkflowID:     workflowID,
		Status:         ExecutionStatusPending,
		Input:          input,
		CorrelationID:  correlationID,
		CreatedAt:      time.Now().UTC(),
	}
}

// UsageDate formats a time as the UTC day key used by OrganizationUsage.
func UsageDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
