// Package workflow implements the execution state machine: one asynq job
// per entry, all progress persisted, all waiting expressed as delayed
// re-enqueues.
package workflow

import (
	"encoding/json"
	"fmt"
)

// ReplayMode selects how a dead-lettered execution is resumed.
type ReplayMode string

const (
	// ReplayStepOnly re-runs the quarantined step and continues forward.
	ReplayStepOnly ReplayMode = "STEP_ONLY"
	// ReplayFromStep re-runs the execution from an earlier step index.
	ReplayFromStep ReplayMode = "FROM_STEP"
)

// ReplaySpec carries operator replay parameters inside a job payload.
type ReplaySpec struct {
	Mode                ReplayMode      `json:"mode"`
	FromStepIndex       int             `json:"fromStepIndex"`
	DLQItemID           string          `json:"dlqItemId,omitempty"`
	OverrideRetryPolicy json.RawMessage `json:"overrideRetryPolicy,omitempty"`
	RequestedByUserID   string          `json:"requestedByUserId,omitempty"`
}

// JobPayload is the body of a workflow:execute task. Deliberately small:
// the execution row is the source of truth, the payload only locates it.
type JobPayload struct {
	ExecutionID   string      `json:"executionId"`
	CorrelationID string      `json:"correlationId"`
	Replay        *ReplaySpec `json:"replay,omitempty"`
}

// ParseJobPayload decodes a task body.
func ParseJobPayload(raw []byte) (*JobPayload, error) {
	var p JobPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid job payload: %w", err)
	}
	if p.ExecutionID == "" {
		return nil, fmt.Errorf("invalid job payload: missing executionId")
	}
	return &p, nil
}

// PermanentError marks a step failure that no retry can fix; it goes to
// the DLQ without consuming the retry budget.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(format string, args ...any) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// Error categories recorded on dead-letter items.
const (
	CategoryTransient  = "TRANSIENT"
	CategoryPermanent  = "PERMANENT"
	CategoryGovernance = "GOVERNANCE"
)
