// Package types defines API request and response types.
package types

import "encoding/json"

// CreateWorkflowRequest creates a workflow definition.
type CreateWorkflowRequest struct {
	Name  string          `json:"name" validate:"required,min=1,max=255"`
	Steps json.RawMessage `json:"steps" validate:"required"`
}

// TriggerWorkflowRequest starts one execution of a workflow.
type TriggerWorkflowRequest struct {
	Input         json.RawMessage `json:"input"`
	CorrelationID string          `json:"correlationId" validate:"omitempty,max=255"`
}

// ReplayDLQItemRequest replays a quarantined step.
type ReplayDLQItemRequest struct {
	Mode                string          `json:"mode" validate:"required,oneof=STEP_ONLY FROM_STEP"`
	FromStepIndex       int             `json:"fromStepIndex" validate:"gte=0"`
	OverrideRetryPolicy json.RawMessage `json:"overrideRetryPolicy"`
}

// ResolveDLQItemRequest closes a quarantined step with a reason.
type ResolveDLQItemRequest struct {
	Reason string `json:"reason" validate:"required,min=1,max=1000"`
}
