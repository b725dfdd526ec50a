package models

import (
	"encoding/json"
	"fmt"
)

// StepDefinition is one entry of a workflow's ordered step list, as authored
// by the tenant and stored on the Workflow row.
type StepDefinition struct {
	Type          string          `json:"type" validate:"required"`
	Name          string          `json:"name,omitempty"`
	MaxIterations int             `json:"maxIterations,omitempty"`
	JumpToStep    *int            `json:"jumpToStep,omitempty"`
	Config        json.RawMessage `json:"config,omitempty"`
	RetryPolicy   json.RawMessage `json:"retryPolicy,omitempty"`
}

// ParseSteps decodes a workflow's stored step list.
func ParseSteps(raw json.RawMessage) ([]StepDefinition, error) {
	var steps []StepDefinition
	if err := json.Unmarshal(raw, &steps); err != nil {
		return nil, fmt.Errorf("invalid workflow steps: %w", err)
	}
	return steps, nil
}
