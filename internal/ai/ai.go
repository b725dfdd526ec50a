// Package ai defines the AI provider boundary used by ai_process steps.
// The engine talks to this interface only; the production client lives
// behind it and tests use the Fake.
package ai

import (
	"context"
	"encoding/json"
)

// Capability names an AI processing mode.
type Capability string

const (
	CapabilityUnderstand      Capability = "understand"
	CapabilityClassify        Capability = "classify"
	CapabilitySummarize       Capability = "summarize"
	CapabilitySuggestDecision Capability = "suggest_decision"
	CapabilityExtract         Capability = "extract"
)

// Request is one AI processing call.
type Request struct {
	Capability Capability      `json:"capability"`
	Input      json.RawMessage `json:"input"`
	// Instructions optionally narrows the task, e.g. a classification
	// label set or extraction schema.
	Instructions string `json:"instructions,omitempty"`
}

// Response is the provider's result.
type Response struct {
	Data       json.RawMessage `json:"data"`
	Confidence float64         `json:"confidence"`
	TokensUsed int             `json:"tokensUsed"`
	Cost       float64         `json:"cost"`
}

// Provider processes AI requests.
type Provider interface {
	Process(ctx context.Context, req Request) (*Response, error)
}
