package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sokoflow/sokoflow/internal/ai"
	"github.com/sokoflow/sokoflow/internal/channels"
	"github.com/sokoflow/sokoflow/internal/database/models"
	"github.com/sokoflow/sokoflow/internal/governance"
)

// maxWaitDelay caps wait-step suspension.
const maxWaitDelay = 24 * time.Hour

// StepContext is everything a handler gets about the step it runs.
type StepContext struct {
	OrganizationID string
	ExecutionID    string
	StepIndex      int
	Definition     models.StepDefinition
	Input          json.RawMessage // the execution's trigger input
}

// StepResult is a handler's outcome.
type StepResult struct {
	Output json.RawMessage
	// Wait suspends the execution via a delayed re-enqueue. Zero means
	// continue immediately.
	Wait time.Duration
	// Rerun re-executes this step on the next entry instead of advancing,
	// e.g. an approval still pending. Only meaningful with Wait > 0.
	Rerun bool
}

// Handler executes one step type. Handlers must be safe to call again for
// the same step: side effects go through the dedup ledger in the engine,
// not here.
type Handler interface {
	Type() string
	Execute(ctx context.Context, sc StepContext) (*StepResult, error)
}

// Registry maps step types to handlers.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler, replacing any previous handler for its type.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Type()] = h
}

// Get returns the handler for a step type.
func (r *Registry) Get(stepType string) (Handler, bool) {
	h, ok := r.handlers[stepType]
	return h, ok
}

// DefaultRegistry wires the built-in step types.
func DefaultRegistry(gov *governance.Service, provider ai.Provider, sender channels.Sender) *Registry {
	r := NewRegistry()
	r.Register(&aiProcessStep{gov: gov, provider: provider})
	r.Register(&sendMessageStep{gov: gov, sender: sender})
	r.Register(&updateRecordStep{})
	r.Register(&waitStep{})
	r.Register(&approvalStep{})
	return r
}

// aiProcessStep calls the AI provider, charging the daily AI quota.
type aiProcessStep struct {
	gov      *governance.Service
	provider ai.Provider
}

func (s *aiProcessStep) Type() string { return "ai_process" }

func (s *aiProcessStep) Execute(ctx context.Context, sc StepContext) (*StepResult, error) {
	var config struct {
		Capability   string `json:"capability"`
		Instructions string `json:"instructions"`
	}
	if len(sc.Definition.Config) > 0 {
		if err := json.Unmarshal(sc.Definition.Config, &config); err != nil {
			return nil, Permanent("ai_process config: %v", err)
		}
	}
	if config.Capability == "" {
		config.Capability = string(ai.CapabilityUnderstand)
	}

	if err := s.gov.ConsumeDailyAIQuota(ctx, sc.OrganizationID); err != nil {
		return nil, err
	}

	resp, err := s.provider.Process(ctx, ai.Request{
		Capability:   ai.Capability(config.Capability),
		Input:        sc.Input,
		Instructions: config.Instructions,
	})
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return &StepResult{Output: out}, nil
}

// sendMessageStep delivers one outbound message, charging the daily
// message quota.
type sendMessageStep struct {
	gov    *governance.Service
	sender channels.Sender
}

func (s *sendMessageStep) Type() string { return "send_message" }

func (s *sendMessageStep) Execute(ctx context.Context, sc StepContext) (*StepResult, error) {
	var msg channels.Message
	if err := json.Unmarshal(sc.Definition.Config, &msg); err != nil {
		return nil, Permanent("send_message config: %v", err)
	}
	if msg.To == "" {
		return nil, Permanent("send_message config: missing recipient")
	}

	if err := s.gov.ConsumeDailyMessageQuota(ctx, sc.OrganizationID); err != nil {
		return nil, err
	}

	receipt, err := s.sender.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(receipt)
	if err != nil {
		return nil, err
	}
	return &StepResult{Output: out}, nil
}

// updateRecordStep merges a patch into a record snapshot. The external
// record store is reached through later integrations; here the merged
// document is the step output.
type updateRecordStep struct{}

func (s *updateRecordStep) Type() string { return "update_record" }

func (s *updateRecordStep) Execute(ctx context.Context, sc StepContext) (*StepResult, error) {
	var config struct {
		Record map[string]any `json:"record"`
		Patch  map[string]any `json:"patch"`
	}
	if err := json.Unmarshal(sc.Definition.Config, &config); err != nil {
		return nil, Permanent("update_record config: %v", err)
	}
	if config.Record == nil {
		config.Record = make(map[string]any)
	}
	for k, v := range config.Patch {
		config.Record[k] = v
	}
	out, err := json.Marshal(config.Record)
	if err != nil {
		return nil, err
	}
	return &StepResult{Output: out}, nil
}

// waitStep suspends the execution for a configured duration. Without a
// positive waitMs it completes immediately.
type waitStep struct{}

func (s *waitStep) Type() string { return "wait" }

func (s *waitStep) Execute(ctx context.Context, sc StepContext) (*StepResult, error) {
	var config struct {
		WaitMs int64 `json:"waitMs"`
	}
	if len(sc.Definition.Config) > 0 {
		if err := json.Unmarshal(sc.Definition.Config, &config); err != nil {
			return nil, Permanent("wait config: %v", err)
		}
	}
	if config.WaitMs <= 0 {
		return &StepResult{Output: []byte(`{"waited":false}`)}, nil
	}
	delay := time.Duration(config.WaitMs) * time.Millisecond
	if delay > maxWaitDelay {
		delay = maxWaitDelay
	}
	return &StepResult{Output: []byte(`{"waited":true}`), Wait: delay}, nil
}

// approvalStep gates on a recorded decision in the trigger input; absent a
// decision it polls by suspension.
type approvalStep struct{}

func (s *approvalStep) Type() string { return "approval" }

func (s *approvalStep) Execute(ctx context.Context, sc StepContext) (*StepResult, error) {
	var config struct {
		DecisionField string `json:"decisionField"`
		PollMs        int64  `json:"pollMs"`
	}
	if len(sc.Definition.Config) > 0 {
		if err := json.Unmarshal(sc.Definition.Config, &config); err != nil {
			return nil, Permanent("approval config: %v", err)
		}
	}
	if config.DecisionField == "" {
		config.DecisionField = "approved"
	}
	if config.PollMs <= 0 {
		config.PollMs = 60000
	}

	var input map[string]any
	if len(sc.Input) > 0 {
		if err := json.Unmarshal(sc.Input, &input); err != nil {
			return nil, Permanent("approval input: %v", err)
		}
	}
	decision, present := input[config.DecisionField].(bool)
	if !present {
		delay := time.Duration(config.PollMs) * time.Millisecond
		if delay > maxWaitDelay {
			delay = maxWaitDelay
		}
		return &StepResult{Output: []byte(`{"pending":true}`), Wait: delay, Rerun: true}, nil
	}
	if !decision {
		return nil, Permanent("approval rejected")
	}
	return &StepResult{Output: []byte(`{"approved":true}`)}, nil
}
