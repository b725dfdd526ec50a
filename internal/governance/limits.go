package governance

import (
	"encoding/json"
	"fmt"

	"github.com/sokoflow/sokoflow/internal/database/models"
)

// EffectiveLimits is the merged result of an organization's plan and its
// per-field overrides.
type EffectiveLimits struct {
	MaxExecutionTimeMs   int64 `json:"maxExecutionTimeMs"`
	MaxStepIterations    int   `json:"maxStepIterations"`
	MaxWorkflowSteps     int   `json:"maxWorkflowSteps"`
	MaxDailyWorkflowRuns int   `json:"maxDailyWorkflowRuns"`
	MaxDailyMessages     int   `json:"maxDailyMessages"`
	MaxDailyAIRequests   int   `json:"maxDailyAIRequests"`
	MaxConcurrentRuns    int   `json:"maxConcurrentRuns"`
}

// DefaultLimits is the conservative fallback used when the store is
// unreachable. Resolution never fails the caller; it degrades to these.
func DefaultLimits() EffectiveLimits {
	return EffectiveLimits{
		MaxExecutionTimeMs:   5 * 60 * 1000,
		MaxStepIterations:    100,
		MaxWorkflowSteps:     50,
		MaxDailyWorkflowRuns: 1000,
		MaxDailyMessages:     2000,
		MaxDailyAIRequests:   500,
		MaxConcurrentRuns:    10,
	}
}

func limitsFromPlan(p *models.Plan) EffectiveLimits {
	return EffectiveLimits{
		MaxExecutionTimeMs:   p.MaxExecutionTimeMs,
		MaxStepIterations:    p.MaxStepIterations,
		MaxWorkflowSteps:     p.MaxWorkflowSteps,
		MaxDailyWorkflowRuns: p.MaxDailyWorkflowRuns,
		MaxDailyMessages:     p.MaxDailyMessages,
		MaxDailyAIRequests:   p.MaxDailyAIRequests,
		MaxConcurrentRuns:    p.MaxConcurrentRuns,
	}
}

// applyOverride merges a partial override onto plan limits. Present fields
// win; negative values are clamped to zero.
func (l EffectiveLimits) applyOverride(override json.RawMessage) (EffectiveLimits, error) {
	if len(override) == 0 {
		return l, nil
	}
	var o struct {
		MaxExecutionTimeMs   *int64 `json:"maxExecutionTimeMs"`
		MaxStepIterations    *int   `json:"maxStepIterations"`
		MaxWorkflowSteps     *int   `json:"maxWorkflowSteps"`
		MaxDailyWorkflowRuns *int   `json:"maxDailyWorkflowRuns"`
		MaxDailyMessages     *int   `json:"maxDailyMessages"`
		MaxDailyAIRequests   *int   `json:"maxDailyAIRequests"`
		MaxConcurrentRuns    *int   `json:"maxConcurrentRuns"`
	}
	if err := json.Unmarshal(override, &o); err != nil {
		return l, fmt.Errorf("invalid limit override: %w", err)
	}
	if o.MaxExecutionTimeMs != nil {
		l.MaxExecutionTimeMs = max64(*o.MaxExecutionTimeMs, 0)
	}
	if o.MaxStepIterations != nil {
		l.MaxStepIterations = maxInt(*o.MaxStepIterations, 0)
	}
	if o.MaxWorkflowSteps != nil {
		l.MaxWorkflowSteps = maxInt(*o.MaxWorkflowSteps, 0)
	}
	if o.MaxDailyWorkflowRuns != nil {
		l.MaxDailyWorkflowRuns = maxInt(*o.MaxDailyWorkflowRuns, 0)
	}
	if o.MaxDailyMessages != nil {
		l.MaxDailyMessages = maxInt(*o.MaxDailyMessages, 0)
	}
	if o.MaxDailyAIRequests != nil {
		l.MaxDailyAIRequests = maxInt(*o.MaxDailyAIRequests, 0)
	}
	if o.MaxConcurrentRuns != nil {
		l.MaxConcurrentRuns = maxInt(*o.MaxConcurrentRuns, 0)
	}
	return l, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
