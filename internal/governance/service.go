// Package governance enforces per-organization safety limits: plan
// resolution, workflow definition validation, daily quotas and the
// concurrent-run ceiling.
package governance

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sokoflow/sokoflow/internal/database/models"
	"github.com/sokoflow/sokoflow/internal/database/repository"
	"github.com/sokoflow/sokoflow/internal/pagination"
	"github.com/sokoflow/sokoflow/pkg/logging"
	"github.com/sokoflow/sokoflow/pkg/metrics"
)

// Config holds governance engine configuration.
type Config struct {
	// DefaultPlanName is the plan assigned lazily to organizations without
	// an explicit assignment.
	DefaultPlanName string

	// LimitsCacheTTL bounds how long resolved limits are served from redis.
	LimitsCacheTTL time.Duration

	// SlotRetryDelay is the re-enqueue delay suggested to callers denied a
	// concurrent-run slot.
	SlotRetryDelay time.Duration
}

// DefaultConfig returns sensible defaults for the governance engine.
func DefaultConfig() Config {
	return Config{
		DefaultPlanName: "free",
		LimitsCacheTTL:  30 * time.Second,
		SlotRetryDelay:  5 * time.Second,
	}
}

// Service is the governance engine.
type Service struct {
	repos   *repository.Repositories
	logger  *logging.Logger
	metrics *metrics.Registry
	cache   *redis.Client // nil disables the limits cache
	config  Config
}

// NewService creates a governance service. cache may be nil.
func NewService(repos *repository.Repositories, logger *logging.Logger, reg *metrics.Registry, cache *redis.Client, config Config) *Service {
	return &Service{
		repos:   repos,
		logger:  logger.WithModule("governance"),
		metrics: reg,
		cache:   cache,
		config:  config,
	}
}

// SlotAcquisition is the outcome of a concurrent-run slot request.
type SlotAcquisition struct {
	Acquired   bool
	Limit      int
	Current    int
	RetryDelay time.Duration
}

// Step types that repeat and therefore need an explicit iteration cap.
var loopStepTypes = map[string]bool{
	"loop":          true,
	"while":         true,
	"foreach":       true,
	"for_each":      true,
	"iterate":       true,
	"repeat":        true,
	"batch_iterate": true,
}

func limitsCacheKey(orgID string) string {
	return "sokoflow:limits:" + orgID
}

// ResolveEffectiveLimits returns the merged plan + override limits for an
// organization. An organization without an assignment gets the default plan
// lazily. Store failures degrade to hard-coded defaults; this never returns
// an error.
func (s *Service) ResolveEffectiveLimits(ctx context.Context, orgID string) EffectiveLimits {
	if cached, ok := s.cachedLimits(ctx, orgID); ok {
		return cached
	}

	limits := s.resolveFromStore(ctx, orgID)
	s.storeCachedLimits(ctx, orgID, limits)
	return limits
}

func (s *Service) resolveFromStore(ctx context.Context, orgID string) EffectiveLimits {
	op, err := s.repos.OrgPlans.GetByOrganization(ctx, orgID)
	if errors.Is(err, repository.ErrNotFound) {
		op, err = s.assignDefaultPlan(ctx, orgID)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "limit resolution falling back to defaults",
			"organization_id", orgID, "error", err)
		return DefaultLimits()
	}

	plan, err := s.repos.Plans.GetByID(ctx, op.PlanID)
	if err != nil {
		s.logger.WarnContext(ctx, "plan lookup falling back to defaults",
			"organization_id", orgID, "plan_id", op.PlanID, "error", err)
		return DefaultLimits()
	}

	limits, err := limitsFromPlan(plan).applyOverride(op.OverrideConfig)
	if err != nil {
		s.logger.WarnContext(ctx, "ignoring malformed limit override",
			"organization_id", orgID, "error", err)
		return limitsFromPlan(plan)
	}
	return limits
}

func (s *Service) assignDefaultPlan(ctx context.Context, orgID string) (*models.OrganizationPlan, error) {
	plan, err := s.repos.Plans.GetByName(ctx, s.config.DefaultPlanName)
	if err != nil {
		return nil, err
	}
	op := &models.OrganizationPlan{OrganizationID: orgID, PlanID: plan.ID}
	err = s.repos.OrgPlans.Create(ctx, op)
	if errors.Is(err, repository.ErrDuplicateKey) {
		// Lost the creation race; the winner's row is authoritative.
		return s.repos.OrgPlans.GetByOrganization(ctx, orgID)
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}

func (s *Service) cachedLimits(ctx context.Context, orgID string) (EffectiveLimits, bool) {
	if s.cache == nil {
		return EffectiveLimits{}, false
	}
	raw, err := s.cache.Get(ctx, limitsCacheKey(orgID)).Bytes()
	if err != nil {
		return EffectiveLimits{}, false
	}
	var limits EffectiveLimits
	if err := json.Unmarshal(raw, &limits); err != nil {
		return EffectiveLimits{}, false
	}
	return limits, true
}

func (s *Service) storeCachedLimits(ctx context.Context, orgID string, limits EffectiveLimits) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(limits)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, limitsCacheKey(orgID), raw, s.config.LimitsCacheTTL).Err(); err != nil {
		s.logger.DebugContext(ctx, "limits cache write failed", "error", err)
	}
}

// ValidateWorkflowDefinition checks a workflow's step list against the
// organization's structural limits before an execution is created.
func (s *Service) ValidateWorkflowDefinition(ctx context.Context, orgID string, steps []models.StepDefinition) error {
	limits := s.ResolveEffectiveLimits(ctx, orgID)

	if len(steps) > limits.MaxWorkflowSteps {
		s.RecordSafetyViolation(ctx, orgID, CodeMaxStepsExceeded, map[string]any{
			"stepCount": len(steps),
			"limit":     limits.MaxWorkflowSteps,
		})
		return NewViolation(CodeMaxStepsExceeded,
			"workflow has %d steps, plan allows %d", len(steps), limits.MaxWorkflowSteps)
	}

	for i, step := range steps {
		if loopStepTypes[step.Type] && step.MaxIterations <= 0 {
			s.RecordSafetyViolation(ctx, orgID, CodeUnboundedLoopRisk, map[string]any{
				"stepIndex": i,
				"stepType":  step.Type,
			})
			return NewViolation(CodeUnboundedLoopRisk,
				"step %d (%s) loops without an iteration cap", i, step.Type)
		}
		if step.JumpToStep != nil && *step.JumpToStep <= i && step.MaxIterations <= 0 {
			s.RecordSafetyViolation(ctx, orgID, CodeUnboundedLoopRisk, map[string]any{
				"stepIndex":  i,
				"jumpToStep": *step.JumpToStep,
			})
			return NewViolation(CodeUnboundedLoopRisk,
				"step %d jumps back to step %d without an iteration cap", i, *step.JumpToStep)
		}
	}
	return nil
}

// ConsumeWorkflowRunQuota charges one workflow run against today's quota.
func (s *Service) ConsumeWorkflowRunQuota(ctx context.Context, orgID string) error {
	limits := s.ResolveEffectiveLimits(ctx, orgID)
	return s.consumeQuota(ctx, orgID, repository.QuotaWorkflowRuns, limits.MaxDailyWorkflowRuns, "workflow_runs")
}

// ConsumeDailyMessageQuota charges one outbound message against today's quota.
func (s *Service) ConsumeDailyMessageQuota(ctx context.Context, orgID string) error {
	limits := s.ResolveEffectiveLimits(ctx, orgID)
	return s.consumeQuota(ctx, orgID, repository.QuotaMessages, limits.MaxDailyMessages, "messages")
}

// ConsumeDailyAIQuota charges one AI request against today's quota.
func (s *Service) ConsumeDailyAIQuota(ctx context.Context, orgID string) error {
	limits := s.ResolveEffectiveLimits(ctx, orgID)
	return s.consumeQuota(ctx, orgID, repository.QuotaAIRequests, limits.MaxDailyAIRequests, "ai_requests")
}

func (s *Service) consumeQuota(ctx context.Context, orgID string, counter repository.QuotaCounter, limit int, quota string) error {
	today := models.UsageDate(time.Now())
	current, applied, err := s.repos.Usage.IncrementIfBelow(ctx, orgID, today, counter, limit)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	s.metrics.Governance().RecordQuotaRejection(quota)
	s.RecordSafetyViolation(ctx, orgID, CodePlanLimitReached, map[string]any{
		"quota":   quota,
		"current": current,
		"limit":   limit,
	})
	return NewViolation(CodePlanLimitReached,
		"daily %s quota exhausted (%d/%d)", quota, current, limit)
}

// TryAcquireConcurrentRunSlot attempts to charge one concurrent-run slot.
// Denial is not an error; the caller re-enqueues after RetryDelay.
func (s *Service) TryAcquireConcurrentRunSlot(ctx context.Context, orgID string) (SlotAcquisition, error) {
	limits := s.ResolveEffectiveLimits(ctx, orgID)
	today := models.UsageDate(time.Now())

	acquired, current, err := s.repos.Usage.AcquireSlot(ctx, orgID, today, limits.MaxConcurrentRuns)
	if err != nil {
		return SlotAcquisition{}, err
	}
	if !acquired {
		s.metrics.Governance().RecordConcurrencyDenial(orgID)
		s.RecordSafetyViolation(ctx, orgID, CodeConcurrentLimitExceeded, map[string]any{
			"current": current,
			"limit":   limits.MaxConcurrentRuns,
		})
	}
	return SlotAcquisition{
		Acquired:   acquired,
		Limit:      limits.MaxConcurrentRuns,
		Current:    current,
		RetryDelay: s.config.SlotRetryDelay,
	}, nil
}

// ReleaseConcurrentRunSlot returns a previously acquired slot.
func (s *Service) ReleaseConcurrentRunSlot(ctx context.Context, orgID string) error {
	today := models.UsageDate(time.Now())
	return s.repos.Usage.ReleaseSlot(ctx, orgID, today)
}

// RecordSafetyViolation persists a violation audit row. Best effort: a
// failed insert is logged and swallowed so it never masks the original
// enforcement error.
func (s *Service) RecordSafetyViolation(ctx context.Context, orgID, limitCode string, details any) {
	s.metrics.Governance().RecordViolation(limitCode)
	s.logger.WarnContext(ctx, "safety limit violation",
		"organization_id", orgID, "limit_code", limitCode)

	raw, err := json.Marshal(details)
	if err != nil {
		raw = nil
	}
	v := &models.SafetyViolation{
		OrganizationID: orgID,
		LimitCode:      limitCode,
		Details:        raw,
	}
	if err := s.repos.Violations.Insert(ctx, v); err != nil {
		s.logger.ErrorContext(ctx, "safety violation insert failed",
			"organization_id", orgID, "limit_code", limitCode, "error", err)
	}
}

// GetUsage returns the usage counters for an organization-day, zero-valued
// when no activity has been recorded yet.
func (s *Service) GetUsage(ctx context.Context, orgID, usageDate string) (*models.OrganizationUsage, error) {
	usage, err := s.repos.Usage.Get(ctx, orgID, usageDate)
	if errors.Is(err, repository.ErrNotFound) {
		return &models.OrganizationUsage{
			OrganizationID: orgID,
			UsageDate:      usageDate,
		}, nil
	}
	return usage, err
}

// ListViolations returns recent safety violations for an organization.
func (s *Service) ListViolations(ctx context.Context, orgID, limitCode string, limit int) ([]*models.SafetyViolation, error) {
	return s.repos.Violations.List(ctx, orgID, limitCode, pagination.ClampLimit(limit))
}
