// Package stepdedup guards workflow step side effects against duplicate
// execution across retried queue jobs, keyed by
// (organization, workflowRun, stepKey, inputHash).
package stepdedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sokoflow/sokoflow/internal/database/models"
	"github.com/sokoflow/sokoflow/internal/database/repository"
	"github.com/sokoflow/sokoflow/pkg/logging"
	"github.com/sokoflow/sokoflow/pkg/metrics"
)

// Outcome classifies an Acquire attempt.
type Outcome string

const (
	// OutcomeAcquired means this caller holds the lock and must execute the
	// side effect, then MarkDone or Release.
	OutcomeAcquired Outcome = "acquired"
	// OutcomeDone means the side effect already ran; the cached result is
	// returned instead of re-executing.
	OutcomeDone Outcome = "done"
	// OutcomeLocked means another worker holds a fresh lock; the caller
	// backs off with the step's retry policy.
	OutcomeLocked Outcome = "locked"
)

// Acquisition is the result of consulting the ledger before a side effect.
type Acquisition struct {
	Outcome Outcome
	// LockID identifies the held lock on OutcomeAcquired.
	LockID string
	// Result carries the cached side-effect result on OutcomeDone.
	Result json.RawMessage
}

// Config holds step dedup configuration.
type Config struct {
	// StaleLockAfter is how long a LOCKED row is honored before it is
	// presumed abandoned by a crashed worker and stolen.
	StaleLockAfter time.Duration

	// TTL bounds the lifetime of dedup rows.
	TTL time.Duration
}

// DefaultConfig returns sensible defaults for the step dedup ledger.
func DefaultConfig() Config {
	return Config{
		StaleLockAfter: 2 * time.Minute,
		TTL:            24 * time.Hour,
	}
}

// Ledger coordinates step dedup locks over the repository.
type Ledger struct {
	repo    *repository.StepDedupRepository
	logger  *logging.Logger
	metrics *metrics.Registry
	config  Config
}

// NewLedger creates a step dedup ledger.
func NewLedger(repo *repository.StepDedupRepository, logger *logging.Logger, reg *metrics.Registry, config Config) *Ledger {
	return &Ledger{
		repo:    repo,
		logger:  logger.WithModule("stepdedup"),
		metrics: reg,
		config:  config,
	}
}

// Acquire claims the right to execute a step's side effect. Exactly one of
// the concurrent callers for the same key gets OutcomeAcquired.
func (l *Ledger) Acquire(ctx context.Context, orgID, runID, stepKey string, input json.RawMessage) (Acquisition, error) {
	hash := HashInput(input)
	now := time.Now().UTC()

	fresh := &models.StepDedup{
		OrganizationID: orgID,
		WorkflowRunID:  runID,
		StepKey:        stepKey,
		InputHash:      hash,
		ExpiresAt:      now.Add(l.config.TTL),
	}
	err := l.repo.InsertLocked(ctx, fresh)
	if err == nil {
		return Acquisition{Outcome: OutcomeAcquired, LockID: fresh.ID}, nil
	}
	if !errors.Is(err, repository.ErrDuplicateKey) {
		return Acquisition{}, fmt.Errorf("step dedup insert: %w", err)
	}

	existing, err := l.repo.Get(ctx, orgID, runID, stepKey, hash)
	if err != nil {
		return Acquisition{}, fmt.Errorf("step dedup read after collision: %w", err)
	}

	if existing.Status == models.DedupDone {
		l.metrics.Governance().RecordDedupHit("step")
		return Acquisition{Outcome: OutcomeDone, Result: existing.Result}, nil
	}

	if existing.LockedAt.After(now.Add(-l.config.StaleLockAfter)) {
		return Acquisition{Outcome: OutcomeLocked}, nil
	}

	// Lock abandoned by a crashed worker; take it over.
	ok, err := l.repo.StealLock(ctx, existing.ID,
		now.Add(-l.config.StaleLockAfter), now.Add(l.config.TTL))
	if err != nil {
		return Acquisition{}, fmt.Errorf("step dedup steal: %w", err)
	}
	if !ok {
		return Acquisition{Outcome: OutcomeLocked}, nil
	}
	l.logger.InfoContext(ctx, "stale step dedup lock stolen",
		"step_key", stepKey, "workflow_run_id", runID)
	return Acquisition{Outcome: OutcomeAcquired, LockID: existing.ID}, nil
}

// MarkDone records the side-effect result against a held lock.
func (l *Ledger) MarkDone(ctx context.Context, lockID string, result json.RawMessage) error {
	ok, err := l.repo.MarkDone(ctx, lockID, result)
	if err != nil {
		return fmt.Errorf("step dedup finalize: %w", err)
	}
	if !ok {
		return fmt.Errorf("step dedup lock %s no longer held", lockID)
	}
	return nil
}

// Release abandons a held lock after a failed side effect, so the next
// retry re-executes instead of waiting out the stale window.
func (l *Ledger) Release(ctx context.Context, lockID string) error {
	return l.repo.Delete(ctx, lockID)
}
