// Package idempotency implements the API idempotency ledger: externally
// retried mutating calls keyed by (organization, scope, key) execute their
// side effect exactly once and replay the cached response afterwards.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sokoflow/sokoflow/internal/database/models"
	"github.com/sokoflow/sokoflow/internal/database/repository"
	"github.com/sokoflow/sokoflow/pkg/logging"
	"github.com/sokoflow/sokoflow/pkg/metrics"
)

// Outcome classifies the result of Begin.
type Outcome string

const (
	// OutcomeMiss means this caller acquired the key and must execute the
	// operation, then finalize.
	OutcomeMiss Outcome = "MISS"
	// OutcomeInProgress means another caller holds a fresh lock.
	OutcomeInProgress Outcome = "IN_PROGRESS"
	// OutcomeConflict means the key was reused with a different request.
	OutcomeConflict Outcome = "CONFLICT"
	// OutcomeHit means a cached terminal response is replayed.
	OutcomeHit Outcome = "HIT"
)

// Decision is the result of consulting the ledger before an operation.
type Decision struct {
	Outcome Outcome
	// KeyID identifies the acquired row on OutcomeMiss, for finalization.
	KeyID string
	// ResponseCode and ResponseBody carry the cached result on OutcomeHit.
	ResponseCode int
	ResponseBody []byte
}

// Config holds ledger configuration.
type Config struct {
	// StalenessThreshold is how long an IN_PROGRESS lock is honored before
	// it is presumed abandoned and stolen.
	StalenessThreshold time.Duration

	// TTL is how long a key row lives; expired rows are recycled in place.
	TTL time.Duration
}

// DefaultConfig returns sensible defaults for the idempotency ledger.
func DefaultConfig() Config {
	return Config{
		StalenessThreshold: 60 * time.Second,
		TTL:                24 * time.Hour,
	}
}

// Ledger coordinates idempotency keys over the repository.
type Ledger struct {
	repo     *repository.IdempotencyRepository
	redactor *logging.Redactor
	logger   *logging.Logger
	metrics  *metrics.Registry
	config   Config
}

// NewLedger creates an idempotency ledger.
func NewLedger(repo *repository.IdempotencyRepository, logger *logging.Logger, reg *metrics.Registry, config Config) *Ledger {
	return &Ledger{
		repo:     repo,
		redactor: logging.NewRedactor(),
		logger:   logger.WithModule("idempotency"),
		metrics:  reg,
		config:   config,
	}
}

// Begin applies the ledger decision table for one request. On OutcomeMiss
// the caller executes the operation and must call FinalizeSuccess or
// FinalizeFailure with the returned KeyID.
func (l *Ledger) Begin(ctx context.Context, orgID, scope, key, fingerprint string) (Decision, error) {
	now := time.Now().UTC()
	fresh := &models.IdempotencyKey{
		OrganizationID:     orgID,
		Scope:              scope,
		Key:                key,
		RequestFingerprint: fingerprint,
		ExpiresAt:          now.Add(l.config.TTL),
	}

	err := l.repo.InsertInProgress(ctx, fresh)
	if err == nil {
		return Decision{Outcome: OutcomeMiss, KeyID: fresh.ID}, nil
	}
	if !errors.Is(err, repository.ErrDuplicateKey) {
		return Decision{}, fmt.Errorf("idempotency insert: %w", err)
	}

	existing, err := l.repo.Get(ctx, orgID, scope, key)
	if err != nil {
		return Decision{}, fmt.Errorf("idempotency read after collision: %w", err)
	}

	// Expired rows are recycled in place regardless of their final state.
	if !existing.ExpiresAt.After(now) {
		return l.reacquire(ctx, existing, fingerprint, now)
	}

	if existing.RequestFingerprint != fingerprint {
		return Decision{Outcome: OutcomeConflict}, nil
	}

	switch existing.Status {
	case models.IdempotencyCompleted:
		l.metrics.Governance().RecordDedupHit("idempotency")
		return Decision{
			Outcome:      OutcomeHit,
			ResponseCode: int(existing.ResponseCode.Int32),
			ResponseBody: existing.ResponseBody,
		}, nil

	case models.IdempotencyFailed:
		// Client errors are deterministic and replayed; server errors and
		// uncached failures are worth another attempt.
		if existing.ResponseCode.Valid && existing.ResponseCode.Int32 < 500 {
			l.metrics.Governance().RecordDedupHit("idempotency")
			return Decision{
				Outcome:      OutcomeHit,
				ResponseCode: int(existing.ResponseCode.Int32),
				ResponseBody: existing.ErrorBody,
			}, nil
		}
		return l.reacquire(ctx, existing, fingerprint, now)

	default: // IN_PROGRESS
		if existing.LockedAt.After(now.Add(-l.config.StalenessThreshold)) {
			return Decision{Outcome: OutcomeInProgress}, nil
		}
		// Presumed-dead holder; steal the lock.
		return l.reacquire(ctx, existing, fingerprint, now)
	}
}

func (l *Ledger) reacquire(ctx context.Context, existing *models.IdempotencyKey, fingerprint string, now time.Time) (Decision, error) {
	ok, err := l.repo.Reacquire(ctx, existing.ID, fingerprint,
		now.Add(-l.config.StalenessThreshold), now.Add(l.config.TTL))
	if err != nil {
		return Decision{}, fmt.Errorf("idempotency reacquire: %w", err)
	}
	if !ok {
		// Another caller won the takeover race.
		return Decision{Outcome: OutcomeInProgress}, nil
	}
	l.logger.InfoContext(ctx, "idempotency key reacquired",
		"key_id", existing.ID, "scope", existing.Scope)
	return Decision{Outcome: OutcomeMiss, KeyID: existing.ID}, nil
}

// FinalizeSuccess caches a successful response. The body is sanitized
// before persisting: secret-like fields redacted, phone numbers masked.
func (l *Ledger) FinalizeSuccess(ctx context.Context, keyID string, code int, body []byte) error {
	return l.repo.Finalize(ctx, keyID, models.IdempotencyCompleted, code, l.sanitize(body), nil)
}

// FinalizeFailure caches a failed response.
func (l *Ledger) FinalizeFailure(ctx context.Context, keyID string, code int, body []byte) error {
	return l.repo.Finalize(ctx, keyID, models.IdempotencyFailed, code, nil, l.sanitize(body))
}

func (l *Ledger) sanitize(body []byte) []byte {
	if len(body) == 0 {
		return nil
	}
	return l.redactor.RedactJSON(body)
}
