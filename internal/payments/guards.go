// Package payments guards money-moving operations against duplicate
// execution: a payment confirmation is processed once per provider
// transaction, and a payment request is issued once per order.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sokoflow/sokoflow/internal/stepdedup"
)

// Duplicate detection errors, matched with errors.Is.
var (
	ErrDuplicateConfirmation = errors.New("duplicate_payment_confirmation")
	ErrDuplicateRequest      = errors.New("duplicate_payment_request")
)

// Scopes occupying the run-id slot of the dedup key, so payment identities
// never collide with workflow step locks.
const (
	scopeConfirmation = "payment_confirmation"
	scopeRequest      = "payment_request"
)

// Clearance is a held right to proceed with a guarded payment operation.
// Commit after the operation succeeds; Abort if it fails so a legitimate
// retry can pass the guard again.
type Clearance struct {
	ledger *stepdedup.Ledger
	lockID string
}

// Commit records the operation as done.
func (c *Clearance) Commit(ctx context.Context, result json.RawMessage) error {
	return c.ledger.MarkDone(ctx, c.lockID, result)
}

// Abort drops the guard after a failed operation.
func (c *Clearance) Abort(ctx context.Context) error {
	return c.ledger.Release(ctx, c.lockID)
}

// ConfirmationGuard deduplicates inbound payment confirmations by provider
// transaction ID.
type ConfirmationGuard struct {
	ledger *stepdedup.Ledger
}

// NewConfirmationGuard creates a ConfirmationGuard over the dedup ledger.
func NewConfirmationGuard(ledger *stepdedup.Ledger) *ConfirmationGuard {
	return &ConfirmationGuard{ledger: ledger}
}

// Check clears one processing attempt for a provider transaction. A second
// check for the same transaction returns ErrDuplicateConfirmation.
func (g *ConfirmationGuard) Check(ctx context.Context, orgID, provider, transactionID string) (*Clearance, error) {
	identity, _ := json.Marshal(map[string]string{
		"provider":      provider,
		"transactionId": transactionID,
	})
	acq, err := g.ledger.Acquire(ctx, orgID, scopeConfirmation, provider, identity)
	if err != nil {
		return nil, fmt.Errorf("confirmation guard: %w", err)
	}
	if acq.Outcome != stepdedup.OutcomeAcquired {
		return nil, fmt.Errorf("transaction %s via %s: %w", transactionID, provider, ErrDuplicateConfirmation)
	}
	return &Clearance{ledger: g.ledger, lockID: acq.LockID}, nil
}

// RequestGuard deduplicates outbound payment requests by order identity.
// Payment-request step handlers check it before instructing a provider
// to collect money.
type RequestGuard struct {
	ledger *stepdedup.Ledger
}

// NewRequestGuard creates a RequestGuard over the dedup ledger.
func NewRequestGuard(ledger *stepdedup.Ledger) *RequestGuard {
	return &RequestGuard{ledger: ledger}
}

// Check clears one payment request for an order. The identity covers
// provider, order, amount and payer, so a changed amount is a new request.
func (g *RequestGuard) Check(ctx context.Context, orgID, provider, orderID string, amount int64, phone string) (*Clearance, error) {
	identity, _ := json.Marshal(map[string]any{
		"provider": provider,
		"orderId":  orderID,
		"amount":   amount,
		"phone":    phone,
	})
	acq, err := g.ledger.Acquire(ctx, orgID, scopeRequest, provider, identity)
	if err != nil {
		return nil, fmt.Errorf("request guard: %w", err)
	}
	if acq.Outcome != stepdedup.OutcomeAcquired {
		return nil, fmt.Errorf("order %s via %s: %w", orderID, provider, ErrDuplicateRequest)
	}
	return &Clearance{ledger: g.ledger, lockID: acq.LockID}, nil
}
