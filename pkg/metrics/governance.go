package metrics

// GovernanceMetrics provides methods to record governance-related metrics.
type GovernanceMetrics struct {
	registry *Registry
}

// Governance returns the governance metrics interface for the registry.
func (r *Registry) Governance() *GovernanceMetrics {
	return &GovernanceMetrics{registry: r}
}

// RecordViolation records a safety limit violation.
func (g *GovernanceMetrics) RecordViolation(limitCode string) {
	g.registry.safetyViolationsTotal.WithLabelValues(limitCode).Inc()
}

// RecordQuotaRejection records a daily quota consumption rejected at the limit.
func (g *GovernanceMetrics) RecordQuotaRejection(quota string) {
	g.registry.quotaRejectionsTotal.WithLabelValues(quota).Inc()
}

// RecordConcurrencyDenial records a denied concurrent-run slot acquisition.
func (g *GovernanceMetrics) RecordConcurrencyDenial(orgID string) {
	g.registry.concurrencyDenials.WithLabelValues(orgID).Inc()
}

// RecordDLQItem records a step quarantined to the dead-letter queue.
func (g *GovernanceMetrics) RecordDLQItem(errorCategory string) {
	g.registry.dlqItemsTotal.WithLabelValues(errorCategory).Inc()
}

// SetDLQDepth sets the current number of open dead-letter items.
func (g *GovernanceMetrics) SetDLQDepth(n int) {
	g.registry.dlqDepth.Set(float64(n))
}

// RecordDLQReplay records an operator-initiated replay of a dead-letter item.
func (g *GovernanceMetrics) RecordDLQReplay(stepType string) {
	g.registry.dlqReplaysTotal.WithLabelValues(stepType).Inc()
}

// RecordDedupHit records an operation served from a dedup ledger instead of
// re-executing its side effect.
func (g *GovernanceMetrics) RecordDedupHit(ledger string) {
	g.registry.dedupHitsTotal.WithLabelValues(ledger).Inc()
}
