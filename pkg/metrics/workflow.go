package metrics

import (
	"time"
)

// WorkflowMetrics provides methods to record workflow-related metrics.
type WorkflowMetrics struct {
	registry *Registry
}

// Workflow returns the workflow metrics interface for the registry.
func (r *Registry) Workflow() *WorkflowMetrics {
	return &WorkflowMetrics{registry: r}
}

// RecordExecution records a workflow execution reaching a terminal status.
func (w *WorkflowMetrics) RecordExecution(status string, duration time.Duration) {
	w.registry.workflowExecutionsTotal.WithLabelValues(status).Inc()
	w.registry.workflowExecutionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStep records metrics for a completed workflow step attempt.
func (w *WorkflowMetrics) RecordStep(stepType string, duration time.Duration) {
	w.registry.workflowStepDuration.WithLabelValues(stepType).Observe(duration.Seconds())
}

// RecordStepRetry records a scheduled step retry.
func (w *WorkflowMetrics) RecordStepRetry(stepType string) {
	w.registry.workflowStepRetriesTotal.WithLabelValues(stepType).Inc()
}

// IncActive increments the active execution count for an organization.
func (w *WorkflowMetrics) IncActive(orgID string) {
	w.registry.workflowActiveCount.WithLabelValues(orgID).Inc()
}

// DecActive decrements the active execution count for an organization.
func (w *WorkflowMetrics) DecActive(orgID string) {
	w.registry.workflowActiveCount.WithLabelValues(orgID).Dec()
}
