package queue

import (
	"encoding/json"
	"time"
)

// TypeWorkflowExecute is the task type for workflow execution jobs.
const TypeWorkflowExecute = "workflow:execute"

// Task represents a task to be enqueued.
type Task struct {
	// Type is the task type identifier.
	Type string

	// Payload is the task payload data.
	Payload json.RawMessage

	// Queue is the queue name (defaults to "default").
	Queue string

	// MaxRetry is the queue-level retry count. Workflow jobs keep this at
	// zero: the engine owns retries and re-enqueues explicitly, so a
	// queue-level retry would double-count attempts.
	MaxRetry int

	// Timeout is the task execution timeout.
	Timeout time.Duration

	// Retention is how long to keep the completed task.
	Retention time.Duration

	// UniqueKey prevents duplicate tasks with the same key.
	UniqueKey string

	// UniqueTTL is how long to enforce uniqueness.
	UniqueTTL time.Duration
}

// NewTask creates a new task with the given type and payload.
func NewTask(taskType string, payload any) (*Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Task{
		Type:    taskType,
		Payload: data,
		Queue:   QueueDefault,
	}, nil
}

// WithQueue sets the queue for the task.
func (t *Task) WithQueue(queue string) *Task {
	t.Queue = queue
	return t
}

// WithTimeout sets the timeout for the task.
func (t *Task) WithTimeout(timeout time.Duration) *Task {
	t.Timeout = timeout
	return t
}

// WithRetention sets the retention period for the task.
func (t *Task) WithRetention(retention time.Duration) *Task {
	t.Retention = retention
	return t
}

// WithUnique sets uniqueness constraints for the task.
func (t *Task) WithUnique(key string, ttl time.Duration) *Task {
	t.UniqueKey = key
	t.UniqueTTL = ttl
	return t
}
