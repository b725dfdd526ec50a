package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
)

// Enqueuer is the queue surface the workflow engine and DLQ service depend
// on. *Manager implements it; tests substitute a recorder.
type Enqueuer interface {
	EnqueueTask(ctx context.Context, task *Task) (*asynq.TaskInfo, error)
	EnqueueIn(ctx context.Context, task *Task, delay time.Duration) (*asynq.TaskInfo, error)
}

// Manager manages the Asynq client and server.
type Manager struct {
	client    *asynq.Client
	server    *asynq.Server
	inspector *asynq.Inspector
	config    Config

	mux     *asynq.ServeMux
	mu      sync.RWMutex
	running bool
}

// NewManager creates a new queue manager.
func NewManager(cfg Config) (*Manager, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	client := asynq.NewClient(redisOpt)
	inspector := asynq.NewInspector(redisOpt)

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          cfg.Queues,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})

	return &Manager{
		client:    client,
		server:    server,
		inspector: inspector,
		config:    cfg,
		mux:       asynq.NewServeMux(),
	}, nil
}

// RegisterHandler registers a task handler for the given task type.
func (m *Manager) RegisterHandler(taskType string, handler func(context.Context, *asynq.Task) error) {
	m.mux.HandleFunc(taskType, handler)
}

// EnqueueTask enqueues a task for immediate processing.
func (m *Manager) EnqueueTask(ctx context.Context, task *Task) (*asynq.TaskInfo, error) {
	info, err := m.client.EnqueueContext(ctx, asynq.NewTask(task.Type, task.Payload), taskOptions(task)...)
	if err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}
	return info, nil
}

// EnqueueIn enqueues a task to be processed after a delay.
func (m *Manager) EnqueueIn(ctx context.Context, task *Task, delay time.Duration) (*asynq.TaskInfo, error) {
	opts := append(taskOptions(task), asynq.ProcessIn(delay))
	info, err := m.client.EnqueueContext(ctx, asynq.NewTask(task.Type, task.Payload), opts...)
	if err != nil {
		return nil, fmt.Errorf("enqueue in: %w", err)
	}
	return info, nil
}

func taskOptions(task *Task) []asynq.Option {
	opts := []asynq.Option{
		asynq.Queue(task.Queue),
		asynq.MaxRetry(task.MaxRetry),
	}
	if task.Timeout > 0 {
		opts = append(opts, asynq.Timeout(task.Timeout))
	}
	if task.Retention > 0 {
		opts = append(opts, asynq.Retention(task.Retention))
	}
	if task.UniqueKey != "" && task.UniqueTTL > 0 {
		opts = append(opts, asynq.Unique(task.UniqueTTL))
	}
	return opts
}

// GetQueueInfo retrieves information about a queue.
func (m *Manager) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, err := m.inspector.GetQueueInfo(queue)
	if err != nil {
		return nil, fmt.Errorf("get queue info: %w", err)
	}
	return info, nil
}

// Start starts the queue server.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	if err := m.server.Start(m.mux); err != nil {
		return fmt.Errorf("start queue server: %w", err)
	}
	m.running = true
	return nil
}

// Stop gracefully stops the queue server and closes connections.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.server.Shutdown()

	if err := m.client.Close(); err != nil {
		return fmt.Errorf("close client: %w", err)
	}
	if err := m.inspector.Close(); err != nil {
		return fmt.Errorf("close inspector: %w", err)
	}
	m.running = false
	return nil
}

// IsRunning returns whether the manager is running.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}
