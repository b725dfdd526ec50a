// Package shutdown coordinates graceful termination. Components register
// hooks; on SIGINT/SIGTERM the hooks run in reverse registration order,
// mirroring defer semantics, so dependents stop before their dependencies.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sokoflow/sokoflow/pkg/logging"
)

// HookFunc stops one component. It must respect ctx's deadline.
type HookFunc func(ctx context.Context) error

type hook struct {
	name string
	fn   HookFunc
}

// Coordinator runs registered shutdown hooks once, on signal or on demand.
type Coordinator struct {
	timeout time.Duration
	logger  *logging.Logger

	mu     sync.Mutex
	hooks  []hook
	once   sync.Once
	done   chan struct{}
	errors []error
}

// New creates a Coordinator. The timeout bounds the whole shutdown run.
func New(timeout time.Duration, logger *logging.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Coordinator{
		timeout: timeout,
		logger:  logger.WithModule("shutdown"),
		done:    make(chan struct{}),
	}
}

// Register adds a named hook. Hooks run in reverse registration order.
func (c *Coordinator) Register(name string, fn HookFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook{name: name, fn: fn})
}

// ListenForSignals triggers Shutdown on SIGINT or SIGTERM. The returned
// channel is closed when shutdown completes.
func (c *Coordinator) ListenForSignals() <-chan struct{} {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		signal.Stop(sigCh)
		c.logger.Info("received shutdown signal", "signal", sig.String())
		c.Shutdown()
	}()

	return c.done
}

// Shutdown runs all hooks once. Safe to call from multiple goroutines;
// later calls wait for the first run to finish.
func (c *Coordinator) Shutdown() {
	c.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		c.mu.Lock()
		hooks := make([]hook, len(c.hooks))
		copy(hooks, c.hooks)
		c.mu.Unlock()

		c.logger.Info("starting graceful shutdown", "hooks", len(hooks))

		for i := len(hooks) - 1; i >= 0; i-- {
			h := hooks[i]
			start := time.Now()
			if err := c.runHook(ctx, h); err != nil {
				c.logger.Error("shutdown hook failed",
					"hook", h.name, "error", err)
				c.mu.Lock()
				c.errors = append(c.errors, fmt.Errorf("hook %s: %w", h.name, err))
				c.mu.Unlock()
				continue
			}
			c.logger.Info("shutdown hook completed",
				"hook", h.name, "duration", time.Since(start))
		}

		close(c.done)
	})
	<-c.done
}

// runHook isolates hook panics so one misbehaving component cannot skip
// the rest of the teardown.
func (c *Coordinator) runHook(ctx context.Context, h hook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if ctx.Err() != nil {
		return fmt.Errorf("shutdown timeout exceeded")
	}
	return h.fn(ctx)
}

// Errors returns the failures collected during shutdown.
func (c *Coordinator) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]error, len(c.errors))
	copy(out, c.errors)
	return out
}

// Done is closed when shutdown completes.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}
