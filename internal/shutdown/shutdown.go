// Package shutdown coordinates graceful shutdown: it waits for SIGTERM or
// SIGINT, then stops registered components in reverse registration order so
// the HTTP server drains before the sinks it writes to are closed.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultTimeout is the default graceful shutdown timeout.
const DefaultTimeout = 30 * time.Second

// Component represents a component that can be gracefully shut down.
type Component interface {
	// Name returns the component name for logging.
	Name() string
	// Shutdown gracefully shuts down the component.
	// It should return within the given context deadline.
	Shutdown(ctx context.Context) error
}

// Coordinator manages graceful shutdown of multiple components.
type Coordinator struct {
	components []Component
	timeout    time.Duration
	logger     *slog.Logger
	mu         sync.Mutex

	// For testing: allows injecting a custom signal channel
	signalCh chan os.Signal

	shutdownOnce sync.Once
	shutdownDone chan struct{}
	exitCode     int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the shutdown timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithSignalChannel sets a custom signal channel (for testing).
func WithSignalChannel(ch chan os.Signal) Option {
	return func(c *Coordinator) {
		c.signalCh = ch
	}
}

// NewCoordinator creates a new shutdown coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		timeout:      DefaultTimeout,
		logger:       slog.Default(),
		shutdownDone: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Register adds a component to be shut down. Components are shut down in
// reverse order of registration.
func (c *Coordinator) Register(component Component) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, component)
	c.logger.Debug("registered shutdown component", "name", component.Name())
}

// WaitForSignal blocks until a SIGTERM or SIGINT signal is received or ctx
// is done, then shuts down.
func (c *Coordinator) WaitForSignal(ctx context.Context) {
	sigCh := c.signalCh
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}

	select {
	case sig := <-sigCh:
		c.logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		c.logger.Info("shutdown requested", "reason", ctx.Err())
	}

	c.Shutdown()
}

// Shutdown stops every registered component, last registered first, within
// the configured timeout. Further calls are no-ops.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.logger.Info("initiating graceful shutdown", "timeout", c.timeout)

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		c.mu.Lock()
		components := make([]Component, len(c.components))
		copy(components, c.components)
		c.mu.Unlock()

		done := make(chan int, 1)
		go func() {
			failed := 0
			for i := len(components) - 1; i >= 0; i-- {
				comp := components[i]
				c.logger.Info("shutting down component", "name", comp.Name())
				if err := comp.Shutdown(ctx); err != nil {
					c.logger.Error("component shutdown error", "name", comp.Name(), "error", err)
					failed++
					continue
				}
				c.logger.Info("component shutdown complete", "name", comp.Name())
			}
			done <- failed
		}()

		select {
		case failed := <-done:
			if failed > 0 {
				c.exitCode = 1
			} else {
				c.logger.Info("all components shut down successfully")
			}
		case <-ctx.Done():
			c.logger.Warn("shutdown timeout exceeded, forcing termination")
			c.exitCode = 1
		}

		close(c.shutdownDone)
	})
}

// Wait blocks until shutdown is complete.
func (c *Coordinator) Wait() {
	<-c.shutdownDone
}

// ExitCode returns the exit code after shutdown: 0 for a clean shutdown,
// 1 when a component failed or the timeout was exceeded.
func (c *Coordinator) ExitCode() int {
	return c.exitCode
}
