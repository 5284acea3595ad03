// Package graceful coordinates ordered shutdown of long-running components.
package graceful

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Hook is a named shutdown step executed in registration order
type Hook struct {
	Name string
	Fn   func(context.Context) error
}

// Manager collects shutdown hooks and runs them on SIGINT/SIGTERM
type Manager struct {
	hooks   []Hook
	timeout time.Duration
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewManager creates a shutdown manager with the given per-shutdown timeout
func NewManager(timeout time.Duration, logger *zap.Logger) *Manager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Manager{timeout: timeout, logger: logger}
}

// Register adds a shutdown hook. Hooks run in registration order.
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, Hook{Name: name, Fn: fn})
}

// Wait blocks until an interrupt arrives, then runs all hooks
func (m *Manager) Wait() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	m.logger.Info("Shutdown signal received")
	m.Shutdown()
}

// Shutdown runs all registered hooks with the configured timeout
func (m *Manager) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	hooks := make([]Hook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	for _, hook := range hooks {
		m.logger.Info("Running shutdown hook", zap.String("hook", hook.Name))
		if err := hook.Fn(ctx); err != nil {
			m.logger.Warn("Shutdown hook failed",
				zap.String("hook", hook.Name),
				zap.Error(err))
		}
	}

	m.logger.Info("Shutdown complete")
}
