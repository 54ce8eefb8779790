// Package shutdown coordinates graceful teardown of long-running commands.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/tflog/internal/logging"
)

// DefaultTimeout bounds the whole teardown
const DefaultTimeout = 30 * time.Second

// ShutdownFunc performs cleanup during shutdown
type ShutdownFunc func(context.Context) error

type hook struct {
	name string
	fn   ShutdownFunc
}

// Manager runs registered hooks once, in reverse registration order, so
// that components registered last (servers) stop before the ones they
// depend on (stores, outputs).
type Manager struct {
	logger     *logging.Logger
	timeout    time.Duration
	mu         sync.Mutex
	hooks      []hook
	shutdownCh chan struct{}
	once       sync.Once
	done       chan struct{}
	err        error
}

// Config holds shutdown manager configuration
type Config struct {
	Timeout time.Duration
	Logger  *logging.Logger
}

// New creates a new shutdown manager
func New(cfg Config) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Manager{
		logger:     cfg.Logger.WithComponent("shutdown"),
		timeout:    cfg.Timeout,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// RegisterFunc registers a named hook
func (m *Manager) RegisterFunc(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
	m.logger.Debug().Str("hook", name).Msg("Registered shutdown hook")
}

// Component can be stopped gracefully
type Component interface {
	Stop(context.Context) error
	Name() string
}

// RegisterComponent registers a component's Stop method
func (m *Manager) RegisterComponent(c Component) {
	m.RegisterFunc(c.Name(), c.Stop)
}

// RegisterCloser registers a Close method that takes no context
func (m *Manager) RegisterCloser(name string, close func() error) {
	m.RegisterFunc(name, func(context.Context) error { return close() })
}

// WaitForSignal blocks until a signal arrives, ctx is done, or Shutdown is
// called elsewhere, then shuts down.
func (m *Manager) WaitForSignal(ctx context.Context, signals ...os.Signal) error {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		m.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-ctx.Done():
		m.logger.Info().Msg("Context done, shutting down")
	case <-m.shutdownCh:
	}
	return m.Shutdown()
}

// Shutdown runs every hook once and returns their joined errors. Later
// calls return the first result.
func (m *Manager) Shutdown() error {
	m.once.Do(func() {
		close(m.shutdownCh)
		m.err = m.run()
		close(m.done)
	})
	<-m.done
	return m.err
}

func (m *Manager) run() error {
	m.mu.Lock()
	hooks := make([]hook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	m.logger.Info().
		Dur("timeout", m.timeout).
		Int("hooks", len(hooks)).
		Msg("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s: skipped: %w", h.name, err))
			continue
		}
		if err := h.fn(ctx); err != nil {
			m.logger.Error().Err(err).Str("hook", h.name).Msg("Shutdown hook failed")
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		m.logger.Debug().Str("hook", h.name).Msg("Shutdown hook completed")
	}

	err := errors.Join(errs...)
	if err != nil {
		m.logger.Warn().Int("errors", len(errs)).Msg("Graceful shutdown completed with errors")
	} else {
		m.logger.Info().Msg("Graceful shutdown completed")
	}
	return err
}

// Done is closed when every hook has run
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// ShutdownChannel is closed when shutdown begins
func (m *Manager) ShutdownChannel() <-chan struct{} {
	return m.shutdownCh
}

// WaitWithTimeout waits for shutdown to complete
func (m *Manager) WaitWithTimeout(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("shutdown did not complete within %v", timeout)
	}
}
