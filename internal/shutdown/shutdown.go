package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/fwingest/internal/logging"
)

// Manager turns stop signals into context cancellation and runs the cleanup
// of auxiliary components once the main loop has returned
type Manager struct {
	logger        *logging.Logger
	timeout       time.Duration
	shutdownFuncs []namedFunc
	mu            sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	shutdownOnce sync.Once
	gracefulDone chan struct{}
}

// ShutdownFunc is a function that performs cleanup during shutdown
type ShutdownFunc func(context.Context) error

type namedFunc struct {
	name string
	fn   ShutdownFunc
}

// Config holds shutdown manager configuration
type Config struct {
	Timeout time.Duration
	Logger  *logging.Logger
}

// New creates a new shutdown manager
func New(cfg Config) *Manager {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		logger:       cfg.Logger.WithComponent("shutdown"),
		timeout:      cfg.Timeout,
		ctx:          ctx,
		cancel:       cancel,
		gracefulDone: make(chan struct{}),
	}
}

// Context is cancelled when a stop is requested
func (m *Manager) Context() context.Context {
	return m.ctx
}

// RegisterFunc registers a cleanup function. Functions run in reverse
// registration order.
func (m *Manager) RegisterFunc(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Debug().Str("name", name).Msg("Registered shutdown function")
	m.shutdownFuncs = append(m.shutdownFuncs, namedFunc{name: name, fn: fn})
}

// Listen cancels Context on the first of signals (SIGINT and SIGTERM by
// default). The returned function stops listening.
func (m *Manager) Listen(signals ...os.Signal) func() {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)

	stopped := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			m.logger.Info().
				Str("signal", sig.String()).
				Msg("Stop signal received")
			m.RequestStop()
		case <-stopped:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(stopped)
		})
	}
}

// RequestStop cancels Context without running cleanup
func (m *Manager) RequestStop() {
	m.cancel()
}

// Shutdown cancels Context and runs the cleanup functions once. It returns
// the number of functions that failed.
func (m *Manager) Shutdown() int {
	failed := 0
	m.shutdownOnce.Do(func() {
		m.cancel()
		failed = m.performShutdown()
		close(m.gracefulDone)
	})
	return failed
}

// performShutdown runs cleanup functions newest first within one timeout
func (m *Manager) performShutdown() int {
	m.mu.Lock()
	funcs := make([]namedFunc, len(m.shutdownFuncs))
	copy(funcs, m.shutdownFuncs)
	m.mu.Unlock()

	m.logger.Info().
		Dur("timeout", m.timeout).
		Int("functions", len(funcs)).
		Msg("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	failed := 0
	for i := len(funcs) - 1; i >= 0; i-- {
		nf := funcs[i]

		errCh := make(chan error, 1)
		go func() { errCh <- nf.fn(ctx) }()

		select {
		case err := <-errCh:
			if err != nil {
				failed++
				m.logger.Error().Err(err).Str("name", nf.name).Msg("Shutdown function failed")
			}
		case <-ctx.Done():
			m.logger.Warn().
				Dur("timeout", m.timeout).
				Str("name", nf.name).
				Msg("Graceful shutdown timed out, abandoning remaining functions")
			return failed + i + 1
		}
	}

	if failed > 0 {
		m.logger.Warn().Int("errors", failed).Msg("Graceful shutdown completed with errors")
	} else {
		m.logger.Info().Msg("Graceful shutdown completed successfully")
	}
	return failed
}

// Done returns a channel that is closed when shutdown is complete
func (m *Manager) Done() <-chan struct{} {
	return m.gracefulDone
}

// WaitWithTimeout waits for shutdown to complete with a timeout
func (m *Manager) WaitWithTimeout(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.Done():
		return nil
	case <-timer.C:
		return fmt.Errorf("shutdown did not complete within %v", timeout)
	}
}
