package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Closer is a component that can be shut down.
type Closer interface {
	Close() error
}

// Hook is a cleanup function run during shutdown, before components
// close.
type Hook func(ctx context.Context) error

// Suggested priorities; lower shuts down first. The HTTP server stops
// first so no request arrives at a half-closed pipeline, the persist
// sweep runs while the bridge is still alive, and storage closes last.
const (
	PriorityHTTPServer = 10
	PriorityScheduler  = 20
	PriorityFinalSweep = 30
	PriorityStorage    = 40
)

type namedCloser struct {
	name     string
	closer   Closer
	priority int
}

type namedHook struct {
	name     string
	hook     Hook
	priority int
}

// Coordinator runs hooks and closes components in priority order within
// a single timeout.
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	closers []namedCloser
	hooks   []namedHook

	shutdownOnce sync.Once
	triggerOnce  sync.Once
	shutdownCh   chan struct{}
}

// New creates a shutdown coordinator.
func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout:    timeout,
		logger:     logger.With().Str("component", "shutdown").Logger(),
		shutdownCh: make(chan struct{}),
	}
}

// Register adds a component; lower priority closes first.
func (c *Coordinator) Register(name string, closer Closer, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, namedCloser{name: name, closer: closer, priority: priority})
	c.logger.Debug().Str("name", name).Int("priority", priority).
		Msg("Registered component for shutdown")
}

// RegisterHook adds a cleanup function; hooks run before components
// close, in priority order.
func (c *Coordinator) RegisterHook(name string, hook Hook, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, namedHook{name: name, hook: hook, priority: priority})
	c.logger.Debug().Str("name", name).Int("priority", priority).
		Msg("Registered shutdown hook")
}

// WaitForSignal blocks until SIGINT/SIGTERM/SIGQUIT or a programmatic
// trigger.
func (c *Coordinator) WaitForSignal() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case sig := <-quit:
		c.logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		return sig
	case <-c.shutdownCh:
		return syscall.SIGTERM
	}
}

// TriggerShutdown unblocks WaitForSignal programmatically. Safe to call
// from multiple goroutines.
func (c *Coordinator) TriggerShutdown() {
	c.triggerOnce.Do(func() {
		c.logger.Info().Msg("Programmatic shutdown triggered")
		close(c.shutdownCh)
	})
}

// Shutdown runs all hooks then closes all components. The first error is
// returned but later steps still run, unless the timeout trips.
func (c *Coordinator) Shutdown() error {
	var shutdownErr error

	c.shutdownOnce.Do(func() {
		c.triggerOnce.Do(func() {
			close(c.shutdownCh)
		})

		c.mu.Lock()
		closers := make([]namedCloser, len(c.closers))
		copy(closers, c.closers)
		hooks := make([]namedHook, len(c.hooks))
		copy(hooks, c.hooks)
		c.mu.Unlock()

		sort.SliceStable(hooks, func(i, j int) bool {
			return hooks[i].priority < hooks[j].priority
		})
		sort.SliceStable(closers, func(i, j int) bool {
			return closers[i].priority < closers[j].priority
		})

		c.logger.Info().
			Dur("timeout", c.timeout).
			Int("components", len(closers)).
			Int("hooks", len(hooks)).
			Msg("Starting graceful shutdown")

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		start := time.Now()

		for _, h := range hooks {
			select {
			case <-ctx.Done():
				c.logger.Warn().Str("hook", h.name).
					Msg("Shutdown timeout reached, skipping remaining hooks")
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := h.hook(ctx); err != nil {
				c.logger.Error().Err(err).Str("hook", h.name).Msg("Shutdown hook failed")
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}

		for _, comp := range closers {
			select {
			case <-ctx.Done():
				c.logger.Warn().Str("component", comp.name).
					Msg("Shutdown timeout reached, skipping remaining components")
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := comp.closer.Close(); err != nil {
				c.logger.Error().Err(err).Str("component", comp.name).
					Msg("Component shutdown failed")
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}

		c.logger.Info().Dur("duration", time.Since(start)).Msg("Graceful shutdown complete")
	})

	return shutdownErr
}
