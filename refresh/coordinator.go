package refresh

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger is an interface for optional logging in Coordinator.
// Implementations can log refresh cycle events if desired.
type Logger interface {
	Printf(format string, args ...any)
}

// Refresher performs one credential refresh attempt against the platform.
// Implementations rotate the session credential as a side effect and return
// nil only when the caller may retry its original request.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context) error

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context) error {
	return f(ctx)
}

// ErrRefreshFailed indicates a refresh cycle failed and the session was torn
// down. Requests that were waiting on the cycle fail with this error instead
// of being retried.
var ErrRefreshFailed = errors.New("refresh: session refresh failed")

// Coordinator funnels all credential refreshes through one cycle at a time.
//
// The first caller that finds the coordinator idle becomes the driver: it
// runs the underlying Refresher synchronously and settles the outcome. Every
// caller that arrives while a cycle is in flight is parked on a waiter queue
// and resolved with the driver's outcome, in arrival order, once the cycle
// settles. A cycle therefore performs exactly one refresh no matter how many
// requests hit an expired credential at the same moment.
//
// On a failed cycle the configured teardown runs exactly once, before any
// waiter is resolved, so no waiter can fire a retry against a session that is
// about to be dismantled.
//
// A Coordinator is itself a Refresher, so coordinators can wrap each other or
// any refresh source.
type Coordinator struct {
	refresher Refresher
	teardown  func()
	timeout   time.Duration
	logger    Logger

	mu         sync.Mutex
	refreshing bool // Idle <-> Refreshing
	waiters    []chan error
}

// Option is a functional option for configuring Coordinator.
type Option func(*Coordinator)

// WithTeardown sets the cleanup that runs when a cycle fails, typically
// session.Teardown.Run. It runs at most once per failed cycle.
func WithTeardown(fn func()) Option {
	return func(c *Coordinator) {
		c.teardown = fn
	}
}

// WithTimeout bounds each refresh cycle. The default of 0 leaves the cycle
// governed by the Refresher's own transport timeout. A timed-out cycle fails
// like any other refresh error.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

// WithLogger sets a custom logger for refresh cycle events.
// If not set, no logging will occur.
func WithLogger(logger Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithLoggingEnabled enables logging using the default Go log package.
// This is a convenience option that sets the logger to log.Default().
func WithLoggingEnabled() Option {
	return func(c *Coordinator) {
		c.logger = log.Default()
	}
}

// NewCoordinator creates a coordinator around the given refresh source.
func NewCoordinator(refresher Refresher, opts ...Option) *Coordinator {
	c := &Coordinator{
		refresher: refresher,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh ensures one refresh cycle runs and returns its outcome.
//
// If no cycle is in flight the caller drives one. Otherwise the caller is
// parked until the in-flight cycle settles and receives that cycle's outcome;
// a parked caller whose own context ends gives up with the context error
// without affecting the cycle. A nil return means the credential was rotated
// and the caller may retry; ErrRefreshFailed means the session is gone.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.refreshing {
		// Buffered so the driver never blocks on an abandoned waiter.
		waiter := make(chan error, 1)
		c.waiters = append(c.waiters, waiter)
		c.mu.Unlock()

		select {
		case err := <-waiter:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.refreshing = true
	c.mu.Unlock()

	return c.settle(c.runCycle(ctx))
}

// runCycle executes one refresh attempt as the driver.
func (c *Coordinator) runCycle(ctx context.Context) error {
	cycleID := uuid.NewString()

	// Keep the refresh independent from the driver's cancellation: parked
	// callers with live contexts still depend on its outcome.
	refreshCtx := context.WithoutCancel(ctx)
	cancel := func() {}
	if c.timeout > 0 {
		refreshCtx, cancel = context.WithTimeout(refreshCtx, c.timeout)
	}
	defer cancel()

	c.logf("refresh: cycle %s started", cycleID)
	if err := c.refresher.Refresh(refreshCtx); err != nil {
		c.logf("refresh: cycle %s failed: %v", cycleID, err)
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	c.logf("refresh: cycle %s succeeded", cycleID)
	return nil
}

// settle returns the coordinator to idle, runs teardown on failure and
// resolves the parked callers in arrival order.
func (c *Coordinator) settle(err error) error {
	c.mu.Lock()
	c.refreshing = false
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	if err != nil && c.teardown != nil {
		c.teardown()
	}

	for _, waiter := range waiters {
		waiter <- err
	}

	return err
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
