package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedRefresher is a controllable refresh source. When release is set,
// Refresh blocks until the channel is closed (or, with honorContext, until
// the context ends).
type scriptedRefresher struct {
	mu           sync.Mutex
	calls        int
	err          error
	release      chan struct{}
	honorContext bool
	observedCtx  []error // ctx.Err() at completion, per call
}

func (r *scriptedRefresher) Refresh(ctx context.Context) error {
	r.mu.Lock()
	r.calls++
	release := r.release
	err := r.err
	honor := r.honorContext
	r.mu.Unlock()

	if release != nil {
		if honor {
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			<-release
		}
	}

	r.mu.Lock()
	r.observedCtx = append(r.observedCtx, ctx.Err())
	r.mu.Unlock()
	return err
}

func (r *scriptedRefresher) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *scriptedRefresher) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func waiterCount(c *Coordinator) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not reached in time: %s", msg)
}

func TestCoordinator_Refresh_Success(t *testing.T) {
	refresher := &scriptedRefresher{}
	coordinator := NewCoordinator(refresher)

	if err := coordinator.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refresher.callCount() != 1 {
		t.Fatalf("expected one refresh call, got %d", refresher.callCount())
	}
}

func TestCoordinator_Refresh_Failure(t *testing.T) {
	cause := errors.New("backend unavailable")
	refresher := &scriptedRefresher{err: cause}
	var teardowns atomic.Int32
	coordinator := NewCoordinator(refresher, WithTeardown(func() { teardowns.Add(1) }))

	err := coordinator.Refresh(context.Background())
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be wrapped, got %v", err)
	}
	if teardowns.Load() != 1 {
		t.Fatalf("expected exactly one teardown, got %d", teardowns.Load())
	}
}

func TestCoordinator_Refresh_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	refresher := &scriptedRefresher{release: release}
	coordinator := NewCoordinator(refresher)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	results := make(chan error, n)

	// First caller becomes the driver and blocks inside the refresher.
	go func() {
		defer wg.Done()
		results <- coordinator.Refresh(context.Background())
	}()
	eventually(t, func() bool { return refresher.callCount() == 1 }, "driver in flight")

	// Everyone else arrives mid-cycle and must be parked, not refreshing.
	for i := 0; i < n-1; i++ {
		go func() {
			defer wg.Done()
			results <- coordinator.Refresh(context.Background())
		}()
	}
	eventually(t, func() bool { return waiterCount(coordinator) == n-1 }, "waiters parked")

	close(release)
	wg.Wait()
	close(results)

	for err := range results {
		if err != nil {
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if refresher.callCount() != 1 {
		t.Fatalf("expected exactly one refresh across %d callers, got %d", n, refresher.callCount())
	}
}

func TestCoordinator_Refresh_FailureFansOutAfterTeardown(t *testing.T) {
	release := make(chan struct{})
	refresher := &scriptedRefresher{release: release, err: errors.New("refresh rejected")}

	var tornDown atomic.Bool
	var teardowns atomic.Int32
	coordinator := NewCoordinator(refresher, WithTeardown(func() {
		tornDown.Store(true)
		teardowns.Add(1)
	}))

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	results := make(chan error, n)
	// Set when any caller resolves before teardown has run.
	var resolvedEarly atomic.Bool

	go func() {
		defer wg.Done()
		err := coordinator.Refresh(context.Background())
		if !tornDown.Load() {
			resolvedEarly.Store(true)
		}
		results <- err
	}()
	eventually(t, func() bool { return refresher.callCount() == 1 }, "driver in flight")

	for i := 0; i < n-1; i++ {
		go func() {
			defer wg.Done()
			err := coordinator.Refresh(context.Background())
			if !tornDown.Load() {
				resolvedEarly.Store(true)
			}
			results <- err
		}()
	}
	eventually(t, func() bool { return waiterCount(coordinator) == n-1 }, "waiters parked")

	close(release)
	wg.Wait()
	close(results)

	for err := range results {
		if !errors.Is(err, ErrRefreshFailed) {
			t.Fatalf("expected ErrRefreshFailed for every caller, got %v", err)
		}
	}
	if refresher.callCount() != 1 {
		t.Fatalf("expected exactly one refresh attempt, got %d", refresher.callCount())
	}
	if teardowns.Load() != 1 {
		t.Fatalf("expected exactly one teardown, got %d", teardowns.Load())
	}
	if resolvedEarly.Load() {
		t.Fatal("a caller resolved before teardown completed")
	}
}

func TestCoordinator_Refresh_WaiterContextCancelled(t *testing.T) {
	release := make(chan struct{})
	refresher := &scriptedRefresher{release: release}
	coordinator := NewCoordinator(refresher)

	driverDone := make(chan error, 1)
	go func() {
		driverDone <- coordinator.Refresh(context.Background())
	}()
	eventually(t, func() bool { return refresher.callCount() == 1 }, "driver in flight")

	waiterCtx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan error, 1)
	go func() {
		waiterDone <- coordinator.Refresh(waiterCtx)
	}()
	eventually(t, func() bool { return waiterCount(coordinator) == 1 }, "waiter parked")

	cancel()
	select {
	case err := <-waiterDone:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled waiter did not return")
	}

	// The abandoned waiter must not affect the cycle.
	close(release)
	if err := <-driverDone; err != nil {
		t.Fatalf("unexpected driver error: %v", err)
	}
	if refresher.callCount() != 1 {
		t.Fatalf("expected one refresh call, got %d", refresher.callCount())
	}
}

func TestCoordinator_Refresh_ReusableAfterFailure(t *testing.T) {
	refresher := &scriptedRefresher{err: errors.New("backend 500")}
	var teardowns atomic.Int32
	coordinator := NewCoordinator(refresher, WithTeardown(func() { teardowns.Add(1) }))

	if err := coordinator.Refresh(context.Background()); !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}

	// A later login starts a fresh cycle on the same coordinator.
	refresher.setErr(nil)
	if err := coordinator.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refresher.callCount() != 2 {
		t.Fatalf("expected two refresh calls, got %d", refresher.callCount())
	}
	if teardowns.Load() != 1 {
		t.Fatalf("expected one teardown, got %d", teardowns.Load())
	}
}

func TestCoordinator_Refresh_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	refresher := &scriptedRefresher{release: release, honorContext: true}

	var teardowns atomic.Int32
	coordinator := NewCoordinator(refresher,
		WithTimeout(30*time.Millisecond),
		WithTeardown(func() { teardowns.Add(1) }),
	)

	err := coordinator.Refresh(context.Background())
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline cause, got %v", err)
	}
	if teardowns.Load() != 1 {
		t.Fatalf("expected one teardown, got %d", teardowns.Load())
	}
}

func TestCoordinator_Refresh_DriverCancellationDoesNotAbortCycle(t *testing.T) {
	release := make(chan struct{})
	refresher := &scriptedRefresher{release: release}
	coordinator := NewCoordinator(refresher)

	ctx, cancel := context.WithCancel(context.Background())
	driverDone := make(chan error, 1)
	go func() {
		driverDone <- coordinator.Refresh(ctx)
	}()
	eventually(t, func() bool { return refresher.callCount() == 1 }, "driver in flight")

	// Cancelling the driver must not cancel the refresh itself.
	cancel()
	close(release)

	if err := <-driverDone; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	refresher.mu.Lock()
	observed := append([]error(nil), refresher.observedCtx...)
	refresher.mu.Unlock()
	if len(observed) != 1 || observed[0] != nil {
		t.Fatalf("refresh context must outlive the driver, observed %v", observed)
	}
}

func TestCoordinator_Refresh_NilContext(t *testing.T) {
	refresher := &scriptedRefresher{}
	coordinator := NewCoordinator(refresher)

	if err := coordinator.Refresh(nil); err != nil { //nolint:staticcheck // nil context on purpose
		t.Fatalf("unexpected error: %v", err)
	}
}

type stubLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *stubLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf(format, args...))
}

func TestCoordinator_WithLogger_LogsCycleOutcome(t *testing.T) {
	logger := &stubLogger{}
	refresher := &scriptedRefresher{}
	coordinator := NewCoordinator(refresher, WithLogger(logger))

	if err := coordinator.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	refresher.setErr(errors.New("backend 500"))
	if err := coordinator.Refresh(context.Background()); err == nil {
		t.Fatal("expected an error")
	}

	logger.mu.Lock()
	messages := append([]string(nil), logger.messages...)
	logger.mu.Unlock()

	var succeeded, failed bool
	for _, message := range messages {
		if strings.Contains(message, "succeeded") {
			succeeded = true
		}
		if strings.Contains(message, "failed") {
			failed = true
		}
	}
	if !succeeded || !failed {
		t.Fatalf("expected both outcomes logged, got %v", messages)
	}
}

func TestCoordinator_WithLoggingEnabled_SetsLogger(t *testing.T) {
	coordinator := NewCoordinator(&scriptedRefresher{}, WithLoggingEnabled())
	if coordinator.logger == nil {
		t.Fatal("expected a logger")
	}
}

func TestRefresherFunc(t *testing.T) {
	called := false
	fn := RefresherFunc(func(ctx context.Context) error {
		called = true
		return nil
	})

	if err := fn.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected adapter to call the function")
	}
}
