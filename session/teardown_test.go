package session

import (
	"sync"
	"testing"
)

// fakeNavigator records navigations and reflects them in its location, the
// way a browser shell would.
type fakeNavigator struct {
	mu          sync.Mutex
	location    string
	navigations []string
}

func (n *fakeNavigator) Location() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.location
}

func (n *fakeNavigator) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.location = path
	n.navigations = append(n.navigations, path)
}

func (n *fakeNavigator) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.navigations)
}

func TestTeardown_Run_ClearsAndNavigates(t *testing.T) {
	mirror := NewMemoryMirror()
	store := NewStore(WithMirror(mirror))
	if err := store.Set(testCredential()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	navigator := &fakeNavigator{location: "/incidents/42"}
	cleaned := false
	teardown := NewTeardown(store, navigator, WithCleanup(func() { cleaned = true }))

	teardown.Run()

	if _, ok := store.Get(); ok {
		t.Fatal("expected empty store after teardown")
	}
	if _, err := mirror.Load(); err == nil {
		t.Fatal("expected cleared mirror after teardown")
	}
	if !cleaned {
		t.Fatal("expected cleanup hook to run")
	}
	if navigator.Location() != DefaultLoginPath {
		t.Fatalf("unexpected location: %s", navigator.Location())
	}
	if navigator.count() != 1 {
		t.Fatalf("expected exactly one navigation, got %d", navigator.count())
	}
}

func TestTeardown_Run_AlreadyAtLogin(t *testing.T) {
	tests := []struct {
		name     string
		location string
	}{
		{"plain login path", "/login"},
		{"login path with query", "/login?next=%2Fincidents%2F42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore()
			if err := store.Set(testCredential()); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			navigator := &fakeNavigator{location: tt.location}
			teardown := NewTeardown(store, navigator)

			teardown.Run()

			if _, ok := store.Get(); ok {
				t.Fatal("expected empty store after teardown")
			}
			if navigator.count() != 0 {
				t.Fatalf("expected no navigation from the login surface, got %d", navigator.count())
			}
		})
	}
}

func TestTeardown_Run_Repeated(t *testing.T) {
	store := NewStore()
	if err := store.Set(testCredential()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	navigator := &fakeNavigator{location: "/alerts"}
	teardown := NewTeardown(store, navigator)

	teardown.Run()
	teardown.Run()
	teardown.Run()

	if navigator.count() != 1 {
		t.Fatalf("expected exactly one navigation, got %d", navigator.count())
	}
	if _, ok := store.Get(); ok {
		t.Fatal("expected empty store")
	}
}

func TestTeardown_Run_Concurrent(t *testing.T) {
	store := NewStore()
	if err := store.Set(testCredential()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	navigator := &fakeNavigator{location: "/traces/abc"}
	teardown := NewTeardown(store, navigator)

	const n = 16
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			teardown.Run()
		}()
	}
	close(start)
	wg.Wait()

	if navigator.count() != 1 {
		t.Fatalf("expected exactly one navigation across %d concurrent runs, got %d", n, navigator.count())
	}
	if _, ok := store.Get(); ok {
		t.Fatal("expected empty store")
	}
}

func TestTeardown_Run_CleanupPanicDoesNotStopTeardown(t *testing.T) {
	store := NewStore()
	if err := store.Set(testCredential()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	navigator := &fakeNavigator{location: "/incidents"}
	secondRan := false
	teardown := NewTeardown(store, navigator,
		WithCleanup(func() { panic("cookie jar gone") }),
		WithCleanup(func() { secondRan = true }),
	)

	teardown.Run()

	if !secondRan {
		t.Fatal("expected later cleanup hooks to run after a panic")
	}
	if navigator.count() != 1 {
		t.Fatalf("expected navigation despite cleanup panic, got %d", navigator.count())
	}
}

func TestTeardown_Run_CleanupOrder(t *testing.T) {
	var order []string
	teardown := NewTeardown(nil, nil,
		WithCleanup(func() { order = append(order, "first") }),
		WithCleanup(func() { order = append(order, "second") }),
	)

	teardown.Run()

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("unexpected cleanup order: %v", order)
	}
}

func TestTeardown_Run_NilStoreAndNavigator(t *testing.T) {
	teardown := NewTeardown(nil, nil)

	// Must not panic.
	teardown.Run()
}

func TestTeardown_Run_CustomLoginPath(t *testing.T) {
	store := NewStore()
	if err := store.Set(testCredential()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	navigator := &fakeNavigator{location: "/dashboards/7"}
	teardown := NewTeardown(store, navigator, WithLoginPath("/auth/login"))

	teardown.Run()

	if navigator.Location() != "/auth/login" {
		t.Fatalf("unexpected location: %s", navigator.Location())
	}
}

func TestNavigatorFuncs(t *testing.T) {
	location := "/incidents/9"
	var visited []string
	navigator := NavigatorFuncs{
		LocationFunc: func() string { return location },
		NavigateFunc: func(path string) { visited = append(visited, path) },
	}

	teardown := NewTeardown(nil, navigator)
	teardown.Run()

	if len(visited) != 1 || visited[0] != DefaultLoginPath {
		t.Fatalf("unexpected navigations: %v", visited)
	}
}

func TestNavigatorFuncs_NilFuncs(t *testing.T) {
	var navigator NavigatorFuncs

	if got := navigator.Location(); got != "" {
		t.Fatalf("unexpected location: %q", got)
	}

	// Must not panic; an empty location is never the login path, so Navigate
	// is reached.
	teardown := NewTeardown(nil, navigator)
	teardown.Run()
}

func TestTeardown_WithLogger_LogsCleanupPanic(t *testing.T) {
	logger := &stubLogger{}
	teardown := NewTeardown(nil, nil,
		WithTeardownLogger(logger),
		WithCleanup(func() { panic("cache drop failed") }),
	)

	teardown.Run()

	if !logger.contains("cleanup panicked") {
		t.Fatalf("expected the panic to be logged, got %v", logger.messages)
	}
}

func TestWithTeardownLoggingEnabled(t *testing.T) {
	teardown := NewTeardown(nil, nil, WithTeardownLoggingEnabled())
	if teardown.logger == nil {
		t.Fatal("expected a logger")
	}
}
