package authclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"testing"
	"time"

	"github.com/raghavrallan/sre-copilot-sub000/authclient"
	"github.com/raghavrallan/sre-copilot-sub000/httpclient"
	"github.com/raghavrallan/sre-copilot-sub000/refresh"
	"github.com/raghavrallan/sre-copilot-sub000/session"
	"github.com/raghavrallan/sre-copilot-sub000/testutil"
)

// sessionStack is the full client-side wiring: store, teardown, coordinator,
// session-aware HTTP client and auth client, all sharing one cookie jar.
type sessionStack struct {
	backend   *testutil.AuthBackend
	store     *session.Store
	navigator *testutil.RecordingNavigator
	client    *http.Client
	api       *authclient.Client
}

func newSessionStack(t *testing.T) *sessionStack {
	t.Helper()

	backend := testutil.NewAuthBackend(t)
	store := session.NewStore()
	navigator := testutil.NewRecordingNavigator("/incidents/42")
	teardown := session.NewTeardown(store, navigator)

	// The coordinator's refresher closes over the auth client, which in turn
	// rides the session-aware HTTP client built below.
	var api *authclient.Client
	coordinator := refresh.NewCoordinator(
		refresh.RefresherFunc(func(ctx context.Context) error {
			return api.Refresh(ctx)
		}),
		refresh.WithTeardown(teardown.Run),
	)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("failed to create cookie jar: %v", err)
	}

	client, err := httpclient.NewBuilder().
		WithSession(store, coordinator).
		WithCookieJar(jar).
		WithTimeout(5 * time.Second).
		Build()
	if err != nil {
		t.Fatalf("failed to build HTTP client: %v", err)
	}

	api, err = authclient.NewClient(backend.URL, store,
		authclient.WithHTTPClient(client),
		authclient.WithTeardown(teardown),
	)
	if err != nil {
		t.Fatalf("failed to create auth client: %v", err)
	}

	return &sessionStack{
		backend:   backend,
		store:     store,
		navigator: navigator,
		client:    client,
		api:       api,
	}
}

func (s *sessionStack) login(t *testing.T) {
	t.Helper()

	_, err := s.api.Login(context.Background(), testutil.TestEmail, testutil.TestPassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
}

func (s *sessionStack) getProtected(t *testing.T) (*http.Response, error) {
	t.Helper()
	return s.client.Get(s.backend.URL + "/api/v1/incidents")
}

func TestSessionLifecycle_ExpiredTokenRecovery(t *testing.T) {
	stack := newSessionStack(t)
	stack.login(t)

	resp, err := stack.getProtected(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 right after login, got %d", resp.StatusCode)
	}

	stack.backend.ExpireAccessToken()

	resp, err = stack.getProtected(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected the expired token to be recovered, got %d", resp.StatusCode)
	}
	if got := stack.backend.RefreshCalls(); got != 1 {
		t.Errorf("expected 1 refresh call, got %d", got)
	}
}

func TestSessionLifecycle_ConcurrentExpiry(t *testing.T) {
	stack := newSessionStack(t)
	stack.login(t)

	stack.backend.ExpireAccessToken()

	const n = 8
	var wg sync.WaitGroup
	statuses := make(chan int, n)
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := stack.getProtected(t)
			if err != nil {
				errs <- err
				return
			}
			defer resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}

	wg.Wait()
	close(statuses)
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	for status := range statuses {
		if status != http.StatusOK {
			t.Errorf("expected every request to recover, got %d", status)
		}
	}

	// All concurrent 401s funnel into refresh cycles; with one rotation on
	// the backend, at most a couple of cycles can run, never one per request.
	if got := stack.backend.RefreshCalls(); got >= n {
		t.Errorf("expected coalesced refreshes, got %d for %d requests", got, n)
	}
}

func TestSessionLifecycle_ProjectSwitch(t *testing.T) {
	stack := newSessionStack(t)
	stack.login(t)

	project, err := stack.api.SwitchProject(context.Background(), "proj-beta")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if project.ID != "proj-beta" {
		t.Errorf("expected proj-beta, got %q", project.ID)
	}

	// The re-scoped token must work against the backend immediately.
	resp, err := stack.getProtected(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with the re-scoped token, got %d", resp.StatusCode)
	}

	credential, ok := stack.store.Get()
	if !ok {
		t.Fatal("expected a credential")
	}
	if credential.ProjectID != "proj-beta" {
		t.Errorf("expected working project proj-beta, got %q", credential.ProjectID)
	}
}

func TestSessionLifecycle_SwitchRejectionKeepsSession(t *testing.T) {
	stack := newSessionStack(t)
	stack.login(t)

	// The backend deactivates the project after login, so the client's list
	// still shows it active and the rejection comes from the wire.
	stack.backend.DeactivateProject("proj-beta")

	_, err := stack.api.SwitchProject(context.Background(), "proj-beta")
	if err == nil {
		t.Fatal("expected an error")
	}

	var apiErr *authclient.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got: %v", err)
	}
	if apiErr.Status != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", apiErr.Status)
	}

	// The rejection must not tear the session down.
	if len(stack.navigator.Visits()) != 0 {
		t.Error("expected no navigation after a rejected switch")
	}
	credential, ok := stack.store.Get()
	if !ok {
		t.Fatal("expected the credential to survive")
	}
	if credential.ProjectID != "proj-alpha" {
		t.Errorf("expected the working project unchanged, got %q", credential.ProjectID)
	}

	resp, err := stack.getProtected(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected the session to keep working, got %d", resp.StatusCode)
	}
}

func TestSessionLifecycle_DeadSessionSingleTeardown(t *testing.T) {
	stack := newSessionStack(t)
	stack.login(t)

	stack.backend.InvalidateSession()
	stack.backend.ExpireAccessToken()

	_, err := stack.getProtected(t)
	if err == nil {
		t.Fatal("expected an error once the session is dead")
	}
	if !errors.Is(err, refresh.ErrRefreshFailed) {
		t.Errorf("expected ErrRefreshFailed in the chain, got: %v", err)
	}

	if _, ok := stack.store.Get(); ok {
		t.Error("expected the store to be cleared")
	}
	if stack.navigator.Location() != "/login" {
		t.Errorf("expected navigation to /login, got %q", stack.navigator.Location())
	}
	if visits := stack.navigator.Visits(); len(visits) != 1 {
		t.Errorf("expected exactly 1 navigation, got %d", len(visits))
	}

	// Logging back in restores a fully working session.
	stack.login(t)

	resp, err := stack.getProtected(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 after re-login, got %d", resp.StatusCode)
	}
	if visits := stack.navigator.Visits(); len(visits) != 1 {
		t.Errorf("expected no extra navigations after re-login, got %d", len(visits))
	}
}

func TestSessionLifecycle_LogoutThenLogin(t *testing.T) {
	stack := newSessionStack(t)
	stack.login(t)

	if err := stack.api.Logout(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := stack.store.Get(); ok {
		t.Error("expected the store to be cleared")
	}
	if stack.navigator.Location() != "/login" {
		t.Errorf("expected navigation to /login, got %q", stack.navigator.Location())
	}

	stack.login(t)

	resp, err := stack.getProtected(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected a working session after re-login, got %d", resp.StatusCode)
	}
}
