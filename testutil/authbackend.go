package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/raghavrallan/sre-copilot-sub000/session"
)

// Credentials and cookie name the fake backend accepts.
const (
	TestEmail         = "dana@example.com"
	TestPassword      = "correct-password-123"
	SessionCookieName = "copilot_session"
)

// AuthBackend simulates the platform auth endpoints over a real local HTTP
// server: login, refresh, switch-project, logout, plus a protected resource
// surface under /api/v1/ that rejects stale access tokens. Refresh calls are
// counted so tests can assert single-flight behavior.
type AuthBackend struct {
	Server *httptest.Server
	URL    string

	tb testing.TB

	mu           sync.Mutex
	userID       string
	displayName  string
	projects     []session.Project
	projectID    string
	currentToken string          // most recently minted token
	validTokens  map[string]bool // all tokens the backend still accepts
	sessionID    string          // value of the valid session cookie, empty when none
	refreshCalls int
}

// NewAuthBackend starts a fake auth backend with a default user who is an
// admin of proj-alpha, a viewer of proj-beta and a member of the deactivated
// proj-gamma. The server is closed via tb.Cleanup.
func NewAuthBackend(tb testing.TB) *AuthBackend {
	tb.Helper()

	backend := &AuthBackend{
		tb:          tb,
		userID:      "user-123",
		displayName: "Dana Ops",
		projects: []session.Project{
			{ID: "proj-alpha", Name: "Alpha", Role: "admin", Active: true},
			{ID: "proj-beta", Name: "Beta", Role: "viewer", Active: true},
			{ID: "proj-gamma", Name: "Gamma", Role: "viewer", Active: false},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", backend.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/refresh", backend.handleRefresh)
	mux.HandleFunc("POST /api/v1/auth/switch-project", backend.handleSwitchProject)
	mux.HandleFunc("POST /api/v1/auth/logout", backend.handleLogout)
	mux.HandleFunc("/api/v1/", backend.handleProtected)

	backend.Server = NewLocalHTTPServer(tb, mux)
	backend.URL = backend.Server.URL
	tb.Cleanup(backend.Server.Close)

	return backend
}

// RefreshCalls reports how many refresh requests reached the backend.
func (b *AuthBackend) RefreshCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshCalls
}

// ExpireAccessToken invalidates every token issued so far without telling
// the client, so its next protected request sees a 401. A refresh mints a
// fresh accepted token.
func (b *AuthBackend) ExpireAccessToken() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.validTokens = nil
}

// InvalidateSession drops the server-side session so refreshes stop working.
func (b *AuthBackend) InvalidateSession() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessionID = ""
}

// DeactivateProject flips a project inactive on the backend only, so a
// client holding an older project list sees its switch rejected.
func (b *AuthBackend) DeactivateProject(projectID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.projects {
		if b.projects[i].ID == projectID {
			b.projects[i].Active = false
			return
		}
	}
	b.tb.Fatalf("unknown project %s", projectID)
}

// CurrentToken returns the access token the backend currently accepts.
func (b *AuthBackend) CurrentToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentToken
}

// Credential returns a store-ready credential for the backend's current
// state, for tests that want to skip the login round trip.
func (b *AuthBackend) Credential() session.Credential {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.currentToken == "" {
		b.projectID = "proj-alpha"
		b.mintLocked()
	}
	projects := make([]session.Project, len(b.projects))
	copy(projects, b.projects)

	return session.Credential{
		Token:     b.currentToken,
		Identity:  session.Identity{UserID: b.userID, DisplayName: b.displayName},
		ProjectID: b.projectID,
		Projects:  projects,
	}
}

// mintLocked issues a token, records it as accepted and returns it. Older
// tokens stay accepted until ExpireAccessToken, matching expiry-based JWTs.
func (b *AuthBackend) mintLocked() string {
	token := MintToken(b.tb, b.userID, b.displayName, b.projectID, time.Now().Add(time.Hour))
	if b.validTokens == nil {
		b.validTokens = make(map[string]bool)
	}
	b.validTokens[token] = true
	b.currentToken = token
	return token
}

func (b *AuthBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed request"})
		return
	}
	if body.Email != TestEmail || body.Password != TestPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
		return
	}

	b.mu.Lock()
	b.sessionID = uuid.NewString()
	b.projectID = "proj-alpha"
	b.validTokens = nil // a fresh session starts with a clean slate
	token := b.mintLocked()
	sessionID := b.sessionID
	projects := make([]session.Project, len(b.projects))
	copy(projects, b.projects)
	b.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"projects":     projects,
	})
}

func (b *AuthBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookieName)

	b.mu.Lock()
	b.refreshCalls++
	valid := err == nil && b.sessionID != "" && cookie.Value == b.sessionID
	if !valid {
		b.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "session expired"})
		return
	}
	token := b.mintLocked()
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"access_token": token})
}

func (b *AuthBackend) handleSwitchProject(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
		return
	}

	var body struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "malformed request"})
		return
	}

	b.mu.Lock()
	var target *session.Project
	for i := range b.projects {
		if b.projects[i].ID == body.ProjectID {
			target = &b.projects[i]
			break
		}
	}
	if target == nil {
		b.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "project not found"})
		return
	}
	if !target.Active {
		b.mu.Unlock()
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "project is deactivated"})
		return
	}
	b.projectID = target.ID
	token := b.mintLocked()
	project := *target
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"project":      project,
	})
}

func (b *AuthBackend) handleLogout(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.sessionID = ""
	b.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:   SessionCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (b *AuthBackend) handleProtected(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": []string{}, "path": r.URL.Path})
}

func (b *AuthBackend) authorized(r *http.Request) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return token != "" && b.validTokens[token]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
