package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/raghavrallan/sre-copilot-sub000/internal/claims"
	"github.com/raghavrallan/sre-copilot-sub000/session"
)

// Auth endpoint paths, relative to the platform base URL.
const (
	loginPath   = "/api/v1/auth/login"
	refreshPath = "/api/v1/auth/refresh"
	switchPath  = "/api/v1/auth/switch-project"
	logoutPath  = "/api/v1/auth/logout"
)

// Logger is the minimal logging interface used by this package.
// It is satisfied by *log.Logger from the standard library.
type Logger interface {
	Printf(format string, args ...any)
}

var (
	// ErrProjectNotFound indicates the requested project is not in the
	// credential's project list.
	ErrProjectNotFound = errors.New("authclient: project not found")

	// ErrProjectInactive indicates the requested project exists but is
	// deactivated.
	ErrProjectInactive = errors.New("authclient: project is deactivated")

	// ErrAuthEndpoint indicates a non-success response from an auth endpoint.
	ErrAuthEndpoint = errors.New("authclient: auth endpoint request failed")
)

// APIError carries a structured auth endpoint failure.
type APIError struct {
	Status  int
	Message string
}

// Error returns a concise endpoint error message.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authclient: auth endpoint returned status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("authclient: auth endpoint returned status %d", e.Status)
}

// Is enables errors.Is(err, ErrAuthEndpoint).
func (e *APIError) Is(target error) bool {
	return target == ErrAuthEndpoint
}

// Client talks to the platform's auth endpoints: login, refresh, project
// switch and logout. It keeps the session.Store in step with what the
// backend issues.
//
// The client's HTTP client must carry a cookie jar: the refresh artifact is
// an HttpOnly cookie set at login and presented on every refresh.
type Client struct {
	baseURL  string
	http     *http.Client
	store    *session.Store
	teardown *session.Teardown
	logger   Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for auth endpoint calls. It must
// have a cookie jar. Pass the session-aware client from httpclient.Builder so
// that refresh calls share its exemption handling.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.http = httpClient
	}
}

// WithTeardown sets the teardown run by Logout.
// If not set, Logout falls back to clearing the store.
func WithTeardown(teardown *session.Teardown) Option {
	return func(c *Client) {
		c.teardown = teardown
	}
}

// WithLogger sets a custom logger for auth flow events.
// If not set, no logging will occur.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithLoggingEnabled enables logging using the default Go log package.
func WithLoggingEnabled() Option {
	return func(c *Client) {
		c.logger = log.Default()
	}
}

// NewClient creates an auth endpoint client.
//
// Parameters:
//   - baseURL: Platform base URL, e.g. "https://copilot.example.com"
//   - store: Credential store kept in step with the backend
//   - opts: Optional configuration
//
// Returns:
//   - *Client: Configured client
//   - error: Error if required arguments are missing
func NewClient(baseURL string, store *session.Store, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("authclient: base URL is required")
	}
	if store == nil {
		return nil, errors.New("authclient: session store is required")
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		store:   store,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("authclient: cookie jar failed: %w", err)
		}
		c.http = &http.Client{Jar: jar, Timeout: 30 * time.Second}
	}
	if c.http.Jar == nil {
		return nil, errors.New("authclient: the HTTP client needs a cookie jar for the refresh artifact")
	}

	return c, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string            `json:"access_token"`
	Projects    []session.Project `json:"projects"`
}

type switchRequest struct {
	ProjectID string `json:"project_id"`
}

type switchResponse struct {
	AccessToken string          `json:"access_token"`
	Project     session.Project `json:"project"`
}

// Login authenticates with email and password and populates the store with
// the issued credential. Identity and the working project come from the
// access token's claims; the project list comes from the response body.
//
// The login endpoint is exempt from refresh handling, so a 401 here surfaces
// as an *APIError, never as a refresh cycle.
func (c *Client) Login(ctx context.Context, email, password string) (session.Credential, error) {
	if email == "" || password == "" {
		return session.Credential{}, errors.New("authclient: email and password are required")
	}

	var payload loginResponse
	err := c.doJSON(ctx, loginPath, loginRequest{Email: email, Password: password}, &payload, false)
	if err != nil {
		return session.Credential{}, err
	}

	decoded, err := claims.Decode(payload.AccessToken)
	if err != nil {
		return session.Credential{}, fmt.Errorf("authclient: login token rejected: %w", err)
	}

	projectID := decoded.ProjectID
	if projectID == "" {
		for _, project := range payload.Projects {
			if project.Active {
				projectID = project.ID
				break
			}
		}
	}

	credential := session.Credential{
		Token: payload.AccessToken,
		Identity: session.Identity{
			UserID:      decoded.Subject,
			DisplayName: decoded.DisplayName,
		},
		ProjectID: projectID,
		Projects:  payload.Projects,
	}
	if err := c.store.Set(credential); err != nil {
		return session.Credential{}, fmt.Errorf("authclient: login credential rejected: %w", err)
	}

	c.logf("authclient: logged in as %s, working project %s", decoded.Subject, projectID)
	return credential, nil
}

// Refresh rotates the access token through POST /api/v1/auth/refresh. The
// request carries no body: the rotation rides the HttpOnly session cookie in
// the client's jar. When the response carries a new access token it replaces
// the stored one; an empty response means the cookie artifact alone rotated.
//
// Refresh satisfies refresh.Refresher, so the client plugs straight into a
// refresh.Coordinator.
func (c *Client) Refresh(ctx context.Context) error {
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.doJSON(ctx, refreshPath, nil, &payload, false); err != nil {
		return err
	}

	if payload.AccessToken == "" {
		return nil
	}
	if err := c.store.ReplaceToken(payload.AccessToken); err != nil {
		return fmt.Errorf("authclient: refreshed token rejected: %w", err)
	}

	c.logf("authclient: access token rotated")
	return nil
}

// SwitchProject changes the working project. The project must be an active
// member of the credential's project list; requests for unknown or
// deactivated projects fail locally with ErrProjectNotFound or
// ErrProjectInactive and never reach the backend.
//
// On success the store is updated atomically with the re-scoped token and
// the returned project. A backend rejection surfaces as an *APIError and
// leaves the store untouched: the current session stays valid.
func (c *Client) SwitchProject(ctx context.Context, projectID string) (session.Project, error) {
	if projectID == "" {
		return session.Project{}, errors.New("authclient: project ID is required")
	}

	credential, ok := c.store.Get()
	if !ok {
		return session.Project{}, session.ErrNoCredential
	}

	known, ok := credential.FindProject(projectID)
	if !ok {
		return session.Project{}, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	if !known.Active {
		return session.Project{}, fmt.Errorf("%w: %s", ErrProjectInactive, projectID)
	}

	var payload switchResponse
	err := c.doJSON(ctx, switchPath, switchRequest{ProjectID: projectID}, &payload, true)
	if err != nil {
		return session.Project{}, err
	}

	if err := c.store.ApplySwitch(payload.AccessToken, payload.Project); err != nil {
		return session.Project{}, fmt.Errorf("authclient: switch result rejected: %w", err)
	}

	c.logf("authclient: working project switched to %s", payload.Project.ID)
	return payload.Project, nil
}

// Logout best-effort revokes the backend session, then tears the local
// session down. Teardown runs even when the revoke call fails; the returned
// error is always nil today and reserved for future use.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.doJSON(ctx, logoutPath, nil, nil, true); err != nil {
		c.logf("authclient: logout call failed: %v", err)
	}

	if c.teardown != nil {
		c.teardown.Run()
		return nil
	}
	c.store.Clear()
	return nil
}

// doJSON POSTs a JSON request to an auth endpoint and decodes a 2xx response
// into out. Non-2xx responses become an *APIError. An empty response body is
// tolerated when out is non-nil.
func (c *Client) doJSON(ctx context.Context, path string, in, out any, authenticated bool) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("authclient: failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("authclient: failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		if token, ok := c.store.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("authclient: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp)
	}

	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("authclient: failed to decode %s response: %w", path, err)
	}
	return nil
}

// newAPIError converts a non-2xx response into an *APIError, picking up the
// backend's message field when one is present.
func newAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload); err == nil {
		apiErr.Message = payload.Message
	}
	return apiErr
}

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
