package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/raghavrallan/sre-copilot-sub000/refresh"
	"github.com/raghavrallan/sre-copilot-sub000/session"
)

// Logger is an interface for optional logging in SessionTransport.
// Implementations can log credential recovery events if desired.
type Logger interface {
	Printf(format string, args ...any)
}

// RequestIDHeader carries the correlation ID stamped on every outgoing
// request. A replayed attempt reuses the ID of its original attempt.
const RequestIDHeader = "X-Request-ID"

// defaultExemptPathFragments mark the auth surfaces whose 401 responses are
// verdicts for the caller (bad password, dead session) rather than signals
// that the current credential expired. Matching is by substring so mounted
// API prefixes still count.
var defaultExemptPathFragments = []string{
	"/auth/login",
	"/auth/register",
	"/auth/refresh",
}

// retryEligibility is the classifier's verdict on a response.
type retryEligibility int

const (
	// retryEligible: expired-credential signal on a protected request that
	// has not been replayed yet.
	retryEligible retryEligibility = iota
	// ineligibleStatus: not an authentication failure.
	ineligibleStatus
	// ineligibleExemptPath: a 401 from an auth surface is the answer itself.
	ineligibleExemptPath
	// ineligibleAlreadyRetried: one replay per request; a second 401 is final.
	ineligibleAlreadyRetried
)

// SessionTransport is an http.RoundTripper that authenticates platform
// requests from the session store and transparently recovers from expired
// credentials.
//
// Each attempt reads the store at send time, attaches the access token as
// "Authorization: Bearer <token>" when a credential is present and stamps a
// correlation ID. A 401 on a protected path hands control to the refresh
// coordinator; after a successful refresh the original request is replayed
// exactly once with the rotated credential. 401s from exempt auth paths,
// 401s on already replayed attempts and every non-401 response pass through
// untouched.
type SessionTransport struct {
	// Base is the underlying HTTP transport. If nil, http.DefaultTransport is used.
	Base http.RoundTripper

	// Store provides the session credential to attach. Requests go out
	// unauthenticated while the store is empty (the login flow itself).
	Store *session.Store

	// Coordinator funnels expired-credential recovery into single refresh
	// cycles. If nil, 401 responses pass through untouched.
	Coordinator *refresh.Coordinator

	exemptFragments []string
	logger          Logger
}

// TransportOption is a functional option for configuring SessionTransport.
type TransportOption func(*SessionTransport)

// WithExtraExemptPaths registers additional path fragments whose 401
// responses must never trigger a refresh, on top of the built-in auth
// surfaces (/auth/login, /auth/register, /auth/refresh).
func WithExtraExemptPaths(fragments ...string) TransportOption {
	return func(t *SessionTransport) {
		t.exemptFragments = append(t.exemptFragments, fragments...)
	}
}

// WithTransportLogger sets a custom logger for recovery events.
// If not set, no logging will occur.
func WithTransportLogger(logger Logger) TransportOption {
	return func(t *SessionTransport) {
		t.logger = logger
	}
}

// NewSessionTransport creates a transport that authenticates from the given
// store and recovers expired credentials through the given coordinator. The
// base transport defaults to http.DefaultTransport if not specified.
func NewSessionTransport(store *session.Store, coordinator *refresh.Coordinator, base http.RoundTripper, opts ...TransportOption) *SessionTransport {
	if base == nil {
		base = http.DefaultTransport
	}

	t := &SessionTransport{
		Base:            base,
		Store:           store,
		Coordinator:     coordinator,
		exemptFragments: append([]string(nil), defaultExemptPathFragments...),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip implements the http.RoundTripper interface.
func (t *SessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	source, body, err := replayState(req)
	if err != nil {
		return nil, err
	}

	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	retried := false
	for {
		resp, err := t.send(req, body, source, requestID)
		if err != nil {
			return nil, err
		}
		if t.Coordinator == nil {
			return resp, nil
		}

		verdict := t.classify(req, resp, retried)
		if verdict != retryEligible {
			if verdict == ineligibleAlreadyRetried {
				t.logf("httpclient: %s %s still unauthorized after refresh (request %s)", req.Method, req.URL.Path, requestID)
			}
			return resp, nil
		}

		// Release the connection before the refresh and the replay.
		drainAndClose(resp)
		t.logf("httpclient: expired credential on %s %s (request %s), refreshing", req.Method, req.URL.Path, requestID)

		if err := t.Coordinator.Refresh(req.Context()); err != nil {
			return nil, fmt.Errorf("httpclient: %s %s not retried: %w", req.Method, req.URL.Path, err)
		}

		if source != nil {
			body, err = source()
			if err != nil {
				return nil, fmt.Errorf("httpclient: failed to rewind request body: %w", err)
			}
		}
		retried = true
	}
}

// send dispatches one attempt. The original request is never modified; each
// attempt is a fresh clone carrying the current token from the store.
func (t *SessionTransport) send(req *http.Request, body io.ReadCloser, source func() (io.ReadCloser, error), requestID string) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Body = body
	if source != nil {
		clone.GetBody = source
	}

	if t.Store != nil {
		if token, ok := t.Store.Token(); ok {
			clone.Header.Set("Authorization", "Bearer "+token)
		}
	}
	clone.Header.Set(RequestIDHeader, requestID)

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

// classify decides whether a response may trigger a coordinated refresh and
// a replay.
func (t *SessionTransport) classify(req *http.Request, resp *http.Response, retried bool) retryEligibility {
	if resp.StatusCode != http.StatusUnauthorized {
		return ineligibleStatus
	}
	if t.isExempt(req.URL.Path) {
		return ineligibleExemptPath
	}
	if retried {
		return ineligibleAlreadyRetried
	}
	return retryEligible
}

func (t *SessionTransport) isExempt(path string) bool {
	for _, fragment := range t.exemptFragments {
		if strings.Contains(path, fragment) {
			return true
		}
	}
	return false
}

func (t *SessionTransport) logf(format string, args ...any) {
	if t.logger != nil {
		t.logger.Printf(format, args...)
	}
}

// replayState prepares a request for a possible replay: the returned body
// feeds the first attempt and the source produces a fresh body per further
// attempt. Bodies without GetBody are buffered once up front.
func replayState(req *http.Request) (func() (io.ReadCloser, error), io.ReadCloser, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req.GetBody, req.Body, nil
	}
	if req.GetBody != nil {
		return req.GetBody, req.Body, nil
	}

	buffered, err := io.ReadAll(req.Body)
	closeErr := req.Body.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("httpclient: failed to buffer request body: %w", err)
	}
	if closeErr != nil {
		return nil, nil, fmt.Errorf("httpclient: failed to close request body: %w", closeErr)
	}

	source := func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buffered)), nil
	}
	first, _ := source()
	return source, first, nil
}

// drainAndClose consumes the rest of a response body so the underlying
// connection can be reused.
func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
