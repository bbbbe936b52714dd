package clientcreds

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/raghavrallan/sre-copilot-sub000/internal/claims"
	"github.com/raghavrallan/sre-copilot-sub000/session"
)

// Role recorded for the synthesized project entry of a machine credential.
const serviceRole = "service"

// Logger is an interface for optional logging in Source.
// Implementations can log token fetch events if desired.
type Logger interface {
	Printf(format string, args ...any)
}

// Source obtains machine credentials through the OAuth2 client credentials
// flow and keeps a session.Store in step with the fetched tokens. It is safe
// for concurrent access.
//
// Source implements refresh.Refresher: a 401-driven recovery cycle forces a
// fresh token fetch, so machine clients share the same coordinator
// single-flight as interactive sessions.
type Source struct {
	config       *clientcredentials.Config
	store        *session.Store // optional; nil means cache-only operation
	token        *oauth2.Token
	mu           sync.RWMutex
	ctx          context.Context // fallback context for nil-context callers
	expiryLeeway time.Duration
	logger       Logger // optional logger
}

// Option is a functional option for configuring Source.
type Option func(*Source)

// WithStore sets the session store fed by Bootstrap and Refresh.
// Without a store, Source only maintains its internal token cache.
func WithStore(store *session.Store) Option {
	return func(s *Source) {
		s.store = store
	}
}

// WithExpiryLeeway sets how long before expiry a cached token is already
// treated as stale. Default is one minute.
func WithExpiryLeeway(leeway time.Duration) Option {
	return func(s *Source) {
		s.expiryLeeway = leeway
	}
}

// WithLogger sets a custom logger for token fetch events.
// If not set, no logging will occur.
func WithLogger(logger Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// WithLoggingEnabled enables logging using the default Go log package.
// This is a convenience option that sets the logger to log.Default().
func WithLoggingEnabled() Option {
	return func(s *Source) {
		s.logger = log.Default()
	}
}

// NewSource creates a machine credential source using the client credentials flow.
//
// Parameters:
//   - ctx: Context for token requests (used as fallback for nil-context callers)
//   - tokenURL: OAuth2 token endpoint (e.g., "https://auth.example.com/oauth/v2/token")
//   - clientID: OAuth2 client identifier
//   - clientSecret: OAuth2 client secret
//   - scopes: Space-separated list of OAuth2 scopes (e.g., "openid profile email")
//   - opts: Optional configuration options (WithStore, WithLogger, ...)
func NewSource(ctx context.Context, tokenURL, clientID, clientSecret, scopes string, opts ...Option) *Source {
	// Split scopes by whitespace to avoid sending a single concatenated scope.
	scopesList := strings.Fields(scopes)

	// Keep token requests independent from caller cancellations while preserving values.
	if ctx == nil {
		ctx = context.Background()
	} else {
		ctx = context.WithoutCancel(ctx)
	}

	config := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopesList,
	}

	s := &Source{
		config:       config,
		ctx:          ctx,
		expiryLeeway: time.Minute, // refresh a bit before expiry to avoid near-expiry races
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Token returns a valid access token, fetching one if the cache is empty or
// close to expiry. It is thread-safe and uses double-checked locking to
// minimize lock contention.
//
// Parameters:
//   - ctx: Context for the token request (nil falls back to the constructor context)
//
// Returns:
//   - string: Valid access token
//   - error: Error if the token fetch fails or the context is cancelled
func (s *Source) Token(ctx context.Context) (string, error) {
	if ctx == nil {
		ctx = s.ctx
	}

	// Fast path: check if we have a valid token without write lock
	s.mu.RLock()
	if s.tokenValid() {
		token := s.token.AccessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock (another goroutine might have fetched)
	if s.tokenValid() {
		return s.token.AccessToken, nil
	}

	token, err := s.fetchLocked(ctx)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// Bootstrap fetches a token (or reuses a still-valid cached one) and installs
// the machine credential in the store. The identity and project scope come
// from the token's claims.
func (s *Source) Bootstrap(ctx context.Context) error {
	token, err := s.Token(ctx)
	if err != nil {
		return err
	}
	return s.syncStore(token)
}

// Refresh forces a fresh token fetch and pushes the result into the store,
// regardless of what the cached expiry says: the caller just saw the current
// token rejected. Satisfies refresh.Refresher.
func (s *Source) Refresh(ctx context.Context) error {
	if ctx == nil {
		ctx = s.ctx
	}

	s.mu.Lock()
	s.token = nil
	token, err := s.fetchLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	return s.syncStore(token.AccessToken)
}

// fetchLocked fetches a new token and caches it. Callers hold the write lock.
func (s *Source) fetchLocked(ctx context.Context) (*oauth2.Token, error) {
	token, err := s.config.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("clientcreds: failed to fetch token: %w", err)
	}

	s.token = token

	if s.logger != nil {
		s.logger.Printf("clientcreds: obtained new access token (expires: %s)", token.Expiry.Format(time.RFC3339))
	}

	return token, nil
}

// syncStore pushes an access token into the store. A populated store gets a
// token swap; an empty one (first bootstrap, or cleared by a teardown) gets
// the full credential rebuilt from the token's claims.
func (s *Source) syncStore(accessToken string) error {
	if s.store == nil {
		return nil
	}

	err := s.store.ReplaceToken(accessToken)
	if errors.Is(err, session.ErrNoCredential) {
		credential, cerr := s.credentialFromToken(accessToken)
		if cerr != nil {
			return cerr
		}
		if serr := s.store.Set(credential); serr != nil {
			return fmt.Errorf("clientcreds: store update failed: %w", serr)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("clientcreds: store update failed: %w", err)
	}
	return nil
}

// credentialFromToken builds a store credential for a machine token. The
// project list is synthesized from the token's single project scope.
func (s *Source) credentialFromToken(accessToken string) (session.Credential, error) {
	decoded, err := claims.Decode(accessToken)
	if err != nil {
		return session.Credential{}, fmt.Errorf("clientcreds: token claims rejected: %w", err)
	}
	if decoded.ProjectID == "" {
		return session.Credential{}, errors.New("clientcreds: token carries no project scope")
	}

	return session.Credential{
		Token: accessToken,
		Identity: session.Identity{
			UserID:      decoded.Subject,
			DisplayName: decoded.DisplayName,
		},
		ProjectID: decoded.ProjectID,
		Projects: []session.Project{
			{ID: decoded.ProjectID, Role: serviceRole, Active: true},
		},
	}, nil
}

// tokenValid reports whether the cached token is still usable with a small safety window.
func (s *Source) tokenValid() bool {
	if s.token == nil {
		return false
	}
	// If expiry is known, consider the leeway window.
	if !s.token.Expiry.IsZero() {
		if time.Until(s.token.Expiry) <= s.expiryLeeway {
			return false
		}
	}
	return s.token.Valid()
}
