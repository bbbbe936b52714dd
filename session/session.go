package session

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

// Logger is an interface for optional logging in this package.
// Implementations can log mirror and teardown events if desired.
type Logger interface {
	Printf(format string, args ...any)
}

// Identity describes the authenticated user as embedded in the access token.
type Identity struct {
	UserID      string `json:"user_id"`      // stable user identifier (token subject)
	DisplayName string `json:"display_name"` // human-readable name, may be empty
}

// Project is one tenant the user is a member of.
type Project struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`   // the user's role within this project
	Active bool   `json:"active"` // inactive projects cannot become the working project
}

// Credential bundles everything an authenticated session carries: the access
// token, the user identity, the working project and the projects the user may
// switch to.
type Credential struct {
	Token     string    `json:"token"`
	Identity  Identity  `json:"identity"`
	ProjectID string    `json:"project_id"` // working project, always a member of Projects
	Projects  []Project `json:"projects"`
}

// Clone returns a deep copy so callers can hold a snapshot without sharing
// the project slice.
func (c Credential) Clone() Credential {
	clone := c
	clone.Projects = make([]Project, len(c.Projects))
	copy(clone.Projects, c.Projects)
	return clone
}

// FindProject returns the project with the given ID from the credential's
// project list.
func (c Credential) FindProject(projectID string) (Project, bool) {
	for _, project := range c.Projects {
		if project.ID == projectID {
			return project, true
		}
	}
	return Project{}, false
}

var (
	// ErrNoCredential indicates an operation that needs an authenticated
	// session was called on an empty store.
	ErrNoCredential = errors.New("session: no credential present")

	// ErrNoStoredCredential indicates the mirror holds no persisted session.
	ErrNoStoredCredential = errors.New("session: no stored credential")

	// ErrIncompleteCredential indicates a credential missing required fields.
	// A store never holds a partial credential.
	ErrIncompleteCredential = errors.New("session: incomplete credential")
)

// Store holds the current session credential. It is safe for concurrent use
// and is meant to be constructed once and handed to every component that
// attaches or rotates credentials. The store is either fully populated or
// empty; mutators reject partial states.
type Store struct {
	mu         sync.RWMutex
	credential *Credential
	mirror     Mirror
	logger     Logger
}

// StoreOption is a functional option for configuring Store.
type StoreOption func(*Store)

// WithMirror sets a persisted mirror that tracks the in-memory credential.
// Mirror writes are best-effort: failures are logged, never surfaced.
func WithMirror(mirror Mirror) StoreOption {
	return func(s *Store) {
		s.mirror = mirror
	}
}

// WithStoreLogger sets a custom logger for mirror write failures.
// If not set, no logging will occur.
func WithStoreLogger(logger Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithStoreLoggingEnabled enables logging using the default Go log package.
func WithStoreLoggingEnabled() StoreOption {
	return func(s *Store) {
		s.logger = log.Default()
	}
}

// NewStore creates an empty credential store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set installs a complete credential, replacing any previous one. The
// credential must carry a token, a user ID, a non-empty project list and a
// working project that is a member of that list.
func (s *Store) Set(credential Credential) error {
	if err := validateCredential(credential); err != nil {
		return err
	}

	clone := credential.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.credential = &clone
	s.saveMirrorLocked()
	return nil
}

// Get returns a snapshot of the current credential. The second return value
// reports whether a credential is present.
func (s *Store) Get() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.credential == nil {
		return Credential{}, false
	}
	return s.credential.Clone(), true
}

// Token returns the current access token. The second return value reports
// whether a credential is present.
func (s *Store) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.credential == nil {
		return "", false
	}
	return s.credential.Token, true
}

// ReplaceToken swaps only the access token, keeping identity and project
// state. This is the outcome of a successful refresh.
func (s *Store) ReplaceToken(token string) error {
	if token == "" {
		return fmt.Errorf("%w: missing token", ErrIncompleteCredential)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.credential == nil {
		return ErrNoCredential
	}

	s.credential.Token = token
	s.saveMirrorLocked()
	return nil
}

// ApplySwitch atomically installs the token and working project returned by a
// successful project switch. The project must already be a member of the
// credential's project list; its entry is updated with the returned name,
// role and active flag. Readers observe either the full pre-switch state or
// the full post-switch state, never a mix.
func (s *Store) ApplySwitch(token string, project Project) error {
	if token == "" {
		return fmt.Errorf("%w: missing token", ErrIncompleteCredential)
	}
	if project.ID == "" {
		return fmt.Errorf("%w: missing project ID", ErrIncompleteCredential)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.credential == nil {
		return ErrNoCredential
	}

	updated := false
	for i := range s.credential.Projects {
		if s.credential.Projects[i].ID == project.ID {
			s.credential.Projects[i] = project
			updated = true
			break
		}
	}
	if !updated {
		return fmt.Errorf("session: project %s is not in the credential's project list", project.ID)
	}

	s.credential.Token = token
	s.credential.ProjectID = project.ID
	s.saveMirrorLocked()
	return nil
}

// Clear empties the store and best-effort clears the mirror. Clearing an
// already empty store is a no-op.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credential = nil
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Clear(); err != nil {
		s.logf("session: mirror clear failed: %v", err)
	}
}

// Restore loads the mirrored credential into an empty store. It returns
// ErrNoStoredCredential when no mirror is configured or the mirror is empty,
// and ErrIncompleteCredential when the persisted state fails validation (the
// store stays empty in that case).
func (s *Store) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.credential != nil {
		return errors.New("session: credential already present")
	}
	if s.mirror == nil {
		return ErrNoStoredCredential
	}

	credential, err := s.mirror.Load()
	if err != nil {
		return err
	}
	if err := validateCredential(credential); err != nil {
		return err
	}

	clone := credential.Clone()
	s.credential = &clone
	return nil
}

// saveMirrorLocked persists the current credential. Callers must hold the
// write lock.
func (s *Store) saveMirrorLocked() {
	if s.mirror == nil || s.credential == nil {
		return
	}
	if err := s.mirror.Save(s.credential.Clone()); err != nil {
		s.logf("session: mirror save failed: %v", err)
	}
}

func (s *Store) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func validateCredential(credential Credential) error {
	if credential.Token == "" {
		return fmt.Errorf("%w: missing token", ErrIncompleteCredential)
	}
	if credential.Identity.UserID == "" {
		return fmt.Errorf("%w: missing user ID", ErrIncompleteCredential)
	}
	if credential.ProjectID == "" {
		return fmt.Errorf("%w: missing working project", ErrIncompleteCredential)
	}
	if len(credential.Projects) == 0 {
		return fmt.Errorf("%w: empty project list", ErrIncompleteCredential)
	}
	if _, ok := credential.FindProject(credential.ProjectID); !ok {
		return fmt.Errorf("%w: working project %s not in project list", ErrIncompleteCredential, credential.ProjectID)
	}
	return nil
}
