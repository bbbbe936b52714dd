package session

import (
	"log"
	"net/url"
	"sync"
)

// DefaultLoginPath is where Teardown sends the user once the session
// artifacts are cleared.
const DefaultLoginPath = "/login"

// Navigator abstracts the host shell's location handling so teardown can
// redirect to the login surface without knowing about the UI layer.
type Navigator interface {
	// Location returns the current location (path, optionally with query).
	Location() string
	// Navigate moves the user to the given path.
	Navigate(path string)
}

// NavigatorFuncs adapts two plain functions to the Navigator interface. Nil
// fields are safe: a nil LocationFunc reports an empty location and a nil
// NavigateFunc ignores navigation.
type NavigatorFuncs struct {
	LocationFunc func() string
	NavigateFunc func(path string)
}

// Location returns the current location.
func (n NavigatorFuncs) Location() string {
	if n.LocationFunc == nil {
		return ""
	}
	return n.LocationFunc()
}

// Navigate moves the user to the given path.
func (n NavigatorFuncs) Navigate(path string) {
	if n.NavigateFunc == nil {
		return
	}
	n.NavigateFunc(path)
}

// Teardown dismantles a dead session: it clears the credential store (and
// through it the mirror), runs any registered cleanup hooks and navigates to
// the login path. Every step is best-effort; a failing or panicking cleanup
// never stops the remaining steps. Run can be called repeatedly and from
// multiple goroutines; invocations are serialized and navigation is skipped
// when the user is already on the login path.
type Teardown struct {
	mu        sync.Mutex
	store     *Store
	navigator Navigator
	cleanups  []func()
	loginPath string
	logger    Logger
}

// TeardownOption is a functional option for configuring Teardown.
type TeardownOption func(*Teardown)

// WithLoginPath overrides the navigation target after teardown.
func WithLoginPath(path string) TeardownOption {
	return func(td *Teardown) {
		td.loginPath = path
	}
}

// WithCleanup registers an additional best-effort cleanup step, for example
// resetting a cookie jar or dropping cached API state. Hooks run in
// registration order after the store is cleared.
func WithCleanup(fn func()) TeardownOption {
	return func(td *Teardown) {
		td.cleanups = append(td.cleanups, fn)
	}
}

// WithTeardownLogger sets a custom logger for cleanup failures.
// If not set, no logging will occur.
func WithTeardownLogger(logger Logger) TeardownOption {
	return func(td *Teardown) {
		td.logger = logger
	}
}

// WithTeardownLoggingEnabled enables logging using the default Go log package.
func WithTeardownLoggingEnabled() TeardownOption {
	return func(td *Teardown) {
		td.logger = log.Default()
	}
}

// NewTeardown creates a teardown for the given store. Both store and
// navigator may be nil; nil steps are skipped.
func NewTeardown(store *Store, navigator Navigator, opts ...TeardownOption) *Teardown {
	td := &Teardown{
		store:     store,
		navigator: navigator,
		loginPath: DefaultLoginPath,
	}
	for _, opt := range opts {
		opt(td)
	}
	return td
}

// Run clears the session and navigates to the login path. It never returns
// an error and never panics: failures are logged and the remaining steps
// still run. Calling Run on an already cleared session is harmless and, when
// the user is already on the login path, performs no navigation.
func (td *Teardown) Run() {
	td.mu.Lock()
	defer td.mu.Unlock()

	if td.store != nil {
		td.store.Clear()
	}

	for _, cleanup := range td.cleanups {
		td.runCleanup(cleanup)
	}

	if td.navigator == nil {
		return
	}
	if pathOf(td.navigator.Location()) == td.loginPath {
		return
	}
	td.navigator.Navigate(td.loginPath)
}

func (td *Teardown) runCleanup(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			td.logf("session: teardown cleanup panicked: %v", r)
		}
	}()
	fn()
}

func (td *Teardown) logf(format string, args ...any) {
	if td.logger != nil {
		td.logger.Printf(format, args...)
	}
}

// pathOf strips query and fragment so "/login?next=/incidents" still counts
// as the login path.
func pathOf(location string) string {
	parsed, err := url.Parse(location)
	if err != nil {
		return location
	}
	return parsed.Path
}
