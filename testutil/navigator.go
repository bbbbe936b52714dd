package testutil

import "sync"

// RecordingNavigator is a session.Navigator for tests. Navigations update
// its location, the way a browser shell would.
type RecordingNavigator struct {
	mu       sync.Mutex
	location string
	visits   []string
}

// NewRecordingNavigator creates a navigator at the given starting location.
func NewRecordingNavigator(start string) *RecordingNavigator {
	return &RecordingNavigator{location: start}
}

// Location returns the current location.
func (n *RecordingNavigator) Location() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.location
}

// Navigate records the visit and moves to the path.
func (n *RecordingNavigator) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.location = path
	n.visits = append(n.visits, path)
}

// Visits returns every navigation seen so far.
func (n *RecordingNavigator) Visits() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.visits...)
}
