// Package refresh serializes credential refreshes so that any number of
// concurrent requests hitting an expired session trigger exactly one refresh
// against the platform.
//
// The Coordinator is a small state machine with two states. When idle, the
// first caller drives a refresh cycle; while a cycle is in flight, further
// callers are parked and later resolved with the driver's outcome. A failed
// cycle dismantles the session (via the configured teardown) exactly once
// before any parked caller is resolved, which is what keeps a dead session
// from being retried into a redirect storm.
//
// # Features
//
//   - Single-flight refresh cycles with fan-out of the outcome to all callers
//   - Failure path runs teardown once, then fails every parked caller
//   - Refresh runs detached from the driver's cancellation, optionally bounded
//     by a cycle timeout
//   - Pluggable refresh source via the Refresher interface
//
// # Quick Start
//
//	coordinator := refresh.NewCoordinator(authClient,
//	    refresh.WithTeardown(teardown.Run),
//	    refresh.WithTimeout(15*time.Second),
//	)
//
//	// From a transport that just saw an expired credential:
//	if err := coordinator.Refresh(req.Context()); err != nil {
//	    return nil, err // session torn down
//	}
//	// credential rotated, retry the original request once
//
// A Coordinator is safe for concurrent use.
package refresh
