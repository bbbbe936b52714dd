// Package session holds the client-side session state for the SRE Copilot
// platform: the access token, the authenticated identity, the working project
// and the user's project memberships.
//
// The Store is the single source of truth the HTTP and gRPC layers read their
// token from. It is either fully populated or empty; partial credentials are
// rejected so no request is ever sent with a token that lacks its project
// scope. An optional Mirror persists the credential (OS keyring via
// KeyringMirror, memory via MemoryMirror) so a restarted process can restore
// its session.
//
// Teardown dismantles a session that cannot be recovered: clear the store and
// mirror, run registered cleanup hooks, navigate to the login surface. Every
// step is best-effort and the whole sequence is idempotent.
//
// # Features
//
//   - Concurrency-safe credential store with atomic token and project rotation
//   - All-or-nothing credential invariant enforced on every mutation
//   - Optional persisted mirror with OS keyring and in-memory backends
//   - Idempotent best-effort teardown with pluggable navigation
//
// # Quick Start
//
//	mirror, err := session.NewKeyringMirror("sre-copilot")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := session.NewStore(session.WithMirror(mirror))
//	if err := store.Restore(); err != nil {
//	    // no persisted session; user logs in interactively
//	}
//
//	teardown := session.NewTeardown(store, navigator,
//	    session.WithCleanup(func() { apiCache.Drop() }),
//	)
//
// All components are safe for concurrent use.
package session
