// Package clientcreds obtains machine credentials through the OAuth2
// client-credentials flow and feeds them into a session store.
//
// It caches bearer tokens, refreshes them before expiry, and rebuilds the
// session credential from the token's claims so that headless workers use the
// same store, transport, and refresh coordinator as interactive sessions.
// Token fetches honor contexts for cancellation, are thread-safe, and can log
// fetch events via optional Logger interfaces.
//
// # Features
//
//   - Client-credentials flow with automatic caching and early refresh
//   - Context-aware token fetching with cancellation and deadline support
//   - Session store bootstrap and resync from token claims (WithStore)
//   - Implements refresh.Refresher, so a 401 forces a fresh fetch
//   - Optional logging (WithLogger, WithLoggingEnabled)
//
// # Quick Start
//
//	store := session.NewStore()
//
//	source := clientcreds.NewSource(
//	    ctx,
//	    "https://auth.example.com/oauth/v2/token",
//	    "client-id",
//	    "client-secret",
//	    "openid profile email",
//	    clientcreds.WithStore(store),
//	    clientcreds.WithLoggingEnabled(),
//	)
//	if err := source.Bootstrap(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	coordinator := refresh.NewCoordinator(source)
//	client, err := httpclient.NewBuilder().
//	    WithSession(store, coordinator).
//	    Build()
//
// For gRPC clients, pair the same store and coordinator with the
// interceptors in the grpcclient package.
//
// # Notes
//
//   - A cleared store (session teardown) is repopulated on the next Refresh.
//   - Source is safe for concurrent use and uses double-checked locking.
package clientcreds
