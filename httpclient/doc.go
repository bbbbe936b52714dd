// Package httpclient offers HTTP client construction helpers with session
// authentication and TLS/mTLS options.
//
// It provides a fluent Builder that can create an http.Client whose requests
// carry the credential held in a session.Store, recover from expired
// credentials through a refresh.Coordinator, and replay the failed request
// once. Configurable TLS (custom CA, mTLS, insecure for tests), timeouts,
// base transports, cookie jars and redirect handling round out the builder.
// SessionTransport can wrap any RoundTripper.
//
// # Features
//
//   - Fluent builder for http.Client with session credential injection
//   - Single refresh-and-replay on 401, with auth endpoints exempt
//   - TLS 1.2+ by default, with custom CA/mTLS and optional InsecureSkipVerify
//   - Cookie jar support for the HttpOnly refresh cookie
//   - Custom timeouts, base transport override, and redirect disabling
//
// # Quick Start
//
//	store := session.NewStore()
//	coordinator := refresh.NewCoordinator(refresher,
//	    refresh.WithTeardown(teardown.Run),
//	)
//
//	client, err := httpclient.NewBuilder().
//	    WithSession(store, coordinator).
//	    WithSessionCookies().
//	    WithTimeout(60 * time.Second).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := client.Get("https://copilot.example.com/api/v1/incidents")
//
// # Manual Transport Wrapping
//
//	transport := httpclient.NewSessionTransport(store, coordinator, nil)
//	client := &http.Client{Transport: transport}
//
// All components are safe for concurrent use.
package httpclient
