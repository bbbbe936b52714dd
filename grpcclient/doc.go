// Package grpcclient provides session-authenticated gRPC client interceptors
// and a fluent builder for secure gRPC client connections.
//
// The interceptors are the gRPC parallel of httpclient.SessionTransport: each
// RPC reads the session store at call time, attaches the access token to the
// outgoing metadata and stamps a correlation ID. An Unauthenticated status on
// a non-exempt method funnels into the refresh coordinator's single-flight
// cycle, and the RPC is replayed exactly once with the rotated credential.
// The builder defaults to TLS 1.2+ using system roots to avoid accidental
// plaintext connections.
//
// # Features
//
//   - Unary and stream interceptors that attach "authorization: Bearer" per call
//   - Single coordinated refresh and replay on Unauthenticated statuses
//   - Exempt methods for gRPC-exposed auth surfaces (WithExemptMethods)
//   - Fluent builder with secure-by-default TLS; optional custom CA and mTLS
//   - Additional dial options via WithDialOptions
//
// # Quick Start
//
//	conn, err := grpcclient.NewBuilder().
//	    WithAddress("copilot.example.com:9090").
//	    WithSession(store, coordinator).
//	    WithTLS("/path/to/ca.crt", "", "", "copilot.example.com").
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	client := pb.NewIncidentServiceClient(conn)
//
// The store and coordinator are the same values the HTTP client uses, so a
// refresh triggered on either transport rotates the credential for both.
//
// # Recovery Behavior
//
// Recovery applies to unary RPCs and to errors surfaced at stream
// establishment. Statuses delivered later through Recv pass through
// untouched; reopening a torn stream is the caller's decision. No methods
// are exempt by default, since the platform's auth endpoints ride HTTP.
//
// # TLS Behavior
//
// TLS is enabled by default with system CAs and TLS 1.2 minimum. WithTLS allows supplying a custom
// root CA and optional client cert/key for mTLS; both cert and key must be provided together.
package grpcclient
