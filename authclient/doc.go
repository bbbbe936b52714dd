// Package authclient implements the platform's auth endpoint flows: login,
// cookie-based token refresh, working project switch and logout.
//
// The client pairs with session.Store for credential state and plugs into
// refresh.Coordinator as its Refresher, so a 401 anywhere in the application
// funnels into one cookie refresh per cycle.
//
// # Features
//
//   - Login with email/password, store populated from token claims
//   - Cookie-based refresh (POST /api/v1/auth/refresh, empty body)
//   - Project switch with local membership/active validation before any
//     network call; backend rejections leave the session untouched
//   - Best-effort logout followed by local teardown
//   - Structured endpoint failures via *APIError and errors.Is support
//
// # Quick Start
//
//	store := session.NewStore()
//	client, err := authclient.NewClient("https://copilot.example.com", store)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	coordinator := refresh.NewCoordinator(client,
//	    refresh.WithTeardown(teardown.Run),
//	)
//
//	if _, err := client.Login(ctx, email, password); err != nil {
//	    log.Fatal(err)
//	}
//
//	project, err := client.SwitchProject(ctx, "proj-beta")
//
// All methods are safe for concurrent use.
package authclient
