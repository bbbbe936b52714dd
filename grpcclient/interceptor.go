package grpcclient

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/raghavrallan/sre-copilot-sub000/refresh"
	"github.com/raghavrallan/sre-copilot-sub000/session"
)

// Logger is an interface for optional logging in the interceptors.
// Implementations can log credential recovery events if desired.
type Logger interface {
	Printf(format string, args ...any)
}

// RequestIDMetadataKey carries the correlation ID stamped on every outgoing
// RPC. A replayed attempt reuses the ID of its original attempt.
const RequestIDMetadataKey = "x-request-id"

// interceptorOptions holds the shared configuration of the unary and stream
// interceptors.
type interceptorOptions struct {
	exemptMethods map[string]struct{}
	logger        Logger
}

// Option is a functional option for configuring the session interceptors.
type Option func(*interceptorOptions)

// WithExemptMethods registers full method names (e.g. "/copilot.v1.AuthService/Login")
// whose Unauthenticated status is a verdict for the caller rather than an
// expired-credential signal. No methods are exempt by default; the platform's
// auth endpoints ride HTTP.
func WithExemptMethods(methods ...string) Option {
	return func(o *interceptorOptions) {
		for _, method := range methods {
			o.exemptMethods[method] = struct{}{}
		}
	}
}

// WithLogger sets a custom logger for recovery events.
// If not set, no logging will occur.
func WithLogger(logger Logger) Option {
	return func(o *interceptorOptions) {
		o.logger = logger
	}
}

// WithLoggingEnabled enables logging using the default Go log package.
// This is a convenience option that sets the logger to log.Default().
func WithLoggingEnabled() Option {
	return func(o *interceptorOptions) {
		o.logger = log.Default()
	}
}

func newInterceptorOptions(opts []Option) *interceptorOptions {
	o := &interceptorOptions{exemptMethods: make(map[string]struct{})}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// shouldRecover decides whether a failed attempt may trigger a coordinated
// refresh and a replay.
func (o *interceptorOptions) shouldRecover(coordinator *refresh.Coordinator, method string, err error) bool {
	if coordinator == nil || status.Code(err) != codes.Unauthenticated {
		return false
	}
	if _, exempt := o.exemptMethods[method]; exempt {
		return false
	}
	return true
}

func (o *interceptorOptions) logf(format string, args ...any) {
	if o.logger != nil {
		o.logger.Printf(format, args...)
	}
}

// UnaryClientInterceptor returns a gRPC unary client interceptor that
// authenticates RPCs from the session store and transparently recovers from
// expired credentials.
//
// Each attempt reads the store at call time and adds the access token as
// "authorization: Bearer <token>" to the outgoing metadata when a credential
// is present. An Unauthenticated status on a non-exempt method hands control
// to the refresh coordinator; after a successful refresh the RPC is replayed
// exactly once with the rotated credential. A second Unauthenticated status,
// statuses from exempt methods and every other status pass through untouched.
//
// Usage:
//
//	conn, err := grpc.NewClient(
//	    "server:9090",
//	    grpc.WithUnaryInterceptor(grpcclient.UnaryClientInterceptor(store, coordinator)),
//	)
func UnaryClientInterceptor(store *session.Store, coordinator *refresh.Coordinator, opts ...Option) grpc.UnaryClientInterceptor {
	cfg := newInterceptorOptions(opts)

	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		callOpts ...grpc.CallOption,
	) error {
		requestID, stamped := outgoingRequestID(ctx)

		err := invoker(attach(ctx, store, requestID, stamped), method, req, reply, cc, callOpts...)
		if !cfg.shouldRecover(coordinator, method, err) {
			return err
		}

		cfg.logf("grpcclient: expired credential on %s (request %s), refreshing", method, requestID)
		if rerr := coordinator.Refresh(ctx); rerr != nil {
			return fmt.Errorf("grpcclient: %s not retried: %w", method, rerr)
		}

		err = invoker(attach(ctx, store, requestID, stamped), method, req, reply, cc, callOpts...)
		if status.Code(err) == codes.Unauthenticated {
			cfg.logf("grpcclient: %s still unauthorized after refresh (request %s)", method, requestID)
		}
		return err
	}
}

// StreamClientInterceptor returns a gRPC stream client interceptor that
// authenticates streams from the session store. Expired-credential recovery
// applies to errors surfaced at stream establishment; statuses delivered
// later through Recv pass through untouched.
//
// Usage:
//
//	conn, err := grpc.NewClient(
//	    "server:9090",
//	    grpc.WithStreamInterceptor(grpcclient.StreamClientInterceptor(store, coordinator)),
//	)
func StreamClientInterceptor(store *session.Store, coordinator *refresh.Coordinator, opts ...Option) grpc.StreamClientInterceptor {
	cfg := newInterceptorOptions(opts)

	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		callOpts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		requestID, stamped := outgoingRequestID(ctx)

		stream, err := streamer(attach(ctx, store, requestID, stamped), desc, cc, method, callOpts...)
		if !cfg.shouldRecover(coordinator, method, err) {
			return stream, err
		}

		cfg.logf("grpcclient: expired credential on %s (request %s), refreshing", method, requestID)
		if rerr := coordinator.Refresh(ctx); rerr != nil {
			return nil, fmt.Errorf("grpcclient: %s not retried: %w", method, rerr)
		}

		stream, err = streamer(attach(ctx, store, requestID, stamped), desc, cc, method, callOpts...)
		if status.Code(err) == codes.Unauthenticated {
			cfg.logf("grpcclient: %s still unauthorized after refresh (request %s)", method, requestID)
		}
		return stream, err
	}
}

// attach builds the metadata for one attempt from the original context, so a
// replay never sees headers from the attempt before it. The token is read
// from the store at attach time.
func attach(ctx context.Context, store *session.Store, requestID string, stamped bool) context.Context {
	if !stamped {
		ctx = metadata.AppendToOutgoingContext(ctx, RequestIDMetadataKey, requestID)
	}
	if store != nil {
		if token, ok := store.Token(); ok {
			ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
		}
	}
	return ctx
}

// outgoingRequestID returns the caller-supplied correlation ID, or mints one.
// The boolean reports whether the ID was already present in the outgoing
// metadata.
func outgoingRequestID(ctx context.Context) (string, bool) {
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		if values := md.Get(RequestIDMetadataKey); len(values) > 0 {
			return values[0], true
		}
	}
	return uuid.NewString(), false
}
