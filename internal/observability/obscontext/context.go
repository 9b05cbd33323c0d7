package obscontext

import (
	"context"
	"strings"
)

// RequestIDContextKey is the request context key for the correlation id.
type RequestIDContextKey struct{}

// ClientIPContextKey is the request context key for the caller ip address.
type ClientIPContextKey struct{}

// UserAgentContextKey is the request context key for the caller user agent.
type UserAgentContextKey struct{}

// WithRequestID stores the request correlation id in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDContextKey{}, strings.TrimSpace(requestID))
}

// RequestIDFromContext returns the request correlation id, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(RequestIDContextKey{}).(string)
	return value
}

// WithClientIP stores the caller ip address in the context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPContextKey{}, strings.TrimSpace(ip))
}

// ClientIPFromContext returns the caller ip address, or "".
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(ClientIPContextKey{}).(string)
	return value
}

// WithUserAgent stores the caller user agent in the context.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, UserAgentContextKey{}, strings.TrimSpace(userAgent))
}

// UserAgentFromContext returns the caller user agent, or "".
func UserAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(UserAgentContextKey{}).(string)
	return value
}
