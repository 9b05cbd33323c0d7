package accountcontext

import (
	"context"
	"strings"
)

// AccountContextKey is the request context key for the billed account id.
type AccountContextKey struct{}

// ActorContextKey is the request context key for the operator actor subject.
type ActorContextKey struct{}

// WithAccountID stores the account id in the context. Account ids are
// opaque strings owned by the upstream identity layer.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, AccountContextKey{}, strings.TrimSpace(accountID))
}

// AccountIDFromContext returns the account id from context, if set.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(AccountContextKey{}).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// WithActor stores the operator actor subject (e.g. "operator:jdoe", "system").
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorContextKey{}, strings.TrimSpace(actor))
}

// ActorFromContext returns the actor subject from context, if set.
func ActorFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(ActorContextKey{}).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}
