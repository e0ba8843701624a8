// Package tenantctx provides utilities to inject and retrieve the tenant of
// the original request in and from the context.
package tenantctx

import (
	"context"
	"errors"
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-relay/internal/tenant"
)

// Using an unexported type prevents key collisions from other packages.
type contextKey string

// TenantKey is the context key used to store the tenant of the original request.
const TenantKey contextKey = "tenant"

// Middleware resolves the tenant of every request once and injects it into
// the context and the request logger. Requests that do not name a tenant
// carry an empty tenant.
func Middleware(resolver tenant.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t := resolver.ResolveRequest(r)
			ctx := context.WithValue(r.Context(), TenantKey, t)
			if t != "" {
				ctx = slogctx.With(ctx, "tenant", t)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext retrieves the tenant stored by Middleware.
func FromContext(ctx context.Context) (string, error) {
	t, ok := ctx.Value(TenantKey).(string)
	if !ok {
		return "", errors.New("tenant not found in context")
	}
	return t, nil
}
