// Package auth identifies who is calling the approvals API. The caller's
// API key resolves to a principal name, and that name is the performed_by
// recorded on every audit event the request produces. No identity is taken
// from request bodies.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/bturcanu/fleetgov/pkg/types"
)

type contextKey struct{}

// openPaths are health endpoints reachable without a key.
var openPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
}

// PrincipalFromContext returns the principal set by APIKeyAuth, or "" for
// unauthenticated contexts. Handlers pass it to the service as performedBy.
func PrincipalFromContext(ctx context.Context) string {
	v, _ := ctx.Value(contextKey{}).(string)
	return v
}

// WithPrincipal attaches principal to ctx.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, contextKey{}, principal)
}

// APIKeyAuth rejects requests without a known key with 401 and otherwise
// stores the key's principal in the request context.
func APIKeyAuth(keys *KeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if openPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			key := presentedKey(r)
			if key == "" {
				types.ErrUnauthorized("missing API key").WriteJSON(w)
				return
			}
			principal, ok := keys.Lookup(key)
			if !ok {
				types.ErrUnauthorized("invalid API key").WriteJSON(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// presentedKey reads X-API-Key, falling back to a bearer token.
func presentedKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get("X-API-Key")); k != "" {
		return k
	}
	if k, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(k)
	}
	return ""
}
