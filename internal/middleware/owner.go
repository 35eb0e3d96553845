package middleware

import (
	"context"
	"net/http"
	"strings"
)

// DefaultOwner owns requests that carry no owner identity.
const DefaultOwner = "anonymous"

const (
	headerOwnerID = "X-Owner-ID"
	queryOwner    = "owner"
	maxOwnerLen   = 128
)

type ownerCtxKey struct{}

// Owner is middleware that reads the caller's owner id from the X-Owner-ID
// header, or from the owner query parameter for clients that cannot set
// headers (EventSource, WebSocket). Falls back to DefaultOwner.
func Owner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), OwnerFromRequest(r))))
	})
}

// OwnerFromRequest extracts the owner id from r without consulting the
// context.
func OwnerFromRequest(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(headerOwnerID))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get(queryOwner))
	}
	if id == "" || len(id) > maxOwnerLen {
		return DefaultOwner
	}
	return id
}

// WithOwner returns a context carrying owner.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerCtxKey{}, owner)
}

// OwnerFromContext returns the owner stored in ctx, or DefaultOwner.
func OwnerFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ownerCtxKey{}).(string); ok {
		return id
	}
	return DefaultOwner
}
