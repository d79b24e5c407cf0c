// Package httpapi implements the HTTP surface as thin net/http handlers
// that decode/encode JSON and an SSE record stream, delegating every real
// operation to orchestrator, convstore, or memoryservice. HTTP routing
// itself is explicitly out of scope, so these handlers are plain
// http.HandlerFunc values mountable on any router; cmd/server uses the
// stdlib http.ServeMux since its pattern matching is sufficient for the
// fixed route table.
package httpapi

import (
	"context"
	"net/http"
)

// User is the caller identity resolved from upstream-parsed headers.
// Header parsing itself (verifying a signature, decoding a JWT, ...) is an
// external concern; this package only reads the values a front door has
// already validated and placed on the request.
type User struct {
	UserID        string
	UserName      string
	FirstName     string
	PrincipalName string
	Authenticated bool
	Mode          string
}

type userContextKey struct{}

// WithUser attaches u to ctx.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userContextKey{}, u)
}

// UserFromContext returns the User attached by AuthMiddleware, or the
// anonymous default if none was set.
func UserFromContext(ctx context.Context) User {
	u, ok := ctx.Value(userContextKey{}).(User)
	if !ok {
		return User{UserID: "anonymous", UserName: "anonymous", Mode: "anonymous"}
	}
	return u
}

// Header names an upstream identity-aware proxy is expected to set.
const (
	HeaderUserID        = "X-User-Id"
	HeaderUserName      = "X-User-Name"
	HeaderFirstName     = "X-First-Name"
	HeaderPrincipalName = "X-Principal-Name"
)

// AuthMiddleware reads pre-validated identity headers into the request
// context. A request with no X-User-Id is treated as anonymous rather than
// rejected — enforcing that identity is present is the front door's job.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(HeaderUserID)
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		u := User{
			UserID:        userID,
			UserName:      firstNonEmpty(r.Header.Get(HeaderUserName), userID),
			FirstName:     r.Header.Get(HeaderFirstName),
			PrincipalName: r.Header.Get(HeaderPrincipalName),
			Authenticated: true,
			Mode:          "header",
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
