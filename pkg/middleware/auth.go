package middleware

import (
	"net/http"

	"github.com/platinummonkey/shopadmin/pkg/auth"
	"github.com/platinummonkey/shopadmin/pkg/httputil"
	"github.com/platinummonkey/shopadmin/pkg/observability"
)

// AuthMiddleware verifies bearer tokens and stores the caller's identity in
// the request context.
type AuthMiddleware struct {
	verifier auth.Verifier
	optional bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware. When optional
// is true a missing, malformed or unverifiable token passes through as an
// anonymous request and the route's guard decides.
func NewAuthMiddleware(verifier auth.Verifier, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		token, ok := auth.BearerToken(header)
		if !ok {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		authCtx, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Debug("token verification failed")
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := auth.WithAuthContext(r.Context(), authCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok {
		return nil
	}
	return authCtx
}

// RequireAuth rejects requests that reached it without an auth context
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetAuthContext(r) == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
