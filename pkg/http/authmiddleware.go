// Package http provides HTTP middleware shared by the karaoke-live handlers.
package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/txn2/karaoke-live/pkg/audit"
	"github.com/txn2/karaoke-live/pkg/auth"
)

// TokenFromRequest returns the Bearer token, falling back to X-API-Key.
func TokenFromRequest(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && token != "" {
		return token
	}
	return r.Header.Get("X-API-Key")
}

// AuthMiddleware extracts the request token and adds it to the context for
// downstream authenticators. When requireAuth is set, requests without a
// token are rejected with 401.
func AuthMiddleware(requireAuth bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if requireAuth && token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing authentication token")
				return
			}
			if token != "" {
				r = r.WithContext(auth.WithToken(r.Context(), token))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole authenticates the request and admits it only when the caller
// holds one of roles. The caller is stored in the context both as the auth
// user and as the audit actor.
func RequireRole(a auth.Authenticator, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return AuthMiddleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := a.Authenticate(r.Context())
			if err != nil || user == nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
				return
			}
			if !user.HasAnyRole(roles...) {
				writeError(w, http.StatusForbidden, "forbidden", "role "+strings.Join(roles, " or ")+" required")
				return
			}

			ctx := auth.WithUser(r.Context(), user)
			ctx = audit.WithActor(ctx, user.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		}))
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]errorBody{"error": {Code: code, Message: msg}})
}
