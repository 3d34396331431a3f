package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"unicode"
)

type contextKey string

const (
	userIDKey   contextKey = "userID"
	userRoleKey contextKey = "userRole"
)

// Identity headers a trusted upstream is expected to inject. Authentication
// itself is out of scope here: by the time a request reaches this service,
// some other layer has already verified the caller and attached these.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUsername  = "X-Username"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRole  = "X-User-Role"
	HeaderSchoolID  = "X-School-ID"
)

// Roles recognized in X-User-Role.
const (
	RoleStudent   = "student"
	RoleAdmin     = "admin"
	RoleRootAdmin = "root_admin"
)

// UserIDFromContext retrieves the trusted caller's user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(userIDKey).(string)
	return uid
}

// UserRoleFromContext retrieves the trusted caller's role from the request context.
func UserRoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(userRoleKey).(string)
	return role
}

// WithUserID returns a new context with the given user ID set.
// Useful for testing handlers that depend on the identity middleware.
func WithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, userIDKey, uid)
}

// WithUserRole returns a new context with the given role set.
func WithUserRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, userRoleKey, role)
}

// TrustedIdentity returns middleware that lifts the upstream identity headers
// into the request context. If internalAuthSecret is non-empty, the
// X-Internal-Auth header must match it via constant-time comparison before
// the identity headers are trusted; otherwise the headers are trusted as-is
// (the deployment is assumed to sit behind a proxy that only forwards
// requests it has already authenticated).
func TrustedIdentity(internalAuthSecret string) func(http.Handler) http.Handler {
	secretBytes := []byte(internalAuthSecret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secretBytes) > 0 {
				token := r.Header.Get("X-Internal-Auth")
				if subtle.ConstantTimeCompare([]byte(token), secretBytes) != 1 {
					respondError(w, http.StatusUnauthorized, "invalid internal auth token")
					return
				}
			}

			userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if userID != "" {
				if len(userID) > 256 || !isPrintableASCII(userID) {
					respondError(w, http.StatusBadRequest, "invalid user ID")
					return
				}
			}

			ctx := r.Context()
			if userID != "" {
				ctx = context.WithValue(ctx, userIDKey, userID)
			}
			if role := strings.TrimSpace(r.Header.Get(HeaderUserRole)); role != "" {
				ctx = context.WithValue(ctx, userRoleKey, role)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns middleware that rejects requests missing a trusted
// identity (401) or whose role is not one of allowed (403). Intended for the
// admin endpoints in §6, which require X-User-Role to be admin or root_admin.
func RequireRole(allowed ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid := UserIDFromContext(r.Context())
			if uid == "" {
				respondError(w, http.StatusUnauthorized, "missing identity headers")
				return
			}
			role := UserRoleFromContext(r.Context())
			for _, a := range allowed {
				if role == a {
					next.ServeHTTP(w, r)
					return
				}
			}
			respondError(w, http.StatusForbidden, "insufficient role")
		})
	}
}

// isPrintableASCII checks that every rune is a printable ASCII character.
func isPrintableASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
