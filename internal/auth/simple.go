package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Middleware wraps next with bearer-token auth checked against tokens.
// An empty tokens list disables auth entirely (every request passes
// through unchecked) — the caller decides this by what it reads out of
// internal/config's comma-separated AUTH_TOKENS setting, not this
// package reading the environment itself.
func Middleware(tokens []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(tokens) == 0 || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		// Expect: Authorization: Bearer <token>
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") {
			http.Error(w, "missing API token", http.StatusUnauthorized)
			return
		}

		got := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
		if !matchesAny(got, tokens) {
			http.Error(w, "invalid API token", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func matchesAny(got string, tokens []string) bool {
	for _, t := range tokens {
		if subtle.ConstantTimeCompare([]byte(got), []byte(t)) == 1 {
			return true
		}
	}
	return false
}
