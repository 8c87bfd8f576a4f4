package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// apiKeyHeader is the header clients use to authenticate API requests.
const apiKeyHeader = "X-API-Key"

// RequireAPIKey is middleware that checks the X-API-Key header against the
// configured key. An empty configured key disables the check entirely, which
// is the expected setup for local single-user deployments. A Bearer token in
// the Authorization header is accepted as an alternative to the header.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			got := r.Header.Get(apiKeyHeader)
			if got == "" {
				got = bearerToken(r)
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header, returning "" when absent or malformed.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}
