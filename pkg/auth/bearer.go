package auth

import (
	"crypto/hmac"
	"net/http"
	"strings"
)

// AdminBearerMiddleware guards the admin API with a static bearer token
// compared in constant time. An empty expected token disables the guard,
// which hardening rejects in production environments.
func AdminBearerMiddleware(expected string) func(http.Handler) http.Handler {
	expected = strings.TrimSpace(expected)
	return func(next http.Handler) http.Handler {
		if expected == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			token := strings.TrimSpace(header[len("Bearer "):])
			if !hmac.Equal([]byte(token), []byte(expected)) {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
