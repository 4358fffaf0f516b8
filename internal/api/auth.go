package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth guards the /internal host-signal surface (online, deferred
// actions, sync triggers, cache clears, client sessions). The gateway and
// push endpoints stay open; only the routes that mutate worker state
// require the admin token. Comparison is constant time.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
