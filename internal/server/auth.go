package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireAPIKey accepts either an X-API-Key header or an
// "Authorization: Bearer" token equal to key. An empty key disables the check.
func requireAPIKey(key string, next http.Handler) http.Handler {
	if key == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secretEqual(r.Header.Get("X-API-Key"), key) {
			next.ServeHTTP(w, r)
			return
		}
		if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && secretEqual(token, key) {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "Invalid API key")
	})
}

func secretEqual(given, key string) bool {
	return given != "" && subtle.ConstantTimeCompare([]byte(given), []byte(key)) == 1
}
