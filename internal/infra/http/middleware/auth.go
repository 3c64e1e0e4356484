package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKey guards admin routes with a static key, accepted via the
// Authorization header (raw or Bearer) or the X-Api-Key header.
func APIKey(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Api-Key")
			if provided == "" {
				provided = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized","success":false}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
