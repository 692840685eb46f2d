package middleware

import (
	"net/http"
	"strings"
)

// BearerAuth validates the client secret from the Authorization header.
// An empty secret disables authentication.
func BearerAuth(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				if strings.TrimPrefix(authHeader, "Bearer ") == secret {
					next.ServeHTTP(w, r)
					return
				}
			}

			// x-api-key is accepted as an alternative for Anthropic SDKs.
			if r.Header.Get("x-api-key") == secret {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": {"message": "Invalid API key", "type": "authentication_error"}}`))
		})
	}
}
