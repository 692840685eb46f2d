package middleware

import (
	"net/http"
	"strings"
)

// ColoGate refuses requests arriving through blocked edge locations with
// 429. The colo code comes from the X-Colo header when present, otherwise
// from the trailing segment of the Cf-Ray header.
func ColoGate(blocked []string) func(next http.Handler) http.Handler {
	blockedSet := make(map[string]bool, len(blocked))
	for _, colo := range blocked {
		blockedSet[strings.ToUpper(colo)] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if blockedSet[strings.ToUpper(requestColo(r))] {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error": {"message": "Service is not available from your region", "type": "rate_limit_error"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestColo(r *http.Request) string {
	if colo := r.Header.Get("X-Colo"); colo != "" {
		return colo
	}
	ray := r.Header.Get("Cf-Ray")
	if i := strings.LastIndex(ray, "-"); i >= 0 {
		return ray[i+1:]
	}
	return ""
}
