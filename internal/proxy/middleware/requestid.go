package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/airelay/gemini-relay/internal/logging"
)

// RequestID honors a client-supplied X-Request-ID, generating one
// otherwise, and propagates it through the context and the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = "agent-" + uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), requestID)))
	})
}
