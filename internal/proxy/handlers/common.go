// Package handlers implements the client-facing HTTP endpoints of the
// relay: the OpenAI and Anthropic dialects, the model catalog and the TTS
// surface.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/airelay/gemini-relay/internal/logging"
	"github.com/airelay/gemini-relay/internal/proxy/mappers"
)

// RequestIDFrom returns the request ID placed in the context by the
// middleware; empty when the middleware is not installed.
func RequestIDFrom(r *http.Request) string {
	return logging.GetRequestID(r.Context())
}

// SetSSEHeaders sets standard headers for Server-Sent Events streaming.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// requestStatus maps a handler error to an HTTP status: invalid-request
// errors from the mappers become 400, everything else the fallback.
func requestStatus(err error, fallback int) int {
	var reqErr *mappers.RequestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest
	}
	return fallback
}

func writeOpenAIError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "api_error",
			"code":    status,
		},
	})
}

func writeAnthropicError(w http.ResponseWriter, message string, status int) {
	errType := "api_error"
	switch status {
	case http.StatusBadRequest:
		errType = "invalid_request_error"
	case http.StatusUnauthorized:
		errType = "authentication_error"
	case http.StatusTooManyRequests:
		errType = "rate_limit_error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    errType,
			"message": message,
		},
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}
