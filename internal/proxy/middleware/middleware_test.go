package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/airelay/gemini-relay/internal/logging"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestBearerAuth_ValidToken(t *testing.T) {
	h := BearerAuth("secret")(okHandler())
	req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestBearerAuth_APIKeyHeader(t *testing.T) {
	h := BearerAuth("secret")(okHandler())
	req := httptest.NewRequest("POST", "/v1/messages", nil)
	req.Header.Set("x-api-key", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestBearerAuth_Rejections(t *testing.T) {
	h := BearerAuth("secret")(okHandler())
	cases := []struct {
		name  string
		setup func(*http.Request)
	}{
		{"no header", func(r *http.Request) {}},
		{"wrong token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic secret") }},
		{"wrong api key", func(r *http.Request) { r.Header.Set("x-api-key", "nope") }},
	}
	for _, c := range cases {
		req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
		c.setup(req)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", c.name, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "authentication_error") {
			t.Errorf("%s: body = %s", c.name, rec.Body.String())
		}
	}
}

func TestBearerAuth_EmptySecretDisables(t *testing.T) {
	h := BearerAuth("")(okHandler())
	req := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", rec.Code)
	}
}

func TestCORS_Headers(t *testing.T) {
	h := CORS(okHandler())
	req := httptest.NewRequest("GET", "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Max-Age"); got != "86400" {
		t.Errorf("Max-Age = %q", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	req := httptest.NewRequest("OPTIONS", "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if called {
		t.Error("preflight must not reach the handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "*" {
		t.Errorf("Allow-Headers = %q", got)
	}
}

func TestColoGate_XColoHeader(t *testing.T) {
	h := ColoGate([]string{"DME", "LED"})(okHandler())

	req := httptest.NewRequest("POST", "/tts", nil)
	req.Header.Set("X-Colo", "dme")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("blocked colo status = %d, want 429", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rate_limit_error") {
		t.Errorf("body = %s", rec.Body.String())
	}

	req = httptest.NewRequest("POST", "/tts", nil)
	req.Header.Set("X-Colo", "FRA")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("allowed colo status = %d", rec.Code)
	}
}

func TestColoGate_CfRayFallback(t *testing.T) {
	h := ColoGate([]string{"SVX"})(okHandler())

	req := httptest.NewRequest("POST", "/tts", nil)
	req.Header.Set("Cf-Ray", "8f1c2a3b4d5e6f70-SVX")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Cf-Ray blocked status = %d, want 429", rec.Code)
	}

	req = httptest.NewRequest("POST", "/tts", nil)
	req.Header.Set("Cf-Ray", "8f1c2a3b4d5e6f70-AMS")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Cf-Ray allowed status = %d", rec.Code)
	}
}

func TestColoGate_NoColoInfo(t *testing.T) {
	h := ColoGate([]string{"DME"})(okHandler())
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, requests without colo info must pass", rec.Code)
	}
}

func TestRequestID_GeneratesAndPropagates(t *testing.T) {
	var ctxID string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = logging.GetRequestID(r.Context())
	}))
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	headerID := rec.Header().Get("X-Request-ID")
	if !strings.HasPrefix(headerID, "agent-") {
		t.Errorf("generated id = %q, want agent- prefix", headerID)
	}
	if ctxID != headerID {
		t.Errorf("context id %q != header id %q", ctxID, headerID)
	}
}

func TestRequestID_HonorsClientID(t *testing.T) {
	h := RequestID(okHandler())
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("id = %q, want client-123", got)
	}
}
