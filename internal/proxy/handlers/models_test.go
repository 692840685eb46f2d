package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestModelsHandler(t *testing.T) {
	catalog := `{"models": [
		{"name": "models/gemini-2.0-flash", "displayName": "Gemini 2.0 Flash"},
		{"name": "models/text-embedding-004", "displayName": "Text Embedding"}
	]}`
	pool, client := newChatDeps(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models" {
			t.Errorf("upstream path = %q", r.URL.Path)
		}
		w.Write([]byte(catalog))
	})

	req := httptest.NewRequest("GET", "/v1/models", nil)
	rec := httptest.NewRecorder()
	ModelsHandler(pool, client)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out struct {
		Object string `json:"object"`
		Data   []struct {
			ID      string `json:"id"`
			Object  string `json:"object"`
			OwnedBy string `json:"owned_by"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Object != "list" || len(out.Data) != 2 {
		t.Fatalf("out = %+v", out)
	}
	if out.Data[0].ID != "gemini-2.0-flash" {
		t.Errorf("id = %q, want models/ prefix stripped", out.Data[0].ID)
	}
	if out.Data[0].Object != "model" || out.Data[0].OwnedBy != "google" {
		t.Errorf("entry = %+v", out.Data[0])
	}
}

func TestModelsHandler_UpstreamError(t *testing.T) {
	pool, client := newChatDeps(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"message":"key disabled"}}`))
	})

	req := httptest.NewRequest("GET", "/v1/models", nil)
	rec := httptest.NewRecorder()
	ModelsHandler(pool, client)(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d", rec.Code)
	}
}
