package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/airelay/gemini-relay/internal/proxy/mappers"
)

func TestEmbeddingsHandler_SingleInput(t *testing.T) {
	var gotPath string
	var gotPayload []byte
	pool, client := newChatDeps(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotPayload, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"embedding": {"values": [0.1, 0.2, 0.3]}}`))
	})

	body := `{"model": "text-embedding-004", "input": "hello world"}`
	req := httptest.NewRequest("POST", "/v1/embeddings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	EmbeddingsHandler(pool, client)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if gotPath != "/v1beta/models/text-embedding-004:embedContent" {
		t.Errorf("upstream path = %q", gotPath)
	}
	if !strings.Contains(string(gotPayload), `"models/text-embedding-004"`) {
		t.Errorf("payload model not prefixed: %s", gotPayload)
	}

	var out mappers.EmbeddingsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Object != "list" || len(out.Data) != 1 {
		t.Fatalf("out = %+v", out)
	}
	if len(out.Data[0].Embedding) != 3 {
		t.Errorf("embedding = %v", out.Data[0].Embedding)
	}
	// 11 input chars estimate to 2 prompt tokens.
	if out.Usage.PromptTokens != 2 {
		t.Errorf("prompt_tokens = %d", out.Usage.PromptTokens)
	}
}

func TestEmbeddingsHandler_BatchInput(t *testing.T) {
	var gotPath string
	pool, client := newChatDeps(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"embeddings": [{"values": [0.1]}, {"values": [0.2]}]}`))
	})

	body := `{"input": ["first", "second"]}`
	req := httptest.NewRequest("POST", "/v1/embeddings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	EmbeddingsHandler(pool, client)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotPath != "/v1beta/models/text-embedding-004:batchEmbedContents" {
		t.Errorf("upstream path = %q, want batch endpoint and default model", gotPath)
	}
	var out mappers.EmbeddingsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Data) != 2 || out.Data[1].Index != 1 {
		t.Errorf("data = %+v", out.Data)
	}
}

func TestEmbeddingsHandler_MissingInput(t *testing.T) {
	pool, client := newChatDeps(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called")
	})

	req := httptest.NewRequest("POST", "/v1/embeddings", strings.NewReader(`{"model": "text-embedding-004"}`))
	rec := httptest.NewRecorder()
	EmbeddingsHandler(pool, client)(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
