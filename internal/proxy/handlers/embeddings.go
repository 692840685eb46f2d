package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/airelay/gemini-relay/internal/proxy/mappers"
	"github.com/airelay/gemini-relay/internal/upstream"
	"github.com/airelay/gemini-relay/internal/util"
)

// DefaultEmbeddingModel substitutes a missing model field on embedding
// requests.
const DefaultEmbeddingModel = "text-embedding-004"

type geminiEmbedPayload struct {
	Model   string               `json:"model,omitempty"`
	Content mappers.GeminiContent `json:"content"`
}

type geminiBatchEmbedPayload struct {
	Requests []geminiEmbedPayload `json:"requests"`
}

func embedPayload(model, text string) geminiEmbedPayload {
	t := text
	return geminiEmbedPayload{
		Model:   "models/" + strings.TrimPrefix(model, "models/"),
		Content: mappers.GeminiContent{Parts: []mappers.GeminiPart{{Text: &t}}},
	}
}

// EmbeddingsHandler handles /v1/embeddings. Single inputs go through
// embedContent, multi-input requests through batchEmbedContents.
func EmbeddingsHandler(pool *upstream.CredentialPool, client *upstream.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := RequestIDFrom(r)

		var req mappers.EmbeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeOpenAIError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Input) == 0 {
			writeOpenAIError(w, "Missing embeddings input", http.StatusBadRequest)
			return
		}
		if req.Model == "" {
			req.Model = DefaultEmbeddingModel
		}

		apiKey, err := pool.Next()
		if err != nil {
			writeOpenAIError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		var resp *http.Response
		if len(req.Input) == 1 {
			resp, err = client.EmbedContent(r.Context(), apiKey, req.Model, embedPayload(req.Model, req.Input[0]))
		} else {
			batch := geminiBatchEmbedPayload{}
			for _, input := range req.Input {
				batch.Requests = append(batch.Requests, embedPayload(req.Model, input))
			}
			resp, err = client.BatchEmbedContents(r.Context(), apiKey, req.Model, batch)
		}
		if err != nil {
			writeOpenAIError(w, "Upstream error: "+err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			if IsVerbose() {
				log.Printf("❌ [VERBOSE] [%s] /embeddings Gemini API error (status %d):\n%s", requestID, resp.StatusCode, util.TruncateBytes(body))
			}
			writeOpenAIError(w, upstream.FriendlyError(resp.StatusCode, body), resp.StatusCode)
			return
		}

		var embedResp mappers.GeminiEmbedResponse
		if err := json.Unmarshal(body, &embedResp); err != nil {
			writeOpenAIError(w, "Response conversion error", http.StatusInternalServerError)
			return
		}

		// The upstream does not report usage for embeddings; estimate the
		// prompt tokens from the input length.
		chars := 0
		for _, input := range req.Input {
			chars += len(input)
		}
		writeJSON(w, mappers.ProcessEmbeddingsResponse(&embedResp, req.Model, chars/4))
	}
}
