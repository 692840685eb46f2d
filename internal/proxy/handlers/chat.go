package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/airelay/gemini-relay/internal/proxy/mappers"
	"github.com/airelay/gemini-relay/internal/upstream"
	"github.com/airelay/gemini-relay/internal/util"
)

// ChatHandler handles /v1/chat/completions
func ChatHandler(pool *upstream.CredentialPool, client *upstream.Client, defaultModel string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := RequestIDFrom(r)

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			writeOpenAIError(w, "Failed to read request body", http.StatusBadRequest)
			return
		}

		verbose := IsVerbose()
		if verbose {
			log.Printf("📥 [VERBOSE] [%s] /chat/completions Raw request:\n%s", requestID, util.TruncateBytes(bodyBytes))
		}

		var req mappers.ChatRequest
		if err := json.Unmarshal(bodyBytes, &req); err != nil {
			log.Printf("⚠️ chat parse error: %v", err)
			writeOpenAIError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model == "" {
			req.Model = defaultModel
		}

		tag := mappers.ParseModelName(req.Model)
		log.Printf("🗺️ chat model routing: %s -> %s (mode=%s)", req.Model, tag.BaseModel, tag.Mode)

		payload, err := mappers.TransformRequest(&req, tag)
		if err != nil {
			writeOpenAIError(w, err.Error(), requestStatus(err, http.StatusInternalServerError))
			return
		}

		apiKey, err := pool.Next()
		if err != nil {
			writeOpenAIError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if verbose {
			payloadBytes, _ := json.MarshalIndent(payload, "", "  ")
			log.Printf("📤 [VERBOSE] [%s] /chat/completions Gemini payload:\n%s", requestID, util.TruncateBytes(payloadBytes))
		}

		id := "chatcmpl-" + uuid.NewString()
		if req.Stream {
			includeUsage := req.StreamOptions != nil && req.StreamOptions.IncludeUsage
			handleChatStreaming(w, r.Context(), client, apiKey, tag, payload, req.Model, id, includeUsage, requestID)
		} else {
			handleChatNonStreaming(w, r.Context(), client, apiKey, tag, payload, req.Model, id, requestID)
		}
	}
}

func handleChatNonStreaming(w http.ResponseWriter, ctx context.Context, client *upstream.Client, apiKey string, tag mappers.ModelTag, payload *mappers.GeminiRequest, model, id, requestID string) {
	verbose := IsVerbose()

	resp, err := client.GenerateContent(ctx, apiKey, tag.BaseModel, payload)
	if err != nil {
		if verbose {
			log.Printf("❌ [VERBOSE] [%s] /chat/completions Upstream error: %v", requestID, err)
		}
		writeOpenAIError(w, "Upstream error: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		if verbose {
			log.Printf("❌ [VERBOSE] [%s] /chat/completions Gemini API error (status %d):\n%s", requestID, resp.StatusCode, util.TruncateBytes(body))
		}
		writeOpenAIError(w, upstream.FriendlyError(resp.StatusCode, body), resp.StatusCode)
		return
	}

	if verbose {
		log.Printf("📥 [VERBOSE] [%s] /chat/completions Gemini API response:\n%s", requestID, util.TruncateBytes(body))
	}

	var geminiResp mappers.GeminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		writeOpenAIError(w, "Response conversion error", http.StatusInternalServerError)
		return
	}

	completion := mappers.ProcessCompletionsResponse(&geminiResp, model, id, tag.Mode)
	writeJSON(w, completion)
}

func handleChatStreaming(w http.ResponseWriter, ctx context.Context, client *upstream.Client, apiKey string, tag mappers.ModelTag, payload *mappers.GeminiRequest, model, id string, includeUsage bool, requestID string) {
	resp, err := client.StreamGenerateContent(ctx, apiKey, tag.BaseModel, payload)
	if err != nil {
		writeOpenAIError(w, "Upstream error: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	// Check upstream status before switching to SSE: a pre-200 error is
	// forwarded as-is since headers have not been flushed yet.
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if IsVerbose() {
			log.Printf("❌ [VERBOSE] [%s] /chat/completions Streaming upstream error (status %d):\n%s", requestID, resp.StatusCode, util.TruncateBytes(body))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		w.Write(body)
		return
	}

	SetSSEHeaders(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeOpenAIError(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	pipeline := mappers.NewStreamPipeline(id, model, tag.Mode, includeUsage)

	buf := make([]byte, 64*1024)
	frameCount := 0
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, frame := range pipeline.Feed(buf[:n]) {
				fmt.Fprint(w, frame)
				frameCount++
			}
			flusher.Flush()
		}
		if readErr != nil {
			if readErr != io.EOF && IsVerbose() {
				log.Printf("❌ [VERBOSE] [%s] /chat/completions Stream read error: %v", requestID, readErr)
			}
			break
		}
	}

	for _, frame := range pipeline.Flush() {
		fmt.Fprint(w, frame)
		frameCount++
	}
	flusher.Flush()

	if IsVerbose() {
		log.Printf("✅ [VERBOSE] [%s] /chat/completions Streaming completed: %d frames sent", requestID, frameCount)
	}
}
