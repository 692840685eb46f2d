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

// ClaudeMessagesHandler handles /v1/messages: the Anthropic Messages
// dialect routed through the same chat pipeline.
func ClaudeMessagesHandler(pool *upstream.CredentialPool, client *upstream.Client, defaultModel string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := RequestIDFrom(r)

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			writeAnthropicError(w, "Failed to read request body", http.StatusBadRequest)
			return
		}

		if IsVerbose() {
			log.Printf("📥 [VERBOSE] [%s] /v1/messages Raw request:\n%s", requestID, util.TruncateBytes(bodyBytes))
		}

		var anthReq mappers.AnthropicRequest
		if err := json.Unmarshal(bodyBytes, &anthReq); err != nil {
			log.Printf("⚠️ claude parse error: %v", err)
			writeAnthropicError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		chatReq, err := mappers.AnthropicToChat(&anthReq)
		if err != nil {
			writeAnthropicError(w, err.Error(), requestStatus(err, http.StatusInternalServerError))
			return
		}
		if chatReq.Model == "" {
			chatReq.Model = defaultModel
		}

		tag := mappers.ParseModelName(chatReq.Model)
		log.Printf("🗺️ claude model routing: %s -> %s (mode=%s)", chatReq.Model, tag.BaseModel, tag.Mode)

		payload, err := mappers.TransformRequest(chatReq, tag)
		if err != nil {
			writeAnthropicError(w, err.Error(), requestStatus(err, http.StatusInternalServerError))
			return
		}

		apiKey, err := pool.Next()
		if err != nil {
			writeAnthropicError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		id := "msg_" + uuid.NewString()
		if anthReq.Stream {
			handleClaudeStreaming(w, r.Context(), client, apiKey, tag, payload, chatReq.Model, id, requestID)
		} else {
			handleClaudeNonStreaming(w, r.Context(), client, apiKey, tag, payload, chatReq.Model, id, requestID)
		}
	}
}

func handleClaudeNonStreaming(w http.ResponseWriter, ctx context.Context, client *upstream.Client, apiKey string, tag mappers.ModelTag, payload *mappers.GeminiRequest, model, id, requestID string) {
	resp, err := client.GenerateContent(ctx, apiKey, tag.BaseModel, payload)
	if err != nil {
		writeAnthropicError(w, "Upstream error: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		if IsVerbose() {
			log.Printf("❌ [VERBOSE] [%s] /v1/messages Gemini API error (status %d):\n%s", requestID, resp.StatusCode, util.TruncateBytes(body))
		}
		writeAnthropicError(w, upstream.FriendlyError(resp.StatusCode, body), resp.StatusCode)
		return
	}

	var geminiResp mappers.GeminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		writeAnthropicError(w, "Response conversion error", http.StatusInternalServerError)
		return
	}

	completion := mappers.ProcessCompletionsResponse(&geminiResp, model, id, tag.Mode)
	writeJSON(w, mappers.ChatToAnthropic(completion, id))
}

func handleClaudeStreaming(w http.ResponseWriter, ctx context.Context, client *upstream.Client, apiKey string, tag mappers.ModelTag, payload *mappers.GeminiRequest, model, id, requestID string) {
	resp, err := client.StreamGenerateContent(ctx, apiKey, tag.BaseModel, payload)
	if err != nil {
		writeAnthropicError(w, "Upstream error: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		writeAnthropicError(w, upstream.FriendlyError(resp.StatusCode, body), resp.StatusCode)
		return
	}

	SetSSEHeaders(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAnthropicError(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// The Gemini stream is first converted into OpenAI chunks, then each
	// chunk is rewritten into Anthropic stream events.
	pipeline := mappers.NewStreamPipeline(id, model, tag.Mode, true)
	adapter := mappers.NewAnthropicStreamAdapter(id, model)

	emit := func(frames []string) {
		for _, frame := range frames {
			for _, event := range adapter.ProcessFrame(frame) {
				fmt.Fprint(w, event)
			}
		}
		flusher.Flush()
	}

	buf := make([]byte, 64*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			emit(pipeline.Feed(buf[:n]))
		}
		if readErr != nil {
			if readErr != io.EOF && IsVerbose() {
				log.Printf("❌ [VERBOSE] [%s] /v1/messages Stream read error: %v", requestID, readErr)
			}
			break
		}
	}
	emit(pipeline.Flush())
}
