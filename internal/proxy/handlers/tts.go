package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/airelay/gemini-relay/internal/proxy/mappers"
	"github.com/airelay/gemini-relay/internal/tts"
)

func validVoice(voiceID string) bool {
	return mappers.LocaleVoicePattern.MatchString(voiceID) || mappers.GeminiVoicePattern.MatchString(voiceID)
}

func decodeTTSRequest(w http.ResponseWriter, r *http.Request) (*tts.Request, bool) {
	var req tts.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOpenAIError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	if req.Text == "" || req.VoiceID == "" {
		writeOpenAIError(w, "Missing TTS parameters: text and voiceId are required", http.StatusBadRequest)
		return nil, false
	}
	if !validVoice(req.VoiceID) {
		writeOpenAIError(w, "Invalid voice name: "+req.VoiceID, http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

// TTSHandler handles /tts and /api/tts: the full orchestrated job stream.
func TTSHandler(orch *tts.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeTTSRequest(w, r)
		if !ok {
			return
		}
		if err := orch.Stream(w, r, req); err != nil {
			log.Printf("❌ tts request failed: %v", err)
			writeOpenAIError(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// RawTTSHandler handles /rawtts: one synthesis call, no job state, JSON
// response.
func RawTTSHandler(orch *tts.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeTTSRequest(w, r)
		if !ok {
			return
		}
		chunk, mimeType, err := orch.SynthesizeOne(r.Context(), req.Text, req.VoiceID, req.APIKey)
		if err != nil {
			writeOpenAIError(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]string{
			"audioContentBase64": chunk,
			"mimeType":           mimeType,
		})
	}
}
