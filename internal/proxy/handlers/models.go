package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/airelay/gemini-relay/internal/upstream"
)

type geminiModelList struct {
	Models []struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"models"`
}

// ModelsHandler handles GET /v1/models: the upstream catalog rendered as an
// OpenAI model list.
func ModelsHandler(pool *upstream.CredentialPool, client *upstream.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey, err := pool.Next()
		if err != nil {
			writeOpenAIError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		resp, err := client.ListModels(r.Context(), apiKey)
		if err != nil {
			writeOpenAIError(w, "Upstream error: "+err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			writeOpenAIError(w, upstream.FriendlyError(resp.StatusCode, body), resp.StatusCode)
			return
		}

		var catalog geminiModelList
		if err := json.Unmarshal(body, &catalog); err != nil {
			writeOpenAIError(w, "Response conversion error", http.StatusInternalServerError)
			return
		}

		created := time.Now().Unix()
		data := make([]map[string]any, 0, len(catalog.Models))
		for _, model := range catalog.Models {
			data = append(data, map[string]any{
				"id":       strings.TrimPrefix(model.Name, "models/"),
				"object":   "model",
				"created":  created,
				"owned_by": "google",
			})
		}
		writeJSON(w, map[string]any{
			"object": "list",
			"data":   data,
		})
	}
}
