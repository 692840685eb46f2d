// Package upstream talks to the Google Generative Language API and manages
// the pool of upstream credentials.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com"
	DefaultAPIVersion = "v1beta"

	// APIClient identifies this gateway to the upstream.
	APIClient = "genai-relay/0.1"

	defaultTimeout = 5 * time.Minute // long timeout for streaming
)

// Tasks accepted by the models endpoint.
const (
	TaskGenerateContent       = "generateContent"
	TaskStreamGenerateContent = "streamGenerateContent"
	TaskEmbedContent          = "embedContent"
	TaskBatchEmbedContents    = "batchEmbedContents"
)

// Client handles communication with the Gemini API.
type Client struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
}

// NewClient creates a Client. Empty baseURL falls back to the public
// endpoint.
func NewClient(baseURL string) *Client {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	return &Client{
		baseURL:    trimmed,
		apiVersion: DefaultAPIVersion,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) taskURL(model, task string, stream bool) string {
	model = strings.TrimPrefix(model, "models/")
	url := fmt.Sprintf("%s/%s/models/%s:%s", c.baseURL, c.apiVersion, model, task)
	if stream {
		url += "?alt=sse"
	}
	return url
}

func (c *Client) post(ctx context.Context, url, apiKey string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)
	req.Header.Set("x-goog-api-client", APIClient)

	return c.httpClient.Do(req)
}

// GenerateContent issues a non-streaming generation request.
func (c *Client) GenerateContent(ctx context.Context, apiKey, model string, payload any) (*http.Response, error) {
	return c.post(ctx, c.taskURL(model, TaskGenerateContent, false), apiKey, payload)
}

// StreamGenerateContent issues a streaming generation request (alt=sse).
func (c *Client) StreamGenerateContent(ctx context.Context, apiKey, model string, payload any) (*http.Response, error) {
	return c.post(ctx, c.taskURL(model, TaskStreamGenerateContent, true), apiKey, payload)
}

// EmbedContent embeds a single input.
func (c *Client) EmbedContent(ctx context.Context, apiKey, model string, payload any) (*http.Response, error) {
	return c.post(ctx, c.taskURL(model, TaskEmbedContent, false), apiKey, payload)
}

// BatchEmbedContents embeds a batch of inputs.
func (c *Client) BatchEmbedContents(ctx context.Context, apiKey, model string, payload any) (*http.Response, error) {
	return c.post(ctx, c.taskURL(model, TaskBatchEmbedContents, false), apiKey, payload)
}

// ListModels fetches the upstream model catalog.
func (c *Client) ListModels(ctx context.Context, apiKey string) (*http.Response, error) {
	url := fmt.Sprintf("%s/%s/models", c.baseURL, c.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-goog-api-key", apiKey)
	req.Header.Set("x-goog-api-client", APIClient)
	return c.httpClient.Do(req)
}

// FriendlyError maps an upstream status code to a client-facing message.
func FriendlyError(status int, body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	detail := ""
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		detail = ": " + parsed.Error.Message
	}

	switch {
	case status == http.StatusBadRequest:
		return "Upstream rejected the request" + detail
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "Upstream rejected the API key" + detail
	case status == http.StatusTooManyRequests:
		return "Upstream quota exceeded, slow down" + detail
	case status >= 500:
		return "Upstream service error" + detail
	default:
		return fmt.Sprintf("Upstream returned status %d%s", status, detail)
	}
}
