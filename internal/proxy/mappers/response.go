package mappers

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

func marshalArgs(args map[string]any) string {
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

var thinkingTag = regexp.MustCompile(`(?s)<thinking>.*?</thinking>`)

// StripThinking removes <thinking>…</thinking> subsequences from refined-mode
// content.
func StripThinking(s string) string {
	return thinkingTag.ReplaceAllString(s, "")
}

// TransformCandidate converts one Gemini candidate to an OpenAI choice.
// Text parts join with the content separator; functionCall parts become
// tool_calls, which force finish_reason "tool_calls" regardless of upstream.
func TransformCandidate(cand GeminiCandidate, thinkingMode string) Choice {
	var texts []string
	var toolCalls []ToolCall

	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				id := part.FunctionCall.ID
				if id == "" {
					id = fmt.Sprintf("call_%d", len(toolCalls))
				}
				args := "{}"
				if part.FunctionCall.Args != nil {
					args = marshalArgs(part.FunctionCall.Args)
				}
				toolCalls = append(toolCalls, ToolCall{
					ID:   id,
					Type: "function",
					Function: FunctionCall{
						Name:      part.FunctionCall.Name,
						Arguments: args,
					},
				})
			case part.Text != nil:
				if part.Thought {
					continue
				}
				texts = append(texts, *part.Text)
			}
		}
	}

	content := strings.Join(texts, ContentSeparator)
	if thinkingMode == ModeRefined {
		content = StripThinking(content)
	}

	msg := &AssistantMessage{Role: "assistant", Content: &content}
	var finish string
	if len(toolCalls) > 0 {
		msg.ToolCalls = toolCalls
		finish = "tool_calls"
	} else {
		finish = MapFinishReason(cand.FinishReason)
	}

	return Choice{
		Index:        cand.Index,
		Message:      msg,
		FinishReason: &finish,
	}
}

// TransformUsage maps usageMetadata with zero defaults.
func TransformUsage(meta *GeminiUsageMetadata) *Usage {
	u := &Usage{}
	if meta != nil {
		u.PromptTokens = meta.PromptTokenCount
		u.CompletionTokens = meta.CandidatesTokenCount
		u.TotalTokens = meta.TotalTokenCount
	}
	return u
}

// CheckPromptBlock appends a content_filter choice when the prompt itself was
// blocked and no candidates came back.
func CheckPromptBlock(choices []Choice, feedback *GeminiFeedback) []Choice {
	if len(choices) > 0 || feedback == nil || feedback.BlockReason == "" {
		return choices
	}
	finish := "content_filter"
	return append(choices, Choice{
		Index:        0,
		Message:      &AssistantMessage{Role: "assistant", Content: nil},
		FinishReason: &finish,
	})
}

// ProcessCompletionsResponse builds the full OpenAI chat completion object.
func ProcessCompletionsResponse(resp *GeminiResponse, model, id, thinkingMode string) *ChatCompletion {
	choices := make([]Choice, 0, len(resp.Candidates))
	for _, cand := range resp.Candidates {
		choices = append(choices, TransformCandidate(cand, thinkingMode))
	}
	choices = CheckPromptBlock(choices, resp.PromptFeedback)

	respModel := resp.ModelVersion
	if respModel == "" {
		respModel = model
	}

	return &ChatCompletion{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   respModel,
		Choices: choices,
		Usage:   TransformUsage(resp.UsageMetadata),
	}
}

// ProcessEmbeddingsResponse converts a Gemini embed/batchEmbed response to
// the OpenAI embeddings list shape.
func ProcessEmbeddingsResponse(resp *GeminiEmbedResponse, model string, promptTokens int) *EmbeddingsResponse {
	embeddings := resp.Embeddings
	if len(embeddings) == 0 && resp.Embedding != nil {
		embeddings = []GeminiEmbedding{*resp.Embedding}
	}

	data := make([]EmbeddingItem, 0, len(embeddings))
	for i, emb := range embeddings {
		data = append(data, EmbeddingItem{
			Object:    "embedding",
			Embedding: emb.Values,
			Index:     i,
		})
	}

	return &EmbeddingsResponse{
		Object: "list",
		Data:   data,
		Model:  model,
		Usage: EmbeddingsUsage{
			PromptTokens: promptTokens,
			TotalTokens:  promptTokens,
		},
	}
}
