package mappers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Anthropic Messages structures. The adapter converts these to the internal
// OpenAI shape so the Anthropic surface piggybacks on the chat pipeline.

type AnthropicRequest struct {
	Model         string               `json:"model"`
	Messages      []AnthropicMessage   `json:"messages"`
	System        AnthropicSystem      `json:"system,omitempty"`
	MaxTokens     *int                 `json:"max_tokens,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	TopP          *float64             `json:"top_p,omitempty"`
	TopK          *int                 `json:"top_k,omitempty"`
	StopSequences []string             `json:"stop_sequences,omitempty"`
	Tools         []AnthropicTool      `json:"tools,omitempty"`
	ToolChoice    *AnthropicToolChoice `json:"tool_choice,omitempty"`
}

// AnthropicSystem accepts both the string and block-array forms.
type AnthropicSystem string

func (s *AnthropicSystem) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = AnthropicSystem(str)
		return nil
	}
	var blocks []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	var texts []string
	for _, b := range blocks {
		if b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	*s = AnthropicSystem(strings.Join(texts, "\n"))
	return nil
}

type AnthropicMessage struct {
	Role    string           `json:"role"`
	Content AnthropicContent `json:"content"`
}

type AnthropicContent struct {
	Text   string
	Blocks []AnthropicBlock
	IsArr  bool
}

func (c *AnthropicContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		return nil
	}
	var blocks []AnthropicBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	c.Blocks = blocks
	c.IsArr = true
	return nil
}

type AnthropicBlock struct {
	Type      string                `json:"type"`
	Text      string                `json:"text,omitempty"`
	Source    *AnthropicImageSource `json:"source,omitempty"`
	ID        string                `json:"id,omitempty"`
	Name      string                `json:"name,omitempty"`
	Input     map[string]any        `json:"input,omitempty"`
	ToolUseID string                `json:"tool_use_id,omitempty"`
	Content   json.RawMessage       `json:"content,omitempty"`
	IsError   bool                  `json:"is_error,omitempty"`
}

type AnthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type AnthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

type AnthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type AnthropicResponse struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Role         string           `json:"role"`
	Model        string           `json:"model"`
	Content      []AnthropicBlock `json:"content"`
	StopReason   string           `json:"stop_reason,omitempty"`
	StopSequence *string          `json:"stop_sequence"`
	Usage        AnthropicUsage   `json:"usage"`
}

type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// stopReasons maps OpenAI finish reasons onto Anthropic stop reasons.
var stopReasons = map[string]string{
	"stop":           "end_turn",
	"length":         "max_tokens",
	"tool_calls":     "tool_use",
	"content_filter": "end_turn",
}

func mapStopReason(finish string) string {
	if mapped, ok := stopReasons[finish]; ok {
		return mapped
	}
	return "end_turn"
}

// AnthropicToChat converts an Anthropic Messages request into the internal
// OpenAI-shape chat request. tool_result blocks become tool messages and
// tool_use blocks become assistant tool_calls, so the downstream transformer
// sees the exact shape it already handles.
func AnthropicToChat(req *AnthropicRequest) (*ChatRequest, error) {
	out := &ChatRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
		MaxTokens:   req.MaxTokens,
		Stop:        StopSequences(req.StopSequences),
	}

	if req.System != "" {
		out.Messages = append(out.Messages, ChatMessage{
			Role:    "system",
			Content: MessageContent{Text: string(req.System)},
		})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "user":
			if err := appendUserMessage(out, msg); err != nil {
				return nil, err
			}
		case "assistant":
			if err := appendAssistantMessage(out, msg); err != nil {
				return nil, err
			}
		default:
			return nil, invalidRequestf("unknown message role %q", msg.Role)
		}
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, Tool{
			Type: "function",
			Function: &FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	if tc := req.ToolChoice; tc != nil {
		switch tc.Type {
		case "auto":
			out.ToolChoice = json.RawMessage(`"auto"`)
		case "any":
			out.ToolChoice = json.RawMessage(`"required"`)
		case "none":
			out.ToolChoice = json.RawMessage(`"none"`)
		case "tool":
			raw, _ := json.Marshal(map[string]any{
				"type":     "function",
				"function": map[string]string{"name": tc.Name},
			})
			out.ToolChoice = raw
		}
	}

	return out, nil
}

func appendUserMessage(out *ChatRequest, msg AnthropicMessage) error {
	if !msg.Content.IsArr {
		out.Messages = append(out.Messages, ChatMessage{
			Role:    "user",
			Content: MessageContent{Text: msg.Content.Text},
		})
		return nil
	}

	var parts []ContentPart
	flushParts := func() {
		if len(parts) > 0 {
			out.Messages = append(out.Messages, ChatMessage{
				Role:    "user",
				Content: MessageContent{Parts: parts, IsArr: true},
			})
			parts = nil
		}
	}

	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case "text":
			parts = append(parts, ContentPart{Type: "text", Text: block.Text})
		case "image":
			if block.Source == nil {
				return invalidRequestf("image block without source")
			}
			var url string
			switch block.Source.Type {
			case "base64":
				url = fmt.Sprintf("data:%s;base64,%s", block.Source.MediaType, block.Source.Data)
			case "url":
				url = block.Source.URL
			default:
				return invalidRequestf("unknown image source type %q", block.Source.Type)
			}
			parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}})
		case "tool_result":
			// A tool_result interrupts the user content: it becomes its own
			// tool message keyed by tool_use_id.
			flushParts()
			out.Messages = append(out.Messages, ChatMessage{
				Role:       "tool",
				ToolCallID: block.ToolUseID,
				Content:    MessageContent{Text: flattenToolResult(block.Content)},
			})
		default:
			return invalidRequestf("unknown content block type %q", block.Type)
		}
	}
	flushParts()
	return nil
}

func appendAssistantMessage(out *ChatRequest, msg AnthropicMessage) error {
	chat := ChatMessage{Role: "assistant"}

	if !msg.Content.IsArr {
		chat.Content = MessageContent{Text: msg.Content.Text}
		out.Messages = append(out.Messages, chat)
		return nil
	}

	var texts []string
	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case "text":
			texts = append(texts, block.Text)
		case "thinking":
			// Internal reasoning is not replayed upstream.
		case "tool_use":
			args := "{}"
			if block.Input != nil {
				args = marshalArgs(block.Input)
			}
			chat.ToolCalls = append(chat.ToolCalls, ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})
		default:
			return invalidRequestf("unknown content block type %q", block.Type)
		}
	}
	chat.Content = MessageContent{Text: strings.Join(texts, "\n")}
	out.Messages = append(out.Messages, chat)
	return nil
}

func flattenToolResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []AnthropicBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var texts []string
		for _, b := range blocks {
			if b.Type == "text" {
				texts = append(texts, b.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return string(raw)
}

// ChatToAnthropic converts the internal OpenAI completion back into an
// Anthropic Messages response envelope.
func ChatToAnthropic(comp *ChatCompletion, id string) *AnthropicResponse {
	resp := &AnthropicResponse{
		ID:    id,
		Type:  "message",
		Role:  "assistant",
		Model: comp.Model,
	}

	if len(comp.Choices) > 0 {
		choice := comp.Choices[0]
		if choice.Message != nil {
			if choice.Message.Content != nil && *choice.Message.Content != "" {
				resp.Content = append(resp.Content, AnthropicBlock{
					Type: "text",
					Text: *choice.Message.Content,
				})
			}
			for _, call := range choice.Message.ToolCalls {
				var input map[string]any
				json.Unmarshal([]byte(call.Function.Arguments), &input)
				resp.Content = append(resp.Content, AnthropicBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Function.Name,
					Input: input,
				})
			}
		}
		if choice.FinishReason != nil {
			resp.StopReason = mapStopReason(*choice.FinishReason)
		}
	}
	if resp.Content == nil {
		resp.Content = []AnthropicBlock{}
	}

	if comp.Usage != nil {
		resp.Usage = AnthropicUsage{
			InputTokens:  comp.Usage.PromptTokens,
			OutputTokens: comp.Usage.CompletionTokens,
		}
	}
	return resp
}

// AnthropicStreamAdapter rewrites the OpenAI chunk stream into Anthropic
// stream events: message_start, content_block_start/delta/stop,
// message_delta, message_stop.
type AnthropicStreamAdapter struct {
	id    string
	model string

	started    bool
	blockOpen  bool
	blockType  string
	blockIndex int
	stopReason string
	usage      *Usage
}

func NewAnthropicStreamAdapter(id, model string) *AnthropicStreamAdapter {
	return &AnthropicStreamAdapter{id: id, model: model, blockIndex: -1}
}

func anthropicEvent(name string, payload any) string {
	b, _ := json.Marshal(payload)
	return "event: " + name + "\ndata: " + string(b) + SSEDelimiter
}

// ProcessFrame consumes one OpenAI SSE frame produced by the stream pipeline
// and returns the Anthropic frames to forward.
func (a *AnthropicStreamAdapter) ProcessFrame(frame string) []string {
	payload := strings.TrimSuffix(strings.TrimPrefix(frame, "data: "), SSEDelimiter)
	if payload == "[DONE]" {
		return a.finish()
	}

	var chunk ChatCompletion
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return nil
	}

	var out []string
	if !a.started {
		a.started = true
		out = append(out, anthropicEvent("message_start", map[string]any{
			"type": "message_start",
			"message": AnthropicResponse{
				ID:      a.id,
				Type:    "message",
				Role:    "assistant",
				Model:   a.model,
				Content: []AnthropicBlock{},
			},
		}))
	}

	if chunk.Usage != nil {
		a.usage = chunk.Usage
	}

	for _, choice := range chunk.Choices {
		if choice.Index != 0 {
			continue
		}
		if choice.FinishReason != nil {
			a.stopReason = mapStopReason(*choice.FinishReason)
		}
		delta := choice.Delta
		if delta == nil {
			continue
		}

		if delta.Content != nil && *delta.Content != "" {
			out = append(out, a.ensureBlock("text", nil)...)
			out = append(out, anthropicEvent("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": a.blockIndex,
				"delta": map[string]string{"type": "text_delta", "text": *delta.Content},
			}))
		}

		for _, call := range delta.ToolCalls {
			out = append(out, a.ensureBlock("tool_use", &call)...)
			if call.Function.Arguments != "" {
				out = append(out, anthropicEvent("content_block_delta", map[string]any{
					"type":  "content_block_delta",
					"index": a.blockIndex,
					"delta": map[string]string{"type": "input_json_delta", "partial_json": call.Function.Arguments},
				}))
			}
		}
	}
	return out
}

// ensureBlock opens a new content block when the delta type changes, closing
// the previous one first. Consecutive text deltas share one block; every
// tool_use call opens a fresh block.
func (a *AnthropicStreamAdapter) ensureBlock(blockType string, call *ToolCall) []string {
	if a.blockOpen && a.blockType == blockType && blockType == "text" {
		return nil
	}

	var out []string
	if a.blockOpen {
		out = append(out, anthropicEvent("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": a.blockIndex,
		}))
	}

	a.blockIndex++
	a.blockOpen = true
	a.blockType = blockType

	block := map[string]any{"type": blockType}
	if blockType == "text" {
		block["text"] = ""
	} else if call != nil {
		block["id"] = call.ID
		block["name"] = call.Function.Name
		block["input"] = map[string]any{}
	}
	out = append(out, anthropicEvent("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         a.blockIndex,
		"content_block": block,
	}))
	return out
}

func (a *AnthropicStreamAdapter) finish() []string {
	var out []string
	if a.blockOpen {
		a.blockOpen = false
		out = append(out, anthropicEvent("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": a.blockIndex,
		}))
	}

	stop := a.stopReason
	if stop == "" {
		stop = "end_turn"
	}
	deltaEvent := map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stop, "stop_sequence": nil},
	}
	if a.usage != nil {
		deltaEvent["usage"] = AnthropicUsage{
			InputTokens:  a.usage.PromptTokens,
			OutputTokens: a.usage.CompletionTokens,
		}
	}
	out = append(out, anthropicEvent("message_delta", deltaEvent))
	out = append(out, anthropicEvent("message_stop", map[string]any{"type": "message_stop"}))
	return out
}
