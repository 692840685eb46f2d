package mappers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RequestError marks a client-side validation failure. Handlers map it to
// HTTP 400; every other transformer error is treated as internal.
type RequestError struct {
	msg string
}

func (e *RequestError) Error() string { return e.msg }

func invalidRequestf(format string, args ...any) error {
	return &RequestError{msg: fmt.Sprintf(format, args...)}
}

// FetchImage retrieves a remote image referenced by an image_url part and
// returns its mime type and raw bytes. Overridable for tests.
var FetchImage = func(url string) (string, []byte, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("image fetch failed: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, err
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "image/png"
	}
	return mime, data, nil
}

func textPart(s string) GeminiPart {
	return GeminiPart{Text: &s}
}

// TransformMessage converts one message's content into Gemini parts.
// If every part was an image, a trailing empty text part is appended because
// Gemini rejects contents without any text.
func TransformMessage(msg ChatMessage) ([]GeminiPart, error) {
	if !msg.Content.IsArr {
		return []GeminiPart{textPart(msg.Content.Text)}, nil
	}

	parts := make([]GeminiPart, 0, len(msg.Content.Parts))
	allImages := len(msg.Content.Parts) > 0
	for _, item := range msg.Content.Parts {
		switch item.Type {
		case "text":
			parts = append(parts, textPart(item.Text))
			allImages = false
		case "image_url":
			if item.ImageURL == nil {
				return nil, invalidRequestf("image_url part without url")
			}
			blob, err := decodeImageURL(item.ImageURL.URL)
			if err != nil {
				return nil, err
			}
			parts = append(parts, GeminiPart{InlineData: blob})
		case "input_audio":
			if item.InputAudio == nil {
				return nil, invalidRequestf("input_audio part without data")
			}
			parts = append(parts, GeminiPart{InlineData: &GeminiBlob{
				MimeType: "audio/" + item.InputAudio.Format,
				Data:     item.InputAudio.Data,
			}})
			allImages = false
		default:
			return nil, invalidRequestf("unknown content part type %q", item.Type)
		}
	}

	if allImages {
		parts = append(parts, textPart(""))
	}
	return parts, nil
}

func decodeImageURL(url string) (*GeminiBlob, error) {
	if strings.HasPrefix(url, "data:") {
		meta, data, ok := strings.Cut(strings.TrimPrefix(url, "data:"), ",")
		if !ok {
			return nil, invalidRequestf("malformed data URL in image_url")
		}
		mime, _, _ := strings.Cut(meta, ";")
		if !strings.Contains(meta, "base64") {
			return nil, invalidRequestf("image_url data URL must be base64 encoded")
		}
		return &GeminiBlob{MimeType: mime, Data: data}, nil
	}

	mime, raw, err := FetchImage(url)
	if err != nil {
		return nil, invalidRequestf("cannot fetch image %q: %v", url, err)
	}
	return &GeminiBlob{MimeType: mime, Data: base64.StdEncoding.EncodeToString(raw)}, nil
}

// assistantTurn records where each tool_call of an assistant message landed so
// that subsequent tool responses can be placed by pure lookup.
type assistantTurn struct {
	calls map[string]callSlot
}

type callSlot struct {
	index int
	name  string
}

// TransformMessages maps the OpenAI message sequence onto Gemini contents.
// system messages become system_instruction, assistant becomes "model", and
// runs of tool messages collapse into a single "function" turn whose parts
// sit at the index of the call they answer.
func TransformMessages(msgs []ChatMessage) (*GeminiContent, []GeminiContent, error) {
	if len(msgs) == 0 {
		return nil, nil, invalidRequestf("messages must not be empty")
	}

	var system *GeminiContent
	contents := make([]GeminiContent, 0, len(msgs))
	var lastTurn *assistantTurn

	for _, msg := range msgs {
		switch msg.Role {
		case "system":
			parts, err := TransformMessage(msg)
			if err != nil {
				return nil, nil, err
			}
			if system == nil {
				system = &GeminiContent{}
			}
			system.Parts = append(system.Parts, parts...)

		case "user":
			parts, err := TransformMessage(msg)
			if err != nil {
				return nil, nil, err
			}
			contents = append(contents, GeminiContent{Role: "user", Parts: parts})
			lastTurn = nil

		case "assistant":
			var parts []GeminiPart
			if msg.Content.IsArr || msg.Content.Text != "" {
				p, err := TransformMessage(msg)
				if err != nil {
					return nil, nil, err
				}
				parts = p
			}
			turn := &assistantTurn{calls: make(map[string]callSlot, len(msg.ToolCalls))}
			for i, call := range msg.ToolCalls {
				if call.Type != "function" {
					return nil, nil, invalidRequestf("unsupported tool_call type %q", call.Type)
				}
				fc := &GeminiFunctionCall{Name: call.Function.Name}
				if call.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(call.Function.Arguments), &fc.Args); err != nil {
						return nil, nil, invalidRequestf("tool_call %q has invalid arguments: %v", call.ID, err)
					}
				}
				// Ids starting with call_ are synthesized by this gateway
				// and must not round-trip to the upstream.
				if !strings.HasPrefix(call.ID, "call_") {
					fc.ID = call.ID
				}
				parts = append(parts, GeminiPart{FunctionCall: fc})
				turn.calls[call.ID] = callSlot{index: i, name: call.Function.Name}
			}
			if len(parts) == 0 {
				return nil, nil, invalidRequestf("assistant message carries neither content nor tool_calls")
			}
			contents = append(contents, GeminiContent{Role: "model", Parts: parts})
			lastTurn = turn

		case "tool":
			if lastTurn == nil {
				return nil, nil, invalidRequestf("tool message without preceding assistant tool_calls")
			}
			slot, ok := lastTurn.calls[msg.ToolCallID]
			if !ok {
				return nil, nil, invalidRequestf("tool message references unknown tool_call_id %q", msg.ToolCallID)
			}

			// Runs of tool messages share one "function" turn.
			if len(contents) == 0 || contents[len(contents)-1].Role != "function" {
				contents = append(contents, GeminiContent{
					Role:  "function",
					Parts: make([]GeminiPart, len(lastTurn.calls)),
				})
			}
			turn := &contents[len(contents)-1]
			if turn.Parts[slot.index].FunctionResponse != nil {
				return nil, nil, invalidRequestf("duplicate tool response for tool_call_id %q", msg.ToolCallID)
			}

			fr := &GeminiFunctionResponse{Name: slot.name}
			if !strings.HasPrefix(msg.ToolCallID, "call_") {
				fr.ID = msg.ToolCallID
			}
			raw := msg.Content.PlainText()
			var decoded map[string]any
			if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
				fr.Response = decoded
			} else {
				fr.Response = map[string]any{"result": raw}
			}
			turn.Parts[slot.index] = GeminiPart{FunctionResponse: fr}

		default:
			return nil, nil, invalidRequestf("unknown message role %q", msg.Role)
		}
	}

	// Gemini requires the first turn to be a user turn whenever a system
	// instruction is present.
	if system != nil && (len(contents) == 0 || contents[0].Role != "user") {
		contents = append([]GeminiContent{{Role: "user", Parts: []GeminiPart{textPart(" ")}}}, contents...)
	}

	return system, contents, nil
}

// TransformConfig builds the generationConfig. An explicit thinkingConfig
// wins over one derived from reasoning_effort.
func TransformConfig(req *ChatRequest, thinking *ThinkingConfig) (*GenerationConfig, error) {
	gc := &GenerationConfig{
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		TopK:             req.TopK,
		Seed:             req.Seed,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		CandidateCount:   req.N,
		StopSequences:    []string(req.Stop),
	}

	if req.MaxCompletionTokens != nil {
		gc.MaxOutputTokens = req.MaxCompletionTokens
	} else if req.MaxTokens != nil {
		gc.MaxOutputTokens = req.MaxTokens
	}

	if req.ReasoningEffort != "" {
		budget, ok := ReasoningBudgets[req.ReasoningEffort]
		if !ok {
			return nil, invalidRequestf("unknown reasoning_effort %q", req.ReasoningEffort)
		}
		gc.ThinkingConfig = &ThinkingConfig{ThinkingBudget: budget}
	}
	if thinking != nil {
		gc.ThinkingConfig = thinking
	}

	if rf := req.ResponseFormat; rf != nil {
		switch rf.Type {
		case "json_schema":
			if rf.JSONSchema != nil && rf.JSONSchema.Schema != nil {
				gc.ResponseSchema = rf.JSONSchema.Schema
				if _, hasEnum := rf.JSONSchema.Schema["enum"]; hasEnum {
					gc.ResponseMimeType = "text/x.enum"
				} else {
					gc.ResponseMimeType = "application/json"
				}
			} else {
				gc.ResponseMimeType = "application/json"
			}
		case "json_object":
			gc.ResponseMimeType = "application/json"
		case "text":
			gc.ResponseMimeType = "text/plain"
		default:
			return nil, invalidRequestf("unknown response_format type %q", rf.Type)
		}
	}

	return gc, nil
}

// TransformTools converts the OpenAI tool declarations and tool_choice.
// Only function tools are forwarded; other types are dropped silently.
func TransformTools(req *ChatRequest) ([]GeminiTool, *GeminiToolConfig) {
	var decls []GeminiFunctionDeclaration
	for _, tool := range req.Tools {
		if tool.Type != "function" || tool.Function == nil {
			continue
		}
		decls = append(decls, GeminiFunctionDeclaration{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  tool.Function.Parameters,
		})
	}

	var tools []GeminiTool
	if len(decls) > 0 {
		tools = append(tools, GeminiTool{FunctionDeclarations: decls})
	}

	var toolConfig *GeminiToolConfig
	if len(req.ToolChoice) > 0 {
		var mode string
		if err := json.Unmarshal(req.ToolChoice, &mode); err == nil {
			switch mode {
			case "auto", "none", "required":
				toolConfig = &GeminiToolConfig{FunctionCallingConfig: &GeminiFunctionCallingConfig{
					Mode: strings.ToUpper(mode),
				}}
			}
		} else {
			var named struct {
				Type     string `json:"type"`
				Function struct {
					Name string `json:"name"`
				} `json:"function"`
			}
			if err := json.Unmarshal(req.ToolChoice, &named); err == nil && named.Type == "function" {
				toolConfig = &GeminiToolConfig{FunctionCallingConfig: &GeminiFunctionCallingConfig{
					Mode:                 "ANY",
					AllowedFunctionNames: []string{named.Function.Name},
				}}
			}
		}
	}

	return tools, toolConfig
}

// TransformRequest assembles the full GeminiRequest for a parsed model tag.
func TransformRequest(req *ChatRequest, tag ModelTag) (*GeminiRequest, error) {
	system, contents, err := TransformMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	// Budget 0 is meaningful: -thinking-none explicitly disables thinking.
	var thinking *ThinkingConfig
	if tag.Mode == ModeThinking || tag.Mode == ModeRefined {
		thinking = &ThinkingConfig{
			ThinkingBudget:  tag.Budget,
			IncludeThoughts: tag.Mode == ModeRefined,
		}
	}

	gc, err := TransformConfig(req, thinking)
	if err != nil {
		return nil, err
	}

	tools, toolConfig := TransformTools(req)
	if tag.Search {
		tools = append(tools, GeminiTool{GoogleSearch: &struct{}{}})
	}

	return &GeminiRequest{
		SystemInstruction: system,
		Contents:          contents,
		SafetySettings:    DefaultSafetySettings,
		GenerationConfig:  gc,
		Tools:             tools,
		ToolConfig:        toolConfig,
	}, nil
}
