package mappers

import (
	"encoding/json"
	"errors"
	"testing"
)

func strContent(s string) MessageContent {
	return MessageContent{Text: s}
}

func TestTransformMessages_RoleMapping(t *testing.T) {
	system, contents, err := TransformMessages([]ChatMessage{
		{Role: "system", Content: strContent("Be terse.")},
		{Role: "user", Content: strContent("Hello")},
		{Role: "assistant", Content: strContent("Hi there")},
	})
	if err != nil {
		t.Fatalf("TransformMessages() error: %v", err)
	}
	if system == nil || *system.Parts[0].Text != "Be terse." {
		t.Fatal("system instruction not extracted")
	}
	if len(contents) != 2 {
		t.Fatalf("Expected 2 contents, got %d", len(contents))
	}
	if contents[0].Role != "user" {
		t.Errorf("contents[0].Role = %q", contents[0].Role)
	}
	if contents[1].Role != "model" {
		t.Errorf("contents[1].Role = %q, want model", contents[1].Role)
	}
	if *contents[1].Parts[0].Text != "Hi there" {
		t.Errorf("assistant text mismatch")
	}
}

func TestTransformMessages_SystemInjectsUserTurn(t *testing.T) {
	system, contents, err := TransformMessages([]ChatMessage{
		{Role: "system", Content: strContent("rules")},
		{Role: "assistant", Content: strContent("opening line")},
	})
	if err != nil {
		t.Fatalf("TransformMessages() error: %v", err)
	}
	if system == nil {
		t.Fatal("system instruction missing")
	}
	if contents[0].Role != "user" {
		t.Fatalf("contents[0].Role = %q, want injected user turn", contents[0].Role)
	}
	if *contents[0].Parts[0].Text != " " {
		t.Errorf("injected user turn should hold a single space, got %q", *contents[0].Parts[0].Text)
	}
}

func TestTransformMessages_UnknownRole(t *testing.T) {
	_, _, err := TransformMessages([]ChatMessage{
		{Role: "narrator", Content: strContent("hm")},
	})
	if err == nil {
		t.Fatal("expected error for unknown role")
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Errorf("expected RequestError, got %T", err)
	}
}

func TestTransformMessages_ToolResponsePlacement(t *testing.T) {
	msgs := []ChatMessage{
		{Role: "user", Content: strContent("weather in Berlin and Paris?")},
		{Role: "assistant", ToolCalls: []ToolCall{
			{ID: "call_0", Type: "function", Function: FunctionCall{Name: "weather", Arguments: `{"city":"Berlin"}`}},
			{ID: "xyz-1", Type: "function", Function: FunctionCall{Name: "weather", Arguments: `{"city":"Paris"}`}},
		}},
		{Role: "tool", ToolCallID: "xyz-1", Content: strContent(`{"temp": 18}`)},
		{Role: "tool", ToolCallID: "call_0", Content: strContent(`{"temp": 21}`)},
	}

	_, contents, err := TransformMessages(msgs)
	if err != nil {
		t.Fatalf("TransformMessages() error: %v", err)
	}
	if len(contents) != 3 {
		t.Fatalf("Expected 3 contents (user, model, function), got %d", len(contents))
	}

	model := contents[1]
	if model.Parts[0].FunctionCall.ID != "" {
		t.Errorf("synthesized call_ id must not round-trip, got %q", model.Parts[0].FunctionCall.ID)
	}
	if model.Parts[1].FunctionCall.ID != "xyz-1" {
		t.Errorf("real id should round-trip, got %q", model.Parts[1].FunctionCall.ID)
	}

	fn := contents[2]
	if fn.Role != "function" {
		t.Fatalf("contents[2].Role = %q, want function", fn.Role)
	}
	if len(fn.Parts) != 2 {
		t.Fatalf("function turn should hold 2 slots, got %d", len(fn.Parts))
	}
	// Responses land in call order, not arrival order.
	if fn.Parts[0].FunctionResponse == nil || fn.Parts[0].FunctionResponse.Response["temp"] != float64(21) {
		t.Error("slot 0 should hold the call_0 response")
	}
	if fn.Parts[1].FunctionResponse == nil || fn.Parts[1].FunctionResponse.Response["temp"] != float64(18) {
		t.Error("slot 1 should hold the xyz-1 response")
	}
}

func TestTransformMessages_DuplicateToolResponse(t *testing.T) {
	msgs := []ChatMessage{
		{Role: "user", Content: strContent("go")},
		{Role: "assistant", ToolCalls: []ToolCall{
			{ID: "call_0", Type: "function", Function: FunctionCall{Name: "f", Arguments: `{}`}},
		}},
		{Role: "tool", ToolCallID: "call_0", Content: strContent("a")},
		{Role: "tool", ToolCallID: "call_0", Content: strContent("b")},
	}
	if _, _, err := TransformMessages(msgs); err == nil {
		t.Fatal("expected error for duplicate tool response")
	}
}

func TestTransformMessages_UnknownToolCallID(t *testing.T) {
	msgs := []ChatMessage{
		{Role: "user", Content: strContent("go")},
		{Role: "assistant", ToolCalls: []ToolCall{
			{ID: "call_0", Type: "function", Function: FunctionCall{Name: "f", Arguments: `{}`}},
		}},
		{Role: "tool", ToolCallID: "missing", Content: strContent("a")},
	}
	if _, _, err := TransformMessages(msgs); err == nil {
		t.Fatal("expected error for unknown tool_call_id")
	}
}

func TestTransformMessage_AllImagesGetsTextPart(t *testing.T) {
	msg := ChatMessage{Role: "user", Content: MessageContent{IsArr: true, Parts: []ContentPart{
		{Type: "image_url", ImageURL: &ImageURL{URL: "data:image/png;base64,AAAA"}},
	}}}
	parts, err := TransformMessage(msg)
	if err != nil {
		t.Fatalf("TransformMessage() error: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("Expected image + trailing text part, got %d parts", len(parts))
	}
	if parts[0].InlineData == nil || parts[0].InlineData.MimeType != "image/png" {
		t.Error("inline data mime mismatch")
	}
	if parts[1].Text == nil || *parts[1].Text != "" {
		t.Error("trailing part should be empty text")
	}
}

func TestTransformMessage_InputAudio(t *testing.T) {
	msg := ChatMessage{Role: "user", Content: MessageContent{IsArr: true, Parts: []ContentPart{
		{Type: "input_audio", InputAudio: &InputAudio{Data: "QUJD", Format: "wav"}},
	}}}
	parts, err := TransformMessage(msg)
	if err != nil {
		t.Fatalf("TransformMessage() error: %v", err)
	}
	if parts[0].InlineData.MimeType != "audio/wav" {
		t.Errorf("MimeType = %q, want audio/wav", parts[0].InlineData.MimeType)
	}
}

func TestTransformMessage_UnknownPartType(t *testing.T) {
	msg := ChatMessage{Role: "user", Content: MessageContent{IsArr: true, Parts: []ContentPart{
		{Type: "video_url"},
	}}}
	if _, err := TransformMessage(msg); err == nil {
		t.Fatal("expected error for unknown part type")
	}
}

func TestTransformConfig_FieldCopy(t *testing.T) {
	temp := 0.7
	maxTokens := 100
	maxCompletion := 200
	req := &ChatRequest{
		Temperature:         &temp,
		MaxTokens:           &maxTokens,
		MaxCompletionTokens: &maxCompletion,
		Stop:                StopSequences{"END"},
	}
	gc, err := TransformConfig(req, nil)
	if err != nil {
		t.Fatalf("TransformConfig() error: %v", err)
	}
	if *gc.Temperature != 0.7 {
		t.Errorf("Temperature = %v", *gc.Temperature)
	}
	if *gc.MaxOutputTokens != 200 {
		t.Errorf("max_completion_tokens should win, got %d", *gc.MaxOutputTokens)
	}
	if len(gc.StopSequences) != 1 || gc.StopSequences[0] != "END" {
		t.Errorf("StopSequences = %v", gc.StopSequences)
	}
}

func TestTransformConfig_ReasoningEffort(t *testing.T) {
	req := &ChatRequest{ReasoningEffort: "low"}
	gc, err := TransformConfig(req, nil)
	if err != nil {
		t.Fatalf("TransformConfig() error: %v", err)
	}
	if gc.ThinkingConfig == nil || gc.ThinkingConfig.ThinkingBudget != 1024 {
		t.Fatalf("ThinkingConfig = %+v, want budget 1024", gc.ThinkingConfig)
	}

	// An explicit thinking config wins over reasoning_effort.
	gc, err = TransformConfig(req, &ThinkingConfig{ThinkingBudget: 24576})
	if err != nil {
		t.Fatalf("TransformConfig() error: %v", err)
	}
	if gc.ThinkingConfig.ThinkingBudget != 24576 {
		t.Errorf("explicit config should win, got %d", gc.ThinkingConfig.ThinkingBudget)
	}
}

func TestTransformConfig_ResponseFormat(t *testing.T) {
	schema := map[string]any{"type": "object"}
	req := &ChatRequest{ResponseFormat: &ResponseFormat{
		Type:       "json_schema",
		JSONSchema: &JSONSchema{Name: "out", Schema: schema},
	}}
	gc, err := TransformConfig(req, nil)
	if err != nil {
		t.Fatalf("TransformConfig() error: %v", err)
	}
	if gc.ResponseMimeType != "application/json" {
		t.Errorf("ResponseMimeType = %q", gc.ResponseMimeType)
	}
	if gc.ResponseSchema == nil {
		t.Error("ResponseSchema not set")
	}

	req.ResponseFormat.JSONSchema.Schema = map[string]any{"enum": []any{"a", "b"}}
	gc, _ = TransformConfig(req, nil)
	if gc.ResponseMimeType != "text/x.enum" {
		t.Errorf("enum schema should use text/x.enum, got %q", gc.ResponseMimeType)
	}

	req.ResponseFormat = &ResponseFormat{Type: "freestyle"}
	if _, err := TransformConfig(req, nil); err == nil {
		t.Fatal("expected error for unknown response_format")
	}
}

func TestTransformTools_ChoiceMapping(t *testing.T) {
	req := &ChatRequest{
		Tools: []Tool{
			{Type: "function", Function: &FunctionDefinition{Name: "get_weather"}},
			{Type: "code_interpreter"},
		},
		ToolChoice: json.RawMessage(`"required"`),
	}
	tools, tc := TransformTools(req)
	if len(tools) != 1 || len(tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("only the function tool should survive, got %+v", tools)
	}
	if tc == nil || tc.FunctionCallingConfig.Mode != "REQUIRED" {
		t.Fatalf("tool_choice mode = %+v, want REQUIRED", tc)
	}

	req.ToolChoice = json.RawMessage(`{"type":"function","function":{"name":"get_weather"}}`)
	_, tc = TransformTools(req)
	if tc.FunctionCallingConfig.Mode != "ANY" {
		t.Errorf("named tool_choice mode = %q, want ANY", tc.FunctionCallingConfig.Mode)
	}
	if len(tc.FunctionCallingConfig.AllowedFunctionNames) != 1 || tc.FunctionCallingConfig.AllowedFunctionNames[0] != "get_weather" {
		t.Errorf("AllowedFunctionNames = %v", tc.FunctionCallingConfig.AllowedFunctionNames)
	}
}

func TestTransformRequest_SearchTool(t *testing.T) {
	req := &ChatRequest{Messages: []ChatMessage{{Role: "user", Content: strContent("hi")}}}
	tag := ParseModelName("gemini-2.0-flash:search")
	out, err := TransformRequest(req, tag)
	if err != nil {
		t.Fatalf("TransformRequest() error: %v", err)
	}
	if len(out.Tools) != 1 || out.Tools[0].GoogleSearch == nil {
		t.Fatalf("google_search tool not attached: %+v", out.Tools)
	}
	if len(out.SafetySettings) != 5 {
		t.Errorf("expected 5 safety settings, got %d", len(out.SafetySettings))
	}
	for _, s := range out.SafetySettings {
		if s.Threshold != "BLOCK_NONE" {
			t.Errorf("threshold %q, want BLOCK_NONE", s.Threshold)
		}
	}
}

func TestTransformRequest_RefinedIncludesThoughts(t *testing.T) {
	req := &ChatRequest{Messages: []ChatMessage{{Role: "user", Content: strContent("hi")}}}
	out, err := TransformRequest(req, ParseModelName("gemini-2.5-pro-refined-low"))
	if err != nil {
		t.Fatalf("TransformRequest() error: %v", err)
	}
	tc := out.GenerationConfig.ThinkingConfig
	if tc == nil || !tc.IncludeThoughts || tc.ThinkingBudget != 1024 {
		t.Fatalf("ThinkingConfig = %+v", tc)
	}
}
