package mappers

import (
	"strings"
	"testing"
)

func textCandidate(texts ...string) GeminiCandidate {
	parts := make([]GeminiPart, 0, len(texts))
	for _, s := range texts {
		parts = append(parts, textPart(s))
	}
	return GeminiCandidate{Content: &GeminiContent{Role: "model", Parts: parts}, FinishReason: "STOP"}
}

func TestTransformCandidate_JoinsTextParts(t *testing.T) {
	choice := TransformCandidate(textCandidate("part one", "part two"), ModeStandard)
	want := "part one" + ContentSeparator + "part two"
	if *choice.Message.Content != want {
		t.Errorf("Content = %q, want %q", *choice.Message.Content, want)
	}
	if *choice.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", *choice.FinishReason)
	}
}

func TestTransformCandidate_ToolCallsForceFinish(t *testing.T) {
	cand := GeminiCandidate{
		Content: &GeminiContent{Parts: []GeminiPart{
			{FunctionCall: &GeminiFunctionCall{Name: "lookup", Args: map[string]any{"q": "x"}}},
		}},
		FinishReason: "STOP",
	}
	choice := TransformCandidate(cand, ModeStandard)
	if *choice.FinishReason != "tool_calls" {
		t.Fatalf("FinishReason = %q, want tool_calls", *choice.FinishReason)
	}
	if len(choice.Message.ToolCalls) != 1 {
		t.Fatalf("ToolCalls count = %d", len(choice.Message.ToolCalls))
	}
	call := choice.Message.ToolCalls[0]
	if call.ID != "call_0" {
		t.Errorf("synthesized id = %q, want call_0", call.ID)
	}
	if call.Function.Name != "lookup" {
		t.Errorf("Function.Name = %q", call.Function.Name)
	}
	if !strings.Contains(call.Function.Arguments, `"q":"x"`) {
		t.Errorf("Arguments = %q", call.Function.Arguments)
	}
}

func TestTransformCandidate_RefinedStripsThinking(t *testing.T) {
	choice := TransformCandidate(textCandidate("<thinking>internal\nnotes</thinking>Answer."), ModeRefined)
	if *choice.Message.Content != "Answer." {
		t.Errorf("Content = %q, want Answer.", *choice.Message.Content)
	}
}

func TestTransformCandidate_SkipsThoughtParts(t *testing.T) {
	thought := "pondering"
	answer := "done"
	cand := GeminiCandidate{Content: &GeminiContent{Parts: []GeminiPart{
		{Text: &thought, Thought: true},
		{Text: &answer},
	}}, FinishReason: "STOP"}
	choice := TransformCandidate(cand, ModeStandard)
	if *choice.Message.Content != "done" {
		t.Errorf("Content = %q, thought part should be skipped", *choice.Message.Content)
	}
}

func TestCheckPromptBlock(t *testing.T) {
	choices := CheckPromptBlock(nil, &GeminiFeedback{BlockReason: "SAFETY"})
	if len(choices) != 1 {
		t.Fatalf("Expected 1 synthetic choice, got %d", len(choices))
	}
	if choices[0].Message.Content != nil {
		t.Error("blocked prompt choice should have null content")
	}
	if *choices[0].FinishReason != "content_filter" {
		t.Errorf("FinishReason = %q", *choices[0].FinishReason)
	}

	// Existing choices are left alone.
	existing := []Choice{{Index: 0}}
	if got := CheckPromptBlock(existing, &GeminiFeedback{BlockReason: "SAFETY"}); len(got) != 1 {
		t.Errorf("existing choices should pass through, got %d", len(got))
	}
}

func TestProcessCompletionsResponse_ModelVersionFallback(t *testing.T) {
	resp := &GeminiResponse{
		Candidates:    []GeminiCandidate{textCandidate("hi")},
		UsageMetadata: &GeminiUsageMetadata{PromptTokenCount: 3, CandidatesTokenCount: 2, TotalTokenCount: 5},
	}
	comp := ProcessCompletionsResponse(resp, "gemini-2.0-flash", "chatcmpl-1", ModeStandard)
	if comp.Model != "gemini-2.0-flash" {
		t.Errorf("Model = %q, want requested model fallback", comp.Model)
	}
	if comp.Object != "chat.completion" {
		t.Errorf("Object = %q", comp.Object)
	}
	if comp.Usage.TotalTokens != 5 {
		t.Errorf("TotalTokens = %d", comp.Usage.TotalTokens)
	}

	resp.ModelVersion = "gemini-2.0-flash-001"
	comp = ProcessCompletionsResponse(resp, "gemini-2.0-flash", "chatcmpl-1", ModeStandard)
	if comp.Model != "gemini-2.0-flash-001" {
		t.Errorf("Model = %q, want upstream modelVersion", comp.Model)
	}
}

func TestProcessEmbeddingsResponse_SingleAndBatch(t *testing.T) {
	single := &GeminiEmbedResponse{Embedding: &GeminiEmbedding{Values: []float64{0.1, 0.2}}}
	out := ProcessEmbeddingsResponse(single, "text-embedding-004", 7)
	if out.Object != "list" || len(out.Data) != 1 {
		t.Fatalf("single form: %+v", out)
	}
	if out.Data[0].Object != "embedding" || out.Data[0].Index != 0 {
		t.Errorf("item = %+v", out.Data[0])
	}
	if out.Usage.PromptTokens != 7 || out.Usage.TotalTokens != 7 {
		t.Errorf("usage = %+v", out.Usage)
	}

	batch := &GeminiEmbedResponse{Embeddings: []GeminiEmbedding{{Values: []float64{1}}, {Values: []float64{2}}}}
	out = ProcessEmbeddingsResponse(batch, "text-embedding-004", 7)
	if len(out.Data) != 2 || out.Data[1].Index != 1 {
		t.Fatalf("batch form: %+v", out.Data)
	}
}
