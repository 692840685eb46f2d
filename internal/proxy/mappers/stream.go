package mappers

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// sseFramer is stage 1 of the stream pipeline: it accumulates upstream bytes
// and yields complete `data:` payloads. Residual bytes at end-of-stream are
// surfaced through finish so stage 2 can forward them verbatim.
type sseFramer struct {
	buf []byte
}

func (f *sseFramer) feed(p []byte) []string {
	f.buf = append(f.buf, p...)
	var payloads []string
	for {
		loc := SSEDataLine.FindSubmatchIndex(f.buf)
		if loc == nil {
			return payloads
		}
		payloads = append(payloads, string(f.buf[loc[2]:loc[3]]))
		f.buf = f.buf[loc[1]:]
	}
}

func (f *sseFramer) finish() (string, bool) {
	if len(f.buf) == 0 {
		return "", false
	}
	rest := string(f.buf)
	f.buf = nil
	return rest, true
}

// StreamPipeline transforms a Gemini SSE byte stream into an OpenAI SSE byte
// stream. Stage 1 frames payloads; stage 2 rewrites each payload into
// chat.completion.chunk frames, deferring finish_reason to a final chunk per
// candidate so clients can concatenate deltas.
type StreamPipeline struct {
	framer       sseFramer
	id           string
	model        string
	thinkingMode string
	includeUsage bool

	roleSent   map[int]bool
	toolsSeen  map[int]bool
	finals     map[int]string
	finalOrder []int
	usage      *Usage
}

// NewStreamPipeline creates a pipeline for one upstream response. The id is
// stable across all chunks of the response.
func NewStreamPipeline(id, model, thinkingMode string, includeUsage bool) *StreamPipeline {
	return &StreamPipeline{
		id:           id,
		model:        model,
		thinkingMode: thinkingMode,
		includeUsage: includeUsage,
		roleSent:     make(map[int]bool),
		toolsSeen:    make(map[int]bool),
		finals:       make(map[int]string),
	}
}

// Feed consumes upstream bytes and returns zero or more complete client SSE
// frames ready to write.
func (p *StreamPipeline) Feed(b []byte) []string {
	var out []string
	for _, payload := range p.framer.feed(b) {
		out = append(out, p.transform(payload)...)
	}
	return out
}

// Flush emits the pending final chunk per candidate, any buffered remainder,
// and the [DONE] sentinel. Call exactly once after the upstream stream ends.
func (p *StreamPipeline) Flush() []string {
	var out []string

	if rest, ok := p.framer.finish(); ok {
		out = append(out, "data: "+rest+SSEDelimiter)
	}

	for _, index := range p.finalOrder {
		finish := p.finals[index]
		chunk := ChatCompletion{
			ID:      p.id,
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   p.model,
			Choices: []Choice{{
				Index:        index,
				Delta:        &AssistantMessage{},
				FinishReason: &finish,
			}},
		}
		if p.includeUsage && p.usage != nil {
			chunk.Usage = p.usage
		}
		out = append(out, marshalFrame(chunk))
	}

	out = append(out, DoneSentinel)
	return out
}

func (p *StreamPipeline) transform(payload string) []string {
	var resp GeminiResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil || len(resp.Candidates) == 0 {
		// Malformed or candidate-less payloads are forwarded untouched so
		// upstream errors stay operator-visible.
		return []string{"data: " + payload + SSEDelimiter}
	}

	if resp.UsageMetadata != nil {
		p.usage = TransformUsage(resp.UsageMetadata)
	}

	var out []string
	for _, cand := range resp.Candidates {
		index := cand.Index

		if !p.roleSent[index] {
			p.roleSent[index] = true
			empty := ""
			out = append(out, p.frame(index, &AssistantMessage{Role: "assistant", Content: &empty}, nil))
		}

		var texts []string
		var toolCalls []ToolCall
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					id := part.FunctionCall.ID
					if id == "" {
						id = "call_" + strconv.Itoa(len(toolCalls))
					}
					i := len(toolCalls)
					toolCalls = append(toolCalls, ToolCall{
						ID:    id,
						Type:  "function",
						Index: &i,
						Function: FunctionCall{
							Name:      part.FunctionCall.Name,
							Arguments: marshalArgs(part.FunctionCall.Args),
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
		if p.thinkingMode == ModeRefined {
			content = StripThinking(content)
		}

		if len(toolCalls) > 0 {
			p.toolsSeen[index] = true
			out = append(out, p.frame(index, &AssistantMessage{ToolCalls: toolCalls}, nil))
		} else if content != "" {
			out = append(out, p.frame(index, &AssistantMessage{Content: &content}, nil))
		}

		if cand.FinishReason != "" {
			finish := MapFinishReason(cand.FinishReason)
			if p.toolsSeen[index] {
				finish = "tool_calls"
			}
			if _, pending := p.finals[index]; !pending {
				p.finalOrder = append(p.finalOrder, index)
			}
			p.finals[index] = finish
		}
	}
	return out
}

func (p *StreamPipeline) frame(index int, delta *AssistantMessage, finish *string) string {
	return marshalFrame(ChatCompletion{
		ID:      p.id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   p.model,
		Choices: []Choice{{Index: index, Delta: delta, FinishReason: finish}},
	})
}

func marshalFrame(chunk ChatCompletion) string {
	b, _ := json.Marshal(chunk)
	return "data: " + string(b) + SSEDelimiter
}
