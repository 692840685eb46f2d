// Package mappers converts between the client-facing OpenAI/Anthropic wire
// dialects and Gemini's native request/response format.
package mappers

import (
	"regexp"
	"strings"
)

// Modes recognized in model-name suffixes.
const (
	ModeStandard = "standard"
	ModeThinking = "thinking"
	ModeRefined  = "refined"
)

const (
	// SSEDelimiter terminates every SSE frame.
	SSEDelimiter = "\n\n"

	// ContentSeparator joins multiple text parts of a single candidate.
	ContentSeparator = "\n\n|>"

	// DoneSentinel is the literal terminator of an OpenAI SSE stream.
	DoneSentinel = "data: [DONE]\n\n"
)

// SSEDataLine matches one complete `data:` payload at the head of the framer
// buffer. Gemini terminates frames with \n\n, \r\r or \r\n\r\n depending on
// the transport path.
var SSEDataLine = regexp.MustCompile(`(?s)^data: (.*?)(?:\r\r|\r\n\r\n|\n\n)`)

// Voice name patterns accepted by the TTS endpoints: standard locale voices
// (en-US-Standard-A) and Gemini-style bare names (Kore, Puck).
var (
	LocaleVoicePattern = regexp.MustCompile(`^[a-z]{2,3}-[A-Z]{2}-[A-Za-z0-9-]+$`)
	GeminiVoicePattern = regexp.MustCompile(`^[A-Z][a-z]+$`)
)

// ReasoningBudgets maps reasoning_effort levels to Gemini thinking budgets.
var ReasoningBudgets = map[string]int{
	"none":   0,
	"low":    1024,
	"medium": 8192,
	"high":   24576,
}

// FinishReasons maps Gemini finish reasons to OpenAI finish reasons.
// Unknown reasons pass through lowercased.
var FinishReasons = map[string]string{
	"STOP":       "stop",
	"MAX_TOKENS": "length",
	"SAFETY":     "content_filter",
	"RECITATION": "content_filter",
}

// MapFinishReason translates an upstream finish reason into the OpenAI
// vocabulary, passing unknown reasons through.
func MapFinishReason(reason string) string {
	if mapped, ok := FinishReasons[reason]; ok {
		return mapped
	}
	return strings.ToLower(reason)
}

// DefaultSafetySettings disables blocking across all five harm categories.
// The gateway delegates moderation entirely to the caller.
var DefaultSafetySettings = []SafetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_CIVIC_INTEGRITY", Threshold: "BLOCK_NONE"},
}

// ModelTag is the parsed form of a requested model name.
type ModelTag struct {
	BaseModel string
	Mode      string
	Budget    int
	Search    bool
}

var budgetLevels = []string{"none", "low", "medium", "high"}

// ParseModelName extracts optional mode suffixes from the requested model
// name. Suffix parsing is greedy and longest-match: -refined-<level> and
// -thinking-<level> are tested before the search suffixes.
func ParseModelName(name string) ModelTag {
	tag := ModelTag{BaseModel: name, Mode: ModeStandard}

	for _, level := range budgetLevels {
		if base, ok := strings.CutSuffix(name, "-refined-"+level); ok {
			tag.BaseModel = base
			tag.Mode = ModeRefined
			tag.Budget = ReasoningBudgets[level]
			return tag
		}
		if base, ok := strings.CutSuffix(name, "-thinking-"+level); ok {
			tag.BaseModel = base
			tag.Mode = ModeThinking
			tag.Budget = ReasoningBudgets[level]
			return tag
		}
	}

	if base, ok := strings.CutSuffix(name, ":search"); ok {
		tag.BaseModel = base
		tag.Search = true
		return tag
	}
	if base, ok := strings.CutSuffix(name, "-search-preview"); ok {
		tag.BaseModel = base
		tag.Search = true
		return tag
	}

	return tag
}

// IsKnownModelFamily reports whether the base name belongs to a family the
// upstream accepts.
func IsKnownModelFamily(base string) bool {
	if strings.HasPrefix(base, "models/") {
		return true
	}
	for _, prefix := range []string{"gemini-", "gemma-", "learnlm-"} {
		if strings.HasPrefix(base, prefix) {
			return true
		}
	}
	return false
}
