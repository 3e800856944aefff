// Package llm provides the structured-output LLM client used for candidate
// scoring and event extraction. The interface is provider-agnostic; the
// shipped implementation talks to the Gemini API.
package llm

import "context"

// FinishReason reports why generation stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishTruncated FinishReason = "truncated"
	FinishOther     FinishReason = "other"
)

// Schema describes the expected JSON output shape, provider-neutrally.
type Schema struct {
	Type        string // "object", "array", "string", "number", "integer", "boolean"
	Description string
	Properties  map[string]*Schema
	Items       *Schema
	Required    []string
}

// StructuredRequest is one structured-output call.
type StructuredRequest struct {
	System string
	Prompt string
	Schema *Schema
	// MaxOutputTokens bounds the final answer. It must be sized above the
	// model's internal reasoning overhead or the call truncates with no
	// usable output.
	MaxOutputTokens int32
	Temperature     float32
}

// StructuredResponse carries the extracted JSON and the finish reason.
// JSON is cleaned (code fences and trailing commas stripped) and ready for
// unmarshalling.
type StructuredResponse struct {
	JSON         []byte
	FinishReason FinishReason
}

// Client issues structured-output LLM calls.
//
// A truncated response surfaces as domain.ErrLLMTruncated: callers must treat
// it as a token-budget or chunk-size problem, not a generic failure.
// Unparseable output surfaces as domain.ErrLLMMalformed, deadline expiry as
// domain.ErrLLMTimeout.
type Client interface {
	ExtractStructured(ctx context.Context, req StructuredRequest) (StructuredResponse, error)
}
