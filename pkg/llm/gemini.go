package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/Attendry/attendry-sub001/engine/domain"
)

// Gemini implements Client against the Gemini API with native JSON schema
// enforcement.
type Gemini struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGemini creates a Gemini-backed client.
func NewGemini(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model, logger: logger}, nil
}

// ExtractStructured issues one structured-output call.
func (g *Gemini) ExtractStructured(ctx context.Context, req StructuredRequest) (StructuredResponse, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   toGenaiSchema(req.Schema),
		MaxOutputTokens:  req.MaxOutputTokens,
		Temperature:      genai.Ptr(req.Temperature),
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.Prompt), cfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return StructuredResponse{}, fmt.Errorf("llm: %w: %v", domain.ErrLLMTimeout, err)
		}
		return StructuredResponse{}, fmt.Errorf("llm: generate: %w", err)
	}

	text := resp.Text()
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		g.logger.Warn("llm output truncated",
			"model", g.model, "max_output_tokens", req.MaxOutputTokens, "got_chars", len(text))
		return StructuredResponse{JSON: []byte(text), FinishReason: FinishTruncated},
			fmt.Errorf("llm: %w after %d tokens", domain.ErrLLMTruncated, req.MaxOutputTokens)
	}

	cleaned := ExtractJSON(text)
	if cleaned == "" {
		return StructuredResponse{FinishReason: FinishOther},
			fmt.Errorf("llm: %w: no JSON in response", domain.ErrLLMMalformed)
	}
	return StructuredResponse{JSON: []byte(cleaned), FinishReason: FinishStop}, nil
}

// toGenaiSchema converts the neutral schema to the Gemini representation.
func toGenaiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
	}
	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
	case "array":
		out.Type = genai.TypeArray
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = toGenaiSchema(v)
		}
	}
	if s.Items != nil {
		out.Items = toGenaiSchema(s.Items)
	}
	return out
}
