// Package prioritize assigns every candidate a relevance score in [0,1] and
// a deterministic extraction order. The primary path is one batched LLM
// scoring call; any LLM failure degrades to a heuristic scorer. No candidate
// is ever dropped at this stage.
package prioritize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Attendry/attendry-sub001/engine/domain"
	"github.com/Attendry/attendry-sub001/pkg/llm"
)

// reputation is the host reputation read surface.
type reputation interface {
	Score(ctx context.Context, host string) (float64, bool)
}

// Engine scores and orders candidates.
type Engine struct {
	llm     llm.Client
	repute  reputation
	timeout time.Duration
	logger  *slog.Logger
}

// New creates an Engine. llmClient and rep may be nil; scoring then runs
// purely on heuristics.
func New(llmClient llm.Client, rep reputation, timeout time.Duration, logger *slog.Logger) *Engine {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{llm: llmClient, repute: rep, timeout: timeout, logger: logger}
}

// Prioritize returns the same candidates, each with Relevance set, sorted by
// relevance descending with discovery order breaking ties.
func (e *Engine) Prioritize(ctx context.Context, topic string, candidates []domain.Candidate) []domain.Candidate {
	if len(candidates) == 0 {
		return nil
	}

	scores, err := e.llmScores(ctx, topic, candidates)
	if err != nil {
		e.logger.Warn("llm prioritization degraded to heuristic", "err", err)
		scores = nil
	}

	out := make([]domain.Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		if s, ok := scores[out[i].URL]; ok {
			out[i].Relevance = clamp01(s)
		} else {
			out[i].Relevance = e.heuristicScore(ctx, topic, out[i])
		}
	}

	// Stable sort keeps discovery order among equal scores, giving a total
	// order either way.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	return out
}

// scoreSchema is the strict response shape for the batched scoring call.
var scoreSchema = &llm.Schema{
	Type: "array",
	Items: &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"url":   {Type: "string", Description: "candidate URL, copied verbatim"},
			"score": {Type: "number", Description: "relevance in [0,1]"},
		},
		Required: []string{"url", "score"},
	},
}

const scoreSystem = "You rate how likely each URL is a real single-event page " +
	"for the given topic. Listing pages, directories and blog posts score low. " +
	"Return one entry per input URL."

func (e *Engine) llmScores(ctx context.Context, topic string, candidates []domain.Candidate) (map[string]float64, error) {
	if e.llm == nil {
		return nil, fmt.Errorf("prioritize: no llm configured")
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\nCandidates:\n", topic)
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s (title: %s)\n", c.URL, c.Title)
	}

	resp, err := e.llm.ExtractStructured(ctx, llm.StructuredRequest{
		System: scoreSystem,
		Prompt: b.String(),
		Schema: scoreSchema,
		// Sized well above the model's reasoning overhead: a truncated
		// answer here is unusable.
		MaxOutputTokens: 2048,
		Temperature:     0.1,
	})
	if err != nil {
		return nil, err
	}

	var entries []struct {
		URL   string  `json:"url"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(resp.JSON, &entries); err != nil {
		return nil, fmt.Errorf("prioritize: %w: %v", domain.ErrLLMMalformed, err)
	}

	scores := make(map[string]float64, len(entries))
	for _, entry := range entries {
		scores[entry.URL] = entry.Score
	}
	return scores, nil
}

// urlSignalPatterns mark path fragments that correlate with real event pages.
var urlSignalPatterns = []string{"conference", "summit", "kongress", "event", "agenda", "speaker", "2025", "2026", "2027"}

// heuristicScore blends host reputation, URL signals, and topic overlap.
// Works with zero backends: reputation degrades to neutral.
func (e *Engine) heuristicScore(ctx context.Context, topic string, c domain.Candidate) float64 {
	rep := 0.5
	if e.repute != nil {
		rep, _ = e.repute.Score(ctx, c.Host)
	}

	lower := strings.ToLower(c.URL)
	var pattern float64
	for _, p := range urlSignalPatterns {
		if strings.Contains(lower, p) {
			pattern += 0.25
		}
	}
	if pattern > 1 {
		pattern = 1
	}

	tokens := strings.Fields(strings.ToLower(topic))
	var overlap float64
	if len(tokens) > 0 {
		text := strings.ToLower(c.Title + " " + c.URL)
		hits := 0
		for _, tok := range tokens {
			if strings.Contains(text, tok) {
				hits++
			}
		}
		overlap = float64(hits) / float64(len(tokens))
	}

	return clamp01(0.4*rep + 0.3*pattern + 0.3*overlap)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
