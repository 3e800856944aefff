// Package rerank filters and reorders raw discovery candidates before the
// expensive prioritization and extraction stages. It drops aggregator
// domains, scores the rest against the request semantics, and guarantees a
// minimum candidate count so downstream stages are never starved.
package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Attendry/attendry-sub001/engine/domain"
	"github.com/Attendry/attendry-sub001/pkg/embed"
	"github.com/Attendry/attendry-sub001/pkg/fn"
)

// builtinAggregators lists generic event-listing hosts that rarely hold a
// real event page. Matched by host suffix.
var builtinAggregators = []string{
	"eventbrite.com",
	"eventbrite.de",
	"meetup.com",
	"10times.com",
	"allevents.in",
	"eventseye.com",
	"conferenceindex.org",
	"tradefairdates.com",
	"clocate.com",
}

// speakerPathPatterns boost candidates whose URL suggests a speaker or
// program page.
var speakerPathPatterns = []string{"speaker", "agenda", "program", "programm", "referenten", "lineup", "schedule"}

const (
	pathBoost = 0.15
	tldBoost  = 0.10
)

// Params configures one rerank pass.
type Params struct {
	Topic  string
	Region string
	TLD    string // target country TLD, e.g. ".de"
	Window domain.Window
	// MinCandidates is the backstop: the output never shrinks below it
	// while input remains. MaxCandidates caps the output.
	MinCandidates    int
	MaxCandidates    int
	ExtraAggregators []string
}

// Gate is the rerank stage.
type Gate struct {
	embedder embed.Client
	logger   *slog.Logger
}

func New(embedder embed.Client, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{embedder: embedder, logger: logger}
}

// Rerank applies the aggregator blocklist, scores remaining candidates
// semantically (lexically when embeddings fail), and returns the top slice.
// The backstop keeps the best aggregator entries when filtering alone would
// drop the set below MinCandidates.
func (g *Gate) Rerank(ctx context.Context, candidates []domain.Candidate, p Params) []domain.Candidate {
	if len(candidates) == 0 {
		return nil
	}
	if p.MaxCandidates <= 0 {
		p.MaxCandidates = 15
	}

	scores := g.score(ctx, candidates, p)

	type scored struct {
		c          domain.Candidate
		score      float64
		aggregator bool
	}
	items := make([]scored, len(candidates))
	for i, c := range candidates {
		s := scores[i] + boost(c, p)
		items[i] = scored{c: c, score: s, aggregator: isAggregator(c.Host, p.ExtraAggregators)}
	}
	// Stable keeps discovery order among ties.
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })

	var kept, blocked []domain.Candidate
	for _, it := range items {
		if it.aggregator {
			blocked = append(blocked, it.c)
		} else {
			kept = append(kept, it.c)
		}
	}

	if len(kept) < p.MinCandidates && len(blocked) > 0 {
		need := p.MinCandidates - len(kept)
		kept = append(kept, fn.Take(blocked, need)...)
		g.logger.Debug("rerank backstop engaged", "restored", min(need, len(blocked)))
	}

	out := fn.Take(kept, p.MaxCandidates)
	g.logger.Info("rerank complete", "in", len(candidates), "out", len(out))
	return out
}

// score returns a relevance score per candidate, aligned by index. The
// semantic path embeds the request text and every candidate; any embedding
// failure degrades the whole batch to lexical scoring.
func (g *Gate) score(ctx context.Context, candidates []domain.Candidate, p Params) []float64 {
	if g.embedder != nil {
		if scores, err := g.semanticScores(ctx, candidates, p); err == nil {
			return scores
		} else {
			g.logger.Warn("semantic rerank degraded to lexical", "err", err)
		}
	}
	scores := make([]float64, len(candidates))
	topicTokens := strings.Fields(strings.ToLower(p.Topic))
	for i, c := range candidates {
		scores[i] = lexicalScore(c, topicTokens)
	}
	return scores
}

func (g *Gate) semanticScores(ctx context.Context, candidates []domain.Candidate, p Params) ([]float64, error) {
	query := fmt.Sprintf("%s %s %s to %s", p.Topic, p.Region,
		p.Window.From.Format("2006-01-02"), p.Window.To.Format("2006-01-02"))

	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, query)
	for _, c := range candidates {
		texts = append(texts, candidateText(c))
	}

	vecs, err := g.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("rerank: embedding count mismatch: %d != %d", len(vecs), len(texts))
	}

	scores := make([]float64, len(candidates))
	for i := range candidates {
		scores[i] = embed.Cosine(vecs[0], vecs[i+1])
	}
	return scores, nil
}

// lexicalScore is the deterministic fallback: topic token overlap against
// the candidate's title and URL.
func lexicalScore(c domain.Candidate, topicTokens []string) float64 {
	if len(topicTokens) == 0 {
		return c.RawScore
	}
	text := strings.ToLower(c.Title + " " + c.URL)
	hits := 0
	for _, tok := range topicTokens {
		if strings.Contains(text, tok) {
			hits++
		}
	}
	return float64(hits)/float64(len(topicTokens))*0.8 + c.RawScore*0.2
}

func candidateText(c domain.Candidate) string {
	if c.Title != "" {
		return c.Title + " " + c.URL
	}
	return c.URL
}

// boost applies the soft biases: speaker/agenda path patterns and the target
// country TLD. Biases, not requirements.
func boost(c domain.Candidate, p Params) float64 {
	var b float64
	lower := strings.ToLower(c.URL)
	for _, pat := range speakerPathPatterns {
		if strings.Contains(lower, pat) {
			b += pathBoost
			break
		}
	}
	if p.TLD != "" && strings.HasSuffix(c.Host, p.TLD) {
		b += tldBoost
	}
	return b
}

func isAggregator(host string, extra []string) bool {
	for _, agg := range builtinAggregators {
		if host == agg || strings.HasSuffix(host, "."+agg) {
			return true
		}
	}
	for _, agg := range extra {
		if host == agg || strings.HasSuffix(host, "."+agg) {
			return true
		}
	}
	return false
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
