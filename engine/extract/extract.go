// Package extract turns prioritized candidates into event drafts: fetch the
// page plus a couple of promising sub-pages, chunk the text, and run one
// structured LLM extraction per event with a regex fallback. A single
// candidate's failure never aborts the batch.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Attendry/attendry-sub001/engine/domain"
	"github.com/Attendry/attendry-sub001/pkg/cache"
	"github.com/Attendry/attendry-sub001/pkg/fn"
	"github.com/Attendry/attendry-sub001/pkg/llm"
)

// charBudget bounds how much page text one LLM call sees.
const charBudget = 12000

// pageFetcher is the fetch surface, seamed for tests.
type pageFetcher interface {
	Fetch(ctx context.Context, pageURL string, timeout time.Duration) (Page, error)
}

// Params bounds one extraction run.
type Params struct {
	FetchTimeout   time.Duration
	SubpageTimeout time.Duration
	CacheTTL       time.Duration
	MaxSubpages    int
}

func (p *Params) fill() {
	if p.FetchTimeout <= 0 {
		p.FetchTimeout = 8 * time.Second
	}
	if p.SubpageTimeout <= 0 {
		p.SubpageTimeout = 5 * time.Second
	}
	if p.CacheTTL <= 0 {
		p.CacheTTL = 24 * time.Hour
	}
	if p.MaxSubpages <= 0 {
		p.MaxSubpages = 2
	}
}

// Draft is an extracted event plus the page signals the quality gate reads.
type Draft struct {
	Event domain.Event         `json:"event"`
	Meta  domain.CandidateMeta `json:"meta"`
}

// Engine extracts one event per candidate.
type Engine struct {
	fetcher pageFetcher
	llm     llm.Client
	cache   cache.Store
	params  Params
	logger  *slog.Logger
}

func New(fetcher pageFetcher, llmClient llm.Client, store cache.Store, params Params, logger *slog.Logger) *Engine {
	params.fill()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{fetcher: fetcher, llm: llmClient, cache: store, params: params, logger: logger}
}

// Extract fetches, chunks, and extracts one candidate. Repeated extraction
// of unchanged content within the TTL is served from cache.
func (e *Engine) Extract(ctx context.Context, c domain.Candidate) (Draft, error) {
	page, err := e.fetcher.Fetch(ctx, c.URL, e.params.FetchTimeout)
	if err != nil {
		return Draft{}, fmt.Errorf("extract %s: %w", c.URL, err)
	}

	combined := page.Markdown
	subs := selectSubpages(page.Links, e.params.MaxSubpages)
	hasSpeakerSubpage := false
	for _, link := range subs {
		if isSpeakerLink(link) {
			hasSpeakerSubpage = true
		}
	}
	for _, md := range fn.ParMap(subs, len(subs), func(link string) string {
		sub, err := e.fetcher.Fetch(ctx, link, e.params.SubpageTimeout)
		if err != nil {
			e.logger.Debug("sub-page skipped", "url", link, "err", err)
			return ""
		}
		return sub.Markdown
	}) {
		if md != "" {
			combined += "\n\n" + md
		}
	}
	if strings.TrimSpace(combined) == "" {
		return Draft{}, fmt.Errorf("extract %s: empty page", c.URL)
	}

	key := contentKey(combined)
	if e.cache != nil {
		if data, ok := e.cache.Get(ctx, key); ok {
			var cached Draft
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	draft, err := e.extractFromText(ctx, c, page, combined, hasSpeakerSubpage)
	if err != nil {
		return Draft{}, err
	}

	if e.cache != nil {
		if data, err := json.Marshal(draft); err == nil {
			_ = e.cache.Set(ctx, key, data, e.params.CacheTTL)
		}
	}
	return draft, nil
}

func contentKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return cache.Key("extract", hex.EncodeToString(sum[:]))
}

// llmEvent is the structured output shape of the extraction call.
type llmEvent struct {
	Title      string  `json:"title"`
	Date       string  `json:"date"`
	Venue      string  `json:"venue"`
	City       string  `json:"city"`
	Country    string  `json:"country"`
	Confidence float64 `json:"confidence"`
	Speakers   []struct {
		Name string `json:"name"`
		Role string `json:"role"`
		Org  string `json:"org"`
	} `json:"speakers"`
}

var eventSchema = &llm.Schema{
	Type: "object",
	Properties: map[string]*llm.Schema{
		"title":      {Type: "string", Description: "official event name"},
		"date":       {Type: "string", Description: "start date, ISO 8601 (YYYY-MM-DD), empty if unknown"},
		"venue":      {Type: "string"},
		"city":       {Type: "string"},
		"country":    {Type: "string"},
		"confidence": {Type: "number", Description: "confidence in title+date+location, 0 to 1"},
		"speakers": {
			Type: "array",
			Items: &llm.Schema{
				Type: "object",
				Properties: map[string]*llm.Schema{
					"name": {Type: "string"},
					"role": {Type: "string"},
					"org":  {Type: "string"},
				},
				Required: []string{"name"},
			},
		},
	},
	Required: []string{"title", "confidence"},
}

const extractSystem = "You extract structured event data from web page text. " +
	"Speakers are real people named on the page. Exclude UI button labels, " +
	"sponsor and partner company names, legal notice boilerplate, and session " +
	"or track titles that are not person names. Leave unknown fields empty " +
	"rather than guessing."

// extractFromText runs the chunked LLM extraction with early cutoff, one
// truncation retry, and the regex fallback.
func (e *Engine) extractFromText(ctx context.Context, c domain.Candidate, page Page, combined string, hasSpeakerSubpage bool) (Draft, error) {
	batches := chunkBatches(splitChunks(combined))

	var merged llmEvent
	gotAny := false
	for _, batch := range batches {
		if ctx.Err() != nil {
			break
		}
		ev, err := e.callLLM(ctx, batch)
		if err != nil {
			e.logger.Debug("extraction call failed", "url", c.URL, "err", err)
			continue
		}
		gotAny = true
		merged = mergeEvents(merged, ev)
		// Core fields confidently present: no need to read further chunks.
		if merged.Title != "" && merged.Date != "" && (merged.City != "" || merged.Venue != "") && merged.Confidence >= 0.7 {
			break
		}
	}

	if !gotAny {
		ev, ok := regexFallback(page, combined)
		if !ok {
			return Draft{}, fmt.Errorf("extract %s: %w", c.URL, domain.ErrLLMMalformed)
		}
		e.logger.Warn("llm extraction unavailable, regex fallback used", "url", c.URL)
		merged = ev
	}

	return buildDraft(c, merged, combined, hasSpeakerSubpage), nil
}

// chunkBatches packs chunks into prompt-sized batches: the lead chunk and
// speaker-dense chunks first, remaining text afterwards.
func chunkBatches(chunks []Chunk) [][]Chunk {
	if len(chunks) == 0 {
		return nil
	}
	ordered := make([]Chunk, 0, len(chunks))
	ordered = append(ordered, chunks[0])
	for _, ch := range chunks[1:] {
		if ch.SpeakerDense {
			ordered = append(ordered, ch)
		}
	}
	for _, ch := range chunks[1:] {
		if !ch.SpeakerDense {
			ordered = append(ordered, ch)
		}
	}

	var batches [][]Chunk
	var cur []Chunk
	size := 0
	for _, ch := range ordered {
		if size+len(ch.Text) > charBudget && len(cur) > 0 {
			batches = append(batches, cur)
			cur = nil
			size = 0
		}
		cur = append(cur, ch)
		size += len(ch.Text)
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

// callLLM issues one structured extraction call, retrying once with a
// doubled token budget when the answer truncates.
func (e *Engine) callLLM(ctx context.Context, batch []Chunk) (llmEvent, error) {
	if e.llm == nil {
		return llmEvent{}, fmt.Errorf("no llm configured")
	}

	var b strings.Builder
	for _, ch := range batch {
		b.WriteString(ch.Text)
		b.WriteString("\n")
	}
	req := llm.StructuredRequest{
		System:          extractSystem,
		Prompt:          "Extract the event described in this page text:\n\n" + b.String(),
		Schema:          eventSchema,
		MaxOutputTokens: 2048,
		Temperature:     0.1,
	}

	resp, err := e.llm.ExtractStructured(ctx, req)
	if errors.Is(err, domain.ErrLLMTruncated) {
		req.MaxOutputTokens *= 2
		resp, err = e.llm.ExtractStructured(ctx, req)
	}
	if err != nil {
		return llmEvent{}, err
	}

	var ev llmEvent
	if err := json.Unmarshal(resp.JSON, &ev); err != nil {
		return llmEvent{}, fmt.Errorf("%w: %v", domain.ErrLLMMalformed, err)
	}
	return ev, nil
}

// mergeEvents folds a later call's answer into the accumulated one: filled
// fields win over empty, speakers union by name, confidence takes the max.
func mergeEvents(base, next llmEvent) llmEvent {
	if base.Title == "" {
		base.Title = next.Title
	}
	if base.Date == "" {
		base.Date = next.Date
	}
	if base.Venue == "" {
		base.Venue = next.Venue
	}
	if base.City == "" {
		base.City = next.City
	}
	if base.Country == "" {
		base.Country = next.Country
	}
	if next.Confidence > base.Confidence {
		base.Confidence = next.Confidence
	}
	seen := map[string]bool{}
	for _, s := range base.Speakers {
		seen[strings.ToLower(s.Name)] = true
	}
	for _, s := range next.Speakers {
		if s.Name == "" || seen[strings.ToLower(s.Name)] {
			continue
		}
		seen[strings.ToLower(s.Name)] = true
		base.Speakers = append(base.Speakers, s)
	}
	return base
}

func buildDraft(c domain.Candidate, ev llmEvent, combined string, hasSpeakerSubpage bool) Draft {
	speakers := make([]domain.Speaker, 0, len(ev.Speakers))
	for _, s := range ev.Speakers {
		if s.Name == "" {
			continue
		}
		speakers = append(speakers, domain.Speaker{Name: s.Name, Role: s.Role, Org: s.Org})
	}

	location := ev.Venue
	if ev.City != "" {
		if location != "" {
			location += ", "
		}
		location += ev.City
	}

	sample := combined
	if len(sample) > 400 {
		sample = sample[:400]
	}

	return Draft{
		Event: domain.Event{
			Title:      ev.Title,
			DateISO:    ev.Date,
			Location:   location,
			Speakers:   speakers,
			SourceURL:  c.URL,
			Confidence: ev.Confidence,
			Provenance: domain.Provenance{Provider: c.DiscoveredVia},
		},
		Meta: domain.CandidateMeta{
			DateISO:           ev.Date,
			Venue:             ev.Venue,
			City:              ev.City,
			Country:           ev.Country,
			SpeakerCount:      len(speakers),
			HasSpeakerSubpage: hasSpeakerSubpage,
			OfficialDomain:    looksOfficial(c.URL),
			TextSample:        sample,
		},
	}
}

// looksOfficial is a shallow-path heuristic: event homepages sit near the
// domain root, listings and articles sit deep.
func looksOfficial(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	if strings.Contains(lower, "/blog/") || strings.Contains(lower, "/news/") {
		return false
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(lower, "https://"), "http://")
	return strings.Count(strings.TrimSuffix(trimmed, "/"), "/") <= 2
}
