// Package pipeline orchestrates one search invocation end to end: query
// building, discovery, rerank, prioritization, extraction, and the quality
// gate, with at most one automatic window expansion when results run thin.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/Attendry/attendry-sub001/config"
	"github.com/Attendry/attendry-sub001/engine/discovery"
	"github.com/Attendry/attendry-sub001/engine/domain"
	"github.com/Attendry/attendry-sub001/engine/extract"
	"github.com/Attendry/attendry-sub001/engine/quality"
	"github.com/Attendry/attendry-sub001/engine/rerank"
	"github.com/Attendry/attendry-sub001/engine/semantic"
	"github.com/Attendry/attendry-sub001/pkg/embed"
	"github.com/Attendry/attendry-sub001/pkg/fn"
	"github.com/Attendry/attendry-sub001/pkg/metrics"
)

// Stage interfaces, satisfied by the engine packages and by test fakes.
type (
	Builder interface {
		Build(req domain.SearchRequest, tpl config.TopicTemplate, region config.RegionInfo, max int) []domain.QueryVariant
	}
	Discoverer interface {
		Discover(ctx context.Context, variants []domain.QueryVariant, p discovery.Params) []domain.Candidate
	}
	Reranker interface {
		Rerank(ctx context.Context, candidates []domain.Candidate, p rerank.Params) []domain.Candidate
	}
	Prioritizer interface {
		Prioritize(ctx context.Context, topic string, candidates []domain.Candidate) []domain.Candidate
	}
	Extractor interface {
		Extract(ctx context.Context, c domain.Candidate) (extract.Draft, error)
	}
	Gate interface {
		Evaluate(draft extract.Draft, window domain.Window) quality.Decision
	}
	// SeedSink and ReputeSink receive accepted events, best effort.
	SeedSink interface {
		UpsertEvents(ctx context.Context, events []semantic.EventPoint) error
	}
	ReputeSink interface {
		RecordAccepted(ctx context.Context, host, provider string, quality float64) error
	}
)

// Deps wires a Pipeline. Seeds, Repute, and Embedder are optional.
type Deps struct {
	Config     *config.Store
	Builder    Builder
	Discovery  Discoverer
	Rerank     Reranker
	Prioritize Prioritizer
	Extract    Extractor
	Quality    Gate
	Seeds      SeedSink
	Repute     ReputeSink
	Embedder   embed.Client
	Metrics    *metrics.Registry
	Logger     *slog.Logger
}

// Pipeline runs invocations. Safe for concurrent use; all per-invocation
// state lives on the stack.
type Pipeline struct {
	deps Deps
}

func New(deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Pipeline{deps: deps}
}

// Run executes one invocation. Recoverable provider and LLM failures never
// surface here; the only hard failures are an invalid request, zero
// candidates from every provider, and nothing else. An exhausted wall-clock
// budget returns the events accepted so far with Partial set.
func (p *Pipeline) Run(ctx context.Context, req domain.SearchRequest) (domain.Result, error) {
	if err := domain.ValidateRequest(req); err != nil {
		return domain.Result{}, err
	}
	cfg := p.deps.Config.Current()
	t := cfg.Thresholds
	if req.Weights == (domain.PrecisionWeights{}) {
		req.Weights = cfg.Weights.Defaults()
	}

	start := time.Now()
	if t.WallClockBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.WallClockBudget)
		defer cancel()
	}

	window := req.Window()
	exp := newExpander(t.StepDays, t.MaxSpanDays, t.MinSolidHits)

	first := p.runPass(ctx, req, cfg, window, false)
	if first.discovered == 0 && ctx.Err() == nil {
		return domain.Result{}, domain.ErrNoCandidates
	}

	accepted := first.accepted
	summary := first.summary()
	finalWindow := window

	if exp.shouldExpand(len(accepted), window) && ctx.Err() == nil {
		widened := exp.expand(window)
		p.deps.Logger.Info("window expanded", "phase", exp.phase.String(),
			"from", widened.From, "to", widened.To)

		second := p.runPass(ctx, req, cfg, widened, true)

		// Merge dedups against what is already accepted, nothing more: a
		// candidate discovered but rejected in pass one may well pass the
		// gate under the widened window, and it must land in the result.
		have := make(map[string]bool, len(accepted))
		for _, ev := range accepted {
			have[ev.SourceURL] = true
		}
		accepted = append(accepted, fn.Filter(second.accepted, func(ev domain.Event) bool {
			return !have[ev.SourceURL]
		})...)
		summary.Discovered += second.discovered
		summary.Prioritized += second.prioritized
		summary.Extracted += second.extracted
		finalWindow = widened
	}
	exp.finish()

	summary.Accepted = len(accepted)
	summary.LowConfidence = len(accepted) < t.MinSolidHits
	summary.Partial = errors.Is(ctx.Err(), context.DeadlineExceeded)
	summary.Window = finalWindow

	result := assemble(accepted, summary)
	p.persistAccepted(req, result.Events)

	p.deps.Metrics.Histogram("attendry_invocation_seconds", "End-to-end invocation latency", nil).Since(start)
	p.deps.Logger.Info("invocation complete",
		"topic", req.Topic, "region", req.Region,
		"discovered", summary.Discovered, "accepted", summary.Accepted,
		"low_confidence", summary.LowConfidence, "partial", summary.Partial)
	return result, nil
}

// passResult carries one pass's outcome.
type passResult struct {
	accepted    []domain.Event
	discovered  int
	prioritized int
	extracted   int
}

func (r passResult) summary() domain.Summary {
	return domain.Summary{
		Discovered:  r.discovered,
		Prioritized: r.prioritized,
		Extracted:   r.extracted,
	}
}

func (p *Pipeline) runPass(ctx context.Context, req domain.SearchRequest, cfg *config.Config, window domain.Window, expanded bool) passResult {
	t := cfg.Thresholds
	region := cfg.Regions[req.Region]
	tpl := cfg.Template(req.Topic)

	variants := p.deps.Builder.Build(req, tpl, region, t.MaxVariants)

	candidates := p.deps.Discovery.Discover(ctx, variants, discovery.Params{
		Region:      req.Region,
		Window:      window,
		Concurrency: t.DiscoveryConcurrency,
		CacheTTL:    t.DiscoveryTTL,
		Timeouts:    providerTimeouts(cfg),
	})

	res := passResult{discovered: len(candidates)}
	if len(candidates) == 0 {
		return res
	}

	reranked := p.deps.Rerank.Rerank(ctx, candidates, rerank.Params{
		Topic:            req.Topic,
		Region:           req.Region,
		TLD:              region.TLD,
		Window:           window,
		MinCandidates:    t.RerankMin,
		MaxCandidates:    t.RerankMax,
		ExtraAggregators: append(append([]string{}, cfg.AggregatorHosts...), tpl.AggregatorHosts...),
	})

	prioritized := p.deps.Prioritize.Prioritize(ctx, req.Topic, reranked)
	res.prioritized = len(prioritized)
	top := fn.Take(prioritized, t.ExtractTopK)

	// Extraction fan-out in priority order. Once enough events are
	// accepted, in-flight work is cancelled cooperatively.
	exCtx, stopEarly := context.WithCancel(ctx)
	defer stopEarly()
	var acceptedCount atomic.Int64

	type verdict struct {
		draft  extract.Draft
		accept bool
		score  float64
	}
	results := fn.ParMapCtx(exCtx, top, t.ExtractConcurrency, func(ctx context.Context, c domain.Candidate) fn.Result[verdict] {
		draft, err := p.deps.Extract.Extract(ctx, c)
		if err != nil {
			p.deps.Logger.Debug("candidate dropped", "url", c.URL, "err", err)
			return fn.Err[verdict](err)
		}
		dec := p.deps.Quality.Evaluate(draft, window)
		if dec.Accept {
			if n := acceptedCount.Add(1); t.EarlyStopAccepted > 0 && n >= int64(t.EarlyStopAccepted) {
				stopEarly()
			}
		}
		return fn.Ok(verdict{draft: draft, accept: dec.Accept, score: dec.Score})
	})

	for _, r := range results {
		if r.IsErr() {
			continue
		}
		v, _ := r.Unwrap()
		res.extracted++
		if !v.accept {
			continue
		}
		ev := v.draft.Event
		ev.QualityScore = v.score
		ev.Window = window
		ev.Provenance.Expanded = expanded
		res.accepted = append(res.accepted, ev)
	}
	return res
}

func providerTimeouts(cfg *config.Config) map[domain.ProviderID]time.Duration {
	out := make(map[domain.ProviderID]time.Duration, len(cfg.Providers))
	for id, pc := range cfg.Providers {
		out[domain.ProviderID(id)] = pc.Timeout
	}
	return out
}

// persistAccepted feeds accepted events back into the seed store and the
// host reputation graph. Failures are logged, never surfaced: persistence
// must not affect the response.
func (p *Pipeline) persistAccepted(req domain.SearchRequest, events []domain.Event) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if p.deps.Repute != nil {
		for _, ev := range events {
			host := hostOf(ev.SourceURL)
			if host == "" {
				continue
			}
			if err := p.deps.Repute.RecordAccepted(ctx, host, string(ev.Provenance.Provider), ev.QualityScore); err != nil {
				p.deps.Logger.Debug("reputation write skipped", "host", host, "err", err)
			}
		}
	}

	if p.deps.Seeds == nil || p.deps.Embedder == nil {
		return
	}
	texts := fn.Map(events, func(ev domain.Event) string {
		return ev.Title + " " + ev.Location + " " + ev.DateISO
	})
	vecs, err := p.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil || len(vecs) != len(events) {
		p.deps.Logger.Debug("seed embedding skipped", "err", err)
		return
	}
	points := make([]semantic.EventPoint, len(events))
	for i, ev := range events {
		points[i] = semantic.EventPoint{
			URL:       ev.SourceURL,
			Title:     ev.Title,
			Topic:     req.Topic,
			Region:    req.Region,
			DateISO:   ev.DateISO,
			Quality:   ev.QualityScore,
			Embedding: vecs[i],
		}
	}
	if err := p.deps.Seeds.UpsertEvents(ctx, points); err != nil {
		p.deps.Logger.Debug("seed upsert skipped", "err", err)
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
