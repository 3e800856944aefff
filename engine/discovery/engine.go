// Package discovery fans query variants out across an ordered provider
// fallback chain and returns a deduplicated candidate list. Individual
// provider failures degrade to the next provider; a fully empty result is
// a valid outcome, not an error.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Attendry/attendry-sub001/engine/domain"
	"github.com/Attendry/attendry-sub001/pkg/cache"
	"github.com/Attendry/attendry-sub001/pkg/fn"
	"github.com/Attendry/attendry-sub001/pkg/metrics"
	"github.com/Attendry/attendry-sub001/pkg/resilience"
)

// Params bounds one discovery run.
type Params struct {
	Region      string
	Window      domain.Window
	Concurrency int
	CacheTTL    time.Duration
	MaxResults  int
	Timeouts    map[domain.ProviderID]time.Duration
}

// Engine executes variants against the provider chain.
type Engine struct {
	chain    []Provider
	guards   *resilience.Registry
	cache    cache.Store
	metrics  *metrics.Registry
	pressure *pressure
	logger   *slog.Logger
}

// New creates an Engine. chain order is fallback order. maxConcurrency caps
// the adaptive fan-out level.
func New(chain []Provider, guards *resilience.Registry, store cache.Store, reg *metrics.Registry, maxConcurrency int, logger *slog.Logger) *Engine {
	if reg == nil {
		reg = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		chain:    chain,
		guards:   guards,
		cache:    store,
		metrics:  reg,
		pressure: newPressure(maxConcurrency),
		logger:   logger,
	}
}

// Discover runs every variant against the chain with bounded fan-out and
// returns candidates deduplicated by canonical URL, in variant priority
// order. Variants that yield nothing are dropped silently.
func (e *Engine) Discover(ctx context.Context, variants []domain.QueryVariant, p Params) []domain.Candidate {
	if len(variants) == 0 {
		return nil
	}
	workers := e.pressure.Level()
	if p.Concurrency > 0 && p.Concurrency < workers {
		workers = p.Concurrency
	}

	results := fn.ParMapCtx(ctx, variants, workers, func(ctx context.Context, v domain.QueryVariant) fn.Result[[]domain.Candidate] {
		return fn.Ok(e.runVariant(ctx, v, p))
	})

	all := fn.FlatMap(fn.CollectOk(results), func(batch []domain.Candidate) []domain.Candidate {
		return batch
	})
	deduped := fn.UniqueBy(all, func(c domain.Candidate) string { return c.URL })
	e.logger.Info("discovery complete",
		"variants", len(variants), "raw", len(all), "unique", len(deduped), "workers", workers)
	return deduped
}

// runVariant walks the fallback chain until a provider returns at least one
// candidate or the chain is exhausted.
func (e *Engine) runVariant(ctx context.Context, variant domain.QueryVariant, p Params) []domain.Candidate {
	for _, provider := range e.chain {
		if ctx.Err() != nil {
			return nil
		}
		id := provider.ID()
		key := cache.Key("discovery", variant.Query, p.Region, string(id))

		if data, ok := e.cache.Get(ctx, key); ok {
			var cached []domain.Candidate
			if err := json.Unmarshal(data, &cached); err == nil {
				e.metrics.Counter(metrics.WithLabels("attendry_discovery_cache_hits_total", "provider", string(id)),
					"Discovery cache hits by provider").Inc()
				if len(cached) > 0 {
					return cached
				}
				continue
			}
		}

		out, err := e.callProvider(ctx, provider, variant, p)
		if err != nil {
			e.observeFailure(id, err)
			continue
		}
		e.observeSuccess(id)

		if data, err := json.Marshal(out); err == nil {
			_ = e.cache.Set(ctx, key, data, p.CacheTTL)
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func (e *Engine) callProvider(ctx context.Context, provider Provider, variant domain.QueryVariant, p Params) ([]domain.Candidate, error) {
	id := provider.ID()
	opts := Options{
		Region:     p.Region,
		Window:     p.Window,
		Timeout:    p.Timeouts[id],
		MaxResults: p.MaxResults,
	}

	var out []domain.Candidate
	start := time.Now()
	err := e.guards.Do(ctx, string(id), func(ctx context.Context) error {
		res, err := provider.Search(ctx, variant, opts)
		out = res
		return err
	}, breakerWeight)
	e.metrics.Histogram(metrics.WithLabels("attendry_provider_latency_seconds", "provider", string(id)),
		"Provider call latency", nil).Since(start)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// breakerWeight maps an error class to its circuit breaker weight. Quota
// exhaustion opens the breaker twice as fast as a timeout; cancellations
// never count against the provider.
func breakerWeight(err error) int {
	if errors.Is(err, context.Canceled) {
		return 0
	}
	switch domain.ClassifyProviderError(err) {
	case domain.ProviderErrNone:
		return 0
	case domain.ProviderErrRateLimited:
		return 2
	default:
		return 1
	}
}

func (e *Engine) observeSuccess(id domain.ProviderID) {
	e.pressure.recordSuccess()
	e.metrics.Counter(metrics.WithLabels("attendry_provider_calls_total", "provider", string(id), "outcome", "success"),
		"Provider calls by outcome").Inc()
}

func (e *Engine) observeFailure(id domain.ProviderID, err error) {
	class := domain.ClassifyProviderError(err)
	if class == domain.ProviderErrTimeout {
		e.pressure.recordTimeout()
	}
	e.metrics.Counter(metrics.WithLabels("attendry_provider_calls_total", "provider", string(id), "outcome", class.String()),
		"Provider calls by outcome").Inc()
	e.logger.Debug("provider call failed", "provider", id, "class", class.String(), "err", err)
}

// pressure adapts the fan-out level to observed provider timeouts: repeated
// timeouts halve the level, sustained successes creep it back up.
type pressure struct {
	mu        sync.Mutex
	level     int
	max       int
	timeouts  int
	successes int
}

func newPressure(max int) *pressure {
	if max < 1 {
		max = 12
	}
	return &pressure{level: max, max: max}
}

func (p *pressure) Level() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *pressure) recordTimeout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeouts++
	p.successes = 0
	if p.timeouts >= 3 {
		p.timeouts = 0
		if p.level > 2 {
			p.level /= 2
			if p.level < 2 {
				p.level = 2
			}
		}
	}
}

func (p *pressure) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.successes++
	p.timeouts = 0
	if p.successes >= 20 && p.level < p.max {
		p.successes = 0
		p.level++
	}
}
