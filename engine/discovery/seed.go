package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Attendry/attendry-sub001/engine/domain"
	"github.com/Attendry/attendry-sub001/engine/semantic"
	"github.com/Attendry/attendry-sub001/pkg/embed"
)

// seedStore is the similarity-search surface of the semantic event store.
type seedStore interface {
	SearchSeeds(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]semantic.Seed, error)
}

// SeedList is the last link in the fallback chain: it searches events
// accepted in earlier runs by embedding similarity, so the pipeline still
// has somewhere to look when every live provider is down.
type SeedList struct {
	store    seedStore
	embedder embed.Client
	topK     int
	logger   *slog.Logger
}

func NewSeedList(store seedStore, embedder embed.Client, topK int, logger *slog.Logger) *SeedList {
	if topK <= 0 {
		topK = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SeedList{store: store, embedder: embedder, topK: topK, logger: logger}
}

func (s *SeedList) ID() domain.ProviderID { return domain.ProviderSeed }

func (s *SeedList) Search(ctx context.Context, variant domain.QueryVariant, opts Options) ([]domain.Candidate, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	vec, err := s.embedder.Embed(ctx, variant.Query)
	if err != nil {
		return nil, fmt.Errorf("seed: embed variant: %w", err)
	}

	var filters map[string]string
	if opts.Region != "" {
		filters = map[string]string{"region": opts.Region}
	}
	seeds, err := s.store.SearchSeeds(ctx, vec, s.topK, filters)
	if err != nil {
		return nil, domain.NewProviderError(domain.ProviderSeed, err)
	}

	candidates := make([]domain.Candidate, 0, len(seeds))
	for _, seed := range seeds {
		canon, host, err := Canonicalize(seed.URL)
		if err != nil {
			continue
		}
		candidates = append(candidates, domain.Candidate{
			URL:           canon,
			Host:          host,
			Title:         seed.Title,
			DiscoveredVia: domain.ProviderSeed,
			RawScore:      float64(seed.Score),
		})
	}
	s.logger.Debug("seed provider hit", "query", variant.Query, "seeds", len(candidates))
	return candidates, nil
}
