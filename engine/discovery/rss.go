package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/Attendry/attendry-sub001/engine/domain"
	"github.com/Attendry/attendry-sub001/pkg/fn"
)

// RSS discovers candidates from configured event-calendar and industry feeds.
// It is the second link in the fallback chain: slower-moving than web search
// but immune to search API quotas.
type RSS struct {
	feeds  []string
	parser *gofeed.Parser
	logger *slog.Logger
}

func NewRSS(feeds []string, logger *slog.Logger) *RSS {
	if logger == nil {
		logger = slog.Default()
	}
	return &RSS{feeds: feeds, parser: gofeed.NewParser(), logger: logger}
}

func (r *RSS) ID() domain.ProviderID { return domain.ProviderRSS }

// Search scans every configured feed and keeps items whose title or
// description overlaps the variant's query tokens. Feed items without a
// publish date are kept; dated items outside the window are skipped.
func (r *RSS) Search(ctx context.Context, variant domain.QueryVariant, opts Options) ([]domain.Candidate, error) {
	if len(r.feeds) == 0 {
		return nil, nil
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	tokens := queryTokens(variant.Query)
	var candidates []domain.Candidate
	var lastErr error

	for _, feedURL := range r.feeds {
		feed, err := r.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				lastErr = fmt.Errorf("rss: %s: %w", feedURL, domain.ErrProviderTimeout)
			} else {
				lastErr = fmt.Errorf("rss: %s: %w", feedURL, domain.ErrProviderMalformed)
			}
			r.logger.Debug("feed skipped", "feed", feedURL, "err", err)
			continue
		}

		for _, item := range feed.Items {
			if item.PublishedParsed != nil && opts.Window.Valid() &&
				item.PublishedParsed.After(opts.Window.To) {
				continue
			}
			score := overlap(tokens, item.Title+" "+item.Description)
			if score == 0 {
				continue
			}
			canon, host, err := Canonicalize(item.Link)
			if err != nil {
				continue
			}
			candidates = append(candidates, domain.Candidate{
				URL:           canon,
				Host:          host,
				Title:         item.Title,
				DiscoveredVia: domain.ProviderRSS,
				RawScore:      score,
			})
		}
	}

	// Only surface an error when nothing was readable at all.
	if len(candidates) == 0 && lastErr != nil {
		return nil, lastErr
	}
	if max := opts.MaxResults; max > 0 {
		candidates = fn.Take(candidates, max)
	}
	return candidates, nil
}

func queryTokens(q string) []string {
	fields := strings.Fields(strings.ToLower(q))
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 3 || strings.HasPrefix(f, "-") {
			continue
		}
		out = append(out, f)
	}
	return out
}

// overlap returns the fraction of query tokens present in the text.
func overlap(tokens []string, text string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}
