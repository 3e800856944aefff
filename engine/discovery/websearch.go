package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Attendry/attendry-sub001/engine/domain"
	"github.com/Attendry/attendry-sub001/pkg/fn"
)

// WebSearch queries a JSON web-search API (Brave-compatible response shape).
type WebSearch struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewWebSearch creates the provider. endpoint defaults to the Brave search
// API when empty.
func NewWebSearch(endpoint, apiKey string, client *http.Client) *WebSearch {
	if endpoint == "" {
		endpoint = "https://api.search.brave.com/res/v1/web/search"
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebSearch{endpoint: endpoint, apiKey: apiKey, httpClient: client}
}

func (w *WebSearch) ID() domain.ProviderID { return domain.ProviderWebSearch }

// searchResponse is the subset of the search API response we read.
type searchResponse struct {
	Web struct {
		Results []struct {
			URL   string `json:"url"`
			Title string `json:"title"`
		} `json:"results"`
	} `json:"web"`
}

// Search runs one query variant against the API. A server-side HTTP failure
// gets one more attempt; quota and timeout errors surface immediately so the
// circuit breaker sees them.
func (w *WebSearch) Search(ctx context.Context, variant domain.QueryVariant, opts Options) ([]domain.Candidate, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	res := fn.Retry(ctx, fn.RetryOpts{
		MaxAttempts: 2,
		InitialWait: 150 * time.Millisecond,
		MaxWait:     time.Second,
		Jitter:      true,
		ShouldRetry: func(err error) bool { return errors.Is(err, domain.ErrProviderHTTP) },
	}, func(ctx context.Context) fn.Result[[]domain.Candidate] {
		return fn.FromPair(w.search(ctx, variant, opts))
	})
	return res.Unwrap()
}

func (w *WebSearch) search(ctx context.Context, variant domain.QueryVariant, opts Options) ([]domain.Candidate, error) {
	max := opts.MaxResults
	if max <= 0 {
		max = 20
	}

	params := url.Values{
		"q":     {variant.Query},
		"count": {strconv.Itoa(max)},
	}
	if opts.Region != "" {
		params.Set("country", opts.Region)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("websearch: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if w.apiKey != "" {
		req.Header.Set("X-Subscription-Token", w.apiKey)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("websearch: %q: %w", variant.Query, domain.ErrProviderTimeout)
		}
		return nil, domain.NewProviderError(domain.ProviderWebSearch, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("websearch: %w", domain.ErrQuotaExceeded)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("websearch: status %d: %w", resp.StatusCode, domain.ErrProviderHTTP)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("websearch: decode: %w", domain.ErrProviderMalformed)
	}

	candidates := make([]domain.Candidate, 0, len(body.Web.Results))
	for i, r := range body.Web.Results {
		canon, host, err := Canonicalize(r.URL)
		if err != nil {
			continue
		}
		candidates = append(candidates, domain.Candidate{
			URL:           canon,
			Host:          host,
			Title:         r.Title,
			DiscoveredVia: domain.ProviderWebSearch,
			RawScore:      rankScore(i, len(body.Web.Results)),
		})
	}
	return fn.Take(candidates, max), nil
}

// rankScore maps a result's position to (0,1], earlier is higher.
func rankScore(idx, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(total-idx) / float64(total)
}
