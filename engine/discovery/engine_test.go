package discovery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Attendry/attendry-sub001/engine/domain"
	"github.com/Attendry/attendry-sub001/pkg/cache"
	"github.com/Attendry/attendry-sub001/pkg/metrics"
	"github.com/Attendry/attendry-sub001/pkg/resilience"
)

// fakeProvider answers from a per-query map and counts calls.
type fakeProvider struct {
	id      domain.ProviderID
	results map[string][]domain.Candidate
	err     error

	mu    sync.Mutex
	calls int
}

func (f *fakeProvider) ID() domain.ProviderID { return f.id }

func (f *fakeProvider) Search(ctx context.Context, v domain.QueryVariant, _ Options) ([]domain.Candidate, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.results[v.Query], nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func candidate(id domain.ProviderID, rawURL string) domain.Candidate {
	canon, host, err := Canonicalize(rawURL)
	if err != nil {
		panic(err)
	}
	return domain.Candidate{URL: canon, Host: host, DiscoveredVia: id, RawScore: 0.5}
}

func testGuards() *resilience.Registry {
	return resilience.NewRegistry(resilience.GuardOpts{
		Limiter: resilience.LimiterOpts{Rate: 1000, Burst: 1000},
		Breaker: resilience.BreakerOpts{FailThreshold: 100, Timeout: time.Second, HalfOpenMax: 1},
	}, nil)
}

func newTestEngine(t *testing.T, chain ...Provider) (*Engine, cache.Store) {
	t.Helper()
	mem := cache.NewMemory(0)
	t.Cleanup(mem.Close)
	return New(chain, testGuards(), mem, metrics.New(), 4, nil), mem
}

func variants(n int) []domain.QueryVariant {
	out := make([]domain.QueryVariant, n)
	for i := range out {
		out[i] = domain.QueryVariant{Query: fmt.Sprintf("compliance summit germany v%d", i)}
	}
	return out
}

// Provider A covers 12 of 13 variants; provider B covers the 13th. Every
// variant must yield at least one candidate and no canonical URL repeats.
func TestFallbackChainCoversAllVariants(t *testing.T) {
	vs := variants(13)
	aResults := map[string][]domain.Candidate{}
	for i, v := range vs[:12] {
		aResults[v.Query] = []domain.Candidate{candidate(domain.ProviderWebSearch, fmt.Sprintf("https://site%d.example.com/event", i))}
	}
	a := &fakeProvider{id: domain.ProviderWebSearch, results: aResults}
	b := &fakeProvider{id: domain.ProviderRSS, results: map[string][]domain.Candidate{
		vs[12].Query: {candidate(domain.ProviderRSS, "https://site12.example.com/event")},
	}}

	e, _ := newTestEngine(t, a, b)
	got := e.Discover(context.Background(), vs, Params{Region: "DE", CacheTTL: time.Minute})

	if len(got) != 13 {
		t.Fatalf("got %d candidates, want 13", len(got))
	}
	seen := map[string]bool{}
	for _, c := range got {
		if seen[c.URL] {
			t.Fatalf("duplicate canonical URL: %s", c.URL)
		}
		seen[c.URL] = true
	}
}

func TestDuplicatesAcrossProvidersCollapse(t *testing.T) {
	vs := variants(2)
	a := &fakeProvider{id: domain.ProviderWebSearch, results: map[string][]domain.Candidate{
		vs[0].Query: {candidate(domain.ProviderWebSearch, "https://Same.example.com/event/")},
		vs[1].Query: {candidate(domain.ProviderWebSearch, "http://same.example.com/event?utm_source=x")},
	}}

	e, _ := newTestEngine(t, a)
	got := e.Discover(context.Background(), vs, Params{CacheTTL: time.Minute})
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1 after canonical dedup: %+v", len(got), got)
	}
}

func TestRepeatRunWithinTTLMakesNoProviderCalls(t *testing.T) {
	vs := variants(3)
	results := map[string][]domain.Candidate{}
	for i, v := range vs {
		results[v.Query] = []domain.Candidate{candidate(domain.ProviderWebSearch, fmt.Sprintf("https://s%d.example.com", i))}
	}
	a := &fakeProvider{id: domain.ProviderWebSearch, results: results}

	e, _ := newTestEngine(t, a)
	p := Params{Region: "DE", CacheTTL: time.Minute}

	first := e.Discover(context.Background(), vs, p)
	callsAfterFirst := a.callCount()
	second := e.Discover(context.Background(), vs, p)

	if a.callCount() != callsAfterFirst {
		t.Fatalf("second run made %d extra provider calls", a.callCount()-callsAfterFirst)
	}
	if len(second) != len(first) {
		t.Fatalf("cached run returned %d candidates, first returned %d", len(second), len(first))
	}
}

func TestProviderErrorDegradesToNext(t *testing.T) {
	vs := variants(1)
	a := &fakeProvider{id: domain.ProviderWebSearch, err: domain.ErrProviderTimeout}
	b := &fakeProvider{id: domain.ProviderRSS, results: map[string][]domain.Candidate{
		vs[0].Query: {candidate(domain.ProviderRSS, "https://fallback.example.com/event")},
	}}

	e, _ := newTestEngine(t, a, b)
	got := e.Discover(context.Background(), vs, Params{CacheTTL: time.Minute})
	if len(got) != 1 || got[0].DiscoveredVia != domain.ProviderRSS {
		t.Fatalf("fallback not used: %+v", got)
	}
}

func TestAllProvidersEmptyIsNotAnError(t *testing.T) {
	a := &fakeProvider{id: domain.ProviderWebSearch}
	b := &fakeProvider{id: domain.ProviderRSS}

	e, _ := newTestEngine(t, a, b)
	got := e.Discover(context.Background(), variants(4), Params{CacheTTL: time.Minute})
	if got != nil {
		t.Fatalf("expected nil candidate list, got %+v", got)
	}
}

func TestEmptyProviderResultStillTriesFallback(t *testing.T) {
	vs := variants(1)
	a := &fakeProvider{id: domain.ProviderWebSearch, results: map[string][]domain.Candidate{}}
	b := &fakeProvider{id: domain.ProviderRSS, results: map[string][]domain.Candidate{
		vs[0].Query: {candidate(domain.ProviderRSS, "https://b.example.com/e")},
	}}

	e, _ := newTestEngine(t, a, b)
	got := e.Discover(context.Background(), vs, Params{CacheTTL: time.Minute})
	if len(got) != 1 {
		t.Fatalf("empty first-provider result should fall through, got %+v", got)
	}
}

func TestBreakerWeight(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"cancel", context.Canceled, 0},
		{"quota counts double", domain.ErrQuotaExceeded, 2},
		{"timeout", domain.ErrProviderTimeout, 1},
		{"http", domain.ErrProviderHTTP, 1},
		{"malformed", domain.ErrProviderMalformed, 1},
	}
	for _, c := range cases {
		if got := breakerWeight(c.err); got != c.want {
			t.Errorf("%s: weight = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestPressureAdapts(t *testing.T) {
	p := newPressure(12)
	if p.Level() != 12 {
		t.Fatalf("initial level = %d, want 12", p.Level())
	}

	for i := 0; i < 3; i++ {
		p.recordTimeout()
	}
	if p.Level() != 6 {
		t.Fatalf("level after timeout burst = %d, want 6", p.Level())
	}

	for i := 0; i < 20; i++ {
		p.recordSuccess()
	}
	if p.Level() != 7 {
		t.Fatalf("level after recovery = %d, want 7", p.Level())
	}
}

func TestPressureNeverDropsBelowTwo(t *testing.T) {
	p := newPressure(4)
	for i := 0; i < 30; i++ {
		p.recordTimeout()
	}
	if p.Level() < 2 {
		t.Fatalf("level = %d, want >= 2", p.Level())
	}
}
