package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Attendry/attendry-sub001/config"
	"github.com/Attendry/attendry-sub001/engine/discovery"
	"github.com/Attendry/attendry-sub001/engine/domain"
	"github.com/Attendry/attendry-sub001/engine/extract"
	"github.com/Attendry/attendry-sub001/engine/quality"
	"github.com/Attendry/attendry-sub001/engine/rerank"
)

type fakeBuilder struct{ n int }

func (b fakeBuilder) Build(_ domain.SearchRequest, _ config.TopicTemplate, _ config.RegionInfo, max int) []domain.QueryVariant {
	n := b.n
	if n == 0 {
		n = 3
	}
	if n > max {
		n = max
	}
	out := make([]domain.QueryVariant, n)
	for i := range out {
		out[i] = domain.QueryVariant{Query: fmt.Sprintf("query %d", i)}
	}
	return out
}

// fakeDiscovery returns one scripted candidate batch per call.
type fakeDiscovery struct {
	mu      sync.Mutex
	batches [][]domain.Candidate
	calls   int
	windows []domain.Window
}

func (d *fakeDiscovery) Discover(_ context.Context, _ []domain.QueryVariant, p discovery.Params) []domain.Candidate {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.windows = append(d.windows, p.Window)
	i := d.calls
	d.calls++
	if i >= len(d.batches) {
		return nil
	}
	return d.batches[i]
}

type passRerank struct{}

func (passRerank) Rerank(_ context.Context, cs []domain.Candidate, p rerank.Params) []domain.Candidate {
	if len(cs) > p.MaxCandidates {
		cs = cs[:p.MaxCandidates]
	}
	return cs
}

type passPrioritize struct{}

func (passPrioritize) Prioritize(_ context.Context, _ string, cs []domain.Candidate) []domain.Candidate {
	return cs
}

// fakeExtractor serves drafts by URL; unknown URLs fail.
type fakeExtractor struct {
	drafts map[string]extract.Draft
	delay  time.Duration

	mu    sync.Mutex
	calls int
}

func (e *fakeExtractor) Extract(ctx context.Context, c domain.Candidate) (extract.Draft, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return extract.Draft{}, ctx.Err()
		}
	}
	d, ok := e.drafts[c.URL]
	if !ok {
		return extract.Draft{}, domain.ErrLLMMalformed
	}
	return d, nil
}

func (e *fakeExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// scoreGate accepts drafts with Confidence >= 0.5 and reuses confidence as
// the quality score.
type scoreGate struct{}

func (scoreGate) Evaluate(d extract.Draft, _ domain.Window) quality.Decision {
	return quality.Decision{Accept: d.Event.Confidence >= 0.5, Score: d.Event.Confidence}
}

func candidate(i int) domain.Candidate {
	return domain.Candidate{
		URL:           fmt.Sprintf("https://host%d.example.com/event", i),
		Host:          fmt.Sprintf("host%d.example.com", i),
		DiscoveredVia: domain.ProviderWebSearch,
	}
}

func draftFor(i int, confidence float64) extract.Draft {
	return extract.Draft{
		Event: domain.Event{
			Title:      fmt.Sprintf("Event %d", i),
			DateISO:    "2025-11-20",
			SourceURL:  candidate(i).URL,
			Confidence: confidence,
			Provenance: domain.Provenance{Provider: domain.ProviderWebSearch},
		},
	}
}

func testRequest() domain.SearchRequest {
	return domain.SearchRequest{
		Topic:    "compliance",
		Region:   "DE",
		DateFrom: time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC),
		DateTo:   time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testStore(t *testing.T, mutate func(*config.Config)) *config.Store {
	t.Helper()
	s := config.NewStore(nil)
	cfg := config.Default()
	cfg.Thresholds.WallClockBudget = 30 * time.Second
	if mutate != nil {
		mutate(cfg)
	}
	if err := s.Install(cfg); err != nil {
		t.Fatalf("install config: %v", err)
	}
	return s
}

func newPipeline(store *config.Store, disc *fakeDiscovery, ex *fakeExtractor) *Pipeline {
	return New(Deps{
		Config:     store,
		Builder:    fakeBuilder{},
		Discovery:  disc,
		Rerank:     passRerank{},
		Prioritize: passPrioritize{},
		Extract:    ex,
		Quality:    scoreGate{},
	})
}

// Two accepted events against a threshold of three trigger exactly one
// expansion pass; its results merge without duplicating first-pass URLs.
func TestThinFirstPassExpandsOnce(t *testing.T) {
	disc := &fakeDiscovery{batches: [][]domain.Candidate{
		{candidate(1), candidate(2), candidate(3)},
		{candidate(1), candidate(4)}, // candidate 1 rediscovered in pass two
	}}
	ex := &fakeExtractor{drafts: map[string]extract.Draft{
		candidate(1).URL: draftFor(1, 0.9),
		candidate(2).URL: draftFor(2, 0.8),
		candidate(3).URL: draftFor(3, 0.2), // rejected
		candidate(4).URL: draftFor(4, 0.7),
	}}
	p := newPipeline(testStore(t, nil), disc, ex)

	res, err := p.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if disc.calls != 2 {
		t.Fatalf("discovery passes = %d, want 2", disc.calls)
	}
	if len(res.Events) != 3 {
		t.Fatalf("events = %d, want 3 (1, 2, and 4)", len(res.Events))
	}
	seen := map[string]int{}
	for _, ev := range res.Events {
		seen[ev.SourceURL]++
		if seen[ev.SourceURL] > 1 {
			t.Fatalf("duplicate URL in result: %s", ev.SourceURL)
		}
	}

	// Second-pass window is wider, and the provenance of the event found
	// there says so.
	if !disc.windows[1].To.After(disc.windows[0].To) {
		t.Fatalf("second window not wider: %v vs %v", disc.windows[1], disc.windows[0])
	}
	for _, ev := range res.Events {
		if ev.SourceURL == candidate(4).URL && !ev.Provenance.Expanded {
			t.Fatal("expanded-pass event not marked")
		}
		if ev.SourceURL == candidate(1).URL && ev.Provenance.Expanded {
			t.Fatal("first-pass event marked as expanded")
		}
	}
	if res.Summary.Window != disc.windows[1] {
		t.Fatalf("summary window = %v, want the widened one", res.Summary.Window)
	}
}

func TestEnoughHitsSkipExpansion(t *testing.T) {
	disc := &fakeDiscovery{batches: [][]domain.Candidate{
		{candidate(1), candidate(2), candidate(3)},
	}}
	ex := &fakeExtractor{drafts: map[string]extract.Draft{
		candidate(1).URL: draftFor(1, 0.9),
		candidate(2).URL: draftFor(2, 0.8),
		candidate(3).URL: draftFor(3, 0.7),
	}}
	p := newPipeline(testStore(t, nil), disc, ex)

	res, err := p.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if disc.calls != 1 {
		t.Fatalf("discovery passes = %d, want 1", disc.calls)
	}
	if res.Summary.LowConfidence {
		t.Fatal("three accepted events flagged low confidence")
	}
	if res.Summary.Window != testRequest().Window() {
		t.Fatalf("window changed without expansion: %v", res.Summary.Window)
	}
}

// Even a thin second pass never triggers a third one.
func TestAtMostOneExpansion(t *testing.T) {
	disc := &fakeDiscovery{batches: [][]domain.Candidate{
		{candidate(1)},
		{candidate(2)},
		{candidate(3)}, // must never be requested
	}}
	ex := &fakeExtractor{drafts: map[string]extract.Draft{
		candidate(1).URL: draftFor(1, 0.9),
	}}
	p := newPipeline(testStore(t, nil), disc, ex)

	res, err := p.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if disc.calls != 2 {
		t.Fatalf("discovery passes = %d, want 2", disc.calls)
	}
	if !res.Summary.LowConfidence {
		t.Fatal("one accepted event should be low confidence")
	}
}

func TestExpansionRespectsSpanCap(t *testing.T) {
	disc := &fakeDiscovery{batches: [][]domain.Candidate{{candidate(1)}}}
	ex := &fakeExtractor{drafts: map[string]extract.Draft{
		candidate(1).URL: draftFor(1, 0.9),
	}}
	// A request already at the span cap gets no second pass.
	req := testRequest()
	req.DateTo = req.DateFrom.Add(90 * 24 * time.Hour)
	p := newPipeline(testStore(t, nil), disc, ex)

	if _, err := p.Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if disc.calls != 1 {
		t.Fatalf("discovery passes = %d, want 1 at span cap", disc.calls)
	}
}

func TestNoCandidatesAnywhereIsHardFailure(t *testing.T) {
	disc := &fakeDiscovery{}
	p := newPipeline(testStore(t, nil), disc, &fakeExtractor{})

	_, err := p.Run(context.Background(), testRequest())
	if !errors.Is(err, domain.ErrNoCandidates) {
		t.Fatalf("err = %v, want ErrNoCandidates", err)
	}
}

func TestInvalidRequestRejected(t *testing.T) {
	p := newPipeline(testStore(t, nil), &fakeDiscovery{}, &fakeExtractor{})
	req := testRequest()
	req.Topic = "  "
	if _, err := p.Run(context.Background(), req); !errors.Is(err, domain.ErrEmptyTopic) {
		t.Fatalf("err = %v, want ErrEmptyTopic", err)
	}
}

// Extraction failures drop their candidate but never the invocation.
func TestExtractionFailureDropsOnlyTheCandidate(t *testing.T) {
	disc := &fakeDiscovery{batches: [][]domain.Candidate{
		{candidate(1), candidate(2), candidate(3)},
		nil,
	}}
	ex := &fakeExtractor{drafts: map[string]extract.Draft{
		candidate(1).URL: draftFor(1, 0.9),
		candidate(3).URL: draftFor(3, 0.8),
		// candidate 2 has no draft and fails extraction
	}}
	p := newPipeline(testStore(t, nil), disc, ex)

	res, err := p.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(res.Events))
	}
	if res.Summary.Extracted != 2 {
		t.Fatalf("extracted counter = %d, want 2", res.Summary.Extracted)
	}
}

// Once the early-stop count is reached, queued candidates are not extracted.
func TestEarlyStopCancelsRemainingExtractions(t *testing.T) {
	var cs []domain.Candidate
	drafts := map[string]extract.Draft{}
	for i := 1; i <= 10; i++ {
		cs = append(cs, candidate(i))
		drafts[candidate(i).URL] = draftFor(i, 0.9)
	}
	disc := &fakeDiscovery{batches: [][]domain.Candidate{cs}}
	ex := &fakeExtractor{drafts: drafts, delay: 20 * time.Millisecond}
	store := testStore(t, func(c *config.Config) {
		c.Thresholds.EarlyStopAccepted = 2
		c.Thresholds.ExtractConcurrency = 1
	})
	p := newPipeline(store, disc, ex)

	res, err := p.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Events) < 2 {
		t.Fatalf("events = %d, want at least the early-stop count", len(res.Events))
	}
	if ex.callCount() >= 10 {
		t.Fatalf("all %d candidates extracted despite early stop", ex.callCount())
	}
}

// windowGate mirrors the date check of the real gate: only drafts dated
// inside the window it is handed pass.
type windowGate struct{}

func (windowGate) Evaluate(d extract.Draft, w domain.Window) quality.Decision {
	ts, err := time.Parse("2006-01-02", d.Event.DateISO)
	if err != nil || !w.Contains(ts) {
		return quality.Decision{Reason: "date outside window"}
	}
	return quality.Decision{Accept: true, Score: d.Event.Confidence}
}

// A candidate rejected in pass one only because its date fell past the
// original window is accepted under the widened window and must survive
// the merge.
func TestExpansionRecoversLateDatedCandidate(t *testing.T) {
	late := draftFor(2, 0.8)
	late.Event.DateISO = "2025-12-04" // past 12-01, inside the +7d window
	disc := &fakeDiscovery{batches: [][]domain.Candidate{
		{candidate(1), candidate(2)},
		{candidate(1), candidate(2)}, // both rediscovered in pass two
	}}
	ex := &fakeExtractor{drafts: map[string]extract.Draft{
		candidate(1).URL: draftFor(1, 0.9),
		candidate(2).URL: late,
	}}
	p := New(Deps{
		Config:     testStore(t, nil),
		Builder:    fakeBuilder{},
		Discovery:  disc,
		Rerank:     passRerank{},
		Prioritize: passPrioritize{},
		Extract:    ex,
		Quality:    windowGate{},
	})

	res, err := p.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if disc.calls != 2 {
		t.Fatalf("discovery passes = %d, want 2", disc.calls)
	}
	if len(res.Events) != 2 {
		t.Fatalf("events = %d, want the late-dated event recovered", len(res.Events))
	}
	for _, ev := range res.Events {
		if ev.SourceURL == candidate(2).URL && !ev.Provenance.Expanded {
			t.Fatal("recovered event not marked as expanded")
		}
		if ev.SourceURL == candidate(1).URL && ev.Provenance.Expanded {
			t.Fatal("first-pass event marked as expanded")
		}
	}
}

// An exhausted wall-clock budget returns the events accepted so far with
// the partial flag set, never an error.
func TestBudgetExhaustionReturnsPartial(t *testing.T) {
	var cs []domain.Candidate
	drafts := map[string]extract.Draft{}
	for i := 1; i <= 10; i++ {
		cs = append(cs, candidate(i))
		drafts[candidate(i).URL] = draftFor(i, 0.9)
	}
	disc := &fakeDiscovery{batches: [][]domain.Candidate{cs}}
	ex := &fakeExtractor{drafts: drafts, delay: 25 * time.Millisecond}
	store := testStore(t, func(c *config.Config) {
		c.Thresholds.WallClockBudget = 120 * time.Millisecond
		c.Thresholds.ExtractConcurrency = 1
	})
	p := newPipeline(store, disc, ex)

	res, err := p.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("budget exhaustion must not be an error: %v", err)
	}
	if !res.Summary.Partial {
		t.Fatal("partial flag not set after budget expiry")
	}
	if len(res.Events) == 0 {
		t.Fatal("events accepted before the deadline were dropped")
	}
	if len(res.Events) == 10 {
		t.Fatal("all candidates extracted despite the budget")
	}
	if disc.calls != 1 {
		t.Fatalf("expansion ran after budget expiry: %d passes", disc.calls)
	}
}

func TestResultsOrderedByQuality(t *testing.T) {
	disc := &fakeDiscovery{batches: [][]domain.Candidate{
		{candidate(1), candidate(2), candidate(3)},
	}}
	ex := &fakeExtractor{drafts: map[string]extract.Draft{
		candidate(1).URL: draftFor(1, 0.6),
		candidate(2).URL: draftFor(2, 0.9),
		candidate(3).URL: draftFor(3, 0.7),
	}}
	p := newPipeline(testStore(t, nil), disc, ex)

	res, err := p.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := 1; i < len(res.Events); i++ {
		if res.Events[i].QualityScore > res.Events[i-1].QualityScore {
			t.Fatalf("events out of order at %d: %v", i, res.Events)
		}
	}
	if res.Events[0].SourceURL != candidate(2).URL {
		t.Fatalf("best event first, got %s", res.Events[0].SourceURL)
	}
}

func TestZeroWeightsGetDefaults(t *testing.T) {
	disc := &fakeDiscovery{batches: [][]domain.Candidate{{candidate(1)}}}
	ex := &fakeExtractor{drafts: map[string]extract.Draft{
		candidate(1).URL: draftFor(1, 0.9),
	}}
	p := newPipeline(testStore(t, nil), disc, ex)

	// A zero-valued weights struct must not fail validation downstream.
	if _, err := p.Run(context.Background(), testRequest()); err != nil {
		t.Fatalf("Run with zero weights: %v", err)
	}
}

func TestExpanderStateMachine(t *testing.T) {
	w := domain.Window{
		From: time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC),
	}

	e := newExpander(7, 90, 3)
	if !e.shouldExpand(2, w) {
		t.Fatal("thin pass should expand")
	}
	widened := e.expand(w)
	if got := widened.To.Sub(w.To); got != 7*24*time.Hour {
		t.Fatalf("step = %v, want 7 days", got)
	}
	if e.shouldExpand(2, widened) {
		t.Fatal("second expansion allowed")
	}

	e = newExpander(7, 90, 3)
	if e.shouldExpand(3, w) {
		t.Fatal("enough hits should not expand")
	}

	e = newExpander(7, 14, 3)
	if e.shouldExpand(0, w) {
		t.Fatal("window at span cap should not expand")
	}

	// Extension never exceeds the cap.
	e = newExpander(30, 20, 3)
	capped := e.expand(w)
	if capped.Span() > 20*24*time.Hour {
		t.Fatalf("span %v exceeds cap", capped.Span())
	}
}
