// Package domain defines the core types, error taxonomy, and validation for
// the event discovery pipeline. It acts as the validation gate at pipeline
// entry points.
package domain

import "time"

// ProviderID identifies a discovery provider implementation.
type ProviderID string

const (
	ProviderWebSearch ProviderID = "websearch"
	ProviderRSS       ProviderID = "rss"
	ProviderSeed      ProviderID = "seed"
)

// PrecisionWeights tune query generation per axis on a 0-10 scale.
// Higher values narrow an axis to high-confidence terms, lower values broaden it.
type PrecisionWeights struct {
	Industry   int `json:"industry" yaml:"industry"`
	CrossTopic int `json:"cross_topic" yaml:"cross_topic"`
	Geography  int `json:"geography" yaml:"geography"`
	Quality    int `json:"quality" yaml:"quality"`
	EventType  int `json:"event_type" yaml:"event_type"`
}

// SearchRequest is the immutable input for one pipeline invocation.
type SearchRequest struct {
	Topic         string           `json:"topic"`
	Region        string           `json:"region"` // ISO 3166-1 alpha-2, e.g. "DE"
	DateFrom      time.Time        `json:"date_from"`
	DateTo        time.Time        `json:"date_to"`
	Locale        string           `json:"locale"` // BCP 47 primary subtag, e.g. "de"
	CallerProfile string           `json:"caller_profile,omitempty"`
	Weights       PrecisionWeights `json:"weights"`
}

// Window returns the requested date range as a Window.
func (r SearchRequest) Window() Window {
	return Window{From: r.DateFrom, To: r.DateTo}
}

// Window is a date range an event must plausibly fall within.
// Windows are replaced, never mutated: Extend returns a new value.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Valid reports whether the window is a non-empty interval.
func (w Window) Valid() bool {
	return !w.From.IsZero() && !w.To.IsZero() && w.To.After(w.From)
}

// Contains reports whether t falls inside the window (inclusive bounds).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// Span returns the window length.
func (w Window) Span() time.Duration {
	return w.To.Sub(w.From)
}

// Extend returns a new window with To pushed forward by step, capped so the
// total span never exceeds maxSpan. The receiver is unchanged.
func (w Window) Extend(step, maxSpan time.Duration) Window {
	out := Window{From: w.From, To: w.To.Add(step)}
	if out.Span() > maxSpan {
		out.To = out.From.Add(maxSpan)
	}
	return out
}

// QueryVariant is one generated search query with provenance tags such as
// "event-type:summit" or "locale:de". Slice order is priority order.
type QueryVariant struct {
	Query string   `json:"query"`
	Tags  []string `json:"tags,omitempty"`
}

// Candidate is a discovered URL not yet validated as a real event page.
// URL is canonical and is the dedup key across all providers in one request.
type Candidate struct {
	URL           string     `json:"url"`
	Host          string     `json:"host"`
	Title         string     `json:"title,omitempty"` // provider-supplied, best effort
	DiscoveredVia ProviderID `json:"discovered_via"`
	RawScore      float64    `json:"raw_score"`
	Relevance     float64    `json:"relevance"` // set by prioritization, in [0,1]
}

// CandidateMeta carries page-derived signals consumed by the quality gate.
// It never outlives its parent event.
type CandidateMeta struct {
	DateISO           string `json:"date_iso,omitempty"`
	Venue             string `json:"venue,omitempty"`
	City              string `json:"city,omitempty"`
	Country           string `json:"country,omitempty"`
	SpeakerCount      int    `json:"speaker_count"`
	HasSpeakerSubpage bool   `json:"has_speaker_subpage"`
	OfficialDomain    bool   `json:"official_domain"`
	TextSample        string `json:"text_sample,omitempty"`
}

// Speaker is a person extracted from an event page.
type Speaker struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
	Org  string `json:"org,omitempty"`
}

// Provenance records where an event came from and under which window.
type Provenance struct {
	Provider ProviderID `json:"provider"`
	Expanded bool       `json:"expanded"` // found during the widened second pass
}

// Event is an extracted event record. Terminal state is either accepted
// (returned to the caller) or rejected (dropped and logged).
type Event struct {
	Title        string     `json:"title"`
	DateISO      string     `json:"date,omitempty"`
	Location     string     `json:"location,omitempty"`
	Speakers     []Speaker  `json:"speakers,omitempty"`
	SourceURL    string     `json:"source_url"`
	Confidence   float64    `json:"confidence"`
	QualityScore float64    `json:"quality_score"`
	Window       Window     `json:"window_used"`
	Provenance   Provenance `json:"provenance"`
}

// Summary carries per-invocation counters for observability.
type Summary struct {
	Discovered    int    `json:"discovered"`
	Prioritized   int    `json:"prioritized"`
	Extracted     int    `json:"extracted"`
	Accepted      int    `json:"accepted"`
	LowConfidence bool   `json:"low_confidence"`
	Partial       bool   `json:"partial"`
	Window        Window `json:"window_used"`
}

// Result is what one pipeline invocation returns to its caller.
type Result struct {
	Events  []Event `json:"events"`
	Summary Summary `json:"metadata"`
}
