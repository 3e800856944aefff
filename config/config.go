// Package config provides the externally tunable surface of the discovery
// pipeline: per-topic query templates, precision weights, provider toggles,
// and every numeric threshold. Nothing in here requires a rebuild to change.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Attendry/attendry-sub001/engine/domain"
)

// Config is the versioned root configuration.
type Config struct {
	Version    int                      `yaml:"version"`
	Topics     map[string]TopicTemplate `yaml:"topics"`
	Regions    map[string]RegionInfo    `yaml:"regions"`
	Weights    WeightsConfig            `yaml:"weights"`
	Providers  map[string]Provider      `yaml:"providers"`
	Thresholds Thresholds               `yaml:"thresholds"`
	// AggregatorHosts extends the built-in blocklist of generic
	// event-listing domains.
	AggregatorHosts []string `yaml:"aggregator_hosts"`
}

// TopicTemplate drives query building for one topic.
type TopicTemplate struct {
	// BaseTerms always appear in every variant.
	BaseTerms []string `yaml:"base_terms"`
	// EventTypes maps a locale ("en", "de", "fr") to event-type synonyms
	// ordered from high-confidence to broad.
	EventTypes map[string][]string `yaml:"event_types"`
	// NarrowTerms are the high-confidence industry terms kept when the
	// industry axis is weighted high.
	NarrowTerms []string `yaml:"narrow_terms"`
	// ExcludeTerms are appended as negative tokens when cross-topic
	// suppression is weighted high.
	ExcludeTerms []string `yaml:"exclude_terms"`
	// AggregatorHosts adds topic-specific blocklist entries.
	AggregatorHosts []string `yaml:"aggregator_hosts"`
}

// RegionInfo provides geographic tokens for a region code.
type RegionInfo struct {
	Country string   `yaml:"country"`
	Locale  string   `yaml:"locale"`
	TLD     string   `yaml:"tld"`
	Cities  []string `yaml:"cities"`
}

// WeightsConfig holds default precision weights applied when a request
// leaves them unset.
type WeightsConfig struct {
	Industry   int `yaml:"industry"`
	CrossTopic int `yaml:"cross_topic"`
	Geographic int `yaml:"geographic"`
	Quality    int `yaml:"quality"`
	EventType  int `yaml:"event_type"`
}

// Defaults returns the configured weights as domain weights.
func (w WeightsConfig) Defaults() domain.PrecisionWeights {
	return domain.PrecisionWeights{
		Industry:   w.Industry,
		CrossTopic: w.CrossTopic,
		Geography:  w.Geographic,
		Quality:    w.Quality,
		EventType:  w.EventType,
	}
}

// Provider configures one discovery provider.
type Provider struct {
	Enabled        bool          `yaml:"enabled"`
	Rate           float64       `yaml:"rate"`
	Burst          int           `yaml:"burst"`
	Timeout        time.Duration `yaml:"timeout"`
	FailThreshold  int           `yaml:"fail_threshold"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
	Endpoint       string        `yaml:"endpoint"`
	Feeds          []string      `yaml:"feeds"`
}

// Thresholds collects every numeric cutoff in one named place.
type Thresholds struct {
	// MinSolidHits is the accepted-event count below which the window is
	// expanded once.
	MinSolidHits int `yaml:"min_solid_hits"`
	// HighQuality admits out-of-window events; LowQuality rejects
	// in-window ones below it.
	HighQuality float64 `yaml:"high_quality"`
	LowQuality  float64 `yaml:"low_quality"`
	MinSpeakers int     `yaml:"min_speakers"`

	MaxVariants int `yaml:"max_variants"`
	RerankMin   int `yaml:"rerank_min"`
	RerankMax   int `yaml:"rerank_max"`
	ExtractTopK int `yaml:"extract_top_k"`

	StepDays          int `yaml:"step_days"`
	MaxSpanDays       int `yaml:"max_span_days"`
	EarlyStopAccepted int `yaml:"early_stop_accepted"`

	DiscoveryConcurrency int `yaml:"discovery_concurrency"`
	ExtractConcurrency   int `yaml:"extract_concurrency"`

	// FetchRate and FetchBurst pace outbound page fetches.
	FetchRate  float64 `yaml:"fetch_rate"`
	FetchBurst int     `yaml:"fetch_burst"`

	LLMTimeout      time.Duration `yaml:"llm_timeout"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	SubpageTimeout  time.Duration `yaml:"subpage_timeout"`
	WallClockBudget time.Duration `yaml:"wall_clock_budget"`
	ExtractCacheTTL time.Duration `yaml:"extract_cache_ttl"`
	DiscoveryTTL    time.Duration `yaml:"discovery_ttl"`
}

// Default returns a Config with the tuned defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		Topics:  map[string]TopicTemplate{},
		Regions: map[string]RegionInfo{
			"DE": {Country: "Germany", Locale: "de", TLD: ".de", Cities: []string{"Berlin", "Munich", "Frankfurt", "Hamburg", "Cologne"}},
			"FR": {Country: "France", Locale: "fr", TLD: ".fr", Cities: []string{"Paris", "Lyon", "Marseille"}},
			"UK": {Country: "United Kingdom", Locale: "en", TLD: ".uk", Cities: []string{"London", "Manchester", "Edinburgh"}},
			"US": {Country: "United States", Locale: "en", TLD: ".com", Cities: []string{"New York", "San Francisco", "Chicago"}},
		},
		Weights: WeightsConfig{Industry: 5, CrossTopic: 5, Geographic: 5, Quality: 5, EventType: 5},
		Providers: map[string]Provider{
			"websearch": {Enabled: true, Rate: 5, Burst: 10, Timeout: 8 * time.Second, FailThreshold: 5, BreakerTimeout: 30 * time.Second},
			"rss":       {Enabled: true, Rate: 2, Burst: 4, Timeout: 8 * time.Second, FailThreshold: 5, BreakerTimeout: 30 * time.Second},
			"seed":      {Enabled: true, Rate: 10, Burst: 20, Timeout: 5 * time.Second, FailThreshold: 5, BreakerTimeout: 30 * time.Second},
		},
		Thresholds: Thresholds{
			MinSolidHits:         3,
			HighQuality:          0.40,
			LowQuality:           0.30,
			MinSpeakers:          2,
			MaxVariants:          20,
			RerankMin:            6,
			RerankMax:            15,
			ExtractTopK:          10,
			StepDays:             7,
			MaxSpanDays:          90,
			EarlyStopAccepted:    8,
			DiscoveryConcurrency: 12,
			ExtractConcurrency:   4,
			FetchRate:            2,
			FetchBurst:           4,
			LLMTimeout:           15 * time.Second,
			FetchTimeout:         8 * time.Second,
			SubpageTimeout:       5 * time.Second,
			WallClockBudget:      90 * time.Second,
			ExtractCacheTTL:      24 * time.Hour,
			DiscoveryTTL:         time.Hour,
		},
	}
}

// GenericTemplate is the fallback used when a topic has no configured
// template. Query building must never fail on an unknown topic.
func GenericTemplate() TopicTemplate {
	return TopicTemplate{
		EventTypes: map[string][]string{
			"en": {"conference", "summit", "congress", "forum", "workshop", "expo"},
			"de": {"Konferenz", "Kongress", "Fachtagung", "Forum", "Messe"},
			"fr": {"conférence", "congrès", "salon", "forum", "colloque"},
		},
	}
}

// Template returns the topic's template, or the generic fallback.
func (c *Config) Template(topic string) TopicTemplate {
	if t, ok := c.Topics[topic]; ok {
		return t
	}
	return GenericTemplate()
}

// Validate checks invariants. A config that fails validation is never
// installed, the previous one stays active.
func (c *Config) Validate() error {
	if c.Version < 1 {
		return fmt.Errorf("config: version must be >= 1")
	}
	t := c.Thresholds
	if t.HighQuality < t.LowQuality {
		return fmt.Errorf("config: high_quality %.2f below low_quality %.2f", t.HighQuality, t.LowQuality)
	}
	if t.HighQuality < 0 || t.HighQuality > 1 || t.LowQuality < 0 || t.LowQuality > 1 {
		return fmt.Errorf("config: quality cutoffs must be in [0,1]")
	}
	if t.MinSolidHits < 1 {
		return fmt.Errorf("config: min_solid_hits must be >= 1")
	}
	if t.MaxVariants < 1 || t.RerankMax < t.RerankMin || t.ExtractTopK < 1 {
		return fmt.Errorf("config: variant/rerank/top-k bounds are inconsistent")
	}
	if t.StepDays < 1 || t.MaxSpanDays < t.StepDays {
		return fmt.Errorf("config: window expansion steps are inconsistent")
	}
	if t.DiscoveryConcurrency < 1 || t.ExtractConcurrency < 1 {
		return fmt.Errorf("config: concurrency caps must be >= 1")
	}
	if t.FetchRate <= 0 || t.FetchBurst < 1 {
		return fmt.Errorf("config: fetch pacing must be positive")
	}
	w := c.Weights
	for name, v := range map[string]int{
		"industry": w.Industry, "cross_topic": w.CrossTopic,
		"geographic": w.Geographic, "quality": w.Quality, "event_type": w.EventType,
	} {
		if v < 0 || v > 10 {
			return fmt.Errorf("config: weight %s out of range: %d", name, v)
		}
	}
	for id, p := range c.Providers {
		if p.Enabled && p.Rate <= 0 {
			return fmt.Errorf("config: provider %s enabled with rate %.2f", id, p.Rate)
		}
	}
	return nil
}

// LoadFromFile reads a YAML file over the defaults and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
