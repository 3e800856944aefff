// Package main implements the Attendry search API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Attendry/attendry-sub001/config"
	"github.com/Attendry/attendry-sub001/engine/discovery"
	"github.com/Attendry/attendry-sub001/engine/domain"
	"github.com/Attendry/attendry-sub001/engine/extract"
	"github.com/Attendry/attendry-sub001/engine/pipeline"
	"github.com/Attendry/attendry-sub001/engine/prioritize"
	"github.com/Attendry/attendry-sub001/engine/quality"
	"github.com/Attendry/attendry-sub001/engine/query"
	"github.com/Attendry/attendry-sub001/engine/rerank"
	"github.com/Attendry/attendry-sub001/engine/semantic"
	"github.com/Attendry/attendry-sub001/pkg/cache"
	"github.com/Attendry/attendry-sub001/pkg/embed"
	"github.com/Attendry/attendry-sub001/pkg/llm"
	"github.com/Attendry/attendry-sub001/pkg/metrics"
	"github.com/Attendry/attendry-sub001/pkg/mid"
	"github.com/Attendry/attendry-sub001/pkg/natsutil"
	"github.com/Attendry/attendry-sub001/pkg/ollama"
	"github.com/Attendry/attendry-sub001/pkg/repute"
	"github.com/Attendry/attendry-sub001/pkg/resilience"
)

// Env holds all environment-based configuration. Tunables live in the YAML
// config; the environment carries endpoints and credentials only.
type Env struct {
	Port           string
	ConfigPath     string
	NatsURL        string
	Neo4jURL       string
	Neo4jUser      string
	Neo4jPass      string
	QdrantURL      string
	Collection     string
	GeminiKey      string
	GeminiModel    string
	EmbedModel     string
	OllamaURL      string
	OllamaModel    string
	SearchEndpoint string
	SearchKey      string
	CacheDir       string
	CORSOrigin     string
}

func loadEnv() Env {
	return Env{
		Port:           envOr("PORT", "8080"),
		ConfigPath:     os.Getenv("CONFIG_PATH"),
		NatsURL:        os.Getenv("NATS_URL"),
		Neo4jURL:       envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:      envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:      envOr("NEO4J_PASS", "password"),
		QdrantURL:      envOr("QDRANT_URL", "localhost:6334"),
		Collection:     envOr("QDRANT_COLLECTION", "attendry_events"),
		GeminiKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    envOr("GEMINI_MODEL", "gemini-2.0-flash"),
		EmbedModel:     envOr("GEMINI_EMBED_MODEL", "text-embedding-004"),
		OllamaURL:      os.Getenv("OLLAMA_URL"),
		OllamaModel:    envOr("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
		SearchEndpoint: envOr("SEARCH_ENDPOINT", "https://api.search.brave.com/res/v1/web/search"),
		SearchKey:      os.Getenv("SEARCH_API_KEY"),
		CacheDir:       os.Getenv("CACHE_DIR"),
		CORSOrigin:     envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	env := loadEnv()

	if err := run(env, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(env Env, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Config store, with hot reload when a file is given ---
	store := config.NewStore(logger)
	if env.ConfigPath != "" {
		if err := store.Load(env.ConfigPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := store.Watch(ctx); err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
	}
	cfg := store.Current()

	reg := metrics.New()

	// --- Cache tiers: memory, then NATS KV, then file ---
	mem := cache.NewMemory(time.Minute)
	defer mem.Close()
	tiers := []cache.Store{mem}
	var nc *nats.Conn
	if env.NatsURL != "" {
		var err error
		nc, err = nats.Connect(env.NatsURL, nats.Name("attendry-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		kv, err := cache.NewKV(nc, "attendry_cache", cfg.Thresholds.ExtractCacheTTL)
		if err != nil {
			return fmt.Errorf("nats kv: %w", err)
		}
		tiers = append(tiers, kv)
	}
	if env.CacheDir != "" {
		fileTier, err := cache.NewFile(env.CacheDir)
		if err != nil {
			return fmt.Errorf("file cache: %w", err)
		}
		tiers = append(tiers, fileTier)
	}
	cacheStore := cache.NewTiered(tiers, cache.WithLogger(logger))

	// --- Neo4j host reputation ---
	driver, err := neo4j.NewDriverWithContext(env.Neo4jURL, neo4j.BasicAuth(env.Neo4jUser, env.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(ctx)
	reputeStore := repute.New(driver, 10*time.Minute, logger)

	// --- Qdrant seed store ---
	seedStore, err := semantic.New(env.QdrantURL, env.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer seedStore.Close()
	if err := seedStore.EnsureCollection(ctx, 768); err != nil {
		logger.Warn("qdrant collection check failed, seed provider degraded", "err", err)
	}

	// --- Gemini clients ---
	llmClient, err := llm.NewGemini(ctx, env.GeminiKey, env.GeminiModel, logger)
	if err != nil {
		return fmt.Errorf("gemini client: %w", err)
	}
	var embedder embed.Client
	if env.OllamaURL != "" {
		embedder = ollama.NewEmbedClient(env.OllamaURL, env.OllamaModel)
	} else {
		embedder, err = embed.NewGemini(ctx, env.GeminiKey, env.EmbedModel)
		if err != nil {
			return fmt.Errorf("gemini embedder: %w", err)
		}
	}

	// --- Provider chain behind per-provider guards ---
	guards := resilience.NewRegistry(resilience.GuardOpts{
		Limiter: resilience.LimiterOpts{Rate: 5, Burst: 10},
		Breaker: resilience.DefaultBreakerOpts,
	}, guardOverrides(cfg))
	defer guards.Shutdown()

	var chain []discovery.Provider
	if p, ok := cfg.Providers["websearch"]; ok && p.Enabled && env.SearchKey != "" {
		endpoint := p.Endpoint
		if endpoint == "" {
			endpoint = env.SearchEndpoint
		}
		chain = append(chain, discovery.NewWebSearch(endpoint, env.SearchKey, nil))
	}
	if p, ok := cfg.Providers["rss"]; ok && p.Enabled && len(p.Feeds) > 0 {
		chain = append(chain, discovery.NewRSS(p.Feeds, logger))
	}
	if p, ok := cfg.Providers["seed"]; ok && p.Enabled {
		chain = append(chain, discovery.NewSeedList(seedStore, embedder, cfg.Thresholds.RerankMax, logger))
	}
	if len(chain) == 0 {
		return errors.New("no discovery providers configured")
	}

	th := cfg.Thresholds
	pipe := pipeline.New(pipeline.Deps{
		Config:     store,
		Builder:    query.New(logger),
		Discovery:  discovery.New(chain, guards, cacheStore, reg, th.DiscoveryConcurrency, logger),
		Rerank:     rerank.New(embedder, logger),
		Prioritize: prioritize.New(llmClient, reputeStore, th.LLMTimeout, logger),
		Extract: extract.New(extract.NewFetcher(th.FetchRate, th.FetchBurst), llmClient, cacheStore, extract.Params{
			FetchTimeout:   th.FetchTimeout,
			SubpageTimeout: th.SubpageTimeout,
			CacheTTL:       th.ExtractCacheTTL,
		}, logger),
		Quality: quality.New(quality.Thresholds{
			HighQuality: th.HighQuality,
			LowQuality:  th.LowQuality,
			MinSpeakers: th.MinSpeakers,
		}, logger),
		Seeds:    seedStore,
		Repute:   reputeStore,
		Embedder: embedder,
		Metrics:  reg,
		Logger:   logger,
	})

	// Accepted events go out on NATS for downstream consumers when a
	// broker is configured.
	var svc searcher = pipe
	if nc != nil {
		svc = &announcer{next: pipe, nc: nc, logger: logger}
	}

	// --- HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("POST /api/search", handleSearch(svc, logger))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.Metrics(reg),
		mid.CORS(env.CORSOrigin),
	)

	srv := &http.Server{
		Addr:         ":" + env.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", env.Port, "providers", len(chain))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// guardOverrides maps per-provider config onto guard options.
func guardOverrides(cfg *config.Config) map[string]resilience.GuardOpts {
	out := make(map[string]resilience.GuardOpts, len(cfg.Providers))
	for id, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		out[id] = resilience.GuardOpts{
			Limiter: resilience.LimiterOpts{Rate: p.Rate, Burst: p.Burst},
			Breaker: resilience.BreakerOpts{
				FailThreshold: p.FailThreshold,
				Timeout:       p.BreakerTimeout,
				HalfOpenMax:   resilience.DefaultBreakerOpts.HalfOpenMax,
			},
		}
	}
	return out
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// searcher is what the HTTP layer needs from the pipeline.
type searcher interface {
	Run(ctx context.Context, req domain.SearchRequest) (domain.Result, error)
}

// announcer publishes each accepted event on the events subject after a
// successful run. Publish failures are logged, never surfaced.
type announcer struct {
	next   searcher
	nc     *nats.Conn
	logger *slog.Logger
}

func (a *announcer) Run(ctx context.Context, req domain.SearchRequest) (domain.Result, error) {
	result, err := a.next.Run(ctx, req)
	if err != nil {
		return result, err
	}
	for _, ev := range result.Events {
		if err := natsutil.Publish(ctx, a.nc, natsutil.SubjectEventsAccepted, ev); err != nil {
			a.logger.Debug("event publish failed", "url", ev.SourceURL, "err", err)
		}
	}
	return result, nil
}

// SearchRequest is the JSON body for POST /api/search.
type SearchRequest struct {
	Topic    string                  `json:"topic"`
	Region   string                  `json:"region,omitempty"`
	DateFrom string                  `json:"date_from"`
	DateTo   string                  `json:"date_to"`
	Locale   string                  `json:"locale,omitempty"`
	Weights  domain.PrecisionWeights `json:"weights,omitempty"`
}

func handleSearch(pipe searcher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		req, err := body.toDomain()
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err), http.StatusBadRequest)
			return
		}

		result, err := pipe.Run(r.Context(), req)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrNoCandidates):
			http.Error(w, `{"error":"no candidates from any provider"}`, http.StatusBadGateway)
			return
		case isValidationError(err):
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err), http.StatusBadRequest)
			return
		default:
			logger.Error("search failed", "topic", req.Topic, "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

func (b SearchRequest) toDomain() (domain.SearchRequest, error) {
	from, err := time.Parse("2006-01-02", b.DateFrom)
	if err != nil {
		return domain.SearchRequest{}, fmt.Errorf("date_from: %w", err)
	}
	to, err := time.Parse("2006-01-02", b.DateTo)
	if err != nil {
		return domain.SearchRequest{}, fmt.Errorf("date_to: %w", err)
	}
	return domain.SearchRequest{
		Topic:    b.Topic,
		Region:   b.Region,
		DateFrom: from,
		DateTo:   to,
		Locale:   b.Locale,
		Weights:  b.Weights,
	}, nil
}

func isValidationError(err error) bool {
	var ve *domain.ValidationError
	return errors.As(err, &ve)
}
