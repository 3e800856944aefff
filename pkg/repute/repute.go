// Package repute maintains host reputation in Neo4j: how often a host has
// produced accepted events and at what quality. The heuristic candidate
// scorer reads it; the result assembler writes back accepted events.
// Reads are cached in-process and degrade to a neutral score when the
// database is unreachable.
package repute

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// NeutralScore is returned when nothing is known about a host.
const NeutralScore = 0.5

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// Store is the Neo4j-backed reputation store.
type Store struct {
	driver neo4j.DriverWithContext
	logger *slog.Logger

	mu       sync.RWMutex
	cached   map[string]cachedScore
	cacheTTL time.Duration

	newSession func(ctx context.Context) runner // test seam
	now        func() time.Time
}

type cachedScore struct {
	score     float64
	known     bool
	fetchedAt time.Time
}

// New creates a Store. cacheTTL bounds how long host scores are served from
// memory before re-reading.
func New(driver neo4j.DriverWithContext, cacheTTL time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &Store{
		driver:   driver,
		logger:   logger,
		cached:   make(map[string]cachedScore),
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

type neo4jSessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *neo4jSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *neo4jSessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (s *Store) session(ctx context.Context) runner {
	if s.newSession != nil {
		return s.newSession(ctx)
	}
	return &neo4jSessionAdapter{sess: s.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// Score returns the host's mean accepted quality in [0,1] and whether the
// host is known. Any backend failure yields (NeutralScore, false).
func (s *Store) Score(ctx context.Context, host string) (float64, bool) {
	s.mu.RLock()
	c, ok := s.cached[host]
	s.mu.RUnlock()
	if ok && s.now().Sub(c.fetchedAt) < s.cacheTTL {
		return c.score, c.known
	}

	score, known := s.fetch(ctx, host)
	s.mu.Lock()
	s.cached[host] = cachedScore{score: score, known: known, fetchedAt: s.now()}
	s.mu.Unlock()
	return score, known
}

func (s *Store) fetch(ctx context.Context, host string) (float64, bool) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx,
		"MATCH (h:Host {name: $host}) RETURN h.quality_sum / toFloat(h.accepted) AS score",
		map[string]any{"host": host})
	if err != nil {
		s.logger.Debug("repute: score lookup failed", "host", host, "err", err)
		return NeutralScore, false
	}
	if !res.Next(ctx) {
		return NeutralScore, false
	}
	raw, ok := res.Record().Get("score")
	if !ok {
		return NeutralScore, false
	}
	score, ok := raw.(float64)
	if !ok {
		return NeutralScore, false
	}
	if score < 0 {
		score = 0
	} else if score > 1 {
		score = 1
	}
	return score, true
}

// RecordAccepted upserts the host node, folds in one accepted event's
// quality, and links the provider that discovered it. Best effort.
func (s *Store) RecordAccepted(ctx context.Context, host, provider string, quality float64) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.Run(ctx, `
		MERGE (h:Host {name: $host})
		ON CREATE SET h.accepted = 1, h.quality_sum = $quality
		ON MATCH SET h.accepted = h.accepted + 1, h.quality_sum = h.quality_sum + $quality
		MERGE (p:Provider {id: $provider})
		MERGE (h)-[:DISCOVERED_VIA]->(p)`,
		map[string]any{"host": host, "provider": provider, "quality": quality})
	if err != nil {
		return fmt.Errorf("repute: record %s: %w", host, err)
	}

	s.mu.Lock()
	delete(s.cached, host) // next Score re-reads
	s.mu.Unlock()
	return nil
}
