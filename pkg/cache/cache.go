// Package cache provides the multi-tier key/value store consulted before
// every paid external call: a fast in-process tier, a shared NATS KV tier,
// and a durable file tier. All tiers degrade to a miss when their backing
// store is unavailable; a cache problem never fails a request.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"
)

// Store is one cache tier. Get returns (nil, false) on miss or on any
// backend failure; Set and Invalidate errors are advisory.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Key builds a cache key from its parts: a namespace plus identifying
// strings, hashed so arbitrary queries and URLs are safe in any backend.
func Key(namespace string, parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return namespace + "." + hex.EncodeToString(h[:])
}

// Tiered composes stores fastest-first. Reads fall through to slower tiers
// and promote hits back up; writes go to every tier best-effort. Concurrent
// writers to one key race harmlessly: last write wins, readers observe one
// complete value or none.
type Tiered struct {
	tiers      []Store
	promoteTTL time.Duration
	logger     *slog.Logger
}

// TieredOption configures a Tiered store.
type TieredOption func(*Tiered)

// WithPromoteTTL sets the TTL used when back-filling faster tiers on a hit.
func WithPromoteTTL(d time.Duration) TieredOption {
	return func(t *Tiered) { t.promoteTTL = d }
}

// WithLogger sets the logger for advisory tier failures.
func WithLogger(l *slog.Logger) TieredOption {
	return func(t *Tiered) { t.logger = l }
}

// NewTiered creates a Tiered store over the given tiers, fastest first.
func NewTiered(tiers []Store, opts ...TieredOption) *Tiered {
	t := &Tiered{
		tiers:      tiers,
		promoteTTL: 5 * time.Minute,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Get returns the first hit across tiers, promoting it to faster tiers.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	for i, tier := range t.tiers {
		if v, ok := tier.Get(ctx, key); ok {
			for j := 0; j < i; j++ {
				if err := t.tiers[j].Set(ctx, key, v, t.promoteTTL); err != nil {
					t.logger.Debug("cache promote failed", "tier", j, "err", err)
				}
			}
			return v, true
		}
	}
	return nil, false
}

// Set writes to every tier. Individual tier failures are logged, not returned.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	for i, tier := range t.tiers {
		if err := tier.Set(ctx, key, value, ttl); err != nil {
			t.logger.Debug("cache set failed", "tier", i, "err", err)
		}
	}
	return nil
}

// Invalidate removes the key from every tier.
func (t *Tiered) Invalidate(ctx context.Context, key string) error {
	for i, tier := range t.tiers {
		if err := tier.Invalidate(ctx, key); err != nil {
			t.logger.Debug("cache invalidate failed", "tier", i, "err", err)
		}
	}
	return nil
}
