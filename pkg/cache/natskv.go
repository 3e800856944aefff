package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// KV is the shared distributed tier backed by a NATS JetStream key-value
// bucket. NATS KV TTLs are per bucket, so each value carries its own expiry
// envelope checked on read.
type KV struct {
	kv  nats.KeyValue
	now func() time.Time
}

type kvEnvelope struct {
	ExpiresAt time.Time `json:"expires_at"`
	Value     []byte    `json:"value"`
}

// NewKV creates (or binds to) the named bucket on the given connection.
// maxAge bounds how long the bucket retains anything, independent of
// per-entry TTLs.
func NewKV(nc *nats.Conn, bucket string, maxAge time.Duration) (*KV, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("cache: jetstream: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if err != nil {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: bucket,
			TTL:    maxAge,
		})
		if err != nil {
			return nil, fmt.Errorf("cache: create bucket %s: %w", bucket, err)
		}
	}
	return &KV{kv: kv, now: time.Now}, nil
}

// Get returns the value if present and unexpired. Backend errors are misses.
func (k *KV) Get(_ context.Context, key string) ([]byte, bool) {
	entry, err := k.kv.Get(key)
	if err != nil {
		return nil, false
	}
	var env kvEnvelope
	if err := json.Unmarshal(entry.Value(), &env); err != nil {
		return nil, false
	}
	if k.now().After(env.ExpiresAt) {
		_ = k.kv.Delete(key)
		return nil, false
	}
	return env.Value, true
}

// Set stores value under key for ttl.
func (k *KV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	env, err := json.Marshal(kvEnvelope{
		ExpiresAt: k.now().Add(ttl),
		Value:     value,
	})
	if err != nil {
		return err
	}
	if _, err := k.kv.Put(key, env); err != nil {
		return fmt.Errorf("cache: kv put: %w", err)
	}
	return nil
}

// Invalidate removes key from the bucket.
func (k *KV) Invalidate(_ context.Context, key string) error {
	return k.kv.Delete(key)
}
