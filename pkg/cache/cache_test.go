package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestKeyStableAndNamespaced(t *testing.T) {
	a := Key("discovery", "compliance summit", "websearch")
	b := Key("discovery", "compliance summit", "websearch")
	c := Key("discovery", "compliance summit", "rss")
	if a != b {
		t.Fatal("same parts must produce the same key")
	}
	if a == c {
		t.Fatal("different parts must produce different keys")
	}
	if a[:10] != "discovery." {
		t.Fatalf("expected namespace prefix, got %q", a[:10])
	}
}

func TestMemoryTTL(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if err := m.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if v, ok := m.Get(ctx, "k"); !ok || string(v) != "v" {
		t.Fatalf("expected hit, got %q %v", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := m.Get(ctx, "k"); ok {
		t.Fatal("expected expiry")
	}
}

func TestMemoryCopiesValue(t *testing.T) {
	m := NewMemory(0)
	defer m.Close()
	ctx := context.Background()

	buf := []byte("original")
	_ = m.Set(ctx, "k", buf, time.Minute)
	buf[0] = 'X'
	if v, _ := m.Get(ctx, "k"); string(v) != "original" {
		t.Fatalf("stored value must be isolated, got %q", v)
	}
}

func TestFileRoundTripAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	ctx := context.Background()

	f, err := NewFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Set(ctx, "k", []byte(`{"x":1}`), time.Hour); err != nil {
		t.Fatal(err)
	}

	// A fresh store over the same path must see the entry.
	f2, err := NewFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := f2.Get(ctx, "k"); !ok || string(v) != `{"x":1}` {
		t.Fatalf("expected durable hit, got %q %v", v, ok)
	}

	if err := f2.Invalidate(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok := f2.Get(ctx, "k"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

// failingStore simulates an unavailable backing tier.
type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("backend down")
}
func (failingStore) Invalidate(context.Context, string) error { return errors.New("backend down") }

func TestTieredPromotesHits(t *testing.T) {
	ctx := context.Background()
	fast := NewMemory(0)
	defer fast.Close()
	slow := NewMemory(0)
	defer slow.Close()

	_ = slow.Set(ctx, "k", []byte("v"), time.Hour)

	tiered := NewTiered([]Store{fast, slow})
	if v, ok := tiered.Get(ctx, "k"); !ok || string(v) != "v" {
		t.Fatalf("expected fall-through hit, got %q %v", v, ok)
	}
	if _, ok := fast.Get(ctx, "k"); !ok {
		t.Fatal("hit should have been promoted to the fast tier")
	}
}

func TestTieredDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	tiered := NewTiered([]Store{failingStore{}})

	if _, ok := tiered.Get(ctx, "k"); ok {
		t.Fatal("expected miss from failing tier")
	}
	// Set/Invalidate must not surface backend failures.
	if err := tiered.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("tiered set must swallow tier errors, got %v", err)
	}
	if err := tiered.Invalidate(ctx, "k"); err != nil {
		t.Fatalf("tiered invalidate must swallow tier errors, got %v", err)
	}
}
