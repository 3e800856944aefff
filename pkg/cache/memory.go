package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process tier: a TTL map with a background janitor.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	stop    chan struct{}
	once    sync.Once
	now     func() time.Time
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemory creates the in-process tier. sweep controls how often expired
// entries are collected; <= 0 disables the janitor (entries still expire
// lazily on read).
func NewMemory(sweep time.Duration) *Memory {
	m := &Memory{
		entries: make(map[string]memEntry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	if sweep > 0 {
		go m.janitor(sweep)
	}
	return m
}

func (m *Memory) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			now := m.now()
			m.mu.Lock()
			for k, e := range m.entries {
				if now.After(e.expiresAt) {
					delete(m.entries, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Get returns the value if present and unexpired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || m.now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl. The stored slice is copied so callers
// may reuse their buffer.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.mu.Lock()
	m.entries[key] = memEntry{value: cp, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// Invalidate removes key.
func (m *Memory) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Close stops the janitor. Safe to call more than once.
func (m *Memory) Close() {
	m.once.Do(func() { close(m.stop) })
}
