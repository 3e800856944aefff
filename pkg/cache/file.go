package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// File is the durable tier: a JSON file rewritten atomically on every write.
// Intended for modest volumes (extraction results, seed material) that should
// survive restarts.
type File struct {
	path string
	mu   sync.Mutex
	data map[string]fileEntry
	now  func() time.Time
}

type fileEntry struct {
	ExpiresAt time.Time `json:"expires_at"`
	Value     []byte    `json:"value"`
}

// NewFile opens (or creates) the file store at path.
func NewFile(path string) (*File, error) {
	f := &File{
		path: filepath.Clean(path),
		data: map[string]fileEntry{},
		now:  time.Now,
	}

	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, err
	}
	if len(b) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(b, &f.data); err != nil {
		// A corrupt cache file is not worth failing startup over.
		f.data = map[string]fileEntry{}
	}
	return f, nil
}

// Get returns the value if present and unexpired.
func (f *File) Get(_ context.Context, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.data[key]
	if !ok || f.now().After(e.ExpiresAt) {
		return nil, false
	}
	return e.Value, true
}

// Set stores value under key for ttl and persists the store.
func (f *File) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = fileEntry{ExpiresAt: f.now().Add(ttl), Value: value}
	return f.persist()
}

// Invalidate removes key and persists the store.
func (f *File) Invalidate(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; !ok {
		return nil
	}
	delete(f.data, key)
	return f.persist()
}

// persist writes the map via a temp file and rename. Must hold mu.
func (f *File) persist() error {
	now := f.now()
	for k, e := range f.data {
		if now.After(e.ExpiresAt) {
			delete(f.data, k)
		}
	}

	b, err := json.Marshal(f.data)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
