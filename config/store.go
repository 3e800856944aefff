package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Store holds the active Config and swaps it atomically on reload. Requests
// snapshot the config once at the start of an invocation; a reload only
// affects later requests.
type Store struct {
	mu     sync.RWMutex
	cfg    *Config
	path   string
	logger *slog.Logger
}

// NewStore creates a Store seeded with defaults.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{cfg: Default(), logger: logger}
}

// Load reads the file at path and installs it as the active config.
func (s *Store) Load(path string) error {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.path = path
	s.mu.Unlock()
	s.logger.Info("config loaded", "path", path, "version", cfg.Version, "topics", len(cfg.Topics))
	return nil
}

// Install validates cfg and makes it the active config. It serves callers
// that build a config in code rather than from a file.
func (s *Store) Install(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// Current returns the active config snapshot.
func (s *Store) Current() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Watch reloads the config whenever the file changes, until ctx is done.
// A file that fails to parse or validate is logged and skipped; the previous
// config stays active.
func (s *Store) Watch(ctx context.Context) error {
	s.mu.RLock()
	path := s.path
	s.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("config: watch called before Load")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watcher: %w", err)
	}

	// Watch the directory: editors often replace the file via rename,
	// which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if err := s.Load(path); err != nil {
					s.logger.Warn("config reload rejected, keeping previous", "path", path, "err", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("config watcher error", "err", err)
			}
		}
	}()
	return nil
}
