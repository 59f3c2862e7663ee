package coach

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Cache keeps coach results as one JSON file per content hash. It is safe
// for concurrent use.
type Cache struct {
	mu  sync.Mutex
	dir string
}

// NewCache returns a cache rooted at dir, creating it if needed.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("coach: create cache dir %q: %w", dir, err)
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Load returns the cached result for key. A missing or unreadable entry is
// a miss.
func (c *Cache) Load(key string) (*Result, bool) {
	c.mu.Lock()
	data, err := os.ReadFile(c.path(key))
	c.mu.Unlock()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("coach: cache read failed", "key", key, "err", err)
		}
		return nil, false
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		slog.Warn("coach: dropping corrupt cache entry", "key", key, "err", err)
		return nil, false
	}
	return &r, true
}

// Store writes r under key. The file is replaced atomically so readers never
// see a partial entry.
func (c *Cache) Store(key string, r *Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("coach: marshal cache entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("coach: write cache entry: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("coach: write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("coach: write cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("coach: write cache entry: %w", err)
	}
	return nil
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}
