// Package archive implements the third fetch tier: Wayback Machine snapshots
// behind a TTL-bounded on-disk cache.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/digest-fetcher/internal/clock/system"
	"github.com/JakeFAU/digest-fetcher/internal/fetch"
	"github.com/JakeFAU/digest-fetcher/internal/hash/sha256"
	"github.com/JakeFAU/digest-fetcher/internal/metrics"
)

// DefaultTTL is how long a cached snapshot is served.
const DefaultTTL = 24 * time.Hour

// Entry is one cached archive result.
type Entry struct {
	URL        string    `json:"url"`
	ArchiveURL string    `json:"archive_url"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	CachedAt   time.Time `json:"cached_at"`
}

// Cache stores one JSON file per URL, named by the SHA-256 of the URL.
type Cache struct {
	fs     afero.Fs
	dir    string
	ttl    time.Duration
	clock  fetch.Clock
	hasher *sha256.Hasher
	logger *zap.Logger
}

// CacheOption customizes a Cache.
type CacheOption func(*Cache)

// WithClock overrides the clock used for TTL checks.
func WithClock(clock fetch.Clock) CacheOption {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the cache logger.
func WithLogger(logger *zap.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCache creates the cache directory if needed.
func NewCache(fs afero.Fs, dir string, ttl time.Duration, opts ...CacheOption) (*Cache, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if dir == "" {
		return nil, errors.New("archive cache dir is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		fs:     fs,
		dir:    dir,
		ttl:    ttl,
		clock:  system.New(),
		hasher: sha256.New(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return c, nil
}

// Path returns the file that holds url's entry.
func (c *Cache) Path(url string) string {
	return filepath.Join(c.dir, c.hasher.Key(url)+".json")
}

// Get returns a fresh entry for url. Expired and unreadable entries are
// removed and reported as misses.
func (c *Cache) Get(url string) (Entry, bool) {
	path := c.Path(url)
	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("read cache entry", zap.String("path", path), zap.Error(err))
		}
		metrics.ObserveArchiveCache("miss")
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("evicting corrupt cache entry",
			zap.String("url", url),
			zap.Error(fmt.Errorf("%w: %w", fetch.ErrCacheCorruption, err)),
		)
		c.remove(path)
		metrics.ObserveArchiveCache("corrupt")
		return Entry{}, false
	}
	if c.expired(entry) {
		c.remove(path)
		metrics.ObserveArchiveCache("expired")
		return Entry{}, false
	}
	metrics.ObserveArchiveCache("hit")
	return entry, true
}

// Put writes entry atomically: a temp file in the cache dir is renamed over
// the final path, so concurrent writers leave one complete entry.
func (c *Cache) Put(entry Entry) error {
	if entry.CachedAt.IsZero() {
		entry.CachedAt = c.clock.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	tmp, err := afero.TempFile(c.fs, c.dir, "entry-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = c.fs.Remove(tmpName)
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = c.fs.Remove(tmpName)
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := c.fs.Rename(tmpName, c.Path(entry.URL)); err != nil {
		_ = c.fs.Remove(tmpName)
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// Prune deletes every expired or unreadable entry and returns how many were removed.
func (c *Cache) Prune() (int, error) {
	infos, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		return 0, fmt.Errorf("list cache dir: %w", err)
	}
	removed := 0
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".json") {
			continue
		}
		path := filepath.Join(c.dir, info.Name())
		data, err := afero.ReadFile(c.fs, path)
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err == nil && !c.expired(entry) {
			continue
		}
		if c.remove(path) {
			removed++
		}
	}
	c.logger.Info("archive cache pruned", zap.String("dir", c.dir), zap.Int("removed", removed))
	return removed, nil
}

func (c *Cache) expired(entry Entry) bool {
	return c.clock.Now().Sub(entry.CachedAt) > c.ttl
}

func (c *Cache) remove(path string) bool {
	if err := c.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("remove cache entry", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}
