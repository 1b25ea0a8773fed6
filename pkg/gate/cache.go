package gate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"conductor/pkg/logx"
)

// DefaultTTL is how long a cached verdict stays valid unless configured
// otherwise at construction.
const DefaultTTL = 24 * time.Hour

// Entry is one persisted gate verdict, stored as <cacheKey>.json in the
// cache directory. Entries are owned exclusively by the cache and are only
// ever replaced wholesale.
type Entry struct {
	CacheKey  string   `json:"cache_key"`
	Gate      string   `json:"gate"`
	Strategy  string   `json:"strategy"`
	Timestamp int64    `json:"timestamp"` // Epoch milliseconds at creation
	Files     []string `json:"files"`     // Original input paths, as supplied
	Result    *Result  `json:"result"`
}

// CacheOptions configures a Cache. The zero value means defaults.
type CacheOptions struct {
	TTL      time.Duration // Zero means DefaultTTL
	Disabled bool          // Disabled caches always miss and never write
}

// Cache is a persisted, content-addressed store of gate verdicts. Keys are
// derived from gate name plus file contents, so a hit means the gate already
// ran against byte-identical inputs. The cache is a pure optimization: every
// failure path degrades to a miss or a swallowed write, never an error that
// could stop a workflow. Concurrent writers are not coordinated; the last
// write wins.
type Cache struct {
	dir      string
	ttl      time.Duration
	disabled bool
	hits     atomic.Int64
	misses   atomic.Int64
	logger   *logx.Logger
	now      func() time.Time
}

// NewCache creates a gate verdict cache rooted at dir, creating the
// directory if needed.
func NewCache(dir string, opts *CacheOptions) (*Cache, error) {
	if opts == nil {
		opts = &CacheOptions{}
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}

	return &Cache{
		dir:      dir,
		ttl:      ttl,
		disabled: opts.Disabled,
		logger:   logx.NewLogger("gatecache"),
		now:      time.Now,
	}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Get looks up the verdict for (gateName, files, strategy). The second return
// is false on any miss: no entry, unreadable or corrupt entry, expired entry
// (which is deleted on the spot), or an entry stored under a different
// strategy. Only local file I/O is involved.
func (c *Cache) Get(gateName string, files []string, strategy string) (*Result, bool) {
	if c.disabled {
		return c.miss()
	}

	key := cacheKey(gateName, files)
	path := c.entryPath(key)

	data, err := os.ReadFile(path)
	if err != nil {
		return c.miss()
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		logx.Debug("gatecache", "Corrupt entry %s: %v", key, err)
		return c.miss()
	}

	if c.expired(&entry) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("Failed to remove expired entry %s: %v", key, err)
		}
		logx.Debug("gatecache", "Entry %s expired, removed", key)
		return c.miss()
	}

	// Same content coordinates, different purpose. Stored strategy must
	// match the requested one for the verdict to apply.
	if entry.Strategy != strategy {
		return c.miss()
	}

	c.hits.Add(1)
	return entry.Result, true
}

// Set stores a verdict for (gateName, files, strategy), overwriting any
// existing entry for the key unconditionally. Failed verdicts are stored
// too. Write failures are logged and swallowed.
func (c *Cache) Set(gateName string, files []string, result *Result, strategy string) {
	if c.disabled {
		return
	}

	key := cacheKey(gateName, files)
	entry := Entry{
		CacheKey:  key,
		Gate:      gateName,
		Strategy:  strategy,
		Timestamp: c.now().UnixMilli(),
		Files:     files,
		Result:    result,
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		c.logger.Warn("Failed to marshal entry %s: %v", key, err)
		return
	}

	if err := c.writeAtomic(key, data); err != nil {
		c.logger.Warn("Failed to write entry %s: %v", key, err)
	}
}

// writeAtomic replaces the entry file via temp-file-and-rename so concurrent
// writers to the same key can interleave without leaving partial entries.
func (c *Cache) writeAtomic(key string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp entry: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp entry: %w", err)
	}

	if err := os.Rename(tmpName, c.entryPath(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace entry: %w", err)
	}
	return nil
}

// Invalidate removes the entry for the exact (gateName, files) coordinates.
// The strategy is irrelevant here: keys are content-addressed, so removal is
// by content, not purpose.
func (c *Cache) Invalidate(gateName string, files []string) {
	if c.disabled {
		return
	}

	key := cacheKey(gateName, files)
	if err := os.Remove(c.entryPath(key)); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("Failed to invalidate entry %s: %v", key, err)
		return
	}
	logx.Debug("gatecache", "Invalidated entry %s", key)
}

// Clear removes every entry in the cache directory. Hit/miss counters are
// process-lifetime and deliberately survive a clear.
func (c *Cache) Clear() error {
	if c.disabled {
		return nil
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, dirEntry := range entries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), ".json") {
			continue
		}
		path := filepath.Join(c.dir, dirEntry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove entry %s: %w", dirEntry.Name(), err)
		}
	}

	c.logger.Info("Cache cleared: %s", c.dir)
	return nil
}

func (c *Cache) entryPath(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *Cache) expired(entry *Entry) bool {
	return c.now().UnixMilli() > entry.Timestamp+c.ttl.Milliseconds()
}

func (c *Cache) miss() (*Result, bool) {
	c.misses.Add(1)
	return nil, false
}
