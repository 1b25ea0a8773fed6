package gate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestFiles creates named files with contents under dir and returns
// their paths in the given order.
func writeTestFiles(t *testing.T, dir string, files map[string]string, order ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(order))
	for _, name := range order {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(files[name]), 0644))
		paths = append(paths, path)
	}
	return paths
}

func newTestCache(t *testing.T, opts *CacheOptions) *Cache {
	t.Helper()
	cache, err := NewCache(filepath.Join(t.TempDir(), "gates"), opts)
	require.NoError(t, err)
	return cache
}

func TestCacheSetThenGet(t *testing.T) {
	cache := newTestCache(t, nil)
	srcDir := t.TempDir()
	files := writeTestFiles(t, srcDir, map[string]string{
		"a.go": "package a",
		"b.go": "package b",
	}, "a.go", "b.go")

	result := &Result{Passed: true, Diagnostics: "clean"}
	cache.Set("lint", files, result, DefaultStrategy)

	got, ok := cache.Get("lint", files, DefaultStrategy)
	require.True(t, ok, "expected a hit for the key just stored")
	assert.True(t, got.Passed)
	assert.Equal(t, "clean", got.Diagnostics)
}

func TestCacheNegativeCaching(t *testing.T) {
	cache := newTestCache(t, nil)
	srcDir := t.TempDir()
	files := writeTestFiles(t, srcDir, map[string]string{"a.go": "package a"}, "a.go")

	cache.Set("compile", files, &Result{Passed: false, Diagnostics: "syntax error"}, DefaultStrategy)

	got, ok := cache.Get("compile", files, DefaultStrategy)
	require.True(t, ok, "failed verdicts must be cached too")
	assert.False(t, got.Passed)
	assert.Equal(t, "syntax error", got.Diagnostics)
}

func TestCacheStrategyMismatchIsMiss(t *testing.T) {
	cache := newTestCache(t, nil)
	srcDir := t.TempDir()
	files := writeTestFiles(t, srcDir, map[string]string{"a.go": "package a"}, "a.go")

	cache.Set("lint", files, &Result{Passed: true}, "strict")

	_, ok := cache.Get("lint", files, DefaultStrategy)
	assert.False(t, ok, "strategy mismatch must be a miss even though the key matches")

	_, ok = cache.Get("lint", files, "strict")
	assert.True(t, ok, "matching strategy must hit")
}

func TestCacheKeyOrderIndependent(t *testing.T) {
	cache := newTestCache(t, nil)
	srcDir := t.TempDir()
	files := writeTestFiles(t, srcDir, map[string]string{
		"a.go": "package a",
		"b.go": "package b",
		"c.go": "package c",
	}, "a.go", "b.go", "c.go")

	cache.Set("test", files, &Result{Passed: true}, DefaultStrategy)

	reordered := []string{files[2], files[0], files[1]}
	_, ok := cache.Get("test", reordered, DefaultStrategy)
	assert.True(t, ok, "file ordering must not change the derived key")
}

func TestCacheKeySensitiveToContent(t *testing.T) {
	cache := newTestCache(t, nil)
	srcDir := t.TempDir()
	files := writeTestFiles(t, srcDir, map[string]string{"a.go": "package a"}, "a.go")

	cache.Set("lint", files, &Result{Passed: true}, DefaultStrategy)

	require.NoError(t, os.WriteFile(files[0], []byte("package a // changed"), 0644))

	_, ok := cache.Get("lint", files, DefaultStrategy)
	assert.False(t, ok, "content change must produce a different key")
}

func TestCacheMissingFilesSilentlyDropped(t *testing.T) {
	cache := newTestCache(t, nil)
	srcDir := t.TempDir()
	files := writeTestFiles(t, srcDir, map[string]string{"a.go": "package a"}, "a.go")

	withMissing := append([]string{filepath.Join(srcDir, "nonexistent.go")}, files...)
	cache.Set("lint", withMissing, &Result{Passed: true}, DefaultStrategy)

	_, ok := cache.Get("lint", files, DefaultStrategy)
	assert.True(t, ok, "a missing file must not contribute to the key")
}

func TestCacheEmptyFileSetUsesSentinel(t *testing.T) {
	cache := newTestCache(t, nil)
	srcDir := t.TempDir()

	cache.Set("lint", nil, &Result{Passed: true}, DefaultStrategy)

	// An all-missing list collapses to the same sentinel key as an empty one.
	allMissing := []string{filepath.Join(srcDir, "gone.go")}
	got, ok := cache.Get("lint", allMissing, DefaultStrategy)
	require.True(t, ok)
	assert.True(t, got.Passed)
}

func TestCacheTTLExpiryDeletesEntry(t *testing.T) {
	cache := newTestCache(t, &CacheOptions{TTL: time.Hour})
	srcDir := t.TempDir()
	files := writeTestFiles(t, srcDir, map[string]string{"a.go": "package a"}, "a.go")

	base := time.Now()
	cache.now = func() time.Time { return base }
	cache.Set("lint", files, &Result{Passed: true}, DefaultStrategy)

	key := cacheKey("lint", files)
	entryFile := filepath.Join(cache.Dir(), key+".json")
	_, err := os.Stat(entryFile)
	require.NoError(t, err, "entry file should exist after Set")

	// Jump past the TTL; the next Get must report a miss and remove the file.
	cache.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, ok := cache.Get("lint", files, DefaultStrategy)
	assert.False(t, ok, "expired entry must be a miss")

	_, err = os.Stat(entryFile)
	assert.True(t, os.IsNotExist(err), "expired entry must be deleted on observation")
}

func TestCacheWithinTTLStillHits(t *testing.T) {
	cache := newTestCache(t, &CacheOptions{TTL: time.Hour})
	srcDir := t.TempDir()
	files := writeTestFiles(t, srcDir, map[string]string{"a.go": "package a"}, "a.go")

	base := time.Now()
	cache.now = func() time.Time { return base }
	cache.Set("lint", files, &Result{Passed: true}, DefaultStrategy)

	cache.now = func() time.Time { return base.Add(59 * time.Minute) }
	_, ok := cache.Get("lint", files, DefaultStrategy)
	assert.True(t, ok)
}

func TestCacheCorruptEntryIsMiss(t *testing.T) {
	cache := newTestCache(t, nil)
	srcDir := t.TempDir()
	files := writeTestFiles(t, srcDir, map[string]string{"a.go": "package a"}, "a.go")

	key := cacheKey("lint", files)
	require.NoError(t, os.WriteFile(filepath.Join(cache.Dir(), key+".json"), []byte("{not json"), 0644))

	_, ok := cache.Get("lint", files, DefaultStrategy)
	assert.False(t, ok, "corrupt entry must degrade to a miss")
	assert.Equal(t, int64(1), cache.Stats().MissCount)
}

func TestCacheClear(t *testing.T) {
	cache := newTestCache(t, nil)
	srcDir := t.TempDir()
	files := writeTestFiles(t, srcDir, map[string]string{"a.go": "package a"}, "a.go")

	cache.Set("lint", files, &Result{Passed: true}, DefaultStrategy)
	cache.Set("compile", files, &Result{Passed: true}, DefaultStrategy)
	require.Equal(t, 2, cache.Stats().FileCount)

	require.NoError(t, cache.Clear())

	_, ok := cache.Get("lint", files, DefaultStrategy)
	assert.False(t, ok, "cleared key must miss")
	assert.Equal(t, 0, cache.Stats().FileCount)
}

func TestCacheInvalidateIgnoresStrategy(t *testing.T) {
	cache := newTestCache(t, nil)
	srcDir := t.TempDir()
	files := writeTestFiles(t, srcDir, map[string]string{"a.go": "package a"}, "a.go")

	cache.Set("lint", files, &Result{Passed: true}, "strict")
	cache.Invalidate("lint", files)

	_, ok := cache.Get("lint", files, "strict")
	assert.False(t, ok, "invalidation is by content coordinates, not strategy")
}

func TestCacheDisabled(t *testing.T) {
	cache := newTestCache(t, &CacheOptions{Disabled: true})
	srcDir := t.TempDir()
	files := writeTestFiles(t, srcDir, map[string]string{"a.go": "package a"}, "a.go")

	cache.Set("lint", files, &Result{Passed: true}, DefaultStrategy)

	_, ok := cache.Get("lint", files, DefaultStrategy)
	assert.False(t, ok, "disabled cache must always miss")

	entries, err := os.ReadDir(cache.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "disabled cache must not write entries")

	require.NoError(t, cache.Clear())
	cache.Invalidate("lint", files)
}

func TestCacheWriteFailureSwallowed(t *testing.T) {
	cache := newTestCache(t, nil)
	srcDir := t.TempDir()
	files := writeTestFiles(t, srcDir, map[string]string{"a.go": "package a"}, "a.go")

	// Remove the cache directory out from under the cache. Set must log and
	// carry on rather than fail the caller.
	require.NoError(t, os.RemoveAll(cache.Dir()))
	cache.Set("lint", files, &Result{Passed: true}, DefaultStrategy)

	_, ok := cache.Get("lint", files, DefaultStrategy)
	assert.False(t, ok)
}

func TestCacheLastWriteWins(t *testing.T) {
	cache := newTestCache(t, nil)
	srcDir := t.TempDir()
	files := writeTestFiles(t, srcDir, map[string]string{"a.go": "package a"}, "a.go")

	cache.Set("lint", files, &Result{Passed: false, Diagnostics: "first"}, DefaultStrategy)
	cache.Set("lint", files, &Result{Passed: true, Diagnostics: "second"}, DefaultStrategy)

	got, ok := cache.Get("lint", files, DefaultStrategy)
	require.True(t, ok)
	assert.True(t, got.Passed)
	assert.Equal(t, "second", got.Diagnostics)
}

func TestCacheStats(t *testing.T) {
	cache := newTestCache(t, nil)
	srcDir := t.TempDir()
	files := writeTestFiles(t, srcDir, map[string]string{"a.go": "package a"}, "a.go")

	// One miss, then a set, then two hits.
	_, ok := cache.Get("lint", files, DefaultStrategy)
	require.False(t, ok)
	cache.Set("lint", files, &Result{Passed: true}, DefaultStrategy)
	_, _ = cache.Get("lint", files, DefaultStrategy)
	_, _ = cache.Get("lint", files, DefaultStrategy)

	stats := cache.Stats()
	assert.Equal(t, int64(2), stats.HitCount)
	assert.Equal(t, int64(1), stats.MissCount)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
	assert.Equal(t, 1, stats.FileCount)
	assert.Greater(t, stats.Size, int64(0))
	assert.Equal(t, cache.Dir(), stats.Dir)
}

func TestCacheCountersSurviveClear(t *testing.T) {
	cache := newTestCache(t, nil)
	srcDir := t.TempDir()
	files := writeTestFiles(t, srcDir, map[string]string{"a.go": "package a"}, "a.go")

	cache.Set("lint", files, &Result{Passed: true}, DefaultStrategy)
	_, _ = cache.Get("lint", files, DefaultStrategy)
	require.NoError(t, cache.Clear())

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.HitCount, "counters are process-lifetime, not tied to entries")
}
