package gate

import (
	"os"
	"path/filepath"
	"strings"
)

// Stats reports cache effectiveness for one Cache instance. Hit and miss
// counters live in memory for the life of the process; size and file count
// reflect the directory at call time.
type Stats struct {
	Size      int64   `json:"size"`       // Total bytes of entry files on disk
	FileCount int     `json:"file_count"` // Number of entries on disk
	HitCount  int64   `json:"hit_count"`
	MissCount int64   `json:"miss_count"`
	HitRate   float64 `json:"hit_rate"`
	Dir       string  `json:"dir"`
}

// Stats returns current cache counters and on-disk footprint. All counters
// are read atomically and safe for concurrent access.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	stats := Stats{
		HitCount:  hits,
		MissCount: misses,
		HitRate:   hitRate,
		Dir:       c.dir,
	}

	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Warn("Failed to read cache directory for stats: %v", err)
		return stats
	}

	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), ".json") {
			continue
		}
		stats.FileCount++
		if info, err := os.Stat(filepath.Join(c.dir, dirEntry.Name())); err == nil {
			stats.Size += info.Size()
		}
	}

	return stats
}
