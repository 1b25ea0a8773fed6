package gate

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ComputeFileHash computes the XXHash of a file's content.
func ComputeFileHash(path string) (uint64, error) {
	f, err := os.Open(path) //nolint:gosec // Path is controlled by caller
	if err != nil {
		return 0, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // Best effort close in defer

	hasher := xxhash.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return 0, fmt.Errorf("failed to hash file content %s: %w", path, err)
	}

	return hasher.Sum64(), nil
}

// contentKey derives the content coordinate of a cache key. Each readable
// file is hashed independently, the per-file hashes are sorted, and the
// sorted list is hashed again, so the result is order-independent over the
// input list and sensitive to any content change. Missing or unreadable
// files contribute nothing; an empty or all-missing list collapses to the
// fixed hash of zero inputs. Paths are deliberately not part of the key.
func contentKey(files []string) string {
	hashes := make([]string, 0, len(files))
	for _, path := range files {
		h, err := ComputeFileHash(path)
		if err != nil {
			continue
		}
		hashes = append(hashes, fmt.Sprintf("%016x", h))
	}
	sort.Strings(hashes)

	combined := xxhash.New()
	for _, h := range hashes {
		_, _ = combined.WriteString(h)
		_, _ = combined.Write([]byte{0}) // Separator
	}
	return fmt.Sprintf("%016x", combined.Sum64())
}

// cacheKey joins the sanitized gate name with the content coordinate. The
// strategy is deliberately excluded; it is compared after lookup instead.
func cacheKey(gateName string, files []string) string {
	return sanitizeGateName(gateName) + "-" + contentKey(files)
}

// sanitizeGateName makes a gate name safe for use in a file name.
func sanitizeGateName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
