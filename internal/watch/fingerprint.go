package watch

import (
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// FingerprintCache remembers the content hash of files whose path, size,
// modification time and (where the platform reports them) inode and change
// time have not changed, so a re-scan of a large directory does not re-read
// every picture. A nil cache never hits.
//
// Tools that preserve mtime (cp -p, rsync -t) still bump the change time, so
// a same-size replacement misses the cache. Platforms without a change time
// fall back to path, size and mtime only.
type FingerprintCache struct {
	cache *lru.Cache[uint64, string]
}

// NewFingerprintCache creates a cache holding up to size entries.
func NewFingerprintCache(size int) (*FingerprintCache, error) {
	c, err := lru.New[uint64, string](size)
	if err != nil {
		return nil, err
	}
	return &FingerprintCache{cache: c}, nil
}

func fingerprint(path string, info os.FileInfo) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(path)
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(strconv.FormatInt(info.Size(), 10))
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(strconv.FormatInt(info.ModTime().UnixNano(), 10))
	if ino, ctime, ok := changeStamp(info); ok {
		_, _ = d.WriteString("|")
		_, _ = d.WriteString(strconv.FormatUint(ino, 10))
		_, _ = d.WriteString("|")
		_, _ = d.WriteString(strconv.FormatInt(ctime, 10))
	}
	return d.Sum64()
}

// Get returns the cached hash for a file state.
func (c *FingerprintCache) Get(path string, info os.FileInfo) (string, bool) {
	if c == nil {
		return "", false
	}
	return c.cache.Get(fingerprint(path, info))
}

// Add records hash for a file state.
func (c *FingerprintCache) Add(path string, info os.FileInfo, hash string) {
	if c == nil {
		return
	}
	c.cache.Add(fingerprint(path, info), hash)
}

// Len returns the number of cached entries.
func (c *FingerprintCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
