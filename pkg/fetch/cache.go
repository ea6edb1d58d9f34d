package fetch

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/xxh3"
)

const cacheSuffix = ".cache"

// Cache is a content-addressed on-disk cache keyed by source URL. Entries are
// plain files named by a stable hash of the URL; the file mtime is the
// freshness signal. Corruption (zero-byte or unreadable entries) is always
// demoted to a miss.
type Cache struct {
	dir string
	ttl time.Duration
	log *slog.Logger
}

// CacheInfo summarises the on-disk cache state.
type CacheInfo struct {
	Dir         string
	TotalFiles  int
	TotalSizeMB float64
	Oldest      time.Time
	Newest      time.Time
	TTL         time.Duration
}

// NewCache creates the cache directory if missing. A zero ttl defaults to 24h.
func NewCache(dir string, ttl time.Duration, log *slog.Logger) (*Cache, error) {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{dir: dir, ttl: ttl, log: log}, nil
}

func (c *Cache) entryPath(url string) string {
	key := fmt.Sprintf("%016x", xxh3.HashString(url))
	return filepath.Join(c.dir, key+cacheSuffix)
}

// Get returns the path of a valid cache entry for url. An entry is valid when
// it exists, is non-empty, and its mtime is younger than the TTL.
func (c *Cache) Get(url string) (string, bool) {
	path := c.entryPath(url)
	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	if info.Size() == 0 {
		return "", false
	}
	if time.Since(info.ModTime()) >= c.ttl {
		return "", false
	}
	return path, true
}

// Put copies the fetched payload at srcPath into the cache. The write goes to
// a temporary file first and is renamed into place so a concurrent Get never
// observes a half-written entry.
func (c *Cache) Put(url string, srcPath string) error {
	src, err := os.Open(srcPath) // #nosec G304 -- path produced by the fetcher.
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			c.log.Warn("failed to close cache source", "error", err)
		}
	}()

	final := c.entryPath(url)
	tmp, err := os.CreateTemp(c.dir, "put-*")
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("finalize cache entry: %w", err)
	}
	return nil
}

// CopyTo copies a cache entry to dest, creating parent directories.
func (c *Cache) CopyTo(entryPath, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return 0, fmt.Errorf("create dest dir: %w", err)
	}
	src, err := os.Open(entryPath) // #nosec G304 -- entry path is cache-owned.
	if err != nil {
		return 0, fmt.Errorf("open cache entry: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			c.log.Warn("failed to close cache entry", "error", err)
		}
	}()

	out, err := os.Create(dest) // #nosec G304 -- dest chosen by the caller.
	if err != nil {
		return 0, fmt.Errorf("create dest: %w", err)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("copy cache entry: %w", err)
	}
	return n, nil
}

// Clear removes cache entries older than the given age, or every entry when
// olderThan is nil. It returns the number of removed files.
func (c *Cache) Clear(olderThan *time.Duration) int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}

	var cutoff time.Time
	if olderThan != nil {
		cutoff = time.Now().Add(-*olderThan)
	}

	cleared := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != cacheSuffix {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if olderThan != nil {
			info, err := entry.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
		}
		if err := os.Remove(path); err != nil {
			continue
		}
		cleared++
	}
	return cleared
}

// Info reports the current cache contents.
func (c *Cache) Info() CacheInfo {
	info := CacheInfo{Dir: c.dir, TTL: c.ttl}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return info
	}

	var totalBytes int64
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != cacheSuffix {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		info.TotalFiles++
		totalBytes += fi.Size()
		mtime := fi.ModTime()
		if info.Oldest.IsZero() || mtime.Before(info.Oldest) {
			info.Oldest = mtime
		}
		if mtime.After(info.Newest) {
			info.Newest = mtime
		}
	}
	info.TotalSizeMB = float64(totalBytes) / (1024 * 1024)
	return info
}
