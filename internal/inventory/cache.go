package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"keyredeem/internal/fileutil"
	"keyredeem/internal/keys"
)

const (
	// CacheFileName is the order cache file inside the cache directory.
	CacheFileName = "orders.json"
	// CacheVersion invalidates caches written with another layout.
	CacheVersion = 1
)

type cacheFile struct {
	Version   int             `json:"version"`
	FetchedAt time.Time       `json:"fetched_at"`
	Orders    []keys.RawOrder `json:"orders"`
}

// Cache is the on-disk order cache. A zero MaxAge disables reuse.
type Cache struct {
	Path   string
	MaxAge time.Duration
	Now    func() time.Time
}

// NewCache returns a cache stored in dir.
func NewCache(dir string, maxAge time.Duration) *Cache {
	path := ""
	if dir != "" {
		path = filepath.Join(dir, CacheFileName)
	}
	return &Cache{Path: path, MaxAge: maxAge, Now: time.Now}
}

func (c *Cache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Load returns cached orders when the file exists, matches CacheVersion and
// is younger than MaxAge. ok is false otherwise.
func (c *Cache) Load() (orders []keys.RawOrder, fetchedAt time.Time, ok bool, err error) {
	if c == nil || c.Path == "" || c.MaxAge <= 0 {
		return nil, time.Time{}, false, nil
	}
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, time.Time{}, false, nil
		}
		return nil, time.Time{}, false, fmt.Errorf("read order cache: %w", err)
	}
	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, time.Time{}, false, fmt.Errorf("decode order cache: %w", err)
	}
	if file.Version != CacheVersion {
		return nil, time.Time{}, false, nil
	}
	if c.now().Sub(file.FetchedAt) > c.MaxAge {
		return nil, file.FetchedAt, false, nil
	}
	return file.Orders, file.FetchedAt, true, nil
}

// Save writes orders atomically.
func (c *Cache) Save(orders []keys.RawOrder) error {
	if c == nil || c.Path == "" {
		return nil
	}
	data, err := json.Marshal(cacheFile{Version: CacheVersion, FetchedAt: c.now().UTC(), Orders: orders})
	if err != nil {
		return fmt.Errorf("encode order cache: %w", err)
	}
	if err := fileutil.WriteAtomic(c.Path, data, 0o600); err != nil {
		return fmt.Errorf("write order cache: %w", err)
	}
	return nil
}

// Clear removes the cache file.
func (c *Cache) Clear() error {
	if c == nil || c.Path == "" {
		return nil
	}
	if err := os.Remove(c.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove order cache: %w", err)
	}
	return nil
}
