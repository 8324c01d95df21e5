// Package apicache is a disk-backed TTL cache for provider responses.
// Entries live as one JSON document per key under a single directory.
// Every failure mode (missing file, bad JSON, expired entry) reads as a
// miss, and writes are best effort.
package apicache

import (
	"context"
	"crypto/md5" //nolint:gosec // content addressing, not security
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sydlexius/tunevault/internal/filesystem"
)

// DefaultTTL is the lifetime of an entry unless overridden.
const DefaultTTL = 7 * 24 * time.Hour

type entry struct {
	Key       string          `json:"key"`
	Timestamp float64         `json:"timestamp"`
	Value     json.RawMessage `json:"value"`
}

// Cache stores JSON values keyed by namespaced strings.
type Cache struct {
	dir    string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// New creates a cache rooted at dir. A non-positive ttl selects DefaultTTL.
func New(dir string, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		dir:    dir,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With(slog.String("component", "apicache")),
	}
}

// Key builds the cache key "namespace:function:arg1:arg2". Arguments are
// formatted with %v so callers can pass the full argument tuple.
func Key(namespace, function string, args ...any) string {
	parts := make([]string, 0, len(args)+2)
	parts = append(parts, namespace, function)
	for _, a := range args {
		parts = append(parts, fmt.Sprintf("%v", a))
	}
	return strings.Join(parts, ":")
}

func (c *Cache) path(key string) string {
	sum := md5.Sum([]byte(key)) //nolint:gosec
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".json")
}

// Get decodes the cached value for key into dst. It returns false on any
// miss, including expiry and decode errors.
func (c *Cache) Get(key string, dst any) bool {
	if c == nil {
		return false
	}
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Debug("discarding corrupt cache entry", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	if e.Key != key {
		return false
	}
	stored := time.Unix(0, int64(e.Timestamp*float64(time.Second)))
	if c.now().Sub(stored) > c.ttl {
		return false
	}
	if err := json.Unmarshal(e.Value, dst); err != nil {
		return false
	}
	return true
}

// Set stores value under key. Errors are logged and swallowed.
func (c *Cache) Set(key string, value any) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("encoding cache value", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	now := c.now()
	data, err := json.Marshal(entry{
		Key:       key,
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
		Value:     raw,
	})
	if err != nil {
		return
	}
	if err := os.MkdirAll(c.dir, 0o750); err != nil {
		c.logger.Warn("creating cache directory", slog.String("dir", c.dir), slog.String("error", err.Error()))
		return
	}
	if err := filesystem.WriteFileAtomic(c.path(key), data, 0o640); err != nil {
		c.logger.Warn("writing cache entry", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Delete removes the entry for key if present.
func (c *Cache) Delete(key string) {
	if c == nil {
		return
	}
	_ = os.Remove(c.path(key))
}

// Purge deletes every expired entry and returns how many were removed.
func (c *Cache) Purge(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading cache directory: %w", err)
	}
	removed := 0
	for _, de := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
			continue
		}
		p := filepath.Join(c.dir, de.Name())
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var e entry
		expired := json.Unmarshal(data, &e) != nil
		if !expired {
			stored := time.Unix(0, int64(e.Timestamp*float64(time.Second)))
			expired = c.now().Sub(stored) > c.ttl
		}
		if expired && os.Remove(p) == nil {
			removed++
		}
	}
	return removed, nil
}

// Memoize returns the cached value for key, or calls fn and caches its
// result. Results that empty reports as empty are returned but never
// stored, so a transient upstream miss is retried next time.
func Memoize[T any](ctx context.Context, c *Cache, key string, empty func(T) bool, fn func(context.Context) (T, error)) (T, error) {
	var cached T
	if c.Get(key, &cached) {
		return cached, nil
	}
	v, err := fn(ctx)
	if err != nil {
		return v, err
	}
	if empty == nil || !empty(v) {
		c.Set(key, v)
	}
	return v, nil
}
