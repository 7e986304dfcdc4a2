package blobcache

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crateload/crateload/internal/blob"
)

// Info reports cache freshness alongside a loaded Descriptor.
type Info struct {
	IsStale  bool
	CachedAt time.Time
}

// Cache wraps a blob.MetadataLoader with an in-memory TTL cache keyed by
// artifact path, so that repeated resolutions within one session never
// re-decompress the same bytes. An optional CacheManager enforces a size
// limit on a backing disk cache directory used for the rare case an
// artifact path itself isn't locally present and must be fetched from a
// remote blob store.
type Cache struct {
	inner   blob.MetadataLoader
	ttl     time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry

	cacheDir      string
	httpClient    *http.Client
	remoteBaseURL string
	maxStale      time.Duration
	staleFallback bool
	manager       *CacheManager
}

// New wraps inner with an in-memory TTL cache. ttl of 0 disables caching
// (every Load call passes straight through).
func New(inner blob.MetadataLoader, ttl time.Duration) *Cache {
	return &Cache{
		inner:         inner,
		ttl:           ttl,
		entries:       make(map[string]cacheEntry),
		maxStale:      7 * 24 * time.Hour,
		staleFallback: true,
	}
}

// WithRemote configures a disk-backed remote fallback: when the inner
// loader fails for a requested artifact path, Cache fetches
// baseURL+"/"+stem+".blob" instead (stem being the path's base name without
// its extension), using client, and persists the result under cacheDir for
// subsequent runs.
func (c *Cache) WithRemote(client *http.Client, baseURL, cacheDir string) *Cache {
	c.httpClient = client
	c.remoteBaseURL = baseURL
	c.cacheDir = cacheDir
	return c
}

// SetCacheManager configures size-based disk cache eviction.
func (c *Cache) SetCacheManager(m *CacheManager) { c.manager = m }

// SetMaxStale configures the maximum staleness tolerated by stale-if-error
// fallback when the remote source is unreachable. 0 disables fallback.
func (c *Cache) SetMaxStale(d time.Duration) { c.maxStale = d }

// SetStaleFallback enables or disables stale-if-error fallback.
func (c *Cache) SetStaleFallback(enabled bool) { c.staleFallback = enabled }

// Load implements blob.MetadataLoader. It checks the in-memory TTL cache
// first, then falls through to inner (which, for local artifacts, is a
// cheap disk read); when inner fails and a remote source is configured, it
// attempts to fetch the blob remotely instead, per §4's "multi-source
// locator" allowance for a remote registry source.
func (c *Cache) Load(ctx context.Context, path string) (*blob.Descriptor, error) {
	if c.ttl > 0 {
		if desc, fresh := c.get(path); fresh {
			return desc, nil
		}
	}

	desc, err := c.inner.Load(ctx, path)
	if err == nil {
		c.put(path, desc)
		return desc, nil
	}

	if c.httpClient == nil {
		return nil, err
	}
	return c.loadRemote(ctx, path, err)
}

func (c *Cache) get(path string) (*blob.Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[path]
	if !ok {
		return nil, false
	}
	if time.Since(entry.cachedAt) > c.ttl {
		return nil, false
	}
	return entry.desc, true
}

func (c *Cache) put(path string, desc *blob.Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = cacheEntry{desc: desc, cachedAt: time.Now()}
}

func (c *Cache) loadRemote(ctx context.Context, path string, localErr error) (*blob.Descriptor, error) {
	name := stemOf(path)
	cachedPath := blobPath(c.cacheDir, name)

	if _, err := os.ReadFile(cachedPath); err == nil {
		meta, _ := readSidecar(c.cacheDir, name)
		if meta != nil && time.Since(meta.CachedAt) < c.ttl {
			return c.inner.Load(ctx, cachedPath)
		}
	}

	url := fmt.Sprintf("%s/%s.blob", c.remoteBaseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, WrapNetworkError(err, name, "failed to build remote request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.handleStaleFallback(ctx, name, cachedPath, localErr, WrapNetworkError(err, name, "remote fetch failed"))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &Error{Type: ErrTypeNotFound, Crate: name, Message: "blob not found in remote source"}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &Error{Type: ErrTypeRateLimit, Crate: name, Message: "remote blob source rate limit exceeded"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Type: ErrTypeNetwork, Crate: name, Message: fmt.Sprintf("remote blob source returned status %d", resp.StatusCode)}
	}

	if err := os.MkdirAll(filepath.Dir(cachedPath), 0755); err != nil {
		return nil, &Error{Type: ErrTypeCacheWrite, Crate: name, Message: "failed to create cache directory", Err: err}
	}
	out, err := os.Create(cachedPath)
	if err != nil {
		return nil, &Error{Type: ErrTypeCacheWrite, Crate: name, Message: "failed to write cached blob", Err: err}
	}
	written, copyErr := copyAll(out, resp.Body)
	out.Close()
	if copyErr != nil {
		return nil, &Error{Type: ErrTypeCacheWrite, Crate: name, Message: "failed to write cached blob", Err: copyErr}
	}

	_ = writeSidecar(c.cacheDir, name, newSidecar(make([]byte, written), c.ttl))
	if c.manager != nil {
		_, _ = c.manager.EnforceLimit()
	}

	return c.inner.Load(ctx, cachedPath)
}

func (c *Cache) handleStaleFallback(ctx context.Context, name, cachedPath string, localErr, fetchErr error) (*blob.Descriptor, error) {
	if !c.staleFallback || c.maxStale == 0 {
		return nil, fetchErr
	}
	meta, _ := readSidecar(c.cacheDir, name)
	if meta == nil {
		return nil, fetchErr
	}
	if time.Since(meta.CachedAt) >= c.maxStale {
		return nil, &Error{Type: ErrTypeCacheTooStale, Crate: name, Message: "cache exceeded max staleness and remote source is unreachable"}
	}
	return c.inner.Load(ctx, cachedPath)
}
