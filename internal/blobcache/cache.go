// Package blobcache wraps a blob.MetadataLoader with a TTL-based cache so
// that resolving the same crate more than once in a process doesn't re-read
// and re-decompress the same metadata blob, and so that an optional remote
// source can serve blobs the local loader cannot, with stale-if-error
// fallback. Blobs fetched from the remote source are kept in a cache
// directory shared across CLI invocations; they are decoded again on each
// invocation.
package blobcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/crateload/crateload/internal/blob"
)

// sidecarMeta stores bookkeeping about a disk-cached blob, written
// alongside the cached bytes (e.g. "foo.blob" + "foo.meta.json").
type sidecarMeta struct {
	CachedAt    time.Time `json:"cached_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	LastAccess  time.Time `json:"last_access"`
	Size        int64     `json:"size"`
	ContentHash string    `json:"content_hash"`
}

func metaPath(cacheDir, name string) string {
	return filepath.Join(cacheDir, firstLetter(name), name+".meta.json")
}

func blobPath(cacheDir, name string) string {
	return filepath.Join(cacheDir, firstLetter(name), name+".blob")
}

func firstLetter(name string) string {
	if name == "" {
		return "_"
	}
	return string(name[0])
}

func writeSidecar(cacheDir, name string, m *sidecarMeta) error {
	path := metaPath(cacheDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &Error{Type: ErrTypeCacheWrite, Crate: name, Message: "failed to create cache directory", Err: err}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return &Error{Type: ErrTypeCacheWrite, Crate: name, Message: "failed to marshal cache metadata", Err: err}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &Error{Type: ErrTypeCacheWrite, Crate: name, Message: "failed to write cache metadata", Err: err}
	}
	return nil
}

func readSidecar(cacheDir, name string) (*sidecarMeta, error) {
	data, err := os.ReadFile(metaPath(cacheDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &Error{Type: ErrTypeCacheRead, Crate: name, Message: "failed to read cache metadata", Err: err}
	}
	var m sidecarMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &Error{Type: ErrTypeCacheRead, Crate: name, Message: "failed to parse cache metadata", Err: err}
	}
	return &m, nil
}

func contentHash(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func newSidecar(content []byte, ttl time.Duration) *sidecarMeta {
	now := time.Now()
	return &sidecarMeta{
		CachedAt:    now,
		ExpiresAt:   now.Add(ttl),
		LastAccess:  now,
		Size:        int64(len(content)),
		ContentHash: contentHash(content),
	}
}

// cacheEntry is an in-memory decoded-blob cache entry, keyed by path.
type cacheEntry struct {
	desc     *blob.Descriptor
	cachedAt time.Time
}
