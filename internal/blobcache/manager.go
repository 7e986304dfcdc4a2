package blobcache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Stats summarizes the disk-backed cache directory's current footprint.
type Stats struct {
	TotalSize    int64
	EntryCount   int
	OldestAccess time.Time
	NewestAccess time.Time
}

// CacheManager enforces a size limit on a blobcache disk directory using
// LRU eviction: once the directory crosses the high water mark it evicts
// the least-recently-accessed blobs until it falls back under the low
// water mark, leaving headroom rather than evicting down to the limit.
type CacheManager struct {
	cacheDir  string
	sizeLimit int64
	highWater float64
	lowWater  float64
}

// NewCacheManager creates a manager bounding cacheDir to sizeLimit bytes.
func NewCacheManager(cacheDir string, sizeLimit int64) *CacheManager {
	return &CacheManager{
		cacheDir:  cacheDir,
		sizeLimit: sizeLimit,
		highWater: 0.80,
		lowWater:  0.60,
	}
}

func (m *CacheManager) Stats() (Stats, error) {
	entries, err := m.listEntries()
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, e := range entries {
		st.TotalSize += e.size
		st.EntryCount++
		if st.OldestAccess.IsZero() || e.lastAccess.Before(st.OldestAccess) {
			st.OldestAccess = e.lastAccess
		}
		if e.lastAccess.After(st.NewestAccess) {
			st.NewestAccess = e.lastAccess
		}
	}
	return st, nil
}

type diskEntry struct {
	name       string
	lastAccess time.Time
	size       int64
}

func (m *CacheManager) listEntries() ([]diskEntry, error) {
	var out []diskEntry

	dirEntries, err := os.ReadDir(m.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, letterEntry := range dirEntries {
		if !letterEntry.IsDir() {
			continue
		}
		letterDir := filepath.Join(m.cacheDir, letterEntry.Name())
		subEntries, err := os.ReadDir(letterDir)
		if err != nil {
			continue
		}

		for _, sub := range subEntries {
			if sub.IsDir() || !strings.HasSuffix(sub.Name(), ".blob") {
				continue
			}
			name := strings.TrimSuffix(sub.Name(), ".blob")

			var size int64
			if info, err := sub.Info(); err == nil {
				size += info.Size()
			}
			if info, err := os.Stat(metaPath(m.cacheDir, name)); err == nil {
				size += info.Size()
			}

			lastAccess := time.Now()
			if meta, err := readSidecar(m.cacheDir, name); err == nil && meta != nil && !meta.LastAccess.IsZero() {
				lastAccess = meta.LastAccess
			} else if info, err := sub.Info(); err == nil {
				lastAccess = info.ModTime()
			}

			out = append(out, diskEntry{name: name, lastAccess: lastAccess, size: size})
		}
	}

	return out, nil
}

func (m *CacheManager) deleteEntry(name string) error {
	var lastErr error
	if err := os.Remove(blobPath(m.cacheDir, name)); err != nil && !os.IsNotExist(err) {
		lastErr = err
	}
	if err := os.Remove(metaPath(m.cacheDir, name)); err != nil && !os.IsNotExist(err) {
		lastErr = err
	}
	return lastErr
}

// EnforceLimit evicts least-recently-used blobs when the cache directory
// has crossed the high water mark, stopping once it reaches the low water
// mark. Returns the number of entries evicted.
func (m *CacheManager) EnforceLimit() (int, error) {
	entries, err := m.listEntries()
	if err != nil {
		return 0, err
	}

	var currentSize int64
	for _, e := range entries {
		currentSize += e.size
	}

	highWaterSize := int64(float64(m.sizeLimit) * m.highWater)
	if currentSize <= highWaterSize {
		return 0, nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccess.Before(entries[j].lastAccess)
	})

	lowWaterSize := int64(float64(m.sizeLimit) * m.lowWater)
	evicted := 0
	for _, e := range entries {
		if currentSize <= lowWaterSize {
			break
		}
		if err := m.deleteEntry(e.name); err != nil {
			continue
		}
		currentSize -= e.size
		evicted++
	}

	return evicted, nil
}

// Cleanup removes entries that haven't been accessed within maxAge.
// Returns the number of entries removed.
func (m *CacheManager) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := m.listEntries()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.lastAccess.Before(cutoff) {
			if err := m.deleteEntry(e.name); err != nil {
				continue
			}
			removed++
		}
	}

	return removed, nil
}
