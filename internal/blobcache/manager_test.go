package blobcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFixtureEntry(t *testing.T, dir, name string, size int64, lastAccess time.Time) {
	t.Helper()

	path := blobPath(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))

	meta := newSidecar(make([]byte, size), time.Hour)
	meta.LastAccess = lastAccess
	require.NoError(t, writeSidecar(dir, name, meta))
}

func TestCacheManager_Stats_EmptyDir(t *testing.T) {
	dir := t.TempDir()
	m := NewCacheManager(dir, 1024)

	st, err := m.Stats()
	require.NoError(t, err)
	require.Equal(t, 0, st.EntryCount)
	require.Equal(t, int64(0), st.TotalSize)
}

func TestCacheManager_Stats_MissingDirIsNotError(t *testing.T) {
	m := NewCacheManager("/nonexistent/path/for/test", 1024)
	st, err := m.Stats()
	require.NoError(t, err)
	require.Equal(t, 0, st.EntryCount)
}

func TestCacheManager_Stats_CountsEntries(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeFixtureEntry(t, dir, "alpha", 100, now.Add(-time.Hour))
	writeFixtureEntry(t, dir, "beta", 200, now)

	m := NewCacheManager(dir, 10_000)
	st, err := m.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, st.EntryCount)
	require.True(t, st.TotalSize > 0)
}

func TestCacheManager_EnforceLimit_NoEvictionUnderHighWater(t *testing.T) {
	dir := t.TempDir()
	writeFixtureEntry(t, dir, "small", 10, time.Now())

	m := NewCacheManager(dir, 10_000)
	evicted, err := m.EnforceLimit()
	require.NoError(t, err)
	require.Equal(t, 0, evicted)
}

func TestCacheManager_EnforceLimit_EvictsLeastRecentlyUsedFirst(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	// Three entries of 400 bytes each; sizeLimit of 1000 puts the high
	// water mark at 800 bytes, so with all three present (1200 bytes
	// plus sidecar overhead) eviction must trigger and the oldest access
	// must go first.
	writeFixtureEntry(t, dir, "oldest", 400, now.Add(-3*time.Hour))
	writeFixtureEntry(t, dir, "middle", 400, now.Add(-2*time.Hour))
	writeFixtureEntry(t, dir, "newest", 400, now.Add(-time.Hour))

	m := NewCacheManager(dir, 1000)
	evicted, err := m.EnforceLimit()
	require.NoError(t, err)
	require.Greater(t, evicted, 0)

	_, err = os.Stat(blobPath(dir, "oldest"))
	require.True(t, os.IsNotExist(err), "oldest entry must be evicted first")
}

func TestCacheManager_Cleanup_RemovesEntriesOlderThanMaxAge(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeFixtureEntry(t, dir, "stale", 10, now.Add(-48*time.Hour))
	writeFixtureEntry(t, dir, "fresh", 10, now)

	m := NewCacheManager(dir, 10_000)
	removed, err := m.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = os.Stat(blobPath(dir, "stale"))
	require.True(t, os.IsNotExist(err))

	_, err = os.Stat(blobPath(dir, "fresh"))
	require.NoError(t, err)
}
