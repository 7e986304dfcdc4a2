package locator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crateload/crateload/internal/crate"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("fixture"), 0o644))
	return path
}

func TestSearchPathLocator_FindsExactStem(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "serde.rlib")

	loc := NewSearchPathLocator(dir)
	res, err := loc.Load(context.Background(), Request{Name: "serde", Kind: crate.KindAny})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	require.Equal(t, crate.KindRlib, res.Candidates[0].Kind)
}

func TestSearchPathLocator_FindsExtraFilenameDisambiguator(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "serde-a1b2c3d4.rlib")

	loc := NewSearchPathLocator(dir)
	res, err := loc.Load(context.Background(), Request{Name: "serde", Kind: crate.KindAny})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
}

func TestSearchPathLocator_RejectsPrefixCollision(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "serde_json.rlib")

	loc := NewSearchPathLocator(dir)
	res, err := loc.Load(context.Background(), Request{Name: "serde", Kind: crate.KindAny})
	require.NoError(t, err)
	require.Empty(t, res.Candidates, "serde_json must not match a lookup for serde")
}

func TestSearchPathLocator_KindMismatchIsRejected(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "serde.so")

	loc := NewSearchPathLocator(dir)
	res, err := loc.Load(context.Background(), Request{Name: "serde", Kind: crate.KindRlib})
	require.NoError(t, err)
	require.Empty(t, res.Candidates)
	require.Len(t, res.Rejected, 1)
	require.Equal(t, "kind mismatch", res.Rejected[0].Reason)
}

func TestSearchPathLocator_UnrecognizedExtensionSkipped(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "serde.txt")

	loc := NewSearchPathLocator(dir)
	res, err := loc.Load(context.Background(), Request{Name: "serde", Kind: crate.KindAny})
	require.NoError(t, err)
	require.Empty(t, res.Candidates)
	require.Empty(t, res.Rejected)
}

func TestSearchPathLocator_SearchesMultipleDirsInOrder(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	touch(t, dirB, "serde.rlib")

	loc := NewSearchPathLocator(dirA, dirB)
	res, err := loc.Load(context.Background(), Request{Name: "serde", Kind: crate.KindAny})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
}

func TestSearchPathLocator_ExplicitPathTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, dir, "serde.rlib")

	loc := NewSearchPathLocator("/nonexistent")
	res, err := loc.Load(context.Background(), Request{Name: "serde", Kind: crate.KindAny, ExplicitPath: path})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	require.Equal(t, path, res.Candidates[0].Path)
}

func TestSearchPathLocator_ExplicitPathMissingIsRejected(t *testing.T) {
	loc := NewSearchPathLocator()
	res, err := loc.Load(context.Background(), Request{Name: "serde", Kind: crate.KindAny, ExplicitPath: filepath.Join(t.TempDir(), "missing.rlib")})
	require.NoError(t, err)
	require.Empty(t, res.Candidates)
	require.Len(t, res.Rejected, 1)
}

func TestSearchPathLocator_ExplicitPathKindMismatchIsRejected(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, dir, "serde.so")

	loc := NewSearchPathLocator()
	res, err := loc.Load(context.Background(), Request{Name: "serde", Kind: crate.KindRlib, ExplicitPath: path})
	require.NoError(t, err)
	require.Empty(t, res.Candidates)
	require.Equal(t, "kind mismatch", res.Rejected[0].Reason)
}

func TestMatchesStem(t *testing.T) {
	require.True(t, matchesStem("serde", "serde"))
	require.True(t, matchesStem("serde-a1b2c3d4", "serde"))
	require.False(t, matchesStem("serde_json", "serde"))
	require.False(t, matchesStem("serde-", "serde"))
}
