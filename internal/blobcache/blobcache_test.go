package blobcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crateload/crateload/internal/blob"
	"github.com/crateload/crateload/internal/crate"
)

type countingLoader struct {
	calls int
	desc  *blob.Descriptor
	err   error
}

func (l *countingLoader) Load(ctx context.Context, path string) (*blob.Descriptor, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return l.desc, nil
}

func TestCache_Load_CachesWithinTTL(t *testing.T) {
	inner := &countingLoader{desc: &blob.Descriptor{Name: "serde", StableID: crate.StableID(1)}}
	c := New(inner, time.Minute)

	d1, err := c.Load(context.Background(), "/x/serde.rmeta")
	require.NoError(t, err)
	require.Equal(t, "serde", d1.Name)

	d2, err := c.Load(context.Background(), "/x/serde.rmeta")
	require.NoError(t, err)
	require.Equal(t, "serde", d2.Name)

	require.Equal(t, 1, inner.calls, "second load within TTL must not hit inner loader")
}

func TestCache_Load_ZeroTTLNeverCaches(t *testing.T) {
	inner := &countingLoader{desc: &blob.Descriptor{Name: "serde"}}
	c := New(inner, 0)

	_, err := c.Load(context.Background(), "/x/serde.rmeta")
	require.NoError(t, err)
	_, err = c.Load(context.Background(), "/x/serde.rmeta")
	require.NoError(t, err)

	require.Equal(t, 2, inner.calls)
}

func TestCache_Load_ExpiredEntryRefetches(t *testing.T) {
	inner := &countingLoader{desc: &blob.Descriptor{Name: "serde"}}
	c := New(inner, time.Millisecond)

	_, err := c.Load(context.Background(), "/x/serde.rmeta")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = c.Load(context.Background(), "/x/serde.rmeta")
	require.NoError(t, err)

	require.Equal(t, 2, inner.calls)
}

func TestCache_Load_InnerErrorWithNoRemotePassesThrough(t *testing.T) {
	wantErr := crate.NewError(crate.ErrNotFound, "serde", "missing")
	inner := &countingLoader{err: wantErr}
	c := New(inner, time.Minute)

	_, err := c.Load(context.Background(), "/x/serde.rmeta")
	require.ErrorIs(t, err, wantErr)
}

func TestCache_DifferentPathsCachedIndependently(t *testing.T) {
	inner := &countingLoader{desc: &blob.Descriptor{Name: "serde"}}
	c := New(inner, time.Minute)

	_, err := c.Load(context.Background(), "/x/a.rmeta")
	require.NoError(t, err)
	_, err = c.Load(context.Background(), "/x/b.rmeta")
	require.NoError(t, err)

	require.Equal(t, 2, inner.calls)
}
