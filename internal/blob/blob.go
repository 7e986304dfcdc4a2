// Package blob defines the MetadataLoader collaborator interface: the
// boundary between the crate loader and whatever format a compiled crate's
// metadata is actually stored in on disk. The wire format itself is out of
// scope for this module; this package supplies one concrete reference
// implementation used by the CLI default and by tests.
package blob

import (
	"context"

	"github.com/crateload/crateload/internal/crate"
)

// Descriptor is everything the resolver needs to read out of a crate's
// metadata blob: its own identity, its declared dependency edges and its
// role flags. It is the decoded form of whatever bytes MetadataLoader.Load
// returns.
type Descriptor struct {
	Name     string
	StableID crate.StableID
	Hash     string
	Deps     []crate.Dep
	Roles    crate.Roles
}

// MetadataLoader decodes a crate's metadata blob from a located artifact
// path. Implementations are free to cache, decompress or fetch remotely;
// internal/blobcache wraps any MetadataLoader with a TTL cache.
type MetadataLoader interface {
	// Load decodes the metadata blob found at path. path is one of the
	// paths recorded in a crate.Source by the Locator.
	Load(ctx context.Context, path string) (*Descriptor, error)
}
