// Package locator defines the Locator collaborator interface: given a
// crate name and the kind of artifact required, find candidate files on
// disk. The reference implementation walks a configured search path the
// way rustc's own -L search path does.
package locator

import (
	"context"

	"github.com/crateload/crateload/internal/crate"
)

// Request describes one lookup: a crate name, an optional content hash to
// disambiguate between multiple same-named candidates, and the Kind the
// caller needs.
type Request struct {
	Name string
	Hash string // empty means "any hash"
	Kind crate.Kind
	// ExplicitPath, if non-empty, is a canonicalized filesystem path given
	// directly via --extern name=path. When set it takes precedence over
	// search-path scanning and must match exactly.
	ExplicitPath string
}

// Candidate is one artifact the Locator found, plus enough bookkeeping for
// the resolver to report "rejected, and why" diagnostics when no candidate
// is ultimately accepted.
type Candidate struct {
	Source crate.Source
	Kind   crate.Kind
	Path   string
}

// Rejection explains why a found file was not returned as a Candidate.
type Rejection struct {
	Path   string
	Reason string
}

// Result is what a Locator lookup produces: the accepted candidates (there
// may legitimately be more than one, e.g. both an rlib and a dylib build of
// the same crate) and the rejected ones, for diagnostics.
type Result struct {
	Candidates []Candidate
	Rejected   []Rejection
}

// Locator finds compiled crate artifacts. Load must not mutate any shared
// state. The resolver calls it once per request it cannot satisfy from the
// Store, resolving sibling dependencies one after another.
type Locator interface {
	Load(ctx context.Context, req Request) (Result, error)
}
