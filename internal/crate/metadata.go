package crate

import "sync"

// Metadata is everything the loader knows about one loaded crate: its
// identity, where its artifact lives, its declared dependency list and its
// role flags, plus the two fields that change monotonically as the crate is
// discovered through more than one path in the graph.
//
// Metadata is shared: the same *Metadata is reachable from every Num that
// collapsed onto it during duplicate resolution, so mutation goes through
// methods that enforce the monotonicity invariants rather than plain field
// assignment.
type Metadata struct {
	mu sync.Mutex

	Name       string
	StableID   StableID
	Source     Source
	SourceKind Kind
	Hash       string // content hash recorded in the metadata blob, if any
	Deps       []Dep
	Roles      Roles
	Synthetic  bool // true for stub metadata synthesized for --wasm-proc-macro

	// NumMap translates this crate's own self-relative dependency indices
	// (as declared in its blob) into the session's Num space. Left nil for
	// a proc-macro crate, whose dependency list is never recursed into.
	NumMap NumMap

	depKind    DepKind
	privateDep *bool // nil until first observation
	extern     ExternCrate
}

// NewMetadata constructs Metadata for a freshly loaded crate. depKind and
// origin reflect how this first resolution reached the crate; later
// resolutions update depKind/private via MergeDepKind/MergePrivate.
func NewMetadata(name string, id StableID, src Source, kind Kind, depKind DepKind, origin Origin) *Metadata {
	m := &Metadata{
		Name:       name,
		StableID:   id,
		Source:     src,
		SourceKind: kind,
		depKind:    depKind,
		extern:     ExternCrate{PathLen: PathLenPathBased},
	}
	if origin == OriginInjected {
		v := true
		m.privateDep = &v
	}
	return m
}

// DepKind returns the strongest DepKind observed for this crate so far.
func (m *Metadata) DepKind() DepKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depKind
}

// MergeDepKind raises this crate's DepKind to the max of its current value
// and k. DepKind only ever strengthens, matching the resolver's rule that a
// later explicit or macros-only use of an already-implicit crate must be
// remembered rather than overwritten. A proc-macro crate is the one
// exception to "only ever strengthens": its DepKind is pinned to MacrosOnly
// regardless of k, enforced here so every merge site gets it for free.
func (m *Metadata) MergeDepKind(k DepKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Roles.IsProcMacroCrate {
		m.depKind = DepMacrosOnly
		return
	}
	m.depKind = m.depKind.Max(k)
}

// SetRoles records m's declared role flags. A proc-macro crate's DepKind is
// pinned to MacrosOnly the moment its roles are known, matching the
// "enforcement happens at every set" invariant.
func (m *Metadata) SetRoles(r Roles) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Roles = r
	if r.IsProcMacroCrate {
		m.depKind = DepMacrosOnly
	}
}

// IsPrivateDep reports whether this crate is currently considered a private
// (non-exported) dependency of the local crate. A crate with no observation
// yet defaults to private: only an explicit public declaration opens it up.
func (m *Metadata) IsPrivateDep() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.privateDep == nil {
		return true
	}
	return *m.privateDep
}

// MergePrivate folds in one more observation of whether this edge into the
// crate was declared public. The combination rule mirrors the tuple match
// in the original resolver: once ANY edge declares the dependency public
// (extern-level public, or the crate's own private_dep metadata saying
// false), the crate is public from then on; everything else stays private.
func (m *Metadata) MergePrivate(externPublic, metadataPublic *bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	observed := isPrivateObservation(externPublic, metadataPublic)
	if m.privateDep == nil {
		m.privateDep = &observed
		return
	}
	// Public (false) wins over private (true): once opened up, stays open.
	if !observed {
		v := false
		m.privateDep = &v
	}
}

// isPrivateObservation implements the is_private_dep match from the
// original resolver: an explicit declaration of public (true) from either
// source wins; everything else, including no information at all, is
// private by default.
func isPrivateObservation(externPublic, metadataPublic *bool) bool {
	if externPublic != nil && *externPublic {
		return false
	}
	if metadataPublic != nil && *metadataPublic {
		return false
	}
	return true
}

// Extern returns the current extern-crate attribution for this crate.
func (m *Metadata) Extern() ExternCrate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extern
}

// MergeExtern records a new attribution site if it is higher priority
// (shorter PathLen) than the one already recorded.
func (m *Metadata) MergeExtern(e ExternCrate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.PathLen < m.extern.PathLen {
		m.extern = e
	}
}
