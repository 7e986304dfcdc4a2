// Package resolver implements the Resolver: the recursive engine that
// turns a crate name plus disambiguating hints into a registered entry in
// the Crate Store, loading and registering every transitive dependency
// along the way.
package resolver

import (
	"context"
	"fmt"
	"unicode"

	"github.com/crateload/crateload/internal/blob"
	"github.com/crateload/crateload/internal/crate"
	"github.com/crateload/crateload/internal/locator"
	"github.com/crateload/crateload/internal/log"
	"github.com/crateload/crateload/internal/store"
)

// Request is one resolution request, corresponding to an `extern crate`
// item, a bare path reference, or a recursive dependency-list entry.
type Request struct {
	Name         string
	Hash         string // disambiguating hash, empty if caller doesn't care
	Kind         crate.Kind
	DepKind      crate.DepKind
	Origin       crate.Origin
	ExplicitPath string // set for --extern name=path requests
	ExternPublic *bool  // explicit pub/priv declaration from --extern, if any
	Extern       crate.ExternCrate
}

// Resolver resolves crate requests against a Store, using a Locator to
// find candidate artifacts and a MetadataLoader to decode them.
type Resolver struct {
	Store          *store.Store
	Locator        locator.Locator
	MetadataLoader blob.MetadataLoader
	Logger         log.Logger

	// AllowProcMacroFallback makes Resolve retry a request once with
	// DepKind set to MacrosOnly when the locator finds no candidate for it.
	// The retry sends the locator the same name, hash, kind and path as the
	// first attempt; it does not switch to the host target and does not
	// restrict the search to proc-macro crates.
	AllowProcMacroFallback bool
}

// New constructs a Resolver. logger may be nil, in which case the package
// default logger is used.
func New(s *store.Store, l locator.Locator, ml blob.MetadataLoader, logger log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{Store: s, Locator: l, MetadataLoader: ml, Logger: logger}
}

// Resolve resolves req, registering it and its transitive dependencies in
// the Store if this is the first time the crate has been seen, or merging
// the new observation into the existing entry if it collapses onto one
// already loaded.
func (r *Resolver) Resolve(ctx context.Context, req Request) (crate.Num, error) {
	if !isASCII(req.Name) {
		return 0, crate.NewError(crate.ErrNonAsciiName, req.Name, "crate names must be ASCII")
	}

	if num, meta, ok := r.existingMatch(req); ok {
		r.mergeObservation(meta, req)
		r.Logger.Debug("resolver: reused existing crate", "crate", req.Name, "num", num)
		return num, nil
	}

	result, err := r.Locator.Load(ctx, locator.Request{
		Name:         req.Name,
		Hash:         req.Hash,
		Kind:         req.Kind,
		ExplicitPath: req.ExplicitPath,
	})
	if err != nil {
		return 0, crate.Wrap(crate.ErrNotFound, req.Name, "locator failed", err)
	}

	if len(result.Candidates) == 0 && r.AllowProcMacroFallback && req.DepKind != crate.DepMacrosOnly {
		macroReq := req
		macroReq.DepKind = crate.DepMacrosOnly
		if num, err := r.Resolve(ctx, macroReq); err == nil {
			return num, nil
		}
	}

	if len(result.Candidates) == 0 {
		return 0, crate.NewError(crate.ErrNotFound, req.Name, fmt.Sprintf("no candidate artifact found (%d rejected)", len(result.Rejected)))
	}
	if len(result.Candidates) > 1 && req.Hash == "" {
		return 0, crate.NewError(crate.ErrMultipleCandidates, req.Name, "multiple candidates found and no hash given to disambiguate")
	}

	candidate := result.Candidates[0]
	return r.loadAndRegister(ctx, req, candidate)
}

// existingMatch looks for an already-loaded crate that satisfies req,
// mirroring creader.rs's existing_match: the name must match, then if a
// hash was given it must match exactly, then either req names an explicit
// path (which must match the already-loaded crate's source path exactly)
// or the requested Kind must be compatible with the one already loaded.
func (r *Resolver) existingMatch(req Request) (crate.Num, *crate.Metadata, bool) {
	return r.Store.Find(func(_ crate.Num, m *crate.Metadata) bool {
		if m.Name != req.Name {
			return false
		}
		if req.Hash != "" && m.Hash != req.Hash {
			return false
		}
		if req.ExplicitPath != "" {
			return matchesSourcePath(m.Source, req.ExplicitPath)
		}
		return req.Kind.Matches(m.SourceKind)
	})
}

func matchesSourcePath(src crate.Source, path string) bool {
	return src.RlibPath == path || src.DylibPath == path || src.RmetaPath == path || src.SdylibInterfacePath == path
}

// mergeObservation folds a second sighting of an already-loaded crate into
// its shared Metadata: depKind only ever strengthens, and a proc-macro
// crate's dep kind is forced to MacrosOnly regardless of how this edge
// asked for it, matching the LoadResult::Previous handling in the original
// resolver.
func (r *Resolver) mergeObservation(meta *crate.Metadata, req Request) {
	meta.MergeDepKind(req.DepKind)
	meta.MergeExtern(req.Extern)
	meta.MergePrivate(privacyHint(req), nil)
}

// privacyHint derives the pub/priv signal MergePrivate should see for req.
// An explicit --extern pub:/priv: modifier always wins. A direct --extern
// entry with no modifier defaults to public, matching is_private_dep's rule
// that only a missing --extern entry falls back to the parent's hint; a
// purely indirect dependency carries no direct signal and is left nil, which
// MergePrivate treats as private until some other path opens it up.
func privacyHint(req Request) *bool {
	if req.ExternPublic != nil {
		return req.ExternPublic
	}
	if req.Origin != crate.OriginIndirect {
		pub := true
		return &pub
	}
	return nil
}

// loadAndRegister decodes candidate's metadata blob, interns the crate's
// StableID, recursively resolves its dependency list, and commits the
// fully-built Metadata to the Store.
func (r *Resolver) loadAndRegister(ctx context.Context, req Request, candidate locator.Candidate) (crate.Num, error) {
	path := primaryPath(candidate.Source)
	desc, err := r.MetadataLoader.Load(ctx, path)
	if err != nil {
		return 0, crate.Wrap(crate.ErrNotFound, req.Name, "failed to load metadata for "+path, err)
	}

	if existing, ok := r.Store.Lookup(desc.StableID); ok {
		// Another path already interned this StableID (e.g. discovered as
		// someone else's dependency while this request was in flight).
		// Unconditional reuse, per the duplicate-collapse rule: merge and
		// return, do not attempt to register a second time.
		if meta := r.Store.Get(existing); meta != nil {
			r.mergeObservation(meta, req)
			return existing, nil
		}
	}

	num, err := r.Store.Intern(desc.StableID, desc.Name)
	if err != nil {
		return 0, err
	}

	depKind := req.DepKind
	if desc.Roles.IsCompilerBuiltins {
		depKind = depKind.Max(crate.DepImplicit)
	}
	if desc.Roles.IsProcMacroCrate {
		depKind = crate.DepMacrosOnly
	}

	meta := crate.NewMetadata(desc.Name, desc.StableID, candidate.Source, candidate.Kind, depKind, req.Origin)
	meta.Hash = desc.Hash
	meta.SetRoles(desc.Roles)
	meta.MergeExtern(req.Extern)
	meta.MergePrivate(privacyHint(req), nil)
	meta.Deps = desc.Deps

	// A proc-macro crate is never recursed into for dependencies: its blob
	// NumMap stays empty and its Deps are retained only for reporting.
	if !desc.Roles.IsProcMacroCrate {
		numMap, err := r.resolveDeps(ctx, num, desc.Deps, depKind)
		if err != nil {
			return 0, err
		}
		meta.NumMap = numMap
	}

	r.Store.Set(num, meta)
	r.Logger.Info("resolver: registered crate", "crate", desc.Name, "num", num, "dep_kind", depKind)
	return num, nil
}

// resolveDeps recursively resolves every dependency edge declared by a
// crate's own metadata, building the NumMap that translates the
// dependency's self-relative indices into this session's Num space. Each
// recursive call uses crate.OriginIndirect and inherits MacrosOnly from the
// parent if the parent itself was loaded macros-only (a macros-only crate's
// own Rust-code dependencies are pointless to pull in for more than their
// macro registration, but its proc-macro runtime deps still need loading).
func (r *Resolver) resolveDeps(ctx context.Context, self crate.Num, deps []crate.Dep, parentDepKind crate.DepKind) (crate.NumMap, error) {
	numMap := crate.NumMap{self}
	for _, dep := range deps {
		childKind := dep.DepKind
		if parentDepKind == crate.DepMacrosOnly {
			childKind = crate.DepMacrosOnly
		}
		num, err := r.Resolve(ctx, Request{
			Name:    dep.Name,
			Hash:    "",
			Kind:    crate.KindAny,
			DepKind: childKind,
			Origin:  crate.OriginIndirect,
			Extern:  crate.ExternCrate{PathLen: crate.PathLenPathBased},
		})
		if err != nil {
			return nil, crate.Wrap(crate.ErrNotFound, dep.Name, "failed to resolve dependency", err)
		}
		numMap = append(numMap, num)
	}
	return numMap, nil
}

func primaryPath(src crate.Source) string {
	switch {
	case src.RmetaPath != "":
		return src.RmetaPath
	case src.RlibPath != "":
		return src.RlibPath
	case src.DylibPath != "":
		return src.DylibPath
	default:
		return src.SdylibInterfacePath
	}
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
