// Package unused implements the Unused-Dependency Reporter: after
// resolution completes, compare the set of crates named with --extern
// against the set actually referenced during compilation, and flag the
// difference.
package unused

import (
	"github.com/crateload/crateload/internal/store"
)

// Extern is one declared --extern entry, as recorded by the CLI front end.
type Extern struct {
	Name  string
	Force bool // --extern NAME force: exempt from the unused check
	// NoUnusedDep corresponds to --extern NAME noprelude/nounused_dep:
	// exempt this entry from reporting even if never referenced.
	NoUnusedDep bool
}

// Report is the outcome of one unused-dependency check.
type Report struct {
	Unused []string
	// FutureIncompatible holds diagnostics for dependencies whose
	// declared version is known to trigger a forthcoming breaking change,
	// independent of whether the dependency itself was used.
	FutureIncompatible []string
}

// Reporter compares a session's declared externs against the set of extern
// names the compilation actually used. Its Store is not consulted by Report.
type Reporter struct {
	Store *store.Store
}

// New constructs a Reporter over s.
func New(s *store.Store) *Reporter {
	return &Reporter{Store: s}
}

// Report lists, in declaration order, the names in declared that are absent
// from usedExternOptions, skipping entries marked Force or NoUnusedDep. It
// does not fill FutureIncompatible. usedExternOptions is the set of extern names the compilation actually
// consulted, gathered by whatever front end drives name resolution; this
// package does not walk source itself.
func (r *Reporter) Report(declared []Extern, usedExternOptions map[string]bool) Report {
	var rep Report
	for _, ext := range declared {
		if ext.Force || ext.NoUnusedDep {
			continue
		}
		if !usedExternOptions[ext.Name] {
			rep.Unused = append(rep.Unused, ext.Name)
		}
	}
	return rep
}
