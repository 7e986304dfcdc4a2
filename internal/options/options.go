// Package options defines the session-wide option structure assembled by
// the CLI front end and consumed by the resolver, injector and reporter.
// It is the boundary named in the original design as external to the core
// engine: cmd/crateload builds one of these from flags, and every other
// package only ever reads it.
package options

import "github.com/crateload/crateload/internal/crate"

// ExternEntry is one --extern flag occurrence: a crate name, an optional
// explicit path, and the modifiers that change how strictly it is
// resolved and reported.
type ExternEntry struct {
	Name         string
	Path         string // explicit path; empty means "search the normal path"
	Force        bool   // --extern NAME force
	NoUnusedDep  bool   // --extern NAME noprelude/nounused_dep
	Public       *bool  // --extern NAME:pub / :priv, nil if unspecified
}

// Options is the fully assembled session configuration.
type Options struct {
	Externs []ExternEntry

	PanicStrategy     crate.PanicStrategy
	AllRlibOutput     bool
	InstrumentCoverage bool
	ProfileGenerate    bool
	NoProfilerRuntime  bool
	DefaultLibAllocator bool

	// WasmProcMacroFiles lists --wasm-proc-macro PATH occurrences: WASM
	// modules loaded as proc-macro sources independent of the normal
	// crate search path.
	WasmProcMacroFiles []string

	// AllowABIMismatch disables the panic-runtime/allocator strategy
	// compatibility checks the injector would otherwise enforce, for
	// advanced callers who accept the risk.
	AllowABIMismatch bool

	// JSONUnusedExterns switches the Unused-Dependency Reporter's output
	// from human-readable lint text to machine-readable JSON, for tooling
	// that parses loader output.
	JSONUnusedExterns bool

	SearchPaths []string

	CompilerBuiltinsName string
	ProfilerRuntimeName  string
	DefaultAllocatorName string
	PanicUnwindName      string
	PanicAbortName       string
}
