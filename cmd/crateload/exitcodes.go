package main

import "os"

// Exit codes for different failure modes, so scripts driving crateload can
// distinguish a missing crate from a sandbox failure without parsing text.
const (
	// ExitSuccess indicates successful execution.
	ExitSuccess = 0

	// ExitGeneral indicates a general error.
	ExitGeneral = 1

	// ExitUsage indicates invalid arguments or usage error.
	ExitUsage = 2

	// ExitCrateNotFound indicates a requested crate could not be located
	// on the search path.
	ExitCrateNotFound = 3

	// ExitAmbiguous indicates multiple candidates matched a crate name and
	// no hash was given to disambiguate.
	ExitAmbiguous = 4

	// ExitCacheFailure indicates the metadata blob cache or remote blob
	// source failed.
	ExitCacheFailure = 5

	// ExitProcMacroFailure indicates a native dylib or sandboxed WASM
	// proc-macro failed to load.
	ExitProcMacroFailure = 6

	// ExitInjectionFailure indicates the runtime injector could not
	// satisfy a required implicit crate (allocator, panic runtime,
	// compiler builtins, profiler runtime).
	ExitInjectionFailure = 7

	// ExitCancelled indicates the operation was cancelled (SIGINT/SIGTERM).
	ExitCancelled = 130
)

// exitWithCode exits with the specified exit code.
func exitWithCode(code int) {
	os.Exit(code)
}
