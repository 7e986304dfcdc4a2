package crate

import "fmt"

// ErrType enumerates the kinds of failure the loader can report. It mirrors
// the teacher's pattern of a typed ErrType enum consumed by the error
// formatter, instead of bare string errors.
type ErrType int

const (
	// ErrNotFound means no candidate artifact satisfied a resolution
	// request anywhere in the search path.
	ErrNotFound ErrType = iota
	// ErrNonAsciiName means the requested crate name contained non-ASCII
	// bytes and was rejected before any lookup was attempted.
	ErrNonAsciiName
	// ErrStableIDCollision means two distinct crates hashed to the same
	// StableID, a content-addressing integrity failure.
	ErrStableIDCollision
	// ErrSymbolConflictsCurrent means a dependency's StableID matches the
	// identity of the crate currently being compiled.
	ErrSymbolConflictsCurrent
	// ErrMultipleCandidates means the locator found more than one
	// equally-ranked candidate and the request did not disambiguate
	// between them (e.g. by hash).
	ErrMultipleCandidates
	// ErrOverwrite means an attempt was made to set metadata for a Num
	// that already has metadata recorded.
	ErrOverwrite
	// ErrDlOpen means loading a native proc-macro dylib failed.
	ErrDlOpen
	// ErrDlSym means a native proc-macro dylib opened successfully but did
	// not export the expected symbol, or exported it with the wrong shape.
	ErrDlSym
	// ErrWasmDecode means parsing a WASM proc-macro module failed.
	ErrWasmDecode
	// ErrSlotsExhausted means the WASM trampoline slot registry is full.
	ErrSlotsExhausted
	// ErrSyntheticCrate means a blob-derived field was read on a
	// synthetic stub crate, which carries no such data.
	ErrSyntheticCrate
	// ErrNotPanicRuntime means a crate injected as the panic runtime does
	// not actually declare itself as one.
	ErrNotPanicRuntime
	// ErrNoPanicStrategy means a panic runtime crate does not declare
	// the panic strategy it implements.
	ErrNoPanicStrategy
	// ErrConflictingGlobalAlloc means more than one crate in the graph
	// declares #[global_allocator].
	ErrConflictingGlobalAlloc
	// ErrConflictingAllocErrorHandler means more than one crate in the
	// graph declares an alloc-error handler.
	ErrConflictingAllocErrorHandler
	// ErrGlobalAllocRequired means no crate declared #[global_allocator]
	// and no default allocator crate is available to inject.
	ErrGlobalAllocRequired
	// ErrNotCompilerBuiltins means a crate injected as compiler-builtins
	// does not declare itself as such.
	ErrNotCompilerBuiltins
	// ErrNotProfilerRuntime means a crate injected as the profiler
	// runtime does not declare itself as one.
	ErrNotProfilerRuntime
)

// Error is the concrete error type produced by every loader component. It
// carries enough structure for internal/errmsg to produce actionable
// "possible causes / suggestions" text without string matching.
type Error struct {
	Type    ErrType
	Crate   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Crate != "" {
		return fmt.Sprintf("crate %q: %s", e.Crate, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an *Error with the given type, crate name and message.
func NewError(t ErrType, crateName, message string) *Error {
	return &Error{Type: t, Crate: crateName, Message: message}
}

// Wrap builds an *Error that records an underlying cause.
func Wrap(t ErrType, crateName, message string, cause error) *Error {
	return &Error{Type: t, Crate: crateName, Message: message, Cause: cause}
}
