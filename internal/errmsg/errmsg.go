// Package errmsg provides enhanced error message formatting with actionable
// suggestions for crate loading failures.
package errmsg

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/crateload/crateload/internal/blobcache"
	"github.com/crateload/crateload/internal/crate"
)

// ErrorContext provides additional context for error formatting.
type ErrorContext struct {
	CrateName string
}

// Format returns a formatted error message with possible causes and
// suggestions. ctx is optional; pass nil for generic formatting.
func Format(err error, ctx *ErrorContext) string {
	if err == nil {
		return ""
	}

	errMsg := err.Error()

	var crateErr *crate.Error
	if errors.As(err, &crateErr) {
		return formatCrateError(crateErr, ctx)
	}

	var cacheErr *blobcache.Error
	if errors.As(err, &cacheErr) {
		return formatCacheError(cacheErr, ctx)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return formatNetworkError(netErr, ctx)
	}

	if isNotFoundError(errMsg) {
		return formatGenericNotFound(errMsg, ctx)
	}
	if isPermissionError(errMsg) {
		return formatPermissionError(errMsg)
	}

	return errMsg
}

func formatCrateError(err *crate.Error, ctx *ErrorContext) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n")

	switch err.Type {
	case crate.ErrNotFound:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - The crate is not present on the search path\n")
		sb.WriteString("  - The --extern flag for this crate is missing or misspelled\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Pass -L to add the directory containing the crate\n")
		if ctx != nil && ctx.CrateName != "" {
			sb.WriteString(fmt.Sprintf("  - Check that --extern %s=<path> points at an existing rlib/dylib\n", ctx.CrateName))
		}

	case crate.ErrNonAsciiName:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - The crate name contains non-ASCII characters\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Rename the crate to use only ASCII identifier characters\n")

	case crate.ErrStableIDCollision:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - Two distinct crates hash to the same stable identity\n")
		sb.WriteString("  - A crate was rebuilt with a different source but the same name and version\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Clean and rebuild the conflicting crate\n")

	case crate.ErrSymbolConflictsCurrent:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - A dependency's stable identity matches the crate currently being compiled\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Check for a circular --extern reference to the crate's own output\n")

	case crate.ErrMultipleCandidates:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - Multiple incompatible rlib/dylib candidates matched this crate name\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Narrow the search path or pass an explicit --extern path\n")

	case crate.ErrDlOpen:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - The proc-macro dylib is still being written by a concurrent build\n")
		sb.WriteString("  - The dylib is missing required symbols\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Retry the build; transient locks are retried automatically\n")
		sb.WriteString("  - Verify the crate was built as a proc-macro\n")

	case crate.ErrDlSym:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - The proc-macro dylib does not export the expected symbol\n")
		sb.WriteString("  - The dylib was built against a different proc-macro ABI version\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Rebuild the proc-macro crate with a matching toolchain\n")

	case crate.ErrWasmDecode:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - The .rustc_proc_macro_decls custom section is malformed\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Rebuild the proc-macro crate with a matching toolchain\n")

	case crate.ErrSlotsExhausted:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - Too many sandboxed WASM proc-macros loaded concurrently\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Increase CRATELOAD_WASM_MAX_SLOTS\n")
		sb.WriteString("  - Reduce the number of proc-macro crates expanded at once\n")

	case crate.ErrSyntheticCrate:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - A --wasm-proc-macro stub crate was treated as a resolvable dependency\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Synthetic crates cannot be used as regular --extern dependencies\n")

	case crate.ErrConflictingGlobalAlloc, crate.ErrConflictingAllocErrorHandler:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - More than one crate in the dependency graph defines a global allocator\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Remove the duplicate #[global_allocator] definition\n")

	case crate.ErrGlobalAllocRequired, crate.ErrNotPanicRuntime, crate.ErrNoPanicStrategy,
		crate.ErrNotCompilerBuiltins, crate.ErrNotProfilerRuntime:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - The implicit runtime crate injection found an incompatible or missing crate\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Check that the sysroot/search path contains the expected runtime crates\n")

	default:
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Try again after checking the search path and --extern flags\n")
	}

	return sb.String()
}

func formatCacheError(err *blobcache.Error, ctx *ErrorContext) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n")

	switch err.Type {
	case blobcache.ErrTypeNotFound:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - The metadata blob is not present in the remote source\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Verify the crate name and version\n")

	case blobcache.ErrTypeRateLimit:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - Too many requests to the remote blob source\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Wait a few minutes before retrying\n")

	case blobcache.ErrTypeTimeout, blobcache.ErrTypeDNS, blobcache.ErrTypeConnection, blobcache.ErrTypeTLS, blobcache.ErrTypeNetwork:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - Network connectivity issue reaching the remote blob source\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Check your internet connection and try again\n")

	case blobcache.ErrTypeCacheTooStale:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - The local cache has exceeded its maximum allowed staleness and the remote source is unreachable\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Restore network access, or raise CRATELOAD_BLOB_CACHE_MAX_STALE\n")

	case blobcache.ErrTypeCacheRead, blobcache.ErrTypeCacheWrite:
		sb.WriteString("\nPossible causes:\n")
		sb.WriteString("  - Insufficient permissions or disk space in the blob cache directory\n")
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Check permissions on the CRATELOAD_HOME cache directory\n")

	default:
		sb.WriteString("\nSuggestions:\n")
		sb.WriteString("  - Try again in a few minutes\n")
	}

	return sb.String()
}

func formatNetworkError(err net.Error, ctx *ErrorContext) string {
	var sb strings.Builder
	sb.WriteString(err.Error())
	sb.WriteString("\n")

	sb.WriteString("\nPossible causes:\n")
	if err.Timeout() {
		sb.WriteString("  - Request timed out\n")
	} else {
		sb.WriteString("  - Network connectivity issue\n")
	}
	sb.WriteString("  - Firewall or proxy blocking the connection\n")

	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Check your internet connection\n")
	sb.WriteString("  - Try again in a few minutes\n")

	return sb.String()
}

func formatGenericNotFound(errMsg string, ctx *ErrorContext) string {
	var sb strings.Builder
	sb.WriteString(errMsg)
	sb.WriteString("\n")
	sb.WriteString("\nPossible causes:\n")
	sb.WriteString("  - The crate does not exist on the configured search path\n")
	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Check the spelling of the crate name\n")
	if ctx != nil && ctx.CrateName != "" {
		sb.WriteString(fmt.Sprintf("  - Verify --extern %s=<path> points at an existing artifact\n", ctx.CrateName))
	}
	return sb.String()
}

func formatPermissionError(errMsg string) string {
	var sb strings.Builder
	sb.WriteString(errMsg)
	sb.WriteString("\n")
	sb.WriteString("\nPossible causes:\n")
	sb.WriteString("  - Insufficient permissions on $CRATELOAD_HOME\n")
	sb.WriteString("\nSuggestions:\n")
	sb.WriteString("  - Check permissions on the crateload home directory\n")
	return sb.String()
}

func isNotFoundError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "not found") ||
		strings.Contains(lower, "does not exist")
}

func isPermissionError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "operation not permitted")
}
