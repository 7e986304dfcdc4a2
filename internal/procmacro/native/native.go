// Package native loads proc-macro crates compiled as native dynamic
// libraries. It is the one component of this module built on the standard
// library alone: Go's plugin package is the only supported way to dlopen a
// Go-compiled shared object and resolve exported symbols by name, and no
// third-party library in the example pack offers an alternative to it.
package native

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"plugin"
	"time"

	"github.com/crateload/crateload/internal/crate"
	"github.com/crateload/crateload/internal/log"
	"github.com/crateload/crateload/internal/procmacro"
)

// DeclsSymbolPrefix begins the name of the exported symbol every native
// proc-macro dylib must define (see symbolName): a func() []procmacro.Decl
// that enumerates what the dylib exports. The dylib must also export
// InvokeProcMacro, a func(procmacro.Decl, []byte) ([]byte, error) that
// Invoke calls with the chosen Decl.
const DeclsSymbolPrefix = "ProcMacroDecls_"

// MaxAttempts bounds how many times Load retries a failed plugin.Open
// before giving up. A missing file is a permanent condition and is never
// retried; everything else (the file existing but not yet a complete,
// loadable plugin image, e.g. still being written by a concurrent build
// step) gets the full retry budget.
var (
	MaxAttempts = 5
	RetryDelay  = 100 * time.Millisecond
)

// SetRetryPolicy overrides MaxAttempts and RetryDelay, intended to be called
// once at startup from configuration.
func SetRetryPolicy(maxAttempts int, retryDelay time.Duration) {
	if maxAttempts > 0 {
		MaxAttempts = maxAttempts
	}
	if retryDelay > 0 {
		RetryDelay = retryDelay
	}
}

// Loader loads native proc-macro dylibs for one StableID at a time.
type Loader struct {
	Logger log.Logger
}

// New constructs a Loader.
func New(logger log.Logger) *Loader {
	if logger == nil {
		logger = log.Default()
	}
	return &Loader{Logger: logger}
}

// symbolName derives the exported decls-accessor symbol name for a crate
// from its StableID, the same way the original generates a
// generate_proc_macro_decls_symbol name scoped to that crate's identity so
// that two different proc-macro crates loaded in the same process never
// collide on symbol name.
func symbolName(id crate.StableID) string {
	return fmt.Sprintf("%s%s", DeclsSymbolPrefix, id)
}

// Load opens the dylib at path and resolves its proc-macro declarations,
// retrying up to MaxAttempts times with RetryDelay between attempts if the
// open fails.
func (l *Loader) Load(path string, id crate.StableID) (*Module, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, crate.Wrap(crate.ErrDlOpen, "", "native proc-macro dylib "+path+" does not exist", err)
	}
	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		p, err := plugin.Open(path)
		if err == nil {
			return l.bind(p, path, id)
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil, crate.Wrap(crate.ErrDlOpen, "", "native proc-macro dylib "+path+" does not exist", err)
		}
		lastErr = err
		l.Logger.Warn("native: dlopen failed, retrying", "path", path, "attempt", attempt, "error", err)
		if attempt < MaxAttempts {
			time.Sleep(RetryDelay)
		}
	}
	return nil, crate.Wrap(crate.ErrDlOpen, "", "failed to load native proc-macro dylib "+path+" after retries", lastErr)
}

func (l *Loader) bind(p *plugin.Plugin, path string, id crate.StableID) (*Module, error) {
	sym, err := p.Lookup(symbolName(id))
	if err != nil {
		return nil, crate.Wrap(crate.ErrDlSym, "", "dylib "+path+" does not export "+symbolName(id), err)
	}
	declsFn, ok := sym.(func() []procmacro.Decl)
	if !ok {
		return nil, crate.NewError(crate.ErrDlSym, "", "dylib "+path+" exports "+symbolName(id)+" with the wrong signature")
	}

	invokeSym, err := p.Lookup("InvokeProcMacro")
	if err != nil {
		return nil, crate.Wrap(crate.ErrDlSym, "", "dylib "+path+" does not export InvokeProcMacro", err)
	}
	invokeFn, ok := invokeSym.(func(procmacro.Decl, []byte) ([]byte, error))
	if !ok {
		return nil, crate.NewError(crate.ErrDlSym, "", "dylib "+path+" exports InvokeProcMacro with the wrong signature")
	}

	return &Module{decls: declsFn(), invoke: invokeFn}, nil
}

// Module is a loaded native proc-macro dylib.
type Module struct {
	decls  []procmacro.Decl
	invoke func(procmacro.Decl, []byte) ([]byte, error)
}

func (m *Module) Decls() []procmacro.Decl { return m.decls }

func (m *Module) Invoke(decl procmacro.Decl, input []byte) ([]byte, error) {
	return m.invoke(decl, input)
}

// Close is a no-op: Go's plugin package provides no way to unload a loaded
// plugin, matching the process-lifetime-bound nature of dlopen'd code.
func (m *Module) Close() error { return nil }

var _ procmacro.Macro = (*Module)(nil)
