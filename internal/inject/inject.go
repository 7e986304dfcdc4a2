// Package inject implements the Runtime Injector: after the explicit
// dependency graph has been resolved, this package adds the crates the
// toolchain itself requires — compiler builtins, forced externs, the
// profiler runtime, an allocator, and a panic runtime — in a fixed order,
// because later steps depend on facts only earlier steps establish.
package inject

import (
	"context"

	"github.com/crateload/crateload/internal/crate"
	"github.com/crateload/crateload/internal/log"
	"github.com/crateload/crateload/internal/resolver"
	"github.com/crateload/crateload/internal/store"
)

// Options controls which injection steps run and with what parameters.
type Options struct {
	// AllRlibOutput means the compilation produces only rlib output; in
	// that case no panic runtime is linked in, since the panic runtime is
	// only needed for a final linked artifact.
	AllRlibOutput bool
	PanicStrategy crate.PanicStrategy
	// NoProfilerRuntime disables injection even when instrumentation was
	// requested, for toolchains that supply their own.
	NoProfilerRuntime bool
	InstrumentCoverage bool
	ProfileGenerate    bool
	// DefaultLibAllocator selects the standard library's default
	// allocator: when an allocator is needed and nothing declared
	// #[global_allocator], AllocatorKind is recorded as AllocatorDefault
	// and DefaultAllocatorName is not resolved.
	DefaultLibAllocator bool
	// ForcedExterns lists --extern NAME force entries: crates that must
	// be linked in even though nothing in the graph references them.
	ForcedExterns []string

	CompilerBuiltinsName string
	ProfilerRuntimeName   string
	DefaultAllocatorName  string
	PanicUnwindName       string
	PanicAbortName        string

	// LocalNeedsAllocator, LocalHasGlobalAllocator and LocalHasAllocErrorHandler
	// carry the same signals Roles carries for a loaded crate, but for the
	// crate currently being compiled, which never has a Store entry of its
	// own.
	LocalNeedsAllocator       bool
	LocalHasGlobalAllocator   bool
	LocalHasAllocErrorHandler bool
}

// Injector runs the five-step injection sequence against a Store that the
// Resolver has already populated with the explicit dependency graph.
type Injector struct {
	Store    *store.Store
	Resolver *resolver.Resolver
	Logger   log.Logger
}

// New constructs an Injector.
func New(s *store.Store, r *resolver.Resolver, logger log.Logger) *Injector {
	if logger == nil {
		logger = log.Default()
	}
	return &Injector{Store: s, Resolver: r, Logger: logger}
}

// Postprocess runs every injection step in the fixed order the original
// toolchain uses: compiler builtins first (since other injected crates may
// themselves need it), then forced externs, then the profiler runtime,
// then the allocator, and finally the panic runtime. The panic runtime is
// chosen from the panic strategy alone; the allocator choice does not
// affect it.
func (inj *Injector) Postprocess(ctx context.Context, opts Options) error {
	if err := inj.injectCompilerBuiltins(ctx, opts); err != nil {
		return err
	}
	if err := inj.injectForcedExterns(ctx, opts); err != nil {
		return err
	}
	if err := inj.injectProfilerRuntime(ctx, opts); err != nil {
		return err
	}
	if err := inj.injectAllocatorCrate(ctx, opts); err != nil {
		return err
	}
	if err := inj.injectPanicRuntime(ctx, opts); err != nil {
		return err
	}
	return nil
}

// loaded returns every crate reachable from the local unit, leaves first.
// Using DependenciesPostorder here (rather than Store.All) means the
// Injector walks the same order the linker will see, and degrades
// gracefully if the Store ever needs to distinguish "loaded but
// unreachable from the local crate" from "loaded" in the future.
func (inj *Injector) loaded() []crate.Num {
	return inj.Store.DependenciesPostorder(crate.LocalCrate)
}

func (inj *Injector) hasRole(pred func(crate.Roles) bool) bool {
	for _, n := range inj.loaded() {
		if m := inj.Store.Get(n); m != nil && pred(m.Roles) {
			return true
		}
	}
	return false
}

// injectCompilerBuiltins resolves the compiler-builtins crate unless one is
// already present in the graph.
func (inj *Injector) injectCompilerBuiltins(ctx context.Context, opts Options) error {
	if opts.CompilerBuiltinsName == "" {
		return nil
	}
	if inj.hasRole(func(r crate.Roles) bool { return r.IsCompilerBuiltins }) {
		return nil
	}
	num, err := inj.Resolver.Resolve(ctx, resolver.Request{
		Name:    opts.CompilerBuiltinsName,
		Kind:    crate.KindAny,
		DepKind: crate.DepImplicit,
		Origin:  crate.OriginInjected,
	})
	if err != nil {
		return err
	}
	meta := inj.Store.Get(num)
	if meta != nil && !meta.Roles.IsCompilerBuiltins {
		return crate.NewError(crate.ErrNotCompilerBuiltins, opts.CompilerBuiltinsName, "injected compiler-builtins candidate does not declare itself as one")
	}
	inj.Logger.Debug("inject: compiler-builtins resolved", "crate", opts.CompilerBuiltinsName)
	return nil
}

// injectForcedExterns resolves any --extern NAME force crates not already
// reached by the explicit graph.
func (inj *Injector) injectForcedExterns(ctx context.Context, opts Options) error {
	for _, name := range opts.ForcedExterns {
		if _, _, found := inj.Store.Find(func(_ crate.Num, m *crate.Metadata) bool { return m.Name == name }); found {
			continue
		}
		if _, err := inj.Resolver.Resolve(ctx, resolver.Request{
			Name:    name,
			Kind:    crate.KindAny,
			DepKind: crate.DepExplicit,
			Origin:  crate.OriginInjected,
		}); err != nil {
			return err
		}
	}
	return nil
}

// injectProfilerRuntime resolves the profiler runtime crate when coverage
// instrumentation or profile-guided-optimization generation was requested.
func (inj *Injector) injectProfilerRuntime(ctx context.Context, opts Options) error {
	if opts.NoProfilerRuntime || opts.ProfilerRuntimeName == "" {
		return nil
	}
	if !opts.InstrumentCoverage && !opts.ProfileGenerate {
		return nil
	}
	num, err := inj.Resolver.Resolve(ctx, resolver.Request{
		Name:    opts.ProfilerRuntimeName,
		Kind:    crate.KindAny,
		DepKind: crate.DepImplicit,
		Origin:  crate.OriginInjected,
	})
	if err != nil {
		return err
	}
	meta := inj.Store.Get(num)
	if meta != nil && !meta.Roles.IsProfilerRuntime {
		return crate.NewError(crate.ErrNotProfilerRuntime, opts.ProfilerRuntimeName, "injected profiler-runtime candidate does not declare itself as one")
	}
	return nil
}

// injectAllocatorCrate enforces the at-most-one-#[global_allocator] and
// at-most-one-alloc-error-handler invariants across the whole graph, then,
// only if something in the graph actually needs an allocator, injects a
// default allocator crate if nothing declared one. A compilation where
// nothing needs an allocator at all (most rlib-only builds, and crates with
// no heap use) leaves AllocatorKind at AllocatorNone and never resolves
// DefaultAllocatorName, even if one is configured.
func (inj *Injector) injectAllocatorCrate(ctx context.Context, opts Options) error {
	if opts.AllRlibOutput {
		return nil
	}

	var (
		allocators             []string
		errorHandlers          []string
		hasDefaultLibAllocator bool
	)
	if opts.LocalHasGlobalAllocator {
		allocators = append(allocators, "<local crate>")
	}
	if opts.LocalHasAllocErrorHandler {
		errorHandlers = append(errorHandlers, "<local crate>")
	}
	for _, n := range inj.loaded() {
		m := inj.Store.Get(n)
		if m == nil {
			continue
		}
		if m.Roles.HasGlobalAllocator {
			allocators = append(allocators, m.Name)
		}
		if m.Roles.HasAllocErrorHandler {
			errorHandlers = append(errorHandlers, m.Name)
		}
		if m.Roles.HasDefaultLibAllocator {
			hasDefaultLibAllocator = true
		}
	}

	if len(allocators) > 1 {
		return crate.NewError(crate.ErrConflictingGlobalAlloc, allocators[0], "multiple crates declare #[global_allocator]: "+joinNames(allocators))
	}
	if len(errorHandlers) > 1 {
		return crate.NewError(crate.ErrConflictingAllocErrorHandler, errorHandlers[0], "multiple crates declare an alloc-error handler: "+joinNames(errorHandlers))
	}

	if len(allocators) == 1 {
		inj.Store.SetAllocatorKind(crate.AllocatorGlobal)
		if len(errorHandlers) == 1 {
			inj.Store.SetAllocErrorHandlerKind(crate.AllocatorGlobal)
		}
		return nil
	}

	needsAllocator := opts.LocalNeedsAllocator || inj.hasRole(func(r crate.Roles) bool { return r.NeedsAllocator })
	if !needsAllocator {
		return nil
	}

	if hasDefaultLibAllocator || opts.DefaultLibAllocator {
		inj.Store.SetAllocatorKind(crate.AllocatorDefault)
		return nil
	}

	if opts.DefaultAllocatorName == "" {
		return crate.NewError(crate.ErrGlobalAllocRequired, "", "no #[global_allocator] declared and no default allocator crate configured")
	}

	if _, err := inj.Resolver.Resolve(ctx, resolver.Request{
		Name:    opts.DefaultAllocatorName,
		Kind:    crate.KindAny,
		DepKind: crate.DepImplicit,
		Origin:  crate.OriginInjected,
	}); err != nil {
		return crate.Wrap(crate.ErrGlobalAllocRequired, opts.DefaultAllocatorName, "no #[global_allocator] declared and default allocator crate unavailable", err)
	}
	inj.Store.SetAllocatorKind(crate.AllocatorDefault)
	return nil
}

// injectPanicRuntime resolves the panic runtime crate matching opts'
// configured panic strategy, unless the output is all-rlib (no linked
// artifact needs one) or the strategy is ImmediateAbort (no runtime support
// needed at all).
func (inj *Injector) injectPanicRuntime(ctx context.Context, opts Options) error {
	if opts.AllRlibOutput || opts.PanicStrategy == crate.PanicImmediateAbort {
		return nil
	}
	if !inj.needsPanicRuntime() {
		return nil
	}

	name := opts.PanicUnwindName
	if opts.PanicStrategy == crate.PanicAbort {
		name = opts.PanicAbortName
	}
	if name == "" {
		return nil
	}

	num, err := inj.Resolver.Resolve(ctx, resolver.Request{
		Name:    name,
		Kind:    crate.KindAny,
		DepKind: crate.DepImplicit,
		Origin:  crate.OriginInjected,
	})
	if err != nil {
		return err
	}
	meta := inj.Store.Get(num)
	if meta == nil || !meta.Roles.IsPanicRuntime {
		return crate.NewError(crate.ErrNotPanicRuntime, name, "injected panic-runtime candidate does not declare itself as one")
	}
	if meta.Roles.RequiredPanicStrategy != opts.PanicStrategy {
		return crate.NewError(crate.ErrNoPanicStrategy, name, "panic-runtime candidate implements a different strategy than requested")
	}
	inj.Store.SetInjectedPanicRuntime(num)
	return nil
}

func (inj *Injector) needsPanicRuntime() bool {
	return inj.hasRole(func(r crate.Roles) bool { return r.NeedsPanicRuntime })
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
