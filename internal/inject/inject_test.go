package inject

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crateload/crateload/internal/blob"
	"github.com/crateload/crateload/internal/crate"
	"github.com/crateload/crateload/internal/resolver"
	"github.com/crateload/crateload/internal/store"
	"github.com/crateload/crateload/internal/testutil"
)

func setup() (*store.Store, *testutil.FakeLocator, *testutil.FakeLoader, *resolver.Resolver, *Injector) {
	s := store.New()
	loc := testutil.NewFakeLocator()
	ldr := testutil.NewFakeLoader()
	r := resolver.New(s, loc, ldr, nil)
	inj := New(s, r, nil)
	return s, loc, ldr, r, inj
}

func intern(t *testing.T, s *store.Store, id crate.StableID, name string) crate.Num {
	t.Helper()
	num, err := s.Intern(id, name)
	require.NoError(t, err)
	return num
}

func TestInjector_Postprocess_NoStepsConfiguredIsNoop(t *testing.T) {
	_, _, _, _, inj := setup()
	err := inj.Postprocess(context.Background(), Options{})
	require.NoError(t, err)
}

func TestInjector_InjectCompilerBuiltins_SkipsWhenAlreadyPresent(t *testing.T) {
	s, loc, ldr, _, inj := setup()
	loc.Add("core_builtins", crate.KindRlib)
	ldr.Set("/fake/core_builtins.rlib", &blob.Descriptor{
		Name: "core_builtins", StableID: crate.StableID(1),
		Roles: crate.Roles{IsCompilerBuiltins: true},
	})
	meta := testutil.NewTestMetadata("core_builtins", crate.StableID(1))
	meta.Roles.IsCompilerBuiltins = true
	s.Set(intern(t, s, crate.StableID(1), "core_builtins"), meta)

	err := inj.Postprocess(context.Background(), Options{CompilerBuiltinsName: "core_builtins"})
	require.NoError(t, err)
}

func TestInjector_InjectCompilerBuiltins_InjectsWhenMissing(t *testing.T) {
	s, loc, ldr, _, inj := setup()
	loc.Add("core_builtins", crate.KindRlib)
	ldr.Set("/fake/core_builtins.rlib", &blob.Descriptor{
		Name: "core_builtins", StableID: crate.StableID(1),
		Roles: crate.Roles{IsCompilerBuiltins: true},
	})

	err := inj.Postprocess(context.Background(), Options{CompilerBuiltinsName: "core_builtins"})
	require.NoError(t, err)

	_, ok := s.Lookup(crate.StableID(1))
	require.True(t, ok)
}

func TestInjector_InjectCompilerBuiltins_RejectsNonDeclaringCandidate(t *testing.T) {
	_, loc, ldr, _, inj := setup()
	loc.Add("core_builtins", crate.KindRlib)
	ldr.Set("/fake/core_builtins.rlib", &blob.Descriptor{Name: "core_builtins", StableID: crate.StableID(1)})

	err := inj.Postprocess(context.Background(), Options{CompilerBuiltinsName: "core_builtins"})
	require.Error(t, err)

	var cerr *crate.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, crate.ErrNotCompilerBuiltins, cerr.Type)
}

func TestInjector_InjectForcedExterns_InjectsUnreferencedForcedCrate(t *testing.T) {
	s, loc, ldr, _, inj := setup()
	loc.Add("always_link", crate.KindRlib)
	ldr.Set("/fake/always_link.rlib", &blob.Descriptor{Name: "always_link", StableID: crate.StableID(1)})

	err := inj.Postprocess(context.Background(), Options{ForcedExterns: []string{"always_link"}})
	require.NoError(t, err)

	_, ok := s.Lookup(crate.StableID(1))
	require.True(t, ok)
}

func TestInjector_InjectForcedExterns_SkipsAlreadyPresent(t *testing.T) {
	s, loc, ldr, _, inj := setup()
	loc.Add("already_here", crate.KindRlib)
	ldr.Set("/fake/already_here.rlib", &blob.Descriptor{Name: "already_here", StableID: crate.StableID(1)})
	num := intern(t, s, crate.StableID(1), "already_here")
	s.Set(num, testutil.NewTestMetadata("already_here", crate.StableID(1)))

	err := inj.Postprocess(context.Background(), Options{ForcedExterns: []string{"already_here"}})
	require.NoError(t, err)
}

func TestInjector_InjectAllocatorCrate_NoneNeededIsNoop(t *testing.T) {
	s, loc, ldr, _, inj := setup()
	loc.Add("default_alloc", crate.KindRlib)
	ldr.Set("/fake/default_alloc.rlib", &blob.Descriptor{Name: "default_alloc", StableID: crate.StableID(1)})

	err := inj.Postprocess(context.Background(), Options{DefaultAllocatorName: "default_alloc"})
	require.NoError(t, err)

	_, ok := s.Lookup(crate.StableID(1))
	require.False(t, ok, "nothing declared NeedsAllocator, so the default allocator must never be resolved")
	require.Equal(t, crate.AllocatorNone, s.AllocatorKind())
}

func TestInjector_InjectAllocatorCrate_InjectsDefaultWhenNoneDeclared(t *testing.T) {
	s, loc, ldr, _, inj := setup()
	loc.Add("default_alloc", crate.KindRlib)
	ldr.Set("/fake/default_alloc.rlib", &blob.Descriptor{Name: "default_alloc", StableID: crate.StableID(1)})

	err := inj.Postprocess(context.Background(), Options{DefaultAllocatorName: "default_alloc", LocalNeedsAllocator: true})
	require.NoError(t, err)

	_, ok := s.Lookup(crate.StableID(1))
	require.True(t, ok)
	require.Equal(t, crate.AllocatorDefault, s.AllocatorKind())
}

func TestInjector_InjectAllocatorCrate_DefaultLibAllocatorSkipsInjection(t *testing.T) {
	s, _, _, _, inj := setup()
	err := inj.Postprocess(context.Background(), Options{
		DefaultAllocatorName: "default_alloc",
		DefaultLibAllocator:  true,
		LocalNeedsAllocator:  true,
	})
	require.NoError(t, err)
	require.Equal(t, crate.AllocatorDefault, s.AllocatorKind())
}

func TestInjector_InjectAllocatorCrate_DependencyDefaultLibAllocatorSkipsInjection(t *testing.T) {
	s, _, _, _, inj := setup()
	num := intern(t, s, crate.StableID(1), "std")
	meta := testutil.NewTestMetadata("std", crate.StableID(1))
	meta.Roles.HasDefaultLibAllocator = true
	s.Set(num, meta)

	err := inj.Postprocess(context.Background(), Options{DefaultAllocatorName: "default_alloc", LocalNeedsAllocator: true})
	require.NoError(t, err)
	require.Equal(t, crate.AllocatorDefault, s.AllocatorKind())
}

func TestInjector_InjectAllocatorCrate_SkipsWhenOneDeclared(t *testing.T) {
	s, _, _, _, inj := setup()
	num := intern(t, s, crate.StableID(1), "app_alloc")
	meta := testutil.NewTestMetadata("app_alloc", crate.StableID(1))
	meta.Roles.HasGlobalAllocator = true
	s.Set(num, meta)

	err := inj.Postprocess(context.Background(), Options{DefaultAllocatorName: "default_alloc", LocalNeedsAllocator: true})
	require.NoError(t, err)
	require.Equal(t, crate.AllocatorGlobal, s.AllocatorKind())
}

func TestInjector_InjectAllocatorCrate_ConflictingGlobalAllocatorsIsError(t *testing.T) {
	s, _, _, _, inj := setup()
	num1 := intern(t, s, crate.StableID(1), "alloc_a")
	meta1 := testutil.NewTestMetadata("alloc_a", crate.StableID(1))
	meta1.Roles.HasGlobalAllocator = true
	s.Set(num1, meta1)

	num2 := intern(t, s, crate.StableID(2), "alloc_b")
	meta2 := testutil.NewTestMetadata("alloc_b", crate.StableID(2))
	meta2.Roles.HasGlobalAllocator = true
	s.Set(num2, meta2)

	err := inj.Postprocess(context.Background(), Options{})
	require.Error(t, err)

	var cerr *crate.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, crate.ErrConflictingGlobalAlloc, cerr.Type)
}

func TestInjector_InjectAllocatorCrate_AllRlibOutputSkipsEntirely(t *testing.T) {
	_, _, _, _, inj := setup()
	err := inj.Postprocess(context.Background(), Options{AllRlibOutput: true, DefaultAllocatorName: "default_alloc", LocalNeedsAllocator: true})
	require.NoError(t, err)
}

func TestInjector_InjectAllocatorCrate_NoDefaultConfiguredIsError(t *testing.T) {
	_, _, _, _, inj := setup()
	err := inj.Postprocess(context.Background(), Options{LocalNeedsAllocator: true})
	require.Error(t, err)

	var cerr *crate.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, crate.ErrGlobalAllocRequired, cerr.Type)
}

func TestInjector_InjectPanicRuntime_InjectsMatchingStrategy(t *testing.T) {
	s, loc, ldr, _, inj := setup()
	num := intern(t, s, crate.StableID(1), "app")
	meta := testutil.NewTestMetadata("app", crate.StableID(1))
	meta.Roles.NeedsPanicRuntime = true
	s.Set(num, meta)

	loc.Add("panic_unwind", crate.KindRlib)
	ldr.Set("/fake/panic_unwind.rlib", &blob.Descriptor{
		Name: "panic_unwind", StableID: crate.StableID(2),
		Roles: crate.Roles{IsPanicRuntime: true, RequiredPanicStrategy: crate.PanicUnwind},
	})

	err := inj.Postprocess(context.Background(), Options{PanicStrategy: crate.PanicUnwind, PanicUnwindName: "panic_unwind"})
	require.NoError(t, err)

	injectedNum, ok := s.Lookup(crate.StableID(2))
	require.True(t, ok)

	recorded, ok := s.InjectedPanicRuntime()
	require.True(t, ok)
	require.Equal(t, injectedNum, recorded)
}

func TestInjector_InjectPanicRuntime_StrategyMismatchIsError(t *testing.T) {
	s, loc, ldr, _, inj := setup()
	num := intern(t, s, crate.StableID(1), "app")
	meta := testutil.NewTestMetadata("app", crate.StableID(1))
	meta.Roles.NeedsPanicRuntime = true
	s.Set(num, meta)

	loc.Add("panic_unwind", crate.KindRlib)
	ldr.Set("/fake/panic_unwind.rlib", &blob.Descriptor{
		Name: "panic_unwind", StableID: crate.StableID(2),
		Roles: crate.Roles{IsPanicRuntime: true, RequiredPanicStrategy: crate.PanicAbort},
	})

	err := inj.Postprocess(context.Background(), Options{PanicStrategy: crate.PanicUnwind, PanicUnwindName: "panic_unwind"})
	require.Error(t, err)

	var cerr *crate.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, crate.ErrNoPanicStrategy, cerr.Type)

	_, ok := s.InjectedPanicRuntime()
	require.False(t, ok)
}

func TestInjector_InjectPanicRuntime_ImmediateAbortSkips(t *testing.T) {
	s, _, _, _, inj := setup()
	num := intern(t, s, crate.StableID(1), "app")
	meta := testutil.NewTestMetadata("app", crate.StableID(1))
	meta.Roles.NeedsPanicRuntime = true
	s.Set(num, meta)

	err := inj.Postprocess(context.Background(), Options{PanicStrategy: crate.PanicImmediateAbort, PanicUnwindName: "panic_unwind"})
	require.NoError(t, err)
}

func TestInjector_InjectPanicRuntime_NotNeededSkips(t *testing.T) {
	_, _, _, _, inj := setup()
	err := inj.Postprocess(context.Background(), Options{PanicStrategy: crate.PanicUnwind, PanicUnwindName: "panic_unwind"})
	require.NoError(t, err)
}
