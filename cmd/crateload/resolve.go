package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/crateload/crateload/internal/blob"
	"github.com/crateload/crateload/internal/blobcache"
	"github.com/crateload/crateload/internal/config"
	"github.com/crateload/crateload/internal/crate"
	"github.com/crateload/crateload/internal/errmsg"
	"github.com/crateload/crateload/internal/httputil"
	"github.com/crateload/crateload/internal/inject"
	"github.com/crateload/crateload/internal/locator"
	"github.com/crateload/crateload/internal/log"
	"github.com/crateload/crateload/internal/options"
	"github.com/crateload/crateload/internal/procmacro/wasm"
	"github.com/crateload/crateload/internal/resolver"
	"github.com/crateload/crateload/internal/store"
	"github.com/crateload/crateload/internal/unused"
)

// isTerminalFunc is swapped out in tests, so that the term.IsTerminal check
// is testable without a real TTY.
var isTerminalFunc = term.IsTerminal

const (
	ansiYellow = "\x1b[33m"
	ansiReset  = "\x1b[0m"
)

var (
	externFlags         []string
	searchPathFlags     []string
	wasmProcMacroFlags  []string
	panicStrategyFlag   string
	allRlibFlag         bool
	allowABIMismatch    bool
	jsonUnusedExterns   bool
	defaultLibAllocator bool
	registryURL         string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve NAME",
	Short: "Resolve a crate and its transitive dependencies",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

func init() {
	resolveCmd.Flags().StringArrayVar(&externFlags, "extern", nil, "NAME=PATH, NAME:pub, NAME:priv, NAME force, or NAME nounused_dep")
	resolveCmd.Flags().StringArrayVarP(&searchPathFlags, "search-path", "L", nil, "directory to add to the crate search path")
	resolveCmd.Flags().StringArrayVar(&wasmProcMacroFlags, "wasm-proc-macro", nil, "path to a sandboxed WASM proc-macro module")
	resolveCmd.Flags().StringVar(&panicStrategyFlag, "panic", "unwind", "panic strategy: unwind, abort, or immediate-abort")
	resolveCmd.Flags().BoolVar(&allRlibFlag, "all-rlib", false, "compilation produces only rlib output")
	resolveCmd.Flags().BoolVar(&allowABIMismatch, "allow-abi-mismatch", false, "skip panic-runtime/allocator compatibility checks")
	resolveCmd.Flags().BoolVar(&jsonUnusedExterns, "json-unused-externs", false, "emit the unused-dependency report as JSON")
	resolveCmd.Flags().BoolVar(&defaultLibAllocator, "default-lib-allocator", false, "use the standard library's default allocator instead of injecting alloc_system")
	resolveCmd.Flags().StringVar(&registryURL, "registry-url", "", "base URL of a remote blob source to fall back to when a crate isn't found on the search path")
}

func parseExtern(raw string) options.ExternEntry {
	e := options.ExternEntry{}
	name := raw
	if idx := strings.Index(raw, "="); idx >= 0 {
		name = raw[:idx]
		e.Path = raw[idx+1:]
	}
	if idx := strings.Index(name, ":"); idx >= 0 {
		modifier := name[idx+1:]
		name = name[:idx]
		switch modifier {
		case "pub":
			v := true
			e.Public = &v
		case "priv":
			v := false
			e.Public = &v
		}
	}
	if idx := strings.Index(name, " "); idx >= 0 {
		modifier := strings.TrimSpace(name[idx+1:])
		name = strings.TrimSpace(name[:idx])
		switch modifier {
		case "force":
			e.Force = true
		case "noprelude", "nounused_dep":
			e.NoUnusedDep = true
		}
	}
	e.Name = name
	return e
}

func parsePanicStrategy(s string) crate.PanicStrategy {
	switch s {
	case "abort":
		return crate.PanicAbort
	case "immediate-abort":
		return crate.PanicImmediateAbort
	default:
		return crate.PanicUnwind
	}
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name := args[0]
	logger := log.Default()

	cfg, err := config.DefaultConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get config: %v\n", err)
		exitWithCode(ExitGeneral)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}

	opts := options.Options{
		PanicStrategy:        parsePanicStrategy(panicStrategyFlag),
		AllRlibOutput:        allRlibFlag,
		AllowABIMismatch:     allowABIMismatch,
		JSONUnusedExterns:    jsonUnusedExterns,
		DefaultLibAllocator:  defaultLibAllocator,
		WasmProcMacroFiles:   wasmProcMacroFlags,
		SearchPaths:          append([]string{cfg.SearchPathDir}, searchPathFlags...),
		CompilerBuiltinsName: "compiler_builtins",
		ProfilerRuntimeName:  "profiler_builtins",
		DefaultAllocatorName: "alloc_system",
		PanicUnwindName:      "panic_unwind",
		PanicAbortName:       "panic_abort",
	}
	for _, raw := range externFlags {
		opts.Externs = append(opts.Externs, parseExtern(raw))
	}

	var forced []string
	for _, e := range opts.Externs {
		if e.Force {
			forced = append(forced, e.Name)
		}
	}

	loader, err := blob.NewTOMLLoader()
	if err != nil {
		return err
	}
	cache := blobcache.New(loader, config.GetBlobCacheTTL())
	cache.SetMaxStale(config.GetBlobCacheMaxStale())
	cache.SetStaleFallback(config.GetBlobCacheStaleFallback())
	manager := blobcache.NewCacheManager(cfg.BlobCacheDir, config.GetBlobCacheSizeLimit())
	cache.SetCacheManager(manager)
	if registryURL != "" {
		cache.WithRemote(httputil.NewSecureClient(httputil.DefaultOptions()), registryURL, cfg.BlobCacheDir)
	}

	s := store.New()
	loc := locator.NewSearchPathLocator(opts.SearchPaths...)
	res := resolver.New(s, loc, cache, logger)
	res.AllowProcMacroFallback = true

	usedExterns := make(map[string]bool)
	for _, e := range opts.Externs {
		req := resolver.Request{
			Name:         e.Name,
			Kind:         crate.KindAny,
			DepKind:      crate.DepExplicit,
			Origin:       crate.OriginExtern,
			ExplicitPath: e.Path,
			ExternPublic: e.Public,
			Extern:       crate.ExternCrate{PathLen: 0},
		}
		if _, err := res.Resolve(ctx, req); err != nil {
			fmt.Fprintln(os.Stderr, errmsg.Format(err, &errmsg.ErrorContext{CrateName: e.Name}))
			exitWithCode(exitCodeFor(err))
		}
		usedExterns[e.Name] = true
	}

	num, err := res.Resolve(ctx, resolver.Request{
		Name:    name,
		Kind:    crate.KindAny,
		DepKind: crate.DepExplicit,
		Origin:  crate.OriginExtern,
		Extern:  crate.ExternCrate{PathLen: 0},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, errmsg.Format(err, &errmsg.ErrorContext{CrateName: name}))
		exitWithCode(exitCodeFor(err))
	}
	usedExterns[name] = true

	for _, path := range opts.WasmProcMacroFiles {
		bytes, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, errmsg.Format(err, nil))
			exitWithCode(ExitProcMacroFailure)
		}
		if _, err := wasm.Load(ctx, bytes, path); err != nil {
			fmt.Fprintln(os.Stderr, errmsg.Format(err, nil))
			exitWithCode(ExitProcMacroFailure)
		}
	}

	injector := inject.New(s, res, logger)
	injectOpts := inject.Options{
		AllRlibOutput:        opts.AllRlibOutput,
		PanicStrategy:        opts.PanicStrategy,
		DefaultLibAllocator:  opts.DefaultLibAllocator,
		CompilerBuiltinsName: opts.CompilerBuiltinsName,
		ProfilerRuntimeName:  opts.ProfilerRuntimeName,
		DefaultAllocatorName: opts.DefaultAllocatorName,
		PanicUnwindName:      opts.PanicUnwindName,
		PanicAbortName:       opts.PanicAbortName,
		ForcedExterns:        forced,
	}
	if err := injector.Postprocess(ctx, injectOpts); err != nil && !opts.AllowABIMismatch {
		fmt.Fprintln(os.Stderr, errmsg.Format(err, nil))
		exitWithCode(ExitInjectionFailure)
	}

	s.Freeze()

	var declared []unused.Extern
	for _, e := range opts.Externs {
		declared = append(declared, unused.Extern{Name: e.Name, Force: e.Force, NoUnusedDep: e.NoUnusedDep})
	}
	reporter := unused.New(s)
	report := reporter.Report(declared, usedExterns)
	for _, e := range opts.Externs {
		if unused.CheckFutureIncompatible(e.Name) {
			report.FutureIncompatible = append(report.FutureIncompatible, e.Name)
		}
	}
	s.SetUnusedExternRecord(report.Unused)
	printReport(report, opts.JSONUnusedExterns)

	fmt.Printf("resolved %s as %s\n", name, num)
	return nil
}

func printReport(r unused.Report, asJSON bool) {
	if len(r.Unused) == 0 && len(r.FutureIncompatible) == 0 {
		return
	}
	if asJSON {
		data, _ := json.Marshal(r)
		fmt.Fprintln(os.Stderr, string(data))
		return
	}
	warn := warnf
	if isTerminalFunc(int(os.Stderr.Fd())) {
		warn = func(format string, args ...any) {
			fmt.Fprint(os.Stderr, ansiYellow)
			fmt.Fprintf(os.Stderr, format, args...)
			fmt.Fprint(os.Stderr, ansiReset)
		}
	}
	for _, name := range r.Unused {
		warn("warning: unused extern crate `%s`\n", name)
	}
	for _, name := range r.FutureIncompatible {
		warn("warning: `%s` depends on a version known to be incompatible with a future ABI change\n", name)
	}
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}

func exitCodeFor(err error) int {
	var crateErr *crate.Error
	if cErr, ok := err.(*crate.Error); ok {
		crateErr = cErr
	}
	if crateErr == nil {
		return ExitGeneral
	}
	switch crateErr.Type {
	case crate.ErrNotFound:
		return ExitCrateNotFound
	case crate.ErrMultipleCandidates:
		return ExitAmbiguous
	case crate.ErrDlOpen, crate.ErrDlSym, crate.ErrWasmDecode, crate.ErrSlotsExhausted, crate.ErrSyntheticCrate:
		return ExitProcMacroFailure
	default:
		return ExitGeneral
	}
}
