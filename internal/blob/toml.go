package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/klauspost/compress/zstd"

	"github.com/crateload/crateload/internal/crate"
)

// endFileMagic terminates every well-formed blob. A compiled artifact whose
// metadata section was truncated mid-write (crash, disk-full, interrupted
// copy) will be missing it, and TOMLLoader treats that as corruption rather
// than guessing at whatever partial document it did manage to parse.
const endFileMagic = "\n#rust-end-file\n"

// TOMLLoader is the reference MetadataLoader: metadata blobs are
// zstd-compressed TOML documents, the same compressed-blob-in-an-archive
// shape real rlib/rmeta metadata sections use, made legible with the
// teacher's recipe serialization format instead of a binary wire format.
type TOMLLoader struct {
	decoder *zstd.Decoder
}

// NewTOMLLoader constructs a TOMLLoader with a shared zstd decoder.
func NewTOMLLoader() (*TOMLLoader, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("blob: init zstd decoder: %w", err)
	}
	return &TOMLLoader{decoder: dec}, nil
}

type document struct {
	Crate struct {
		Name     string `toml:"name"`
		StableID string `toml:"stable_crate_id"`
		Hash     string `toml:"hash"`
	} `toml:"crate"`
	Dependencies []struct {
		Name     string `toml:"name"`
		StableID string `toml:"stable_crate_id"`
		DepKind  string `toml:"dep_kind"`
	} `toml:"dependencies"`
	Roles struct {
		IsPanicRuntime        bool   `toml:"is_panic_runtime"`
		RequiredPanicStrategy string `toml:"required_panic_strategy"`
		IsProfilerRuntime     bool   `toml:"is_profiler_runtime"`
		IsAllocator           bool   `toml:"is_allocator"`
		HasGlobalAllocator    bool   `toml:"has_global_allocator"`
		HasDefaultLibAllocator bool  `toml:"has_default_lib_allocator"`
		HasAllocErrorHandler  bool   `toml:"has_alloc_error_handler"`
		IsCompilerBuiltins    bool   `toml:"is_compiler_builtins"`
		IsProcMacroCrate      bool   `toml:"is_proc_macro_crate"`
		NeedsPanicRuntime     bool   `toml:"needs_panic_runtime"`
		NeedsAllocator        bool   `toml:"needs_allocator"`
		NeedsProfilerRuntime  bool   `toml:"needs_profiler_runtime"`
	} `toml:"roles"`
}

// Load reads, decompresses and decodes the metadata blob at path.
func (l *TOMLLoader) Load(ctx context.Context, path string) (*Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, crate.Wrap(crate.ErrNotFound, "", "failed to read metadata blob", err)
	}

	plain, err := l.decompress(raw)
	if err != nil {
		return nil, crate.Wrap(crate.ErrNotFound, "", "failed to decompress metadata blob "+path, err)
	}

	if !bytes.HasSuffix(plain, []byte(endFileMagic)) {
		return nil, crate.NewError(crate.ErrNotFound, "", "metadata blob "+path+" is missing its end-of-file marker; artifact may be truncated")
	}
	plain = plain[:len(plain)-len(endFileMagic)]

	var doc document
	if _, err := toml.Decode(string(plain), &doc); err != nil {
		return nil, crate.Wrap(crate.ErrNotFound, doc.Crate.Name, "failed to parse metadata blob "+path, err)
	}

	id, err := parseStableID(doc.Crate.StableID)
	if err != nil {
		return nil, crate.Wrap(crate.ErrNotFound, doc.Crate.Name, "invalid stable_crate_id in "+path, err)
	}

	desc := &Descriptor{
		Name:     doc.Crate.Name,
		StableID: id,
		Hash:     doc.Crate.Hash,
		Roles: crate.Roles{
			IsPanicRuntime:       doc.Roles.IsPanicRuntime,
			IsProfilerRuntime:    doc.Roles.IsProfilerRuntime,
			IsAllocator:          doc.Roles.IsAllocator,
			HasGlobalAllocator:   doc.Roles.HasGlobalAllocator,
			HasDefaultLibAllocator: doc.Roles.HasDefaultLibAllocator,
			HasAllocErrorHandler: doc.Roles.HasAllocErrorHandler,
			IsCompilerBuiltins:   doc.Roles.IsCompilerBuiltins,
			IsProcMacroCrate:     doc.Roles.IsProcMacroCrate,
			NeedsPanicRuntime:    doc.Roles.NeedsPanicRuntime,
			NeedsAllocator:       doc.Roles.NeedsAllocator,
			NeedsProfilerRuntime: doc.Roles.NeedsProfilerRuntime,
		},
	}
	desc.Roles.RequiredPanicStrategy = parsePanicStrategy(doc.Roles.RequiredPanicStrategy)

	for _, d := range doc.Dependencies {
		depID, err := parseStableID(d.StableID)
		if err != nil {
			return nil, crate.Wrap(crate.ErrNotFound, doc.Crate.Name, "invalid dependency stable_crate_id in "+path, err)
		}
		desc.Deps = append(desc.Deps, crate.Dep{
			Name:     d.Name,
			StableID: depID,
			DepKind:  parseDepKind(d.DepKind),
		})
	}

	return desc, nil
}

func (l *TOMLLoader) decompress(raw []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := l.decoder.Reset(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	if _, err := io.Copy(&out, l.decoder); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// EncodeForTest builds a compressed blob document for use in tests and the
// reference locator's fixtures; production blobs are produced upstream of
// this module (code generation is explicitly out of scope), but tests need
// a way to construct fixtures in the same format Load expects.
func EncodeForTest(d *Descriptor) ([]byte, error) {
	var body strings.Builder
	fmt.Fprintf(&body, "[crate]\nname = %q\nstable_crate_id = %q\nhash = %q\n\n", d.Name, formatStableID(d.StableID), d.Hash)
	for _, dep := range d.Deps {
		fmt.Fprintf(&body, "[[dependencies]]\nname = %q\nstable_crate_id = %q\ndep_kind = %q\n\n",
			dep.Name, formatStableID(dep.StableID), formatDepKind(dep.DepKind))
	}
	fmt.Fprintf(&body, "[roles]\nis_panic_runtime = %v\nrequired_panic_strategy = %q\nis_profiler_runtime = %v\n"+
		"is_allocator = %v\nhas_global_allocator = %v\nhas_default_lib_allocator = %v\nhas_alloc_error_handler = %v\n"+
		"is_compiler_builtins = %v\nis_proc_macro_crate = %v\n"+
		"needs_panic_runtime = %v\nneeds_allocator = %v\nneeds_profiler_runtime = %v\n",
		d.Roles.IsPanicRuntime, formatPanicStrategy(d.Roles.RequiredPanicStrategy), d.Roles.IsProfilerRuntime,
		d.Roles.IsAllocator, d.Roles.HasGlobalAllocator, d.Roles.HasDefaultLibAllocator, d.Roles.HasAllocErrorHandler,
		d.Roles.IsCompilerBuiltins, d.Roles.IsProcMacroCrate,
		d.Roles.NeedsPanicRuntime, d.Roles.NeedsAllocator, d.Roles.NeedsProfilerRuntime)
	body.WriteString(endFileMagic)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll([]byte(body.String()), nil), nil
}

func parseStableID(s string) (crate.StableID, error) {
	s = strings.TrimPrefix(s, "0x")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, err
	}
	return crate.StableID(v), nil
}

func formatStableID(id crate.StableID) string {
	return fmt.Sprintf("0x%016x", uint64(id))
}

func parseDepKind(s string) crate.DepKind {
	switch s {
	case "explicit":
		return crate.DepExplicit
	case "macros-only":
		return crate.DepMacrosOnly
	default:
		return crate.DepImplicit
	}
}

func formatDepKind(k crate.DepKind) string { return k.String() }

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

func formatPanicStrategy(p crate.PanicStrategy) string { return p.String() }
