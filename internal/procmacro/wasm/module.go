// Package wasm implements the sandboxed WebAssembly proc-macro bridge: a
// dual to procmacro/native for proc-macro crates compiled to WASM and
// loaded with no native code execution at all, using wazero as an
// embedded, dependency-free WASM runtime.
package wasm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/crateload/crateload/internal/crate"
	"github.com/crateload/crateload/internal/procmacro"
)

// Module is a loaded WASM proc-macro sandbox: a compiled wazero module
// instantiated in its own store, plus the decls extracted from its custom
// section.
type Module struct {
	name     string
	decls    []procmacro.Decl
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	instance api.Module
	slot     int
	ctx      context.Context
}

// Load compiles and instantiates the WASM module at bytes under name (used
// only for diagnostics), claiming one slot from the global slot registry.
// The bytes slice is retained for the lifetime of the Module and not
// copied; the original's WasmBytes::Owned/Static split exists because Rust
// must choose between an Arc-refcounted copy and a linked-in &'static
// slice, a distinction Go's garbage-collected slices make unnecessary.
func Load(ctx context.Context, bytes []byte, name string) (*Module, error) {
	m := &Module{name: name, decls: ExtractDecls(bytes), ctx: ctx}
	m.slot = globalSlots.allocate(m)

	rt := wazero.NewRuntime(ctx)
	compiled, err := rt.CompileModule(ctx, bytes)
	if err != nil {
		globalSlots.release(m.slot)
		rt.Close(ctx)
		return nil, crate.Wrap(crate.ErrWasmDecode, name, "failed to compile wasm proc-macro module", err)
	}

	instance, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		globalSlots.release(m.slot)
		compiled.Close(ctx)
		rt.Close(ctx)
		return nil, crate.Wrap(crate.ErrWasmDecode, name, "failed to instantiate wasm proc-macro module", err)
	}

	m.runtime = rt
	m.compiled = compiled
	m.instance = instance
	return m, nil
}

// Decls implements procmacro.Macro.
func (m *Module) Decls() []procmacro.Decl { return m.decls }

// Invoke calls the WASM export named by decl.FunctionName, using the
// alloc/dealloc memory convention: the host calls the guest's exported
// "alloc" function to get a buffer, writes input into linear memory, calls
// the macro function with (ptr, len), reads the packed (result_ptr,
// result_len) it returns out of linear memory, and calls "dealloc" on both
// buffers.
func (m *Module) Invoke(decl procmacro.Decl, input []byte) ([]byte, error) {
	fn := m.instance.ExportedFunction(decl.FunctionName)
	if fn == nil {
		return nil, crate.NewError(crate.ErrWasmDecode, m.name, "wasm module does not export "+decl.FunctionName)
	}
	alloc := m.instance.ExportedFunction("alloc")
	dealloc := m.instance.ExportedFunction("dealloc")
	if alloc == nil || dealloc == nil {
		return nil, crate.NewError(crate.ErrWasmDecode, m.name, "wasm module is missing alloc/dealloc exports")
	}

	inPtrRes, err := alloc.Call(m.ctx, uint64(len(input)))
	if err != nil {
		return nil, crate.Wrap(crate.ErrWasmDecode, m.name, "alloc failed", err)
	}
	inPtr := uint32(inPtrRes[0])
	defer dealloc.Call(m.ctx, uint64(inPtr), uint64(len(input)))

	mem := m.instance.Memory()
	if !mem.Write(inPtr, input) {
		return nil, crate.NewError(crate.ErrWasmDecode, m.name, "failed writing input into wasm linear memory")
	}

	packed, err := fn.Call(m.ctx, uint64(inPtr), uint64(len(input)))
	if err != nil {
		return nil, crate.Wrap(crate.ErrWasmDecode, m.name, fmt.Sprintf("invoking %s failed", decl.FunctionName), err)
	}
	if len(packed) == 0 {
		return nil, crate.NewError(crate.ErrWasmDecode, m.name, decl.FunctionName+" returned no result")
	}

	outPtr := uint32(packed[0] >> 32)
	outLen := uint32(packed[0])
	defer dealloc.Call(m.ctx, uint64(outPtr), uint64(outLen))

	out, ok := mem.Read(outPtr, outLen)
	if !ok {
		return nil, crate.NewError(crate.ErrWasmDecode, m.name, "failed reading result from wasm linear memory")
	}
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

// Close releases the module's slot and tears down its wazero runtime.
func (m *Module) Close() error {
	globalSlots.release(m.slot)
	if m.compiled != nil {
		m.compiled.Close(m.ctx)
	}
	if m.runtime != nil {
		return m.runtime.Close(m.ctx)
	}
	return nil
}

var _ procmacro.Macro = (*Module)(nil)
