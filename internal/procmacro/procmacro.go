// Package procmacro defines the proc-macro bridge's shared vocabulary: the
// declaration shape every macro exposes regardless of which backend
// (native dylib or sandboxed WASM) supplies it.
package procmacro

// Kind distinguishes the three proc-macro declaration shapes.
type Kind int

const (
	KindDerive Kind = iota
	KindAttr
	KindBang
)

func (k Kind) String() string {
	switch k {
	case KindDerive:
		return "derive"
	case KindAttr:
		return "attr"
	default:
		return "bang"
	}
}

// Decl is one exported proc-macro, as declared by a crate's metadata or
// extracted from a WASM module's custom decls section.
type Decl struct {
	Kind         Kind
	Name         string   // trait name for derive, attribute/macro name otherwise
	Attributes   []string // helper attributes, derive only
	FunctionName string   // exported symbol/export name to invoke
}

// Macro is an invocable proc-macro backend, implemented by both
// procmacro/native and procmacro/wasm.
type Macro interface {
	Decls() []Decl
	Invoke(decl Decl, input []byte) ([]byte, error)
	Close() error
}
