package wasm

import (
	"strings"

	"github.com/crateload/crateload/internal/procmacro"
)

// declsSectionName is the custom WASM section a proc-macro module records
// its declarations in.
const declsSectionName = ".rustc_proc_macro_decls"

// ExtractDecls finds the custom decls section in a WASM module and parses
// it into procmacro.Decl values. A module with no such section (or an
// unparseable one) yields no decls rather than an error: a WASM file that
// simply isn't a proc-macro module is a normal "nothing to see here"
// outcome, not corruption.
func ExtractDecls(wasmBytes []byte) []procmacro.Decl {
	section, ok := findCustomSection(wasmBytes, declsSectionName)
	if !ok {
		return nil
	}
	return parseDecls(section)
}

// findCustomSection walks a WASM binary's section table looking for a
// custom section (id 0) with the given name, ported line-for-line from the
// original's hand-rolled parser rather than pulling in a full WASM parsing
// library: the decls section is the only thing this package needs to read
// out of the binary format, and wazero itself handles everything needed to
// actually execute the module.
func findCustomSection(wasmBytes []byte, name string) ([]byte, bool) {
	if len(wasmBytes) < 8 || string(wasmBytes[0:4]) != "\x00asm" {
		return nil, false
	}

	pos := 8
	for pos < len(wasmBytes) {
		if pos+1 > len(wasmBytes) {
			break
		}
		sectionID := wasmBytes[pos]
		pos++

		size, sizeLen, ok := readLEB128U32(wasmBytes[pos:])
		if !ok {
			return nil, false
		}
		pos += sizeLen

		if sectionID != 0 {
			pos += int(size)
			continue
		}

		sectionStart := pos
		sectionEnd := pos + int(size)
		if sectionEnd > len(wasmBytes) {
			break
		}

		nameLen, nameLenSize, ok := readLEB128U32(wasmBytes[pos:])
		if !ok {
			return nil, false
		}
		pos += nameLenSize

		if pos+int(nameLen) > sectionEnd {
			pos = sectionEnd
			continue
		}

		sectionName := wasmBytes[pos : pos+int(nameLen)]
		pos += int(nameLen)

		if string(sectionName) == name {
			return wasmBytes[pos:sectionEnd], true
		}

		pos = sectionEnd
		_ = sectionStart
	}

	return nil, false
}

// readLEB128U32 decodes an unsigned LEB128-encoded uint32 from the start of
// b, returning the value and the number of bytes consumed.
func readLEB128U32(b []byte) (uint32, int, bool) {
	var (
		result uint32
		shift  uint
		pos    int
	)
	for {
		if pos >= len(b) {
			return 0, 0, false
		}
		by := b[pos]
		pos++
		result |= uint32(by&0x7F) << shift
		if by&0x80 == 0 {
			return result, pos, true
		}
		shift += 7
		if shift > 28 {
			return 0, 0, false
		}
	}
}

// parseDecls parses the colon-separated record grammar of the decls
// section:
//
//	derive:TraitName:function_name
//	derive:TraitName:function_name:attr1,attr2
//	attr:name:function_name
//	bang:name:function_name
//
// Lines that don't match one of these shapes are silently skipped, the
// same tolerant behavior as the original parser (a forward-compatible
// decls section may carry record kinds this version doesn't recognize).
func parseDecls(section []byte) []procmacro.Decl {
	var decls []procmacro.Decl

	for _, line := range strings.Split(string(section), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ":")

		switch {
		case len(parts) == 3 && parts[0] == "derive":
			decls = append(decls, procmacro.Decl{Kind: procmacro.KindDerive, Name: parts[1], FunctionName: parts[2]})
		case len(parts) == 4 && parts[0] == "derive":
			decls = append(decls, procmacro.Decl{
				Kind:         procmacro.KindDerive,
				Name:         parts[1],
				FunctionName: parts[2],
				Attributes:   splitAttrs(parts[3]),
			})
		case len(parts) == 3 && parts[0] == "attr":
			decls = append(decls, procmacro.Decl{Kind: procmacro.KindAttr, Name: parts[1], FunctionName: parts[2]})
		case len(parts) == 3 && parts[0] == "bang":
			decls = append(decls, procmacro.Decl{Kind: procmacro.KindBang, Name: parts[1], FunctionName: parts[2]})
		}
	}

	return decls
}

func splitAttrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}
