package main

import (
	"errors"
	"testing"

	"github.com/crateload/crateload/internal/crate"
)

func TestParseExtern(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantName   string
		wantPath   string
		wantForce  bool
		wantNoDep  bool
		wantPublic *bool
	}{
		{name: "bare name", raw: "serde", wantName: "serde"},
		{name: "name with path", raw: "serde=/x/serde.rlib", wantName: "serde", wantPath: "/x/serde.rlib"},
		{name: "pub modifier", raw: "serde:pub=/x/serde.rlib", wantName: "serde", wantPath: "/x/serde.rlib", wantPublic: boolPtr(true)},
		{name: "priv modifier", raw: "serde:priv=/x/serde.rlib", wantName: "serde", wantPath: "/x/serde.rlib", wantPublic: boolPtr(false)},
		{name: "force modifier", raw: "serde force", wantName: "serde", wantForce: true},
		{name: "noprelude modifier", raw: "serde noprelude", wantName: "serde", wantNoDep: true},
		{name: "nounused_dep modifier", raw: "serde nounused_dep", wantName: "serde", wantNoDep: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseExtern(tt.raw)
			if got.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", got.Name, tt.wantName)
			}
			if got.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", got.Path, tt.wantPath)
			}
			if got.Force != tt.wantForce {
				t.Errorf("Force = %v, want %v", got.Force, tt.wantForce)
			}
			if got.NoUnusedDep != tt.wantNoDep {
				t.Errorf("NoUnusedDep = %v, want %v", got.NoUnusedDep, tt.wantNoDep)
			}
			if (tt.wantPublic == nil) != (got.Public == nil) {
				t.Fatalf("Public = %v, want %v", got.Public, tt.wantPublic)
			}
			if tt.wantPublic != nil && *got.Public != *tt.wantPublic {
				t.Errorf("Public = %v, want %v", *got.Public, *tt.wantPublic)
			}
		})
	}
}

func TestParsePanicStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want crate.PanicStrategy
	}{
		{"abort", crate.PanicAbort},
		{"immediate-abort", crate.PanicImmediateAbort},
		{"unwind", crate.PanicUnwind},
		{"", crate.PanicUnwind},
		{"garbage", crate.PanicUnwind},
	}

	for _, tt := range tests {
		if got := parsePanicStrategy(tt.in); got != tt.want {
			t.Errorf("parsePanicStrategy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func boolPtr(b bool) *bool { return &b }

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", crate.NewError(crate.ErrNotFound, "serde", "missing"), ExitCrateNotFound},
		{"multiple candidates", crate.NewError(crate.ErrMultipleCandidates, "serde", "ambiguous"), ExitAmbiguous},
		{"dlopen failure", crate.NewError(crate.ErrDlOpen, "my_macro", "failed"), ExitProcMacroFailure},
		{"wasm decode failure", crate.NewError(crate.ErrWasmDecode, "my_macro", "failed"), ExitProcMacroFailure},
		{"slots exhausted", crate.NewError(crate.ErrSlotsExhausted, "", "full"), ExitProcMacroFailure},
		{"generic crate error", crate.NewError(crate.ErrOverwrite, "serde", "oops"), ExitGeneral},
		{"non-crate error", errors.New("boom"), ExitGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
