package crate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNum_String(t *testing.T) {
	require.Equal(t, "crate0(local)", LocalCrate.String())
	require.Equal(t, "crate5", Num(5).String())
}

func TestStableID_String(t *testing.T) {
	require.Equal(t, "00000000000003e8", StableID(1000).String())
}

func TestKind_Matches(t *testing.T) {
	tests := []struct {
		name     string
		req      Kind
		prev     Kind
		expected bool
	}{
		{"any accepts rlib", KindAny, KindRlib, true},
		{"rlib accepts any", KindRlib, KindAny, true},
		{"rlib matches rlib", KindRlib, KindRlib, true},
		{"rlib rejects dylib", KindRlib, KindDylib, false},
		{"framework rejects rlib", KindFramework, KindRlib, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.req.Matches(tt.prev))
		})
	}
}

func TestKind_String(t *testing.T) {
	require.Equal(t, "any", KindAny.String())
	require.Equal(t, "rlib", KindRlib.String())
	require.Equal(t, "dylib", KindDylib.String())
	require.Equal(t, "framework", KindFramework.String())
}

func TestDepKind_Max(t *testing.T) {
	require.Equal(t, DepExplicit, DepExplicit.Max(DepImplicit))
	require.Equal(t, DepExplicit, DepImplicit.Max(DepExplicit))
	require.Equal(t, DepMacrosOnly, DepMacrosOnly.Max(DepImplicit))
	require.Equal(t, DepExplicit, DepExplicit.Max(DepMacrosOnly))
	require.Equal(t, DepImplicit, DepImplicit.Max(DepImplicit))
}

func TestDepKind_String(t *testing.T) {
	require.Equal(t, "explicit", DepExplicit.String())
	require.Equal(t, "macros-only", DepMacrosOnly.String())
	require.Equal(t, "implicit", DepImplicit.String())
}

func TestPanicStrategy_String(t *testing.T) {
	require.Equal(t, "unwind", PanicUnwind.String())
	require.Equal(t, "abort", PanicAbort.String())
	require.Equal(t, "immediate-abort", PanicImmediateAbort.String())
}

func TestNumMap_Map(t *testing.T) {
	m := NumMap{10, 20, 30}

	n, ok := m.Map(0)
	require.True(t, ok)
	require.Equal(t, Num(10), n)

	n, ok = m.Map(2)
	require.True(t, ok)
	require.Equal(t, Num(30), n)

	_, ok = m.Map(3)
	require.False(t, ok)
}

func TestExternCrate_PathLenPathBased(t *testing.T) {
	e := ExternCrate{PathLen: PathLenPathBased}
	other := ExternCrate{PathLen: 1}
	require.Greater(t, e.PathLen, other.PathLen)
}

func TestError_Error(t *testing.T) {
	err := NewError(ErrNotFound, "serde", "no candidate found")
	require.Equal(t, `crate "serde": no candidate found`, err.Error())

	err2 := NewError(ErrSlotsExhausted, "", "registry full")
	require.Equal(t, "registry full", err2.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("dlopen failed")
	err := Wrap(ErrDlOpen, "my_macro", "failed to load dylib", cause)

	require.ErrorIs(t, err, cause)
	require.Equal(t, cause, errors.Unwrap(err))
}
