package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRangeContains(t *testing.T) {
	outer := Range{Start: 10, End: 20}
	require.True(t, outer.Contains(Range{Start: 10, End: 20}))
	require.True(t, outer.Contains(Range{Start: 12, End: 18}))
	require.False(t, outer.Contains(Range{Start: 9, End: 20}))
	require.False(t, outer.Contains(Range{Start: 10, End: 21}))
}

func TestNumFunctionsAndTypeIndex(t *testing.T) {
	i32 := ValueTypeI32
	m := &Module{
		TypeSection: []*FunctionType{
			{Params: []ValueType{i32}, Results: []ValueType{i32}},
			{Results: []ValueType{i32}},
		},
		ImportSection: []*Import{
			{Module: "env", Name: "a", Kind: ExternalKindFunc, TypeIndex: 0},
			{Module: "env", Name: "mem", Kind: ExternalKindMemory, Memory: &Memory{}},
			{Module: "env", Name: "b", Kind: ExternalKindFunc, TypeIndex: 1},
		},
		FunctionSection: []uint32{0},
		CodeSection:     []*Code{{}},
	}

	require.Equal(t, 2, m.NumImportedFunctions())
	require.Equal(t, 3, m.NumFunctions())
	require.Equal(t, uint32(0), m.FunctionTypeIndex(0))
	require.Equal(t, uint32(1), m.FunctionTypeIndex(1))
	require.Equal(t, uint32(0), m.FunctionTypeIndex(2))
}

func TestSymbolUndefined(t *testing.T) {
	defined := SymbolInfo{Flags: 0}
	require.True(t, defined.IsDefined())

	undefined := SymbolInfo{Flags: SymFlagUndefined}
	require.False(t, undefined.IsDefined())
}
