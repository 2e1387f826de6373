package reader

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasm-split/wasmsplit/internal/wasm"
)

func TestFindFunctionContainingRange(t *testing.T) {
	m := &wasm.Module{
		ImportSection: []*wasm.Import{
			{Module: "env", Name: "imported_fn", Kind: wasm.ExternalKindFunc, TypeIndex: 0},
		},
		CodeSection: []*wasm.Code{
			{BodyRange: wasm.Range{Start: 10, End: 20}},
			{BodyRange: wasm.Range{Start: 20, End: 35}},
		},
		Linking: &wasm.LinkingSection{Symbols: []wasm.SymbolInfo{}},
	}
	r, err := New(m)
	require.NoError(t, err)

	require.Len(t, r.DefinedFuncs, 2)
	require.Equal(t, InputFuncID(1), r.DefinedFuncs[0].FuncID)
	require.Equal(t, InputFuncID(2), r.DefinedFuncs[1].FuncID)

	id, err := r.FindFunctionContainingRange(wasm.Range{Start: 12, End: 18})
	require.NoError(t, err)
	require.Equal(t, InputFuncID(1), id)

	id, err = r.FindFunctionContainingRange(wasm.Range{Start: 25, End: 30})
	require.NoError(t, err)
	require.Equal(t, InputFuncID(2), id)

	_, err = r.FindFunctionContainingRange(wasm.Range{Start: 5, End: 9})
	require.Error(t, err)

	_, err = r.FindFunctionContainingRange(wasm.Range{Start: 15, End: 25})
	require.Error(t, err)
}

func TestFindDataSymbolContainingRange(t *testing.T) {
	m := &wasm.Module{
		DataSection: []*wasm.DataSegment{
			{PayloadRange: wasm.Range{Start: 100, End: 150}},
		},
		Linking: &wasm.LinkingSection{Symbols: []wasm.SymbolInfo{
			{
				Kind:       wasm.SymbolKindData,
				Name:       "my_string",
				HasDataRef: true,
				DataIndex:  0,
				DataOffset: 10,
				DataSize:   20,
			},
		}},
	}
	r, err := New(m)
	require.NoError(t, err)

	symIdx, err := r.FindDataSymbolContainingRange(wasm.Range{Start: 112, End: 125})
	require.NoError(t, err)
	require.Equal(t, SymbolIndex(0), symIdx)

	_, err = r.FindDataSymbolContainingRange(wasm.Range{Start: 105, End: 108})
	require.Error(t, err)
}

func TestNewRequiresSymbolTable(t *testing.T) {
	_, err := New(&wasm.Module{})
	require.Error(t, err)
}

func TestFunctionSymbol(t *testing.T) {
	m := &wasm.Module{
		Linking: &wasm.LinkingSection{Symbols: []wasm.SymbolInfo{
			{Kind: wasm.SymbolKindFunction, Index: 3, Name: "foo"},
		}},
	}
	r, err := New(m)
	require.NoError(t, err)

	idx, ok := r.FunctionSymbol(3)
	require.True(t, ok)
	require.Equal(t, SymbolIndex(0), idx)

	_, ok = r.FunctionSymbol(99)
	require.False(t, ok)
}
