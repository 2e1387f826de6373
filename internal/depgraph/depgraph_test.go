package depgraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasm-split/wasmsplit/internal/reader"
	"github.com/wasm-split/wasmsplit/internal/wasm"
)

func TestBuildCodeToFunctionEdge(t *testing.T) {
	m := &wasm.Module{
		CodeSection: []*wasm.Code{
			{BodyRange: wasm.Range{Start: 0, End: 10}},
			{BodyRange: wasm.Range{Start: 10, End: 20}},
		},
		Linking: &wasm.LinkingSection{Symbols: []wasm.SymbolInfo{
			{Kind: wasm.SymbolKindFunction, Index: 1},
		}},
		RelocCode: &wasm.RelocSection{
			SectionPayloadOffset: 0,
			Entries: []wasm.RelocEntry{
				{Type: wasm.RelocFunctionIndexLEB, Offset: 3, Index: 0},
			},
		},
	}
	r, err := reader.New(m)
	require.NoError(t, err)

	g, err := Build(r)
	require.NoError(t, err)

	succ := g.Successors(FunctionNode(0))
	require.Equal(t, []DepNode{FunctionNode(1)}, succ)
}

func TestBuildDataToDataEdge(t *testing.T) {
	m := &wasm.Module{
		DataSection: []*wasm.DataSegment{
			{PayloadRange: wasm.Range{Start: 0, End: 30}},
		},
		Linking: &wasm.LinkingSection{Symbols: []wasm.SymbolInfo{
			{Kind: wasm.SymbolKindData, HasDataRef: true, DataIndex: 0, DataOffset: 0, DataSize: 10},
			{Kind: wasm.SymbolKindData, HasDataRef: true, DataIndex: 0, DataOffset: 10, DataSize: 10},
		},
		},
		RelocData: &wasm.RelocSection{
			SectionPayloadOffset: 0,
			Entries: []wasm.RelocEntry{
				{Type: wasm.RelocMemoryAddrLEB, Offset: 2, Index: 1, Addend: 0, HasAddend: true},
			},
		},
	}
	r, err := reader.New(m)
	require.NoError(t, err)

	g, err := Build(r)
	require.NoError(t, err)

	succ := g.Successors(DataSymbolNode(0))
	require.Equal(t, []DepNode{DataSymbolNode(1)}, succ)
}

func TestBuildIgnoresTypeIndexRelocation(t *testing.T) {
	m := &wasm.Module{
		CodeSection: []*wasm.Code{{BodyRange: wasm.Range{Start: 0, End: 10}}},
		Linking:     &wasm.LinkingSection{Symbols: []wasm.SymbolInfo{}},
		RelocCode: &wasm.RelocSection{
			Entries: []wasm.RelocEntry{
				{Type: wasm.RelocTypeIndexLEB, Offset: 1, Index: 0},
			},
		},
	}
	r, err := reader.New(m)
	require.NoError(t, err)

	g, err := Build(r)
	require.NoError(t, err)
	require.Empty(t, g.Successors(FunctionNode(0)))
}

func TestDepNodeOrdering(t *testing.T) {
	require.True(t, FunctionNode(0).Less(FunctionNode(1)))
	require.True(t, FunctionNode(5).Less(DataSymbolNode(0)))
	require.False(t, DataSymbolNode(0).Less(FunctionNode(5)))
}
