package splitpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasm-split/wasmsplit/internal/reader"
	"github.com/wasm-split/wasmsplit/internal/wasm"
)

const hexID = "0123456789abcdef0123456789abcdef"

func TestDiscoverPairsImportAndExport(t *testing.T) {
	m := &wasm.Module{
		ImportSection: []*wasm.Import{
			{Module: "env", Name: "__wasm_split_00alpha00_import_" + hexID, Kind: wasm.ExternalKindFunc, TypeIndex: 0},
		},
		ExportSection: []*wasm.Export{
			{Name: "__wasm_split_00alpha00_export_" + hexID, Kind: wasm.ExternalKindFunc, Index: 5},
		},
		Linking: &wasm.LinkingSection{Symbols: []wasm.SymbolInfo{}},
	}
	r, err := reader.New(m)
	require.NoError(t, err)

	points, loadFuncs, err := Discover(r)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Equal(t, "alpha", points[0].Name)
	require.Equal(t, reader.InputFuncID(0), points[0].ImportFunc)
	require.Equal(t, reader.InputFuncID(5), points[0].ExportFunc)
	require.Empty(t, loadFuncs)
}

func TestDiscoverOrphanImportErrors(t *testing.T) {
	m := &wasm.Module{
		ImportSection: []*wasm.Import{
			{Module: "env", Name: "__wasm_split_00alpha00_import_" + hexID, Kind: wasm.ExternalKindFunc, TypeIndex: 0},
		},
		Linking: &wasm.LinkingSection{Symbols: []wasm.SymbolInfo{}},
	}
	r, err := reader.New(m)
	require.NoError(t, err)

	_, _, err = Discover(r)
	require.Error(t, err)
	require.Contains(t, err.Error(), "alpha")
}

func TestDiscoverOrphanExportErrors(t *testing.T) {
	m := &wasm.Module{
		ExportSection: []*wasm.Export{
			{Name: "__wasm_split_00alpha00_export_" + hexID, Kind: wasm.ExternalKindFunc, Index: 5},
		},
		Linking: &wasm.LinkingSection{Symbols: []wasm.SymbolInfo{}},
	}
	r, err := reader.New(m)
	require.NoError(t, err)

	_, _, err = Discover(r)
	require.Error(t, err)
}

func TestDiscoverLoadFuncs(t *testing.T) {
	m := &wasm.Module{
		Linking: &wasm.LinkingSection{Symbols: []wasm.SymbolInfo{
			{Kind: wasm.SymbolKindFunction, Index: 9, Name: "__wasm_split_load_alpha"},
		}},
	}
	r, err := reader.New(m)
	require.NoError(t, err)

	_, loadFuncs, err := Discover(r)
	require.NoError(t, err)
	require.Equal(t, reader.InputFuncID(9), loadFuncs["alpha"])
}

func TestNamesDeduplicatesAndSorts(t *testing.T) {
	points := []SplitPoint{{Name: "beta"}, {Name: "alpha"}, {Name: "beta"}}
	require.Equal(t, []string{"alpha", "beta"}, Names(points))
}
