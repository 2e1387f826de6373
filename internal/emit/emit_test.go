package emit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasm-split/wasmsplit/internal/depgraph"
	"github.com/wasm-split/wasmsplit/internal/leb128"
	"github.com/wasm-split/wasmsplit/internal/partition"
	"github.com/wasm-split/wasmsplit/internal/reader"
	"github.com/wasm-split/wasmsplit/internal/splitpoint"
	"github.com/wasm-split/wasmsplit/internal/wasm"
)

// buildScenario mirrors internal/partition's fixture: two imported
// trampolines (0 alpha, 1 beta), a main entry (2, exported) calling helper
// (3), alpha's export_func (4, exported) calling a helper unique to alpha
// (5) and a shared helper (8), beta's export_func (6, exported) calling a
// helper unique to beta (7) and the same shared helper (8). Every defined
// function's body is the same single call instruction, encoded as
// (call <padded-leb target>); only the call sites of funcs 2, 4 and 6 carry
// a relocation (to 3, 5 and 7), the other bodies are placeholders.
func buildScenario(t *testing.T) (*reader.Reader, *partition.SplitProgramInfo, []splitpoint.SplitPoint, map[reader.InputFuncID]uint32) {
	t.Helper()

	// callBody lays out a single `call` instruction (opcode 0x10) followed
	// by a 5-byte padded LEB128 callee index, then the `end` opcode (0x0b).
	// The relocation site sits right after the opcode byte.
	callBody := func(calleeIdxPlaceholder uint32) []byte {
		body := []byte{0x10}
		enc := leb128.EncodePaddedUint32(calleeIdxPlaceholder)
		body = append(body, enc[:]...)
		body = append(body, 0x0b)
		return body
	}

	// Functions 2..8 are defined (7 entries); 0,1 are imported trampolines.
	// Code section payload offsets are assigned consecutively starting at
	// an arbitrary base so BodyRange math exercises non-zero offsets.
	const base = 1000
	bodyLen := len(callBody(0))

	bodyRangeFor := func(slot int) wasm.Range {
		start := base + slot*bodyLen
		return wasm.Range{Start: start, End: start + bodyLen}
	}

	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{{}},
		ImportSection: []*wasm.Import{
			{Module: "env", Name: "alpha_trampoline", Kind: wasm.ExternalKindFunc, TypeIndex: 0},
			{Module: "env", Name: "beta_trampoline", Kind: wasm.ExternalKindFunc, TypeIndex: 0},
		},
		FunctionSection: []uint32{0, 0, 0, 0, 0, 0, 0}, // funcs 2..8, all type 0
		ExportSection: []*wasm.Export{
			{Name: "main_entry", Kind: wasm.ExternalKindFunc, Index: 2},
			{Name: "alpha_impl", Kind: wasm.ExternalKindFunc, Index: 4},
			{Name: "beta_impl", Kind: wasm.ExternalKindFunc, Index: 6},
		},
		CodeSection: []*wasm.Code{
			{Body: callBody(0), BodyRange: bodyRangeFor(0)}, // func 2 -> 3
			{Body: callBody(0), BodyRange: bodyRangeFor(1)}, // func 3 (leaf, unused placeholder)
			{Body: callBody(0), BodyRange: bodyRangeFor(2)}, // func 4 -> 5 (only first call patched below)
			{Body: callBody(0), BodyRange: bodyRangeFor(3)}, // func 5 (leaf)
			{Body: callBody(0), BodyRange: bodyRangeFor(4)}, // func 6 -> 7
			{Body: callBody(0), BodyRange: bodyRangeFor(5)}, // func 7 (leaf)
			{Body: callBody(0), BodyRange: bodyRangeFor(6)}, // func 8 (shared leaf)
		},
		Linking: &wasm.LinkingSection{Symbols: []wasm.SymbolInfo{
			{Kind: wasm.SymbolKindFunction, Index: 2, Name: "main_entry"},
			{Kind: wasm.SymbolKindFunction, Index: 3, Name: "main_helper"},
			{Kind: wasm.SymbolKindFunction, Index: 4, Name: "alpha_impl"},
			{Kind: wasm.SymbolKindFunction, Index: 5, Name: "alpha_helper"},
			{Kind: wasm.SymbolKindFunction, Index: 6, Name: "beta_impl"},
			{Kind: wasm.SymbolKindFunction, Index: 7, Name: "beta_helper"},
			{Kind: wasm.SymbolKindFunction, Index: 8, Name: "shared_helper"},
		}},
		RelocCode: &wasm.RelocSection{
			SectionPayloadOffset: 0, // entries already carry absolute offsets via base
			Entries: []wasm.RelocEntry{
				{Type: wasm.RelocFunctionIndexLEB, Offset: uint32(bodyRangeFor(0).Start + 1), Index: 1}, // func2 -> sym[1]=func3
				{Type: wasm.RelocFunctionIndexLEB, Offset: uint32(bodyRangeFor(2).Start + 1), Index: 3}, // func4 -> sym[3]=func5 (not the shared call; kept simple)
				{Type: wasm.RelocFunctionIndexLEB, Offset: uint32(bodyRangeFor(4).Start + 1), Index: 5}, // func6 -> sym[5]=func7
			},
		},
	}

	r, err := reader.New(m)
	require.NoError(t, err)

	g := depgraph.NewGraph()
	g.AddEdge(depgraph.FunctionNode(2), depgraph.FunctionNode(3))
	g.AddEdge(depgraph.FunctionNode(4), depgraph.FunctionNode(5))
	g.AddEdge(depgraph.FunctionNode(4), depgraph.FunctionNode(8))
	g.AddEdge(depgraph.FunctionNode(6), depgraph.FunctionNode(7))
	g.AddEdge(depgraph.FunctionNode(6), depgraph.FunctionNode(8))

	points := []splitpoint.SplitPoint{
		{Name: "alpha", ImportFunc: 0, ExportFunc: 4},
		{Name: "beta", ImportFunc: 1, ExportFunc: 6},
	}

	p, err := partition.Build(r, g, points)
	require.NoError(t, err)

	tableSlots := map[reader.InputFuncID]uint32{}
	return r, p, points, tableSlots
}

func outputByPredicate(p *partition.SplitProgramInfo, pred func(partition.OutputModuleIdentifier) bool) *partition.OutputModuleInfo {
	for _, out := range p.Outputs {
		if pred(out.ID) {
			return out
		}
	}
	return nil
}

func TestEmitAllProducesOneOutputPerModule(t *testing.T) {
	r, p, points, tableSlots := buildScenario(t)
	outs, err := EmitAll(r, p, points, tableSlots)
	require.NoError(t, err)
	require.Len(t, outs, len(p.Outputs))

	stems := map[string]bool{}
	for _, o := range outs {
		require.NotEmpty(t, o.Bytes)
		stems[o.Stem] = true
	}
	require.True(t, stems["main"])
	require.True(t, stems["alpha"])
	require.True(t, stems["beta"])
}

func TestBuildModuleMainImportsSharedFuncsItDoesNotInclude(t *testing.T) {
	r, p, points, tableSlots := buildScenario(t)
	e := &emitter{r: r, m: r.Module, program: p, points: points, tableSlots: tableSlots}
	e.prepare()

	mainInfo := outputByPredicate(p, func(id partition.OutputModuleIdentifier) bool { return id.IsMain })
	require.NotNil(t, mainInfo)

	// Main's own BFS only reaches funcs 2 and 3; the program-wide shared
	// set is {4, 6, 8} per the partition fixture, none of which Main
	// includes, so all three must appear as imports to be re-exported.
	require.NotContains(t, mainInfo.IncludedSymbols, depgraph.FunctionNode(4))
	require.NotContains(t, mainInfo.IncludedSymbols, depgraph.FunctionNode(6))
	require.NotContains(t, mainInfo.IncludedSymbols, depgraph.FunctionNode(8))

	shared := e.sharedImportsFor(mainInfo)
	require.Contains(t, shared, reader.InputFuncID(4))
	require.Contains(t, shared, reader.InputFuncID(6))
	require.Contains(t, shared, reader.InputFuncID(8))

	mainIdx, ok := p.OutputIndex(depgraph.FunctionNode(2))
	require.True(t, ok)
	mod, err := e.buildModule(mainIdx, mainInfo)
	require.NoError(t, err)

	// Every shared func must be exported by name, and must resolve to some
	// local index (import or defined) in Main's own module.
	exported := map[string]uint32{}
	for _, exp := range mod.ExportSection {
		if exp.Kind == wasm.ExternalKindFunc {
			exported[exp.Name] = exp.Index
		}
	}
	require.Contains(t, exported, "alpha_impl")
	require.Contains(t, exported, "beta_impl")
	require.Contains(t, exported, "shared_helper")

	for _, name := range []string{"alpha_impl", "beta_impl", "shared_helper"} {
		idx := exported[name]
		require.Less(t, int(idx), len(mod.ImportSection)+len(mod.FunctionSection))
	}
}

func TestFuncIndexMapAssignsSharedImportsBeforeIncluded(t *testing.T) {
	r, p, points, tableSlots := buildScenario(t)
	e := &emitter{r: r, m: r.Module, program: p, points: points, tableSlots: tableSlots}
	e.prepare()

	alphaInfo := outputByPredicate(p, func(id partition.OutputModuleIdentifier) bool {
		return !id.IsChunk && !id.IsMain && id.Name == "alpha"
	})
	require.NotNil(t, alphaInfo)

	alphaIdx, ok := p.OutputIndex(depgraph.FunctionNode(4))
	require.True(t, ok)
	mod, err := e.buildModule(alphaIdx, alphaInfo)
	require.NoError(t, err)

	// alpha includes funcs 4 and 5 locally, and must import the shared
	// helper (8), which lives in the chunk output; its own export_func (4)
	// is already included. Imported functions take the lowest indices, so
	// func4's call to func5 (the second included function) must be patched
	// to funcImportCount+1.
	funcImportCount := 0
	for _, imp := range mod.ImportSection {
		if imp.Kind == wasm.ExternalKindFunc {
			funcImportCount++
		}
	}
	require.Equal(t, len(mod.FunctionSection), len(alphaInfo.IncludedSymbols)-dataSymbolCount(alphaInfo))
	require.GreaterOrEqual(t, funcImportCount, 1) // at least the shared helper
	callee := leb128.DecodePaddedUint32(mod.CodeSection[0].Body[1 : 1+leb128.PaddedLEBWidth])
	require.Equal(t, uint32(funcImportCount+1), callee)
}

func dataSymbolCount(info *partition.OutputModuleInfo) int {
	n := 0
	for node := range info.IncludedSymbols {
		if node.Kind == depgraph.NodeDataSymbol {
			n++
		}
	}
	return n
}

func TestPatchFunctionIndicesRewritesCallSite(t *testing.T) {
	r, p, points, tableSlots := buildScenario(t)
	e := &emitter{r: r, m: r.Module, program: p, points: points, tableSlots: tableSlots}
	e.prepare()

	mainInfo := outputByPredicate(p, func(id partition.OutputModuleIdentifier) bool { return id.IsMain })
	require.NotNil(t, mainInfo)

	includedFuncs := []reader.InputFuncID{2, 3}
	funcIndexMap := map[reader.InputFuncID]uint32{2: 0, 3: 1}

	code, err := e.emitCode(includedFuncs, funcIndexMap)
	require.NoError(t, err)
	require.Len(t, code, 2)

	// func2's body is `call <target>`; after patching the target must
	// decode back to func3's new local index (1).
	patched := code[0].Body
	require.Equal(t, byte(0x10), patched[0])
	decoded := leb128.DecodePaddedUint32(patched[1 : 1+leb128.PaddedLEBWidth])
	require.Equal(t, uint32(1), decoded)
}

func TestAddMainExportsErrorsWhenSharedFuncMissingFromIndexSpace(t *testing.T) {
	r, p, points, tableSlots := buildScenario(t)
	e := &emitter{r: r, m: r.Module, program: p, points: points, tableSlots: tableSlots}
	e.prepare()

	out := &wasm.Module{}
	// Deliberately omit every shared func from the index map to exercise
	// the defensive error path.
	err := e.addMainExports(out, map[reader.InputFuncID]uint32{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not present in main's own index space")
}
