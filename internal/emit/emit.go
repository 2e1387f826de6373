// Package emit assembles one standalone WebAssembly binary per output
// module determined by internal/partition, sharing memory, the indirect
// function table, and the stack/TLS globals with the main module via
// imports.
package emit

import (
	"fmt"
	"sort"

	"github.com/wasm-split/wasmsplit/internal/depgraph"
	"github.com/wasm-split/wasmsplit/internal/leb128"
	"github.com/wasm-split/wasmsplit/internal/partition"
	"github.com/wasm-split/wasmsplit/internal/reader"
	"github.com/wasm-split/wasmsplit/internal/splitpoint"
	"github.com/wasm-split/wasmsplit/internal/wasm"
	"github.com/wasm-split/wasmsplit/internal/wasm/binary"
)

// ReservedImportModule is the module name every emitted output imports its
// shared memory, table and stack/TLS globals from. The loader supplies
// these at instantiation time.
const ReservedImportModule = "__wasm_split"

// MainImportModule is the module name every shared function is imported
// from, regardless of which output physically defines it; the loader's
// generated mainExports object is responsible for making the name resolve,
// lazily if necessary.
const MainImportModule = "main"

const (
	memoryImportName  = "memory"
	tableImportName   = "__indirect_function_table"
	stackPointerName  = "__stack_pointer"
	tlsBaseName       = "__tls_base"
)

// Output is one emitted module: its file stem (per OutputModuleIdentifier
// naming) and its encoded bytes.
type Output struct {
	Stem  string
	Bytes []byte
}

// EmitAll produces one Output per entry in p.Outputs.
func EmitAll(r *reader.Reader, p *partition.SplitProgramInfo, points []splitpoint.SplitPoint, tableSlots map[reader.InputFuncID]uint32) ([]Output, error) {
	e := &emitter{r: r, m: r.Module, program: p, points: points, tableSlots: tableSlots}
	e.prepare()

	outs := make([]Output, len(p.Outputs))
	for i, info := range p.Outputs {
		mod, err := e.buildModule(i, info)
		if err != nil {
			return nil, fmt.Errorf("emit: output %s: %w", info.ID, err)
		}
		outs[i] = Output{Stem: info.ID.FileStem(), Bytes: binary.EncodeModule(mod)}
	}
	return outs, nil
}

type emitter struct {
	r          *reader.Reader
	m          *wasm.Module
	program    *partition.SplitProgramInfo
	points     []splitpoint.SplitPoint
	tableSlots map[reader.InputFuncID]uint32

	importFuncOf map[reader.InputFuncID]reader.InputFuncID // trampoline import_func -> export_func
	stackPointer *wasm.GlobalType
	tlsBase      *wasm.GlobalType
}

func (e *emitter) prepare() {
	e.importFuncOf = map[reader.InputFuncID]reader.InputFuncID{}
	for _, p := range e.points {
		e.importFuncOf[p.ImportFunc] = p.ExportFunc
	}

	for _, sym := range e.r.Symbols {
		if sym.Kind != wasm.SymbolKindGlobal {
			continue
		}
		switch sym.Name {
		case stackPointerName:
			e.stackPointer = globalTypeAt(e.m, sym.Index)
		case tlsBaseName:
			e.tlsBase = globalTypeAt(e.m, sym.Index)
		}
	}
}

func globalTypeAt(m *wasm.Module, idx uint32) *wasm.GlobalType {
	n := uint32(0)
	for _, imp := range m.ImportSection {
		if imp.Kind == wasm.ExternalKindGlobal {
			if n == idx {
				return imp.Global
			}
			n++
		}
	}
	if int(idx-n) < len(m.GlobalSection) {
		return &m.GlobalSection[idx-n].Type
	}
	return nil
}

func (e *emitter) resolveTrampoline(f reader.InputFuncID) reader.InputFuncID {
	if exp, ok := e.importFuncOf[f]; ok {
		return exp
	}
	return f
}

// symbolNameFor returns a human-meaningful export/import name for f: its
// function-symbol name if present, else a synthetic fallback so encoding
// never fails on stripped input.
func (e *emitter) symbolNameFor(f reader.InputFuncID) string {
	if idx, ok := e.r.FunctionSymbol(f); ok {
		if name := e.r.Symbols[idx].Name; name != "" {
			return name
		}
	}
	if name, ok := e.r.Names[f]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("func_%d", f)
}

func (e *emitter) buildModule(outIdx int, info *partition.OutputModuleInfo) (*wasm.Module, error) {
	included := info.SortedSymbols()

	var includedFuncs []reader.InputFuncID
	for _, n := range included {
		if n.Kind == depgraph.NodeFunction {
			includedFuncs = append(includedFuncs, n.FuncID)
		}
	}

	sharedImports := e.sharedImportsFor(info)

	// Assign the new function index space: imports first (sorted by
	// target output index then original function id), then locally
	// defined functions in original order.
	funcIndexMap := map[reader.InputFuncID]uint32{}
	nextIdx := uint32(0)
	for _, f := range sharedImports {
		funcIndexMap[f] = nextIdx
		nextIdx++
	}
	for _, f := range includedFuncs {
		funcIndexMap[f] = nextIdx
		nextIdx++
	}

	out := &wasm.Module{
		TypeSection: e.m.TypeSection, // invariant across every output
	}

	e.addReservedImports(out)
	for _, f := range sharedImports {
		out.ImportSection = append(out.ImportSection, &wasm.Import{
			Module:    MainImportModule,
			Name:      e.symbolNameFor(f),
			Kind:      wasm.ExternalKindFunc,
			TypeIndex: e.m.FunctionTypeIndex(uint32(f)),
		})
	}

	for _, f := range includedFuncs {
		out.FunctionSection = append(out.FunctionSection, e.m.FunctionTypeIndex(uint32(f)))
	}

	code, err := e.emitCode(includedFuncs, funcIndexMap)
	if err != nil {
		return nil, err
	}
	out.CodeSection = code

	for segIdx := range e.m.DataSection {
		seg, symRanges, any := e.dataSegmentFor(outIdx, segIdx)
		if !any {
			continue
		}
		out.DataSection = append(out.DataSection, e.emitDataSegment(seg, symRanges))
	}
	if len(out.DataSection) > 0 {
		n := uint32(len(out.DataSection))
		out.DataCount = &n
	}

	out.ElementSection = e.emitElements(outIdx, funcIndexMap)

	// Exports.
	if info.ID.IsMain {
		if err := e.addMainExports(out, funcIndexMap); err != nil {
			return nil, err
		}
		if e.m.StartSection != nil {
			if _, ok := funcIndexMap[reader.InputFuncID(*e.m.StartSection)]; ok {
				newStart := funcIndexMap[reader.InputFuncID(*e.m.StartSection)]
				out.StartSection = &newStart
			}
		}
	}

	return out, nil
}

// sharedImportsFor returns info's effective shared-import function list,
// including (for non-Main outputs) any of the output's own split points'
// export_func not already included, sorted by target output index then by
// original function id, per the determinism requirement in §4.5.
func (e *emitter) sharedImportsFor(info *partition.OutputModuleInfo) []reader.InputFuncID {
	set := map[reader.InputFuncID]struct{}{}
	for f := range info.SharedImports {
		set[f] = struct{}{}
	}
	if !info.ID.IsMain {
		for _, sp := range info.SplitPoints {
			if _, included := info.IncludedSymbols[depgraph.FunctionNode(sp.ExportFunc)]; !included {
				set[sp.ExportFunc] = struct{}{}
			}
		}
	} else {
		// Main re-exports every program-wide shared function (§4.5), so it
		// must hold a local index for each one; those it doesn't already
		// include are imported from "main" purely to be re-exported, the
		// same self-referential import/export pattern every other output
		// uses to reach a function it doesn't define.
		for f := range e.program.SharedFuncs {
			if _, included := info.IncludedSymbols[depgraph.FunctionNode(f)]; !included {
				set[f] = struct{}{}
			}
		}
	}

	out := make([]reader.InputFuncID, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, _ := e.program.OutputIndex(depgraph.FunctionNode(out[i]))
		oj, _ := e.program.OutputIndex(depgraph.FunctionNode(out[j]))
		if oi != oj {
			return oi < oj
		}
		return out[i] < out[j]
	})
	return out
}

func (e *emitter) addReservedImports(out *wasm.Module) {
	var memLimits wasm.Limits
	if len(e.m.MemorySection) > 0 {
		memLimits = e.m.MemorySection[0].Limits
	}
	out.ImportSection = append(out.ImportSection, &wasm.Import{
		Module: ReservedImportModule, Name: memoryImportName, Kind: wasm.ExternalKindMemory,
		Memory: &wasm.Memory{Limits: memLimits},
	})

	var tableLimits wasm.Limits
	if len(e.m.TableSection) > 0 {
		tableLimits = e.m.TableSection[0].Limits
	}
	out.ImportSection = append(out.ImportSection, &wasm.Import{
		Module: ReservedImportModule, Name: tableImportName, Kind: wasm.ExternalKindTable,
		Table: &wasm.Table{Limits: tableLimits},
	})

	if e.stackPointer != nil {
		out.ImportSection = append(out.ImportSection, &wasm.Import{
			Module: ReservedImportModule, Name: stackPointerName, Kind: wasm.ExternalKindGlobal,
			Global: e.stackPointer,
		})
	}
	if e.tlsBase != nil {
		out.ImportSection = append(out.ImportSection, &wasm.Import{
			Module: ReservedImportModule, Name: tlsBaseName, Kind: wasm.ExternalKindGlobal,
			Global: e.tlsBase,
		})
	}
}

func (e *emitter) addMainExports(out *wasm.Module, funcIndexMap map[reader.InputFuncID]uint32) error {
	out.ExportSection = append(out.ExportSection,
		&wasm.Export{Name: memoryImportName, Kind: wasm.ExternalKindMemory, Index: 0},
		&wasm.Export{Name: tableImportName, Kind: wasm.ExternalKindTable, Index: 0},
	)

	globalExportIdx := uint32(0)
	if e.stackPointer != nil {
		out.ExportSection = append(out.ExportSection, &wasm.Export{Name: stackPointerName, Kind: wasm.ExternalKindGlobal, Index: globalExportIdx})
		globalExportIdx++
	}
	if e.tlsBase != nil {
		out.ExportSection = append(out.ExportSection, &wasm.Export{Name: tlsBaseName, Kind: wasm.ExternalKindGlobal, Index: globalExportIdx})
	}

	sharedFuncs := make([]reader.InputFuncID, 0, len(e.program.SharedFuncs))
	for f := range e.program.SharedFuncs {
		sharedFuncs = append(sharedFuncs, f)
	}
	sort.Slice(sharedFuncs, func(i, j int) bool { return sharedFuncs[i] < sharedFuncs[j] })

	for _, f := range sharedFuncs {
		idx, ok := funcIndexMap[f]
		if !ok {
			return fmt.Errorf("shared function %d not present in main's own index space", f)
		}
		out.ExportSection = append(out.ExportSection, &wasm.Export{
			Name: e.symbolNameFor(f), Kind: wasm.ExternalKindFunc, Index: idx,
		})
	}
	return nil
}

func (e *emitter) emitCode(includedFuncs []reader.InputFuncID, funcIndexMap map[reader.InputFuncID]uint32) ([]*wasm.Code, error) {
	numImported := uint32(e.m.NumImportedFunctions())
	out := make([]*wasm.Code, 0, len(includedFuncs))
	for _, f := range includedFuncs {
		orig := e.m.CodeSection[uint32(f)-numImported]
		body := append([]byte(nil), orig.Body...)

		if e.m.RelocCode != nil {
			if err := e.patchFunctionIndices(body, orig.BodyRange, e.m.RelocCode, funcIndexMap); err != nil {
				return nil, fmt.Errorf("function %d: %w", f, err)
			}
		}

		out = append(out, &wasm.Code{Locals: orig.Locals, Body: body})
	}
	return out, nil
}

// patchFunctionIndices rewrites, in place within body (whose bytes
// correspond to the absolute range bodyRange of the original buffer),
// every R_WASM_FUNCTION_INDEX_LEB/_I32 relocation site to carry the
// target's new index within this output's function index space. Every
// other relocation kind is left untouched, per the documented invariant
// simplification.
func (e *emitter) patchFunctionIndices(body []byte, bodyRange wasm.Range, rs *wasm.RelocSection, funcIndexMap map[reader.InputFuncID]uint32) error {
	for _, entry := range rs.Entries {
		if !entry.Type.RewritesFunctionIndex() {
			continue
		}
		absOffset := rs.SectionPayloadOffset + int(entry.Offset)
		if absOffset < bodyRange.Start || absOffset >= bodyRange.End {
			continue
		}
		if int(entry.Index) >= len(e.r.Symbols) {
			return fmt.Errorf("relocation symbol index %d out of range", entry.Index)
		}
		sym := e.r.Symbols[entry.Index]
		if sym.Kind != wasm.SymbolKindFunction {
			return fmt.Errorf("function-index relocation at offset %d targets non-function symbol %d", absOffset, entry.Index)
		}
		target := e.resolveTrampoline(reader.InputFuncID(sym.Index))
		newIdx, ok := funcIndexMap[target]
		if !ok {
			return fmt.Errorf("relocation at offset %d: target function %d not present in this output's index space", absOffset, target)
		}

		localOff := absOffset - bodyRange.Start
		if err := writeFunctionIndex(body, localOff, entry.Type, newIdx); err != nil {
			return err
		}
	}
	return nil
}

func writeFunctionIndex(body []byte, off int, t wasm.RelocType, newIdx uint32) error {
	switch t {
	case wasm.RelocFunctionIndexLEB:
		if off+leb128.PaddedLEBWidth > len(body) {
			return fmt.Errorf("patch offset %d out of bounds", off)
		}
		enc := leb128.EncodePaddedUint32(newIdx)
		copy(body[off:off+leb128.PaddedLEBWidth], enc[:])
	case wasm.RelocFunctionIndexI32:
		if off+4 > len(body) {
			return fmt.Errorf("patch offset %d out of bounds", off)
		}
		body[off] = byte(newIdx)
		body[off+1] = byte(newIdx >> 8)
		body[off+2] = byte(newIdx >> 16)
		body[off+3] = byte(newIdx >> 24)
	}
	return nil
}

// dataSegmentFor reports whether output outIdx owns at least one data
// symbol within original segment segIdx, and if so the byte ranges (within
// the segment's payload) it owns.
func (e *emitter) dataSegmentFor(outIdx, segIdx int) (*wasm.DataSegment, []wasm.Range, bool) {
	seg := e.m.DataSection[segIdx]
	var owned []wasm.Range
	for i, sym := range e.r.Symbols {
		if sym.Kind != wasm.SymbolKindData || !sym.HasDataRef || int(sym.DataIndex) != segIdx {
			continue
		}
		idx, ok := e.program.OutputIndex(depgraph.DataSymbolNode(reader.SymbolIndex(i)))
		if !ok || idx != outIdx {
			continue
		}
		start := seg.PayloadRange.Start + int(sym.DataOffset)
		owned = append(owned, wasm.Range{Start: start, End: start + int(sym.DataSize)})
	}
	if len(owned) == 0 {
		return nil, nil, false
	}
	return seg, owned, true
}

// emitDataSegment copies seg's payload, zero-filling every byte not
// covered by ownedRanges (relative to seg.PayloadRange), so that the
// memory image produced by consumers equals the input's on included bytes
// and is deterministic elsewhere.
func (e *emitter) emitDataSegment(seg *wasm.DataSegment, ownedRanges []wasm.Range) *wasm.DataSegment {
	payload := make([]byte, len(seg.Payload))
	for _, rng := range ownedRanges {
		lo := rng.Start - seg.PayloadRange.Start
		hi := rng.End - seg.PayloadRange.Start
		copy(payload[lo:hi], seg.Payload[lo:hi])
	}
	return &wasm.DataSegment{Offset: seg.Offset, Payload: payload}
}

// emitElements derives, for output outIdx, active element segments covering
// only the table slots of functions that output defines: one single-entry
// segment per slot, in ascending slot order.
func (e *emitter) emitElements(outIdx int, funcIndexMap map[reader.InputFuncID]uint32) []*wasm.Element {
	slots := make([]reader.InputFuncID, 0)
	for f := range e.tableSlots {
		idx, ok := e.program.OutputIndex(depgraph.FunctionNode(f))
		if !ok || idx != outIdx {
			continue
		}
		slots = append(slots, f)
	}
	sort.Slice(slots, func(i, j int) bool { return e.tableSlots[slots[i]] < e.tableSlots[slots[j]] })

	var elems []*wasm.Element
	for _, f := range slots {
		slot := e.tableSlots[f]
		localIdx, ok := funcIndexMap[f]
		if !ok {
			continue
		}
		offset := append([]byte{0x41}, leb128.EncodeInt32(nil, int32(slot))...)
		offset = append(offset, 0x0b)
		elems = append(elems, &wasm.Element{
			Offset:    offset,
			OffsetI32: slot,
			Funcs:     []uint32{localIdx},
		})
	}
	return elems
}

// FunctionTableSlots derives a function -> table-slot map from m's own
// active element segment(s), assuming a single table and contiguous
// i32.const-offset segments (the common case for Clang/LLVM wasm32
// output). See SPEC_FULL.md §4.5.
func FunctionTableSlots(m *wasm.Module) map[reader.InputFuncID]uint32 {
	slots := map[reader.InputFuncID]uint32{}
	for _, el := range m.ElementSection {
		for i, f := range el.Funcs {
			slots[reader.InputFuncID(f)] = el.OffsetI32 + uint32(i)
		}
	}
	return slots
}
