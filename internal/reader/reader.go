// Package reader builds a queryable view of one decoded linkable module:
// ordered imports/exports, byte-range indices over defined functions and
// data segments, and the symbol table, so that relocation targets can be
// resolved back to the node that contains them.
package reader

import (
	"fmt"
	"sort"

	"github.com/wasm-split/wasmsplit/internal/wasm"
)

// InputFuncID is a dense index into the combined imported-then-defined
// function space, matching the input module's native function index.
type InputFuncID uint32

// SymbolIndex indexes the input's linking-section symbol table.
type SymbolIndex uint32

// DefinedFunc records one locally defined function's position in the
// function index space and the byte range of its body within the original
// module buffer.
type DefinedFunc struct {
	FuncID InputFuncID
	Range  wasm.Range
}

// DataSegmentInfo records one data segment's index and payload byte range
// within the original module buffer (header excluded).
type DataSegmentInfo struct {
	SegmentIndex int
	Range        wasm.Range
}

// Reader is the parsed, indexed view of one linkable module. All fields are
// built once at construction and never mutated afterward.
type Reader struct {
	Module *wasm.Module

	Imports []*wasm.Import
	Exports []*wasm.Export

	// ImportFuncIDs maps the position of a function import within
	// Imports to its InputFuncID (identical to its index in Imports
	// filtered to Kind==Func, but kept explicit for clarity at call
	// sites).
	ImportFuncIDs []InputFuncID

	// DefinedFuncs is sorted by Range.Start, ready for binary search.
	DefinedFuncs []DefinedFunc

	// DataSegmentRanges is sorted by Range.Start, ready for binary search.
	DataSegmentRanges []DataSegmentInfo

	Symbols []wasm.SymbolInfo

	// Names is a best-effort function-index -> name map for diagnostics.
	Names map[InputFuncID]string

	// Start is the start function's index, if the input module declares
	// one.
	Start *InputFuncID
}

// New parses m into a Reader. m must already have passed DecodeModule's
// linking/symbol-table validation.
func New(m *wasm.Module) (*Reader, error) {
	r := &Reader{Module: m}

	r.Imports = m.ImportSection
	r.Exports = m.ExportSection

	for _, imp := range m.ImportSection {
		if imp.Kind == wasm.ExternalKindFunc {
			r.ImportFuncIDs = append(r.ImportFuncIDs, InputFuncID(len(r.ImportFuncIDs)))
		}
	}

	numImported := uint32(m.NumImportedFunctions())
	r.DefinedFuncs = make([]DefinedFunc, len(m.CodeSection))
	for i, code := range m.CodeSection {
		r.DefinedFuncs[i] = DefinedFunc{
			FuncID: InputFuncID(numImported) + InputFuncID(i),
			Range:  code.BodyRange,
		}
	}
	sort.Slice(r.DefinedFuncs, func(i, j int) bool {
		return r.DefinedFuncs[i].Range.Start < r.DefinedFuncs[j].Range.Start
	})

	r.DataSegmentRanges = make([]DataSegmentInfo, len(m.DataSection))
	for i, seg := range m.DataSection {
		r.DataSegmentRanges[i] = DataSegmentInfo{SegmentIndex: i, Range: seg.PayloadRange}
	}
	sort.Slice(r.DataSegmentRanges, func(i, j int) bool {
		return r.DataSegmentRanges[i].Range.Start < r.DataSegmentRanges[j].Range.Start
	})

	if m.Linking == nil || m.Linking.Symbols == nil {
		return nil, fmt.Errorf("no symbol table found")
	}
	r.Symbols = m.Linking.Symbols

	r.Names = map[InputFuncID]string{}
	if m.NameSection != nil {
		for idx, name := range m.NameSection.Functions {
			r.Names[InputFuncID(idx)] = name
		}
	}

	if m.StartSection != nil {
		start := InputFuncID(*m.StartSection)
		r.Start = &start
	}

	return r, nil
}

// FindFunctionContainingRange returns the defined function whose body range
// fully contains rng, per wasm.Range.Contains. Failure is a hard error
// naming the offending range.
func (r *Reader) FindFunctionContainingRange(rng wasm.Range) (InputFuncID, error) {
	funcs := r.DefinedFuncs
	i := sort.Search(len(funcs), func(i int) bool { return funcs[i].Range.Start > rng.Start })
	// funcs[i-1] is the last function starting at or before rng.Start; it is
	// the only candidate that could contain rng.
	if i > 0 {
		cand := funcs[i-1]
		if cand.Range.Contains(rng) {
			return cand.FuncID, nil
		}
	}
	return 0, fmt.Errorf("reader: no defined function contains range [%d, %d)", rng.Start, rng.End)
}

// FindDataSegmentContainingRange returns the data segment whose payload
// range fully contains rng.
func (r *Reader) FindDataSegmentContainingRange(rng wasm.Range) (DataSegmentInfo, error) {
	segs := r.DataSegmentRanges
	i := sort.Search(len(segs), func(i int) bool { return segs[i].Range.Start > rng.Start })
	if i > 0 {
		cand := segs[i-1]
		if cand.Range.Contains(rng) {
			return cand, nil
		}
	}
	return DataSegmentInfo{}, fmt.Errorf("reader: no data segment contains range [%d, %d)", rng.Start, rng.End)
}

// FindDataSymbolContainingRange locates the data segment containing rng,
// then the data symbol within that segment whose byte range covers rng.
func (r *Reader) FindDataSymbolContainingRange(rng wasm.Range) (SymbolIndex, error) {
	seg, err := r.FindDataSegmentContainingRange(rng)
	if err != nil {
		return 0, err
	}
	for i, sym := range r.Symbols {
		if sym.Kind != wasm.SymbolKindData || !sym.HasDataRef {
			continue
		}
		if int(sym.DataIndex) != seg.SegmentIndex {
			continue
		}
		symStart := seg.Range.Start + int(sym.DataOffset)
		symRange := wasm.Range{Start: symStart, End: symStart + int(sym.DataSize)}
		if symRange.Contains(rng) {
			return SymbolIndex(i), nil
		}
	}
	return 0, fmt.Errorf("reader: no data symbol in segment %d contains range [%d, %d)", seg.SegmentIndex, rng.Start, rng.End)
}

// FunctionSymbol returns the symbol-table index of the Function symbol
// whose Index equals funcID, if any is present. Not every function
// necessarily has a symbol-table entry (only those referenced by name or
// relocation do in stripped output), so ok reports whether one was found.
func (r *Reader) FunctionSymbol(funcID InputFuncID) (SymbolIndex, bool) {
	for i, sym := range r.Symbols {
		if sym.Kind == wasm.SymbolKindFunction && sym.Index == uint32(funcID) {
			return SymbolIndex(i), true
		}
	}
	return 0, false
}
