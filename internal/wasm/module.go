// Package wasm models a single linkable WebAssembly module: its sections,
// its linking metadata and its relocations, in a form that preserves the
// original byte ranges of every function body and data segment so that the
// splitter can copy them verbatim into output modules.
//
// The model covers exactly the subset of the MVP binary format that the
// Clang/LLVM wasm32 toolchain emits for a single, statically linked,
// single-memory, single-table object: it does not model passive/declared
// element segments, multiple memories or tables, or post-MVP value types.
package wasm

// ValueType is a WebAssembly value type, encoded as its single-byte type
// tag from the binary format.
type ValueType byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
)

// ExternalKind identifies what an Import or Export refers to.
type ExternalKind byte

const (
	ExternalKindFunc   ExternalKind = 0x00
	ExternalKindTable  ExternalKind = 0x01
	ExternalKindMemory ExternalKind = 0x02
	ExternalKindGlobal ExternalKind = 0x03
)

// FunctionType is a single entry of the type section.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType
}

// Limits is the (min, max) pair shared by table and memory declarations.
type Limits struct {
	Min uint32
	Max *uint32
}

// Table is a single entry of the table section. This model supports only
// funcref tables, which is all the split-point ABI ever uses.
type Table struct {
	Limits
}

// Memory is a single entry of the memory section.
type Memory struct {
	Limits
}

// GlobalType describes a global's value type and mutability.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// Global is a single entry of the global section. Init holds the raw bytes
// of the constant init expression (including its trailing 0x0b end opcode),
// copied verbatim since this model never needs to evaluate it.
type Global struct {
	Type GlobalType
	Init []byte
}

// Import is a single entry of the import section. For function imports,
// TypeIndex is the index into the type section; for the other kinds the
// corresponding field is populated instead.
type Import struct {
	Module string
	Name   string
	Kind   ExternalKind

	TypeIndex uint32
	Table     *Table
	Memory    *Memory
	Global    *GlobalType
}

// Export is a single entry of the export section.
type Export struct {
	Name  string
	Kind  ExternalKind
	Index uint32
}

// Code is a single entry of the code section: a defined function's locals
// declaration and body. BodyRange is the byte range, within the original
// module buffer, of the instruction bytes alone (after the locals vector);
// relocation sites are located within the function by this range.
type Code struct {
	Locals    []CodeLocal
	Body      []byte
	BodyRange Range
}

// CodeLocal is a run-length-encoded group of locals of the same type.
type CodeLocal struct {
	Count   uint32
	ValType ValueType
}

// Range is a half-open byte range [Start, End) into the original module
// buffer (or, for emitted modules, a freshly assembled buffer).
type Range struct {
	Start int
	End   int
}

// Len returns the number of bytes covered by the range.
func (r Range) Len() int { return r.End - r.Start }

// Contains reports whether r fully contains other, per spec: r.Start <=
// other.Start && other.End <= r.End.
func (r Range) Contains(other Range) bool {
	return r.Start <= other.Start && other.End <= r.End
}

// DataSegment is a single entry of the data section. Offset is the raw
// bytes of the active segment's constant offset expression (copied
// verbatim); PayloadRange is the byte range of the segment's data payload
// alone, excluding the segment header (flags, memory index, offset
// expression and length prefix) within the original module buffer.
type DataSegment struct {
	Offset       []byte
	Payload      []byte
	PayloadRange Range
}

// Element is a single active element segment: TableIndex is almost always
// 0, Offset the raw constant-expression bytes, Funcs the function indices
// it installs into the table starting at the evaluated offset.
type Element struct {
	TableIndex uint32
	Offset     []byte
	OffsetI32  uint32 // decoded constant i32.const offset, used for slot bookkeeping
	Funcs      []uint32
}

// NameSection is the decoded contents of the custom "name" section, used
// for diagnostics only.
type NameSection struct {
	ModuleName string
	Functions  map[uint32]string
}

// Module is the fully parsed representation of one linkable WebAssembly
// input module, or of one freshly assembled output module.
type Module struct {
	TypeSection     []*FunctionType
	ImportSection   []*Import
	FunctionSection []uint32 // type index per defined function, in order
	TableSection    []*Table
	MemorySection   []*Memory
	GlobalSection   []*Global
	ExportSection   []*Export
	StartSection    *uint32
	ElementSection  []*Element
	CodeSection     []*Code
	DataSection     []*DataSegment
	DataCount       *uint32

	NameSection *NameSection
	Linking     *LinkingSection
	RelocCode   *RelocSection
	RelocData   *RelocSection
}

// NumImportedFunctions returns the count of function imports, i.e. the
// size of the low end of the combined imported-then-defined function index
// space.
func (m *Module) NumImportedFunctions() int {
	n := 0
	for _, imp := range m.ImportSection {
		if imp.Kind == ExternalKindFunc {
			n++
		}
	}
	return n
}

// NumFunctions returns the total function index space size: imported
// functions followed by defined functions.
func (m *Module) NumFunctions() int {
	return m.NumImportedFunctions() + len(m.CodeSection)
}

// FunctionTypeIndex returns the type index of the function at the given
// position in the combined function index space.
func (m *Module) FunctionTypeIndex(funcIdx uint32) uint32 {
	n := uint32(0)
	for _, imp := range m.ImportSection {
		if imp.Kind == ExternalKindFunc {
			if n == funcIdx {
				return imp.TypeIndex
			}
			n++
		}
	}
	return m.FunctionSection[funcIdx-n]
}
