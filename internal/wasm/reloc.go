package wasm

// RelocType is the relocation type byte from a reloc.CODE/reloc.DATA
// custom section entry, per the LLVM/lld wasm object "Relocation Section"
// convention.
type RelocType byte

const (
	RelocFunctionIndexLEB  RelocType = 0
	RelocTableIndexSLEB    RelocType = 1
	RelocTableIndexI32     RelocType = 2
	RelocMemoryAddrLEB     RelocType = 3
	RelocMemoryAddrSLEB    RelocType = 4
	RelocMemoryAddrI32     RelocType = 5
	RelocTypeIndexLEB      RelocType = 6
	RelocGlobalIndexLEB    RelocType = 7
	RelocFunctionOffsetI32 RelocType = 8
	RelocSectionOffsetI32  RelocType = 9
	RelocTagIndexLEB       RelocType = 10
	RelocMemoryAddrRelSLEB RelocType = 11
	RelocTableIndexRelSLEB RelocType = 12
	RelocGlobalIndexI32    RelocType = 13
	RelocFunctionIndexI32  RelocType = 26
)

// TargetsSymbolTable reports whether the relocation's Index field is a
// symbol-table index (most relocation kinds) as opposed to a direct
// section-relative index (R_WASM_TYPE_INDEX_LEB addresses the type section
// directly, R_WASM_SECTION_OFFSET_I32 addresses a section directly).
func (t RelocType) TargetsSymbolTable() bool {
	return t != RelocTypeIndexLEB && t != RelocSectionOffsetI32
}

// RewritesFunctionIndex reports whether this relocation kind encodes a
// function's position in the *local* function index space of whichever
// module contains the call site, and must therefore be patched per output
// module. Every other relocation kind addresses something shared
// byte-for-byte across every output (a linear memory address, a table slot
// number, or a type-section index, since the type section is carried
// verbatim into every output) and is left untouched; see SPEC_FULL.md.
func (t RelocType) RewritesFunctionIndex() bool {
	return t == RelocFunctionIndexLEB || t == RelocFunctionIndexI32
}

// RelocEntry is one entry of a reloc.CODE/reloc.DATA custom section.
type RelocEntry struct {
	Type RelocType
	// Offset is the byte offset, relative to the start of the payload of
	// the section being relocated, at which the relocation is applied.
	Offset uint32
	// Index is either a symbol-table index (see TargetsSymbolTable) or a
	// direct type/section index.
	Index uint32
	// Addend is present only for the memory-address, function-offset,
	// section-offset and relative table-index kinds, none of which this tool
	// rewrites; it is decoded so the entries that follow are read correctly.
	Addend int32
	HasAddend bool
}

// RelocSection is the decoded contents of a reloc.CODE or reloc.DATA custom
// section: the id of the section it applies to, plus its entries in file
// order.
type RelocSection struct {
	SectionIndex uint32
	Entries      []RelocEntry
	// SectionPayloadOffset is the absolute byte offset, within the original
	// module buffer, of the first byte of the relocated section's payload
	// (i.e. right after that section's id and size fields). Entries[i].Offset
	// is relative to this, so absOffset = SectionPayloadOffset + Entries[i].Offset
	// converts a relocation to a position in the original buffer.
	SectionPayloadOffset int
}
