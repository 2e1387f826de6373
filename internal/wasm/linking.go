package wasm

// SymbolKind is the tag byte of a `linking` section symbol table entry, per
// the LLVM/lld wasm object "Linking Metadata Section" convention.
type SymbolKind byte

const (
	SymbolKindFunction SymbolKind = 0
	SymbolKindData     SymbolKind = 1
	SymbolKindGlobal   SymbolKind = 2
	SymbolKindSection  SymbolKind = 3
	SymbolKindEvent    SymbolKind = 4
	SymbolKindTable    SymbolKind = 5
)

// Symbol flags, only the ones this tool needs to interpret.
const (
	SymFlagUndefined   uint32 = 0x10
	SymFlagExplicitName uint32 = 0x40
)

// SymbolInfo is one entry of the `linking` section's symbol table
// subsection. Not every field is populated for every Kind; the field
// comments below say which Kinds use which fields.
type SymbolInfo struct {
	Kind  SymbolKind
	Flags uint32
	Name  string

	// Function / Global / Table / Event symbols:
	Index uint32

	// Data symbols:
	HasDataRef bool
	DataIndex  uint32 // data segment index
	DataOffset uint32 // byte offset within the segment
	DataSize   uint32 // byte size of the symbol within the segment
}

// IsDefined reports whether the symbol refers to content present in this
// module (as opposed to an imported, external definition).
func (s *SymbolInfo) IsDefined() bool {
	return s.Flags&SymFlagUndefined == 0
}

// LinkingSection is the decoded contents of the custom "linking" section:
// just the symbol table, which is all this tool reads (segment info,
// init funcs and comdat info subsections are skipped during decode and
// dropped from emitted modules, since no split-point semantics depend on
// them).
type LinkingSection struct {
	Version uint32
	Symbols []SymbolInfo
}
