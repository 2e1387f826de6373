package binary

import (
	"fmt"

	"github.com/wasm-split/wasmsplit/internal/wasm"
)

// DecodeModule parses a complete WebAssembly binary module, preserving the
// byte ranges (relative to data) of every function body and data segment
// payload, and decoding the linking and relocation custom sections a
// linkable object carries.
func DecodeModule(data []byte) (*wasm.Module, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("binary: module too short to contain a header")
	}
	for i, b := range magic {
		if data[i] != b {
			return nil, fmt.Errorf("binary: invalid magic number")
		}
	}
	ver := uint32(data[4]) | uint32(data[5])<<8 | uint32(data[6])<<16 | uint32(data[7])<<24
	if ver != version1 {
		return nil, fmt.Errorf("binary: unsupported version %d", ver)
	}

	c := &cursor{data: data, pos: 8}
	m := &wasm.Module{}

	var linkingSeen int

	for c.remaining() > 0 {
		id, err := c.readByte()
		if err != nil {
			return nil, err
		}
		size, err := c.readVarU32()
		if err != nil {
			return nil, fmt.Errorf("binary: reading section %d size: %w", id, err)
		}
		sectionStart := c.pos
		sectionEnd := sectionStart + int(size)
		if sectionEnd > len(data) {
			return nil, fmt.Errorf("binary: section %d size %d exceeds module length", id, size)
		}

		switch id {
		case sectionCustom:
			name, err := c.readName()
			if err != nil {
				return nil, fmt.Errorf("binary: custom section name: %w", err)
			}
			switch name {
			case "name":
				ns, err := decodeNameSection(c, sectionEnd)
				if err != nil {
					return nil, fmt.Errorf("binary: name section: %w", err)
				}
				m.NameSection = ns
			case "linking":
				linkingSeen++
				ls, err := decodeLinkingSection(c, sectionEnd)
				if err != nil {
					return nil, fmt.Errorf("binary: linking section: %w", err)
				}
				m.Linking = ls
			case "reloc.CODE":
				rs, err := decodeRelocSection(c, sectionEnd)
				if err != nil {
					return nil, fmt.Errorf("binary: reloc.CODE section: %w", err)
				}
				m.RelocCode = rs
			case "reloc.DATA":
				rs, err := decodeRelocSection(c, sectionEnd)
				if err != nil {
					return nil, fmt.Errorf("binary: reloc.DATA section: %w", err)
				}
				m.RelocData = rs
			}
			c.pos = sectionEnd
		case sectionType:
			types, err := decodeTypeSection(c)
			if err != nil {
				return nil, fmt.Errorf("binary: type section: %w", err)
			}
			m.TypeSection = types
		case sectionImport:
			imports, err := decodeImportSection(c)
			if err != nil {
				return nil, fmt.Errorf("binary: import section: %w", err)
			}
			m.ImportSection = imports
		case sectionFunction:
			fns, err := decodeFunctionSection(c)
			if err != nil {
				return nil, fmt.Errorf("binary: function section: %w", err)
			}
			m.FunctionSection = fns
		case sectionTable:
			tables, err := decodeTableSection(c)
			if err != nil {
				return nil, fmt.Errorf("binary: table section: %w", err)
			}
			m.TableSection = tables
		case sectionMemory:
			mems, err := decodeMemorySection(c)
			if err != nil {
				return nil, fmt.Errorf("binary: memory section: %w", err)
			}
			m.MemorySection = mems
		case sectionGlobal:
			globals, err := decodeGlobalSection(c)
			if err != nil {
				return nil, fmt.Errorf("binary: global section: %w", err)
			}
			m.GlobalSection = globals
		case sectionExport:
			exports, err := decodeExportSection(c)
			if err != nil {
				return nil, fmt.Errorf("binary: export section: %w", err)
			}
			m.ExportSection = exports
		case sectionStart:
			idx, err := c.readVarU32()
			if err != nil {
				return nil, fmt.Errorf("binary: start section: %w", err)
			}
			m.StartSection = &idx
		case sectionElement:
			elems, err := decodeElementSection(c)
			if err != nil {
				return nil, fmt.Errorf("binary: element section: %w", err)
			}
			m.ElementSection = elems
		case sectionDataCount:
			n, err := c.readVarU32()
			if err != nil {
				return nil, fmt.Errorf("binary: data count section: %w", err)
			}
			m.DataCount = &n
		case sectionCode:
			codeSectionPayloadOffset := c.pos
			code, err := decodeCodeSection(c)
			if err != nil {
				return nil, fmt.Errorf("binary: code section: %w", err)
			}
			m.CodeSection = code
			if m.RelocCode != nil {
				m.RelocCode.SectionPayloadOffset = codeSectionPayloadOffset
			}
		case sectionData:
			dataSectionPayloadOffset := c.pos
			data, err := decodeDataSection(c)
			if err != nil {
				return nil, fmt.Errorf("binary: data section: %w", err)
			}
			m.DataSection = data
			if m.RelocData != nil {
				m.RelocData.SectionPayloadOffset = dataSectionPayloadOffset
			}
		default:
			return nil, fmt.Errorf("binary: unknown section id %d", id)
		}

		if c.pos != sectionEnd {
			return nil, fmt.Errorf("binary: section %d decoded %d bytes, expected %d", id, c.pos-sectionStart, size)
		}
	}

	if linkingSeen == 0 {
		return nil, fmt.Errorf("no linking section found")
	}
	if linkingSeen > 1 {
		return nil, limitsError("linking section", linkingSeen)
	}
	if m.Linking == nil || m.Linking.Symbols == nil {
		return nil, fmt.Errorf("no symbol table found")
	}

	// If a reloc section was decoded before its target section (never
	// happens in valid lld output, sections are emitted type..data then
	// custom relocation sections at the very end) its payload offset is
	// already set above since code/data sections always precede reloc.CODE
	// /reloc.DATA in a linkable module.
	return m, nil
}

func decodeTypeSection(c *cursor) ([]*wasm.FunctionType, error) {
	count, err := c.readVarU32()
	if err != nil {
		return nil, err
	}
	out := make([]*wasm.FunctionType, count)
	for i := range out {
		form, err := c.readByte()
		if err != nil {
			return nil, err
		}
		if form != 0x60 {
			return nil, fmt.Errorf("invalid function type form 0x%x", form)
		}
		params, err := decodeValueTypeVec(c)
		if err != nil {
			return nil, err
		}
		results, err := decodeValueTypeVec(c)
		if err != nil {
			return nil, err
		}
		out[i] = &wasm.FunctionType{Params: params, Results: results}
	}
	return out, nil
}

func decodeValueTypeVec(c *cursor) ([]wasm.ValueType, error) {
	n, err := c.readVarU32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.ValueType, n)
	for i := range out {
		b, err := c.readByte()
		if err != nil {
			return nil, err
		}
		out[i] = wasm.ValueType(b)
	}
	return out, nil
}

func decodeLimits(c *cursor) (wasm.Limits, error) {
	flag, err := c.readByte()
	if err != nil {
		return wasm.Limits{}, err
	}
	min, err := c.readVarU32()
	if err != nil {
		return wasm.Limits{}, err
	}
	l := wasm.Limits{Min: min}
	if flag == 1 {
		max, err := c.readVarU32()
		if err != nil {
			return wasm.Limits{}, err
		}
		l.Max = &max
	}
	return l, nil
}

func decodeImportSection(c *cursor) ([]*wasm.Import, error) {
	count, err := c.readVarU32()
	if err != nil {
		return nil, err
	}
	out := make([]*wasm.Import, count)
	for i := range out {
		mod, err := c.readName()
		if err != nil {
			return nil, err
		}
		name, err := c.readName()
		if err != nil {
			return nil, err
		}
		kind, err := c.readByte()
		if err != nil {
			return nil, err
		}
		imp := &wasm.Import{Module: mod, Name: name, Kind: wasm.ExternalKind(kind)}
		switch imp.Kind {
		case wasm.ExternalKindFunc:
			idx, err := c.readVarU32()
			if err != nil {
				return nil, err
			}
			imp.TypeIndex = idx
		case wasm.ExternalKindTable:
			elemType, err := c.readByte()
			if err != nil {
				return nil, err
			}
			_ = elemType
			limits, err := decodeLimits(c)
			if err != nil {
				return nil, err
			}
			imp.Table = &wasm.Table{Limits: limits}
		case wasm.ExternalKindMemory:
			limits, err := decodeLimits(c)
			if err != nil {
				return nil, err
			}
			imp.Memory = &wasm.Memory{Limits: limits}
		case wasm.ExternalKindGlobal:
			vt, err := c.readByte()
			if err != nil {
				return nil, err
			}
			mut, err := c.readByte()
			if err != nil {
				return nil, err
			}
			imp.Global = &wasm.GlobalType{ValType: wasm.ValueType(vt), Mutable: mut == 1}
		default:
			return nil, fmt.Errorf("invalid import kind %d", kind)
		}
		out[i] = imp
	}
	return out, nil
}

func decodeFunctionSection(c *cursor) ([]uint32, error) {
	count, err := c.readVarU32()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, count)
	for i := range out {
		idx, err := c.readVarU32()
		if err != nil {
			return nil, err
		}
		out[i] = idx
	}
	return out, nil
}

func decodeTableSection(c *cursor) ([]*wasm.Table, error) {
	count, err := c.readVarU32()
	if err != nil {
		return nil, err
	}
	if count > 1 {
		return nil, limitsError("table", int(count))
	}
	out := make([]*wasm.Table, count)
	for i := range out {
		elemType, err := c.readByte()
		if err != nil {
			return nil, err
		}
		_ = elemType
		limits, err := decodeLimits(c)
		if err != nil {
			return nil, err
		}
		out[i] = &wasm.Table{Limits: limits}
	}
	return out, nil
}

func decodeMemorySection(c *cursor) ([]*wasm.Memory, error) {
	count, err := c.readVarU32()
	if err != nil {
		return nil, err
	}
	if count > 1 {
		return nil, limitsError("memory", int(count))
	}
	out := make([]*wasm.Memory, count)
	for i := range out {
		limits, err := decodeLimits(c)
		if err != nil {
			return nil, err
		}
		out[i] = &wasm.Memory{Limits: limits}
	}
	return out, nil
}

func decodeConstExpr(c *cursor) ([]byte, uint32, error) {
	start := c.pos
	var decodedOffset uint32
	for {
		op, err := c.readByte()
		if err != nil {
			return nil, 0, err
		}
		switch op {
		case 0x41: // i32.const
			v, err := c.readVarI32()
			if err != nil {
				return nil, 0, err
			}
			decodedOffset = uint32(v)
		case 0x42: // i64.const
			if _, err := c.readVarU64(); err != nil {
				return nil, 0, err
			}
		case 0x43: // f32.const
			if _, err := c.readBytes(4); err != nil {
				return nil, 0, err
			}
		case 0x44: // f64.const
			if _, err := c.readBytes(8); err != nil {
				return nil, 0, err
			}
		case 0x23: // global.get
			if _, err := c.readVarU32(); err != nil {
				return nil, 0, err
			}
		case 0x0b: // end
			return append([]byte(nil), c.data[start:c.pos]...), decodedOffset, nil
		default:
			return nil, 0, fmt.Errorf("unsupported const expr opcode 0x%x", op)
		}
	}
}

func decodeGlobalSection(c *cursor) ([]*wasm.Global, error) {
	count, err := c.readVarU32()
	if err != nil {
		return nil, err
	}
	out := make([]*wasm.Global, count)
	for i := range out {
		vt, err := c.readByte()
		if err != nil {
			return nil, err
		}
		mut, err := c.readByte()
		if err != nil {
			return nil, err
		}
		init, _, err := decodeConstExpr(c)
		if err != nil {
			return nil, err
		}
		out[i] = &wasm.Global{Type: wasm.GlobalType{ValType: wasm.ValueType(vt), Mutable: mut == 1}, Init: init}
	}
	return out, nil
}

func decodeExportSection(c *cursor) ([]*wasm.Export, error) {
	count, err := c.readVarU32()
	if err != nil {
		return nil, err
	}
	out := make([]*wasm.Export, count)
	for i := range out {
		name, err := c.readName()
		if err != nil {
			return nil, err
		}
		kind, err := c.readByte()
		if err != nil {
			return nil, err
		}
		idx, err := c.readVarU32()
		if err != nil {
			return nil, err
		}
		out[i] = &wasm.Export{Name: name, Kind: wasm.ExternalKind(kind), Index: idx}
	}
	return out, nil
}

func decodeElementSection(c *cursor) ([]*wasm.Element, error) {
	count, err := c.readVarU32()
	if err != nil {
		return nil, err
	}
	out := make([]*wasm.Element, count)
	for i := range out {
		flags, err := c.readVarU32()
		if err != nil {
			return nil, err
		}
		el := &wasm.Element{}
		switch flags {
		case 0:
			offset, offI32, err := decodeConstExpr(c)
			if err != nil {
				return nil, err
			}
			el.Offset = offset
			el.OffsetI32 = offI32
			funcs, err := decodeFuncIdxVec(c)
			if err != nil {
				return nil, err
			}
			el.Funcs = funcs
		case 2:
			tableIdx, err := c.readVarU32()
			if err != nil {
				return nil, err
			}
			el.TableIndex = tableIdx
			offset, offI32, err := decodeConstExpr(c)
			if err != nil {
				return nil, err
			}
			el.Offset = offset
			el.OffsetI32 = offI32
			kind, err := c.readByte()
			if err != nil {
				return nil, err
			}
			_ = kind
			funcs, err := decodeFuncIdxVec(c)
			if err != nil {
				return nil, err
			}
			el.Funcs = funcs
		default:
			return nil, fmt.Errorf("unsupported element segment flags %d (only active funcref segments are supported)", flags)
		}
		out[i] = el
	}
	return out, nil
}

func decodeFuncIdxVec(c *cursor) ([]uint32, error) {
	n, err := c.readVarU32()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		idx, err := c.readVarU32()
		if err != nil {
			return nil, err
		}
		out[i] = idx
	}
	return out, nil
}

func decodeCodeSection(c *cursor) ([]*wasm.Code, error) {
	count, err := c.readVarU32()
	if err != nil {
		return nil, err
	}
	out := make([]*wasm.Code, count)
	for i := range out {
		size, err := c.readVarU32()
		if err != nil {
			return nil, err
		}
		entryEnd := c.pos + int(size)
		localCount, err := c.readVarU32()
		if err != nil {
			return nil, err
		}
		locals := make([]wasm.CodeLocal, localCount)
		for j := range locals {
			n, err := c.readVarU32()
			if err != nil {
				return nil, err
			}
			vt, err := c.readByte()
			if err != nil {
				return nil, err
			}
			locals[j] = wasm.CodeLocal{Count: n, ValType: wasm.ValueType(vt)}
		}
		bodyStart := c.pos
		body, err := c.readBytes(entryEnd - bodyStart)
		if err != nil {
			return nil, err
		}
		out[i] = &wasm.Code{
			Locals:    locals,
			Body:      append([]byte(nil), body...),
			BodyRange: wasm.Range{Start: bodyStart, End: entryEnd},
		}
		if c.pos != entryEnd {
			return nil, fmt.Errorf("code entry %d: decoded %d bytes, expected %d", i, c.pos-bodyStart, size)
		}
	}
	return out, nil
}

func decodeDataSection(c *cursor) ([]*wasm.DataSegment, error) {
	count, err := c.readVarU32()
	if err != nil {
		return nil, err
	}
	out := make([]*wasm.DataSegment, count)
	for i := range out {
		flags, err := c.readVarU32()
		if err != nil {
			return nil, err
		}
		var offset []byte
		switch flags {
		case 0:
			off, _, err := decodeConstExpr(c)
			if err != nil {
				return nil, err
			}
			offset = off
		case 1:
			// passive segment: no offset. Unsupported by this tool (see
			// Non-goals), but parse the length/payload so decode round
			// trips for modules that happen to carry one without a split
			// point touching it.
		case 2:
			memIdx, err := c.readVarU32()
			if err != nil {
				return nil, err
			}
			_ = memIdx
			off, _, err := decodeConstExpr(c)
			if err != nil {
				return nil, err
			}
			offset = off
		default:
			return nil, fmt.Errorf("unsupported data segment flags %d", flags)
		}
		n, err := c.readVarU32()
		if err != nil {
			return nil, err
		}
		payloadStart := c.pos
		payload, err := c.readBytes(int(n))
		if err != nil {
			return nil, err
		}
		out[i] = &wasm.DataSegment{
			Offset:       offset,
			Payload:      append([]byte(nil), payload...),
			PayloadRange: wasm.Range{Start: payloadStart, End: c.pos},
		}
	}
	return out, nil
}

func decodeNameSection(c *cursor, end int) (*wasm.NameSection, error) {
	ns := &wasm.NameSection{Functions: map[uint32]string{}}
	for c.pos < end {
		subID, err := c.readByte()
		if err != nil {
			return nil, err
		}
		size, err := c.readVarU32()
		if err != nil {
			return nil, err
		}
		subEnd := c.pos + int(size)
		switch subID {
		case 0: // module name
			name, err := c.readName()
			if err != nil {
				return nil, err
			}
			ns.ModuleName = name
		case 1: // function names
			n, err := c.readVarU32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < n; i++ {
				idx, err := c.readVarU32()
				if err != nil {
					return nil, err
				}
				name, err := c.readName()
				if err != nil {
					return nil, err
				}
				ns.Functions[idx] = name
			}
		}
		c.pos = subEnd
	}
	return ns, nil
}

func decodeLinkingSection(c *cursor, end int) (*wasm.LinkingSection, error) {
	version, err := c.readVarU32()
	if err != nil {
		return nil, err
	}
	ls := &wasm.LinkingSection{Version: version}
	symbolTableSeen := 0
	for c.pos < end {
		subID, err := c.readByte()
		if err != nil {
			return nil, err
		}
		size, err := c.readVarU32()
		if err != nil {
			return nil, err
		}
		subEnd := c.pos + int(size)
		if subID == linkingSymbolTable {
			symbolTableSeen++
			symbols, err := decodeSymbolTable(c)
			if err != nil {
				return nil, err
			}
			ls.Symbols = symbols
		}
		// Segment info / init funcs / comdat info subsections carry no
		// information this tool needs; skip their raw bytes.
		c.pos = subEnd
	}
	if symbolTableSeen > 1 {
		return nil, limitsError("symbol table", symbolTableSeen)
	}
	return ls, nil
}

func decodeSymbolTable(c *cursor) ([]wasm.SymbolInfo, error) {
	count, err := c.readVarU32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.SymbolInfo, count)
	for i := range out {
		kind, err := c.readByte()
		if err != nil {
			return nil, err
		}
		flags, err := c.readVarU32()
		if err != nil {
			return nil, err
		}
		sym := wasm.SymbolInfo{Kind: wasm.SymbolKind(kind), Flags: flags}
		hasName := flags&wasm.SymFlagExplicitName != 0 || flags&wasm.SymFlagUndefined == 0

		switch sym.Kind {
		case wasm.SymbolKindFunction, wasm.SymbolKindGlobal, wasm.SymbolKindTable, wasm.SymbolKindEvent:
			idx, err := c.readVarU32()
			if err != nil {
				return nil, err
			}
			sym.Index = idx
			if hasName {
				name, err := c.readName()
				if err != nil {
					return nil, err
				}
				sym.Name = name
			}
		case wasm.SymbolKindData:
			name, err := c.readName()
			if err != nil {
				return nil, err
			}
			sym.Name = name
			if flags&wasm.SymFlagUndefined == 0 {
				segIdx, err := c.readVarU32()
				if err != nil {
					return nil, err
				}
				segOff, err := c.readVarU32()
				if err != nil {
					return nil, err
				}
				segSize, err := c.readVarU32()
				if err != nil {
					return nil, err
				}
				sym.HasDataRef = true
				sym.DataIndex = segIdx
				sym.DataOffset = segOff
				sym.DataSize = segSize
			}
		case wasm.SymbolKindSection:
			idx, err := c.readVarU32()
			if err != nil {
				return nil, err
			}
			sym.Index = idx
		default:
			return nil, fmt.Errorf("unsupported symbol kind %d", kind)
		}
		out[i] = sym
	}
	return out, nil
}

func decodeRelocSection(c *cursor, end int) (*wasm.RelocSection, error) {
	sectionIdx, err := c.readVarU32()
	if err != nil {
		return nil, err
	}
	count, err := c.readVarU32()
	if err != nil {
		return nil, err
	}
	entries := make([]wasm.RelocEntry, count)
	for i := range entries {
		typ, err := c.readByte()
		if err != nil {
			return nil, err
		}
		offset, err := c.readVarU32()
		if err != nil {
			return nil, err
		}
		index, err := c.readVarU32()
		if err != nil {
			return nil, err
		}
		e := wasm.RelocEntry{Type: wasm.RelocType(typ), Offset: offset, Index: index}
		if relocHasAddend(wasm.RelocType(typ)) {
			addend, err := c.readVarI32()
			if err != nil {
				return nil, err
			}
			e.Addend = addend
			e.HasAddend = true
		}
		entries[i] = e
	}
	return &wasm.RelocSection{SectionIndex: sectionIdx, Entries: entries}, nil
}

func relocHasAddend(t wasm.RelocType) bool {
	switch t {
	case wasm.RelocMemoryAddrLEB, wasm.RelocMemoryAddrSLEB, wasm.RelocMemoryAddrI32,
		wasm.RelocMemoryAddrRelSLEB, wasm.RelocFunctionOffsetI32, wasm.RelocSectionOffsetI32,
		wasm.RelocTableIndexRelSLEB:
		return true
	default:
		return false
	}
}
