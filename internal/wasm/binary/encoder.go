package binary

import (
	"github.com/wasm-split/wasmsplit/internal/leb128"
	"github.com/wasm-split/wasmsplit/internal/wasm"
)

// EncodeModule serializes m back into the WebAssembly binary format. Of the
// custom sections only "name" is written, and only if present on m; linking
// and reloc.* data on m is never written, since the splitter's outputs do
// not carry it.
func EncodeModule(m *wasm.Module) []byte {
	out := append([]byte{}, magic[:]...)
	out = appendU32LE(out, version1)

	if len(m.TypeSection) > 0 {
		out = appendSection(out, sectionType, encodeTypeSection(m.TypeSection))
	}
	if len(m.ImportSection) > 0 {
		out = appendSection(out, sectionImport, encodeImportSection(m.ImportSection))
	}
	if len(m.FunctionSection) > 0 {
		out = appendSection(out, sectionFunction, encodeFunctionSection(m.FunctionSection))
	}
	if len(m.TableSection) > 0 {
		out = appendSection(out, sectionTable, encodeTableSection(m.TableSection))
	}
	if len(m.MemorySection) > 0 {
		out = appendSection(out, sectionMemory, encodeMemorySection(m.MemorySection))
	}
	if len(m.GlobalSection) > 0 {
		out = appendSection(out, sectionGlobal, encodeGlobalSection(m.GlobalSection))
	}
	if len(m.ExportSection) > 0 {
		out = appendSection(out, sectionExport, encodeExportSection(m.ExportSection))
	}
	if m.StartSection != nil {
		out = appendSection(out, sectionStart, leb128.EncodeUint32(nil, *m.StartSection))
	}
	if len(m.ElementSection) > 0 {
		out = appendSection(out, sectionElement, encodeElementSection(m.ElementSection))
	}
	if m.DataCount != nil {
		out = appendSection(out, sectionDataCount, leb128.EncodeUint32(nil, *m.DataCount))
	}
	if len(m.CodeSection) > 0 {
		out = appendSection(out, sectionCode, encodeCodeSection(m.CodeSection))
	}
	if len(m.DataSection) > 0 {
		out = appendSection(out, sectionData, encodeDataSection(m.DataSection))
	}
	if m.NameSection != nil {
		out = appendCustomSection(out, "name", encodeNameSection(m.NameSection))
	}
	return out
}

func appendU32LE(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendSection(dst []byte, id byte, payload []byte) []byte {
	dst = append(dst, id)
	dst = leb128.EncodeUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

func appendCustomSection(dst []byte, name string, payload []byte) []byte {
	var body []byte
	body = appendName(body, name)
	body = append(body, payload...)
	return appendSection(dst, sectionCustom, body)
}

func appendName(dst []byte, s string) []byte {
	dst = leb128.EncodeUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

func appendVarU32Vec[T any](dst []byte, items []T, encodeOne func([]byte, T) []byte) []byte {
	dst = leb128.EncodeUint32(dst, uint32(len(items)))
	for _, it := range items {
		dst = encodeOne(dst, it)
	}
	return dst
}

func encodeValueTypeVec(dst []byte, vts []wasm.ValueType) []byte {
	dst = leb128.EncodeUint32(dst, uint32(len(vts)))
	for _, vt := range vts {
		dst = append(dst, byte(vt))
	}
	return dst
}

func encodeTypeSection(types []*wasm.FunctionType) []byte {
	var out []byte
	out = leb128.EncodeUint32(out, uint32(len(types)))
	for _, t := range types {
		out = append(out, 0x60)
		out = encodeValueTypeVec(out, t.Params)
		out = encodeValueTypeVec(out, t.Results)
	}
	return out
}

func encodeLimits(dst []byte, l wasm.Limits) []byte {
	if l.Max != nil {
		dst = append(dst, 1)
		dst = leb128.EncodeUint32(dst, l.Min)
		dst = leb128.EncodeUint32(dst, *l.Max)
	} else {
		dst = append(dst, 0)
		dst = leb128.EncodeUint32(dst, l.Min)
	}
	return dst
}

func encodeImportSection(imports []*wasm.Import) []byte {
	var out []byte
	out = leb128.EncodeUint32(out, uint32(len(imports)))
	for _, imp := range imports {
		out = appendName(out, imp.Module)
		out = appendName(out, imp.Name)
		out = append(out, byte(imp.Kind))
		switch imp.Kind {
		case wasm.ExternalKindFunc:
			out = leb128.EncodeUint32(out, imp.TypeIndex)
		case wasm.ExternalKindTable:
			out = append(out, 0x70) // funcref
			out = encodeLimits(out, imp.Table.Limits)
		case wasm.ExternalKindMemory:
			out = encodeLimits(out, imp.Memory.Limits)
		case wasm.ExternalKindGlobal:
			out = append(out, byte(imp.Global.ValType))
			if imp.Global.Mutable {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
	}
	return out
}

func encodeFunctionSection(typeIdxs []uint32) []byte {
	var out []byte
	out = leb128.EncodeUint32(out, uint32(len(typeIdxs)))
	for _, idx := range typeIdxs {
		out = leb128.EncodeUint32(out, idx)
	}
	return out
}

func encodeTableSection(tables []*wasm.Table) []byte {
	var out []byte
	out = leb128.EncodeUint32(out, uint32(len(tables)))
	for _, t := range tables {
		out = append(out, 0x70)
		out = encodeLimits(out, t.Limits)
	}
	return out
}

func encodeMemorySection(mems []*wasm.Memory) []byte {
	var out []byte
	out = leb128.EncodeUint32(out, uint32(len(mems)))
	for _, mem := range mems {
		out = encodeLimits(out, mem.Limits)
	}
	return out
}

func encodeGlobalSection(globals []*wasm.Global) []byte {
	var out []byte
	out = leb128.EncodeUint32(out, uint32(len(globals)))
	for _, g := range globals {
		out = append(out, byte(g.Type.ValType))
		if g.Type.Mutable {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
		out = append(out, g.Init...)
	}
	return out
}

func encodeExportSection(exports []*wasm.Export) []byte {
	var out []byte
	out = leb128.EncodeUint32(out, uint32(len(exports)))
	for _, e := range exports {
		out = appendName(out, e.Name)
		out = append(out, byte(e.Kind))
		out = leb128.EncodeUint32(out, e.Index)
	}
	return out
}

func encodeElementSection(elems []*wasm.Element) []byte {
	var out []byte
	out = leb128.EncodeUint32(out, uint32(len(elems)))
	for _, el := range elems {
		if el.TableIndex == 0 {
			out = leb128.EncodeUint32(out, 0)
			out = append(out, el.Offset...)
		} else {
			out = leb128.EncodeUint32(out, 2)
			out = leb128.EncodeUint32(out, el.TableIndex)
			out = append(out, el.Offset...)
			out = append(out, 0x00) // elemkind: funcref
		}
		out = leb128.EncodeUint32(out, uint32(len(el.Funcs)))
		for _, f := range el.Funcs {
			out = leb128.EncodeUint32(out, f)
		}
	}
	return out
}

func encodeCodeSection(codes []*wasm.Code) []byte {
	var out []byte
	out = leb128.EncodeUint32(out, uint32(len(codes)))
	for _, c := range codes {
		var entry []byte
		entry = leb128.EncodeUint32(entry, uint32(len(c.Locals)))
		for _, l := range c.Locals {
			entry = leb128.EncodeUint32(entry, l.Count)
			entry = append(entry, byte(l.ValType))
		}
		entry = append(entry, c.Body...)
		out = leb128.EncodeUint32(out, uint32(len(entry)))
		out = append(out, entry...)
	}
	return out
}

func encodeDataSection(segs []*wasm.DataSegment) []byte {
	var out []byte
	out = leb128.EncodeUint32(out, uint32(len(segs)))
	for _, s := range segs {
		out = leb128.EncodeUint32(out, 0)
		out = append(out, s.Offset...)
		out = leb128.EncodeUint32(out, uint32(len(s.Payload)))
		out = append(out, s.Payload...)
	}
	return out
}

func encodeNameSection(ns *wasm.NameSection) []byte {
	var out []byte
	if ns.ModuleName != "" {
		var sub []byte
		sub = appendName(sub, ns.ModuleName)
		out = append(out, 0)
		out = leb128.EncodeUint32(out, uint32(len(sub)))
		out = append(out, sub...)
	}
	if len(ns.Functions) > 0 {
		idxs := make([]uint32, 0, len(ns.Functions))
		for idx := range ns.Functions {
			idxs = append(idxs, idx)
		}
		sortUint32s(idxs)
		var sub []byte
		sub = leb128.EncodeUint32(sub, uint32(len(idxs)))
		for _, idx := range idxs {
			sub = leb128.EncodeUint32(sub, idx)
			sub = appendName(sub, ns.Functions[idx])
		}
		out = append(out, 1)
		out = leb128.EncodeUint32(out, uint32(len(sub)))
		out = append(out, sub...)
	}
	return out
}

func sortUint32s(s []uint32) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
