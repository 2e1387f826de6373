// Package depgraph builds the function/data-symbol dependency graph from a
// module's relocation entries.
package depgraph

import (
	"fmt"
	"sort"

	"github.com/wasm-split/wasmsplit/internal/reader"
	"github.com/wasm-split/wasmsplit/internal/wasm"
)

// NodeKind tags a DepNode as referring to a function or a data symbol.
type NodeKind int

const (
	NodeFunction NodeKind = iota
	NodeDataSymbol
)

// DepNode is a node of the dependency graph: either a function (identified
// by its InputFuncID) or a data symbol (identified by its SymbolIndex in
// the linking section's symbol table).
type DepNode struct {
	Kind     NodeKind
	FuncID   reader.InputFuncID
	SymIndex reader.SymbolIndex
}

func FunctionNode(id reader.InputFuncID) DepNode { return DepNode{Kind: NodeFunction, FuncID: id} }
func DataSymbolNode(idx reader.SymbolIndex) DepNode {
	return DepNode{Kind: NodeDataSymbol, SymIndex: idx}
}

func (n DepNode) String() string {
	if n.Kind == NodeFunction {
		return fmt.Sprintf("Function(%d)", n.FuncID)
	}
	return fmt.Sprintf("DataSymbol(%d)", n.SymIndex)
}

// Less gives DepNode a total order (functions before data symbols, then by
// id), used to normalize iteration order before it reaches downstream
// components.
func (n DepNode) Less(o DepNode) bool {
	if n.Kind != o.Kind {
		return n.Kind < o.Kind
	}
	if n.Kind == NodeFunction {
		return n.FuncID < o.FuncID
	}
	return n.SymIndex < o.SymIndex
}

// Graph is the adjacency map DepNode -> set<DepNode>. Duplicate edges are
// idempotent, since the value type is a set.
type Graph struct {
	edges map[DepNode]map[DepNode]struct{}
}

// NewGraph returns an empty graph, for building test fixtures or graphs
// from sources other than relocation entries.
func NewGraph() *Graph {
	return &Graph{edges: map[DepNode]map[DepNode]struct{}{}}
}

func newGraph() *Graph { return NewGraph() }

// AddEdge records an edge from -> to. Exported for test fixtures.
func (g *Graph) AddEdge(from, to DepNode) { g.addEdge(from, to) }

func (g *Graph) addEdge(from, to DepNode) {
	set, ok := g.edges[from]
	if !ok {
		set = map[DepNode]struct{}{}
		g.edges[from] = set
	}
	set[to] = struct{}{}
}

// Successors returns the sorted set of nodes n points to, for deterministic
// iteration.
func (g *Graph) Successors(n DepNode) []DepNode {
	set := g.edges[n]
	out := make([]DepNode, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// HasNode reports whether n has at least one outgoing edge recorded (only
// defined functions and data symbols containing a relocation site do).
func (g *Graph) HasNode(n DepNode) bool {
	_, ok := g.edges[n]
	return ok
}

// Build walks every relocation entry in r's underlying module's reloc.CODE
// and reloc.DATA sections, classifying each by the kind of symbol it
// targets and locating its source (containing function or data symbol) via
// r's range indices.
func Build(r *reader.Reader) (*Graph, error) {
	g := newGraph()

	m := r.Module

	if m.RelocCode != nil {
		if err := addRelocEdges(g, r, m.RelocCode, sourceIsCode); err != nil {
			return nil, fmt.Errorf("depgraph: reloc.CODE: %w", err)
		}
	}
	if m.RelocData != nil {
		if err := addRelocEdges(g, r, m.RelocData, sourceIsData); err != nil {
			return nil, fmt.Errorf("depgraph: reloc.DATA: %w", err)
		}
	}

	return g, nil
}

type sourceKind int

const (
	sourceIsCode sourceKind = iota
	sourceIsData
)

func addRelocEdges(g *Graph, r *reader.Reader, rs *wasm.RelocSection, kind sourceKind) error {
	for _, entry := range rs.Entries {
		absOffset := rs.SectionPayloadOffset + int(entry.Offset)
		targetRange := wasm.Range{Start: absOffset, End: absOffset + 1}

		var source DepNode
		switch kind {
		case sourceIsCode:
			funcID, err := r.FindFunctionContainingRange(targetRange)
			if err != nil {
				return fmt.Errorf("relocation at code offset %d: %w", absOffset, err)
			}
			source = FunctionNode(funcID)
		case sourceIsData:
			symIdx, err := r.FindDataSymbolContainingRange(targetRange)
			if err != nil {
				return fmt.Errorf("relocation at data offset %d: %w", absOffset, err)
			}
			source = DataSymbolNode(symIdx)
		}

		target, err := relocTarget(r, entry)
		if err != nil {
			return err
		}
		if target == nil {
			continue
		}
		g.addEdge(source, *target)
	}
	return nil
}

// relocTarget classifies a single relocation entry into a DepNode, per the
// edge-target table: function-index relocations target Function(index);
// every relocation that targets the symbol table and whose symbol is kind
// Data targets DataSymbol(index). Relocations that target the type section
// or a raw section offset (R_WASM_TYPE_INDEX_LEB, R_WASM_SECTION_OFFSET_I32)
// carry no dependency-graph edge, since they don't reference another
// function or data symbol.
func relocTarget(r *reader.Reader, entry wasm.RelocEntry) (*DepNode, error) {
	if !entry.Type.TargetsSymbolTable() {
		return nil, nil
	}
	if int(entry.Index) >= len(r.Symbols) {
		return nil, fmt.Errorf("relocation symbol index %d out of range (symbol table has %d entries)", entry.Index, len(r.Symbols))
	}
	sym := r.Symbols[entry.Index]
	switch sym.Kind {
	case wasm.SymbolKindFunction:
		n := FunctionNode(reader.InputFuncID(sym.Index))
		return &n, nil
	case wasm.SymbolKindData:
		n := DataSymbolNode(reader.SymbolIndex(entry.Index))
		return &n, nil
	default:
		// Global, Table, Section and Event symbols address shared,
		// position-independent state (see internal/emit's relocation
		// rewrite rule) and do not participate in the dependency graph.
		return nil, nil
	}
}
