// Package partition assigns every dependency-graph node reachable from the
// program's roots to exactly one output module: Main, a Split per
// declared split point module, or a Chunk for symbols shared by several
// splits.
package partition

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wasm-split/wasmsplit/internal/depgraph"
	"github.com/wasm-split/wasmsplit/internal/reader"
	"github.com/wasm-split/wasmsplit/internal/splitpoint"
	"github.com/wasm-split/wasmsplit/internal/wasm"
)

// OutputModuleIdentifier identifies one output module: Main, a Split named
// Name, or a Chunk covering the sorted set of split Names.
type OutputModuleIdentifier struct {
	IsMain bool
	IsChunk bool
	// Name holds the split's name when this identifies a Split.
	Name string
	// Names holds the sorted set of split names sharing a Chunk.
	Names []string
}

func mainID() OutputModuleIdentifier { return OutputModuleIdentifier{IsMain: true} }
func splitID(name string) OutputModuleIdentifier {
	return OutputModuleIdentifier{Name: name}
}
func chunkID(names []string) OutputModuleIdentifier {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return OutputModuleIdentifier{IsChunk: true, Names: sorted}
}

// FileStem returns the output's file name without extension, per the
// naming contract: main, <split-name>, or <a>_<b>_..._<k> for chunks.
func (id OutputModuleIdentifier) FileStem() string {
	if id.IsMain {
		return "main"
	}
	if id.IsChunk {
		return strings.Join(id.Names, "_")
	}
	return id.Name
}

func (id OutputModuleIdentifier) String() string { return id.FileStem() }

// less implements the total order Main < Chunk(...) < Split(...), with
// chunks and splits sorted lexicographically within their class.
func (id OutputModuleIdentifier) less(o OutputModuleIdentifier) bool {
	rank := func(i OutputModuleIdentifier) int {
		switch {
		case i.IsMain:
			return 0
		case i.IsChunk:
			return 1
		default:
			return 2
		}
	}
	if rank(id) != rank(o) {
		return rank(id) < rank(o)
	}
	return id.FileStem() < o.FileStem()
}

// OutputModuleInfo is one assigned output module's contents.
type OutputModuleInfo struct {
	ID              OutputModuleIdentifier
	IncludedSymbols map[depgraph.DepNode]struct{}
	SharedImports   map[reader.InputFuncID]struct{}
	SplitPoints     []splitpoint.SplitPoint
	Parents         map[depgraph.DepNode]depgraph.DepNode
}

func newOutput(id OutputModuleIdentifier) *OutputModuleInfo {
	return &OutputModuleInfo{
		ID:              id,
		IncludedSymbols: map[depgraph.DepNode]struct{}{},
		SharedImports:   map[reader.InputFuncID]struct{}{},
		Parents:         map[depgraph.DepNode]depgraph.DepNode{},
	}
}

// SortedSymbols returns o's included symbols in the normalized DepNode
// order, for deterministic emission.
func (o *OutputModuleInfo) SortedSymbols() []depgraph.DepNode {
	out := make([]depgraph.DepNode, 0, len(o.IncludedSymbols))
	for n := range o.IncludedSymbols {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// SortedSharedImports returns o's shared imports in ascending InputFuncID
// order.
func (o *OutputModuleInfo) SortedSharedImports() []reader.InputFuncID {
	out := make([]reader.InputFuncID, 0, len(o.SharedImports))
	for f := range o.SharedImports {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SplitProgramInfo is the full partition result: every output module, in
// final dense-index order, plus the program-wide shared function set and a
// DepNode -> output-index lookup.
type SplitProgramInfo struct {
	Outputs             []*OutputModuleInfo
	SharedFuncs         map[reader.InputFuncID]struct{}
	SymbolOutputModule  map[depgraph.DepNode]int
}

// OutputIndex returns the dense index of n's owning output, per
// SymbolOutputModule.
func (p *SplitProgramInfo) OutputIndex(n depgraph.DepNode) (int, bool) {
	idx, ok := p.SymbolOutputModule[n]
	return idx, ok
}

// Build runs phases A-E of the partitioning algorithm over g using r and
// points to determine roots, split boundaries, and shared-import
// trampoline rewriting.
func Build(r *reader.Reader, g *depgraph.Graph, points []splitpoint.SplitPoint) (*SplitProgramInfo, error) {
	importFuncs := map[depgraph.DepNode]struct{}{}
	exportFuncs := map[depgraph.DepNode]struct{}{}
	for _, p := range points {
		importFuncs[depgraph.FunctionNode(p.ImportFunc)] = struct{}{}
		exportFuncs[depgraph.FunctionNode(p.ExportFunc)] = struct{}{}
	}

	// Phase A: main roots and main reachability.
	mainRoots := rootSet(r, importFuncs, exportFuncs)
	mainReachable, mainParents := bfs(g, mainRoots, nil)
	stripImportFuncs(mainReachable, importFuncs)

	main := newOutput(mainID())
	main.IncludedSymbols = mainReachable
	main.Parents = mainParents

	// Phase B: per-split reachability, excluding main_reachable entirely.
	byName := splitpoint.ByName(points)
	names := splitpoint.Names(points)

	splitOutputs := map[string]*OutputModuleInfo{}
	for _, name := range names {
		roots := map[depgraph.DepNode]struct{}{}
		for _, p := range byName[name] {
			roots[depgraph.FunctionNode(p.ExportFunc)] = struct{}{}
		}
		reachable, parents := bfs(g, roots, mainReachable)
		stripImportFuncs(reachable, importFuncs)

		out := newOutput(splitID(name))
		out.IncludedSymbols = reachable
		out.Parents = parents
		out.SplitPoints = byName[name]
		splitOutputs[name] = out
	}

	// Phase C: chunk overlap.
	candidateModules := map[depgraph.DepNode][]string{}
	for _, name := range names {
		for n := range splitOutputs[name].IncludedSymbols {
			candidateModules[n] = append(candidateModules[n], name)
		}
	}

	chunks := map[string]*OutputModuleInfo{}
	for n, owners := range candidateModules {
		if len(owners) < 2 {
			continue
		}
		sort.Strings(owners)
		for _, name := range owners {
			delete(splitOutputs[name].IncludedSymbols, n)
		}
		key := strings.Join(owners, "_")
		chunk, ok := chunks[key]
		if !ok {
			chunk = newOutput(chunkID(owners))
			chunks[key] = chunk
		}
		chunk.IncludedSymbols[n] = struct{}{}
	}

	// Assemble the unordered output set: Main, chunks, splits.
	var all []*OutputModuleInfo
	all = append(all, main)
	chunkKeys := make([]string, 0, len(chunks))
	for k := range chunks {
		chunkKeys = append(chunkKeys, k)
	}
	sort.Strings(chunkKeys)
	for _, k := range chunkKeys {
		all = append(all, chunks[k])
	}
	for _, name := range names {
		all = append(all, splitOutputs[name])
	}

	// Phase D: shared imports, trampoline rewriting.
	resolveTrampoline := func(n depgraph.DepNode) depgraph.DepNode {
		if n.Kind != depgraph.NodeFunction {
			return n
		}
		for _, p := range points {
			if p.ImportFunc == n.FuncID {
				return depgraph.FunctionNode(p.ExportFunc)
			}
		}
		return n
	}

	for _, out := range all {
		for n := range out.IncludedSymbols {
			for _, succ := range g.Successors(n) {
				if succ.Kind != depgraph.NodeFunction {
					continue
				}
				target := resolveTrampoline(succ)
				if _, included := out.IncludedSymbols[target]; included {
					continue
				}
				out.SharedImports[target.FuncID] = struct{}{}
			}
		}
	}

	for _, out := range all {
		for f := range out.SharedImports {
			if _, ok := importFuncs[depgraph.FunctionNode(f)]; ok {
				delete(out.SharedImports, f)
			}
		}
	}

	sharedFuncs := map[reader.InputFuncID]struct{}{}
	for _, out := range all {
		for f := range out.SharedImports {
			sharedFuncs[f] = struct{}{}
		}
	}
	for _, p := range points {
		sharedFuncs[p.ExportFunc] = struct{}{}
	}

	// Phase E: dense assignment, Main < Chunk(...) < Split(...).
	sort.SliceStable(all, func(i, j int) bool { return all[i].ID.less(all[j].ID) })

	symbolOutputModule := map[depgraph.DepNode]int{}
	for i, out := range all {
		for n := range out.IncludedSymbols {
			symbolOutputModule[n] = i
		}
	}

	if err := verifyShared(all, symbolOutputModule); err != nil {
		return nil, err
	}

	return &SplitProgramInfo{
		Outputs:            all,
		SharedFuncs:        sharedFuncs,
		SymbolOutputModule: symbolOutputModule,
	}, nil
}

// rootSet computes { start, every exported function, every imported
// function } minus split-point import/export functions.
func rootSet(r *reader.Reader, importFuncs, exportFuncs map[depgraph.DepNode]struct{}) map[depgraph.DepNode]struct{} {
	roots := map[depgraph.DepNode]struct{}{}
	if r.Start != nil {
		roots[depgraph.FunctionNode(*r.Start)] = struct{}{}
	}
	for _, exp := range r.Exports {
		if exp.Kind == wasm.ExternalKindFunc {
			roots[depgraph.FunctionNode(reader.InputFuncID(exp.Index))] = struct{}{}
		}
	}
	for _, id := range r.ImportFuncIDs {
		roots[depgraph.FunctionNode(id)] = struct{}{}
	}
	for n := range importFuncs {
		delete(roots, n)
	}
	for n := range exportFuncs {
		delete(roots, n)
	}
	return roots
}

// bfs walks g from roots, never entering a node present in exclude, and
// returns the reachable set plus a first-discovery parents map (diagnostics
// only, per design note: must not leak into partition decisions beyond
// this).
func bfs(g *depgraph.Graph, roots map[depgraph.DepNode]struct{}, exclude map[depgraph.DepNode]struct{}) (map[depgraph.DepNode]struct{}, map[depgraph.DepNode]depgraph.DepNode) {
	visited := map[depgraph.DepNode]struct{}{}
	parents := map[depgraph.DepNode]depgraph.DepNode{}

	var queue []depgraph.DepNode
	orderedRoots := make([]depgraph.DepNode, 0, len(roots))
	for n := range roots {
		orderedRoots = append(orderedRoots, n)
	}
	sort.Slice(orderedRoots, func(i, j int) bool { return orderedRoots[i].Less(orderedRoots[j]) })

	for _, n := range orderedRoots {
		if _, excluded := exclude[n]; excluded {
			continue
		}
		if _, ok := visited[n]; ok {
			continue
		}
		visited[n] = struct{}{}
		queue = append(queue, n)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, succ := range g.Successors(cur) {
			if _, excluded := exclude[succ]; excluded {
				continue
			}
			if _, ok := visited[succ]; ok {
				continue
			}
			visited[succ] = struct{}{}
			parents[succ] = cur
			queue = append(queue, succ)
		}
	}

	return visited, parents
}

func stripImportFuncs(set map[depgraph.DepNode]struct{}, importFuncs map[depgraph.DepNode]struct{}) {
	for n := range importFuncs {
		delete(set, n)
	}
}

// verifyShared enforces Testable Property 4 (shared export/import
// closure): every function id appearing in any non-Main output's
// SharedImports must be included by some output (and, transitively via
// sharedFuncs, exported by Main — internal/emit is what actually emits
// Main's exports, this only guards that the id resolves to a real
// definition somewhere in the program).
func verifyShared(all []*OutputModuleInfo, symbolOutputModule map[depgraph.DepNode]int) error {
	for _, out := range all {
		for f := range out.SharedImports {
			if _, ok := symbolOutputModule[depgraph.FunctionNode(f)]; !ok {
				return fmt.Errorf("partition: output %s shares function %d that is not defined by any output module", out.ID, f)
			}
		}
	}
	return nil
}
