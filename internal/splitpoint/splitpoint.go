// Package splitpoint discovers the paired import/export naming convention
// that marks a code boundary eligible for lazy loading, plus the separate
// per-module load-function symbols consumed only by the loader script.
package splitpoint

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/wasm-split/wasmsplit/internal/reader"
	"github.com/wasm-split/wasmsplit/internal/wasm"
)

var (
	importRE = regexp.MustCompile(`^__wasm_split_00(.*)00_import_([0-9a-f]{32})$`)
	exportRE = regexp.MustCompile(`^__wasm_split_00(.*)00_export_([0-9a-f]{32})$`)
)

const loadFuncPrefix = "__wasm_split_load_"

// SplitPoint is one matched import/export pair: a lazily-resolved call
// boundary into split module Name.
type SplitPoint struct {
	Name       string
	UniqueID   string
	ImportID   int                // index into the module's import section
	ImportFunc reader.InputFuncID // the trampoline's own function index
	ExportID   int                // index into the module's export section
	ExportFunc reader.InputFuncID // the implementation's function index
}

type pairKey struct {
	name string
	id   string
}

// Discover scans r's imports and exports for matching split-point pairs and
// returns them grouped implicitly by Name (callers group via Name as
// needed). It also returns the load functions' function indices keyed by
// split module name, scraped from the symbol table's Function symbols whose
// name starts with __wasm_split_load_.
func Discover(r *reader.Reader) ([]SplitPoint, map[string]reader.InputFuncID, error) {
	imports := map[pairKey]int{}
	exports := map[pairKey]int{}

	for i, imp := range r.Imports {
		if imp.Kind != wasm.ExternalKindFunc {
			continue
		}
		m := importRE.FindStringSubmatch(imp.Name)
		if m == nil {
			continue
		}
		imports[pairKey{name: m[1], id: m[2]}] = i
	}
	for i, exp := range r.Exports {
		m := exportRE.FindStringSubmatch(exp.Name)
		if m == nil {
			continue
		}
		exports[pairKey{name: m[1], id: m[2]}] = i
	}

	for k := range imports {
		if _, ok := exports[k]; !ok {
			return nil, nil, fmt.Errorf("splitpoint: import %q has no matching export (module %q, id %s)", r.Imports[imports[k]].Name, k.name, k.id)
		}
	}
	for k := range exports {
		if _, ok := imports[k]; !ok {
			return nil, nil, fmt.Errorf("splitpoint: export %q has no matching import (module %q, id %s)", r.Exports[exports[k]].Name, k.name, k.id)
		}
	}

	keys := make([]pairKey, 0, len(imports))
	for k := range imports {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].id < keys[j].id
	})

	var points []SplitPoint
	for _, k := range keys {
		impIdx := imports[k]
		expIdx := exports[k]

		imp := r.Imports[impIdx]
		if imp.Kind != wasm.ExternalKindFunc {
			return nil, nil, fmt.Errorf("splitpoint: %q is not a function import", imp.Name)
		}
		importFunc, ok := importFuncIndex(r, impIdx)
		if !ok {
			return nil, nil, fmt.Errorf("splitpoint: %q did not resolve to an imported function", imp.Name)
		}

		exp := r.Exports[expIdx]
		if exp.Kind != wasm.ExternalKindFunc {
			return nil, nil, fmt.Errorf("splitpoint: %q is not a function export", exp.Name)
		}

		points = append(points, SplitPoint{
			Name:       k.name,
			UniqueID:   k.id,
			ImportID:   impIdx,
			ImportFunc: importFunc,
			ExportID:   expIdx,
			ExportFunc: reader.InputFuncID(exp.Index),
		})
	}

	loadFuncs := map[string]reader.InputFuncID{}
	for _, sym := range r.Symbols {
		if sym.Kind != wasm.SymbolKindFunction {
			continue
		}
		if !strings.HasPrefix(sym.Name, loadFuncPrefix) {
			continue
		}
		name := strings.TrimPrefix(sym.Name, loadFuncPrefix)
		loadFuncs[name] = reader.InputFuncID(sym.Index)
	}

	return points, loadFuncs, nil
}

// importFuncIndex returns the InputFuncID of the function import at
// position importIdx in the module's combined import section.
func importFuncIndex(r *reader.Reader, importIdx int) (reader.InputFuncID, bool) {
	n := reader.InputFuncID(0)
	for i, imp := range r.Imports {
		if imp.Kind != wasm.ExternalKindFunc {
			continue
		}
		if i == importIdx {
			return n, true
		}
		n++
	}
	return 0, false
}

// ByName groups split points by their module Name, preserving each group's
// points in discovery (sorted) order.
func ByName(points []SplitPoint) map[string][]SplitPoint {
	out := map[string][]SplitPoint{}
	for _, p := range points {
		out[p.Name] = append(out[p.Name], p)
	}
	return out
}

// Names returns the sorted, de-duplicated list of split module names
// present in points.
func Names(points []SplitPoint) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, p := range points {
		if _, ok := seen[p.Name]; !ok {
			seen[p.Name] = struct{}{}
			out = append(out, p.Name)
		}
	}
	sort.Strings(out)
	return out
}
