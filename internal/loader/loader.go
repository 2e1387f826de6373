// Package loader generates the __wasm_split.js loader script: the boundary
// artifact the splitter emits for an external, unspecified browser runtime
// to consume (see SPEC_FULL.md §6). The splitter itself never executes this
// script; it only has to produce it deterministically.
package loader

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"

	"github.com/wasm-split/wasmsplit/internal/partition"
)

// chunkDecl and splitDecl are the template's view of one declared loader
// entry.
type chunkDecl struct {
	Name string // file stem, e.g. "alpha_beta"
	URL  string // "./alpha_beta.wasm"
}

type splitDecl struct {
	Name string   // split name, e.g. "alpha"
	URL  string   // "./alpha.wasm"
	Deps []string // chunk load-function names this split depends on
}

type templateData struct {
	Chunks []chunkDecl
	Splits []splitDecl
}

// script is transcribed from the teacher-independent original_source/ inline
// JavaScript template: it imports initSync from ./main.js, defines
// makeLoad(url, deps), then one unexported __wasm_split_load_<chunk> per
// chunk followed by one exported __wasm_split_load_<split> per split,
// chunks always declared first so a split's deps are already in scope.
const script = `import { initSync } from "./main.js";

let mainExports = null;

function makeLoad(url, deps) {
  let loaded = null;
  return async function load(callbackIndex, callbackData) {
    if (loaded === null) {
      loaded = (async () => {
        const [bytes, ...resolvedDeps] = await Promise.all([
          fetch(url).then((r) => r.arrayBuffer()),
          ...deps.map((dep) => dep(callbackIndex, callbackData)),
        ]);
        const imports = {
          env: mainExports,
          __wasm_split: mainExports,
          main: mainExports,
        };
        const { instance } = await WebAssembly.instantiate(bytes, imports);
        return instance.exports;
      })();
    }
    try {
      await loaded;
      mainExports.__indirect_function_table.get(callbackIndex)(callbackData, 1);
    } catch (e) {
      mainExports.__indirect_function_table.get(callbackIndex)(callbackData, 0);
      throw e;
    }
  };
}

export function setMainExports(exports) {
  mainExports = exports;
}
{{range .Chunks}}
const __wasm_split_load_{{.Name}} = makeLoad("{{.URL}}", []);
{{- end}}
{{range .Splits}}
export const __wasm_split_load_{{.Name}} = makeLoad("{{.URL}}", [{{range $i, $d := .Deps}}{{if $i}}, {{end}}__wasm_split_load_{{$d}}{{end}}]);
{{- end}}
`

var tmpl = template.Must(template.New("wasm_split.js").Parse(script))

// Generate renders the loader script for p's output set. Chunk
// declarations precede split declarations (spec.md §6, Testable Property
// 9), both sorted by name for determinism (Testable Property 8).
func Generate(p *partition.SplitProgramInfo) ([]byte, error) {
	data := templateData{}

	for _, out := range p.Outputs {
		switch {
		case out.ID.IsChunk:
			data.Chunks = append(data.Chunks, chunkDecl{
				Name: out.ID.FileStem(),
				URL:  "./" + out.ID.FileStem() + ".wasm",
			})
		case !out.ID.IsMain:
			data.Splits = append(data.Splits, splitDecl{
				Name: out.ID.Name,
				URL:  "./" + out.ID.FileStem() + ".wasm",
				Deps: chunkDepsFor(p, out.ID.Name),
			})
		}
	}

	sort.Slice(data.Chunks, func(i, j int) bool { return data.Chunks[i].Name < data.Chunks[j].Name })
	sort.Slice(data.Splits, func(i, j int) bool { return data.Splits[i].Name < data.Splits[j].Name })

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("loader: rendering script: %w", err)
	}
	return buf.Bytes(), nil
}

// chunkDepsFor returns, sorted, the file stems of every chunk whose
// name-set contains split, i.e. every chunk this split's load function
// must await before it can run (spec.md §9 "Loader topology").
func chunkDepsFor(p *partition.SplitProgramInfo, split string) []string {
	var deps []string
	for _, out := range p.Outputs {
		if !out.ID.IsChunk {
			continue
		}
		for _, name := range out.ID.Names {
			if name == split {
				deps = append(deps, out.ID.FileStem())
				break
			}
		}
	}
	sort.Strings(deps)
	return deps
}

// FileName is the fixed output file name for the loader script.
const FileName = "__wasm_split.js"
