// Package splitter wires every stage of the pipeline together: decode,
// dependency graph, split-point discovery, partition, emission and loader
// generation, writing the result to an output directory. Run is the single
// entry point; everything here is synchronous and single-threaded (no
// goroutines, no shared mutable state), since one invocation processes one
// input module start to finish.
package splitter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/wasm-split/wasmsplit/internal/depgraph"
	"github.com/wasm-split/wasmsplit/internal/emit"
	"github.com/wasm-split/wasmsplit/internal/loader"
	"github.com/wasm-split/wasmsplit/internal/partition"
	"github.com/wasm-split/wasmsplit/internal/reader"
	"github.com/wasm-split/wasmsplit/internal/splitlog"
	"github.com/wasm-split/wasmsplit/internal/splitpoint"
	"github.com/wasm-split/wasmsplit/internal/wasm/binary"
)

// Options configures a single Run invocation.
type Options struct {
	// OutDir is the directory output files are written into. It is
	// created if it does not already exist.
	OutDir string
	// Verbose enables the per-output function/size/parent diagnostics of
	// spec.md's S6 scenario. Diagnostics never fail the run.
	Verbose bool
	// Log receives verbose diagnostic text; defaults to io.Discard when
	// nil and Verbose is true (callers that want output must set it).
	Log io.Writer
}

// Result summarizes one successful run, for callers (CLI, tests) that want
// to report what was written without re-reading the output directory.
type Result struct {
	// Files lists every path written, in the order written: main.wasm,
	// then chunk files, then split files, then the loader script.
	Files []string
}

// Run executes the full pipeline against input (the raw bytes of one
// linkable WebAssembly module produced with relocations retained) and
// writes main.wasm, one file per chunk and split, and __wasm_split.js into
// opts.OutDir.
func Run(input []byte, opts Options) (*Result, error) {
	m, err := binary.DecodeModule(input)
	if err != nil {
		return nil, fmt.Errorf("splitter: decoding input module: %w", err)
	}
	if m.Linking == nil {
		return nil, fmt.Errorf("splitter: input is missing the required linking custom section")
	}

	r, err := reader.New(m)
	if err != nil {
		return nil, fmt.Errorf("splitter: %w", err)
	}

	g, err := depgraph.Build(r)
	if err != nil {
		return nil, fmt.Errorf("splitter: building dependency graph: %w", err)
	}

	points, _, err := splitpoint.Discover(r)
	if err != nil {
		return nil, fmt.Errorf("splitter: discovering split points: %w", err)
	}

	program, err := partition.Build(r, g, points)
	if err != nil {
		return nil, fmt.Errorf("splitter: partitioning: %w", err)
	}

	tableSlots := emit.FunctionTableSlots(m)
	outputs, err := emit.EmitAll(r, program, points, tableSlots)
	if err != nil {
		return nil, fmt.Errorf("splitter: emitting outputs: %w", err)
	}

	script, err := loader.Generate(program)
	if err != nil {
		return nil, fmt.Errorf("splitter: generating loader script: %w", err)
	}

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("splitter: creating output directory %s: %w", opts.OutDir, err)
	}

	logOut := opts.Log
	if logOut == nil {
		logOut = io.Discard
	}
	logger := splitlog.New(logOut, opts.Verbose)
	logDiagnostics(logger, r, program, outputs)

	res := &Result{}
	for _, out := range outputs {
		path := filepath.Join(opts.OutDir, out.Stem+".wasm")
		if err := os.WriteFile(path, out.Bytes, 0o644); err != nil {
			return nil, fmt.Errorf("splitter: writing %s: %w", path, err)
		}
		res.Files = append(res.Files, path)
	}

	loaderPath := filepath.Join(opts.OutDir, loader.FileName)
	if err := os.WriteFile(loaderPath, script, 0o644); err != nil {
		return nil, fmt.Errorf("splitter: writing %s: %w", loaderPath, err)
	}
	res.Files = append(res.Files, loaderPath)

	return res, nil
}

// logDiagnostics prints the S6 per-output summary. It never returns an
// error: diagnostics are best-effort per spec.md §7.
func logDiagnostics(logger *splitlog.Logger, r *reader.Reader, program *partition.SplitProgramInfo, outputs []emit.Output) {
	bodyLenByFunc := map[reader.InputFuncID]int{}
	numImported := uint32(r.Module.NumImportedFunctions())
	for i, code := range r.Module.CodeSection {
		bodyLenByFunc[reader.InputFuncID(uint32(i)+numImported)] = len(code.Body)
	}
	nameFor := func(f reader.InputFuncID) string {
		if idx, ok := r.FunctionSymbol(f); ok {
			if name := r.Symbols[idx].Name; name != "" {
				return name
			}
		}
		if name, ok := r.Names[f]; ok && name != "" {
			return name
		}
		return fmt.Sprintf("func_%d", f)
	}
	bodyLen := func(f reader.InputFuncID) int { return bodyLenByFunc[f] }

	for _, info := range program.Outputs {
		logger.OutputSummary(info, nameFor, bodyLen)
	}
}
