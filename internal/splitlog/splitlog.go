// Package splitlog provides the --verbose diagnostics the splitter prints:
// a per-output listing of every included function with its size and parent
// chain (spec.md §6 scenario S6). Diagnostics are best-effort per spec.md
// §7 ("must not themselves error the run"), so every method here only ever
// logs; it never returns an error.
package splitlog

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fatih/color"
	slogmulti "github.com/samber/slog-multi"

	"github.com/wasm-split/wasmsplit/internal/depgraph"
	"github.com/wasm-split/wasmsplit/internal/partition"
	"github.com/wasm-split/wasmsplit/internal/reader"
)

var (
	colorHeader = color.New(color.FgWhite, color.Bold, color.Underline)
	colorName   = color.New(color.FgCyan)
	colorSize   = color.New(color.FgYellow)
	colorParent = color.New(color.FgHiBlack)
	colorTotal  = color.New(color.FgGreen, color.Bold)
)

// Logger wraps an slog.Logger built with slog-multi's Fanout over a single
// plain text handler writing to out; the colorized per-output summaries of
// OutputSummary are written to out directly, not through slog.
type Logger struct {
	verbose bool
	slog    *slog.Logger
	out     io.Writer
}

// New builds a Logger. When verbose is false, every method is a no-op.
func New(out io.Writer, verbose bool) *Logger {
	if !verbose {
		return &Logger{verbose: false}
	}
	handler := slogmulti.Fanout(
		slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	return &Logger{verbose: true, slog: slog.New(handler), out: out}
}

func (l *Logger) Debugf(format string, args ...any) {
	if !l.verbose {
		return
	}
	l.slog.Debug(fmt.Sprintf(format, args...))
}

// OutputSummary prints, for one emitted output module, every included
// function's symbol name and body size, followed by the module's total
// size (the sum of included function body lengths, per Testable Property
// in spec.md §8's S6 scenario), plus each function's parent chain as
// recorded by partition's BFS discovery edges.
func (l *Logger) OutputSummary(info *partition.OutputModuleInfo, nameFor func(reader.InputFuncID) string, bodyLen func(reader.InputFuncID) int) {
	if !l.verbose {
		return
	}

	fmt.Fprintln(l.out, colorHeader.Sprintf("== %s ==", info.ID.FileStem()))

	total := 0
	for _, n := range info.SortedSymbols() {
		if n.Kind != depgraph.NodeFunction {
			continue
		}
		size := bodyLen(n.FuncID)
		total += size
		fmt.Fprintf(l.out, "  %s %s\n",
			colorName.Sprintf("%-32s", nameFor(n.FuncID)),
			colorSize.Sprintf("%d bytes", size),
		)
		if chain := parentChain(info, n, nameFor); chain != "" {
			fmt.Fprintf(l.out, "    %s\n", colorParent.Sprintf("via %s", chain))
		}
	}
	fmt.Fprintln(l.out, colorTotal.Sprintf("total: %d bytes", total))
}

// parentChain walks info.Parents from n back to its BFS root, for
// human-readable traces only (spec.md §9: "must not leak into partition
// decisions").
func parentChain(info *partition.OutputModuleInfo, n depgraph.DepNode, nameFor func(reader.InputFuncID) string) string {
	var chain []string
	cur := n
	seen := map[depgraph.DepNode]struct{}{}
	for {
		parent, ok := info.Parents[cur]
		if !ok {
			break
		}
		if _, loop := seen[parent]; loop {
			break
		}
		seen[parent] = struct{}{}
		chain = append(chain, describe(parent, nameFor))
		cur = parent
	}
	if len(chain) == 0 {
		return ""
	}
	reverse(chain)
	return strings.Join(chain, " -> ")
}

func describe(n depgraph.DepNode, nameFor func(reader.InputFuncID) string) string {
	if n.Kind == depgraph.NodeFunction {
		return nameFor(n.FuncID)
	}
	return n.String()
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
