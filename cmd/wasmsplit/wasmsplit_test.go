package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasm-split/wasmsplit/internal/leb128"
)

// buildMinimalModule writes a tiny valid linkable module (one exported,
// unsplit function) to a temp file, for CLI-level smoke tests. Mirrors
// internal/splitter's own fixture builder; duplicated here since cmd/main
// cannot import internal/splitter's test-only helpers.
func buildMinimalModule(t *testing.T) string {
	t.Helper()
	u32v := func(v uint32) []byte { return leb128.EncodeUint32(nil, v) }
	name := func(s string) []byte { return append(u32v(uint32(len(s))), s...) }

	buf := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	section := func(id byte, payload []byte) {
		buf = append(buf, id)
		buf = append(buf, u32v(uint32(len(payload)))...)
		buf = append(buf, payload...)
	}

	section(1, append(u32v(1), 0x60, 0x00, 0x00))
	section(3, append(u32v(1), u32v(0)...))

	exportPayload := u32v(1)
	exportPayload = append(exportPayload, name("main_entry")...)
	exportPayload = append(exportPayload, 0x00)
	exportPayload = append(exportPayload, u32v(0)...)
	section(7, exportPayload)

	body := []byte{0x00, 0x0b}
	codeEntry := append(u32v(uint32(len(body))), body...)
	section(10, append(u32v(1), codeEntry...))

	symtab := append([]byte{0x00}, u32v(0x40)...)
	symtab = append(symtab, u32v(0)...)
	symtab = append(symtab, name("main_entry")...)
	symtab = append(u32v(1), symtab...)

	subsection := append([]byte{8}, u32v(uint32(len(symtab)))...)
	subsection = append(subsection, symtab...)
	linkingPayload := append(u32v(1), subsection...)

	nameSec := append(u32v(uint32(len("linking"))), "linking"...)
	buf = append(buf, 0x00)
	buf = append(buf, u32v(uint32(len(nameSec)+len(linkingPayload)))...)
	buf = append(buf, nameSec...)
	buf = append(buf, linkingPayload...)

	path := filepath.Join(t.TempDir(), "in.wasm")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestSplitCommandWritesOutputs(t *testing.T) {
	inPath := buildMinimalModule(t)
	outDir := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := run(&stdout, &stderr, []string{"split", inPath, outDir})
	require.Equal(t, 0, code, "stderr: %s", stderr.String())
	require.FileExists(t, filepath.Join(outDir, "main.wasm"))
	require.FileExists(t, filepath.Join(outDir, "__wasm_split.js"))
}

func TestSplitCommandMissingFileErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(&stdout, &stderr, []string{"split", "/nonexistent/in.wasm", t.TempDir()})
	require.NotEqual(t, 0, code)
	require.Contains(t, stderr.String(), "reading input module")
}

func TestVersionCommandPrintsVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(&stdout, &stderr, []string{"version"})
	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), "dev")
}
