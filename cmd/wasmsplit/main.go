// Command wasmsplit post-processes a linked WebAssembly module, with
// relocations retained, into a main module, split modules, chunk modules
// and a JavaScript loader script.
package main

import "os"

func main() {
	os.Exit(run(os.Stdout, os.Stderr, os.Args[1:]))
}
