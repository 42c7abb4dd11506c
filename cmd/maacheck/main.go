// Command maacheck runs the lightweight, module-level
// multiple-allocating-arguments scan: it flags call sites whose
// direct arguments include two or more allocating subexpressions, at
// least one of which may return a freshly allocated object, since
// argument evaluation order is unspecified and the fresh one could be
// collected by a later argument's own allocation before the call even
// runs. Unlike bcheck/balancecheck/freshcheck, this never walks a
// function's CFG with the symbolic executor; it is a single pass over
// every call instruction in the module.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/oss-sast/rchk-go/internal/driver"
	"github.com/oss-sast/rchk-go/internal/engine"
	"github.com/oss-sast/rchk-go/internal/oracles"
)

func main() {
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "usage: %s <path> [function ...]\n", os.Args[0])
		os.Exit(2)
	}
	path := flag.Arg(0)
	functions := flag.Args()[1:]

	mod, err := driver.LoadModule(path, path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	errInfo := oracles.NewErrorPathInfo()
	for _, f := range mod.Functions {
		errInfo.Analyze(f)
	}
	alloc := oracles.NewAllocators(mod, errInfo)

	var filter map[string]bool
	if len(functions) > 0 {
		filter = make(map[string]bool, len(functions))
		for _, n := range functions {
			filter[n] = true
		}
	}

	found := engine.ScanMultipleAllocatingArguments(mod, alloc, filter)
	if len(found) == 0 {
		fmt.Println("no suspicious calls found")
		return
	}
	for _, c := range found {
		fmt.Println(c.String())
	}
}
