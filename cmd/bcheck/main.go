// Command bcheck runs the full checker (balance and freshness
// tracking together, with staged guard refinement) over a package's
// C/C++ sources, the general-purpose entry point most callers reach
// for. balancecheck and freshcheck run the same driver and keep only
// one sub-analysis's findings, and maacheck runs the separate
// module-level multiple-allocating-arguments scan.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/oss-sast/rchk-go/internal/driver"
	"github.com/oss-sast/rchk-go/internal/report"
)

func main() {
	var (
		workers   = flag.Int("workers", runtime.NumCPU(), "number of functions to check concurrently")
		debug     = flag.Bool("debug", false, "emit debug-level trace messages")
		trace     = flag.Bool("trace", false, "emit trace-level messages (very verbose)")
		unique    = flag.Bool("unique", true, "report each distinct diagnostic at most once")
		refine    = flag.Bool("refine", true, "re-check ambiguous functions with guard tracking enabled")
		format    = flag.String("format", "text", "output format: text, json, sarif")
		output    = flag.String("output", "", "write the report to this file instead of stdout")
	)
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [options] <path> [function ...]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	path := flag.Arg(0)
	functions := flag.Args()[1:]

	outputFormat, err := report.ParseFormat(*format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	mod, err := driver.LoadModule(path, path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	opts := driver.DefaultOptions()
	opts.Workers = *workers
	opts.Debug = *debug
	opts.Trace = *trace
	opts.UniqueMsg = *unique
	opts.EnableRefinement = *refine
	opts.Format = outputFormat
	opts.OutputFile = *output
	opts.Functions = functions

	result, err := driver.Run(context.Background(), mod, path, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := driver.Write(result, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
