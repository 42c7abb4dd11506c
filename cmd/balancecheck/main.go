// Command balancecheck runs the full checker and reports only its
// protection-stack balance and confused findings, dropping freshness
// (unprotected-pointer) findings from the output — useful when triaging a package incrementally, balance problems
// first since they are cheaper to fix and rarely depend on precise
// guard tracking.
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
		workers = flag.Int("workers", runtime.NumCPU(), "number of functions to check concurrently")
		debug   = flag.Bool("debug", false, "emit debug-level trace messages")
		format  = flag.String("format", "text", "output format: text, json, sarif")
		output  = flag.String("output", "", "write the report to this file instead of stdout")
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
	opts.Format = outputFormat
	opts.OutputFile = *output
	opts.Functions = functions

	result, err := driver.Run(context.Background(), mod, path, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	kept := result.Findings[:0]
	for _, f := range result.Findings {
		if f.Kind == report.KindBalanceProblem || f.Kind == report.KindConfused {
			kept = append(kept, f)
		}
	}
	result.Findings = kept
	result.FreshnessEnabled = false

	if err := driver.Write(result, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
