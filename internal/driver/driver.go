// Package driver wires the pieces together: parse a package's C/C++
// sources into one Module, build the oracle set that module supports,
// run every function through the refinement-driven engine across a
// worker pool, and hand the accumulated diagnostics to a report
// writer, wrapping the parse/check/report pipeline as a single
// whole-module checking pass rather than one pass per file.
package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oss-sast/rchk-go/internal/engine"
	"github.com/oss-sast/rchk-go/internal/ir"
	"github.com/oss-sast/rchk-go/internal/oracles"
	"github.com/oss-sast/rchk-go/internal/report"
	"github.com/oss-sast/rchk-go/internal/worker"
)

// Options configures one checking run.
type Options struct {
	Workers          int
	Debug            bool
	Trace            bool
	UniqueMsg        bool
	EnableRefinement bool // when false, functions are checked once at GuardsOff and never re-run
	MaxLevel         engine.RefinementLevel
	Format           report.Format
	OutputFile       string
	// Functions restricts checking to this set of names when
	// non-empty, per spec.md §6's "optional list of function names to
	// restrict analysis"; empty means check every function of mod.
	Functions []string
}

// DefaultOptions returns the driver's baseline configuration: a small
// worker pool, unique-message deduplication on by default, full
// refinement enabled, text output to stdout.
func DefaultOptions() Options {
	return Options{
		Workers:          4,
		UniqueMsg:        true,
		EnableRefinement: true,
		MaxLevel:         engine.SEXPGuardsOn,
		Format:           report.FormatText,
	}
}

// LoadModule parses every .c/.cpp/.cc/.cxx/.h/.hpp file under root
// (skipping .git, vendor, tests and test directories), or root itself
// when it is a single file, into one Module. Files are parsed independently and their functions merged
// into a single Module so cross-function oracles (allocator closure,
// symbol table) see the whole translation unit's worth of call graph.
func LoadModule(root string, name string) (*ir.Module, error) {
	mod := &ir.Module{Name: name}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("driver: stat %s: %w", root, err)
	}

	var files []string
	if info.IsDir() {
		err = filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if fi.IsDir() {
				base := filepath.Base(path)
				if base == ".git" || base == "vendor" || base == "tests" || base == "test" {
					return filepath.SkipDir
				}
				return nil
			}
			if isCSource(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("driver: walk %s: %w", root, err)
		}
	} else {
		files = []string{root}
	}

	for _, path := range files {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("driver: read %s: %w", path, err)
		}
		var fileMod *ir.Module
		if strings.HasSuffix(path, ".cpp") || strings.HasSuffix(path, ".cc") || strings.HasSuffix(path, ".cxx") || strings.HasSuffix(path, ".hpp") {
			fileMod, err = ir.FromCppSource(path, src)
		} else {
			fileMod, err = ir.FromCSource(path, src)
		}
		if err != nil {
			return nil, fmt.Errorf("driver: parse %s: %w", path, err)
		}
		mod.Functions = append(mod.Functions, fileMod.Functions...)
		for gname, g := range fileMod.Globals {
			if mod.Globals == nil {
				mod.Globals = map[string]*ir.Global{}
			}
			if _, ok := mod.Globals[gname]; !ok {
				mod.Globals[gname] = g
			}
		}
	}
	return mod, nil
}

func isCSource(path string) bool {
	switch filepath.Ext(path) {
	case ".c", ".cpp", ".cc", ".cxx", ".h", ".hpp":
		return true
	default:
		return false
	}
}

// BuildOracles constructs the reference oracle set over mod: error
// path analysis first (allocator closure needs to know which blocks
// to skip), then allocators, symbols, and callee-protect facts.
func BuildOracles(mod *ir.Module) (*oracles.ErrorPathInfo, *oracles.Allocators, *oracles.SymbolTable, *oracles.CalleeProtectTable) {
	errInfo := oracles.NewErrorPathInfo()
	for _, f := range mod.Functions {
		errInfo.Analyze(f)
	}
	alloc := oracles.NewAllocators(mod, errInfo)
	symbols := oracles.NewSymbolTable()
	protects := oracles.NewCalleeProtectInfo()
	return errInfo, alloc, symbols, protects
}

// functionFilter turns a list of function names into a lookup set,
// or nil (meaning "no restriction") when names is empty.
func functionFilter(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// functionJob adapts one function check to worker.Job.
type functionJob struct {
	fn       *ir.Function
	exec     *engine.Executor
	maxLevel engine.RefinementLevel
	result   engine.RefinementResult
}

func (j *functionJob) ID() string { return j.fn.Name }

func (j *functionJob) Run() error {
	j.result = engine.CheckFunctionWithRefinement(j.exec, j.fn, j.maxLevel)
	return nil
}

// Run checks every function of mod and returns the accumulated
// report. moduleName is used only for the report's own Module field.
func Run(ctx context.Context, mod *ir.Module, moduleName string, opts Options) (*report.Result, error) {
	msg := report.NewLineMessenger(opts.Debug, opts.Trace, opts.UniqueMsg)

	_, alloc, symbols, protects := BuildOracles(mod)
	live := &livenessAdapter{cache: map[*ir.Function]*oracles.Liveness{}}
	execOracles := engine.Oracles{
		Alloc:    alloc,
		Protects: protects,
		Live:     live,
		Symbols:  symbols,
	}
	exec := engine.NewExecutor(mod, msg, execOracles)

	maxLevel := opts.MaxLevel
	if !opts.EnableRefinement {
		maxLevel = engine.GuardsOff
	}

	pool := worker.NewPool(ctx, opts.Workers, len(mod.Functions)+1)
	pool.Start()

	var wg sync.WaitGroup
	wg.Add(1)
	var jobs []*functionJob
	go func() {
		defer wg.Done()
		for range pool.Results() {
		}
	}()

	wanted := functionFilter(opts.Functions)
	for _, f := range mod.Functions {
		if wanted != nil && !wanted[f.Name] {
			continue
		}
		job := &functionJob{fn: f, exec: exec, maxLevel: maxLevel}
		jobs = append(jobs, job)
		if err := pool.Submit(job); err != nil {
			return nil, fmt.Errorf("driver: submit %s: %w", f.Name, err)
		}
	}
	pool.Stop()
	wg.Wait()

	for _, job := range jobs {
		if job.result.Function.Truncated {
			msg.Info(fmt.Sprintf("%s: analysis truncated after %d states", job.fn.Name, job.result.Function.StatesExplored), nil)
		}
	}

	return report.NewResult(moduleName, true, true, msg), nil
}

// Write renders result in opts.Format to opts.OutputFile, or stdout
// when OutputFile is empty.
func Write(result *report.Result, opts Options) error {
	w, err := report.NewWriter(opts.Format, os.Stdout)
	if err != nil {
		return err
	}
	if opts.OutputFile == "" {
		return w.Write(result)
	}
	return w.WriteToFile(result, opts.OutputFile)
}

// livenessAdapter builds and caches an oracles.Liveness per function
// on first use, matching the engine.oracleLiveness interface's
// per-(var, instruction) query shape.
type livenessAdapter struct {
	mu    sync.Mutex
	cache map[*ir.Function]*oracles.Liveness
}

func (l *livenessAdapter) forInstr(at *ir.Instr) *oracles.Liveness {
	f := at.Block.Func
	l.mu.Lock()
	defer l.mu.Unlock()
	if live, ok := l.cache[f]; ok {
		return live
	}
	live := oracles.Compute(f)
	l.cache[f] = live
	return live
}

func (l *livenessAdapter) PossiblyLiveAfter(v *ir.Var, at *ir.Instr) bool {
	return l.forInstr(at).PossiblyLiveAfter(v, at)
}

func (l *livenessAdapter) DefinitelyDeadAfter(v *ir.Var, at *ir.Instr) bool {
	return l.forInstr(at).DefinitelyDeadAfter(v, at)
}
