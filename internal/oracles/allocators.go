package oracles

import "github.com/oss-sast/rchk-go/internal/ir"

// allocPrimitives is the hard-coded set of R API entry points known
// to trigger garbage collection and to hand back a freshly allocated,
// unprotected SEXP — the seed set the call-graph closure below starts
// from.
var allocPrimitives = map[string]bool{
	"Rf_allocVector":    true,
	"allocVector":       true,
	"Rf_allocVector3":   true,
	"Rf_allocMatrix":    true,
	"allocMatrix":       true,
	"Rf_allocList":      true,
	"Rf_allocSExp":      true,
	"Rf_allocS4Object":  true,
	"Rf_cons":           true,
	"Rf_lcons":          true,
	"Rf_duplicate":      true,
	"duplicate":         true,
	"Rf_shallow_duplicate": true,
	"Rf_lazy_duplicate": true,
	"Rf_mkChar":         true,
	"mkChar":            true,
	"Rf_mkString":       true,
	"mkString":          true,
	"Rf_mkNamed":        true,
	"Rf_ScalarInteger":  true,
	"ScalarInteger":     true,
	"Rf_ScalarReal":     true,
	"ScalarReal":        true,
	"Rf_ScalarLogical":  true,
	"ScalarLogical":     true,
	"Rf_ScalarString":   true,
	"ScalarString":      true,
	"Rf_NewEnvironment": true,
	"Rf_eval":           true, // arbitrary user code may allocate
	"eval":              true,
	"Rf_applyClosure":   true,
	"Rf_findVar":        false, // gc-triggering but returns an existing binding, not a fresh object
}

// gcTriggers additionally names functions known to run a collection
// without necessarily returning a fresh object themselves (their
// presence in a function still makes every other SEXP-typed local a
// PROTECT candidate, but they are not "possible allocators" in the
// IsPossibleAllocator sense).
var gcTriggers = map[string]bool{
	"Rf_findVar":     true,
	"Rf_setAttrib":   true,
	"Rf_installChar": true,
	"Rf_install":     true,
	"install":        true,
}

// Allocators is the reference AllocatorInfo oracle: a fixed-point
// closure over the module's call graph, restricted to non-error-path
// blocks, seeded from the tables above.
type Allocators struct {
	mod     *ir.Module
	errInfo *ErrorPathInfo

	allocating map[string]bool
	possible   map[string]bool
}

// NewAllocators builds the closure over mod. errInfo must already
// have Analyze called for every function of mod (or be nil, in which
// case every block is conservatively treated as non-error).
func NewAllocators(mod *ir.Module, errInfo *ErrorPathInfo) *Allocators {
	a := &Allocators{
		mod:        mod,
		errInfo:    errInfo,
		allocating: map[string]bool{},
		possible:   map[string]bool{},
	}
	for name, v := range allocPrimitives {
		a.allocating[name] = v || gcTriggers[name]
		a.possible[name] = v
	}
	for name, v := range gcTriggers {
		if v {
			a.allocating[name] = true
		}
	}
	a.closure()
	return a
}

func (a *Allocators) isErrorBlock(b *ir.BasicBlock) bool {
	return a.errInfo != nil && a.errInfo.IsErrorPathBlock(b)
}

func (a *Allocators) closure() {
	for {
		changed := false
		for _, f := range a.mod.Functions {
			for _, b := range f.Blocks {
				if a.isErrorBlock(b) {
					continue
				}
				for _, in := range b.Instrs {
					if in.Op != ir.OpCall {
						continue
					}
					if a.allocating[in.Callee] && !a.allocating[f.Name] {
						a.allocating[f.Name] = true
						changed = true
					}
					if a.possible[in.Callee] && !a.possible[f.Name] && returnsResultOf(f, in) {
						a.possible[f.Name] = true
						changed = true
					}
				}
			}
		}
		if !changed {
			return
		}
	}
}

// returnsResultOf reports whether some return statement in f yields
// exactly the value in produced, either directly or via a single
// local-variable round trip (store the call result, later load and
// return it) — the common "SEXP result = alloc(...); ...; return
// result;" shape.
func returnsResultOf(f *ir.Function, in *ir.Instr) bool {
	for _, b := range f.Blocks {
		for _, stmt := range b.Instrs {
			if stmt.Op != ir.OpRet || stmt.Val == nil {
				continue
			}
			if stmt.Val == ir.Value(in) {
				return true
			}
			load, ok := stmt.Val.(*ir.Instr)
			if !ok || load.Op != ir.OpLoad {
				continue
			}
			for _, use := range f.VarUses(load.Var) {
				if use.Op == ir.OpStore && use.Val == ir.Value(in) {
					return true
				}
			}
		}
	}
	return false
}

// IsAllocating implements AllocatorInfo.
func (a *Allocators) IsAllocating(fn string) bool { return a.allocating[fn] }

// IsPossibleAllocator implements AllocatorInfo.
func (a *Allocators) IsPossibleAllocator(fn string) bool { return a.possible[fn] }
