//go:build !noz3
// +build !noz3

package engine

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/oss-sast/rchk-go/internal/ir"
)

// z3Solver is a minimal Z3-backed PathSolver: one context, one
// int-sorted variable per distinct *ir.Var seen so far, one solver
// instance re-used (push/pop scoped) across Feasible calls.
type z3Solver struct {
	ctx    C.Z3_context
	solver C.Z3_solver
	sort   C.Z3_sort
	vars   map[*ir.Var]C.Z3_ast
	active bool
}

func newPathSolver() PathSolver {
	cfg := C.Z3_mk_config()
	if cfg == nil {
		return stubSolver{}
	}
	defer C.Z3_del_config(cfg)
	ctx := C.Z3_mk_context(cfg)
	if ctx == nil {
		return stubSolver{}
	}
	solver := C.Z3_mk_solver(ctx)
	if solver == nil {
		C.Z3_del_context(ctx)
		return stubSolver{}
	}
	C.Z3_solver_inc_ref(ctx, solver)
	return &z3Solver{
		ctx:    ctx,
		solver: solver,
		sort:   C.Z3_mk_int_sort(ctx),
		vars:   map[*ir.Var]C.Z3_ast{},
		active: true,
	}
}

func (z *z3Solver) astFor(v *ir.Var) C.Z3_ast {
	if ast, ok := z.vars[v]; ok {
		return ast
	}
	name := C.CString(fmt.Sprintf("v%d_%s", v.ID, v.Name))
	defer C.free(unsafe.Pointer(name))
	sym := C.Z3_mk_string_symbol(z.ctx, name)
	ast := C.Z3_mk_const(z.ctx, sym, z.sort)
	z.vars[v] = ast
	return ast
}

func (z *z3Solver) astForConstraint(c Constraint) C.Z3_ast {
	lhs := z.astFor(c.Var)
	rhs := C.Z3_mk_int64(z.ctx, C.int64_t(c.Val), z.sort)
	switch c.Pred {
	case ir.PredEQ:
		return C.Z3_mk_eq(z.ctx, lhs, rhs)
	case ir.PredNE:
		eq := C.Z3_mk_eq(z.ctx, lhs, rhs)
		return C.Z3_mk_not(z.ctx, eq)
	case ir.PredLT:
		return C.Z3_mk_lt(z.ctx, lhs, rhs)
	case ir.PredLE:
		return C.Z3_mk_le(z.ctx, lhs, rhs)
	case ir.PredGT:
		return C.Z3_mk_gt(z.ctx, lhs, rhs)
	default: // PredGE
		return C.Z3_mk_ge(z.ctx, lhs, rhs)
	}
}

// Feasible reports whether the conjunction of path's constraints has
// a satisfying assignment, scoping the check to a push/pop bracket so
// repeated calls never accumulate assertions across unrelated paths.
func (z *z3Solver) Feasible(path []Constraint) bool {
	if !z.active || len(path) == 0 {
		return true
	}
	C.Z3_solver_push(z.ctx, z.solver)
	defer C.Z3_solver_pop(z.ctx, z.solver, 1)
	for _, c := range path {
		C.Z3_solver_assert(z.ctx, z.solver, z.astForConstraint(c))
	}
	return C.Z3_solver_check(z.ctx, z.solver) != C.Z3_L_FALSE
}

func (z *z3Solver) Available() bool { return z.active }

func (z *z3Solver) Close() {
	if !z.active {
		return
	}
	C.Z3_solver_dec_ref(z.ctx, z.solver)
	C.Z3_del_context(z.ctx)
	z.active = false
}
