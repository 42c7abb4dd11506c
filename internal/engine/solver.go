package engine

import (
	"os"

	"github.com/oss-sast/rchk-go/internal/ir"
)

// Constraint is one accumulated fact along the path being explored:
// "variable Pred value", collected from every DecodeGuardCondition
// the executor folded so far. A PathSolver checks whether the
// conjunction of a path's constraints is jointly satisfiable, letting
// the checker prune a branch even when the int-guard lattice alone
// (three values: zero, nonzero, unknown) is too coarse to prove it
// infeasible on its own — e.g. "x > 0" on one branch followed by
// "x < 0" on a nested one.
type Constraint struct {
	Var  *ir.Var
	Pred ir.Pred
	Val  int64
}

// PathSolver decides whether a set of int constraints collected along
// one execution path can be jointly true. Building one is optional:
// the executor runs perfectly well, just less precisely, with a
// PathSolver that always reports "maybe feasible".
type PathSolver interface {
	Feasible(path []Constraint) bool
	Available() bool
	Close()
}

// stubSolver is the conservative PathSolver that never proves a path
// infeasible, only ever widening the guard trackers' own lattice-based
// folding, never narrowing it further. It backs every build when
// compiled with -tags noz3, and also backs a cgo-enabled build whose
// Z3 context failed to initialize or whose RCHK_DISABLE_Z3 environment
// variable opted out of using Z3 at runtime.
type stubSolver struct{}

func (stubSolver) Feasible(path []Constraint) bool { return true }
func (stubSolver) Available() bool                 { return false }
func (stubSolver) Close()                          {}

// NewPathSolver returns the best PathSolver this build was compiled
// with: a real Z3-backed one when built without the noz3 tag (and Z3
// is actually reachable at link time), otherwise the conservative
// stub that never prunes a path. Setting RCHK_DISABLE_Z3 (to any
// non-empty value) skips the cgo-linked solver even in a build that
// has it, falling back to the stub without needing a rebuild.
func NewPathSolver() PathSolver {
	if os.Getenv("RCHK_DISABLE_Z3") != "" {
		return stubSolver{}
	}
	return newPathSolver()
}

// DecodeLinearConstraint recognizes "load intVar <pred> const" in
// either operand order, for any comparison predicate — a superset of
// DecodeGuardCondition, which only handles the zero-comparison shape
// the three-valued int-guard lattice can represent. The returned
// Constraint describes the condition on the true branch; negate its
// Pred for the false branch.
func DecodeLinearConstraint(cond *ir.Instr) (Constraint, bool) {
	if cond == nil || cond.Op != ir.OpICmp {
		return Constraint{}, false
	}
	load, isLoad := cond.X.(*ir.Instr)
	other := cond.Y
	pred := cond.Pred
	if !isLoad || load.Op != ir.OpLoad {
		load, isLoad = cond.Y.(*ir.Instr)
		other = cond.X
		pred = flipOperands(cond.Pred)
		if !isLoad || load.Op != ir.OpLoad {
			return Constraint{}, false
		}
	}
	c, ok := other.(ir.ConstInt)
	if !ok || load.Var == nil || load.Var.Type != ir.TypeInt {
		return Constraint{}, false
	}
	return Constraint{Var: load.Var, Pred: pred, Val: c.Val}, true
}

// flipOperands adjusts a predicate for swapping its two operands:
// "0 < x" becomes "x > 0", not "x < 0".
func flipOperands(p ir.Pred) ir.Pred {
	switch p {
	case ir.PredLT:
		return ir.PredGT
	case ir.PredGT:
		return ir.PredLT
	case ir.PredLE:
		return ir.PredGE
	case ir.PredGE:
		return ir.PredLE
	default: // EQ, NE are symmetric
		return p
	}
}

// clonePath returns an independent copy of path with c appended, safe
// to hand to two different successor states without either mutating
// the other's backing array.
func clonePath(path []Constraint, c Constraint) []Constraint {
	out := make([]Constraint, len(path)+1)
	copy(out, path)
	out[len(path)] = c
	return out
}
