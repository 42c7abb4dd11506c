package engine

import (
	"github.com/oss-sast/rchk-go/internal/ir"
	"github.com/oss-sast/rchk-go/internal/report"
)

// Oracles bundles the read-only queries a function check needs,
// gathered into one struct so Executor's constructor doesn't grow a
// parameter for every sub-analysis's dependency.
type Oracles struct {
	Alloc    AllocatingOracle
	Protects CalleeOracle
	Live     oracleLiveness
	Symbols  interface{ WellKnownSymbol(name string) bool }
}

// FunctionResult summarizes one function's check: how many
// refinement-worthy findings the balance and freshness trackers
// produced (feeding
// the decision to re-run with guards enabled) and whether the state
// cap was hit before the worklist drained.
type FunctionResult struct {
	RefinableInfos int
	Truncated      bool
	StatesExplored int
}

// Executor drives the worklist-based abstract interpretation of a
// single function, dispatching each instruction to the balance,
// int-guard, SEXP-guard, and freshness sub-analyses in lockstep and
// following the CFG according to whatever each sub-analysis can prove
// about a terminator's condition.
type Executor struct {
	Module     *ir.Module
	Msg        *report.LineMessenger
	Oracles    Oracles
	PPStackTop *ir.Global
	NilValue   *ir.Global
}

// pathSolverFor builds a fresh PathSolver for one CheckFunction run.
// A single function's worklist never runs on more than one goroutine
// at a time, so a per-call solver is both correct (no concurrent use
// of the same Z3 context) and cheap enough for the handful of
// refinement passes any one function goes through.
func pathSolverFor() PathSolver {
	return NewPathSolver()
}

// NewExecutor builds an Executor sharing msg and mod-level globals
// across every function it will check.
func NewExecutor(mod *ir.Module, msg *report.LineMessenger, oracles Oracles) *Executor {
	return &Executor{
		Module:     mod,
		Msg:        msg,
		Oracles:    oracles,
		PPStackTop: mod.Global("R_PPStackTop", ir.TypeInt),
		NilValue:   mod.Global("R_NilValue", ir.TypeSEXP),
	}
}

// CheckFunction runs the worklist to a fixed point (or until
// MaxStatesPerFunction is hit) and returns a summary of what the
// balance and freshness trackers found worth refining over.
func (e *Executor) CheckFunction(f *ir.Function, enableIntGuards, enableSEXPGuards bool) FunctionResult {
	f.BuildUseLists()
	refinable := 0
	bt := &balanceTracker{msg: e.Msg, ppStackTop: e.PPStackTop, refinableInfos: &refinable}
	ft := &freshnessTracker{msg: e.Msg, alloc: e.Oracles.Alloc, protects: e.Oracles.Protects, live: e.Oracles.Live, refinableInfos: &refinable}

	solver := pathSolverFor()
	defer solver.Close()

	done := NewDoneSet()
	worklist := []State{NewEntryState(f.Entry, enableIntGuards, enableSEXPGuards)}
	truncated := false

	for len(worklist) > 0 {
		s := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		if seen, capped := done.SeenOrAdd(s); seen {
			continue
		} else if capped {
			truncated = true
			e.Msg.Info("state limit reached, remaining paths not explored", s.Block.Term())
			break
		}

		nexts := e.step(f, s, bt, ft, solver)
		worklist = append(worklist, nexts...)
	}

	return FunctionResult{RefinableInfos: refinable, Truncated: truncated, StatesExplored: done.Count()}
}

// step runs every non-terminator instruction of s.Block through the
// sub-analyses, then dispatches the terminator to produce the state's
// successors.
func (e *Executor) step(f *ir.Function, s State, bt *balanceTracker, ft *freshnessTracker, solver PathSolver) []State {
	block := s.Block
	for _, in := range block.Instrs {
		if in.IsTerminator() {
			break
		}
		e.dispatchNonTerminator(f, in, &s, bt, ft)
	}
	term := block.Term()
	if term == nil {
		return nil
	}
	return e.dispatchTerminator(f, term, s, bt, ft, solver)
}

func (e *Executor) dispatchNonTerminator(f *ir.Function, in *ir.Instr, s *State, bt *balanceTracker, ft *freshnessTracker) {
	// Dispatch order is fixed across every instruction kind: freshness
	// first, then balance, then the int- and SEXP-guard trackers. The
	// freshness tracker does not read the balance state: an UNPROTECT
	// whose count is not a constant (e.g. UNPROTECT(nprotect)) empties
	// its simulated protect stack whatever the counter variable holds.
	switch in.Op {
	case ir.OpCall:
		ft.HandleRootingCall(in, f, &s.Fresh)
		ft.HandleAllocatingCall(in, f, &s.Fresh)
		bt.HandleCall(in, &s.Balance, f)
	case ir.OpLoad:
		ft.HandleLoad(in, f, &s.Fresh)
		bt.HandleLoad(in, &s.Balance, f)
	case ir.OpStore:
		ft.HandleStore(in, &s.Fresh)
		bt.HandleStore(in, &s.Balance, f)
		if s.EnabledIntGuards {
			s.IntGuards.HandleStore(in)
		}
		if s.EnabledSEXPGuards {
			s.SEXPGuards.HandleStore(in, e.NilValue, e.Oracles.Alloc)
		}
	case ir.OpOpaque:
		e.Msg.TraceMsg("unmodeled construct, precision may be lost here", in)
	}
}

// dispatchTerminator handles the three terminator shapes: Ret checks
// final balance and drains any still-fresh variables; Unreachable
// simply ends the path; Br explores one or both successors depending
// on what balance's fused-idiom recognizer or the guard trackers can
// fold.
func (e *Executor) dispatchTerminator(f *ir.Function, term *ir.Instr, s State, bt *balanceTracker, ft *freshnessTracker, solver PathSolver) []State {
	switch term.Op {
	case ir.OpRet:
		bt.HandleReturn(term, &s.Balance)
		ft.HandleReturn(&s.Fresh)
		return nil
	case ir.OpUnreachable:
		return nil
	case ir.OpBr:
		return e.dispatchBranch(f, term, s, bt, solver)
	default:
		return nil
	}
}

func (e *Executor) dispatchBranch(f *ir.Function, term *ir.Instr, s State, bt *balanceTracker, solver PathSolver) []State {
	if term.Val == nil {
		// unconditional branch
		return []State{s.AtBlock(term.True)}
	}
	cond, isInstr := term.Val.(*ir.Instr)

	// CS_DIFF fused "if (nprotect) UNPROTECT(nprotect)" idiom: explore
	// only the block performing the UNPROTECT, never the join block,
	// so that a freshness pass running alongside never treats the
	// unprotect as merely possible when it is certain along this path.
	if isInstr {
		if unprotectSucc, ok := FusedUnprotectIdiom(f, &s.Balance, cond, term.True, term.False); ok {
			return []State{s.AtBlock(unprotectSucc)}
		}
	}

	trueReachable, falseReachable := true, true
	var (
		intGC  GuardCondition
		intOK  bool
		sexpGC SEXPGuardCondition
		sexpOK bool
	)
	if isInstr {
		if s.EnabledIntGuards {
			if intGC, intOK = DecodeGuardCondition(cond); intOK {
				trueReachable, falseReachable = s.IntGuards.Fold(intGC)
			}
		}
		if !intOK && s.EnabledSEXPGuards {
			if sexpGC, sexpOK = DecodeSEXPGuardCondition(cond, e.NilValue); sexpOK {
				trueReachable, falseReachable = s.SEXPGuards.Fold(sexpGC)
			}
		}
	}

	// When the shape is a general linear comparison (any predicate,
	// any constant — not just the zero-comparison the guard lattices
	// alone can represent), a PathSolver gets a chance to prune a
	// successor the lattice folding above left ambiguous, by checking
	// whether the branch's implied constraint is even jointly
	// satisfiable with everything already known about this path.
	var (
		trueConstraint  Constraint
		falseConstraint Constraint
		linearOK        bool
	)
	if isInstr && (trueReachable && falseReachable) {
		if trueConstraint, linearOK = DecodeLinearConstraint(cond); linearOK {
			falseConstraint = Constraint{Var: trueConstraint.Var, Pred: trueConstraint.Pred.Negate(), Val: trueConstraint.Val}
			if solver != nil && solver.Available() {
				trueReachable = solver.Feasible(clonePath(s.Path, trueConstraint))
				falseReachable = solver.Feasible(clonePath(s.Path, falseConstraint))
			}
		}
	}

	var out []State
	if trueReachable {
		var next State
		if linearOK {
			next = s.WithConstraint(term.True, trueConstraint)
		} else {
			next = s.AtBlock(term.True)
		}
		if intOK {
			next.IntGuards.Refine(intGC, true)
		} else if sexpOK {
			next.SEXPGuards.Refine(sexpGC, true)
		}
		out = append(out, next)
	}
	if falseReachable {
		var next State
		if linearOK {
			next = s.WithConstraint(term.False, falseConstraint)
		} else {
			next = s.AtBlock(term.False)
		}
		if intOK {
			next.IntGuards.Refine(intGC, false)
		} else if sexpOK {
			next.SEXPGuards.Refine(sexpGC, false)
		}
		out = append(out, next)
	}
	return out
}
