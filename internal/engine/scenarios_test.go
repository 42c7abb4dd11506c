package engine

import (
	"strings"
	"testing"

	"github.com/oss-sast/rchk-go/internal/ir"
	"github.com/oss-sast/rchk-go/internal/report"
)

// scenarios_test.go runs the six canonical PROTECT/UNPROTECT/freshness
// bug patterns end to end through Executor.CheckFunction /
// CheckFunctionWithRefinement, rather than unit-testing one tracker's
// transfer function in isolation the way balance_test.go and
// freshness_test.go do. Each test builds its function directly via the
// ir builder API (no C source, no tree-sitter) since that is far less
// code than parsing a source fixture would be.

// scenarioOracles builds the Oracles triple a scenario needs.
// allocating answers IsAllocating (may trigger a collection);
// possible answers IsPossibleAllocator (may itself return a fresh,
// still-unprotected SEXP) — the two are tracked separately because a
// call can do either without the other (Rf_setAttrib can collect
// without returning a fresh object; a plain GC trigger with no
// allocating return value is the same story).
func scenarioOracles(allocating, possible map[string]bool, protects map[string]map[int]bool) Oracles {
	return Oracles{
		Alloc:    fakeAllocOracle{allocating: allocating, fresh: possible},
		Protects: fakeProtectOracle(protects),
		Live:     fakeLiveness{dead: map[*ir.Var]bool{}},
	}
}

func hasKind(found []*report.LineInfo, kind report.Kind) bool {
	for _, li := range found {
		if li.Kind == kind {
			return true
		}
	}
	return false
}

// f1: x = alloc(); PROTECT(x); UNPROTECT(1); return x; — balanced,
// no warnings.
func TestScenarioF1BalancedProtectUnprotectIsClean(t *testing.T) {
	m := ir.NewModule("m")
	f := m.NewFunction("f1")
	x := f.NewVar("x", ir.TypeSEXP, false)
	entry := f.NewBlock("entry")
	alloc := entry.Call("Rf_allocVector", ir.ConstInt{Val: 14}, ir.ConstInt{Val: 1})
	entry.Store(x, alloc)
	loadForProtect := entry.Load(x)
	entry.Call(FnProtect, loadForProtect)
	entry.Call(FnUnprotect, ir.ConstInt{Val: 1})
	loadForRet := entry.Load(x)
	entry.Ret(loadForRet)
	m.Finalize()

	msg := report.NewLineMessenger(false, false, true)
	allocFns := map[string]bool{"Rf_allocVector": true}
	e := NewExecutor(m, msg, scenarioOracles(allocFns, allocFns, nil))
	e.CheckFunction(f, false, false)

	if found := msg.All(); len(found) != 0 {
		t.Fatalf("expected a balanced PROTECT/UNPROTECT to produce no findings, got %v", found)
	}
}

// f2: x = alloc(); y = alloc(); return cons(x, y); where cons is
// allocating and does not protect either argument — at least one
// unprotected-argument warning, fired at the load since neither
// variable is ever read again afterward.
func TestScenarioF2FreshArgumentsToAllocatingCallWarn(t *testing.T) {
	m := ir.NewModule("m")
	f := m.NewFunction("f2")
	x := f.NewVar("x", ir.TypeSEXP, false)
	y := f.NewVar("y", ir.TypeSEXP, false)
	entry := f.NewBlock("entry")
	allocX := entry.Call("Rf_allocVector", ir.ConstInt{Val: 14}, ir.ConstInt{Val: 1})
	entry.Store(x, allocX)
	allocY := entry.Call("Rf_allocVector", ir.ConstInt{Val: 14}, ir.ConstInt{Val: 1})
	entry.Store(y, allocY)
	loadX := entry.Load(x)
	loadY := entry.Load(y)
	cons := entry.Call("cons", loadX, loadY)
	entry.Ret(cons)
	m.Finalize()

	msg := report.NewLineMessenger(false, false, true)
	alloc := map[string]bool{"Rf_allocVector": true, "cons": true}
	e := NewExecutor(m, msg, scenarioOracles(alloc, alloc, nil))
	e.CheckFunction(f, false, false)

	found := msg.All()
	if len(found) == 0 || !hasKind(found, report.KindUnprotected) {
		t.Fatalf("expected at least one unprotected-argument warning for cons(x, y), got %v", found)
	}
}

// f3: x = alloc(); PROTECT(x); y = alloc(); UNPROTECT(2); — unprotects
// one more entry than was ever pushed, a negative-depth balance
// problem.
func TestScenarioF3OverUnprotectReportsNegativeDepth(t *testing.T) {
	m := ir.NewModule("m")
	f := m.NewFunction("f3")
	x := f.NewVar("x", ir.TypeSEXP, false)
	y := f.NewVar("y", ir.TypeSEXP, false)
	entry := f.NewBlock("entry")
	allocX := entry.Call("Rf_allocVector", ir.ConstInt{Val: 14}, ir.ConstInt{Val: 1})
	entry.Store(x, allocX)
	loadX := entry.Load(x)
	entry.Call(FnProtect, loadX)
	allocY := entry.Call("Rf_allocVector", ir.ConstInt{Val: 14}, ir.ConstInt{Val: 1})
	entry.Store(y, allocY)
	entry.Call(FnUnprotect, ir.ConstInt{Val: 2})
	entry.Ret(nil)
	m.Finalize()

	msg := report.NewLineMessenger(false, false, true)
	alloc := map[string]bool{"Rf_allocVector": true}
	e := NewExecutor(m, msg, scenarioOracles(alloc, alloc, nil))
	e.CheckFunction(f, false, false)

	found := msg.All()
	var sawNegativeDepth bool
	for _, li := range found {
		if li.Kind == report.KindBalanceProblem && strings.Contains(li.Message, "negative") {
			sawNegativeDepth = true
		}
	}
	if !sawNegativeDepth {
		t.Fatalf("expected a negative-depth balance problem from UNPROTECT(2) after a single PROTECT, got %v", found)
	}
}

// f4: UNPROTECT(nprotect) where nprotect was never given a constant
// value on any path — a refinable "uninitialized counter" finding
// that no amount of int- or SEXP-guard tracking can ever resolve,
// since it is a pure data-flow gap rather than a branch the guard
// lattices can fold away. Used here to exercise
// CheckFunctionWithRefinement's escalation loop and the per-function
// guard blacklist, rather than to prove refinement fixes the bug (it
// doesn't, by construction): a blacklisted function's check must never
// turn either knob on, while a non-blacklisted one exhausts both
// before giving up.
func buildUninitializedCounterFunction(m *ir.Module, name string) *ir.Function {
	f := m.NewFunction(name)
	nprotect := f.NewVar("nprotect", ir.TypeInt, false)
	entry := f.NewBlock("entry")
	loadNP := entry.Load(nprotect)
	entry.Call(FnUnprotect, loadNP)
	entry.Ret(nil)
	return f
}

func TestScenarioF4BlacklistedFunctionNeverEscalates(t *testing.T) {
	m := ir.NewModule("m")
	f := buildUninitializedCounterFunction(m, "Rf_protect")
	m.Finalize()

	msg := report.NewLineMessenger(false, false, true)
	e := NewExecutor(m, msg, scenarioOracles(nil, nil, nil))

	result := CheckFunctionWithRefinement(e, f, Done)
	if result.Level != GuardsOff {
		t.Fatalf("expected a blacklisted function to stay at GuardsOff, got %s", result.Level)
	}
	if result.Function.RefinableInfos == 0 {
		t.Fatalf("expected the uninitialized-counter finding to remain refinable")
	}
}

func TestScenarioF4NonBlacklistedFunctionEscalatesThroughBothGuardLevels(t *testing.T) {
	m := ir.NewModule("m")
	f := buildUninitializedCounterFunction(m, "my_func")
	m.Finalize()

	msg := report.NewLineMessenger(false, false, true)
	e := NewExecutor(m, msg, scenarioOracles(nil, nil, nil))

	result := CheckFunctionWithRefinement(e, f, Done)
	if result.Level != SEXPGuardsOn {
		t.Fatalf("expected a non-blacklisted function to exhaust both guard levels before giving up, got %s", result.Level)
	}
	if result.Function.RefinableInfos == 0 {
		t.Fatalf("expected the finding to remain refinable even after both guard levels were tried")
	}
}

// f4 (literal shape): nprotect = 0; if (c) { PROTECT(x); nprotect++; }
// UNPROTECT(nprotect); — spec.md §8's literal case 4, documented there as
// a refinable finding with integer guards off that a guards-on re-run
// resolves. This executor explores one worklist state per branch outcome
// rather than merging abstract states at the join block (see DESIGN.md's
// "f4's end-to-end scenario avoids branch-pruning" entry), so nprotect's
// CSExact/Count tracking stays exact independently on each path: the
// then-path reaches UNPROTECT with Count=1/Depth=1, the else-path reaches
// it with Count=0/Depth=0, and both balance to Depth 0 with no finding —
// with or without integer guards, since nothing about this shape depends
// on PathSolver pruning an infeasible branch. The test below documents
// that intentional per-path precision rather than reproducing the
// original tool's guards-off imprecision.
func buildBranchThenCounterIncrementFunction(m *ir.Module) *ir.Function {
	f := m.NewFunction("f4_literal")
	c := f.NewVar("c", ir.TypeInt, true)
	nprotect := f.NewVar("nprotect", ir.TypeInt, false)
	x := f.NewVar("x", ir.TypeSEXP, false)
	entry := f.NewBlock("entry")
	thenBB := f.NewBlock("then")
	mergeBB := f.NewBlock("merge")

	entry.Store(nprotect, ir.ConstInt{Val: 0})
	loadC := entry.Load(c)
	cond := entry.ICmp(ir.PredNE, loadC, ir.ConstInt{Val: 0})
	entry.CondBr(cond, thenBB, mergeBB)

	allocX := thenBB.Call("Rf_allocVector", ir.ConstInt{Val: 14}, ir.ConstInt{Val: 1})
	thenBB.Store(x, allocX)
	loadXForProtect := thenBB.Load(x)
	thenBB.Call(FnProtect, loadXForProtect)
	loadNPForAdd := thenBB.Load(nprotect)
	add := thenBB.Bin("+", loadNPForAdd, ir.ConstInt{Val: 1})
	thenBB.Store(nprotect, add)
	thenBB.Br(mergeBB)

	loadNPForUnprotect := mergeBB.Load(nprotect)
	mergeBB.Call(FnUnprotect, loadNPForUnprotect)
	mergeBB.Ret(nil)
	return f
}

func TestScenarioF4LiteralBranchThenCounterIncrementStaysCleanPerPath(t *testing.T) {
	for _, enableIntGuards := range []bool{false, true} {
		m := ir.NewModule("m")
		f := buildBranchThenCounterIncrementFunction(m)
		m.Finalize()

		msg := report.NewLineMessenger(false, false, true)
		alloc := map[string]bool{"Rf_allocVector": true}
		e := NewExecutor(m, msg, scenarioOracles(alloc, alloc, nil))
		e.CheckFunction(f, enableIntGuards, false)

		if found := msg.All(); len(found) != 0 {
			t.Fatalf("expected the literal branch-then-counter-increment shape to balance cleanly on both explored paths (enableIntGuards=%v), got %v", enableIntGuards, found)
		}
	}
}

// f5: save = R_PPStackTop; PROTECT(a); PROTECT(b); R_PPStackTop = save;
// — the raw stack-pointer idiom some R internals use instead of a
// matching UNPROTECT count. Depth must return to exactly 0 with no
// over-unprotect finding.
func TestScenarioF5PPStackTopSaveRestoreRebalances(t *testing.T) {
	m := ir.NewModule("m")
	ppStackTop := m.Global("R_PPStackTop", ir.TypeInt)
	f := m.NewFunction("f5")
	save := f.NewVar("save", ir.TypeInt, false)
	a := f.NewVar("a", ir.TypeSEXP, false)
	b := f.NewVar("b", ir.TypeSEXP, false)
	entry := f.NewBlock("entry")
	entry.Store(save, ppStackTop)
	allocA := entry.Call("Rf_allocVector", ir.ConstInt{Val: 14}, ir.ConstInt{Val: 1})
	entry.Store(a, allocA)
	loadA := entry.Load(a)
	entry.Call(FnProtect, loadA)
	allocB := entry.Call("Rf_allocVector", ir.ConstInt{Val: 14}, ir.ConstInt{Val: 1})
	entry.Store(b, allocB)
	loadB := entry.Load(b)
	entry.Call(FnProtect, loadB)
	loadSave := entry.Load(save)
	entry.StoreGlobal(ppStackTop, loadSave)
	entry.Ret(nil)
	m.Finalize()

	msg := report.NewLineMessenger(false, false, true)
	alloc := map[string]bool{"Rf_allocVector": true}
	e := NewExecutor(m, msg, scenarioOracles(alloc, alloc, nil))
	e.CheckFunction(f, false, false)

	found := msg.All()
	if len(found) != 0 {
		t.Fatalf("expected restoring R_PPStackTop to rebalance depth with no findings, got %v", found)
	}
}

// f6: x = alloc(); Rf_setAttrib(parent, sym, x); foo_allocating();
// use(x); where parent is not itself fresh — the setter heuristic
// roots x as soon as it is attached to parent, so the later allocating
// call produces no warning.
func TestScenarioF6SetterHeuristicRootsBeforeAllocatingCall(t *testing.T) {
	m := ir.NewModule("m")
	f := m.NewFunction("f6")
	parent := f.NewVar("parent", ir.TypeSEXP, true)
	sym := f.NewVar("sym", ir.TypeSEXP, true)
	x := f.NewVar("x", ir.TypeSEXP, false)
	entry := f.NewBlock("entry")
	allocX := entry.Call("Rf_allocVector", ir.ConstInt{Val: 14}, ir.ConstInt{Val: 1})
	entry.Store(x, allocX)
	loadParent := entry.Load(parent)
	loadSym := entry.Load(sym)
	loadXForSetter := entry.Load(x)
	entry.Call("Rf_setAttrib", loadParent, loadSym, loadXForSetter)
	entry.Call("foo_allocating")
	loadXForUse := entry.Load(x)
	entry.Call("use", loadXForUse)
	entry.Ret(nil)
	m.Finalize()

	msg := report.NewLineMessenger(false, false, true)
	e := NewExecutor(m, msg, scenarioOracles(
		map[string]bool{"Rf_allocVector": true, "Rf_setAttrib": true, "foo_allocating": true},
		map[string]bool{"Rf_allocVector": true},
		map[string]map[int]bool{"Rf_setAttrib": {2: true}},
	))
	e.CheckFunction(f, false, false)

	if found := msg.All(); len(found) != 0 {
		t.Fatalf("expected the setter heuristic to root x before foo_allocating, got %v", found)
	}
}
