package engine

import (
	"testing"

	"github.com/oss-sast/rchk-go/internal/ir"
	"github.com/oss-sast/rchk-go/internal/report"
)

func newBalanceTracker() (*balanceTracker, *report.LineMessenger, *int) {
	msg := report.NewLineMessenger(false, false, true)
	refinable := new(int)
	return &balanceTracker{msg: msg, refinableInfos: refinable}, msg, refinable
}

func TestBalanceConstantProtectUnprotectBalances(t *testing.T) {
	m := ir.NewModule("m")
	f := m.NewFunction("f")
	entry := f.NewBlock("entry")
	protectCall := entry.Call(FnProtect, ir.ConstInt{Val: 0})
	m.Finalize()

	tr, msg, _ := newBalanceTracker()
	b := NewBalanceState()

	tr.HandleCall(protectCall, &b, f)
	if b.Depth != 1 {
		t.Fatalf("expected depth 1 after PROTECT, got %d", b.Depth)
	}

	unprotect := entry.Call(FnUnprotect, ir.ConstInt{Val: 1})
	tr.HandleCall(unprotect, &b, f)
	if b.Depth != 0 {
		t.Fatalf("expected depth 0 after UNPROTECT(1), got %d", b.Depth)
	}

	ret := entry.Ret(nil)
	tr.HandleReturn(ret, &b)
	if len(msg.All()) != 0 {
		t.Fatalf("expected no balance diagnostics for a balanced function, got %v", msg.All())
	}
}

func TestBalanceImbalanceOnReturnReportsProblem(t *testing.T) {
	m := ir.NewModule("m")
	f := m.NewFunction("f")
	entry := f.NewBlock("entry")
	protectCall := entry.Call(FnProtect, ir.ConstInt{Val: 0})
	ret := entry.Ret(nil)
	m.Finalize()

	tr, msg, refinable := newBalanceTracker()
	b := NewBalanceState()
	tr.HandleCall(protectCall, &b, f)
	tr.HandleReturn(ret, &b)

	found := msg.All()
	if len(found) != 1 || found[0].Kind != report.KindBalanceProblem {
		t.Fatalf("expected exactly one balance problem, got %v", found)
	}
	if *refinable != 1 {
		t.Fatalf("expected refinableInfos incremented once, for the imbalance, got %d", *refinable)
	}
}

func TestBalanceUnprotectNegativeDepthReportsProblem(t *testing.T) {
	m := ir.NewModule("m")
	f := m.NewFunction("f")
	entry := f.NewBlock("entry")
	unprotect := entry.Call(FnUnprotect, ir.ConstInt{Val: 1})
	m.Finalize()

	tr, msg, _ := newBalanceTracker()
	b := NewBalanceState()
	tr.HandleCall(unprotect, &b, f)

	found := msg.All()
	if len(found) != 1 || found[0].Kind != report.KindBalanceProblem {
		t.Fatalf("expected a negative-depth balance problem, got %v", found)
	}
}

// buildCounterVariableFunction builds:
//
//	int nprotect = 0;
//	PROTECT(x); nprotect = nprotect + 1;
//	UNPROTECT(nprotect);
//
// exercising the protection-counter variable recognizer.
func buildCounterVariableFunction() (*ir.Function, *ir.Instr, *ir.Instr, *ir.Instr) {
	m := ir.NewModule("m")
	f := m.NewFunction("f")
	nprotect := f.NewVar("nprotect", ir.TypeInt, false)
	entry := f.NewBlock("entry")

	storeZero := entry.Store(nprotect, ir.ConstInt{Val: 0})
	_ = storeZero
	protectCall := entry.Call(FnProtect, ir.ConstInt{Val: 0})
	loadForAdd := entry.Load(nprotect)
	add := entry.Bin("+", loadForAdd, ir.ConstInt{Val: 1})
	storeAdd := entry.Store(nprotect, add)
	_ = storeAdd
	loadForUnprotect := entry.Load(nprotect)
	unprotectCall := entry.Call(FnUnprotect, loadForUnprotect)
	m.Finalize()
	return f, protectCall, storeAdd, unprotectCall
}

func TestBalanceCounterVariableRecognized(t *testing.T) {
	f, protectCall, storeAdd, unprotectCall := buildCounterVariableFunction()
	entry := f.Blocks[0]
	nprotect := f.Locals[0]

	if !isProtectionCounterVariable(f, nprotect) {
		t.Fatalf("expected nprotect to be recognized as a protection counter variable")
	}

	tr, msg, _ := newBalanceTracker()
	b := NewBalanceState()
	// store nprotect = 0
	tr.HandleStore(entry.Instrs[0], &b, f)
	if b.CountState != CSExact || b.Count != 0 {
		t.Fatalf("expected CSExact/0 after initializing counter, got %s/%d", b.CountState, b.Count)
	}
	tr.HandleCall(protectCall, &b, f)
	if b.Depth != 1 {
		t.Fatalf("expected depth 1 after PROTECT, got %d", b.Depth)
	}
	// store nprotect = nprotect + 1
	tr.HandleStore(storeAdd, &b, f)
	if b.CountState != CSExact || b.Count != 1 {
		t.Fatalf("expected CSExact/1 after incrementing counter, got %s/%d", b.CountState, b.Count)
	}
	tr.HandleCall(unprotectCall, &b, f)
	if b.Depth != 0 {
		t.Fatalf("expected depth 0 after UNPROTECT(nprotect), got %d", b.Depth)
	}
	if len(msg.All()) != 0 {
		t.Fatalf("expected no diagnostics, got %v", msg.All())
	}
}

func TestFusedUnprotectIdiomRecognizesIfNprotect(t *testing.T) {
	m := ir.NewModule("m")
	f := m.NewFunction("f")
	nprotect := f.NewVar("nprotect", ir.TypeInt, false)
	entry := f.NewBlock("entry")
	unprotectBB := f.NewBlock("unprotect")
	mergeBB := f.NewBlock("merge")

	entry.Store(nprotect, ir.ConstInt{Val: 1})
	loadCond := entry.Load(nprotect)
	cond := entry.ICmp(ir.PredEQ, loadCond, ir.ConstInt{Val: 0})
	entry.CondBr(cond, mergeBB, unprotectBB)

	loadForUnprotect := unprotectBB.Load(nprotect)
	unprotectBB.Call(FnUnprotect, loadForUnprotect)
	unprotectBB.Br(mergeBB)
	mergeBB.Ret(nil)
	m.Finalize()

	// Manually mark the counter variable as recognized and put balance
	// in CSDiff, the state this idiom fold only applies in.
	if !isProtectionCounterVariable(f, nprotect) {
		t.Fatalf("expected nprotect to be recognized as a protection counter variable")
	}
	b := BalanceState{CountState: CSDiff, CounterVar: nprotect, SavedDepth: -1}

	succ, ok := FusedUnprotectIdiom(f, &b, cond, mergeBB, unprotectBB)
	if !ok {
		t.Fatalf("expected the fused unprotect idiom to be recognized")
	}
	if succ != unprotectBB {
		t.Fatalf("expected the fold to select the block performing UNPROTECT, not the join block")
	}
}
