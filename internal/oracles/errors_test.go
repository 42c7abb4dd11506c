package oracles

import (
	"testing"

	"github.com/oss-sast/rchk-go/internal/ir"
)

func TestErrorPathInfoNeverReturns(t *testing.T) {
	e := NewErrorPathInfo()
	if !e.NeverReturns("Rf_error") {
		t.Fatalf("Rf_error should never return")
	}
	if e.NeverReturns("Rf_warning") {
		t.Fatalf("Rf_warning was not registered as never-returning")
	}
	e.MarkNeverReturns("stop_with_message")
	if !e.NeverReturns("stop_with_message") {
		t.Fatalf("expected custom never-return registration to take effect")
	}
}

func TestErrorPathInfoAnalyzeMarksUnreachableBlocks(t *testing.T) {
	m := ir.NewModule("m")
	f := m.NewFunction("f")
	entry := f.NewBlock("entry")
	thenBB := f.NewBlock("then")
	elseBB := f.NewBlock("else")
	merge := f.NewBlock("merge")

	cond := entry.ICmp(ir.PredEQ, ir.ConstInt{Val: 0}, ir.ConstInt{Val: 0})
	entry.CondBr(cond, thenBB, elseBB)

	thenBB.Call("Rf_error", ir.ConstSym{Name: "bad"})
	thenBB.Br(merge)

	elseBB.Br(merge)
	merge.Ret(nil)

	m.Finalize()

	e := NewErrorPathInfo()
	e.Analyze(f)

	if e.IsErrorPathBlock(thenBB) {
		t.Fatalf("then itself is reached on a real path, it should not be flagged error-only")
	}
	if e.IsErrorPathBlock(elseBB) {
		t.Fatalf("else is reachable directly from entry, should not be error-only")
	}
	// merge is reachable via else regardless of then's error call, so it
	// must not be misclassified as error-only.
	if e.IsErrorPathBlock(merge) {
		t.Fatalf("merge is reachable via else, should not be error-only")
	}
}

func TestErrorPathInfoAllPathsThroughErrorAreUnreachable(t *testing.T) {
	m := ir.NewModule("m")
	f := m.NewFunction("f")
	entry := f.NewBlock("entry")
	after := f.NewBlock("after")

	entry.Call("Rf_error", ir.ConstSym{Name: "bad"})
	entry.Br(after)
	after.Ret(nil)

	m.Finalize()

	e := NewErrorPathInfo()
	e.Analyze(f)

	if !e.IsErrorPathBlock(after) {
		t.Fatalf("expected after to be unreachable (and thus error-only) since entry always calls Rf_error first")
	}
}
