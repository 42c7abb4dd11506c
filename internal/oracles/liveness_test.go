package oracles

import (
	"testing"

	"github.com/oss-sast/rchk-go/internal/ir"
)

func TestLivenessDeadAfterLastUse(t *testing.T) {
	m := ir.NewModule("m")
	f := m.NewFunction("f")
	v := f.NewVar("v", ir.TypeSEXP, false)
	entry := f.NewBlock("entry")
	store := entry.Store(v, ir.ConstInt{Val: 0})
	load := entry.Load(v)
	entry.Ret(load)
	m.Finalize()

	live := Compute(f)

	if !live.PossiblyLiveAfter(v, store) {
		t.Fatalf("v should be live right after its store, since it is read by the following load")
	}
	if live.PossiblyLiveAfter(v, load) {
		t.Fatalf("v should be dead after its only load")
	}
	if !live.DefinitelyDeadAfter(v, load) {
		t.Fatalf("DefinitelyDeadAfter should be the exact negation of PossiblyLiveAfter")
	}
}

func TestLivenessLiveAcrossBranch(t *testing.T) {
	m := ir.NewModule("m")
	f := m.NewFunction("f")
	v := f.NewVar("v", ir.TypeSEXP, false)
	entry := f.NewBlock("entry")
	thenBB := f.NewBlock("then")
	elseBB := f.NewBlock("else")
	merge := f.NewBlock("merge")

	store := entry.Store(v, ir.ConstInt{Val: 0})
	cond := entry.ICmp(ir.PredEQ, ir.ConstInt{Val: 1}, ir.ConstInt{Val: 1})
	entry.CondBr(cond, thenBB, elseBB)

	thenBB.Br(merge)
	elseBB.Br(merge)

	load := merge.Load(v)
	merge.Ret(load)

	m.Finalize()

	live := Compute(f)
	if !live.PossiblyLiveAfter(v, store) {
		t.Fatalf("v is read on both branches after the store, so it must be live after it")
	}
}
