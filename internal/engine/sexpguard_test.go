package engine

import (
	"testing"

	"github.com/oss-sast/rchk-go/internal/ir"
)

type fakeSEXPGuardAllocOracle map[string]bool

func (f fakeSEXPGuardAllocOracle) IsAllocating(fn string) bool        { return f[fn] }
func (f fakeSEXPGuardAllocOracle) IsPossibleAllocator(fn string) bool { return f[fn] }

func TestSEXPGuardHandleStoreNilAndSymbol(t *testing.T) {
	m := ir.NewModule("m")
	f := m.NewFunction("f")
	v := f.NewVar("x", ir.TypeSEXP, false)
	nilValue := m.Global("R_NilValue", ir.TypeSEXP)
	entry := f.NewBlock("entry")
	nilStore := entry.Store(v, nilValue)
	symStore := entry.Store(v, ir.ConstSym{Name: "dim"})
	m.Finalize()

	s := NewSEXPGuardState()
	s.HandleStore(nilStore, nilValue, nil)
	val, ok := s.Get(v)
	if !ok || val.Kind != SGNil {
		t.Fatalf("expected SGNil after storing R_NilValue, got %+v ok=%v", val, ok)
	}

	s.HandleStore(symStore, nilValue, nil)
	val, ok = s.Get(v)
	if !ok || val.Kind != SGSymbol || val.SymbolName != "dim" {
		t.Fatalf("expected SGSymbol(dim), got %+v ok=%v", val, ok)
	}
}

func TestSEXPGuardHandleStoreAllocatingCallIsNonNil(t *testing.T) {
	m := ir.NewModule("m")
	f := m.NewFunction("f")
	v := f.NewVar("x", ir.TypeSEXP, false)
	nilValue := m.Global("R_NilValue", ir.TypeSEXP)
	entry := f.NewBlock("entry")
	call := entry.Call("Rf_allocVector", ir.ConstInt{Val: 14}, ir.ConstInt{Val: 1})
	store := entry.Store(v, call)
	m.Finalize()

	alloc := fakeSEXPGuardAllocOracle{"Rf_allocVector": true}
	s := NewSEXPGuardState()
	s.HandleStore(store, nilValue, alloc)
	val, ok := s.Get(v)
	if !ok || val.Kind != SGNonNil {
		t.Fatalf("expected SGNonNil after storing a fresh allocation result, got %+v ok=%v", val, ok)
	}
}

func TestDecodeSEXPGuardConditionNilTestAndFold(t *testing.T) {
	m := ir.NewModule("m")
	f := m.NewFunction("f")
	v := f.NewVar("x", ir.TypeSEXP, false)
	nilValue := m.Global("R_NilValue", ir.TypeSEXP)
	entry := f.NewBlock("entry")
	load := entry.Load(v)
	cond := entry.ICmp(ir.PredEQ, load, nilValue)
	m.Finalize()

	gc, ok := DecodeSEXPGuardCondition(cond, nilValue)
	if !ok || !gc.TestsNil || !gc.TrueOnMatch {
		t.Fatalf("expected a TestsNil/TrueOnMatch condition, got %+v ok=%v", gc, ok)
	}

	s := NewSEXPGuardState()
	s.Set(v, SEXPGuardValue{Kind: SGNil})
	tr, fa := s.Fold(gc)
	if !tr || fa {
		t.Fatalf("expected only true branch reachable when guard known nil, got true=%v false=%v", tr, fa)
	}

	s.Set(v, SEXPGuardValue{Kind: SGNonNil})
	tr, fa = s.Fold(gc)
	if tr || !fa {
		t.Fatalf("expected only false branch reachable when guard known non-nil, got true=%v false=%v", tr, fa)
	}
}

func TestSEXPGuardRefineSymbolIdentity(t *testing.T) {
	m := ir.NewModule("m")
	f := m.NewFunction("f")
	v := f.NewVar("x", ir.TypeSEXP, false)
	entry := f.NewBlock("entry")
	load := entry.Load(v)
	cond := entry.ICmp(ir.PredEQ, load, ir.ConstSym{Name: "dim"})
	m.Finalize()

	gc, ok := DecodeSEXPGuardCondition(cond, nil)
	if !ok || gc.TestsNil || gc.SymbolName != "dim" {
		t.Fatalf("expected a symbol-identity condition on 'dim', got %+v ok=%v", gc, ok)
	}

	s := NewSEXPGuardState()
	s.Refine(gc, true)
	val, ok := s.Get(v)
	if !ok || val.Kind != SGSymbol || val.SymbolName != "dim" {
		t.Fatalf("taking the matching branch should learn Symbol(dim), got %+v ok=%v", val, ok)
	}

	s2 := NewSEXPGuardState()
	s2.Refine(gc, false)
	if _, ok := s2.Get(v); ok {
		t.Fatalf("a failed symbol-identity test carries no positive information and should not set a value")
	}
}
