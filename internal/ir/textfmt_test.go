package ir

import "testing"

func TestParseTextSimpleFunction(t *testing.T) {
	src := `
func f(x:SEXP) {
block entry:
store x = @R_NilValue
ret
}
`
	m, err := ParseText(src)
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	fn := m.FuncByName("f")
	if fn == nil {
		t.Fatalf("function f not found")
	}
	if len(fn.Params) != 1 || fn.Params[0].Name != "x" {
		t.Fatalf("unexpected params: %+v", fn.Params)
	}
	if len(fn.Blocks) != 1 {
		t.Fatalf("expected one block, got %d", len(fn.Blocks))
	}
	entry := fn.Blocks[0]
	if len(entry.Instrs) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(entry.Instrs))
	}
	store := entry.Instrs[0]
	if store.Op != OpStore || store.Var != fn.Params[0] {
		t.Fatalf("expected store to x, got %+v", store)
	}
	g, ok := store.Val.(*Global)
	if !ok || g.Name != "R_NilValue" {
		t.Fatalf("expected store of R_NilValue global, got %#v", store.Val)
	}
	if !entry.Term().IsTerminator() || entry.Term().Op != OpRet {
		t.Fatalf("expected terminator ret, got %+v", entry.Term())
	}
}

func TestParseTextCallAndBranch(t *testing.T) {
	src := `
func g(n:int) {
var v:SEXP
block entry:
v0 = call Rf_allocVector(3, n)
store v = v0
c0 = load n
cmp = icmp eq c0, 0
condbr cmp, done, work
block work:
call PROTECT(v0)
call UNPROTECT(1)
br done
block done:
ret v0
}
`
	m, err := ParseText(src)
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	fn := m.FuncByName("g")
	if fn == nil {
		t.Fatalf("function g not found")
	}
	if len(fn.Blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(fn.Blocks))
	}
	entry := fn.Blocks[0]
	term := entry.Term()
	if term == nil || term.Op != OpBr || term.Val == nil {
		t.Fatalf("expected conditional br terminator, got %+v", term)
	}
	if term.True == nil || term.False == nil {
		t.Fatalf("expected both branch targets set")
	}
	work := fn.Blocks[1]
	if len(work.Preds) != 1 || work.Preds[0] != entry {
		t.Fatalf("expected work's only predecessor to be entry")
	}
	done := fn.Blocks[2]
	if len(done.Preds) != 2 {
		t.Fatalf("expected done to have two preds, got %d", len(done.Preds))
	}
}

func TestParseTextUnknownVarError(t *testing.T) {
	src := `
func f() {
block entry:
c0 = load missing
ret
}
`
	if _, err := ParseText(src); err == nil {
		t.Fatalf("expected error for unknown var reference")
	}
}

func TestFunctionUseLists(t *testing.T) {
	m := NewModule("m")
	f := m.NewFunction("h")
	v := f.NewVar("v", TypeSEXP, false)
	entry := f.NewBlock("entry")
	call := entry.Call("Rf_allocVector", ConstInt{Val: 3})
	entry.Store(v, call)
	load := entry.Load(v)
	entry.Ret(load)
	f.BuildUseLists()

	uses := f.Uses(call)
	if len(uses) != 1 {
		t.Fatalf("expected call to be used once, got %d", len(uses))
	}
	varUses := f.VarUses(v)
	if len(varUses) != 2 {
		t.Fatalf("expected 2 var uses (store + load), got %d", len(varUses))
	}
}
