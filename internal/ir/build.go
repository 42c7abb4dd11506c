package ir

// This file is the constructive builder API: a small fluent surface
// for assembling a Module by hand, used by the textual assembler
// (textfmt.go), the tree-sitter front end (fromsource.go), and the
// engine's own scenario tests, which are far easier to express this
// way than as parsed C source.

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{Name: name, Globals: make(map[string]*Global)}
}

// NewFunction adds and returns a new function in m.
func (m *Module) NewFunction(name string) *Function {
	f := &Function{Name: name}
	m.Functions = append(m.Functions, f)
	return f
}

// NewVar declares a local slot (or parameter, if isParam) in f.
func (f *Function) NewVar(name string, typ Type, isParam bool) *Var {
	v := &Var{ID: f.nextVarID, Name: name, Type: typ, IsParam: isParam, Func: f}
	f.nextVarID++
	f.Locals = append(f.Locals, v)
	if isParam {
		f.Params = append(f.Params, v)
	}
	return v
}

// NewBlock adds and returns a new, empty basic block. The first block
// ever added becomes f.Entry.
func (f *Function) NewBlock(name string) *BasicBlock {
	b := &BasicBlock{ID: f.nextBBID, Name: name, Func: f}
	f.nextBBID++
	f.Blocks = append(f.Blocks, b)
	if f.Entry == nil {
		f.Entry = b
	}
	return b
}

func (b *BasicBlock) append(in *Instr) *Instr {
	in.ID = b.Func.nextInstrID
	b.Func.nextInstrID++
	in.Block = b
	b.Instrs = append(b.Instrs, in)
	return in
}

// Load appends a load of v and returns it as a usable Value.
func (b *BasicBlock) Load(v *Var) *Instr {
	return b.append(&Instr{Op: OpLoad, Var: v})
}

// Store appends a store of val into v.
func (b *BasicBlock) Store(v *Var, val Value) *Instr {
	return b.append(&Instr{Op: OpStore, Var: v, Val: val})
}

// StoreGlobal appends a store of val into g, the "R_PPStackTop =
// save;" shape that a plain Store (Var-destination only) can't
// represent.
func (b *BasicBlock) StoreGlobal(g *Global, val Value) *Instr {
	return b.append(&Instr{Op: OpStore, GlobalDst: g, Val: val})
}

// Call appends a call to callee with the given arguments. The result
// is a Value regardless of whether the callee returns void; callers
// that never reference the result simply never look it up.
func (b *BasicBlock) Call(callee string, args ...Value) *Instr {
	return b.append(&Instr{Op: OpCall, Callee: callee, Args: args})
}

// Bin appends a binary operation.
func (b *BasicBlock) Bin(op string, x, y Value) *Instr {
	return b.append(&Instr{Op: OpBin, BinOp: op, X: x, Y: y})
}

// ICmp appends an integer/pointer comparison.
func (b *BasicBlock) ICmp(pred Pred, x, y Value) *Instr {
	return b.append(&Instr{Op: OpICmp, Pred: pred, X: x, Y: y})
}

// Phi appends a phi node; Incoming must line up with b.Preds once the
// CFG is wired (CondBr/Br add b's predecessors in the order they are
// called; the caller orders incoming to match).
func (b *BasicBlock) Phi(incoming ...Value) *Instr {
	return b.append(&Instr{Op: OpPhi, Incoming: incoming})
}

// Ret finalizes b with a return terminator. val may be nil for a void
// return.
func (b *BasicBlock) Ret(val Value) *Instr {
	return b.append(&Instr{Op: OpRet, Val: val})
}

// Unreachable finalizes b as dead code, used for error paths that end
// in a longjmp-style abort (Rf_error, UNIMPLEMENTED, etc.) the IR
// loader does not model any successor for.
func (b *BasicBlock) Unreachable() *Instr {
	return b.append(&Instr{Op: OpUnreachable})
}

// Br finalizes b with an unconditional jump to target.
func (b *BasicBlock) Br(target *BasicBlock) *Instr {
	in := b.append(&Instr{Op: OpBr, True: target})
	addEdge(b, target)
	return in
}

// CondBr finalizes b with a two-way conditional branch.
func (b *BasicBlock) CondBr(cond Value, ifTrue, ifFalse *BasicBlock) *Instr {
	in := b.append(&Instr{Op: OpBr, Val: cond, True: ifTrue, False: ifFalse})
	addEdge(b, ifTrue)
	addEdge(b, ifFalse)
	return in
}

func addEdge(from, to *BasicBlock) {
	from.Succs = append(from.Succs, to)
	to.Preds = append(to.Preds, from)
}

// Finalize builds the use-lists. Call once construction of every
// function in the module is complete.
func (m *Module) Finalize() {
	for _, f := range m.Functions {
		f.BuildUseLists()
	}
}
