package ir

// Op identifies what kind of instruction an *Instr is. A single
// struct type covers every op the checker cares about; only the
// fields relevant to that Op are populated, the way LLVM's own
// Instruction subclasses each read a different slice of a common
// operand list.
type Op int

const (
	OpLoad Op = iota
	OpStore
	OpCall
	OpBin
	OpICmp
	OpPhi
	OpRet
	OpBr
	OpUnreachable
	OpOpaque // unmodeled construct; the engine emits a trace note for it and does not mark the state confused
)

func (op Op) String() string {
	switch op {
	case OpLoad:
		return "load"
	case OpStore:
		return "store"
	case OpCall:
		return "call"
	case OpBin:
		return "bin"
	case OpICmp:
		return "icmp"
	case OpPhi:
		return "phi"
	case OpRet:
		return "ret"
	case OpBr:
		return "br"
	case OpUnreachable:
		return "unreachable"
	default:
		return "opaque"
	}
}

// Instr is both a statement inside a BasicBlock and, for the ops that
// produce a result (Load, Call, Bin, ICmp, Phi), a Value other
// instructions can reference as an operand.
type Instr struct {
	ID    int
	Op    Op
	Block *BasicBlock

	// OpLoad, OpStore: the variable read or written.
	Var *Var

	// OpStore: when set, the store targets this global instead of
	// Var (e.g. `R_PPStackTop = save;`). Var and GlobalDst are never
	// both set on the same instruction.
	GlobalDst *Global

	// OpStore: source value. OpRet: return value (nil for a void
	// return). OpBr conditional form: the branch condition.
	Val Value

	// OpCall: callee name and argument list. A call that itself
	// yields a value (e.g. `x = allocVector(...)`) is used as a Value
	// directly; a call used only for effect is left unreferenced.
	Callee string
	Args   []Value

	// OpBin: arithmetic/logical operator ("+", "-", "&&", ...), operands.
	BinOp string
	X, Y  Value

	// OpICmp: comparison predicate, operands.
	Pred Pred

	// OpPhi: one incoming value per predecessor, in the order of
	// Block.Preds.
	Incoming []Value

	// OpBr: unconditional target when Val == nil, otherwise the two
	// successors for true/false.
	True, False *BasicBlock
}

func (i *Instr) isValue() {}

// IsTerminator reports whether i ends its block.
func (i *Instr) IsTerminator() bool {
	switch i.Op {
	case OpRet, OpBr, OpUnreachable:
		return true
	default:
		return false
	}
}

// BasicBlock is a straight-line sequence of instructions ending in a
// single terminator (Ret, Br, or Unreachable).
type BasicBlock struct {
	ID     int
	Name   string
	Func   *Function
	Instrs []*Instr // last element is always the terminator once the block is finalized

	Preds []*BasicBlock
	Succs []*BasicBlock
}

// Term returns the block's terminator instruction, or nil if the
// block has not been finalized with one yet.
func (b *BasicBlock) Term() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	last := b.Instrs[len(b.Instrs)-1]
	if last.IsTerminator() {
		return last
	}
	return nil
}

// Function is one analyzable unit: a name, its parameters (also
// present in Locals), every local slot, and the basic blocks forming
// its CFG rooted at Entry.
type Function struct {
	Name   string
	Params []*Var
	Locals []*Var
	Blocks []*BasicBlock
	Entry  *BasicBlock

	nextVarID   int
	nextInstrID int
	nextBBID    int

	uses map[Value][]*Instr
}

// Module is a whole translation unit: every function defined in it
// plus the globals they may reference.
type Module struct {
	Name      string
	Functions []*Function
	Globals   map[string]*Global
}

// FuncByName returns the function with the given name, or nil.
func (m *Module) FuncByName(name string) *Function {
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Global looks up or lazily creates a module-level global by name.
// R_NilValue, R_GlobalEnv and similar constant SEXPs are represented
// this way rather than as a distinct constant kind, since the checker
// only ever needs to compare a Value's identity against them.
func (m *Module) Global(name string, typ Type) *Global {
	if m.Globals == nil {
		m.Globals = make(map[string]*Global)
	}
	if g, ok := m.Globals[name]; ok {
		return g
	}
	g := &Global{Name: name, Type: typ}
	m.Globals[name] = g
	return g
}

// BuildUseLists populates the function's use-list so that Uses(v) can
// answer "which instructions read this value" in O(1) afterward. The
// balance and freshness trackers repeatedly need this shape of query
// (e.g. "does x have a store recorded among its uses"), so it is
// built once per function rather than searched linearly each time.
func (f *Function) BuildUseLists() {
	f.uses = make(map[Value][]*Instr)
	record := func(v Value, user *Instr) {
		if v == nil {
			return
		}
		f.uses[v] = append(f.uses[v], user)
	}
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			switch in.Op {
			case OpStore:
				record(in.Val, in)
			case OpCall:
				for _, a := range in.Args {
					record(a, in)
				}
			case OpBin:
				record(in.X, in)
				record(in.Y, in)
			case OpICmp:
				record(in.X, in)
				record(in.Y, in)
			case OpPhi:
				for _, v := range in.Incoming {
					record(v, in)
				}
			case OpRet:
				record(in.Val, in)
			case OpBr:
				record(in.Val, in)
			}
		}
	}
}

// Uses returns every instruction that reads v as an operand. Requires
// BuildUseLists to have been called after construction is finished.
func (f *Function) Uses(v Value) []*Instr {
	return f.uses[v]
}

// VarUses returns every Load/Store instruction touching a Var
// directly, the shape most of the pattern matchers in
// internal/engine actually want ("all the places this local is
// mentioned"), rather than the value-level use-list above.
func (f *Function) VarUses(v *Var) []*Instr {
	var out []*Instr
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if (in.Op == OpLoad || in.Op == OpStore) && in.Var == v {
				out = append(out, in)
			}
		}
	}
	return out
}
