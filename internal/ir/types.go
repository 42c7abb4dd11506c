// Package ir holds the tool's own LLVM-inspired intermediate
// representation: functions built from basic blocks of instructions,
// values that instructions produce and consume, and a handful of
// helpers (use-lists, a constructive builder, a tree-sitter based C
// front end, and a textual assembler) for getting a Module built.
//
// The shape deliberately follows LLVM's "instruction is a value"
// model: *Instr both appears as a statement in a block and can be
// used as an operand of a later instruction.
package ir

// Type is a coarse classification of a Var or Value, just precise
// enough for the sub-analyses to decide which lattice a variable
// participates in.
type Type int

const (
	TypeOther Type = iota
	TypeSEXP       // R's SEXP: candidate for freshness / SEXP-guard tracking
	TypeInt        // plain C int/unsigned: candidate for balance-counter / int-guard tracking
)

func (t Type) String() string {
	switch t {
	case TypeSEXP:
		return "SEXP"
	case TypeInt:
		return "int"
	default:
		return "other"
	}
}

// Value is anything an instruction operand can refer to: another
// instruction's result, a constant, a global, or a directly-read
// parameter/local slot via a Load.
type Value interface {
	isValue()
}

// Var is a named local storage slot (an "alloca"): a source-level
// local variable or function parameter. Reading it requires a Load
// instruction; writing it requires a Store instruction, matching the
// clang -O0 style IR that the sub-analyses are written against.
type Var struct {
	ID      int
	Name    string
	Type    Type
	IsParam bool
	Func    *Function
}

// Global is a module-level symbol referenced by name: R_NilValue,
// R_GlobalEnv, R_PPStackTop, and similar. Globals are read/written
// directly as values, without the Load/Store indirection Vars need,
// since the checker never needs to reason about their address.
type Global struct {
	Name string
	Type Type
}

func (g *Global) isValue() {}

// ConstInt is a compile-time-known integer constant, most often 0 or
// a small literal passed to UNPROTECT(n) or compared against a guard.
type ConstInt struct {
	Val int64
}

func (ConstInt) isValue() {}

// ConstSym is a compile-time-known R symbol name, e.g. from
// install("dim") or a literal R_DimSymbol style reference, used by the
// SEXP-guard tracker's SYMBOL(name) state.
type ConstSym struct {
	Name string
}

func (ConstSym) isValue() {}

// Pred is a comparison predicate used by an ICmp instruction.
type Pred int

const (
	PredEQ Pred = iota
	PredNE
	PredLT
	PredLE
	PredGT
	PredGE
)

func (p Pred) String() string {
	switch p {
	case PredEQ:
		return "eq"
	case PredNE:
		return "ne"
	case PredLT:
		return "lt"
	case PredLE:
		return "le"
	case PredGT:
		return "gt"
	case PredGE:
		return "ge"
	default:
		return "?"
	}
}

// Negate returns the predicate for the logical negation of a
// comparison, used when following the "false" edge of a conditional
// branch guarded by an ICmp.
func (p Pred) Negate() Pred {
	switch p {
	case PredEQ:
		return PredNE
	case PredNE:
		return PredEQ
	case PredLT:
		return PredGE
	case PredLE:
		return PredGT
	case PredGT:
		return PredLE
	case PredGE:
		return PredLT
	default:
		return p
	}
}
