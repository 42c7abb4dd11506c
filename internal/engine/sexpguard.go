package engine

import "github.com/oss-sast/rchk-go/internal/ir"

// SEXPGuardKind is guards.h's four-valued SEXP-guard lattice: a SEXP
// local used to gate a branch can be known to hold R_NilValue, a
// specific named symbol, some known-non-nil value, or be unknown.
type SEXPGuardKind int

const (
	SGUnknown SEXPGuardKind = iota
	SGNil
	SGSymbol
	SGNonNil
)

func (k SEXPGuardKind) String() string {
	switch k {
	case SGNil:
		return "nil"
	case SGSymbol:
		return "symbol"
	case SGNonNil:
		return "nonnil"
	default:
		return "unknown"
	}
}

// SEXPGuardValue is one lattice element: a kind plus the symbol name
// when Kind == SGSymbol.
type SEXPGuardValue struct {
	Kind       SEXPGuardKind
	SymbolName string
}

// Negate returns the value implied by the opposite branch of an
// isNull(x)-shaped test: nil negates to non-nil and vice versa; a
// symbol identity test's negation carries no positive information
// (the variable could be R_NilValue or any other symbol), so it
// widens to Unknown, mirroring guards.h's own conservative choice
// there.
func (v SEXPGuardValue) Negate() SEXPGuardValue {
	switch v.Kind {
	case SGNil:
		return SEXPGuardValue{Kind: SGNonNil}
	case SGNonNil:
		return SEXPGuardValue{Kind: SGNil}
	default:
		return SEXPGuardValue{Kind: SGUnknown}
	}
}

// SEXPGuardState tracks SEXP-typed locals recognized as guard
// variables, the same shape as IntGuardState but over the richer
// four-valued lattice above.
type SEXPGuardState struct {
	vals map[*ir.Var]SEXPGuardValue
}

func NewSEXPGuardState() SEXPGuardState {
	return SEXPGuardState{vals: map[*ir.Var]SEXPGuardValue{}}
}

func (s SEXPGuardState) Clone() SEXPGuardState {
	c := make(map[*ir.Var]SEXPGuardValue, len(s.vals))
	for k, v := range s.vals {
		c[k] = v
	}
	return SEXPGuardState{vals: c}
}

func (s SEXPGuardState) Get(v *ir.Var) (SEXPGuardValue, bool) {
	val, ok := s.vals[v]
	return val, ok
}

func (s SEXPGuardState) Set(v *ir.Var, val SEXPGuardValue) { s.vals[v] = val }

func (s SEXPGuardState) Forget(v *ir.Var) { delete(s.vals, v) }

func (s SEXPGuardState) Equal(o SEXPGuardState) bool {
	if len(s.vals) != len(o.vals) {
		return false
	}
	for k, v := range s.vals {
		ov, ok := o.vals[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// HandleStore updates the SEXP-guard state for a store to a
// SEXP-typed local: storing the R_NilValue global marks it Nil,
// storing a ConstSym marks it Symbol, storing the result of an
// allocating call marks it NonNil (a freshly allocated object is
// never R_NilValue itself), anything else forgets the prior value.
func (s SEXPGuardState) HandleStore(in *ir.Instr, nilValue *ir.Global, alloc AllocatingOracle) {
	if in.Op != ir.OpStore || in.Var == nil || in.Var.Type != ir.TypeSEXP {
		return
	}
	switch v := in.Val.(type) {
	case *ir.Global:
		if v == nilValue {
			s.Set(in.Var, SEXPGuardValue{Kind: SGNil})
		} else {
			s.Forget(in.Var)
		}
	case ir.ConstSym:
		s.Set(in.Var, SEXPGuardValue{Kind: SGSymbol, SymbolName: v.Name})
	case *ir.Instr:
		if v.Op == ir.OpCall && alloc != nil && alloc.IsPossibleAllocator(v.Callee) {
			s.Set(in.Var, SEXPGuardValue{Kind: SGNonNil})
			return
		}
		s.Forget(in.Var)
	default:
		s.Forget(in.Var)
	}
}

// SEXPGuardCondition describes a decoded branch condition over a
// SEXP-typed guard: either an isNull()-shaped nil test, or an
// install(name)-identity-shaped symbol test.
type SEXPGuardCondition struct {
	Var         *ir.Var
	TestsNil    bool
	SymbolName  string // meaningful only when !TestsNil
	TrueOnMatch bool   // true when the True successor is taken when the test succeeds
}

// DecodeSEXPGuardCondition recognizes "load guardVar" compared by ==
// or != against either the R_NilValue global (a nil test) or a
// ConstSym (a symbol-identity test). A comparison against another
// variable is not recognized.
func DecodeSEXPGuardCondition(cond *ir.Instr, nilValue *ir.Global) (SEXPGuardCondition, bool) {
	if cond == nil || cond.Op != ir.OpICmp {
		return SEXPGuardCondition{}, false
	}
	if cond.Pred != ir.PredEQ && cond.Pred != ir.PredNE {
		return SEXPGuardCondition{}, false
	}
	load, isLoad := cond.X.(*ir.Instr)
	other := cond.Y
	if !isLoad || load.Op != ir.OpLoad {
		load, isLoad = cond.Y.(*ir.Instr)
		other = cond.X
		if !isLoad || load.Op != ir.OpLoad {
			return SEXPGuardCondition{}, false
		}
	}
	if load.Var == nil || load.Var.Type != ir.TypeSEXP {
		return SEXPGuardCondition{}, false
	}
	trueOnMatch := cond.Pred == ir.PredEQ
	switch o := other.(type) {
	case *ir.Global:
		if o != nilValue {
			return SEXPGuardCondition{}, false
		}
		return SEXPGuardCondition{Var: load.Var, TestsNil: true, TrueOnMatch: trueOnMatch}, true
	case ir.ConstSym:
		return SEXPGuardCondition{Var: load.Var, TestsNil: false, SymbolName: o.Name, TrueOnMatch: trueOnMatch}, true
	default:
		return SEXPGuardCondition{}, false
	}
}

// Fold reports which successors of a decoded SEXP guard condition are
// reachable given the state's current knowledge of the guard
// variable.
func (s SEXPGuardState) Fold(gc SEXPGuardCondition) (trueReachable, falseReachable bool) {
	val, ok := s.Get(gc.Var)
	if !ok || val.Kind == SGUnknown {
		return true, true
	}
	var matches bool
	if gc.TestsNil {
		matches = val.Kind == SGNil
		if val.Kind == SGNonNil {
			matches = false
		} else if val.Kind == SGSymbol {
			matches = false
		}
	} else {
		matches = val.Kind == SGSymbol && val.SymbolName == gc.SymbolName
	}
	if gc.TrueOnMatch {
		return matches, !matches
	}
	return !matches, matches
}

// Refine narrows the guard state along a taken branch.
func (s SEXPGuardState) Refine(gc SEXPGuardCondition, tookTrue bool) {
	matched := tookTrue == gc.TrueOnMatch
	if gc.TestsNil {
		if matched {
			s.Set(gc.Var, SEXPGuardValue{Kind: SGNil})
		} else {
			s.Set(gc.Var, SEXPGuardValue{Kind: SGNonNil})
		}
		return
	}
	if matched {
		s.Set(gc.Var, SEXPGuardValue{Kind: SGSymbol, SymbolName: gc.SymbolName})
	}
	// a failed symbol-identity test carries no positive information
}
