package engine

import "github.com/oss-sast/rchk-go/internal/ir"

// IntGuardValue is the three-valued abstraction guards.h keeps for an
// int-typed local used to gate a PROTECT/UNPROTECT-affecting branch:
// known zero, known non-zero, or unknown. Distinct from CountState,
// which tracks the *protection counter* rather than an arbitrary
// guard variable.
type IntGuardValue int

const (
	IGUnknown IntGuardValue = iota
	IGZero
	IGNonZero
)

func (v IntGuardValue) String() string {
	switch v {
	case IGZero:
		return "zero"
	case IGNonZero:
		return "nonzero"
	default:
		return "unknown"
	}
}

// Negate returns the guard value implied by taking the opposite
// branch of a "== 0" / "!= 0" test.
func (v IntGuardValue) Negate() IntGuardValue {
	switch v {
	case IGZero:
		return IGNonZero
	case IGNonZero:
		return IGZero
	default:
		return IGUnknown
	}
}

// IntGuardState maps int-typed locals recognized as guard variables to
// their current abstract value. A nil/absent entry means "not tracked
// as a guard" (either not an int, or its value is not currently
// known), distinguished from IGUnknown ("tracked, but the current
// value truly could be either").
type IntGuardState struct {
	vals map[*ir.Var]IntGuardValue
}

func NewIntGuardState() IntGuardState {
	return IntGuardState{vals: map[*ir.Var]IntGuardValue{}}
}

// Clone returns an independent copy for exploring a second successor.
func (s IntGuardState) Clone() IntGuardState {
	c := make(map[*ir.Var]IntGuardValue, len(s.vals))
	for k, v := range s.vals {
		c[k] = v
	}
	return IntGuardState{vals: c}
}

// Get reports v's tracked guard value, or (IGUnknown, false) if v is
// not currently tracked at all.
func (s IntGuardState) Get(v *ir.Var) (IntGuardValue, bool) {
	val, ok := s.vals[v]
	return val, ok
}

// Set records that v currently holds val.
func (s IntGuardState) Set(v *ir.Var, val IntGuardValue) { s.vals[v] = val }

// Forget stops tracking v, used when a non-constant value is stored
// into it.
func (s IntGuardState) Forget(v *ir.Var) { delete(s.vals, v) }

// Equal reports structural equality between two guard states.
func (s IntGuardState) Equal(o IntGuardState) bool {
	if len(s.vals) != len(o.vals) {
		return false
	}
	for k, v := range s.vals {
		if ov, ok := o.vals[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// HandleStore updates the int-guard state for a store instruction:
// a constant store sets an exact zero/nonzero value; a store of an
// opaque expression forgets any previously tracked value for the
// destination, since it might now hold anything.
func (s IntGuardState) HandleStore(in *ir.Instr) {
	if in.Op != ir.OpStore || in.Var == nil || in.Var.Type != ir.TypeInt {
		return
	}
	switch v := in.Val.(type) {
	case ir.ConstInt:
		if v.Val == 0 {
			s.Set(in.Var, IGZero)
		} else {
			s.Set(in.Var, IGNonZero)
		}
	default:
		s.Forget(in.Var)
	}
}

// GuardCondition describes a decoded "if (guardVar <op> 0)"-shaped
// branch condition, the only comparison shape the tracker folds.
type GuardCondition struct {
	Var         *ir.Var
	TrueIsZero  bool // true when taking the True successor implies Var == 0
	FalseIsZero bool // true when taking the False successor implies Var == 0
}

// DecodeGuardCondition recognizes "load guardVar" compared against
// the constant 0 by == or !=, the shape a Br's condition takes when
// gating on an int guard. Returns ok=false for anything else,
// including comparisons against non-zero constants (guards.h's
// lattice only distinguishes zero from non-zero).
func DecodeGuardCondition(cond *ir.Instr) (GuardCondition, bool) {
	if cond == nil || cond.Op != ir.OpICmp {
		return GuardCondition{}, false
	}
	if cond.Pred != ir.PredEQ && cond.Pred != ir.PredNE {
		return GuardCondition{}, false
	}
	load, isLoad := cond.X.(*ir.Instr)
	other := cond.Y
	if !isLoad || load.Op != ir.OpLoad {
		load, isLoad = cond.Y.(*ir.Instr)
		other = cond.X
		if !isLoad || load.Op != ir.OpLoad {
			return GuardCondition{}, false
		}
	}
	c, ok := other.(ir.ConstInt)
	if !ok || c.Val != 0 || load.Var == nil || load.Var.Type != ir.TypeInt {
		return GuardCondition{}, false
	}
	trueIsZero := cond.Pred == ir.PredEQ
	return GuardCondition{Var: load.Var, TrueIsZero: trueIsZero, FalseIsZero: !trueIsZero}, true
}

// Fold applies a decoded guard condition against the current state,
// returning which successors are actually reachable: both bits set
// means the guard's current value doesn't resolve the branch (explore
// both); only one bit set means the branch is provably one-sided.
func (s IntGuardState) Fold(gc GuardCondition) (trueReachable, falseReachable bool) {
	val, ok := s.Get(gc.Var)
	if !ok || val == IGUnknown {
		return true, true
	}
	wantZero := val == IGZero
	trueReachable = gc.TrueIsZero == wantZero
	falseReachable = gc.FalseIsZero == wantZero
	return trueReachable, falseReachable
}

// Refine narrows the guard state along a taken branch: even when Fold
// couldn't resolve the branch outright, taking one side still teaches
// the state gc.Var's value for the rest of that path — the whole
// reason a two-level refinement (guards off, then int-guards on) finds
// more bugs than balance tracking alone.
func (s IntGuardState) Refine(gc GuardCondition, tookTrue bool) {
	if tookTrue {
		if gc.TrueIsZero {
			s.Set(gc.Var, IGZero)
		} else {
			s.Set(gc.Var, IGNonZero)
		}
		return
	}
	if gc.FalseIsZero {
		s.Set(gc.Var, IGZero)
	} else {
		s.Set(gc.Var, IGNonZero)
	}
}
