package engine

import "github.com/oss-sast/rchk-go/internal/ir"

// matchers.go collects the small call/store-shape recognizers shared
// between the balance and freshness trackers, split out so the
// handful of PROTECT/UNPROTECT/allocation pattern checks each tracker
// needs live once instead of being duplicated in each.

// IsProtectingCall reports whether in is a call to PROTECT,
// PROTECT_WITH_INDEX, or REPROTECT — the calls that push (or refresh)
// an entry on R's protection stack.
func IsProtectingCall(in *ir.Instr) bool {
	if in == nil || in.Op != ir.OpCall {
		return false
	}
	switch in.Callee {
	case FnProtect, FnProtectWithIndex, FnReprotect:
		return true
	default:
		return false
	}
}

// IsUnprotectingCall reports whether in is a call to UNPROTECT or
// UNPROTECT_PTR.
func IsUnprotectingCall(in *ir.Instr) bool {
	if in == nil || in.Op != ir.OpCall {
		return false
	}
	return in.Callee == FnUnprotect || in.Callee == FnUnprotectPtr
}

// ProtectedOperand returns the SEXP value a PROTECT/PROTECT_WITH_INDEX/
// REPROTECT call protects: its first argument.
func ProtectedOperand(in *ir.Instr) (ir.Value, bool) {
	if !IsProtectingCall(in) || len(in.Args) == 0 {
		return nil, false
	}
	return in.Args[0], true
}

// StoreOfProtectingCall recognizes "x = PROTECT(e)": a Store whose
// source value is itself a PROTECT/REPROTECT call instruction, the
// commonest shape a fresh SEXP gets marked protected in.
func StoreOfProtectingCall(store *ir.Instr) (call *ir.Instr, ok bool) {
	if store == nil || store.Op != ir.OpStore {
		return nil, false
	}
	call, ok = store.Val.(*ir.Instr)
	if !ok || !IsProtectingCall(call) {
		return nil, false
	}
	return call, true
}

// IsPreserveCall reports a call to R_PreserveObject, the
// non-stack-based, permanent protection mechanism.
func IsPreserveCall(in *ir.Instr) bool {
	return in != nil && in.Op == ir.OpCall && in.Callee == FnPreserveObject
}

// IsReleaseCall reports a call to R_ReleaseObject, undoing
// R_PreserveObject.
func IsReleaseCall(in *ir.Instr) bool {
	return in != nil && in.Op == ir.OpCall && in.Callee == FnReleaseObject
}

// CalleeOracle is the subset of oracles.CalleeProtectInfo the
// matchers need, kept narrow so this file doesn't import the oracles
// package just for one method's shape.
type CalleeOracle interface {
	ProtectsArgument(fn string, argIndex int) bool
}

// ArgumentIsProtectedByCall reports whether calling in protects its
// argIndex-th operand for the remainder of the call, per protects.
// Used to avoid flagging "container[i] = freshValue" as unprotected
// when the container setter itself is known to protect its element
// argument (or the container is already protected and takes
// ownership, modeled the same way).
func ArgumentIsProtectedByCall(protects CalleeOracle, in *ir.Instr, argIndex int) bool {
	if in == nil || in.Op != ir.OpCall || argIndex >= len(in.Args) {
		return false
	}
	return protects.ProtectsArgument(in.Callee, argIndex)
}

// storedVarAmongUses searches v's users for a Store whose destination
// is a local variable, the shape both "PROTECT(v = expr)" (v searched
// among expr's uses) and "v = PROTECT(expr)" (v searched among the
// PROTECT call's own uses) reduce to.
func storedVarAmongUses(f *ir.Function, v ir.Value) (*ir.Var, bool) {
	for _, use := range f.Uses(v) {
		if use.Op == ir.OpStore && use.Var != nil {
			return use.Var, true
		}
	}
	return nil, false
}

// ResolveProtectedVar resolves the local variable a call that roots
// its first argument roots (PROTECT, PROTECT_WITH_INDEX, REPROTECT,
// R_PreserveObject), trying each of the three shapes rchk's
// getPROTECTedVar recognizes, in priority order:
//
//  1. PROTECT(v)       — the argument is itself a load of v.
//  2. PROTECT(v = e)   — v is stored from the argument's value.
//  3. v = PROTECT(e)   — v is stored from the call's own result.
//
// Returns ok=false for a bare "PROTECT(f())" with no assignment
// anywhere, which pushes an anonymous entry on the protect stack.
func ResolveProtectedVar(in *ir.Instr, f *ir.Function) (*ir.Var, bool) {
	if in == nil || in.Op != ir.OpCall || len(in.Args) == 0 {
		return nil, false
	}
	arg := in.Args[0]
	if load, isInstr := arg.(*ir.Instr); isInstr && load.Op == ir.OpLoad && load.Var != nil {
		return load.Var, true
	}
	if v, ok := storedVarAmongUses(f, arg); ok {
		return v, true
	}
	if v, ok := storedVarAmongUses(f, ir.Value(in)); ok {
		return v, true
	}
	return nil, false
}

// argPosition returns the index at which val appears among in's call
// arguments, or -1 if it isn't one.
func argPosition(in *ir.Instr, val ir.Value) int {
	if in == nil {
		return -1
	}
	for i, a := range in.Args {
		if a == val {
			return i
		}
	}
	return -1
}

// knownSetterFunctions are R's in-place attribute/slot setters:
// common.cpp's isSetterFunction list. A fresh value loaded only to be
// passed as the second-or-later argument to one of these, whose first
// argument is some already-live container, is considered rooted by
// that container rather than left dangling.
var knownSetterFunctions = map[string]bool{
	"Rf_setAttrib":       true,
	"Rf_namesgets":       true,
	"Rf_dimnamesgets":    true,
	"Rf_dimgets":         true,
	"Rf_classgets":       true,
	"SET_ATTRIB":         true,
	"SET_STRING_ELT":     true,
	"SET_VECTOR_ELT":     true,
	"SET_TAG":            true,
	"SETCAR":             true,
	"SETCDR":             true,
	"SETCADR":            true,
	"SETCADDR":           true,
	"SETCADDDR":          true,
	"SETCAD4R":           true,
	"SET_FORMALS":        true,
	"SET_BODY":           true,
	"SET_CLOENV":         true,
	"R_set_altrep_data1": true,
	"R_set_altrep_data2": true,
}

// IsSetterFunction reports whether fn is one of R's in-place
// attribute/slot setters.
func IsSetterFunction(fn string) bool {
	return knownSetterFunctions[fn]
}

// AllocatingOracle is the subset of oracles.AllocatorInfo the
// freshness tracker needs: IsAllocating for "may itself trigger a
// collection" (the GC-risk question asked of every call in a
// function), and IsPossibleAllocator for "may hand back a freshly
// allocated, still-unprotected SEXP" (the question asked only of a
// call whose result is about to be watched).
type AllocatingOracle interface {
	IsAllocating(fn string) bool
	IsPossibleAllocator(fn string) bool
}

// ResultIsFreshAllocation reports whether call's result is a freshly
// allocated SEXP (per alloc) and therefore begins life unprotected —
// the starting condition the freshness tracker looks for on every
// call assigned to a SEXP-typed variable. This asks IsPossibleAllocator,
// not IsAllocating: a call can trigger a collection (IsAllocating)
// without itself returning a fresh object (e.g. one that only reads an
// existing binding), and the reverse distinction is exactly what
// separates "this call might collect my other variables" from "this
// call's own result needs watching".
func ResultIsFreshAllocation(alloc AllocatingOracle, call *ir.Instr) bool {
	return call != nil && call.Op == ir.OpCall && alloc.IsPossibleAllocator(call.Callee)
}
