// Package oracles defines the read-only queries the checking engine
// consumes but never computes itself: which functions allocate, which
// basic blocks are error-only, which callees are known to protect an
// argument SEXP for the caller, and the whole-program symbol table.
// These are small, pure Go interfaces the engine takes as constructor
// arguments, so a caller can substitute a smarter oracle without
// touching the executor.
package oracles

import "github.com/oss-sast/rchk-go/internal/ir"

// AllocatorInfo answers whether a callee may allocate a fresh SEXP,
// possibly returning it, so the freshness tracker knows when a call
// result needs to enter the fresh-variable set.
type AllocatorInfo interface {
	// IsAllocating reports whether calling fn may trigger a garbage
	// collection (directly or transitively), the trigger for
	// PROTECT-discipline checking in the first place.
	IsAllocating(fn string) bool
	// IsPossibleAllocator reports whether fn may itself allocate and
	// return a freshly allocated SEXP (as opposed to allocating some
	// unrelated internal object and returning an existing one).
	IsPossibleAllocator(fn string) bool
}

// ErrorInfo identifies functions and basic blocks that only run on an
// error path (R_NilValue-returning Rf_error wrappers, UNIMPLEMENTED
// stubs and the like) so the checker can choose to suppress or lower
// the severity of diagnostics reached only through them.
type ErrorInfo interface {
	// NeverReturns reports whether fn always longjmps out (Rf_error,
	// Rf_errorcall, error, UNIMPLEMENTED_TYPE, ...), so a call to it
	// is treated like a terminator rather than falling through.
	NeverReturns(fn string) bool
	// IsErrorPathBlock reports whether bb is reachable only via a
	// call to a NeverReturns function or an error-marked predecessor.
	IsErrorPathBlock(bb *ir.BasicBlock) bool
}

// CalleeProtectInfo answers whether a call to fn is known to protect
// (or take over ownership of) one of its SEXP arguments on the
// caller's behalf, so passing an unprotected fresh SEXP to it is not
// itself a bug (e.g. R_PreserveObject via a wrapper, or a callback
// registered as protecting its own argument).
type CalleeProtectInfo interface {
	// ProtectsArgument reports whether calling fn is known to protect
	// its argIndex'th argument for the duration of the call and
	// beyond, exempting it from "passed while unprotected" reports.
	ProtectsArgument(fn string, argIndex int) bool
}

// SymbolInfo resolves a compile-time symbol name (e.g. the operand
// of install("dim")) to the well-known R symbols the SEXP-guard
// tracker recognizes by name (R_DimSymbol, R_NamesSymbol, ...).
type SymbolInfo interface {
	// WellKnownSymbol reports whether name is one of the fixed,
	// interpreter-defined symbols the guard tracker treats specially
	// (as opposed to an arbitrary user-level symbol name).
	WellKnownSymbol(name string) bool
}

// LivenessOracle answers whether a variable is (possibly, or
// definitely) read again along some/every path from a program point,
// the information the freshness tracker's deferred-message flush
// relies on: flush on definite future liveness, discard on definite
// death.
type LivenessOracle interface {
	// PossiblyLiveAfter reports whether v may be read on some path
	// starting after instruction at.
	PossiblyLiveAfter(v *ir.Var, at *ir.Instr) bool
	// DefinitelyDeadAfter reports whether v is guaranteed not to be
	// read on any path starting after instruction at.
	DefinitelyDeadAfter(v *ir.Var, at *ir.Instr) bool
}
