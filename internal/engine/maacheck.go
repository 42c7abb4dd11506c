package engine

import (
	"fmt"

	"github.com/oss-sast/rchk-go/internal/ir"
)

// ArgExpKind classifies one call-argument subexpression for the
// multiple-allocating-arguments scan: whether it is produced by an
// allocating call at all, and, if so, whether that call is a
// possible allocator (one that may hand back a freshly allocated,
// still-unprotected object, as opposed to allocating some unrelated
// internal object and returning something already rooted).
type ArgExpKind int

const (
	AKNoAlloc ArgExpKind = iota
	AKAllocating
	AKFresh
)

// maacheckOracle is the narrow slice of AllocatorInfo this scanner
// needs, named locally the same way freshness.go and matchers.go keep
// their own oracle slices narrow.
type maacheckOracle interface {
	IsAllocating(fn string) bool
	IsPossibleAllocator(fn string) bool
}

// classifyArgumentExpression reports k for a single operand that is
// not itself a phi node: an operand not immediately produced by a
// call is AKNoAlloc, one produced by a call to a non-allocating
// function is also AKNoAlloc, one produced by a call to an allocating
// function that is not known to return a fresh object is
// AKAllocating, and one produced by a call to a possible allocator is
// AKFresh.
func classifyArgumentExpression(v ir.Value, alloc maacheckOracle) ArgExpKind {
	call, ok := v.(*ir.Instr)
	if !ok || call.Op != ir.OpCall {
		return AKNoAlloc
	}
	if !alloc.IsAllocating(call.Callee) {
		return AKNoAlloc
	}
	if alloc.IsPossibleAllocator(call.Callee) {
		return AKFresh
	}
	return AKAllocating
}

// classifyOperand adds the phi-node rule on top of
// classifyArgumentExpression: an operand coming from a phi node takes
// the most dangerous kind among its incoming values, since any of
// them could be the value actually reaching this call — an
// approximation, since the specific combination of incoming values
// that produces the worst-case kind may not be reachable together,
// but the one the original tool also accepts.
func classifyOperand(v ir.Value, alloc maacheckOracle) ArgExpKind {
	phi, ok := v.(*ir.Instr)
	if !ok || phi.Op != ir.OpPhi {
		return classifyArgumentExpression(v, alloc)
	}
	best := AKNoAlloc
	for _, inc := range phi.Incoming {
		if k := classifyArgumentExpression(inc, alloc); k > best {
			best = k
		}
	}
	return best
}

// SuspiciousCall is one call site the scan flagged: a call whose
// direct arguments include two or more allocating subexpressions, at
// least one of which may return a freshly allocated object. Argument
// evaluation order is unspecified by the language, so if the
// fresh-returning one runs first and something else allocates
// afterward, the fresh object can be collected before anything
// protects it — the bug class this scanner exists to catch.
type SuspiciousCall struct {
	Caller    string
	Callee    string
	Instr     *ir.Instr
	AllocArgs int
	FreshArgs int
}

func (s SuspiciousCall) String() string {
	return fmt.Sprintf("%s:%d: suspicious call (two or more unprotected arguments) to %s",
		s.Caller, s.Instr.ID, s.Callee)
}

// ScanMultipleAllocatingArguments walks every call instruction in
// every function of mod (functions, when given, restricts the scan to
// just those) and reports each call site whose direct arguments
// include at least two allocating subexpressions and at least one
// possible-fresh-returner subexpression. Unlike the balance and
// freshness checkers, this scan does not exclude error-only blocks:
// the reference tool this is ported from never did either, since a
// suspicious argument-evaluation-order bug on an error path is just
// as real a bug as one reached any other way.
func ScanMultipleAllocatingArguments(mod *ir.Module, alloc maacheckOracle, functions map[string]bool) []SuspiciousCall {
	var out []SuspiciousCall
	for _, f := range mod.Functions {
		if functions != nil && !functions[f.Name] {
			continue
		}
		for _, b := range f.Blocks {
			for _, in := range b.Instrs {
				if in.Op != ir.OpCall {
					continue
				}
				nAlloc, nFresh := 0, 0
				for _, arg := range in.Args {
					switch k := classifyOperand(arg, alloc); {
					case k >= AKFresh:
						nAlloc++
						nFresh++
					case k >= AKAllocating:
						nAlloc++
					}
				}
				if nAlloc >= 2 && nFresh >= 1 {
					out = append(out, SuspiciousCall{
						Caller: f.Name, Callee: in.Callee, Instr: in,
						AllocArgs: nAlloc, FreshArgs: nFresh,
					})
				}
			}
		}
	}
	return out
}
