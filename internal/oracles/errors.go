package oracles

import "github.com/oss-sast/rchk-go/internal/ir"

// neverReturn lists the well-known R API entry points that always
// longjmp out rather than returning to their caller, the seed set
// error-path detection starts from.
var neverReturn = map[string]bool{
	"Rf_error":          true,
	"error":             true,
	"Rf_errorcall":      true,
	"errorcall":         true,
	"Rf_PrintWarning":   false, // warns but returns; kept explicit so it's not mistaken for an omission
	"UNIMPLEMENTED":     true,
	"UNIMPLEMENTED_TYPE": true,
	"Rf_UNIMPLEMENTED_TYPE": true,
	"longjmp":           true,
	"Rf_jump_to_toplevel": true,
	"exit":              true,
	"abort":             true,
}

// ErrorPathInfo is the reference ErrorInfo oracle: a function never
// returns if it's in the hard-coded table above, and a basic block is
// an error-path block if every predecessor edge into it is reachable
// only through a call to a never-returning function, computed as a
// simple forward propagation over the CFG (a block inherits
// error-path status from a dominating never-return call, not from
// general reachability, so a block also reachable on some ordinary
// path is not misclassified).
type ErrorPathInfo struct {
	extra    map[string]bool
	errorBBs map[*ir.BasicBlock]bool
}

// NewErrorPathInfo builds an oracle seeded with the built-in table.
// Additional application-specific never-return wrappers (a package's
// own `stop_with_message`-style helper, say) can be added via
// MarkNeverReturns before Analyze is called.
func NewErrorPathInfo() *ErrorPathInfo {
	return &ErrorPathInfo{extra: map[string]bool{}}
}

// MarkNeverReturns registers an additional function name as never
// returning.
func (e *ErrorPathInfo) MarkNeverReturns(fn string) {
	e.extra[fn] = true
}

// NeverReturns implements ErrorInfo.
func (e *ErrorPathInfo) NeverReturns(fn string) bool {
	if v, ok := neverReturn[fn]; ok {
		return v
	}
	return e.extra[fn]
}

// Analyze computes which basic blocks of f are error-only: a block is
// error-only if it is unreachable from the entry once every call to a
// never-returning function is treated as a terminator (its block's
// fallthrough successors are dropped). Must be called once per
// function before IsErrorPathBlock queries it; results are cached
// per-function.
func (e *ErrorPathInfo) Analyze(f *ir.Function) {
	if e.errorBBs == nil {
		e.errorBBs = map[*ir.BasicBlock]bool{}
	}
	reachable := map[*ir.BasicBlock]bool{}
	var walk func(b *ir.BasicBlock)
	walk = func(b *ir.BasicBlock) {
		if b == nil || reachable[b] {
			return
		}
		reachable[b] = true
		for _, in := range b.Instrs {
			if in.Op == ir.OpCall && e.NeverReturns(in.Callee) {
				return // fallthrough successors of this block are unreachable through this path
			}
		}
		for _, s := range b.Succs {
			walk(s)
		}
	}
	walk(f.Entry)
	for _, b := range f.Blocks {
		if !reachable[b] {
			e.errorBBs[b] = true
		}
	}
}

// IsErrorPathBlock implements ErrorInfo. Analyze must have been
// called on bb's function first; an un-analyzed block is
// conservatively reported as not error-only.
func (e *ErrorPathInfo) IsErrorPathBlock(bb *ir.BasicBlock) bool {
	return e.errorBBs[bb]
}
