package engine

import "github.com/oss-sast/rchk-go/internal/ir"

// RefinementLevel is a stage in the per-function precision escalation
// state machine: start cheap (no guard tracking at all, since most
// functions balance correctly without needing branch-condition
// precision), and only pay for guard tracking on the functions that
// actually produced ambiguous ("refinable") findings at a cheaper
// level.
type RefinementLevel int

const (
	GuardsOff RefinementLevel = iota
	IntGuardsOn
	SEXPGuardsOn
	Done
)

func (r RefinementLevel) String() string {
	switch r {
	case IntGuardsOn:
		return "int-guards"
	case SEXPGuardsOn:
		return "sexp-guards"
	case Done:
		return "done"
	default:
		return "guards-off"
	}
}

// intGuardsBlacklist and sexpGuardsBlacklist name functions that skip
// the corresponding guard-tracking knob during refinement regardless
// of how many refinable findings they leave on the table: R's own
// protection-stack primitives, whose bodies manipulate
// R_PPStack/R_PPStackTop directly in ways int/SEXP guard tracking does
// not model, and where escalating would only buy state-space blowup
// for no precision gain. No parser entry point is on either list.
//
// original_source/src/bcheck.cpp calls avoidIntGuardsFor and
// avoidSEXPGuardsFor to consult exactly this kind of list, but their
// definitions were not retrieved into this pack, so the contents here
// are authored rather than ported (see DESIGN.md).
var intGuardsBlacklist = map[string]bool{
	"Rf_protect":          true,
	"Rf_unprotect":        true,
	"Rf_protectWithIndex": true,
	"R_ProtectWithIndex":  true,
	"Rf_unprotect_ptr":    true,
	"R_PreserveObject":    true,
	"R_ReleaseObject":     true,
}

var sexpGuardsBlacklist = map[string]bool{
	"Rf_protect":          true,
	"Rf_unprotect":        true,
	"Rf_protectWithIndex": true,
	"R_ProtectWithIndex":  true,
}

// OnIntGuardsBlacklist reports whether fn should never have int-guard
// tracking enabled during refinement.
func OnIntGuardsBlacklist(fn string) bool { return intGuardsBlacklist[fn] }

// OnSEXPGuardsBlacklist reports whether fn should never have
// SEXP-guard tracking enabled during refinement.
func OnSEXPGuardsBlacklist(fn string) bool { return sexpGuardsBlacklist[fn] }

// RefinementResult is what CheckFunctionWithRefinement returns: the
// level the driver settled at and the FunctionResult produced there.
type RefinementResult struct {
	Level    RefinementLevel
	Function FunctionResult
}

// CheckFunctionWithRefinement runs f through the executor with both
// guard knobs off, and re-runs with one more knob turned on as long as
// the previous attempt reported refinable findings and some knob is
// still both under maxLevel and not blacklisted for f. This mirrors
// bcheck.cpp's own two-bool escalation loop (try int guards first,
// then SEXP guards, then give up) rather than stepping through a
// single ordered level, since a function's blacklist membership can
// make one knob unavailable while leaving the other one worth trying.
func CheckFunctionWithRefinement(e *Executor, f *ir.Function, maxLevel RefinementLevel) RefinementResult {
	intGuardsEnabled := false
	sexpGuardsEnabled := false
	var last FunctionResult
	for {
		last = e.CheckFunction(f, intGuardsEnabled, sexpGuardsEnabled)
		if last.RefinableInfos == 0 {
			break
		}
		switch {
		case !intGuardsEnabled && maxLevel >= IntGuardsOn && !OnIntGuardsBlacklist(f.Name):
			intGuardsEnabled = true
		case !sexpGuardsEnabled && maxLevel >= SEXPGuardsOn && !OnSEXPGuardsBlacklist(f.Name):
			sexpGuardsEnabled = true
		default:
			return RefinementResult{Level: refinementLevelFor(intGuardsEnabled, sexpGuardsEnabled), Function: last}
		}
		e.Msg.DebugMsg("re-checking "+f.Name+" with refinement "+refinementLevelFor(intGuardsEnabled, sexpGuardsEnabled).String(), f.Entry.Term())
	}
	return RefinementResult{Level: refinementLevelFor(intGuardsEnabled, sexpGuardsEnabled), Function: last}
}

func refinementLevelFor(intGuardsEnabled, sexpGuardsEnabled bool) RefinementLevel {
	switch {
	case sexpGuardsEnabled:
		return SEXPGuardsOn
	case intGuardsEnabled:
		return IntGuardsOn
	default:
		return GuardsOff
	}
}
