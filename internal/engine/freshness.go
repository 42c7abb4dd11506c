package engine

import (
	"github.com/oss-sast/rchk-go/internal/ir"
	"github.com/oss-sast/rchk-go/internal/report"
)

// MaxPStackSize bounds the protect stack the freshness tracker
// simulates, mirroring R's own R_PPStack: PROTECT pushing past this
// point is itself the bug (a real stack overflow), not a precision
// limit, so it gets its own finding kind rather than being folded
// into the generic confused/imprecise path.
const MaxPStackSize = 64

// freshEntry is the per-variable bookkeeping the freshness tracker
// keeps while a SEXP local is being watched: createdAt records the
// allocating call that made it fresh (nil once re-freshened by an
// UNPROTECT rather than a fresh allocation), count is its protectCount
// — how many entries on the simulated protect stack currently point at
// it — and pending is the buffered "might have been collected"
// diagnostics accumulated against it since it was last definitely
// safe, one per allocating call that has happened while count was 0.
type freshEntry struct {
	createdAt *ir.Instr
	count     int
	pending   *report.DelayedLineMessenger
}

func (e *freshEntry) clone() *freshEntry {
	return &freshEntry{createdAt: e.createdAt, count: e.count, pending: e.pending.Clone()}
}

// FreshnessState is the protection-freshness sub-analysis's abstract
// state: every SEXP local being watched (fresh right now, or simply
// protected and still worth tracking in case it gets unprotected
// again), the simulated protect stack itself (nil entries are
// anonymous pushes, e.g. a bare "PROTECT(f())"), and whether an
// overflow or an unsupported UNPROTECT form has left tracking unable
// to trust the stack's contents.
type FreshnessState struct {
	vars     map[*ir.Var]*freshEntry
	stack    []*ir.Var
	confused bool
}

func NewFreshnessState() FreshnessState {
	return FreshnessState{vars: map[*ir.Var]*freshEntry{}}
}

// Clone deep-copies every tracked entry's pending buffer and the
// stack slice so that exploring one successor's writes never leaks
// into a sibling successor sharing the same predecessor state.
func (s FreshnessState) Clone() FreshnessState {
	c := make(map[*ir.Var]*freshEntry, len(s.vars))
	for k, v := range s.vars {
		c[k] = v.clone()
	}
	stack := make([]*ir.Var, len(s.stack))
	copy(stack, s.stack)
	return FreshnessState{vars: c, stack: stack, confused: s.confused}
}

// Equal reports structural equality: same tracked variables each with
// an equal protectCount and pending buffer, and the same stack.
func (s FreshnessState) Equal(o FreshnessState) bool {
	if len(s.vars) != len(o.vars) || len(s.stack) != len(o.stack) || s.confused != o.confused {
		return false
	}
	for i, v := range s.stack {
		if o.stack[i] != v {
			return false
		}
	}
	for k, v := range s.vars {
		ov, ok := o.vars[k]
		if !ok || v.count != ov.count || v.createdAt != ov.createdAt || !v.pending.Equal(ov.pending) {
			return false
		}
	}
	return true
}

// IsFresh reports whether v currently holds a value the tracker
// considers unrooted: watched, with nothing on the protect stack
// currently pointing at it.
func (s FreshnessState) IsFresh(v *ir.Var) bool {
	e, ok := s.vars[v]
	return ok && e.count == 0
}

// root stops watching v entirely, discarding any pending diagnostic:
// used for R_PreserveObject (permanent, off-stack protection) and the
// setter heuristic, neither of which goes through the protect stack.
func (s *FreshnessState) root(v *ir.Var) {
	if v == nil {
		return
	}
	if e, ok := s.vars[v]; ok {
		e.pending.Discard()
		delete(s.vars, v)
	}
}

// push adds v (nil for an anonymous protect) to the top of the
// protect stack, creating or incrementing its watched entry.
func (s *FreshnessState) push(v *ir.Var, msg *report.LineMessenger) {
	s.stack = append(s.stack, v)
	if v == nil {
		return
	}
	if e, ok := s.vars[v]; ok {
		e.count++
		return
	}
	s.vars[v] = &freshEntry{count: 1, pending: report.NewDelayedLineMessenger(msg)}
}

// pop removes the top protect-stack entry, decrementing its
// variable's protectCount back towards fresh again. Reports ok=false
// on an empty stack.
func (s *FreshnessState) pop() (v *ir.Var, ok bool) {
	if len(s.stack) == 0 {
		return nil, false
	}
	v = s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	if v == nil {
		return nil, true
	}
	if e, ok := s.vars[v]; ok && e.count > 0 {
		e.count--
	}
	return v, true
}

// unprotectAll discards the whole stack and zeroes every watched
// variable's protectCount without erasing the entries themselves —
// each becomes fresh again rather than un-watched, matching what an
// UNPROTECT whose count can't be trusted actually does to R's real
// stack (everything above the call's real, unknown depth is gone).
func (s *FreshnessState) unprotectAll() {
	s.stack = nil
	for _, e := range s.vars {
		e.count = 0
	}
	s.confused = true
}

// freshnessTracker holds the per-run context the pure state-update
// methods above don't carry themselves: the shared messenger (so
// flushed buffers land in the run's final report), the oracles
// driving allocation/protection/liveness decisions, and a pointer
// into the balance tracker's refinable-findings counter shared across
// the whole function check.
type freshnessTracker struct {
	msg            *report.LineMessenger
	alloc          AllocatingOracle
	protects       CalleeOracle
	live           oracleLiveness
	refinableInfos *int
}

// oracleLiveness is the narrow slice of oracles.LivenessOracle this
// file needs, named locally to avoid a direct dependency loop concern
// between internal/engine and internal/oracles beyond what's needed.
type oracleLiveness interface {
	PossiblyLiveAfter(v *ir.Var, at *ir.Instr) bool
	DefinitelyDeadAfter(v *ir.Var, at *ir.Instr) bool
}

// HandleStore updates s for a store instruction: assigning the result
// of an allocating call makes the destination fresh (replacing
// whatever it used to track, on the view that a fresh reassignment
// always starts a new lifetime), and so does assigning ATTRIB(v1) of a
// fresh local v1; assigning anything else roots (or
// simply overwrites) whatever the destination used to hold,
// discarding any pending diagnostics since that lifetime has ended
// without incident.
func (t *freshnessTracker) HandleStore(in *ir.Instr, s *FreshnessState) {
	if in.Op != ir.OpStore || in.Var == nil || in.Var.Type != ir.TypeSEXP {
		return
	}
	if prev, ok := s.vars[in.Var]; ok {
		prev.pending.Discard()
		delete(s.vars, in.Var)
	}
	call, ok := in.Val.(*ir.Instr)
	if ok && call.Op == ir.OpCall && call.Callee == "ATTRIB" && len(call.Args) == 1 {
		// An approximation: the attribute list of a fresh object is
		// treated as fresh too, which can mis-report later uses.
		if src, isLoad := call.Args[0].(*ir.Instr); isLoad && src.Op == ir.OpLoad && s.IsFresh(src.Var) {
			s.vars[in.Var] = &freshEntry{createdAt: call, pending: report.NewDelayedLineMessenger(t.msg)}
		}
		return
	}
	if !ok || !ResultIsFreshAllocation(t.alloc, call) {
		return
	}
	s.vars[in.Var] = &freshEntry{createdAt: call, pending: report.NewDelayedLineMessenger(t.msg)}
}

// HandleLoad flushes v's pending buffer on every read — reading a
// variable that survived one or more allocating calls while
// unprotected confirms the value was live across a possible
// collection — then applies the setter heuristic (a load used only as
// the second-or-later argument to a recognized setter whose first
// argument is not itself fresh roots the loaded variable), and
// finally, if the load's sole use is as a direct argument to an
// allocating, non-callee-protect(-for-this-argument) function, warns
// immediately: that pattern is exactly "the argument may be collected
// before or during the call that's about to use it" regardless of
// whether the variable is ever read again afterward.
func (t *freshnessTracker) HandleLoad(in *ir.Instr, f *ir.Function, s *FreshnessState) {
	if in.Op != ir.OpLoad || in.Var == nil {
		return
	}
	if e, ok := s.vars[in.Var]; ok {
		e.pending.Flush()
	}

	t.applySetterHeuristic(in, f, s)

	if !s.IsFresh(in.Var) {
		return
	}
	uses := f.Uses(ir.Value(in))
	if len(uses) != 1 {
		return
	}
	call := uses[0]
	if call.Op != ir.OpCall || t.alloc == nil || !t.alloc.IsAllocating(call.Callee) {
		return
	}
	idx := argPosition(call, ir.Value(in))
	if idx < 0 {
		return
	}
	if ArgumentIsProtectedByCall(t.protects, call, idx) {
		if e, ok := s.vars[in.Var]; ok {
			e.pending.Emit(report.KindUnprotected, "calling allocating function "+call.Callee+" with argument "+in.Var.Name+" that may not survive", in)
		}
		return
	}
	t.msg.Error(report.KindUnprotected, "calling allocating function "+call.Callee+" with a fresh pointer ("+in.Var.Name+")", in)
	if t.refinableInfos != nil {
		*t.refinableInfos++
	}
}

// applySetterHeuristic erases the variable behind load from tracking
// when load's only use is as the second-or-later argument to a
// recognized setter (SET_VECTOR_ELT, Rf_setAttrib, SETCAR, and the
// rest of common.cpp's isSetterFunction list) whose first argument is
// not itself a currently-fresh variable: a setter attaches its value
// argument into an already-live container before anything else runs,
// so the container's own liveness roots the value from that point on.
func (t *freshnessTracker) applySetterHeuristic(load *ir.Instr, f *ir.Function, s *FreshnessState) {
	for _, use := range f.Uses(ir.Value(load)) {
		if use.Op != ir.OpCall || !IsSetterFunction(use.Callee) || len(use.Args) < 2 {
			continue
		}
		pos := argPosition(use, ir.Value(load))
		if pos < 1 {
			continue
		}
		arg0, ok := use.Args[0].(*ir.Instr)
		if !ok || arg0.Op != ir.OpLoad || arg0.Var == nil {
			continue
		}
		if s.IsFresh(arg0.Var) {
			continue
		}
		s.root(load.Var)
		return
	}
}

// HandleRootingCall updates s for a call that may change the protect
// stack or otherwise root a fresh variable: PROTECT/PROTECT_WITH_INDEX/
// REPROTECT push (handleProtect), UNPROTECT/UNPROTECT_PTR pop
// (handleUnprotect), R_PreserveObject roots its argument permanently
// and off-stack, and any other call known via protects to protect one
// of its arguments (R_PreserveObject wrappers, a package's own
// registered helpers) roots that argument the same way.
func (t *freshnessTracker) HandleRootingCall(in *ir.Instr, f *ir.Function, s *FreshnessState) {
	if in.Op != ir.OpCall {
		return
	}
	switch {
	case IsProtectingCall(in):
		t.handleProtect(in, f, s)
		return
	case IsUnprotectingCall(in):
		t.handleUnprotect(in, s)
		return
	case IsPreserveCall(in):
		if v, ok := ResolveProtectedVar(in, f); ok {
			s.root(v)
		}
		return
	}
	for i, arg := range in.Args {
		if !ArgumentIsProtectedByCall(t.protects, in, i) {
			continue
		}
		if load, ok := arg.(*ir.Instr); ok && load.Op == ir.OpLoad {
			s.root(load.Var)
		}
	}
}

// handleProtect resolves the variable a PROTECT/PROTECT_WITH_INDEX/
// REPROTECT call roots (per ResolveProtectedVar's three shapes) and
// pushes it (or an anonymous entry, for a bare "PROTECT(f())") onto
// the protect stack, unless doing so would overflow MAX_PSTACK_SIZE,
// in which case the whole stack is discarded as confused instead.
func (t *freshnessTracker) handleProtect(in *ir.Instr, f *ir.Function, s *FreshnessState) {
	if len(s.stack) >= MaxPStackSize {
		t.msg.Error(report.KindStackOverflow, "protection stack overflow, results will be incomplete", in)
		if t.refinableInfos != nil {
			*t.refinableInfos++
		}
		s.unprotectAll()
		return
	}
	v, _ := ResolveProtectedVar(in, f)
	s.push(v, t.msg)
}

// handleUnprotect resolves an UNPROTECT(n)/UNPROTECT_PTR(x) call's
// effect on the protect stack. UNPROTECT_PTR's positional-removal
// shape isn't precisely representable against a plain stack, so it
// falls back to unprotectAll like any other count the tracker can't
// trust. A constant n greater than the stack's current size is an
// over-unprotect, reported once and left unpopped (matching rchk:
// results past this point are treated as unreliable, not corrected).
func (t *freshnessTracker) handleUnprotect(in *ir.Instr, s *FreshnessState) {
	if in.Callee == FnUnprotectPtr {
		s.unprotectAll()
		return
	}
	if len(in.Args) == 0 {
		return
	}
	konst, ok := in.Args[0].(ir.ConstInt)
	if !ok {
		s.unprotectAll()
		return
	}
	n := int(konst.Val)
	if n < 0 {
		return
	}
	if n > len(s.stack) {
		t.msg.Error(report.KindUnprotected, "attempts to unprotect more items than protected, results will be incorrect", in)
		if t.refinableInfos != nil {
			*t.refinableInfos++
		}
		return
	}
	for i := 0; i < n; i++ {
		s.pop()
	}
}

// reportFreshArguments warns, once per argument, when call is an
// allocating call whose argument is itself a direct nested call to a
// possible allocator (e.g. "foo(bar())" where both foo and bar may
// allocate) and call does not protect that argument itself. Unlike
// the pending-buffer mechanism below, this needs no variable at all:
// the danger is evaluation order between the two calls, not a local
// surviving across a later collection, so it fires immediately and
// unconditionally the moment the shape is seen.
func (t *freshnessTracker) reportFreshArguments(call *ir.Instr, f *ir.Function) {
	for i, arg := range call.Args {
		if ArgumentIsProtectedByCall(t.protects, call, i) {
			continue
		}
		src, ok := arg.(*ir.Instr)
		if !ok || src.Op != ir.OpCall || t.alloc == nil || !t.alloc.IsPossibleAllocator(src.Callee) {
			continue
		}
		t.msg.Info("calling allocating function "+call.Callee+" with argument allocated using "+src.Callee, call)
		if t.refinableInfos != nil {
			*t.refinableInfos++
		}
	}
}

// HandleAllocatingCall arms every currently-fresh (protectCount == 0)
// variable's pending buffer with a new diagnostic when call may
// itself trigger a collection, excluding variables passed directly as
// one of call's own arguments — passing a fresh variable straight
// into the very call under suspicion is handled by HandleLoad instead
// (reported at once, or as a conditional message when the callee
// protects that argument), not deferred here. It also
// checks every argument for the nested-possible-allocator-call shape
// via reportFreshArguments, independently of whether any local
// variable is involved.
func (t *freshnessTracker) HandleAllocatingCall(call *ir.Instr, f *ir.Function, s *FreshnessState) {
	if call.Op != ir.OpCall || t.alloc == nil || !t.alloc.IsAllocating(call.Callee) {
		return
	}
	t.reportFreshArguments(call, f)
	passed := map[*ir.Var]bool{}
	for _, arg := range call.Args {
		if load, ok := arg.(*ir.Instr); ok && load.Op == ir.OpLoad && load.Var != nil {
			passed[load.Var] = true
		}
	}
	for v, e := range s.vars {
		if e.count > 0 || e.createdAt == call || passed[v] {
			continue
		}
		e.pending.Emit(report.KindUnprotected, "may be used unprotected after call to "+call.Callee+" that may allocate", call)
		if t.live != nil && t.live.DefinitelyDeadAfter(v, call) {
			e.pending.Discard()
		}
	}
}

// HandleReturn discards every watched variable at a return: once the
// function is exiting, any pending diagnostic never materialized into
// an actual use-after-collection.
func (t *freshnessTracker) HandleReturn(s *FreshnessState) {
	for v, e := range s.vars {
		e.pending.Discard()
		delete(s.vars, v)
	}
	s.stack = nil
}
