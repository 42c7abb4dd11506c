package engine

import (
	"fmt"

	"github.com/oss-sast/rchk-go/internal/ir"
)

// MaxStatesPerFunction bounds the number of distinct abstract states
// the executor will explore for a single function before giving up
// and reporting it as too complex to fully check, chosen generously
// since this checker's state is coarser (four independent,
// mostly-small sub-lattices) than a full symbolic-execution engine's
// would be.
const MaxStatesPerFunction = 10000

// State is the full abstract state the executor threads through a
// function's CFG: one component per sub-analysis, explored together
// so that, e.g., a branch folded by the int-guard tracker also
// affects which block the balance and freshness trackers see next.
type State struct {
	Block      *ir.BasicBlock
	Balance    BalanceState
	IntGuards  IntGuardState
	SEXPGuards SEXPGuardState
	Fresh      FreshnessState

	// Path accumulates the linear int constraints (DecodeLinearConstraint)
	// implied by every branch taken to reach this state, consulted by a
	// PathSolver to prune successors the guard lattices alone leave
	// ambiguous. Deliberately left out of Equal/Key: it never changes
	// which diagnostics a state can produce, only how aggressively the
	// solver can prune paths reaching it, so merging states that differ
	// only in Path costs precision, never soundness.
	Path []Constraint

	// EnabledIntGuards / EnabledSEXPGuards gate whether the int- and
	// SEXP-guard components actually refine branches this pass: early
	// passes run with both off (cheapest, catches the common bugs),
	// later passes enable one or both only for functions where doing
	// so is needed to resolve a state explosion or a suspected false
	// positive.
	EnabledIntGuards  bool
	EnabledSEXPGuards bool
}

// NewEntryState returns the state at a function's entry block.
func NewEntryState(entry *ir.BasicBlock, enableIntGuards, enableSEXPGuards bool) State {
	return State{
		Block:             entry,
		Balance:           NewBalanceState(),
		IntGuards:         NewIntGuardState(),
		SEXPGuards:        NewSEXPGuardState(),
		Fresh:             NewFreshnessState(),
		EnabledIntGuards:  enableIntGuards,
		EnabledSEXPGuards: enableSEXPGuards,
	}
}

// AtBlock returns a copy of s repositioned at bb, used when following
// an edge to a successor: every sub-state is cloned so mutating the
// copy along one path never affects a sibling path exploring a
// different successor of the same predecessor.
func (s State) AtBlock(bb *ir.BasicBlock) State {
	return State{
		Block:             bb,
		Balance:           s.Balance.Clone(),
		IntGuards:         s.IntGuards.Clone(),
		SEXPGuards:        s.SEXPGuards.Clone(),
		Fresh:             s.Fresh.Clone(),
		Path:              s.Path,
		EnabledIntGuards:  s.EnabledIntGuards,
		EnabledSEXPGuards: s.EnabledSEXPGuards,
	}
}

// WithConstraint returns a copy of s repositioned at bb with c appended
// to its path, via an explicit copy rather than append so that two
// sibling successors built from the same parent never risk sharing —
// and silently corrupting — one another's backing array.
func (s State) WithConstraint(bb *ir.BasicBlock, c Constraint) State {
	next := s.AtBlock(bb)
	next.Path = clonePath(s.Path, c)
	return next
}

// Equal reports whether two states are indistinguishable for worklist
// deduplication purposes: same block, same balance/guard/freshness
// component values. Two equal states can never lead to different
// future diagnostics, so the executor never needs to explore both.
func (s State) Equal(o State) bool {
	if s.Block != o.Block {
		return false
	}
	if !s.Balance.Equal(o.Balance) {
		return false
	}
	if s.EnabledIntGuards && !s.IntGuards.Equal(o.IntGuards) {
		return false
	}
	if s.EnabledSEXPGuards && !s.SEXPGuards.Equal(o.SEXPGuards) {
		return false
	}
	return s.Fresh.Equal(o.Fresh)
}

// Key returns a string usable as a done-set map key: cheap to compute
// relative to a full Equal comparison against every previously-seen
// state, and collision-free enough in practice (guard variable
// pointer identity plus balance's small integer fields) that the
// worklist only falls back to Equal to break ties within a bucket.
func (s State) Key() string {
	key := fmt.Sprintf("b%p|%s", s.Block, s.Balance.key())
	if s.EnabledIntGuards {
		key += "|ig" + intGuardKey(s.IntGuards)
	}
	if s.EnabledSEXPGuards {
		key += "|sg" + sexpGuardKey(s.SEXPGuards)
	}
	key += "|fr" + freshKey(s.Fresh)
	return key
}

func intGuardKey(s IntGuardState) string {
	out := ""
	for v, val := range s.vals {
		out += fmt.Sprintf("%p=%d;", v, val)
	}
	return out
}

func sexpGuardKey(s SEXPGuardState) string {
	out := ""
	for v, val := range s.vals {
		out += fmt.Sprintf("%p=%d:%s;", v, val.Kind, val.SymbolName)
	}
	return out
}

func freshKey(s FreshnessState) string {
	out := ""
	for v, e := range s.vars {
		createdAt := -1
		if e.createdAt != nil {
			createdAt = e.createdAt.ID
		}
		out += fmt.Sprintf("%p@%d/%d#%d;", v, createdAt, e.count, e.pending.Size())
	}
	out += "|st"
	for _, v := range s.stack {
		out += fmt.Sprintf("%p,", v)
	}
	if s.confused {
		out += "|confused"
	}
	return out
}

// DoneSet is the per-function worklist deduplication table: states
// already fully explored are never re-queued. Keyed by State.Key()
// with an Equal fallback so a hash collision never causes a
// false-positive "already seen".
type DoneSet struct {
	buckets map[string][]State
	count   int
}

func NewDoneSet() *DoneSet {
	return &DoneSet{buckets: map[string][]State{}}
}

// SeenOrAdd reports whether an equal state was already recorded; if
// not, it records s and returns false. Returns (false, true) once
// MaxStatesPerFunction is exceeded, signaling the caller to stop
// exploring and report the function as truncated rather than record
// (and re-explore) states forever.
func (d *DoneSet) SeenOrAdd(s State) (seen bool, capped bool) {
	key := s.Key()
	for _, existing := range d.buckets[key] {
		if existing.Equal(s) {
			return true, false
		}
	}
	if d.count >= MaxStatesPerFunction {
		return false, true
	}
	d.buckets[key] = append(d.buckets[key], s)
	d.count++
	return false, false
}

// Count returns the number of distinct states recorded so far.
func (d *DoneSet) Count() int { return d.count }
