// Package report holds the diagnostic sink the checking engine emits
// into (line-messenger, conditional/delayed buffering) and the
// writers that turn a finished run into text, JSON, or SARIF for a
// caller.
package report

import (
	"fmt"
	"sort"
	"sync"

	"github.com/oss-sast/rchk-go/internal/ir"
)

// Kind tags a diagnostic with the sub-analysis that produced it,
// mirroring the "[BP]"/"[UP]" prefixes rchk prints ahead of every
// line: BP for a protection-stack balance problem, UP for an
// unprotected-pointer (freshness) problem, GUARD for an informational
// note (Info, and the debug/trace messages).
type Kind string

const (
	KindBalanceProblem Kind = "BP"
	KindUnprotected    Kind = "UP"
	KindGuardTrace     Kind = "GUARD"
	KindConfused       Kind = "CONF"
	// KindStackOverflow flags a PROTECT that would push past
	// MAX_PSTACK_SIZE; the whole protect stack is discarded and
	// tracking continues in a confused state rather than halting.
	KindStackOverflow Kind = "SO"
)

// LineInfo is one fully-formed diagnostic: kind, message text, source
// path and line. Two LineInfos with equal fields are the same
// diagnostic for deduplication purposes.
type LineInfo struct {
	Kind    Kind
	Message string
	Path    string
	Line    int
}

func (a *LineInfo) equal(b *LineInfo) bool {
	return a.Kind == b.Kind && a.Message == b.Message && a.Path == b.Path && a.Line == b.Line
}

func (li *LineInfo) String() string {
	return fmt.Sprintf("[%s] %s:%d: %s", li.Kind, li.Path, li.Line, li.Message)
}

// locate resolves an instruction to a display path/line. The IR
// carries no source location metadata of its own yet, so today this
// always reports the owning function's name as "path" and a synthetic
// line derived from the instruction's sequential ID — enough to keep
// messages orderable and unique per site, which is everything the
// dedup and ordering logic need.
func locate(in *ir.Instr) (string, int) {
	if in == nil || in.Block == nil || in.Block.Func == nil {
		return "<unknown>", 0
	}
	return in.Block.Func.Name, in.ID
}

// internTable interns LineInfo values so that two Emit calls
// describing the same diagnostic return the identical *LineInfo
// pointer, letting DelayedLineMessenger buffers be compared and
// deduplicated by pointer rather than by deep structural equality.
type internTable struct {
	byKey map[LineInfo]*LineInfo
}

func newInternTable() *internTable {
	return &internTable{byKey: map[LineInfo]*LineInfo{}}
}

func (t *internTable) intern(li LineInfo) *LineInfo {
	if existing, ok := t.byKey[li]; ok {
		return existing
	}
	p := &li
	t.byKey[li] = p
	return p
}

// LineMessenger is the top-level diagnostic sink: it interns and
// immediately emits (recording it for All/Sorted and passing it to the
// sink, deduplicated when UniqueMsg is set) every message reported
// against it. One LineMessenger is shared across an
// entire checking run, and the driver's worker pool checks many
// functions concurrently against the same Executor and hence the same
// LineMessenger, so every access to intern/seen/order is guarded by
// mu. DelayedLineMessenger instances (one per abstract state) intern
// through it but only forward to it on Flush; a DelayedLineMessenger
// itself is never shared across goroutines, since one function's
// worklist exploration stays on a single goroutine.
type LineMessenger struct {
	Debug     bool
	Trace     bool
	UniqueMsg bool

	mu     sync.Mutex
	intern *internTable
	seen   map[*LineInfo]bool
	order  []*LineInfo

	sink func(*LineInfo) // where flushed messages ultimately go; defaults to nothing, wired by a Writer
}

// NewLineMessenger builds a messenger. uniqueMsg mirrors a
// UNIQUE_MSG-style flag: when true, a (kind, message, path, line)
// tuple is reported at most once for the whole run.
func NewLineMessenger(debug, trace, uniqueMsg bool) *LineMessenger {
	return &LineMessenger{
		Debug:     debug,
		Trace:     trace,
		UniqueMsg: uniqueMsg,
		intern:    newInternTable(),
		seen:      map[*LineInfo]bool{},
	}
}

// SetSink installs the callback flushed messages are delivered to,
// typically a report Writer's Write method.
func (m *LineMessenger) SetSink(sink func(*LineInfo)) { m.sink = sink }

// Intern interns li without emitting it, used by
// DelayedLineMessenger.Emit so buffered messages share pointer
// identity with anything the same diagnostic would produce elsewhere.
func (m *LineMessenger) Intern(kind Kind, message string, in *ir.Instr) *LineInfo {
	path, line := locate(in)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intern.intern(LineInfo{Kind: kind, Message: message, Path: path, Line: line})
}

// EmitInterned delivers an already-interned diagnostic, applying the
// UniqueMsg dedup filter.
func (m *LineMessenger) EmitInterned(li *LineInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UniqueMsg && m.seen[li] {
		return
	}
	m.seen[li] = true
	m.order = append(m.order, li)
	if m.sink != nil {
		m.sink(li)
	}
}

// Emit interns and immediately delivers a diagnostic.
func (m *LineMessenger) Emit(kind Kind, message string, in *ir.Instr) {
	m.EmitInterned(m.Intern(kind, message, in))
}

// Error reports a diagnostic unconditionally: protection-stack
// balance and freshness bugs are always "errors" in this tool's
// severity model, with no separate warning tier for the checking
// engine's own findings, unlike its debug/trace channels below.
func (m *LineMessenger) Error(kind Kind, message string, in *ir.Instr) { m.Emit(kind, message, in) }

// Info reports unconditionally, with KindGuardTrace, for notices that
// aren't bug reports (precision lost, state limit reached).
func (m *LineMessenger) Info(message string, in *ir.Instr) {
	m.Emit(KindGuardTrace, message, in)
}

// DebugMsg reports only when Debug is enabled.
func (m *LineMessenger) DebugMsg(message string, in *ir.Instr) {
	if m.Debug {
		m.Emit(KindGuardTrace, message, in)
	}
}

// TraceMsg reports only when Trace is enabled.
func (m *LineMessenger) TraceMsg(message string, in *ir.Instr) {
	if m.Trace {
		m.Emit(KindGuardTrace, message, in)
	}
}

// All returns every message flushed through m so far, in emission
// order — the shape a Writer consumes at the end of a run.
func (m *LineMessenger) All() []*LineInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*LineInfo, len(m.order))
	copy(out, m.order)
	return out
}

// Sorted returns m.All() ordered by (path, line, kind, message), the
// stable, presentation-friendly order the text/JSON/SARIF writers
// print in regardless of the order-independent order sub-analyses
// actually reported them in.
func (m *LineMessenger) Sorted() []*LineInfo {
	out := m.All()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Message < b.Message
	})
	return out
}

// DelayedLineMessenger buffers diagnostics tied to a single abstract
// state's freshness bookkeeping, a "conditional message set": Emit
// interns through the parent LineMessenger but does not deliver,
// Flush delivers everything currently buffered and clears
// the buffer. Two DelayedLineMessengers are Equal iff they hold
// exactly the same set of interned pointers, which is what lets the
// state canonicalizer treat two executions with the same pending
// diagnostics as the same abstract state.
type DelayedLineMessenger struct {
	msg     *LineMessenger
	pending map[*LineInfo]bool
}

// NewDelayedLineMessenger creates an empty buffer against msg.
func NewDelayedLineMessenger(msg *LineMessenger) *DelayedLineMessenger {
	return &DelayedLineMessenger{msg: msg, pending: map[*LineInfo]bool{}}
}

// Emit interns the message and buffers it without delivering it.
func (d *DelayedLineMessenger) Emit(kind Kind, message string, in *ir.Instr) {
	d.pending[d.msg.Intern(kind, message, in)] = true
}

// Flush delivers every buffered message through the parent messenger
// and empties the buffer, called when a fresh variable is read (its
// pending "was it protected" question is finally answered: yes,
// since it's being used) or is proven definitely live.
func (d *DelayedLineMessenger) Flush() {
	for li := range d.pending {
		d.msg.EmitInterned(li)
	}
	d.pending = map[*LineInfo]bool{}
}

// Discard empties the buffer without delivering it, called when the
// variable it was tracking is proven definitely dead or is rewritten
// before ever being read.
func (d *DelayedLineMessenger) Discard() {
	d.pending = map[*LineInfo]bool{}
}

// Size returns the number of buffered messages.
func (d *DelayedLineMessenger) Size() int { return len(d.pending) }

// Clone returns an independent copy sharing the same pending set
// (interned pointers are immutable, so a shallow copy of the map is
// enough), used when a state carrying this buffer is cloned to
// explore a second successor block.
func (d *DelayedLineMessenger) Clone() *DelayedLineMessenger {
	c := &DelayedLineMessenger{msg: d.msg, pending: make(map[*LineInfo]bool, len(d.pending))}
	for li := range d.pending {
		c.pending[li] = true
	}
	return c
}

// Equal reports whether d and other buffer exactly the same set of
// interned messages.
func (d *DelayedLineMessenger) Equal(other *DelayedLineMessenger) bool {
	if other == nil {
		return len(d.pending) == 0
	}
	if len(d.pending) != len(other.pending) {
		return false
	}
	for li := range d.pending {
		if !other.pending[li] {
			return false
		}
	}
	return true
}

// SortedKey returns the buffered messages ordered by pointer address,
// an order that does not depend on Go's randomized map iteration. The
// engine's state key does not call it; it uses Size.
func (d *DelayedLineMessenger) SortedKey() []*LineInfo {
	out := make([]*LineInfo, 0, len(d.pending))
	for li := range d.pending {
		out = append(out, li)
	}
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprintf("%p", out[i]) < fmt.Sprintf("%p", out[j])
	})
	return out
}
