package report

import "testing"

func TestLineMessengerUniqueMsgDeduplicates(t *testing.T) {
	m := NewLineMessenger(false, false, true)
	m.Emit(KindBalanceProblem, "same message", nil)
	m.Emit(KindBalanceProblem, "same message", nil)
	m.Emit(KindBalanceProblem, "different message", nil)
	if len(m.All()) != 2 {
		t.Fatalf("expected UniqueMsg to collapse the repeated diagnostic, got %d", len(m.All()))
	}
}

func TestLineMessengerWithoutUniqueMsgKeepsDuplicates(t *testing.T) {
	m := NewLineMessenger(false, false, false)
	m.Emit(KindBalanceProblem, "same message", nil)
	m.Emit(KindBalanceProblem, "same message", nil)
	if len(m.All()) != 2 {
		t.Fatalf("expected duplicates to be kept when UniqueMsg is off, got %d", len(m.All()))
	}
}

func TestLineMessengerDebugAndTraceGated(t *testing.T) {
	m := NewLineMessenger(false, false, true)
	m.DebugMsg("debug note", nil)
	m.TraceMsg("trace note", nil)
	if len(m.All()) != 0 {
		t.Fatalf("expected debug/trace messages suppressed when disabled, got %v", m.All())
	}

	m2 := NewLineMessenger(true, true, true)
	m2.DebugMsg("debug note", nil)
	m2.TraceMsg("trace note", nil)
	if len(m2.All()) != 2 {
		t.Fatalf("expected debug/trace messages emitted when enabled, got %v", m2.All())
	}
}

func TestLineMessengerSetSinkReceivesEachEmit(t *testing.T) {
	m := NewLineMessenger(false, false, false)
	var got []*LineInfo
	m.SetSink(func(li *LineInfo) { got = append(got, li) })
	m.Emit(KindBalanceProblem, "hello", nil)
	if len(got) != 1 || got[0].Message != "hello" {
		t.Fatalf("expected sink to observe the emitted diagnostic, got %v", got)
	}
}

func TestDelayedLineMessengerFlushDeliversAndClears(t *testing.T) {
	m := NewLineMessenger(false, false, true)
	d := NewDelayedLineMessenger(m)
	d.Emit(KindUnprotected, "buffered", nil)
	if len(m.All()) != 0 {
		t.Fatalf("expected nothing delivered before Flush")
	}
	if d.Size() != 1 {
		t.Fatalf("expected the buffer to hold one pending message, got %d", d.Size())
	}
	d.Flush()
	if len(m.All()) != 1 {
		t.Fatalf("expected Flush to deliver the buffered message, got %v", m.All())
	}
	if d.Size() != 0 {
		t.Fatalf("expected Flush to empty the buffer, got size %d", d.Size())
	}
}

func TestDelayedLineMessengerDiscardNeverDelivers(t *testing.T) {
	m := NewLineMessenger(false, false, true)
	d := NewDelayedLineMessenger(m)
	d.Emit(KindUnprotected, "buffered", nil)
	d.Discard()
	if len(m.All()) != 0 {
		t.Fatalf("expected Discard to prevent delivery, got %v", m.All())
	}
	if d.Size() != 0 {
		t.Fatalf("expected Discard to empty the buffer, got size %d", d.Size())
	}
}

func TestDelayedLineMessengerCloneIsIndependent(t *testing.T) {
	m := NewLineMessenger(false, false, true)
	d := NewDelayedLineMessenger(m)
	d.Emit(KindUnprotected, "buffered", nil)

	clone := d.Clone()
	clone.Emit(KindConfused, "extra", nil)

	if d.Size() != 1 {
		t.Fatalf("expected the original buffer to be unaffected by mutating the clone, got size %d", d.Size())
	}
	if clone.Size() != 2 {
		t.Fatalf("expected the clone to hold both messages, got size %d", clone.Size())
	}
}

func TestDelayedLineMessengerEqual(t *testing.T) {
	m := NewLineMessenger(false, false, true)
	a := NewDelayedLineMessenger(m)
	b := NewDelayedLineMessenger(m)
	a.Emit(KindUnprotected, "same", nil)
	b.Emit(KindUnprotected, "same", nil)
	if !a.Equal(b) {
		t.Fatalf("expected two buffers holding the same interned message to be equal")
	}

	b.Emit(KindConfused, "extra", nil)
	if a.Equal(b) {
		t.Fatalf("expected buffers of different sizes to be unequal")
	}

	empty := NewDelayedLineMessenger(m)
	if !empty.Equal(nil) {
		t.Fatalf("expected an empty buffer to equal a nil buffer")
	}
}
