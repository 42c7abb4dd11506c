package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func sampleResult() *Result {
	msg := NewLineMessenger(false, false, true)
	msg.Error(KindBalanceProblem, "unbalanced PROTECT/UNPROTECT calls", nil)
	msg.Error(KindUnprotected, "possibly unprotected SEXP passed to allocating call", nil)
	return NewResult("mypkg", true, true, msg)
}

func TestTextWriterWritesOneLinePerFinding(t *testing.T) {
	var buf bytes.Buffer
	w := NewTextWriter(&buf)
	if err := w.Write(sampleResult()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "BP") {
		t.Fatalf("expected the balance-problem kind to appear in output, got %q", out)
	}
}

func TestJSONWriterProducesParseableSummary(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf)
	if err := w.Write(sampleResult()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var rep jsonReport
	if err := json.Unmarshal(buf.Bytes(), &rep); err != nil {
		t.Fatalf("expected valid JSON, got error %v: %s", err, buf.String())
	}
	if rep.Module != "mypkg" {
		t.Fatalf("expected module name to round-trip, got %q", rep.Module)
	}
	if rep.Summary.Total != len(rep.Findings) {
		t.Fatalf("expected summary total to match findings length, got %d vs %d", rep.Summary.Total, len(rep.Findings))
	}
}

func TestSARIFWriterProducesOneRunWithRules(t *testing.T) {
	var buf bytes.Buffer
	w := NewSARIFWriter(&buf)
	if err := w.Write(sampleResult()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var log sarifLog
	if err := json.Unmarshal(buf.Bytes(), &log); err != nil {
		t.Fatalf("expected valid SARIF JSON, got error %v", err)
	}
	if len(log.Runs) != 1 {
		t.Fatalf("expected exactly one run, got %d", len(log.Runs))
	}
	if len(log.Runs[0].Results) == 0 {
		t.Fatalf("expected at least one result in the run")
	}
}

func TestNewWriterDispatchesByFormat(t *testing.T) {
	var buf bytes.Buffer
	for _, f := range []Format{FormatText, FormatJSON, FormatSARIF, ""} {
		if _, err := NewWriter(f, &buf); err != nil {
			t.Fatalf("unexpected error for format %q: %v", f, err)
		}
	}
	if _, err := NewWriter(Format("bogus"), &buf); err == nil {
		t.Fatalf("expected an error for an unsupported format")
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"text": FormatText, "": FormatText, "json": FormatJSON, "sarif": FormatSARIF}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %v, %v; want %v, nil", in, got, err, want)
		}
	}
	if _, err := ParseFormat("bogus"); err == nil {
		t.Fatalf("expected an error for an unrecognized format string")
	}
}
