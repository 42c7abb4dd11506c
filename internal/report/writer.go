package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Format is a report output format.
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatSARIF Format = "sarif"
)

// Writer turns a finished Result into bytes: Write to an already-open
// stream, WriteToFile as a convenience wrapper.
type Writer interface {
	Write(result *Result) error
	WriteToFile(result *Result, filename string) error
}

// ParseFormat resolves a CLI flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "sarif":
		return FormatSARIF, nil
	default:
		return "", fmt.Errorf("report: unsupported format %q", s)
	}
}

// NewWriter builds the Writer for format, writing to w.
func NewWriter(format Format, w io.Writer) (Writer, error) {
	switch format {
	case FormatJSON:
		return NewJSONWriter(w), nil
	case FormatSARIF:
		return NewSARIFWriter(w), nil
	case FormatText, "":
		return NewTextWriter(w), nil
	default:
		return nil, fmt.Errorf("report: unsupported format %q", format)
	}
}

// TextWriter prints one line per diagnostic, in a "[KIND]
// path:line: message" shape suitable for scanning in a terminal.
type TextWriter struct {
	w io.Writer
}

func NewTextWriter(w io.Writer) *TextWriter { return &TextWriter{w: w} }

func (t *TextWriter) Write(result *Result) error {
	for _, li := range result.Findings {
		if _, err := fmt.Fprintln(t.w, li.String()); err != nil {
			return err
		}
	}
	return nil
}

func (t *TextWriter) WriteToFile(result *Result, filename string) error {
	return writeToFile(filename, func(w io.Writer) error { return NewTextWriter(w).Write(result) })
}

// jsonReport is the on-disk JSON shape: a
// generated_at/tool/summary/findings envelope around this tool's own
// finding shape.
type jsonReport struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Tool        jsonToolInfo   `json:"tool"`
	Module      string         `json:"module"`
	Summary     jsonSummary    `json:"summary"`
	Findings    []jsonFinding  `json:"findings"`
}

type jsonToolInfo struct {
	Name             string `json:"name"`
	BalanceEnabled   bool   `json:"balance_enabled"`
	FreshnessEnabled bool   `json:"freshness_enabled"`
}

type jsonSummary struct {
	Total  int            `json:"total"`
	ByKind map[string]int `json:"by_kind"`
}

type jsonFinding struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Path    string `json:"path"`
	Line    int    `json:"line"`
}

// JSONWriter renders a Result as JSON.
type JSONWriter struct {
	w      io.Writer
	pretty bool
}

func NewJSONWriter(w io.Writer) *JSONWriter { return &JSONWriter{w: w, pretty: true} }

func (j *JSONWriter) Write(result *Result) error {
	rep := jsonReport{
		GeneratedAt: time.Now(),
		Tool: jsonToolInfo{
			Name:             "rchk-go",
			BalanceEnabled:   result.BalanceEnabled,
			FreshnessEnabled: result.FreshnessEnabled,
		},
		Module: result.Module,
		Summary: jsonSummary{
			Total:  len(result.Findings),
			ByKind: map[string]int{},
		},
	}
	for _, li := range result.Findings {
		rep.Summary.ByKind[string(li.Kind)]++
		rep.Findings = append(rep.Findings, jsonFinding{
			Kind:    string(li.Kind),
			Message: li.Message,
			Path:    li.Path,
			Line:    li.Line,
		})
	}
	var data []byte
	var err error
	if j.pretty {
		data, err = json.MarshalIndent(rep, "", "  ")
	} else {
		data, err = json.Marshal(rep)
	}
	if err != nil {
		return fmt.Errorf("report: marshal json: %w", err)
	}
	_, err = j.w.Write(data)
	return err
}

func (j *JSONWriter) WriteToFile(result *Result, filename string) error {
	return writeToFile(filename, func(w io.Writer) error { return NewJSONWriter(w).Write(result) })
}

// sarif* types are the minimal subset of the SARIF 2.1.0 schema
// needed to carry a flat list of findings.
type sarifLog struct {
	Schema  string      `json:"$schema"`
	Version string      `json:"version"`
	Runs    []sarifRun  `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name  string      `json:"name"`
	Rules []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID string `json:"id"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           sarifRegion           `json:"region"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine int `json:"startLine"`
}

// SARIFWriter renders a Result as SARIF, for consumption by CI
// systems that ingest static-analysis results uniformly regardless of
// tool.
type SARIFWriter struct {
	w io.Writer
}

func NewSARIFWriter(w io.Writer) *SARIFWriter { return &SARIFWriter{w: w} }

func (s *SARIFWriter) Write(result *Result) error {
	rules := map[string]bool{}
	var results []sarifResult
	for _, li := range result.Findings {
		rules[string(li.Kind)] = true
		results = append(results, sarifResult{
			RuleID:  string(li.Kind),
			Message: sarifMessage{Text: li.Message},
			Locations: []sarifLocation{{
				PhysicalLocation: sarifPhysicalLocation{
					ArtifactLocation: sarifArtifactLocation{URI: li.Path},
					Region:           sarifRegion{StartLine: li.Line},
				},
			}},
		})
	}
	var ruleList []sarifRule
	for id := range rules {
		ruleList = append(ruleList, sarifRule{ID: id})
	}
	log := sarifLog{
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json",
		Version: "2.1.0",
		Runs: []sarifRun{{
			Tool:    sarifTool{Driver: sarifDriver{Name: "rchk-go", Rules: ruleList}},
			Results: results,
		}},
	}
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal sarif: %w", err)
	}
	_, err = s.w.Write(data)
	return err
}

func (s *SARIFWriter) WriteToFile(result *Result, filename string) error {
	return writeToFile(filename, func(w io.Writer) error { return NewSARIFWriter(w).Write(result) })
}

func writeToFile(filename string, write func(io.Writer) error) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("report: create output dir: %w", err)
		}
	}
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("report: create report file: %w", err)
	}
	defer f.Close()
	return write(f)
}
