package oracles

import "sync/atomic"

// wellKnown is the fixed set of interpreter-defined R symbols the
// SEXP-guard tracker recognizes by name when a variable is compared
// against install("...") or a symbol constant directly.
var wellKnown = map[string]bool{
	"R_DimSymbol":       true,
	"R_DimNamesSymbol":  true,
	"R_NamesSymbol":     true,
	"R_ClassSymbol":     true,
	"R_RowNamesSymbol":  true,
	"R_LevelsSymbol":    true,
	"R_NaRmSymbol":      true,
	"R_CommentSymbol":   true,
	"R_SourceSymbol":    true,
	"R_TspSymbol":       true,
	"dim":               true,
	"dimnames":          true,
	"names":             true,
	"class":             true,
	"row.names":         true,
	"levels":            true,
	"comment":           true,
}

// SymbolTable is the reference SymbolInfo oracle. Reads are
// lock-free via an atomic snapshot of the known-name set, a
// copy-on-write pattern: the whole-module loader may call Register
// while building the module, then the table is read concurrently by
// one worker-pool goroutine per function-of-interest during analysis.
type SymbolTable struct {
	snapshot atomic.Value // map[string]bool
}

// NewSymbolTable returns a table pre-populated with the interpreter's
// well-known symbols.
func NewSymbolTable() *SymbolTable {
	t := &SymbolTable{}
	seed := make(map[string]bool, len(wellKnown))
	for k, v := range wellKnown {
		seed[k] = v
	}
	t.snapshot.Store(seed)
	return t
}

// Register adds name (e.g. discovered from an install("name") call
// site during IR loading) to the known-symbol set by storing a new
// snapshot, so concurrent WellKnownSymbol reads always see a complete
// set. Two Register calls running at once can lose one of the names.
func (t *SymbolTable) Register(name string) {
	old := t.snapshot.Load().(map[string]bool)
	next := make(map[string]bool, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[name] = true
	t.snapshot.Store(next)
}

// WellKnownSymbol implements SymbolInfo.
func (t *SymbolTable) WellKnownSymbol(name string) bool {
	return t.snapshot.Load().(map[string]bool)[name]
}
