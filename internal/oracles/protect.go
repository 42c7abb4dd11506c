package oracles

// protectEntry names a callee the checker trusts to keep one of its
// SEXP arguments alive on the caller's behalf, so passing an
// unprotected fresh value to it is not itself a protection bug.
// arg is 0-based.
type protectEntry struct {
	fn  string
	arg int
}

// CalleeProtectTable is the reference CalleeProtectInfo oracle: a
// static table of R API entry points known to take ownership of (or
// protect for the duration of the call) a specific argument, plus a
// caller-extensible table for a package's own wrapper functions
// (e.g. a helper that immediately calls R_PreserveObject on its
// argument). Callee-protects-argument facts are inherently
// hand-curated rather than derivable by closure, so a static table is
// the right shape here, not a shortcut.
type CalleeProtectTable struct {
	known map[protectEntry]bool
}

var builtinProtectors = map[protectEntry]bool{
	{"R_PreserveObject", 0}: true,
	{"Rf_classgets", 0}:     true,
	{"SET_VECTOR_ELT", 1}:   false, // stores into a container; the container must already be protected, this does not protect the element
	{"defineVar", 1}:        true,
	{"Rf_defineVar", 1}:     true,
	{"setVar", 1}:           true,
	{"Rf_setAttrib", 2}:     true, // attaches its value argument into the target's attribute list before anything else can run
}

// NewCalleeProtectInfo returns an oracle seeded with the built-in R
// API table.
func NewCalleeProtectInfo() *CalleeProtectTable {
	c := &CalleeProtectTable{known: map[protectEntry]bool{}}
	for k, v := range builtinProtectors {
		c.known[k] = v
	}
	return c
}

// MarkProtectsArgument registers an additional (fn, argIndex) fact,
// for a package's own protecting wrapper functions.
func (c *CalleeProtectTable) MarkProtectsArgument(fn string, argIndex int) {
	c.known[protectEntry{fn, argIndex}] = true
}

// ProtectsArgument implements CalleeProtectInfo.
func (c *CalleeProtectTable) ProtectsArgument(fn string, argIndex int) bool {
	return c.known[protectEntry{fn, argIndex}]
}
