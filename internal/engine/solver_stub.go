//go:build noz3
// +build noz3

package engine

// newPathSolver is the noz3 build's PathSolver constructor: stubSolver
// itself is declared in solver.go, shared with the cgo build's own
// fallback path.
func newPathSolver() PathSolver { return stubSolver{} }
