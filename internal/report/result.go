package report

// Result is a finished checking run: the diagnostics the engine
// emitted through a LineMessenger, plus which checking modes were
// enabled, ready to hand to a Writer.
type Result struct {
	Module           string
	BalanceEnabled   bool
	FreshnessEnabled bool
	Findings         []*LineInfo
}

// NewResult snapshots messenger's sorted output into a Result.
func NewResult(module string, balance, freshness bool, messenger *LineMessenger) *Result {
	return &Result{
		Module:           module,
		BalanceEnabled:   balance,
		FreshnessEnabled: freshness,
		Findings:         messenger.Sorted(),
	}
}
