package cognitive

// Rule classifier thresholds.
const (
	ruleStuckPauseAfterDeleteMs = 2000
	ruleStuckFlightMs           = 500
	ruleStuckCorrections        = 5
	ruleFlowFlightMs            = 100
	ruleFlowCorrections         = 2
)

// ClassifyRule labels a keystroke with fixed thresholds. It predates the
// probabilistic engine and is kept as a diagnostic next to the belief's
// arg-max; the engine never consults it.
func ClassifyRule(flightMs float64, corrections int, pauseAfterDeleteMs float64) State {
	if pauseAfterDeleteMs >= ruleStuckPauseAfterDeleteMs ||
		flightMs > ruleStuckFlightMs ||
		corrections > ruleStuckCorrections {
		return Stuck
	}
	if flightMs < ruleFlowFlightMs && corrections < ruleFlowCorrections {
		return Flow
	}
	return Incubation
}
