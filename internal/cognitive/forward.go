package cognitive

// Forward performs one step of the forward algorithm:
//
//	posterior[j] ∝ emission[j][obs] * Σ_i prior[i] * transition[i][j]
//
// It allocates nothing and never panics. Symbols past StreakSymbol are
// clamped. When every state assigns zero likelihood the prior is returned
// unchanged and ok is false.
func Forward(prior Belief, obs Observation, m *Model) (posterior Belief, ok bool) {
	if obs > StreakSymbol {
		obs = StreakSymbol
	}

	var sum float64
	for j := 0; j < NumStates; j++ {
		var predicted float64
		for i := 0; i < NumStates; i++ {
			predicted += prior[i] * m.Transition[i][j]
		}
		posterior[j] = predicted * m.Emission[j][obs]
		sum += posterior[j]
	}

	// !(sum > 0) also catches NaN.
	if !(sum > 0) {
		return prior, false
	}
	for j := range posterior {
		posterior[j] /= sum
	}
	return posterior, true
}
