package cognitive

import (
	"math"

	"gse/internal/keystroke"
)

// Observation is a discretized stuck score, 0 through 10.
type Observation uint8

const (
	// NumObservations is the number of observation symbols.
	NumObservations = 11

	// StreakSymbol is forced by a backspace storm. Score magnitude only
	// reaches it at the extreme.
	StreakSymbol Observation = 10

	// StreakThreshold is the backspace run length treated as deliberate
	// rework rather than ordinary typo correction.
	StreakThreshold = 5
)

// Discretize maps a smoothed score to an observation symbol. A backspace
// streak at or above StreakThreshold forces StreakSymbol regardless of score.
func Discretize(smoothed float64, streak uint32) Observation {
	if streak >= StreakThreshold {
		return StreakSymbol
	}
	if math.IsNaN(smoothed) || smoothed <= 0 {
		return 0
	}
	bin := math.Floor(smoothed * 10)
	if bin >= float64(StreakSymbol) {
		return StreakSymbol
	}
	return Observation(bin)
}

// StreakTracker counts consecutive backspaces.
type StreakTracker struct {
	n uint32
}

// OnKey updates the streak for a key and returns the new count. Backspace
// increments; any other recognized key resets to 0. NoKey and unrecognized
// codes leave the streak unchanged so filtered events cannot break a genuine
// run.
func (t *StreakTracker) OnKey(code keystroke.KeyCode) uint32 {
	switch {
	case code.IsBackspace():
		if t.n < math.MaxUint32 {
			t.n++
		}
	case code.Recognized():
		t.n = 0
	}
	return t.n
}

// Count returns the current streak.
func (t StreakTracker) Count() uint32 {
	return t.n
}
