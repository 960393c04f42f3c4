package cognitive

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Model holds the fixed parameters of the state estimator.
type Model struct {
	// Transition[i][j] is P(state j at t | state i at t-1). Rows sum to 1.
	Transition [NumStates][NumStates]float64

	// Emission[j][k] is P(observation k | state j). Column StreakSymbol is
	// an out-of-band penalty signal, so rows are not required to sum to 1.
	Emission [NumStates][NumObservations]float64

	// Initial is the belief of a freshly constructed engine.
	Initial Belief

	// FlowReset is the belief installed by ForceFlowState.
	FlowReset Belief
}

// DefaultModel returns the literature-calibrated parameters.
//
// Transition sources:
//   - Flow stays 0.92: flow episodes last minutes (Csikszentmihalyi 1990);
//     1/(1-0.92) = 12.5 keystrokes is a conservative lower bound.
//   - Flow to Incubation 0.07 and Flow to Stuck 0.01 follow pause frequency
//     in writing tasks (Hall et al. 2024); direct fast-to-stuck is rare.
//   - Incubation stays 0.82 (Sio & Ormerod 2009 meta-analysis).
//   - Stuck stays 0.80 so that recovery takes about five keystrokes.
//
// Emissions: Flow concentrates on low bins, Incubation spreads over the
// middle and high bins, Stuck only fires on bins 5 and up. Bin 10 is reserved
// for backspace storms and is almost exclusively Stuck.
func DefaultModel() Model {
	return Model{
		Transition: [NumStates][NumStates]float64{
			{0.92, 0.07, 0.01},
			{0.10, 0.82, 0.08},
			{0.05, 0.15, 0.80},
		},
		Emission: [NumStates][NumObservations]float64{
			{0.35, 0.25, 0.15, 0.10, 0.07, 0.05, 0.02, 0.01, 0.0, 0.0, 0.0},
			{0.02, 0.03, 0.05, 0.08, 0.10, 0.15, 0.20, 0.20, 0.10, 0.06, 0.01},
			{0.0, 0.0, 0.01, 0.02, 0.05, 0.10, 0.20, 0.30, 0.20, 0.10, 0.99},
		},
		Initial:   Belief{0.7, 0.2, 0.1},
		FlowReset: Belief{0.98, 0.01, 0.01},
	}
}

// ErrInvalidModel is wrapped by every Validate failure.
var ErrInvalidModel = errors.New("invalid model")

// Validate checks that the transition matrix is row-stochastic, emissions are
// probabilities and both fixed beliefs are normalized.
func (m *Model) Validate() error {
	a := m.transitionMatrix()
	for i := 0; i < NumStates; i++ {
		row := mat.Row(nil, i, a)
		if floats.HasNaN(row) || floats.Min(row) < 0 {
			return fmt.Errorf("%w: transition row %s has a negative entry", ErrInvalidModel, State(i))
		}
		if sum := floats.Sum(row); math.Abs(sum-1) > normTolerance {
			return fmt.Errorf("%w: transition row %s sums to %v", ErrInvalidModel, State(i), sum)
		}
	}
	for j := 0; j < NumStates; j++ {
		row := m.Emission[j][:]
		if floats.HasNaN(row) || floats.Min(row) < 0 || floats.Max(row) > 1 {
			return fmt.Errorf("%w: emission row %s outside [0,1]", ErrInvalidModel, State(j))
		}
	}
	if !m.Initial.Normalized() {
		return fmt.Errorf("%w: initial belief %v is not a distribution", ErrInvalidModel, m.Initial)
	}
	if !m.FlowReset.Normalized() {
		return fmt.Errorf("%w: reset belief %v is not a distribution", ErrInvalidModel, m.FlowReset)
	}
	return nil
}

// Stationary returns the long-run state distribution of the transition
// chain, ignoring observations.
func (m *Model) Stationary() Belief {
	at := m.transitionMatrix().T()
	pi := mat.NewVecDense(NumStates, []float64{1.0 / 3, 1.0 / 3, 1.0 / 3})
	var next mat.VecDense

	for i := 0; i < 10_000; i++ {
		next.MulVec(at, pi)
		if floats.Distance(next.RawVector().Data, pi.RawVector().Data, 1) < 1e-13 {
			break
		}
		pi.CopyVec(&next)
	}

	var b Belief
	total := floats.Sum(next.RawVector().Data)
	for i := range b {
		b[i] = next.AtVec(i) / total
	}
	return b
}

// ExpectedDwell returns the expected number of consecutive keystrokes spent
// in s once entered, 1/(1-a_ss).
func (m *Model) ExpectedDwell(s State) float64 {
	stay := m.Transition[s][s]
	if stay >= 1 {
		return math.Inf(1)
	}
	return 1 / (1 - stay)
}

func (m *Model) transitionMatrix() *mat.Dense {
	data := make([]float64, 0, NumStates*NumStates)
	for i := range m.Transition {
		data = append(data, m.Transition[i][:]...)
	}
	return mat.NewDense(NumStates, NumStates, data)
}
