// Package cognitive estimates a typist's cognitive state from keystroke
// features.
//
// Three hidden states are tracked: Flow (fluent input), Incubation
// (deliberate pausing) and Stuck (long pauses or heavy correction). Each
// keystroke is reduced to a single stuck score, smoothed, discretized into one
// of eleven observation symbols and folded into the current belief with one
// step of the forward algorithm.
//
//	features.Vector -> StuckScore -> Smoother -> Discretize (+ streak) -> Forward -> Belief
//
// The Engine owns all mutable state and is safe for one writer (the capture
// callback) and any number of concurrent readers.
package cognitive

import (
	"fmt"
	"math"
)

// State is one of the tracked cognitive states.
type State int

const (
	Flow State = iota
	Incubation
	Stuck

	// NumStates is the number of hidden states.
	NumStates = 3
)

// States lists every state in index order.
var States = [NumStates]State{Flow, Incubation, Stuck}

func (s State) String() string {
	switch s {
	case Flow:
		return "flow"
	case Incubation:
		return "incubation"
	case Stuck:
		return "stuck"
	default:
		return "unknown"
	}
}

// ParseState parses the String form of a state.
func ParseState(name string) (State, error) {
	for _, s := range States {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown state %q", name)
}

// normTolerance is the allowed deviation of a belief sum from 1.
const normTolerance = 1e-9

// Belief is a probability distribution over the states, indexed by State.
type Belief [NumStates]float64

// Prob returns the probability of s.
func (b Belief) Prob(s State) float64 {
	if s < 0 || int(s) >= NumStates {
		return 0
	}
	return b[s]
}

// Sum returns the total probability mass.
func (b Belief) Sum() float64 {
	return b[Flow] + b[Incubation] + b[Stuck]
}

// ArgMax returns the most probable state. Ties resolve toward Flow.
func (b Belief) ArgMax() State {
	best := Flow
	for _, s := range States[1:] {
		if b[s] > b[best] {
			best = s
		}
	}
	return best
}

// Normalized reports whether every component is finite and in [0,1] and the
// components sum to 1.
func (b Belief) Normalized() bool {
	for _, p := range b {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return false
		}
	}
	return math.Abs(b.Sum()-1) <= normTolerance
}

// Map returns the belief keyed by state.
func (b Belief) Map() map[State]float64 {
	return map[State]float64{
		Flow:       b[Flow],
		Incubation: b[Incubation],
		Stuck:      b[Stuck],
	}
}

func (b Belief) String() string {
	return fmt.Sprintf("FLOW=%.2f%% INC=%.2f%% STUCK=%.2f%%",
		b[Flow]*100, b[Incubation]*100, b[Stuck]*100)
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
