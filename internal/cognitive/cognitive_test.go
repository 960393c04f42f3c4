package cognitive

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gse/internal/features"
	"gse/internal/keystroke"
)

const keyA = keystroke.KeyCode('A')

// neutral puts every feature exactly at its threshold, giving a raw score
// of 0.5.
func neutral(key keystroke.KeyCode) features.Vector {
	t := DefaultThresholds
	return features.Vector{
		FlightTimeMedian:      t.FlightTimeMedian,
		FlightTimeVariance:    t.FlightTimeVariance,
		CorrectionRate:        t.CorrectionRate,
		BurstLength:           t.BurstLength,
		PauseCount:            t.PauseCount,
		PostDeletionPauseRate: t.PostDeletionPauseRate,
		Key:                   key,
	}
}

func fastTyping() features.Vector {
	return features.Vector{
		FlightTimeMedian:   80,
		FlightTimeVariance: 200,
		BurstLength:        20,
		Key:                keyA,
	}
}

// =============================================================================
// Data model
// =============================================================================

func TestState_String(t *testing.T) {
	assert.Equal(t, "flow", Flow.String())
	assert.Equal(t, "incubation", Incubation.String())
	assert.Equal(t, "stuck", Stuck.String())
	assert.Equal(t, "unknown", State(7).String())

	for _, s := range States {
		parsed, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseState("bored")
	assert.Error(t, err)
}

func TestState_Text(t *testing.T) {
	text, err := Stuck.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "stuck", string(text))

	var s State
	require.NoError(t, s.UnmarshalText([]byte("incubation")))
	assert.Equal(t, Incubation, s)
	assert.Error(t, s.UnmarshalText([]byte("nope")))
}

func TestBelief(t *testing.T) {
	b := Belief{0.2, 0.5, 0.3}
	assert.Equal(t, Incubation, b.ArgMax())
	assert.InDelta(t, 1.0, b.Sum(), 1e-12)
	assert.True(t, b.Normalized())
	assert.Equal(t, 0.3, b.Prob(Stuck))
	assert.Equal(t, 0.0, b.Prob(State(9)))
	assert.Equal(t, 0.5, b.Map()[Incubation])

	assert.Equal(t, Flow, Belief{0.4, 0.4, 0.2}.ArgMax(), "ties resolve toward flow")
	assert.False(t, Belief{0.5, 0.5, 0.5}.Normalized())
	assert.False(t, Belief{math.NaN(), 0.5, 0.5}.Normalized())
	assert.False(t, Belief{-0.1, 0.6, 0.5}.Normalized())
}

// =============================================================================
// Scoring
// =============================================================================

func TestPhi(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		beta  float64
		want  float64
	}{
		{"at threshold", 250, 250, 0.5},
		{"double threshold", 500, 250, 0.8},
		{"half threshold", 125, 250, 0.2},
		{"zero", 0, 250, 0},
		{"negative", -5, 250, 0},
		{"nan", math.NaN(), 250, 0},
		{"infinite", math.Inf(1), 250, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Phi(tt.value, tt.beta), 1e-12)
		})
	}
}

func TestPhi_Monotone(t *testing.T) {
	prev := 0.0
	for v := 1.0; v < 10_000; v *= 1.5 {
		got := Phi(v, 250)
		assert.Greater(t, got, prev)
		assert.LessOrEqual(t, got, 1.0)
		prev = got
	}
}

func TestStuckScore(t *testing.T) {
	assert.InDelta(t, 0.5, StuckScore(neutral(keyA)), 1e-12)

	fast := StuckScore(fastTyping())
	assert.InDelta(t, 0.0304, fast, 1e-3)

	// An empty vector still pays the burst term: no bursts means struggle.
	assert.InDelta(t, 0.15, StuckScore(features.Vector{}), 1e-12)

	extreme := features.Vector{
		FlightTimeMedian:      math.Inf(1),
		FlightTimeVariance:    math.Inf(1),
		CorrectionRate:        math.Inf(1),
		PauseCount:            math.Inf(1),
		PostDeletionPauseRate: math.Inf(1),
	}
	assert.InDelta(t, 1.0, StuckScore(extreme), 1e-12)

	nan := features.Vector{FlightTimeMedian: math.NaN(), BurstLength: math.NaN()}
	s := StuckScore(nan)
	assert.False(t, math.IsNaN(s))
	assert.GreaterOrEqual(t, s, 0.0)
	assert.LessOrEqual(t, s, 1.0)
}

func TestWeightsSumToOne(t *testing.T) {
	sum := weightFlightMedian + weightFlightVariance + weightCorrection +
		weightPostDeletion + weightBurst + weightPauses
	assert.InDelta(t, 1.0, sum, 1e-12)
}

// =============================================================================
// Smoothing and discretization
// =============================================================================

func TestSmoother_Sequence(t *testing.T) {
	var s Smoother
	want := []float64{0.15, 0.255, 0.3285, 0.37995, 0.415965, 0.4411755}
	for i, w := range want {
		assert.InDelta(t, w, s.Smooth(0.5), 1e-12, "step %d", i+1)
	}
	s.Reset()
	assert.Equal(t, 0.0, s.Value())
}

func TestSmoother_MonotoneUnderConstantInput(t *testing.T) {
	for _, target := range []float64{0, 0.2, 0.9, 1} {
		var s Smoother
		s.Smooth(0.6)
		prevDist := math.Abs(s.Value() - target)
		for i := 0; i < 50; i++ {
			s.Smooth(target)
			dist := math.Abs(s.Value() - target)
			assert.LessOrEqual(t, dist, prevDist)
			prevDist = dist
		}
	}
}

func TestDiscretize(t *testing.T) {
	tests := []struct {
		smoothed float64
		streak   uint32
		want     Observation
	}{
		{0, 0, 0},
		{0.09, 0, 0},
		{0.15, 0, 1},
		{0.55, 4, 5},
		{0.99, 0, 9},
		{1.0, 0, 10},
		{1.7, 0, 10},
		{-0.3, 0, 0},
		{math.NaN(), 0, 0},
		{0.0, 5, StreakSymbol},
		{0.3, 200, StreakSymbol},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Discretize(tt.smoothed, tt.streak), "smoothed=%v streak=%d", tt.smoothed, tt.streak)
	}
}

func TestStreakTracker(t *testing.T) {
	var st StreakTracker
	for i := 1; i <= 3; i++ {
		assert.Equal(t, uint32(i), st.OnKey(keystroke.Backspace))
	}
	assert.Equal(t, uint32(3), st.OnKey(keystroke.NoKey), "no key leaves the streak")
	assert.Equal(t, uint32(3), st.OnKey(keystroke.KeyCode(0x1FF)), "unrecognized leaves the streak")
	assert.Equal(t, uint32(4), st.OnKey(keystroke.Backspace))
	assert.Equal(t, uint32(0), st.OnKey(keystroke.Delete), "forward delete is not backspace")
	assert.Equal(t, uint32(1), st.OnKey(keystroke.Backspace))
	assert.Equal(t, uint32(0), st.OnKey(keyA))
	assert.Equal(t, uint32(0), st.Count())

	st.n = math.MaxUint32
	assert.Equal(t, uint32(math.MaxUint32), st.OnKey(keystroke.Backspace), "saturates")
}

// =============================================================================
// Forward step
// =============================================================================

func TestForward_Normalizes(t *testing.T) {
	m := DefaultModel()
	prior := m.Initial
	for obs := Observation(0); obs < NumObservations; obs++ {
		post, ok := Forward(prior, obs, &m)
		require.True(t, ok, "obs %d", obs)
		assert.True(t, post.Normalized(), "obs %d: %v", obs, post)
	}
}

func TestForward_ClampsObservation(t *testing.T) {
	m := DefaultModel()
	want, _ := Forward(m.Initial, StreakSymbol, &m)
	got, ok := Forward(m.Initial, Observation(200), &m)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

func TestForward_Degenerate(t *testing.T) {
	m := DefaultModel()
	for j := range m.Emission {
		m.Emission[j][4] = 0
	}
	prior := Belief{0.5, 0.3, 0.2}
	post, ok := Forward(prior, 4, &m)
	assert.False(t, ok)
	assert.Equal(t, prior, post)
}

func TestForward_FirstStepFromInitial(t *testing.T) {
	m := DefaultModel()
	post, ok := Forward(m.Initial, 0, &m)
	require.True(t, ok)
	// Only flow and incubation emit symbol 0.
	assert.Equal(t, 0.0, post[Stuck])
	assert.Greater(t, post[Flow], 0.95)
}

// =============================================================================
// Rule classifier
// =============================================================================

func TestClassifyRule(t *testing.T) {
	tests := []struct {
		name        string
		flight      float64
		corrections int
		pause       float64
		want        State
	}{
		{"fast and clean", 80, 0, 0, Flow},
		{"fast with one fix", 90, 1, 0, Flow},
		{"medium", 200, 1, 0, Incubation},
		{"fast with fixes", 80, 3, 0, Incubation},
		{"slow", 600, 0, 0, Stuck},
		{"many fixes", 120, 6, 0, Stuck},
		{"hesitation after delete", 100, 1, 2000, Stuck},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyRule(tt.flight, tt.corrections, tt.pause))
		})
	}
}
