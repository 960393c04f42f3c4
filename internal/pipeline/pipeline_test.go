package pipeline

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gse/internal/cognitive"
	"gse/internal/features"
	"gse/internal/keystroke"
)

const keyA = keystroke.KeyCode('A')

func recording(t *testing.T, events []keystroke.Event) *keystroke.Source {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, keystroke.WriteRecording(&buf, events))
	src, err := keystroke.NewSource(&buf)
	require.NoError(t, err)
	return src
}

func steadyTyping(n int, gapMs float64) []keystroke.Event {
	events := make([]keystroke.Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, keystroke.Event{Code: keyA, At: float64(i) * gapMs, Press: true})
	}
	return events
}

func TestProcessFirstKeyHasNoData(t *testing.T) {
	p := New(cognitive.New(), features.DefaultConfig())

	step, ok := p.Process(keystroke.Event{Code: keyA, At: 100, Press: true})
	require.True(t, ok)
	assert.Equal(t, cognitive.SkipNoData, step.Result.Skipped)
	assert.Equal(t, 0.0, step.FlightMs)

	step, ok = p.Process(keystroke.Event{Code: keyA, At: 180, Press: true})
	require.True(t, ok)
	assert.True(t, step.Result.Applied())
	assert.Equal(t, 80.0, step.FlightMs)
	assert.Equal(t, cognitive.Flow, step.Rule)
}

func TestProcessIgnoresKeyUps(t *testing.T) {
	p := New(cognitive.New(), features.DefaultConfig())

	_, ok := p.Process(keystroke.Event{Code: keyA, At: 100, Press: false})
	assert.False(t, ok)
	assert.Equal(t, uint64(0), p.Engine().Stats().Updates)
}

func TestRunFastTypingReachesFlow(t *testing.T) {
	e := cognitive.New()
	p := New(e, features.DefaultConfig())

	var steps []Step
	err := p.Run(context.Background(), recording(t, steadyTyping(40, 80)), false, func(s Step) {
		steps = append(steps, s)
	})
	require.NoError(t, err)

	require.Len(t, steps, 40)
	assert.Equal(t, cognitive.Flow, e.CurrentState())
	assert.Greater(t, e.Belief()[cognitive.Flow], 0.8)
}

func TestRunBackspaceStormRaisesStuck(t *testing.T) {
	e := cognitive.New()
	p := New(e, features.DefaultConfig())

	events := steadyTyping(10, 150)
	at := events[len(events)-1].At
	for i := 0; i < 8; i++ {
		at += 120
		events = append(events, keystroke.Event{Code: keystroke.Backspace, At: at, Press: true})
	}

	var last Step
	require.NoError(t, p.Run(context.Background(), recording(t, events), false, func(s Step) { last = s }))

	assert.Equal(t, cognitive.StreakSymbol, last.Result.Observation)
	assert.Equal(t, cognitive.Stuck, e.CurrentState())
}

func TestRunPacedHonoursCancel(t *testing.T) {
	p := New(cognitive.New(), features.DefaultConfig())
	events := []keystroke.Event{
		{Code: keyA, At: 0, Press: true},
		{Code: keyA, At: 60_000, Press: true},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.Run(ctx, recording(t, events), true, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunPacedDelivers(t *testing.T) {
	p := New(cognitive.New(), features.DefaultConfig())

	var n int
	err := p.Run(context.Background(), recording(t, steadyTyping(3, 10)), true, func(Step) { n++ })
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestReset(t *testing.T) {
	p := New(cognitive.New(), features.DefaultConfig())
	p.Process(keystroke.Event{Code: keyA, At: 0, Press: true})
	p.Reset()

	step, ok := p.Process(keystroke.Event{Code: keyA, At: 50, Press: true})
	require.True(t, ok)
	assert.Equal(t, 0.0, step.FlightMs)
	assert.Equal(t, cognitive.SkipNoData, step.Result.Skipped)
}
