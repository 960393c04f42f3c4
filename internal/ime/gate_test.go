package ime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu     sync.Mutex
	paused bool
	calls  []string
}

func (f *fakeController) SetPaused(p bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = p
	if p {
		f.calls = append(f.calls, "pause")
	} else {
		f.calls = append(f.calls, "resume")
	}
}

func (f *fakeController) ForceFlowState() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "flow")
}

func (f *fakeController) snapshot() (bool, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused, append([]string(nil), f.calls...)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGate(stale time.Duration) (*Gate, *fakeController, *fakeClock) {
	ctrl := &fakeController{}
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	g := NewGate(ctrl, stale, nil)
	g.now = clock.now
	return g, ctrl, clock
}

func TestGateStartPausesAndResets(t *testing.T) {
	g, ctrl, _ := newTestGate(time.Second)

	g.Handle(CompositionStart)

	paused, calls := ctrl.snapshot()
	assert.True(t, paused)
	assert.Equal(t, []string{"pause", "flow"}, calls)
	assert.True(t, g.Active())
}

func TestGateUpdatesDoNotRepeatReset(t *testing.T) {
	g, ctrl, _ := newTestGate(time.Second)

	g.Handle(CompositionStart)
	g.Handle(CompositionUpdate)
	g.Handle(CompositionUpdate)

	_, calls := ctrl.snapshot()
	assert.Equal(t, []string{"pause", "flow"}, calls)
}

func TestGateUpdateWithoutStart(t *testing.T) {
	g, ctrl, _ := newTestGate(time.Second)

	g.Handle(CompositionUpdate)

	paused, calls := ctrl.snapshot()
	assert.True(t, paused)
	assert.Equal(t, []string{"pause", "flow"}, calls)
}

func TestGateEndResumes(t *testing.T) {
	g, ctrl, _ := newTestGate(time.Second)

	g.Handle(CompositionStart)
	g.Handle(CompositionEnd)

	paused, calls := ctrl.snapshot()
	assert.False(t, paused)
	assert.Equal(t, []string{"pause", "flow", "resume"}, calls)
	assert.False(t, g.Active())

	// A second end is ignored.
	g.Handle(CompositionEnd)
	_, calls = ctrl.snapshot()
	assert.Len(t, calls, 3)
}

func TestGateEndWithoutStart(t *testing.T) {
	g, ctrl, _ := newTestGate(time.Second)

	g.Handle(CompositionEnd)

	_, calls := ctrl.snapshot()
	assert.Empty(t, calls)
}

func TestGateStaleComposition(t *testing.T) {
	g, ctrl, clock := newTestGate(5 * time.Second)

	g.Handle(CompositionStart)
	clock.advance(3 * time.Second)
	assert.False(t, g.CheckStale())

	// Updates refresh the deadline.
	g.Handle(CompositionUpdate)
	clock.advance(3 * time.Second)
	assert.False(t, g.CheckStale())

	clock.advance(3 * time.Second)
	assert.True(t, g.CheckStale())
	assert.False(t, g.Active())

	paused, _ := ctrl.snapshot()
	assert.False(t, paused)
	assert.False(t, g.CheckStale())
}

func TestGateZeroTimeoutNeverStale(t *testing.T) {
	g, _, clock := newTestGate(0)

	g.Handle(CompositionStart)
	clock.advance(time.Hour)
	assert.False(t, g.CheckStale())
	assert.True(t, g.Active())
}

func TestGateOnChange(t *testing.T) {
	g, _, _ := newTestGate(time.Second)

	var changes []bool
	g.OnChange(func(active bool) { changes = append(changes, active) })

	g.Handle(CompositionStart)
	g.Handle(CompositionUpdate)
	g.Handle(CompositionEnd)

	assert.Equal(t, []bool{true, false}, changes)
}

func TestGateRunEndsWhenDetectorCloses(t *testing.T) {
	g, ctrl, _ := newTestGate(time.Minute)

	signals := make(chan Signal)
	done := make(chan struct{})
	go func() {
		g.Run(context.Background(), signals, time.Hour)
		close(done)
	}()

	signals <- CompositionStart
	close(signals)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the signal channel closed")
	}

	paused, calls := ctrl.snapshot()
	assert.False(t, paused)
	require.Equal(t, []string{"pause", "flow", "resume"}, calls)
}

func TestGateRunStopsOnCancel(t *testing.T) {
	g, _, _ := newTestGate(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx, make(chan Signal), time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSignalString(t *testing.T) {
	assert.Equal(t, "start", CompositionStart.String())
	assert.Equal(t, "update", CompositionUpdate.String())
	assert.Equal(t, "end", CompositionEnd.String())
	assert.Equal(t, "unknown", Signal(42).String())
}
