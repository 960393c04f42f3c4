package cognitive

import (
	"fmt"
	"sync/atomic"

	"gse/internal/features"
	"gse/internal/keystroke"
)

// Critical section names reported to Hooks.OnRecover.
const (
	SectionBelief   = "belief"
	SectionSmoother = "smoother"
	SectionStreak   = "streak"
	SectionPaused   = "paused"
)

// SkipReason explains why an update left the engine untouched.
type SkipReason int

const (
	SkipNone SkipReason = iota
	// SkipPaused: analysis is paused, typically during IME composition.
	SkipPaused
	// SkipNoData: the vector has no flight time, as on the first key.
	SkipNoData
)

func (r SkipReason) String() string {
	switch r {
	case SkipNone:
		return "none"
	case SkipPaused:
		return "paused"
	case SkipNoData:
		return "no_data"
	default:
		return fmt.Sprintf("skip(%d)", int(r))
	}
}

// Result describes one call to Update.
type Result struct {
	Skipped     SkipReason
	Key         keystroke.KeyCode
	RawScore    float64
	Smoothed    float64
	Observation Observation
	Streak      uint32
	Prior       Belief
	Posterior   Belief

	// Degenerate is set when no state could explain the observation and the
	// prior was kept.
	Degenerate bool

	// Recovered is set when a critical section panicked during this update.
	Recovered bool
}

// Applied reports whether the update reached the belief.
func (r Result) Applied() bool {
	return r.Skipped == SkipNone
}

// Transitioned reports whether the most probable state changed.
func (r Result) Transitioned() bool {
	return r.Applied() && r.Prior.ArgMax() != r.Posterior.ArgMax()
}

// Hooks are optional callbacks. They run on the caller's goroutine outside
// every critical section; a panicking hook is swallowed.
type Hooks struct {
	OnUpdate    func(Result)
	OnRecover   func(section string, v any)
	OnForceFlow func()
}

// Stats are monotonically increasing engine counters.
type Stats struct {
	Updates       uint64 `json:"updates"`
	SkippedPaused uint64 `json:"skipped_paused"`
	SkippedNoData uint64 `json:"skipped_no_data"`
	Degenerate    uint64 `json:"degenerate"`
	ForcedResets  uint64 `json:"forced_resets"`
	Recoveries    uint64 `json:"recoveries"`
}

// Snapshot is a copy of the engine state.
type Snapshot struct {
	Belief   Belief  `json:"belief"`
	State    State   `json:"state"`
	Smoothed float64 `json:"smoothed"`
	Streak   uint32  `json:"streak"`
	Paused   bool    `json:"paused"`
	Stats    Stats   `json:"stats"`
}

// Engine is the cognitive state estimator. Construct it with New or
// NewWithModel and share it by pointer between the capture path, the
// composition gate and readers.
type Engine struct {
	model Model
	hooks Hooks
	score func(features.Vector) float64

	belief   *guarded[Belief]
	smoother *guarded[Smoother]
	streak   *guarded[StreakTracker]
	paused   *guarded[bool]

	updates       atomic.Uint64
	skippedPaused atomic.Uint64
	skippedNoData atomic.Uint64
	degenerate    atomic.Uint64
	forcedResets  atomic.Uint64
	recoveries    atomic.Uint64
}

// New returns an engine with the default model and no hooks.
func New() *Engine {
	e, err := NewWithModel(DefaultModel(), Hooks{})
	if err != nil {
		panic(err)
	}
	return e
}

// NewWithModel returns an engine for m. The model is validated only for its
// fixed beliefs; emission rows may contain zero columns, in which case
// updates observing them fall back to the prior.
func NewWithModel(m Model, hooks Hooks) (*Engine, error) {
	if !m.Initial.Normalized() {
		return nil, fmt.Errorf("%w: initial belief %v is not a distribution", ErrInvalidModel, m.Initial)
	}
	if !m.FlowReset.Normalized() {
		return nil, fmt.Errorf("%w: reset belief %v is not a distribution", ErrInvalidModel, m.FlowReset)
	}

	e := &Engine{
		model: m,
		hooks: hooks,
		score: StuckScore,
	}
	e.belief = newGuarded(SectionBelief, m.Initial, &e.recoveries, hooks.OnRecover)
	e.smoother = newGuarded(SectionSmoother, Smoother{}, &e.recoveries, hooks.OnRecover)
	e.streak = newGuarded(SectionStreak, StreakTracker{}, &e.recoveries, hooks.OnRecover)
	e.paused = newGuarded(SectionPaused, false, &e.recoveries, hooks.OnRecover)
	return e, nil
}

// Model returns a copy of the engine's parameters.
func (e *Engine) Model() Model {
	return e.model
}

// Update folds one feature vector into the belief. It is a no-op while the
// engine is paused and when the vector carries no flight time.
func (e *Engine) Update(fv features.Vector) Result {
	res := Result{Key: fv.Key}

	if e.paused.load() {
		res.Skipped = SkipPaused
		e.skippedPaused.Add(1)
		return e.finish(res)
	}
	if !fv.HasData() {
		res.Skipped = SkipNoData
		e.skippedNoData.Add(1)
		return e.finish(res)
	}

	streak, ok := e.streak.update(func(t StreakTracker) StreakTracker {
		t.OnKey(fv.Key)
		return t
	})
	res.Streak = streak.Count()
	res.Recovered = !ok

	var raw float64
	smoother, ok := e.smoother.update(func(s Smoother) Smoother {
		raw = e.score(fv)
		s.Smooth(raw)
		return s
	})
	res.RawScore = raw
	res.Smoothed = smoother.Value()
	res.Recovered = res.Recovered || !ok

	res.Observation = Discretize(res.Smoothed, res.Streak)

	belief, ok := e.belief.update(func(prior Belief) Belief {
		res.Prior = prior
		posterior, fine := Forward(prior, res.Observation, &e.model)
		res.Degenerate = !fine
		return posterior
	})
	res.Posterior = belief
	res.Recovered = res.Recovered || !ok
	if !ok {
		res.Prior = belief
	}

	e.updates.Add(1)
	if res.Degenerate {
		e.degenerate.Add(1)
	}
	return e.finish(res)
}

func (e *Engine) finish(res Result) Result {
	if e.hooks.OnUpdate != nil {
		func() {
			defer func() { _ = recover() }()
			e.hooks.OnUpdate(res)
		}()
	}
	return res
}

// SetPaused sets the pause flag. Setting it to its current value is a no-op.
func (e *Engine) SetPaused(paused bool) {
	e.paused.store(paused)
}

// IsPaused reports whether analysis is paused.
func (e *Engine) IsPaused() bool {
	return e.paused.load()
}

// ForceFlowState resets the belief to the flow reset vector and the smoothed
// score to 0. The pause flag and the backspace streak are left alone.
func (e *Engine) ForceFlowState() {
	e.belief.store(e.model.FlowReset)
	e.smoother.update(func(s Smoother) Smoother {
		s.Reset()
		return s
	})
	e.forcedResets.Add(1)
	if e.hooks.OnForceFlow != nil {
		func() {
			defer func() { _ = recover() }()
			e.hooks.OnForceFlow()
		}()
	}
}

// Probabilities returns the current belief keyed by state.
func (e *Engine) Probabilities() map[State]float64 {
	return e.belief.load().Map()
}

// CurrentState returns the most probable state.
func (e *Engine) CurrentState() State {
	return e.belief.load().ArgMax()
}

// Belief returns the current belief.
func (e *Engine) Belief() Belief {
	return e.belief.load()
}

// Recoveries returns how many critical sections have recovered from a panic.
func (e *Engine) Recoveries() uint64 {
	return e.recoveries.Load()
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Updates:       e.updates.Load(),
		SkippedPaused: e.skippedPaused.Load(),
		SkippedNoData: e.skippedNoData.Load(),
		Degenerate:    e.degenerate.Load(),
		ForcedResets:  e.forcedResets.Load(),
		Recoveries:    e.recoveries.Load(),
	}
}

// Snapshot copies the engine state. Each field is read under its own lock.
func (e *Engine) Snapshot() Snapshot {
	b := e.belief.load()
	return Snapshot{
		Belief:   b,
		State:    b.ArgMax(),
		Smoothed: e.smoother.load().Value(),
		Streak:   e.streak.load().Count(),
		Paused:   e.paused.load(),
		Stats:    e.Stats(),
	}
}
