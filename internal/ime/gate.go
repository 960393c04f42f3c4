// Package ime gates the state estimator during input method composition.
//
// While an IME composes text (kana to kanji conversion, for example) the
// typist presses keys that are not text: candidate selection, conversion and
// cancellation. Analysing them would read as struggle. The Gate pauses the
// estimator for the duration of a composition and resets its belief to flow
// when one starts.
package ime

import (
	"context"
	"errors"
	"sync"
	"time"

	"gse/internal/logging"
)

// ErrUnavailable is returned by NewDetector when composition detection is not
// supported on this platform or the input method bus cannot be reached.
var ErrUnavailable = errors.New("composition detection unavailable")

// Signal is a composition lifecycle event.
type Signal int

const (
	// CompositionStart: preedit text became visible.
	CompositionStart Signal = iota
	// CompositionUpdate: preedit text changed while composing.
	CompositionUpdate
	// CompositionEnd: text was committed or the preedit was hidden.
	CompositionEnd
)

func (s Signal) String() string {
	switch s {
	case CompositionStart:
		return "start"
	case CompositionUpdate:
		return "update"
	case CompositionEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Detector reports composition signals from the platform input method.
type Detector interface {
	Signals() <-chan Signal
	Close() error
}

// Controller is the part of the estimator the gate drives.
type Controller interface {
	SetPaused(paused bool)
	ForceFlowState()
}

// Gate translates composition signals into estimator pause and reset calls.
// A composition that has not been refreshed for the stale timeout is
// considered abandoned and ended, so a lost end signal cannot pause analysis
// forever.
type Gate struct {
	ctrl   Controller
	logger *logging.Logger
	now    func() time.Time

	mu       sync.Mutex
	active   bool
	lastSeen time.Time
	stale    time.Duration
	onChange func(active bool)
}

// NewGate creates a gate for ctrl.
func NewGate(ctrl Controller, staleTimeout time.Duration, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Default()
	}
	return &Gate{
		ctrl:   ctrl,
		logger: logger.WithComponent("ime"),
		now:    time.Now,
		stale:  staleTimeout,
	}
}

// OnChange registers a callback for composition state changes. It is called
// without the gate's lock held.
func (g *Gate) OnChange(fn func(active bool)) {
	g.mu.Lock()
	g.onChange = fn
	g.mu.Unlock()
}

// SetStaleTimeout changes the staleness timeout.
func (g *Gate) SetStaleTimeout(d time.Duration) {
	g.mu.Lock()
	g.stale = d
	g.mu.Unlock()
}

// Active reports whether a composition is in progress.
func (g *Gate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Handle applies one signal.
func (g *Gate) Handle(sig Signal) {
	switch sig {
	case CompositionStart:
		g.start()
	case CompositionUpdate:
		// An update without a start still means composition is underway.
		g.start()
	case CompositionEnd:
		g.end("committed")
	}
}

func (g *Gate) start() {
	g.mu.Lock()
	g.lastSeen = g.now()
	if g.active {
		g.mu.Unlock()
		return
	}
	g.active = true
	cb := g.onChange
	g.mu.Unlock()

	g.ctrl.SetPaused(true)
	g.ctrl.ForceFlowState()
	g.logger.Debug("composition started; analysis paused")
	if cb != nil {
		cb(true)
	}
}

func (g *Gate) end(reason string) {
	g.mu.Lock()
	if !g.active {
		g.mu.Unlock()
		return
	}
	g.active = false
	cb := g.onChange
	g.mu.Unlock()

	g.ctrl.SetPaused(false)
	g.logger.Debug("composition ended; analysis resumed", "reason", reason)
	if cb != nil {
		cb(false)
	}
}

// CheckStale ends a composition that has outlived the stale timeout and
// reports whether it did.
func (g *Gate) CheckStale() bool {
	g.mu.Lock()
	stale := g.active && g.stale > 0 && g.now().Sub(g.lastSeen) > g.stale
	timeout := g.stale
	g.mu.Unlock()

	if !stale {
		return false
	}
	g.logger.Warn("composition end never arrived; resuming analysis", "timeout", timeout)
	g.end("stale")
	return true
}

// Run consumes signals until ctx is done or signals is closed, checking for
// staleness every interval.
func (g *Gate) Run(ctx context.Context, signals <-chan Signal, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				g.end("detector closed")
				return
			}
			g.Handle(sig)
		case <-ticker.C:
			g.CheckStale()
		}
	}
}
