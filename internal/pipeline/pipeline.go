// Package pipeline feeds key events through the feature extractor into the
// estimator.
package pipeline

import (
	"context"
	"time"

	"gse/internal/cognitive"
	"gse/internal/features"
	"gse/internal/keystroke"
)

// Step is the outcome of one keystroke.
type Step struct {
	Event  keystroke.Event
	Vector features.Vector

	// FlightMs is the gap since the previous keystroke, 0 for the first.
	FlightMs float64

	// Rule is the legacy rule classifier's label. Diagnostic only.
	Rule cognitive.State

	Result  cognitive.Result
	Elapsed time.Duration
}

// Pipeline owns the extractor for one event stream. It is not safe for
// concurrent use; the engine it feeds is.
type Pipeline struct {
	engine    *cognitive.Engine
	extractor *features.Extractor

	lastAt  float64
	hasLast bool
}

// New creates a pipeline feeding engine.
func New(engine *cognitive.Engine, cfg features.Config) *Pipeline {
	return &Pipeline{
		engine:    engine,
		extractor: features.NewExtractor(cfg),
	}
}

// Engine returns the estimator the pipeline feeds.
func (p *Pipeline) Engine() *cognitive.Engine {
	return p.engine
}

// Process handles one event. It returns false for events that are not
// keystrokes.
func (p *Pipeline) Process(ev keystroke.Event) (Step, bool) {
	fv, ok := p.extractor.Observe(ev)
	if !ok {
		return Step{}, false
	}

	var flight float64
	if p.hasLast && ev.At > p.lastAt {
		flight = ev.At - p.lastAt
	}
	p.lastAt, p.hasLast = ev.At, true

	start := time.Now()
	res := p.engine.Update(fv)
	elapsed := time.Since(start)

	return Step{
		Event:    ev,
		Vector:   fv,
		FlightMs: flight,
		Rule:     cognitive.ClassifyRule(flight, fv.Corrections, fv.PauseAfterDeleteMs),
		Result:   res,
		Elapsed:  elapsed,
	}, true
}

// Reset forgets the extractor's history.
func (p *Pipeline) Reset() {
	p.extractor.Reset()
	p.hasLast = false
}

// Run processes every event from src, calling fn for each keystroke. With
// pace set, events are delivered at their recorded spacing.
func (p *Pipeline) Run(ctx context.Context, src *keystroke.Source, pace bool, fn func(Step)) error {
	var (
		prev    float64
		started bool
		timer   *time.Timer
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	return src.Run(ctx, func(ev keystroke.Event) error {
		if pace && started && ev.At > prev {
			d := time.Duration((ev.At - prev) * float64(time.Millisecond))
			if timer == nil {
				timer = time.NewTimer(d)
			} else {
				timer.Reset(d)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
		prev, started = ev.At, true

		if step, ok := p.Process(ev); ok && fn != nil {
			fn(step)
		}
		return nil
	})
}
