package metrics

import (
	"time"

	"gse/internal/cognitive"
)

// EngineMetrics are the estimator's metrics.
type EngineMetrics struct {
	Updates      *Counter
	SkippedPause *Counter
	SkippedData  *Counter
	Degenerate   *Counter
	Recoveries   *Counter
	ForcedResets *Counter
	Transitions  *Counter
	JournalErrs  *Counter

	Belief        [cognitive.NumStates]*Gauge
	Smoothed      *Gauge
	Streak        *Gauge
	Composing     *Gauge
	UpdateLatency *Histogram
}

// NewEngineMetrics registers the estimator's metrics in r.
func NewEngineMetrics(r *Registry) *EngineMetrics {
	m := &EngineMetrics{
		Updates: r.Counter("updates_total",
			"Feature vectors folded into the belief", nil),
		SkippedPause: r.Counter("skipped_total",
			"Feature vectors ignored", Labels{"reason": cognitive.SkipPaused.String()}),
		SkippedData: r.Counter("skipped_total",
			"Feature vectors ignored", Labels{"reason": cognitive.SkipNoData.String()}),
		Degenerate: r.Counter("degenerate_total",
			"Updates where no state explained the observation", nil),
		Recoveries: r.Counter("lock_recoveries_total",
			"Critical sections recovered from a panic", nil),
		ForcedResets: r.Counter("forced_resets_total",
			"Belief resets to flow on composition start", nil),
		Transitions: r.Counter("transitions_total",
			"Changes of the most probable state", nil),
		JournalErrs: r.Counter("journal_errors_total",
			"Transitions that could not be journaled", nil),
		Smoothed: r.Gauge("smoothed_score",
			"Exponentially smoothed stuck score", nil),
		Streak: r.Gauge("backspace_streak",
			"Current run of consecutive backspaces", nil),
		Composing: r.Gauge("composition_active",
			"1 while an input method composition is in progress", nil),
		UpdateLatency: r.Histogram("update_duration_seconds",
			"Time spent in one engine update", nil, LatencyBuckets),
	}
	for _, s := range cognitive.States {
		m.Belief[s] = r.Gauge("belief", "Posterior probability per state", Labels{"state": s.String()})
	}
	return m
}

// ObserveUpdate records one engine update that took d.
func (m *EngineMetrics) ObserveUpdate(res cognitive.Result, d time.Duration) {
	switch res.Skipped {
	case cognitive.SkipPaused:
		m.SkippedPause.Inc()
		return
	case cognitive.SkipNoData:
		m.SkippedData.Inc()
		return
	}

	m.Updates.Inc()
	m.UpdateLatency.ObserveDuration(d)
	if res.Degenerate {
		m.Degenerate.Inc()
	}
	if res.Transitioned() {
		m.Transitions.Inc()
	}
	for _, s := range cognitive.States {
		m.Belief[s].Set(res.Posterior[s])
	}
	m.Smoothed.Set(res.Smoothed)
	m.Streak.Set(float64(res.Streak))
}

// ObserveForceFlow records a forced reset and the belief it installed.
func (m *EngineMetrics) ObserveForceFlow(b cognitive.Belief) {
	m.ForcedResets.Inc()
	for _, s := range cognitive.States {
		m.Belief[s].Set(b[s])
	}
	m.Smoothed.Set(0)
}
