// Package features turns raw key events into the per-keystroke statistics
// consumed by the cognitive state engine.
//
// All statistics are computed over a sliding time window of key-down events:
//
//	F1  flight-time median (ms)
//	F2  flight-time variance (ms^2)
//	F3  correction rate (backspace+delete / keys)
//	F4  burst length (mean keys per burst)
//	F5  pause count (gaps >= pause threshold)
//	F6  post-deletion pause rate (hesitations after a correction / corrections resolved)
package features

import (
	"fmt"
	"math"
	"sort"

	"gse/internal/keystroke"
)

// Vector is the feature vector for one keystroke.
type Vector struct {
	FlightTimeMedian      float64 `json:"f1_flight_time_median"`
	FlightTimeVariance    float64 `json:"f2_flight_time_variance"`
	CorrectionRate        float64 `json:"f3_correction_rate"`
	BurstLength           float64 `json:"f4_burst_length"`
	PauseCount            float64 `json:"f5_pause_count"`
	PostDeletionPauseRate float64 `json:"f6_pause_after_del_rate"`

	// Corrections is the number of corrections in the window.
	Corrections int `json:"corrections"`

	// PauseAfterDeleteMs is the gap before this key when it ends a run of
	// corrections, 0 otherwise.
	PauseAfterDeleteMs float64 `json:"pause_after_delete_ms"`

	// Key is the key that triggered this vector, or NoKey.
	Key keystroke.KeyCode `json:"vk"`
}

// HasData reports whether the vector carries a usable flight time. The first
// key of a session and keys after a data gap have none.
func (v Vector) HasData() bool {
	return v.FlightTimeMedian > 0
}

func (v Vector) String() string {
	return fmt.Sprintf("ft=%.0fms var=%.0f corr=%.2f burst=%.1f pauses=%.0f pdr=%.2f key=%s",
		v.FlightTimeMedian, v.FlightTimeVariance, v.CorrectionRate,
		v.BurstLength, v.PauseCount, v.PostDeletionPauseRate, v.Key)
}

// Config controls the extractor windows and thresholds. All values are in
// milliseconds.
type Config struct {
	// WindowMs is the length of the sliding window.
	WindowMs float64

	// BurstGapMs splits bursts: a gap at least this long starts a new burst.
	BurstGapMs float64

	// PauseMs is the minimum gap counted as a pause.
	PauseMs float64

	// MinFlightMs drops shorter flight times (chords, auto-repeat) from
	// the flight-time statistics.
	MinFlightMs float64
}

// DefaultConfig returns the calibrated extractor settings.
func DefaultConfig() Config {
	return Config{
		WindowMs:    30_000,
		BurstGapMs:  500,
		PauseMs:     2_000,
		MinFlightMs: 10,
	}
}

// Validate checks the configuration for impossible values.
func (c Config) Validate() error {
	switch {
	case c.WindowMs <= 0:
		return fmt.Errorf("window must be positive, got %v", c.WindowMs)
	case c.BurstGapMs <= 0:
		return fmt.Errorf("burst gap must be positive, got %v", c.BurstGapMs)
	case c.PauseMs < c.BurstGapMs:
		return fmt.Errorf("pause threshold %v below burst gap %v", c.PauseMs, c.BurstGapMs)
	case c.MinFlightMs < 0:
		return fmt.Errorf("min flight must not be negative, got %v", c.MinFlightMs)
	}
	return nil
}

// stroke is one key-down retained in the window.
type stroke struct {
	at              float64
	gap             float64 // ms since previous key-down, 0 for the first
	correction      bool
	afterCorrection bool
}

// Extractor computes feature vectors from key events. It is owned by the
// capture path and is not safe for concurrent use.
type Extractor struct {
	cfg     Config
	strokes []stroke
	scratch []float64
	lastAt  float64
	hasLast bool
	lastFix bool
}

// NewExtractor creates an extractor with the given configuration.
func NewExtractor(cfg Config) *Extractor {
	return &Extractor{
		cfg:     cfg,
		strokes: make([]stroke, 0, 256),
		scratch: make([]float64, 0, 256),
	}
}

// Observe records a key event and returns the resulting feature vector.
// The boolean is false for events that are not keystrokes (key-ups and bare
// modifiers); those leave the extractor untouched.
func (e *Extractor) Observe(ev keystroke.Event) (Vector, bool) {
	if !ev.Press || ev.Code.IsModifier() {
		return Vector{}, false
	}

	gap := 0.0
	if e.hasLast {
		gap = ev.At - e.lastAt
		if gap < 0 {
			gap = 0
		}
		if gap > e.cfg.WindowMs {
			// Data gap: nothing in the window relates to this key.
			e.Reset()
			gap = 0
		}
	}

	correction := ev.Code.IsCorrection()
	e.strokes = append(e.strokes, stroke{
		at:              ev.At,
		gap:             gap,
		correction:      correction,
		afterCorrection: e.hasLast && e.lastFix,
	})
	e.lastAt = ev.At
	e.hasLast = true
	e.lastFix = correction
	e.prune(ev.At)

	v := e.compute()
	v.Key = ev.Code
	if last := e.strokes[len(e.strokes)-1]; last.afterCorrection && !last.correction {
		v.PauseAfterDeleteMs = last.gap
	}
	return v, true
}

// Reset forgets all history.
func (e *Extractor) Reset() {
	e.strokes = e.strokes[:0]
	e.hasLast = false
	e.lastFix = false
	e.lastAt = 0
}

// Len returns the number of key-downs in the window.
func (e *Extractor) Len() int {
	return len(e.strokes)
}

func (e *Extractor) prune(now float64) {
	cutoff := now - e.cfg.WindowMs
	i := 0
	for i < len(e.strokes) && e.strokes[i].at < cutoff {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(e.strokes, e.strokes[i:])
	e.strokes = e.strokes[:n]
	// The oldest retained stroke no longer has its predecessor in the window.
	if n > 0 {
		e.strokes[0].gap = 0
		e.strokes[0].afterCorrection = false
	}
}

func (e *Extractor) compute() Vector {
	var v Vector

	e.scratch = e.scratch[:0]
	corrections := 0
	bursts := 0
	pauses := 0
	resolved := 0
	hesitations := 0

	for i, s := range e.strokes {
		if s.correction {
			corrections++
		}
		if i > 0 && s.gap >= e.cfg.MinFlightMs {
			e.scratch = append(e.scratch, s.gap)
		}
		if i == 0 || s.gap >= e.cfg.BurstGapMs {
			bursts++
		}
		if s.gap >= e.cfg.PauseMs {
			pauses++
		}
		if s.afterCorrection && !s.correction {
			resolved++
			if s.gap >= e.cfg.PauseMs {
				hesitations++
			}
		}
	}

	v.Corrections = corrections
	keys := len(e.strokes)
	if keys > 0 {
		v.CorrectionRate = float64(corrections) / float64(keys)
		v.BurstLength = float64(keys) / float64(bursts)
	}
	v.PauseCount = float64(pauses)
	if resolved > 0 {
		v.PostDeletionPauseRate = float64(hesitations) / float64(resolved)
	}
	v.FlightTimeMedian, v.FlightTimeVariance = medianVariance(e.scratch)
	return v
}

// medianVariance returns the median and sample variance of xs, sorting xs in place.
func medianVariance(xs []float64) (median, variance float64) {
	n := len(xs)
	if n == 0 {
		return 0, 0
	}

	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(n)
	if n > 1 {
		var ss float64
		for _, x := range xs {
			d := x - mean
			ss += d * d
		}
		variance = ss / float64(n-1)
	}

	sort.Float64s(xs)
	if n%2 == 1 {
		median = xs[n/2]
	} else {
		median = (xs[n/2-1] + xs[n/2]) / 2
	}
	if math.IsNaN(median) {
		median = 0
	}
	return median, variance
}
