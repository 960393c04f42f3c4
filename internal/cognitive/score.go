package cognitive

import (
	"math"

	"gse/internal/features"
)

// Thresholds are the calibration points of the response functions: a feature
// equal to its threshold contributes half of its weight to the stuck score.
type Thresholds struct {
	FlightTimeMedian      float64 // ms
	FlightTimeVariance    float64 // ms^2
	CorrectionRate        float64
	BurstLength           float64 // keys
	PauseCount            float64 // pauses per window
	PostDeletionPauseRate float64
}

// DefaultThresholds are calibrated on measured typing with Japanese input:
// a 250ms median flight time is ordinary, corrections up to 10% are normal,
// bursts shorter than two keys and more than three pauses per 30s window
// indicate trouble.
var DefaultThresholds = Thresholds{
	FlightTimeMedian:      250,
	FlightTimeVariance:    2000,
	CorrectionRate:        0.10,
	BurstLength:           2,
	PauseCount:            3,
	PostDeletionPauseRate: 0.15,
}

// Feature weights. They sum to exactly 1.
const (
	weightFlightMedian   = 0.30
	weightFlightVariance = 0.10
	weightCorrection     = 0.15
	weightPostDeletion   = 0.15
	weightBurst          = 0.15
	weightPauses         = 0.15
)

// phiSlope is the slope of the response logistic in log-ratio space.
const phiSlope = 2

// Phi is the response of a feature value against its threshold: a logistic
// in log(value/beta) with slope 2, which reduces to v²/(v²+β²). It is 0.5 at
// value == beta, tends to 1 as value grows and to 0 as it shrinks. Non-positive
// and NaN values give 0, +Inf gives 1.
func Phi(value, beta float64) float64 {
	switch {
	case math.IsNaN(value) || value <= 0:
		return 0
	case math.IsInf(value, 1) || beta <= 0:
		return 1
	}
	r := math.Pow(beta/value, phiSlope)
	return 1 / (1 + r)
}

// StuckScore aggregates a feature vector into a score in [0,1] using the
// default thresholds.
func StuckScore(v features.Vector) float64 {
	return DefaultThresholds.Score(v)
}

// Score aggregates a feature vector into a score in [0,1]. Burst length is
// inverted: shorter bursts indicate struggle.
func (t Thresholds) Score(v features.Vector) float64 {
	s := weightFlightMedian*Phi(v.FlightTimeMedian, t.FlightTimeMedian) +
		weightFlightVariance*Phi(v.FlightTimeVariance, t.FlightTimeVariance) +
		weightCorrection*Phi(v.CorrectionRate, t.CorrectionRate) +
		weightPostDeletion*Phi(v.PostDeletionPauseRate, t.PostDeletionPauseRate) +
		weightBurst*(1-Phi(v.BurstLength, t.BurstLength)) +
		weightPauses*Phi(v.PauseCount, t.PauseCount)
	return clamp01(s)
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x) || x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
