package cognitive

// SmoothingAlpha is the weight of the newest raw score in the moving average.
const SmoothingAlpha = 0.3

// Smoother is an exponentially weighted moving average over the stuck score.
// It suppresses one-off spikes, such as a triple space, that would otherwise
// flip the observation symbol. The zero value starts at 0.
type Smoother struct {
	value float64
}

// Smooth folds raw into the average and returns the new value:
// ewma = 0.3*raw + 0.7*ewma.
func (s *Smoother) Smooth(raw float64) float64 {
	s.value = SmoothingAlpha*raw + (1-SmoothingAlpha)*s.value
	return s.value
}

// Value returns the current average.
func (s Smoother) Value() float64 {
	return s.value
}

// Reset returns the average to 0.
func (s *Smoother) Reset() {
	s.value = 0
}
