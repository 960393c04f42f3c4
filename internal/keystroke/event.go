package keystroke

import "time"

// Event is a single keyboard transition from the capture layer.
type Event struct {
	// Code is the virtual-key code, or NoKey if the event could not be identified.
	Code KeyCode `json:"vk"`

	// At is the event time in milliseconds on a monotonic clock. Only
	// differences between events are meaningful.
	At float64 `json:"t"`

	// Press is true for key-down and false for key-up.
	Press bool `json:"press"`
}

// Clock converts wall-clock readings into monotonic milliseconds relative to
// a fixed origin. time.Time values from time.Now carry a monotonic reading,
// so Since is immune to wall-clock steps.
type Clock struct {
	origin time.Time
}

// NewClock returns a clock whose origin is now.
func NewClock() *Clock {
	return &Clock{origin: time.Now()}
}

// Millis returns milliseconds elapsed between the origin and t.
func (c *Clock) Millis(t time.Time) float64 {
	return float64(t.Sub(c.origin)) / float64(time.Millisecond)
}

// Now returns milliseconds elapsed since the origin.
func (c *Clock) Now() float64 {
	return c.Millis(time.Now())
}

// KeyDown builds a press event stamped with the clock's current time.
func (c *Clock) KeyDown(code KeyCode) Event {
	return Event{Code: code, At: c.Now(), Press: true}
}
