package device

import "time"

// Reading is one value produced by a sensor for one of its logical outputs.
type Reading struct {
	// Output names the logical output. Empty means the default output.
	Output string

	// Value is the text published when no value mapping applies.
	Value string

	// State is set for two-state outputs (door contacts, buttons) so that a
	// binding can substitute its own ON/OFF style pair.
	State *bool

	Time time.Time
}

// Emit is the callback a background sensor pushes readings through.
type Emit func(Reading)

// NewReading builds a reading stamped with the current time.
func NewReading(output, value string) Reading {
	return Reading{Output: output, Value: value, Time: time.Now()}
}

// NewStateReading builds a two-state reading.
func NewStateReading(output, value string, on bool) Reading {
	r := NewReading(output, value)
	r.State = &on
	return r
}
