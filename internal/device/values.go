package device

import "strconv"

// Default echo pair for actuators.
const (
	ValueOn  = "ON"
	ValueOff = "OFF"
)

// Values maps states onto the text published on one binding.
//
// The zero value publishes readings unchanged and actuator levels as
// ON/OFF.
type Values struct {
	On  string
	Off string

	// Raw publishes the numeric level instead of the pair.
	Raw bool
}

// NewValues builds a mapping from a binding's two-element pair.
// The first element is published for ON, the second for OFF.
func NewValues(pair []string, raw bool) Values {
	v := Values{Raw: raw}
	if len(pair) == 2 {
		v.On, v.Off = pair[0], pair[1]
	}
	return v
}

func (v Values) custom() bool {
	return v.On != "" || v.Off != ""
}

// Reading returns the text to publish for r.
//
// Two-state readings use the custom pair when one is configured; anything
// else is published as the sensor produced it.
func (v Values) Reading(r Reading) string {
	if r.State == nil || !v.custom() {
		return r.Value
	}
	if *r.State {
		return v.On
	}
	return v.Off
}

// State returns the text to echo for an actuator state.
func (v Values) State(s State) string {
	if s.Text != "" {
		return s.Text
	}
	if v.Raw {
		return strconv.Itoa(s.Level)
	}
	on, off := ValueOn, ValueOff
	if v.custom() {
		on, off = v.On, v.Off
	}
	if s.Level > 0 {
		return on
	}
	return off
}
