package device

// State is the logical state of an actuator as it is echoed.
type State struct {
	// Level is 0-100. Binary actuators use 0 and 100.
	Level int

	// Text replaces the level in echoes when set, for actuators whose state
	// is not a level (the result line of a command actuator).
	Text string
}

// Actuator is a device that accepts commands.
type Actuator interface {
	Name() string

	// HandleCommand applies a remote command token. source names the
	// connection it arrived on. A rejected token wraps ErrCommandRejected.
	HandleCommand(source, token string) error

	// Force applies a connectivity-driven target without debounce and
	// without recording it as the last commanded value.
	Force(token string) error

	// LastCommanded returns the last remotely commanded token that changed
	// state, or "" if none was received.
	LastCommanded() string

	CurrentState() State

	// SetPublisher installs the echo callback. It is called outside the
	// actuator's lock after every accepted command.
	SetPublisher(func(State))

	Close() error
}
