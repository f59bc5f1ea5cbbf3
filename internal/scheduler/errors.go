package scheduler

import "errors"

var (
	// ErrNotBackground is returned when registering a sensor with no
	// interval that cannot run in the background.
	ErrNotBackground = errors.New("scheduler: sensor has no interval and no background mode")

	// ErrDuplicate is returned when a sensor name is registered twice.
	ErrDuplicate = errors.New("scheduler: sensor already registered")

	// ErrStopped is returned when registering after Stop.
	ErrStopped = errors.New("scheduler: stopped")

	// ErrGraceExceeded is returned by Stop when workers were still running
	// at the end of the grace period. They are abandoned, not killed.
	ErrGraceExceeded = errors.New("scheduler: shutdown grace period exceeded")
)
