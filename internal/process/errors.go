package process

import "errors"

// Sentinel errors for subprocess execution.
var (
	// ErrTimeout is returned when a command exceeds its time limit. The
	// whole process group has been killed by the time it is returned.
	ErrTimeout = errors.New("process: timed out")

	// ErrExitStatus is returned when a command exits non-zero.
	ErrExitStatus = errors.New("process: non-zero exit status")

	// ErrNoCommand is returned when the command line is empty.
	ErrNoCommand = errors.New("process: empty command")

	// ErrAlreadyRunning is returned by Manager.Start on a running process.
	ErrAlreadyRunning = errors.New("process: already running")
)
