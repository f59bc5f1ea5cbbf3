package device

import "errors"

// Error taxonomy shared by every sensor, actuator and connection.
//
// Transport and driver packages wrap these together with their own
// sentinels so callers can classify failures with errors.Is:
//
//	if errors.Is(err, device.ErrConnectivity) {
//	    // drive the connection into Disconnected
//	}
var (
	// ErrConfiguration is returned when a device entry cannot be built.
	// It is fatal for that device only.
	ErrConfiguration = errors.New("device: configuration error")

	// ErrDeviceIO is returned when hardware or an external process fails.
	// The poll cycle produces no reading; the schedule continues.
	ErrDeviceIO = errors.New("device: i/o error")

	// ErrCommandRejected is returned for a malformed or out-of-range token.
	// No state changes and nothing is echoed.
	ErrCommandRejected = errors.New("device: command rejected")

	// ErrConnectivity is returned when a transport loses its link.
	ErrConnectivity = errors.New("device: connectivity lost")

	// ErrTimeout is returned when an external operation exceeds its bound.
	ErrTimeout = errors.New("device: operation timed out")

	// ErrNotFound is returned when a named device is not running.
	ErrNotFound = errors.New("device: not found")
)
