package connection

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-reporter/internal/device"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("connection: closed")

	// ErrNotConnected is returned for publishes while disconnected. It wraps
	// device.ErrConnectivity.
	ErrNotConnected = fmt.Errorf("connection: not connected: %w", device.ErrConnectivity)
)

// IsLinkFailure reports whether err means the link is gone: a missing
// acknowledgement or a connectivity error.
func IsLinkFailure(err error) bool {
	return errors.Is(err, device.ErrTimeout) || errors.Is(err, device.ErrConnectivity)
}
