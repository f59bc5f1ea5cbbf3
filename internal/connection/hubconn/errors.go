package hubconn

import "errors"

var (
	// ErrNotConnected is returned when publishing without a session.
	ErrNotConnected = errors.New("hubconn: not connected")

	// ErrAckTimeout is returned when the hub does not acknowledge a publish
	// within the acknowledgement window.
	ErrAckTimeout = errors.New("hubconn: publish not acknowledged")

	// ErrRejected is returned when the hub acknowledges a publish with an error.
	ErrRejected = errors.New("hubconn: publish rejected")
)
