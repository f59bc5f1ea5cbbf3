package connection

import "context"

// Status markers published to a connection's status destination.
const (
	StatusOnline  = "ONLINE"
	StatusOffline = "OFFLINE"
)

// Message is one outbound publish.
type Message struct {
	Destination string
	Payload     string
	Retain      bool

	// Attributes carries binding hints a transport may interpret.
	Attributes map[string]string
}

// Handler receives the payload of an inbound message.
type Handler func(payload string)

// Transport is one concrete messaging endpoint.
//
// Implementations must be safe for concurrent use.
type Transport interface {
	// Connect opens a fresh session, tearing down any previous one. lost is
	// called at most once when this session drops on its own; it is not
	// called after Close.
	Connect(ctx context.Context, lost func(error)) error

	// Publish sends msg. An error wrapping device.ErrTimeout or
	// device.ErrConnectivity means the link is gone.
	Publish(ctx context.Context, msg Message) error

	// Subscribe registers handler for destination. Registrations persist
	// across sessions and may be made while disconnected.
	Subscribe(destination string, handler Handler) error

	// Close ends the session intentionally.
	Close(ctx context.Context) error
}

// SelfAnnouncing is implemented by transports that publish the ONLINE and
// OFFLINE markers themselves as part of their session, such as MQTT whose
// OFFLINE marker is the broker-side last will.
type SelfAnnouncing interface {
	AnnouncesStatus() bool
}

func announcesStatus(t Transport) bool {
	sa, ok := t.(SelfAnnouncing)
	return ok && sa.AnnouncesStatus()
}
