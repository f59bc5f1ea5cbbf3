package hubconn

// Frame types exchanged with the hub.
const (
	FramePublish   = "publish"
	FrameSubscribe = "subscribe"
	FrameAck       = "ack"
	FrameEvent     = "event"
)

// Frame is one JSON message on the websocket.
//
// The reporter sends publish and subscribe frames. The hub answers every
// publish with an ack carrying the same ID and pushes event frames for
// subscribed destinations.
type Frame struct {
	Type        string `json:"type"`
	ID          string `json:"id,omitempty"`
	Destination string `json:"destination,omitempty"`
	Payload     string `json:"payload,omitempty"`
	Retain      bool   `json:"retain,omitempty"`
	Error       string `json:"error,omitempty"`
}
