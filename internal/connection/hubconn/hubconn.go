// Package hubconn connects the reporter to a home automation hub over a
// websocket event stream.
//
// Publishes are acknowledged by the hub. A publish whose acknowledgement
// does not arrive within the acknowledgement window fails with
// device.ErrTimeout, which the resilience layer treats as a lost link.
package hubconn

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-reporter/internal/connection"
	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/config"
)

const (
	writeTimeout = 5 * time.Second

	// eventQueueSize bounds inbound events waiting for dispatch.
	eventQueueSize = 64
)

// Transport is a websocket hub connection.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Handlers run on one dispatch goroutine per session, in arrival order,
//     so a handler may publish without blocking the read loop.
type Transport struct {
	cfg        config.HubConfig
	ackTimeout time.Duration
	dialer     *websocket.Dialer
	logger     device.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	session  uint64
	done     chan struct{}
	pending  map[string]chan string
	handlers map[string]connection.Handler

	writeMu sync.Mutex
}

// New creates a disconnected hub transport.
func New(cfg config.ConnectionConfig, logger device.Logger) *Transport {
	if logger == nil {
		logger = device.NoopLogger{}
	}
	return &Transport{
		cfg:        cfg.Hub,
		ackTimeout: cfg.AckTimeout,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:     logger,
		pending:    make(map[string]chan string),
		handlers:   make(map[string]connection.Handler),
	}
}

// Connect dials the hub, replacing any previous session, and replays every
// registered subscription.
func (t *Transport) Connect(ctx context.Context, lost func(error)) error {
	t.teardown()

	header := http.Header{}
	if t.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+t.cfg.Token)
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %w", device.ErrConnectivity, t.cfg.URL, err)
	}

	t.mu.Lock()
	t.session++
	session := t.session
	t.conn = conn
	done := make(chan struct{})
	t.done = done
	dests := make([]string, 0, len(t.handlers))
	for dest := range t.handlers {
		dests = append(dests, dest)
	}
	t.mu.Unlock()

	for _, dest := range dests {
		if err := t.write(conn, Frame{Type: FrameSubscribe, Destination: dest}); err != nil {
			t.teardown()
			return fmt.Errorf("%w: subscribing %s: %w", device.ErrConnectivity, dest, err)
		}
	}

	events := make(chan Frame, eventQueueSize)
	go t.dispatchLoop(events, done)
	go t.readLoop(conn, session, events, lost)
	if t.cfg.PingInterval > 0 {
		go t.pingLoop(conn, done)
	}
	return nil
}

// readDeadline is how long the link may stay silent before it is
// considered lost. Zero disables the deadline.
func (t *Transport) readDeadline() time.Duration {
	if t.cfg.PingInterval <= 0 {
		return 0
	}
	return 2*t.cfg.PingInterval + t.ackTimeout
}

func (t *Transport) extendDeadline(conn *websocket.Conn) {
	if d := t.readDeadline(); d > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(d))
	}
}

func (t *Transport) readLoop(conn *websocket.Conn, session uint64, events chan<- Frame, lost func(error)) {
	defer close(events)

	t.extendDeadline(conn)
	conn.SetPongHandler(func(string) error {
		t.extendDeadline(conn)
		return nil
	})

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if t.drop(session) && lost != nil {
				lost(fmt.Errorf("%w: %w", device.ErrConnectivity, err))
			}
			return
		}
		t.extendDeadline(conn)

		switch frame.Type {
		case FrameAck:
			t.mu.Lock()
			ch, ok := t.pending[frame.ID]
			delete(t.pending, frame.ID)
			t.mu.Unlock()
			if ok {
				ch <- frame.Error
			}
		case FrameEvent:
			select {
			case events <- frame:
			default:
				t.logger.Warn("hub event queue full, event dropped", "destination", frame.Destination)
			}
		default:
			t.logger.Debug("ignoring hub frame", "type", frame.Type)
		}
	}
}

func (t *Transport) dispatchLoop(events <-chan Frame, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case frame, ok := <-events:
			if !ok {
				return
			}
			t.mu.Lock()
			handler := t.handlers[frame.Destination]
			t.mu.Unlock()
			if handler != nil {
				handler(frame.Payload)
			}
		}
	}
}

func (t *Transport) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// drop ends session if it is still the current one and reports whether it
// was. Only the first caller for a session gets true.
func (t *Transport) drop(session uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if session != t.session || t.conn == nil {
		return false
	}
	t.closeLocked()
	return true
}

func (t *Transport) teardown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return
	}
	// A new session number stops the old read loop from reporting a loss.
	t.session++
	t.closeLocked()
}

func (t *Transport) closeLocked() {
	close(t.done)
	t.conn.Close()
	t.conn = nil
	t.done = nil
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

func (t *Transport) write(conn *websocket.Conn, frame Frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(frame)
}

// Publish sends msg and waits for the hub's acknowledgement.
func (t *Transport) Publish(ctx context.Context, msg connection.Message) error {
	id := uuid.NewString()
	ack := make(chan string, 1)

	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return fmt.Errorf("%w: %w", device.ErrConnectivity, ErrNotConnected)
	}
	t.pending[id] = ack
	t.mu.Unlock()

	frame := Frame{
		Type:        FramePublish,
		ID:          id,
		Destination: msg.Destination,
		Payload:     msg.Payload,
		Retain:      msg.Retain,
	}
	if err := t.write(conn, frame); err != nil {
		t.forget(id)
		return fmt.Errorf("%w: writing to hub: %w", device.ErrConnectivity, err)
	}

	timer := time.NewTimer(t.ackTimeout)
	defer timer.Stop()

	select {
	case reason, ok := <-ack:
		if !ok {
			return fmt.Errorf("%w: %w", device.ErrConnectivity, ErrNotConnected)
		}
		if reason != "" {
			return fmt.Errorf("%w: %s", ErrRejected, reason)
		}
		return nil
	case <-timer.C:
		t.forget(id)
		return fmt.Errorf("%w: %w", device.ErrTimeout, ErrAckTimeout)
	case <-ctx.Done():
		t.forget(id)
		return ctx.Err()
	}
}

func (t *Transport) forget(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Subscribe registers handler for destination. With an open session the
// subscription is sent right away; otherwise on the next Connect.
func (t *Transport) Subscribe(destination string, handler connection.Handler) error {
	t.mu.Lock()
	t.handlers[destination] = handler
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := t.write(conn, Frame{Type: FrameSubscribe, Destination: destination}); err != nil {
		return fmt.Errorf("%w: subscribing %s: %w", device.ErrConnectivity, destination, err)
	}
	return nil
}

// Close ends the session without reporting a loss.
func (t *Transport) Close(context.Context) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
	}
	t.teardown()
	return nil
}

// IsConnected reports whether a session is open.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}
