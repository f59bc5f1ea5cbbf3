// Package connectiontest provides an in-memory connection transport for
// tests of packages that route through connections.
package connectiontest

import (
	"context"
	"errors"
	"sync"

	"github.com/nerrad567/gray-logic-reporter/internal/connection"
)

// ErrConnectRefused is returned by Connect while connects are failing.
var ErrConnectRefused = errors.New("connectiontest: connect refused")

// Transport is an in-memory connection.Transport.
//
// It records publishes, lets tests deliver inbound messages with
// SimulateMessage and drop the session with SimulateLost.
type Transport struct {
	mu           sync.Mutex
	connected    bool
	failConnects bool
	connects     int
	lost         func(error)
	publishErr   error
	published    []connection.Message
	subs         map[string]connection.Handler
	closed       bool
	selfAnnounce bool
}

var (
	_ connection.Transport      = (*Transport)(nil)
	_ connection.SelfAnnouncing = (*Transport)(nil)
)

// NewTransport creates a transport that accepts every connect.
func NewTransport() *Transport {
	return &Transport{subs: make(map[string]connection.Handler)}
}

// SetSelfAnnouncing makes the mock claim it publishes its own markers.
func (m *Transport) SetSelfAnnouncing(v bool) {
	m.mu.Lock()
	m.selfAnnounce = v
	m.mu.Unlock()
}

// AnnouncesStatus implements connection.SelfAnnouncing.
func (m *Transport) AnnouncesStatus() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selfAnnounce
}

// FailConnects makes Connect fail until called again with false.
func (m *Transport) FailConnects(fail bool) {
	m.mu.Lock()
	m.failConnects = fail
	m.mu.Unlock()
}

// SetPublishErr makes every Publish return err (nil restores success).
func (m *Transport) SetPublishErr(err error) {
	m.mu.Lock()
	m.publishErr = err
	m.mu.Unlock()
}

// Connect implements connection.Transport.
func (m *Transport) Connect(ctx context.Context, lost func(error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.failConnects {
		return ErrConnectRefused
	}
	m.connected = true
	m.closed = false
	m.lost = lost
	return nil
}

// Publish implements connection.Transport.
func (m *Transport) Publish(_ context.Context, msg connection.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	if !m.connected {
		return connection.ErrNotConnected
	}
	m.published = append(m.published, msg)
	return nil
}

// Subscribe implements connection.Transport.
func (m *Transport) Subscribe(destination string, handler connection.Handler) error {
	m.mu.Lock()
	m.subs[destination] = handler
	m.mu.Unlock()
	return nil
}

// Close implements connection.Transport.
func (m *Transport) Close(context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.connected = false
	m.mu.Unlock()
	return nil
}

// SimulateMessage delivers payload to the handler of destination.
// It reports whether a handler was registered.
func (m *Transport) SimulateMessage(destination, payload string) bool {
	m.mu.Lock()
	h := m.subs[destination]
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(payload)
	return true
}

// SimulateLost drops the session as if the link failed.
func (m *Transport) SimulateLost(err error) {
	m.mu.Lock()
	lost := m.lost
	m.lost = nil
	m.connected = false
	m.mu.Unlock()
	if lost != nil {
		lost(err)
	}
}

// Published returns a copy of all recorded publishes.
func (m *Transport) Published() []connection.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]connection.Message(nil), m.published...)
}

// PublishedTo returns the payloads published to destination, in order.
func (m *Transport) PublishedTo(destination string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.published {
		if msg.Destination == destination {
			out = append(out, msg.Payload)
		}
	}
	return out
}

// Reset clears recorded publishes.
func (m *Transport) Reset() {
	m.mu.Lock()
	m.published = nil
	m.mu.Unlock()
}

// Connects returns how many times Connect was called.
func (m *Transport) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// IsClosed reports whether Close was called.
func (m *Transport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// HasSubscription reports whether destination has a handler.
func (m *Transport) HasSubscription(destination string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[destination]
	return ok
}
