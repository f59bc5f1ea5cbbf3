// Package localconn routes messages between devices inside one reporter
// process without any network hop.
//
// A sensor bound to a local connection publishes to a destination; every
// actuator subscribed to that destination receives the payload. Binding
// attributes translate readings into commands:
//
//	on_eq: "42"   ON when the payload equals 42, OFF otherwise
//	on_gt: "20.5" ON when the payload is a number above 20.5
//	on_lt: "5"    ON when the payload is a number below 5
//
// Button timestamps are forwarded as TOGGLE.
package localconn

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-reporter/internal/connection"
	"github.com/nerrad567/gray-logic-reporter/internal/device"
)

// Attribute keys understood on local bindings.
const (
	AttrOnEq = "on_eq"
	AttrOnGt = "on_gt"
	AttrOnLt = "on_lt"
)

const queueSize = 256

type delivery struct {
	destination string
	payload     string
}

// Transport is an in-process message bus.
//
// Deliveries run on one goroutine in publish order, so a handler may
// publish again without re-entering the publisher.
type Transport struct {
	logger device.Logger

	mu       sync.Mutex
	handlers map[string]connection.Handler
	retained map[string]string
	queue    chan delivery
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a local transport.
func New(logger device.Logger) *Transport {
	if logger == nil {
		logger = device.NoopLogger{}
	}
	return &Transport{
		logger:   logger,
		handlers: make(map[string]connection.Handler),
		retained: make(map[string]string),
	}
}

// Connect starts the delivery loop. It never fails and the link is never
// lost.
func (t *Transport) Connect(context.Context, func(error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.queue != nil {
		return nil
	}
	t.queue = make(chan delivery, queueSize)
	t.done = make(chan struct{})
	t.wg.Add(1)
	go t.deliverLoop(t.queue, t.done)
	return nil
}

func (t *Transport) deliverLoop(queue <-chan delivery, done <-chan struct{}) {
	defer t.wg.Done()
	for {
		select {
		case <-done:
			return
		case d := <-queue:
			t.mu.Lock()
			handler := t.handlers[d.destination]
			t.mu.Unlock()
			if handler != nil {
				handler(d.payload)
			}
		}
	}
}

// Publish translates msg by its attributes and queues it for the
// subscriber of its destination.
func (t *Transport) Publish(ctx context.Context, msg connection.Message) error {
	payload := Translate(msg.Payload, msg.Attributes)

	t.mu.Lock()
	if msg.Retain {
		t.retained[msg.Destination] = payload
	}
	queue, done := t.queue, t.done
	t.mu.Unlock()

	if queue == nil {
		return connection.ErrNotConnected
	}

	select {
	case queue <- delivery{destination: msg.Destination, payload: payload}:
		return nil
	case <-done:
		return connection.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers handler for destination. A retained payload is
// delivered to the new handler once the transport is running.
func (t *Transport) Subscribe(destination string, handler connection.Handler) error {
	t.mu.Lock()
	t.handlers[destination] = handler
	payload, retained := t.retained[destination]
	queue := t.queue
	t.mu.Unlock()

	if retained && queue != nil {
		select {
		case queue <- delivery{destination: destination, payload: payload}:
		default:
			t.logger.Warn("local queue full, retained message not replayed", "destination", destination)
		}
	}
	return nil
}

// Close stops the delivery loop. Queued deliveries are discarded.
func (t *Transport) Close(context.Context) error {
	t.mu.Lock()
	if t.queue == nil {
		t.mu.Unlock()
		return nil
	}
	close(t.done)
	t.queue, t.done = nil, nil
	t.mu.Unlock()

	t.wg.Wait()
	return nil
}

// Translate applies a local binding's attributes to payload.
//
// Without attributes the payload is passed through, except that a button
// timestamp becomes TOGGLE. A comparison against a payload that is not a
// number yields OFF.
func Translate(payload string, attrs map[string]string) string {
	if v, ok := attrs[AttrOnEq]; ok {
		return onOff(strings.TrimSpace(payload) == strings.TrimSpace(v))
	}
	if v, ok := attrs[AttrOnGt]; ok {
		p, limit, ok := numbers(payload, v)
		return onOff(ok && p > limit)
	}
	if v, ok := attrs[AttrOnLt]; ok {
		p, limit, ok := numbers(payload, v)
		return onOff(ok && p < limit)
	}
	if payload != device.TokenToggle && device.IsToggle(payload) {
		return device.TokenToggle
	}
	return payload
}

func numbers(payload, limit string) (float64, float64, bool) {
	p, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		return 0, 0, false
	}
	l, err := strconv.ParseFloat(strings.TrimSpace(limit), 64)
	if err != nil {
		return 0, 0, false
	}
	return p, l, true
}

func onOff(on bool) string {
	if on {
		return device.TokenOn
	}
	return device.TokenOff
}
