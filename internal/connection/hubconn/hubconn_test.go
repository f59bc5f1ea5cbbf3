package hubconn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-reporter/internal/connection"
	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/config"
)

var _ connection.Transport = (*Transport)(nil)

// fakeHub is a minimal hub: it acknowledges publishes, records
// subscriptions and can push events to every client.
type fakeHub struct {
	srv   *httptest.Server
	token string

	mu         sync.Mutex
	conns      []*websocket.Conn
	published  []Frame
	subscribed []string
	noAck      bool
	rejectWith string
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	h := &fakeHub{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" && r.Header.Get("Authorization") != "Bearer "+h.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conns = append(h.conns, conn)
		h.mu.Unlock()
		h.serve(conn)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHub) serve(conn *websocket.Conn) {
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		h.mu.Lock()
		switch f.Type {
		case FramePublish:
			h.published = append(h.published, f)
			if !h.noAck {
				_ = conn.WriteJSON(Frame{Type: FrameAck, ID: f.ID, Error: h.rejectWith})
			}
		case FrameSubscribe:
			h.subscribed = append(h.subscribed, f.Destination)
		}
		h.mu.Unlock()
	}
}

func (h *fakeHub) url() string {
	return "ws://" + strings.TrimPrefix(h.srv.URL, "http://")
}

func (h *fakeHub) push(destination, payload string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.conns {
		_ = c.WriteJSON(Frame{Type: FrameEvent, Destination: destination, Payload: payload})
	}
}

func (h *fakeHub) dropAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.conns {
		c.Close()
	}
	h.conns = nil
}

func (h *fakeHub) publishedFrames() []Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Frame(nil), h.published...)
}

func (h *fakeHub) subscriptions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.subscribed...)
}

func newTransport(h *fakeHub, token string) *Transport {
	return New(config.ConnectionConfig{
		Name:       "hub",
		Type:       config.ConnectionHub,
		AckTimeout: 200 * time.Millisecond,
		Hub:        config.HubConfig{URL: h.url(), Token: token},
	}, nil)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestTransport_PublishAcknowledged(t *testing.T) {
	h := newFakeHub(t)
	tr := newTransport(h, "")
	if err := tr.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Close(context.Background())

	err := tr.Publish(context.Background(), connection.Message{Destination: "Lamp", Payload: "ON", Retain: true})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	frames := h.publishedFrames()
	if len(frames) != 1 {
		t.Fatalf("published %d frames, want 1", len(frames))
	}
	if frames[0].Destination != "Lamp" || frames[0].Payload != "ON" || !frames[0].Retain {
		t.Errorf("frame = %+v", frames[0])
	}
	if frames[0].ID == "" {
		t.Error("publish frame has no id")
	}
}

func TestTransport_PublishWithoutAckTimesOut(t *testing.T) {
	h := newFakeHub(t)
	h.noAck = true
	tr := newTransport(h, "")
	if err := tr.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Close(context.Background())

	start := time.Now()
	err := tr.Publish(context.Background(), connection.Message{Destination: "Lamp", Payload: "ON"})
	if !errors.Is(err, device.ErrTimeout) || !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("Publish() error = %v, want ErrTimeout", err)
	}
	if !connection.IsLinkFailure(err) {
		t.Error("missing ack should count as a link failure")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Publish() took %v", elapsed)
	}
}

func TestTransport_PublishRejected(t *testing.T) {
	h := newFakeHub(t)
	h.rejectWith = "unknown item"
	tr := newTransport(h, "")
	if err := tr.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Close(context.Background())

	err := tr.Publish(context.Background(), connection.Message{Destination: "Nope", Payload: "ON"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Publish() error = %v, want ErrRejected", err)
	}
	if connection.IsLinkFailure(err) {
		t.Error("a rejected publish is not a link failure")
	}
}

func TestTransport_PublishDisconnected(t *testing.T) {
	h := newFakeHub(t)
	tr := newTransport(h, "")

	err := tr.Publish(context.Background(), connection.Message{Destination: "Lamp", Payload: "ON"})
	if !errors.Is(err, device.ErrConnectivity) {
		t.Errorf("Publish() error = %v, want ErrConnectivity", err)
	}
}

func TestTransport_SubscriptionsReplayedAndDispatched(t *testing.T) {
	h := newFakeHub(t)
	tr := newTransport(h, "")

	got := make(chan string, 1)
	if err := tr.Subscribe("Lamp_cmd", func(p string) { got <- p }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := tr.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Close(context.Background())

	waitFor(t, func() bool { return len(h.subscriptions()) == 1 }, "subscription not sent on connect")
	h.push("Lamp_cmd", "TOGGLE")

	select {
	case p := <-got:
		if p != "TOGGLE" {
			t.Errorf("payload = %q, want TOGGLE", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not dispatched")
	}
}

func TestTransport_HandlerMayPublish(t *testing.T) {
	h := newFakeHub(t)
	tr := newTransport(h, "")

	done := make(chan error, 1)
	tr.Subscribe("Lamp_cmd", func(p string) {
		done <- tr.Publish(context.Background(), connection.Message{Destination: "Lamp", Payload: p})
	})
	if err := tr.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Close(context.Background())

	waitFor(t, func() bool { return len(h.subscriptions()) == 1 }, "subscription not sent")
	h.push("Lamp_cmd", "ON")

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("echo Publish() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("echo publish blocked")
	}
}

func TestTransport_LostReported(t *testing.T) {
	h := newFakeHub(t)
	tr := newTransport(h, "")

	lost := make(chan error, 1)
	if err := tr.Connect(context.Background(), func(err error) { lost <- err }); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.conns) == 1
	}, "hub did not register the client")

	h.dropAll()

	select {
	case err := <-lost:
		if !errors.Is(err, device.ErrConnectivity) {
			t.Errorf("lost error = %v, want ErrConnectivity", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loss not reported")
	}
	if tr.IsConnected() {
		t.Error("IsConnected() = true after loss")
	}
}

func TestTransport_CloseIsSilent(t *testing.T) {
	h := newFakeHub(t)
	tr := newTransport(h, "")

	lost := make(chan error, 1)
	if err := tr.Connect(context.Background(), func(err error) { lost <- err }); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := tr.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case err := <-lost:
		t.Errorf("lost called after Close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTransport_TokenSent(t *testing.T) {
	h := newFakeHub(t)
	h.token = "s3cret"

	if err := newTransport(h, "wrong").Connect(context.Background(), nil); !errors.Is(err, device.ErrConnectivity) {
		t.Errorf("Connect() with bad token error = %v, want ErrConnectivity", err)
	}

	tr := newTransport(h, "s3cret")
	if err := tr.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	tr.Close(context.Background())
}
