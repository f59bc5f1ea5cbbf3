package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/logging"
)

// Live feed actions a client may send.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionCommand     = "command"
	ActionSnapshot    = "snapshot"
)

// Frame kinds sent to clients.
const (
	FrameEvent = "event"
	FrameReply = "reply"
	FrameError = "error"
)

// Event channels.
const (
	ChannelReading = "reading"
	ChannelState   = "state"
)

const (
	feedQueueSize  = 256
	clientQueue    = 64
	maxRequestSize = 4096
	pingInterval   = 30 * time.Second
	pongWait       = 10 * time.Second
)

// Request is one client-to-server frame on the live feed.
//
//	{"id":"1","action":"subscribe","channels":["reading"],"sensors":["temp"]}
//	{"id":"2","action":"command","actuator":"lamp","token":"TOGGLE"}
//	{"id":"3","action":"snapshot"}
//
// An empty Sensors list on subscribe means every sensor.
type Request struct {
	ID       string   `json:"id,omitempty"`
	Action   string   `json:"action"`
	Channels []string `json:"channels,omitempty"`
	Sensors  []string `json:"sensors,omitempty"`
	Actuator string   `json:"actuator,omitempty"`
	Token    string   `json:"token,omitempty"`
}

// Frame is one server-to-client frame on the live feed.
type Frame struct {
	Kind    string    `json:"kind"`
	ID      string    `json:"id,omitempty"`
	Channel string    `json:"channel,omitempty"`
	Seq     uint64    `json:"seq,omitempty"`
	Time    time.Time `json:"time"`
	Data    any       `json:"data,omitempty"`
}

// ReadingEvent is broadcast on the reading channel.
type ReadingEvent struct {
	Sensor string    `json:"sensor"`
	Output string    `json:"output,omitempty"`
	Value  string    `json:"value"`
	Time   time.Time `json:"time"`
}

// StateEvent is broadcast on the state channel.
type StateEvent struct {
	Actuator string `json:"actuator"`
	Level    int    `json:"level"`
	Text     string `json:"text,omitempty"`
}

type broadcast struct {
	channel string
	sensor  string
	data    []byte
}

// Hub fans events out to live feed clients.
//
// Broadcasts are queued and delivered by Run on a single goroutine. A
// client whose queue is full is disconnected rather than silently missing
// events; it can reconnect and ask for a snapshot.
type Hub struct {
	logger *logging.Logger
	queue  chan broadcast

	mu      sync.Mutex
	clients map[*feedClient]struct{}
	seq     uint64
	dropped uint64
}

// NewHub creates a hub. Nothing is delivered until Run.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		queue:   make(chan broadcast, feedQueueSize),
		clients: make(map[*feedClient]struct{}),
	}
}

// Run delivers queued events until ctx is cancelled, then disconnects
// every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case b := <-h.queue:
			h.deliver(b)
		}
	}
}

// Publish queues an event. It never blocks; when the hub queue itself is
// full the event is counted as dropped.
func (h *Hub) Publish(channel, sensor string, data any) {
	h.mu.Lock()
	h.seq++
	frame := Frame{Kind: FrameEvent, Channel: channel, Seq: h.seq, Time: time.Now().UTC(), Data: data}
	h.mu.Unlock()

	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("encoding live feed event failed", "channel", channel, "error", err)
		return
	}

	select {
	case h.queue <- broadcast{channel: channel, sensor: sensor, data: payload}:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
	}
}

func (h *Hub) deliver(b broadcast) {
	h.mu.Lock()
	var slow []*feedClient
	for c := range h.clients {
		if !c.wants(b.channel, b.sensor) {
			continue
		}
		select {
		case c.send <- b.data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn("live feed client too slow, disconnecting", "remote", c.remote)
		h.remove(c)
	}
}

func (h *Hub) add(c *feedClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("live feed client connected", "remote", c.remote, "clients", n)
}

// remove drops c and closes its queue. Only the first call for a client
// has any effect.
func (h *Hub) remove(c *feedClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		close(c.send)
		h.logger.Debug("live feed client disconnected", "remote", c.remote, "clients", n)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*feedClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns the number of events discarded because the hub queue
// was full.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// feedClient is one live feed connection. It starts subscribed to every
// channel and every sensor.
type feedClient struct {
	srv    *Server
	conn   *websocket.Conn
	remote string
	send   chan []byte

	mu       sync.Mutex
	channels map[string]bool
	sensors  map[string]bool
}

func (c *feedClient) wants(channel, sensor string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.channels[channel] {
		return false
	}
	if channel == ChannelReading && len(c.sensors) > 0 {
		return c.sensors[sensor]
	}
	return true
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ReadingPublished forwards a routed reading to the live feed.
func (s *Server) ReadingPublished(sensor string, r device.Reading) {
	s.hub.Publish(ChannelReading, sensor, ReadingEvent{Sensor: sensor, Output: r.Output, Value: r.Value, Time: r.Time})
}

// StateEchoed forwards an actuator echo to the live feed.
func (s *Server) StateEchoed(actuator string, st device.State) {
	s.hub.Publish(ChannelState, "", StateEvent{Actuator: actuator, Level: st.Level, Text: st.Text})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &feedClient{
		srv:      s,
		conn:     conn,
		remote:   r.RemoteAddr,
		send:     make(chan []byte, clientQueue),
		channels: map[string]bool{ChannelReading: true, ChannelState: true},
	}
	s.hub.add(c)

	go c.writeLoop()
	go c.readLoop()
}

func (c *feedClient) readLoop() {
	defer func() {
		c.srv.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxRequestSize)
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}
	_ = extend("")
	c.conn.SetPongHandler(extend)

	for {
		var req Request
		if err := c.conn.ReadJSON(&req); err != nil {
			var syntax *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntax) || errors.As(err, &typeErr) {
				c.reply(Frame{Kind: FrameError, Data: errorBody(ErrCodeBadRequest, "malformed JSON")})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.srv.logger.Debug("live feed read failed", "remote", c.remote, "error", err)
			}
			return
		}
		_ = extend("")
		c.handle(req)
	}
}

func (c *feedClient) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *feedClient) handle(req Request) {
	switch req.Action {
	case ActionSubscribe, ActionUnsubscribe:
		on := req.Action == ActionSubscribe
		c.mu.Lock()
		for _, ch := range req.Channels {
			if ch != ChannelReading && ch != ChannelState {
				continue
			}
			c.channels[ch] = on
		}
		if on && req.Sensors != nil {
			c.sensors = make(map[string]bool, len(req.Sensors))
			for _, name := range req.Sensors {
				c.sensors[name] = true
			}
		}
		channels := make([]string, 0, len(c.channels))
		for ch, active := range c.channels {
			if active {
				channels = append(channels, ch)
			}
		}
		c.mu.Unlock()
		c.reply(Frame{Kind: FrameReply, ID: req.ID, Data: map[string]any{"channels": channels}})

	case ActionCommand:
		if req.Actuator == "" || req.Token == "" {
			c.reply(Frame{Kind: FrameError, ID: req.ID, Data: errorBody(ErrCodeBadRequest, "actuator and token are required")})
			return
		}
		if err := c.srv.runtime.Command(req.Actuator, req.Token); err != nil {
			_, code := errorStatus(err)
			c.reply(Frame{Kind: FrameError, ID: req.ID, Data: errorBody(code, err.Error())})
			return
		}
		c.reply(Frame{Kind: FrameReply, ID: req.ID, Data: map[string]string{"status": "accepted"}})

	case ActionSnapshot:
		c.reply(Frame{Kind: FrameReply, ID: req.ID, Data: map[string]any{
			"actuators":   c.srv.runtime.Actuators(),
			"connections": c.srv.runtime.Connections(),
		}})

	default:
		c.reply(Frame{Kind: FrameError, ID: req.ID, Data: errorBody(ErrCodeBadRequest, "unknown action "+req.Action)})
	}
}

// reply queues a direct answer. It goes through the hub lock so it can
// never race the close of c.send.
func (c *feedClient) reply(f Frame) {
	f.Time = time.Now().UTC()
	payload, err := json.Marshal(f)
	if err != nil {
		return
	}

	hub := c.srv.hub
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if _, ok := hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func errorBody(code, message string) map[string]string {
	return map[string]string{"code": code, "message": message}
}
