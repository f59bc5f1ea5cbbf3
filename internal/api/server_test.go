package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-reporter/internal/connection"
	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-reporter/internal/router"
	"github.com/nerrad567/gray-logic-reporter/internal/scheduler"
	"github.com/nerrad567/gray-logic-reporter/internal/store"
)

type fakeRuntime struct {
	mu        sync.Mutex
	conns     []connection.Status
	sensors   []scheduler.Stats
	actuators []router.ActuatorStatus
	commands  []string
	reloads   int
	reloadErr error
}

func (f *fakeRuntime) Connections() []connection.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]connection.Status(nil), f.conns...)
}

func (f *fakeRuntime) Sensors() []scheduler.Stats         { return f.sensors }
func (f *fakeRuntime) Actuators() []router.ActuatorStatus { return f.actuators }
func (f *fakeRuntime) Refresh() int                       { return len(f.sensors) }

func (f *fakeRuntime) Command(actuator, token string) error {
	if actuator != "lamp" {
		return fmt.Errorf("%w: %s", device.ErrNotFound, actuator)
	}
	if token == "BRIGHTER" {
		return fmt.Errorf("%w: %q", device.ErrCommandRejected, token)
	}
	f.mu.Lock()
	f.commands = append(f.commands, token)
	f.mu.Unlock()
	return nil
}

func (f *fakeRuntime) snapshot() (commands []string, reloads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...), f.reloads
}

func (f *fakeRuntime) setReloadErr(err error) {
	f.mu.Lock()
	f.reloadErr = err
	f.mu.Unlock()
}

func (f *fakeRuntime) Reload(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return f.reloadErr
}

type fakeHistory struct {
	mu    sync.Mutex
	limit int
}

func (f *fakeHistory) lastLimit() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limit
}

func (f *fakeHistory) History(_ context.Context, sensor string, limit int) ([]store.HistoryEntry, error) {
	f.mu.Lock()
	f.limit = limit
	f.mu.Unlock()
	return []store.HistoryEntry{{ID: 1, Sensor: sensor, Value: "21.5"}}, nil
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error", Format: "text"}, "test")
}

func testServer(t *testing.T, history HistoryReader) (*Server, *fakeRuntime, *httptest.Server) {
	t.Helper()
	rt := &fakeRuntime{
		conns: []connection.Status{
			{Name: "broker", Type: "mqtt", State: connection.Connected, Published: 3},
			{Name: "hub", Type: "hub", State: connection.Disconnected, Buffered: 2},
		},
		sensors:   []scheduler.Stats{{Name: "temp", Interval: time.Minute, Polls: 4, Readings: 4}},
		actuators: []router.ActuatorStatus{{Name: "lamp", Level: 40, LastCommanded: "40"}},
	}
	srv, err := New(Deps{Logger: testLogger(), Runtime: rt, History: history, Version: "test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)
	t.Cleanup(cancel)
	return srv, rt, ts
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Runtime: &fakeRuntime{}}); err == nil {
		t.Error("New() without logger = nil error")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without runtime = nil error")
	}
}

func TestHandleHealth(t *testing.T) {
	_, rt, ts := testServer(t, nil)

	var body map[string]any
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/v1/health", "", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" || body["connected"] != float64(1) {
		t.Errorf("health = %v", body)
	}

	rt.mu.Lock()
	rt.conns[0].State = connection.Connecting
	rt.mu.Unlock()
	doJSON(t, http.MethodGet, ts.URL+"/api/v1/health", "", &body)
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
}

func TestHandleHealth_Database(t *testing.T) {
	db, err := database.Open(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "reporter.db"), BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	srv, err := New(Deps{Logger: testLogger(), Runtime: &fakeRuntime{}, DB: db})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var body map[string]any
	doJSON(t, http.MethodGet, ts.URL+"/api/v1/health", "", &body)
	if body["status"] != "ok" || body["database"] != "ok" {
		t.Errorf("health = %v, want ok with database ok", body)
	}

	db.Close()
	doJSON(t, http.MethodGet, ts.URL+"/api/v1/health", "", &body)
	if body["status"] != "degraded" || body["database"] != "unreachable" {
		t.Errorf("health after close = %v, want degraded", body)
	}
}

func TestHandleLists(t *testing.T) {
	_, _, ts := testServer(t, nil)

	var conns struct {
		Connections []map[string]any `json:"connections"`
		Count       int              `json:"count"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/api/v1/connections", "", &conns)
	if conns.Count != 2 || conns.Connections[1]["state"] != "disconnected" {
		t.Errorf("connections = %+v", conns)
	}

	var sensors struct {
		Sensors []scheduler.Stats `json:"sensors"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/api/v1/sensors", "", &sensors)
	if len(sensors.Sensors) != 1 || sensors.Sensors[0].Polls != 4 {
		t.Errorf("sensors = %+v", sensors)
	}

	var acts struct {
		Actuators []router.ActuatorStatus `json:"actuators"`
	}
	doJSON(t, http.MethodGet, ts.URL+"/api/v1/actuators", "", &acts)
	if len(acts.Actuators) != 1 || acts.Actuators[0].Level != 40 {
		t.Errorf("actuators = %+v", acts)
	}
}

func TestHandleActuatorCommand(t *testing.T) {
	_, rt, ts := testServer(t, nil)

	tests := []struct {
		name     string
		actuator string
		body     string
		want     int
	}{
		{name: "accepted", actuator: "lamp", body: `{"command":"ON"}`, want: http.StatusAccepted},
		{name: "rejected", actuator: "lamp", body: `{"command":"BRIGHTER"}`, want: http.StatusBadRequest},
		{name: "unknown actuator", actuator: "fan", body: `{"command":"ON"}`, want: http.StatusNotFound},
		{name: "empty command", actuator: "lamp", body: `{"command":" "}`, want: http.StatusBadRequest},
		{name: "invalid json", actuator: "lamp", body: `{`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := doJSON(t, http.MethodPost, ts.URL+"/api/v1/actuators/"+tt.actuator+"/command", tt.body, nil)
			if code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}

	if commands, _ := rt.snapshot(); len(commands) != 1 || commands[0] != "ON" {
		t.Errorf("commands = %v, want [ON]", commands)
	}
}

func TestHandleRefreshAndReload(t *testing.T) {
	_, rt, ts := testServer(t, nil)

	var body map[string]any
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/v1/refresh", "", &body); code != http.StatusOK || body["refreshed"] != float64(1) {
		t.Errorf("refresh = %d %v", code, body)
	}

	if code := doJSON(t, http.MethodPost, ts.URL+"/api/v1/reload", "", nil); code != http.StatusOK {
		t.Errorf("reload status = %d", code)
	}
	rt.setReloadErr(errors.New("configuration errors: site.id is required"))
	if code := doJSON(t, http.MethodPost, ts.URL+"/api/v1/reload", "", nil); code != http.StatusInternalServerError {
		t.Errorf("failed reload status = %d, want 500", code)
	}
	if _, reloads := rt.snapshot(); reloads != 2 {
		t.Errorf("reloads = %d, want 2", reloads)
	}
}

func TestHandleSensorHistory(t *testing.T) {
	_, _, ts := testServer(t, nil)
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/v1/sensors/temp/history", "", nil); code != http.StatusServiceUnavailable {
		t.Errorf("without store status = %d, want 503", code)
	}

	h := &fakeHistory{}
	_, _, ts = testServer(t, h)
	var body struct {
		Sensor  string               `json:"sensor"`
		History []store.HistoryEntry `json:"history"`
	}
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/v1/sensors/temp/history?limit=5", "", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Sensor != "temp" || len(body.History) != 1 || h.lastLimit() != 5 {
		t.Errorf("history = %+v, limit %d", body, h.lastLimit())
	}
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/v1/sensors/temp/history?limit=x", "", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", code)
	}
}

func TestHandleMetrics(t *testing.T) {
	_, _, ts := testServer(t, nil)

	var m SystemMetrics
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/v1/metrics", "", &m); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if m.Connections.Total != 2 || m.Connections.ByState["connected"] != 1 || m.Connections.Buffered != 2 {
		t.Errorf("connections = %+v", m.Connections)
	}
	if m.Sensors.Polls != 4 || m.Actuators != 1 || m.Database != nil {
		t.Errorf("metrics = %+v", m)
	}
}

func TestRequestIDHeader(t *testing.T) {
	_, _, ts := testServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not set")
	}
}

func dialFeed(t *testing.T, srv *Server, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return f
}

func TestWebSocket_ReceivesEvents(t *testing.T) {
	srv, _, ts := testServer(t, nil)
	conn := dialFeed(t, srv, ts)

	srv.ReadingPublished("temp", device.Reading{Value: "21.5"})
	srv.StateEchoed("lamp", device.State{Level: 100})

	var lastSeq uint64
	for _, want := range []string{ChannelReading, ChannelState} {
		f := readFrame(t, conn)
		if f.Kind != FrameEvent || f.Channel != want {
			t.Errorf("frame = %+v, want %s event", f, want)
		}
		if f.Seq <= lastSeq {
			t.Errorf("seq = %d, want > %d", f.Seq, lastSeq)
		}
		lastSeq = f.Seq
	}

	if err := conn.WriteJSON(Request{ID: "1", Action: ActionUnsubscribe, Channels: []string{ChannelReading}}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if ack := readFrame(t, conn); ack.Kind != FrameReply || ack.ID != "1" {
		t.Fatalf("unsubscribe ack = %+v", ack)
	}

	srv.ReadingPublished("temp", device.Reading{Value: "22.0"})
	srv.StateEchoed("lamp", device.State{Level: 0})
	if next := readFrame(t, conn); next.Channel != ChannelState {
		t.Errorf("after unsubscribe got %q, want state only", next.Channel)
	}
}

func TestWebSocket_SensorFilter(t *testing.T) {
	srv, _, ts := testServer(t, nil)
	conn := dialFeed(t, srv, ts)

	if err := conn.WriteJSON(Request{ID: "f", Action: ActionSubscribe, Channels: []string{ChannelReading}, Sensors: []string{"door"}}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if ack := readFrame(t, conn); ack.Kind != FrameReply || ack.ID != "f" {
		t.Fatalf("subscribe ack = %+v", ack)
	}

	srv.ReadingPublished("temp", device.Reading{Value: "21.5"})
	srv.ReadingPublished("door", device.Reading{Value: "OPEN"})

	f := readFrame(t, conn)
	data, _ := f.Data.(map[string]any)
	if f.Channel != ChannelReading || data["sensor"] != "door" {
		t.Errorf("frame = %+v, want door reading only", f)
	}
}

func TestWebSocket_Command(t *testing.T) {
	srv, rt, ts := testServer(t, nil)
	conn := dialFeed(t, srv, ts)

	if err := conn.WriteJSON(Request{ID: "c1", Action: ActionCommand, Actuator: "lamp", Token: "TOGGLE"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if f := readFrame(t, conn); f.Kind != FrameReply || f.ID != "c1" {
		t.Errorf("command reply = %+v", f)
	}
	if cmds, _ := rt.snapshot(); len(cmds) != 1 || cmds[0] != "TOGGLE" {
		t.Errorf("commands = %v, want [TOGGLE]", cmds)
	}

	if err := conn.WriteJSON(Request{ID: "c2", Action: ActionCommand, Actuator: "ghost", Token: "ON"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	f := readFrame(t, conn)
	data, _ := f.Data.(map[string]any)
	if f.Kind != FrameError || f.ID != "c2" || data["code"] != ErrCodeNotFound {
		t.Errorf("unknown actuator reply = %+v", f)
	}

	if err := conn.WriteJSON(Request{ID: "c3", Action: "dance"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if f := readFrame(t, conn); f.Kind != FrameError || f.ID != "c3" {
		t.Errorf("unknown action reply = %+v", f)
	}
}

func TestWebSocket_Snapshot(t *testing.T) {
	srv, _, ts := testServer(t, nil)
	conn := dialFeed(t, srv, ts)

	if err := conn.WriteJSON(Request{ID: "s", Action: ActionSnapshot}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	f := readFrame(t, conn)
	data, _ := f.Data.(map[string]any)
	if f.Kind != FrameReply || data == nil {
		t.Fatalf("snapshot reply = %+v", f)
	}
	if _, ok := data["actuators"]; !ok {
		t.Errorf("snapshot missing actuators: %+v", data)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	srv, err := New(Deps{
		Config:  config.APIConfig{Host: "127.0.0.1", Port: 0, Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}},
		Logger:  testLogger(),
		Runtime: &fakeRuntime{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr().String() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
