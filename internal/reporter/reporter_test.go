package reporter

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-reporter/internal/connection"
	"github.com/nerrad567/gray-logic-reporter/internal/connection/connectiontest"
	"github.com/nerrad567/gray-logic-reporter/internal/device"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/logging"
)

type savedState struct {
	level int
	last  string
}

type fakeStore struct {
	mu       sync.Mutex
	levels   map[string]int
	saved    map[string]savedState
	readings map[string]int
	prunes   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		levels:   make(map[string]int),
		saved:    make(map[string]savedState),
		readings: make(map[string]int),
	}
}

func (s *fakeStore) LoadLevel(_ context.Context, name string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	level, ok := s.levels[name]
	return level, ok, nil
}

func (s *fakeStore) SaveState(_ context.Context, name string, level int, last string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[name] = savedState{level: level, last: last}
	return nil
}

func (s *fakeStore) RecordReading(_ context.Context, sensor, output, _ string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings[sensor+"/"+output]++
	return nil
}

func (s *fakeStore) Prune(context.Context, time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prunes++
	return 0, nil
}

func (s *fakeStore) state(name string) (savedState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.saved[name]
	return st, ok
}

func (s *fakeStore) recorded(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readings[key]
}

func (s *fakeStore) pruneCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prunes
}

type fakeObserver struct {
	mu       sync.Mutex
	readings []string
	states   map[string]int
}

func (o *fakeObserver) ReadingPublished(sensor string, r device.Reading) {
	o.mu.Lock()
	o.readings = append(o.readings, sensor+"/"+r.Output)
	o.mu.Unlock()
}

func (o *fakeObserver) StateEchoed(actuator string, s device.State) {
	o.mu.Lock()
	if o.states == nil {
		o.states = make(map[string]int)
	}
	o.states[actuator] = s.Level
	o.mu.Unlock()
}

func (o *fakeObserver) level(name string) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.states[name]
	return l, ok
}

func (o *fakeObserver) sawReading(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range o.readings {
		if r == key {
			return true
		}
	}
	return false
}

// mocks hands out one in-memory transport per connection name and remembers
// every transport it created.
type mocks struct {
	mu      sync.Mutex
	created map[string][]*connectiontest.Transport
}

func (m *mocks) factory(cc config.ConnectionConfig, _ device.Logger) (connection.Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.created == nil {
		m.created = make(map[string][]*connectiontest.Transport)
	}
	tr := connectiontest.NewTransport()
	m.created[cc.Name] = append(m.created[cc.Name], tr)
	return tr, nil
}

func (m *mocks) latest(name string) *connectiontest.Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.created[name]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error", Format: "json"}, "test")
}

func testConfig() *config.Config {
	return &config.Config{
		Site:        config.SiteConfig{ID: "test-site"},
		Connections: []config.ConnectionConfig{{Name: "bus", Type: "mock", RetryDelay: 50 * time.Millisecond}},
		Sensors: []config.DeviceConfig{{
			Name:     "heartbeat",
			Kind:     "heartbeat",
			Interval: time.Hour,
			Bindings: map[string]config.BindingConfig{
				"bus": {Outputs: map[string]config.OutputConfig{
					"msec":   {Destination: "heartbeat/msec"},
					"uptime": {Destination: "heartbeat/uptime"},
				}},
			},
		}},
		Actuators: []config.DeviceConfig{{
			Name: "lamp",
			Kind: "relay",
			Bindings: map[string]config.BindingConfig{
				"bus": {CommandSrc: "lamp/cmd", Destination: "lamp/state"},
			},
		}},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startReporter(t *testing.T, cfg *config.Config) (*Reporter, *mocks, *fakeStore, *fakeObserver) {
	t.Helper()
	m := &mocks{}
	store := newFakeStore()
	obs := &fakeObserver{}

	r := New(cfg, Options{Logger: testLogger(), Store: store, NewTransport: m.factory})
	r.SetObserver(obs)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { r.Stop() })

	waitFor(t, "connection", func() bool {
		for _, st := range r.Connections() {
			if st.State != connection.Connected {
				return false
			}
		}
		return true
	})
	return r, m, store, obs
}

func TestReporter_StartPublishesReadings(t *testing.T) {
	r, m, store, obs := startReporter(t, testConfig())

	waitFor(t, "heartbeat readings", func() bool {
		return obs.sawReading("heartbeat/msec") && obs.sawReading("heartbeat/uptime")
	})
	if store.recorded("heartbeat/uptime") == 0 {
		t.Error("uptime reading was not recorded in the store")
	}

	stats := r.Sensors()
	if len(stats) != 1 || stats[0].Name != "heartbeat" {
		t.Fatalf("Sensors() = %+v, want one heartbeat", stats)
	}
	if !m.latest("bus").HasSubscription("lamp/cmd") {
		t.Error("lamp command source not subscribed")
	}
}

func TestReporter_Command(t *testing.T) {
	r, m, store, obs := startReporter(t, testConfig())

	if err := r.Command("lamp", "ON"); err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if level, ok := obs.level("lamp"); !ok || level != 100 {
		t.Errorf("observed level = %d (%v), want 100", level, ok)
	}
	st, ok := store.state("lamp")
	if !ok || st.level != 100 || st.last != device.TokenOn {
		t.Errorf("saved state = %+v (%v), want level 100 last ON", st, ok)
	}
	waitFor(t, "echo", func() bool { return len(m.latest("bus").PublishedTo("lamp/state")) > 0 })

	acts := r.Actuators()
	if len(acts) != 1 || acts[0].Level != 100 {
		t.Errorf("Actuators() = %+v, want lamp at 100", acts)
	}
}

func TestReporter_CommandFromConnection(t *testing.T) {
	r, m, _, obs := startReporter(t, testConfig())

	if err := r.Command("lamp", "ON"); err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if !m.latest("bus").SimulateMessage("lamp/cmd", "OFF") {
		t.Fatal("no handler for lamp/cmd")
	}
	waitFor(t, "OFF echo", func() bool {
		level, ok := obs.level("lamp")
		return ok && level == 0
	})
}

func TestReporter_CommandErrors(t *testing.T) {
	r, _, _, _ := startReporter(t, testConfig())

	if err := r.Command("nothing", "ON"); !errors.Is(err, device.ErrNotFound) {
		t.Errorf("Command(unknown) error = %v, want ErrNotFound", err)
	}
	if err := r.Command("lamp", "50"); !errors.Is(err, device.ErrCommandRejected) {
		t.Errorf("Command(relay, 50) error = %v, want ErrCommandRejected", err)
	}
}

func TestReporter_SkipsBrokenDevices(t *testing.T) {
	cfg := testConfig()
	cfg.Actuators = append(cfg.Actuators,
		config.DeviceConfig{Name: "ghost", Kind: "teleporter", Bindings: map[string]config.BindingConfig{"bus": {}}},
		config.DeviceConfig{Name: "orphan", Kind: "relay", Bindings: map[string]config.BindingConfig{"elsewhere": {}}},
	)
	cfg.Sensors = append(cfg.Sensors,
		config.DeviceConfig{Name: "fast", Kind: "heartbeat", Interval: time.Millisecond, Bindings: map[string]config.BindingConfig{"bus": {}}},
	)

	r, _, _, _ := startReporter(t, cfg)

	if got := len(r.Actuators()); got != 1 {
		t.Errorf("len(Actuators()) = %d, want 1", got)
	}
	if got := len(r.Sensors()); got != 1 {
		t.Errorf("len(Sensors()) = %d, want 1", got)
	}
}

func TestReporter_LogicOr(t *testing.T) {
	cfg := testConfig()
	cfg.Actuators = append(cfg.Actuators, config.DeviceConfig{
		Name: "alarm",
		Kind: "logic_or",
		Bindings: map[string]config.BindingConfig{
			"bus": {
				Destination: "alarm/state",
				Inputs:      map[string]string{"door": "door/state", "window": "window/state"},
			},
		},
	})

	r, m, _, obs := startReporter(t, cfg)
	if got := len(r.Actuators()); got != 2 {
		t.Fatalf("len(Actuators()) = %d, want 2", got)
	}

	if !m.latest("bus").SimulateMessage("window/state", "ON") {
		t.Fatal("no handler for window/state")
	}
	waitFor(t, "gate ON", func() bool {
		level, ok := obs.level("alarm")
		return ok && level == 100
	})
}

func TestReporter_NoConnections(t *testing.T) {
	failing := func(config.ConnectionConfig, device.Logger) (connection.Transport, error) {
		return nil, device.ErrConfiguration
	}
	r := New(testConfig(), Options{Logger: testLogger(), NewTransport: failing})
	if err := r.Start(context.Background()); !errors.Is(err, ErrNoConnections) {
		t.Errorf("Start() error = %v, want ErrNoConnections", err)
	}
	if got := r.Connections(); len(got) != 0 {
		t.Errorf("Connections() = %+v, want none", got)
	}
}

func TestReporter_StartTwice(t *testing.T) {
	r, _, _, _ := startReporter(t, testConfig())
	if err := r.Start(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("second Start() error = %v, want ErrRunning", err)
	}
}

func TestReporter_Refresh(t *testing.T) {
	r, _, _, _ := startReporter(t, testConfig())
	if got := r.Refresh(); got != 1 {
		t.Errorf("Refresh() = %d, want 1", got)
	}
}

func TestReporter_Reload(t *testing.T) {
	r, m, _, _ := startReporter(t, testConfig())
	first := m.latest("bus")

	next := testConfig()
	next.Sensors[0].Name = "pulse"
	if err := r.Reload(context.Background(), next); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if !first.IsClosed() {
		t.Error("old transport not closed on reload")
	}
	if m.latest("bus") == first {
		t.Fatal("reload did not build a new transport")
	}
	stats := r.Sensors()
	if len(stats) != 1 || stats[0].Name != "pulse" {
		t.Errorf("Sensors() after reload = %+v, want pulse", stats)
	}
	if err := r.Command("lamp", "ON"); err != nil {
		t.Errorf("Command() after reload error = %v", err)
	}
}

func TestReporter_Stop(t *testing.T) {
	r, m, _, _ := startReporter(t, testConfig())

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !m.latest("bus").IsClosed() {
		t.Error("transport not closed")
	}
	if err := r.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if err := r.Command("lamp", "ON"); !errors.Is(err, device.ErrNotFound) {
		t.Errorf("Command() after Stop error = %v, want ErrNotFound", err)
	}
	if got := r.Refresh(); got != 0 {
		t.Errorf("Refresh() after Stop = %d, want 0", got)
	}
}

func TestReporter_PrunesHistory(t *testing.T) {
	cfg := testConfig()
	cfg.Database.HistoryRetention = time.Hour

	_, _, store, _ := startReporter(t, cfg)
	waitFor(t, "initial prune", func() bool { return store.pruneCount() > 0 })
}
