package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
site:
  id: "test-site"
database:
  enabled: true
  path: "/tmp/test.db"
api:
  enabled: true
  port: 8091
defaults:
  smooth_change_interval: "0"
connections:
  - name: broker
    type: mqtt
    mqtt:
      broker:
        host: "localhost"
        client_id: "test-client"
      qos: 1
      root_topic: "home/reporter"
  - name: local
    type: local
sensors:
  - name: heartbeat
    kind: heartbeat
    interval: 10s
    bindings:
      broker:
        outputs:
          msec:
            destination: "heartbeat/msec"
          uptime:
            destination: "heartbeat/uptime"
actuators:
  - name: lamp
    kind: dimmer
    params:
      smooth_change_interval: "0.05"
    bindings:
      broker:
        command_src: "lamp/cmd"
        destination: "lamp/state"
        on_disconnect:
          change_state: true
          target_state: "OFF"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.API.Port != 8091 {
		t.Errorf("API.Port = %d, want 8091", cfg.API.Port)
	}
	if len(cfg.Connections) != 2 {
		t.Fatalf("len(Connections) = %d, want 2", len(cfg.Connections))
	}

	broker := cfg.Connections[0]
	if broker.MQTT.Broker.Port != defaultMQTTPort {
		t.Errorf("MQTT.Broker.Port = %d, want default %d", broker.MQTT.Broker.Port, defaultMQTTPort)
	}
	if broker.StatusDestination != "status" || broker.RefreshDestination != "refresh" {
		t.Errorf("destinations = %q/%q, want status/refresh", broker.StatusDestination, broker.RefreshDestination)
	}
	if broker.RetryDelay != defaultRetryDelay {
		t.Errorf("RetryDelay = %v, want %v", broker.RetryDelay, defaultRetryDelay)
	}

	if cfg.Sensors[0].Interval != 10*time.Second {
		t.Errorf("Sensors[0].Interval = %v, want 10s", cfg.Sensors[0].Interval)
	}
	if !cfg.Sensors[0].IsPolling() {
		t.Error("heartbeat should be a polling sensor")
	}

	act := cfg.Actuators[0]
	if got := act.Bindings["broker"].OnDisconnect; got == nil || got.TargetState != "OFF" {
		t.Errorf("OnDisconnect = %+v, want target OFF", got)
	}
}

func TestLoad_DefaultsSpreadIntoDevices(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// The sensor inherits the default; the actuator keeps its own value.
	if got := cfg.Sensors[0].Params["smooth_change_interval"]; got != "0" {
		t.Errorf("sensor param = %q, want inherited %q", got, "0")
	}
	if got := cfg.Actuators[0].Params["smooth_change_interval"]; got != "0.05" {
		t.Errorf("actuator param = %q, want own %q", got, "0.05")
	}
}

func TestLoad_SampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Connections) != 3 {
		t.Errorf("len(Connections) = %d, want 3", len(cfg.Connections))
	}
	for _, d := range append(append([]DeviceConfig{}, cfg.Sensors...), cfg.Actuators...) {
		if err := cfg.ValidateDevice(d); err != nil {
			t.Errorf("ValidateDevice(%s) error = %v", d.Name, err)
		}
	}
	if cfg.Database.HistoryRetention != 168*time.Hour {
		t.Errorf("HistoryRetention = %v, want 168h", cfg.Database.HistoryRetention)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "site: [unclosed"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(writeConfig(t, "site:\n  id: \"\"\n"))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "site.id is required") {
		t.Errorf("error = %v, want site.id message", err)
	}
	if !strings.Contains(err.Error(), "at least one connection") {
		t.Errorf("error = %v, want connection message", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GRAYLOGIC_LOG_LEVEL", "debug")
	t.Setenv("GRAYLOGIC_MQTT_PASSWORD", "s3cret")
	t.Setenv("GRAYLOGIC_API_PORT", "9100")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Connections[0].MQTT.Auth.Password != "s3cret" {
		t.Errorf("MQTT password not overridden: %q", cfg.Connections[0].MQTT.Auth.Password)
	}
	if cfg.API.Port != 9100 {
		t.Errorf("API.Port = %d, want 9100", cfg.API.Port)
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		cfg := defaultConfig()
		cfg.Connections = []ConnectionConfig{{Name: "local", Type: ConnectionLocal}}
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:    "missing site ID",
			modify:  func(c *Config) { c.Site.ID = "" },
			wantErr: "site.id",
		},
		{
			name: "duplicate connection",
			modify: func(c *Config) {
				c.Connections = append(c.Connections, ConnectionConfig{Name: "local", Type: ConnectionLocal})
			},
			wantErr: "duplicated",
		},
		{
			name: "unknown connection type",
			modify: func(c *Config) {
				c.Connections[0].Type = "carrier-pigeon"
			},
			wantErr: "not supported",
		},
		{
			name: "mqtt without host",
			modify: func(c *Config) {
				c.Connections[0].Type = ConnectionMQTT
			},
			wantErr: "broker.host",
		},
		{
			name: "invalid QoS",
			modify: func(c *Config) {
				c.Connections[0].Type = ConnectionMQTT
				c.Connections[0].MQTT.Broker.Host = "localhost"
				c.Connections[0].MQTT.QoS = 3
			},
			wantErr: "qos",
		},
		{
			name: "invalid API port",
			modify: func(c *Config) {
				c.API.Enabled = true
				c.API.Port = 70000
			},
			wantErr: "api.port",
		},
		{
			name: "duplicate device",
			modify: func(c *Config) {
				c.Sensors = []DeviceConfig{{Name: "x"}}
				c.Actuators = []DeviceConfig{{Name: "x"}}
			},
			wantErr: "device name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateDevice(t *testing.T) {
	cfg := defaultConfig()
	cfg.Connections = []ConnectionConfig{{Name: "local", Type: ConnectionLocal}}

	good := DeviceConfig{
		Name:     "door",
		Kind:     "gpio",
		Bindings: map[string]BindingConfig{"local": {Destination: "door"}},
	}
	if err := cfg.ValidateDevice(good); err != nil {
		t.Errorf("ValidateDevice(good) = %v", err)
	}

	bad := DeviceConfig{
		Name: "door",
		Kind: "gpio",
		Bindings: map[string]BindingConfig{
			"nowhere": {Values: []string{"only-one"}},
		},
	}
	err := cfg.ValidateDevice(bad)
	if err == nil {
		t.Fatal("ValidateDevice(bad) = nil, want error")
	}
	for _, want := range []string{"unknown connection", "exactly two"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestConfig_GetShutdownGrace(t *testing.T) {
	cfg := defaultConfig()
	if got := cfg.GetShutdownGrace(); got != defaultShutdownGrace {
		t.Errorf("GetShutdownGrace() = %v, want %v", got, defaultShutdownGrace)
	}
	cfg.Scheduler.ShutdownGrace = 0
	if got := cfg.GetShutdownGrace(); got != defaultShutdownGrace {
		t.Errorf("GetShutdownGrace() with zero = %v, want default", got)
	}
	cfg.Scheduler.ShutdownGrace = 12 * time.Second
	if got := cfg.GetShutdownGrace(); got != 12*time.Second {
		t.Errorf("GetShutdownGrace() = %v, want 12s", got)
	}
}
