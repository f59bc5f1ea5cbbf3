package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Connection types understood by the reporter.
const (
	ConnectionMQTT     = "mqtt"
	ConnectionHub      = "hub"
	ConnectionLocal    = "local"
	ConnectionInfluxDB = "influxdb"
)

// Config is the root configuration structure for the Gray Logic reporter.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site        SiteConfig         `yaml:"site"`
	Logging     LoggingConfig      `yaml:"logging"`
	Database    DatabaseConfig     `yaml:"database"`
	API         APIConfig          `yaml:"api"`
	Scheduler   SchedulerConfig    `yaml:"scheduler"`
	Defaults    map[string]string  `yaml:"defaults"`
	Connections []ConnectionConfig `yaml:"connections"`
	Sensors     []DeviceConfig     `yaml:"sensors"`
	Actuators   []DeviceConfig     `yaml:"actuators"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite state store settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetention bounds how long reading history rows are kept.
	HistoryRetention time.Duration `yaml:"history_retention"`
}

// APIConfig contains the local HTTP status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// SchedulerConfig contains poll manager settings.
type SchedulerConfig struct {
	// ShutdownGrace bounds how long Stop waits for running workers.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// ConnectionConfig describes one named connection.
type ConnectionConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// StatusDestination receives the retained ONLINE/OFFLINE marker.
	StatusDestination string `yaml:"status_destination"`

	// RefreshDestination is listened to for refresh requests.
	RefreshDestination string `yaml:"refresh_destination"`

	// RetryDelay is the fixed delay between reconnect attempts.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// AckTimeout is the window in which a publish must be acknowledged
	// before the connection is considered lost.
	AckTimeout time.Duration `yaml:"ack_timeout"`

	// RefreshOnConnect republishes cached readings after every (re)connect.
	RefreshOnConnect bool `yaml:"refresh_on_connect"`

	MQTT     MQTTConfig     `yaml:"mqtt"`
	Hub      HubConfig      `yaml:"hub"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig `yaml:"broker"`
	Auth      MQTTAuthConfig   `yaml:"auth"`
	QoS       int              `yaml:"qos"`
	RootTopic string           `yaml:"root_topic"`
	KeepAlive int              `yaml:"keepalive"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	TLS         bool   `yaml:"tls"`
	CACert      string `yaml:"ca_cert"`
	TLSInsecure bool   `yaml:"tls_insecure"`
	ClientID    string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HubConfig contains websocket hub connection settings.
type HubConfig struct {
	URL          string        `yaml:"url"`
	Token        string        `yaml:"token"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	Measurement   string `yaml:"measurement"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// DeviceConfig describes a sensor or actuator.
type DeviceConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	// Interval > 0 makes a sensor a polling sensor; otherwise it runs in the background.
	Interval time.Duration `yaml:"interval"`

	// Level overrides the log level for this device only.
	Level string `yaml:"level"`

	Params   map[string]string        `yaml:"params"`
	Bindings map[string]BindingConfig `yaml:"bindings"`
}

// BindingConfig binds a device to one connection.
type BindingConfig struct {
	// Destination is where a sensor publishes its default output, or where an
	// actuator echoes its state.
	Destination string `yaml:"destination"`

	// CommandSrc is the destination an actuator listens on for commands.
	CommandSrc string `yaml:"command_src"`

	Retain bool     `yaml:"retain"`
	Values []string `yaml:"values"`
	Raw    bool     `yaml:"raw"`

	// SendReadings buffers readings while the connection is down.
	SendReadings     bool `yaml:"send_readings"`
	NumberOfReadings int  `yaml:"number_of_readings"`

	Outputs map[string]OutputConfig `yaml:"outputs"`

	OnDisconnect *ActionConfig `yaml:"on_disconnect"`
	OnReconnect  *ActionConfig `yaml:"on_reconnect"`

	// Inputs and EnableSrc configure logic gates.
	Inputs    map[string]string `yaml:"inputs"`
	EnableSrc string            `yaml:"enable_src"`

	Attributes map[string]string `yaml:"attributes"`
}

// OutputConfig binds one logical sensor output to a destination.
type OutputConfig struct {
	Destination string            `yaml:"destination"`
	Retain      bool              `yaml:"retain"`
	Values      []string          `yaml:"values"`
	Raw         bool              `yaml:"raw"`
	Attributes  map[string]string `yaml:"attributes"`
}

// ActionConfig is a connectivity-driven actuator action.
type ActionConfig struct {
	ChangeState     bool   `yaml:"change_state"`
	TargetState     string `yaml:"target_state"`
	ResumeLastState bool   `yaml:"resume_last_state"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_LOG_LEVEL
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a validated Config from raw YAML.
func Parse(data []byte) (*Config, error) {
	cfg := defaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyConnectionDefaults()
	applyEnvOverrides(cfg)
	cfg.spreadDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic Reporter",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Database: DatabaseConfig{
			Path:             "./data/reporter.db",
			WALMode:          true,
			BusyTimeout:      5,
			HistoryRetention: 7 * 24 * time.Hour,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Scheduler: SchedulerConfig{
			ShutdownGrace: defaultShutdownGrace,
		},
	}
}

// Connection defaults, applied per entry after unmarshalling.
const (
	defaultStatusDestination  = "status"
	defaultRefreshDestination = "refresh"
	defaultRetryDelay         = 5 * time.Second
	defaultShutdownGrace      = 5 * time.Second
	defaultAckTimeout         = 2 * time.Second
	defaultMQTTPort           = 1883
	defaultMQTTKeepAlive      = 60
	defaultHubPingInterval    = 30 * time.Second
)

func (c *Config) applyConnectionDefaults() {
	for i := range c.Connections {
		conn := &c.Connections[i]
		if conn.StatusDestination == "" {
			conn.StatusDestination = defaultStatusDestination
		}
		if conn.RefreshDestination == "" {
			conn.RefreshDestination = defaultRefreshDestination
		}
		if conn.RetryDelay <= 0 {
			conn.RetryDelay = defaultRetryDelay
		}
		if conn.AckTimeout <= 0 {
			conn.AckTimeout = defaultAckTimeout
		}

		switch conn.Type {
		case ConnectionMQTT:
			if conn.MQTT.Broker.Port == 0 {
				conn.MQTT.Broker.Port = defaultMQTTPort
			}
			if conn.MQTT.KeepAlive <= 0 {
				conn.MQTT.KeepAlive = defaultMQTTKeepAlive
			}
		case ConnectionHub:
			if conn.Hub.PingInterval <= 0 {
				conn.Hub.PingInterval = defaultHubPingInterval
			}
		case ConnectionInfluxDB:
			if conn.InfluxDB.Measurement == "" {
				conn.InfluxDB.Measurement = "reading"
			}
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GRAYLOGIC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Credentials apply to every connection of the matching type.
	for i := range cfg.Connections {
		conn := &cfg.Connections[i]
		switch conn.Type {
		case ConnectionMQTT:
			if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
				conn.MQTT.Auth.Username = v
			}
			if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
				conn.MQTT.Auth.Password = v
			}
		case ConnectionHub:
			if v := os.Getenv("GRAYLOGIC_HUB_TOKEN"); v != "" {
				conn.Hub.Token = v
			}
		case ConnectionInfluxDB:
			if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
				conn.InfluxDB.Token = v
			}
		}
	}
}

// spreadDefaults copies the defaults section into every device that does
// not set the parameter itself.
func (c *Config) spreadDefaults() {
	if len(c.Defaults) == 0 {
		return
	}
	spread := func(devices []DeviceConfig) {
		for i := range devices {
			if devices[i].Params == nil {
				devices[i].Params = make(map[string]string, len(c.Defaults))
			}
			for k, v := range c.Defaults {
				if _, ok := devices[i].Params[k]; !ok {
					devices[i].Params[k] = v
				}
			}
		}
	}
	spread(c.Sensors)
	spread(c.Actuators)
}

// Validate checks the global sections of the configuration.
//
// Device entries are checked separately with ValidateDevice so that one
// broken device never prevents the others from loading.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the database is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(c.Connections) == 0 {
		errs = append(errs, "at least one connection is required")
	}

	seen := make(map[string]bool, len(c.Connections))
	for i, conn := range c.Connections {
		prefix := fmt.Sprintf("connections[%d]", i)
		if conn.Name == "" {
			errs = append(errs, prefix+".name is required")
		} else if seen[conn.Name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is duplicated", prefix, conn.Name))
		}
		seen[conn.Name] = true

		switch conn.Type {
		case ConnectionMQTT:
			if conn.MQTT.Broker.Host == "" {
				errs = append(errs, prefix+".mqtt.broker.host is required")
			}
			if conn.MQTT.QoS < 0 || conn.MQTT.QoS > 2 {
				errs = append(errs, prefix+".mqtt.qos must be 0, 1, or 2")
			}
		case ConnectionHub:
			if conn.Hub.URL == "" {
				errs = append(errs, prefix+".hub.url is required")
			}
		case ConnectionInfluxDB:
			if conn.InfluxDB.URL == "" || conn.InfluxDB.Bucket == "" {
				errs = append(errs, prefix+".influxdb.url and bucket are required")
			}
		case ConnectionLocal:
		default:
			errs = append(errs, fmt.Sprintf("%s.type %q is not supported", prefix, conn.Type))
		}
	}

	names := make(map[string]bool)
	for _, d := range append(append([]DeviceConfig{}, c.Sensors...), c.Actuators...) {
		if d.Name == "" {
			continue
		}
		if names[d.Name] {
			errs = append(errs, fmt.Sprintf("device name %q is duplicated", d.Name))
		}
		names[d.Name] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ValidateDevice checks one device entry against the configured connections.
//
// Parameters:
//   - d: The sensor or actuator entry
//
// Returns:
//   - error: Joined description of every problem, or nil if valid
func (c *Config) ValidateDevice(d DeviceConfig) error {
	var errs []string

	if d.Name == "" {
		errs = append(errs, "name is required")
	}
	if d.Kind == "" {
		errs = append(errs, "kind is required")
	}
	if len(d.Bindings) == 0 {
		errs = append(errs, "at least one binding is required")
	}
	for connName, b := range d.Bindings {
		if _, ok := c.Connection(connName); !ok {
			errs = append(errs, fmt.Sprintf("binding references unknown connection %q", connName))
		}
		if len(b.Values) != 0 && len(b.Values) != 2 {
			errs = append(errs, fmt.Sprintf("binding %q: values must contain exactly two entries", connName))
		}
		if b.NumberOfReadings < 0 {
			errs = append(errs, fmt.Sprintf("binding %q: number_of_readings must not be negative", connName))
		}
		for name, out := range b.Outputs {
			if out.Destination == "" {
				errs = append(errs, fmt.Sprintf("binding %q: output %q has no destination", connName, name))
			}
			if len(out.Values) != 0 && len(out.Values) != 2 {
				errs = append(errs, fmt.Sprintf("binding %q: output %q values must contain exactly two entries", connName, name))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("device %q: %s", d.Name, strings.Join(errs, "; "))
	}
	return nil
}

// Connection looks up a connection entry by name.
func (c *Config) Connection(name string) (ConnectionConfig, bool) {
	for _, conn := range c.Connections {
		if conn.Name == name {
			return conn, true
		}
	}
	return ConnectionConfig{}, false
}

// IsPolling reports whether the device is driven by the poll schedule.
func (d DeviceConfig) IsPolling() bool {
	return d.Interval > 0
}

// GetShutdownGrace returns the scheduler shutdown grace, falling back to
// the default when unset.
func (c *Config) GetShutdownGrace() time.Duration {
	if c.Scheduler.ShutdownGrace <= 0 {
		return defaultShutdownGrace
	}
	return c.Scheduler.ShutdownGrace
}
