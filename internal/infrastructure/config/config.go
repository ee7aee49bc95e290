package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Grafik Eye link limits.
const (
	// MinControlUnitID is the lowest control unit address on a link.
	MinControlUnitID = 1

	// MaxControlUnitID is the highest control unit address on a link.
	MaxControlUnitID = 8

	// DefaultLogin is the vendor default login token for the telnet interface.
	DefaultLogin = "nwk2"

	// DefaultPort is the telnet port the control interface listens on.
	DefaultPort = 23
)

// Config is the root configuration structure for the Grafik Eye bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	GrafikEye GrafikEyeConfig `yaml:"grafik_eye"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BridgeConfig contains bridge identity and operational settings.
type BridgeConfig struct {
	// ID uniquely identifies this bridge instance in health messages.
	ID string `yaml:"id"`

	// HealthInterval is how often to publish health status (seconds).
	// Default: 30
	HealthInterval int `yaml:"health_interval"`
}

// GrafikEyeConfig contains the telnet link settings and the control units
// and scenes exposed by the bridge.
type GrafikEyeConfig struct {
	// Host is the address of the Grafik Eye telnet interface. Required.
	Host string `yaml:"host"`

	// Port is the telnet port.
	// Default: 23
	Port int `yaml:"port"`

	// Login is the login token sent after the "login: " prompt.
	// Default: "nwk2"
	Login string `yaml:"login"`

	// ConnectTimeout bounds the TCP dial (seconds).
	// Default: 10
	ConnectTimeout int `yaml:"connect_timeout"`

	// LoginTimeout bounds the whole login handshake (seconds).
	// Default: 5
	LoginTimeout int `yaml:"login_timeout"`

	// ReadTimeout bounds a single poll reply read (milliseconds).
	// Default: 2000
	ReadTimeout int `yaml:"read_timeout_ms"`

	// PollInterval is the sleep between status polls (milliseconds).
	// Default: 500
	PollInterval int `yaml:"poll_interval_ms"`

	// DebounceWindow is how long polled updates are ignored for a control
	// unit after the bridge itself selected a scene on it (milliseconds).
	// Default: 1000
	DebounceWindow int `yaml:"debounce_window_ms"`

	// Reconnect configures the optional reconnect supervisor.
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// ControlUnits lists the control units exposed over MQTT.
	ControlUnits []ControlUnitConfig `yaml:"control_units"`

	// Scenes lists the named scenes and their wire codes.
	Scenes []SceneConfig `yaml:"scenes"`
}

// ReconnectConfig contains reconnect supervisor settings.
//
// Reconnection is disabled by default: a dropped link stays down until the
// process is restarted.
type ReconnectConfig struct {
	Enabled      bool `yaml:"enabled"`
	InitialDelay int  `yaml:"initial_delay"` // seconds
	MaxDelay     int  `yaml:"max_delay"`     // seconds
}

// ControlUnitConfig names one control unit on the link.
type ControlUnitConfig struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

// SceneConfig maps a scene name to its wire code.
type SceneConfig struct {
	Name string `yaml:"name"`
	Code string `yaml:"code"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// String returns a representation with the password masked.
func (a MQTTAuthConfig) String() string {
	password := ""
	if a.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("MQTTAuthConfig{Username:%q, Password:%s}", a.Username, password)
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings for link telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAFIKEYE_SECTION_KEY
// For example: GRAFIKEYE_HOST, GRAFIKEYE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "grafikeye-bridge-01",
			HealthInterval: 30,
		},
		GrafikEye: GrafikEyeConfig{
			Port:           DefaultPort,
			Login:          DefaultLogin,
			ConnectTimeout: 10,
			LoginTimeout:   5,
			ReadTimeout:    2000,
			PollInterval:   500,
			DebounceWindow: 1000,
			Reconnect: ReconnectConfig{
				Enabled:      false,
				InitialDelay: 5,
				MaxDelay:     120,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "grafikeye-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAFIKEYE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Grafik Eye link
	if v := os.Getenv("GRAFIKEYE_HOST"); v != "" {
		cfg.GrafikEye.Host = v
	}
	if v := os.Getenv("GRAFIKEYE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.GrafikEye.Port = port
		}
	}
	if v := os.Getenv("GRAFIKEYE_LOGIN"); v != "" {
		cfg.GrafikEye.Login = v
	}

	// MQTT
	if v := os.Getenv("GRAFIKEYE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAFIKEYE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAFIKEYE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAFIKEYE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	errs = append(errs, c.GrafikEye.validate()...)

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validate checks the Grafik Eye section and returns every problem found.
func (g GrafikEyeConfig) validate() []string {
	var errs []string

	if g.Host == "" {
		errs = append(errs, "grafik_eye.host is required (set GRAFIKEYE_HOST environment variable)")
	}
	if g.Port < 1 || g.Port > 65535 {
		errs = append(errs, "grafik_eye.port must be between 1 and 65535")
	}
	if g.Login == "" {
		errs = append(errs, "grafik_eye.login is required")
	}
	if g.PollInterval <= 0 {
		errs = append(errs, "grafik_eye.poll_interval_ms must be positive")
	}
	if g.Reconnect.Enabled {
		if g.Reconnect.InitialDelay <= 0 {
			errs = append(errs, "grafik_eye.reconnect.initial_delay must be positive when reconnect is enabled")
		}
		if g.Reconnect.MaxDelay < g.Reconnect.InitialDelay {
			errs = append(errs, "grafik_eye.reconnect.max_delay must not be less than initial_delay")
		}
	}

	seenUnits := make(map[int]bool, len(g.ControlUnits))
	for _, cu := range g.ControlUnits {
		if cu.ID < MinControlUnitID || cu.ID > MaxControlUnitID {
			errs = append(errs, fmt.Sprintf("grafik_eye.control_units: id %d out of range %d-%d",
				cu.ID, MinControlUnitID, MaxControlUnitID))
			continue
		}
		if seenUnits[cu.ID] {
			errs = append(errs, fmt.Sprintf("grafik_eye.control_units: duplicate id %d", cu.ID))
		}
		seenUnits[cu.ID] = true
	}

	seenScenes := make(map[string]bool, len(g.Scenes))
	for _, s := range g.Scenes {
		if s.Name == "" || s.Code == "" {
			errs = append(errs, "grafik_eye.scenes: name and code are required")
			continue
		}
		if seenScenes[s.Name] {
			errs = append(errs, fmt.Sprintf("grafik_eye.scenes: duplicate name %q", s.Name))
		}
		seenScenes[s.Name] = true
	}

	return errs
}

// GetConnectTimeout returns the telnet dial timeout as a Duration.
func (g GrafikEyeConfig) GetConnectTimeout() time.Duration {
	return time.Duration(g.ConnectTimeout) * time.Second
}

// GetLoginTimeout returns the login handshake timeout as a Duration.
func (g GrafikEyeConfig) GetLoginTimeout() time.Duration {
	return time.Duration(g.LoginTimeout) * time.Second
}

// GetReadTimeout returns the poll reply read timeout as a Duration.
func (g GrafikEyeConfig) GetReadTimeout() time.Duration {
	return time.Duration(g.ReadTimeout) * time.Millisecond
}

// GetPollInterval returns the poll interval as a Duration.
func (g GrafikEyeConfig) GetPollInterval() time.Duration {
	return time.Duration(g.PollInterval) * time.Millisecond
}

// GetDebounceWindow returns the self-echo suppression window as a Duration.
func (g GrafikEyeConfig) GetDebounceWindow() time.Duration {
	return time.Duration(g.DebounceWindow) * time.Millisecond
}

// GetHealthInterval returns the health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetInitialDelay returns the first reconnect delay as a Duration.
func (r ReconnectConfig) GetInitialDelay() time.Duration {
	return time.Duration(r.InitialDelay) * time.Second
}

// GetMaxDelay returns the reconnect delay cap as a Duration.
func (r ReconnectConfig) GetMaxDelay() time.Duration {
	return time.Duration(r.MaxDelay) * time.Second
}
