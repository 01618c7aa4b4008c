package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file used when GRAYLOGIC_NETATMO_CONFIG is unset.
const DefaultPath = "configs/config.yaml"

// Config mirrors configs/config.yaml. Durations are whole seconds.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Netatmo   NetatmoConfig   `yaml:"netatmo"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig names the Gray Logic installation this bridge belongs to.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// NetatmoConfig points at the provider account.
type NetatmoConfig struct {
	// HomeID is the Netatmo home whose door tags are polled.
	HomeID string `yaml:"home_id"`

	// AuthFile is the credential file. It is rewritten on every token refresh,
	// so the process needs write access to it.
	AuthFile string `yaml:"auth_file"`

	APIURL   string `yaml:"api_url"`
	TokenURL string `yaml:"token_url"`

	// RequestTimeout bounds each provider request. 0 uses the client default.
	RequestTimeout int `yaml:"request_timeout"`
}

// BridgeConfig controls the door-tag bridge loop.
type BridgeConfig struct {
	ID             string `yaml:"id"`
	PollInterval   int    `yaml:"poll_interval"`
	HealthInterval int    `yaml:"health_interval"`
}

// MQTTConfig is the connection to the Gray Logic broker. With Enabled false
// the bridge runs API-only.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig locates the broker. An empty ClientID gets a random one.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig holds broker credentials; prefer the environment for the
// password.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds the reconnect backoff. Reconnection never gives
// up.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig is the REST and WebSocket listener.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig holds the http.Server timeouts.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// ReadTimeout also bounds reading request headers.
func (t APITimeoutConfig) ReadTimeout() time.Duration { return seconds(t.Read) }

func (t APITimeoutConfig) WriteTimeout() time.Duration { return seconds(t.Write) }

func (t APITimeoutConfig) IdleTimeout() time.Duration { return seconds(t.Idle) }

// CORSConfig lists what browsers may do cross-origin. An empty origin list
// allows every origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig tunes the door-tag event feed.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig selects level ("debug" to "error"), format ("json" or
// "text") and output ("stdout" or "stderr").
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load builds the configuration in three layers: built-in defaults, then the
// YAML file at path, then GRAYLOGIC_* environment variables.
//
// Parameters:
//   - path: YAML file; it must exist
//
// Returns:
//   - *Config: validated configuration
//   - error: the file could not be read or parsed, or validation failed
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PathFromEnv returns GRAYLOGIC_NETATMO_CONFIG, or DefaultPath when unset.
func PathFromEnv() string {
	if v := os.Getenv("GRAYLOGIC_NETATMO_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{ID: "site-001", Name: "Gray Logic"},
		Netatmo: NetatmoConfig{
			AuthFile:       "/etc/graylogic/netatmo-auth.json",
			APIURL:         "https://api.netatmo.com",
			TokenURL:       "https://api.netatmo.com/oauth2/token",
			RequestTimeout: 30,
		},
		Bridge: BridgeConfig{ID: "netatmo-bridge-01", PollInterval: 60, HealthInterval: 30},
		MQTT: MQTTConfig{
			Enabled:   true,
			Broker:    MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "graylogic-netatmo"},
			QoS:       1,
			Reconnect: MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60},
		},
		API: APIConfig{
			Enabled:  true,
			Host:     "0.0.0.0",
			Port:     8091,
			Timeouts: APITimeoutConfig{Read: 30, Write: 30, Idle: 60},
		},
		WebSocket: WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logging:   LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// envOverrides maps each supported variable to the field it replaces.
var envOverrides = []struct {
	name  string
	field func(*Config) *string
}{
	{"GRAYLOGIC_NETATMO_HOME_ID", func(c *Config) *string { return &c.Netatmo.HomeID }},
	{"GRAYLOGIC_NETATMO_AUTH_FILE", func(c *Config) *string { return &c.Netatmo.AuthFile }},
	{"GRAYLOGIC_MQTT_HOST", func(c *Config) *string { return &c.MQTT.Broker.Host }},
	{"GRAYLOGIC_MQTT_USERNAME", func(c *Config) *string { return &c.MQTT.Auth.Username }},
	{"GRAYLOGIC_MQTT_PASSWORD", func(c *Config) *string { return &c.MQTT.Auth.Password }},
	{"GRAYLOGIC_API_HOST", func(c *Config) *string { return &c.API.Host }},
	{"GRAYLOGIC_LOG_LEVEL", func(c *Config) *string { return &c.Logging.Level }},
}

// applyEnvOverrides copies every non-empty variable of envOverrides into cfg.
func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			*o.field(cfg) = v
		}
	}
}

// Validate reports every problem at once rather than stopping at the first.
//
// Returns:
//   - error: one line per problem, joined; nil if the config is usable
func (c *Config) Validate() error {
	checks := []struct {
		bad bool
		msg string
	}{
		{c.Site.ID == "", "site.id is required"},
		{c.Netatmo.HomeID == "", "netatmo.home_id is required (or set GRAYLOGIC_NETATMO_HOME_ID)"},
		{c.Netatmo.AuthFile == "", "netatmo.auth_file is required"},
		{c.Netatmo.RequestTimeout < 0, "netatmo.request_timeout must not be negative"},
		{c.Bridge.ID == "", "bridge.id is required"},
		{c.Bridge.PollInterval <= 0, "bridge.poll_interval must be positive"},
		{c.Bridge.HealthInterval <= 0, "bridge.health_interval must be positive"},
		{c.MQTT.QoS < 0 || c.MQTT.QoS > 2, "mqtt.qos must be 0, 1 or 2"},
		{c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535), "api.port must be 1-65535"},
	}

	var problems []string
	for _, chk := range checks {
		if chk.bad {
			problems = append(problems, chk.msg)
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.New("config: invalid: " + strings.Join(problems, "; "))
}

// GetPollInterval is the pause between door-tag polls.
func (c *Config) GetPollInterval() time.Duration { return seconds(c.Bridge.PollInterval) }

// GetHealthInterval is the pause between retained health reports.
func (c *Config) GetHealthInterval() time.Duration { return seconds(c.Bridge.HealthInterval) }

// GetRequestTimeout bounds one provider request.
func (c *Config) GetRequestTimeout() time.Duration { return seconds(c.Netatmo.RequestTimeout) }

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
