package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Reconnect defaults applied when the configured values are out of range.
const (
	DefaultReconnectAttempts   = 5
	DefaultReconnectDurationMs = 1000
	DefaultReconnectMaxMs      = 30000
	DefaultBackoffFactor       = 1.5
)

// Heartbeat defaults applied when the configured values are out of range.
const (
	DefaultHeartbeatIntervalSec = 20
	DefaultHeartbeatTimeoutSec  = 40
)

// DefaultSetupTimeoutSec bounds a driver setup flow that never completes.
// Overridable with the UC_SETUP_TIMEOUT environment variable.
const DefaultSetupTimeoutSec = 300

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	HomeAssistant HomeAssistantConfig `mapstructure:"home_assistant"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	MDNS          MDNSConfig          `mapstructure:"mdns"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	SetupTimeoutSec int    `mapstructure:"setup_timeout_sec"`
}

type HomeAssistantConfig struct {
	URL                 string           `mapstructure:"url"`
	Token               string           `mapstructure:"token"`
	ConnectionTimeout   int              `mapstructure:"connection_timeout"`
	MaxFrameSizeKB      int              `mapstructure:"max_frame_size_kb"`
	DisconnectInStandby bool             `mapstructure:"disconnect_in_standby"`
	Reconnect           ReconnectConfig  `mapstructure:"reconnect"`
	Heartbeat           HeartbeatConfig  `mapstructure:"heartbeat"`
}

// ReconnectConfig controls the exponential backoff applied between failed
// connection attempts to Home Assistant. Attempts <= 0 retries indefinitely.
type ReconnectConfig struct {
	Attempts      int     `mapstructure:"attempts"`
	DurationMs    int     `mapstructure:"duration_ms"`
	DurationMaxMs int     `mapstructure:"duration_max_ms"`
	BackoffFactor float64 `mapstructure:"backoff_factor"`
}

func (r ReconnectConfig) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

func (r ReconnectConfig) DurationMax() time.Duration {
	return time.Duration(r.DurationMaxMs) * time.Millisecond
}

// HeartbeatConfig controls the WebSocket ping interval towards Home Assistant
// and the inactivity timeout after which the connection is dropped.
type HeartbeatConfig struct {
	IntervalSec int `mapstructure:"interval_sec"`
	TimeoutSec  int `mapstructure:"timeout_sec"`
}

func (h HeartbeatConfig) Interval() time.Duration {
	return time.Duration(h.IntervalSec) * time.Second
}

func (h HeartbeatConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSec) * time.Second
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MDNSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Instance string `mapstructure:"instance"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()
	viper.BindEnv("home_assistant.url", "HASS_URL")
	viper.BindEnv("home_assistant.token", "HASS_TOKEN")
	viper.BindEnv("server.port", "UC_INTEGRATION_PORT")
	viper.BindEnv("server.setup_timeout_sec", "UC_SETUP_TIMEOUT")
	viper.BindEnv("logging.level", "LOG_LEVEL")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Normalize replaces out-of-range reconnect and heartbeat settings with the
// defaults instead of failing startup.
func (c *Config) Normalize() {
	r := &c.HomeAssistant.Reconnect
	if r.BackoffFactor < 1.0 || r.DurationMs < 100 || r.DurationMaxMs < 1000 {
		*r = ReconnectConfig{
			Attempts:      DefaultReconnectAttempts,
			DurationMs:    DefaultReconnectDurationMs,
			DurationMaxMs: DefaultReconnectMaxMs,
			BackoffFactor: DefaultBackoffFactor,
		}
	}

	h := &c.HomeAssistant.Heartbeat
	if h.IntervalSec < 5 || h.TimeoutSec <= h.IntervalSec {
		*h = HeartbeatConfig{
			IntervalSec: DefaultHeartbeatIntervalSec,
			TimeoutSec:  DefaultHeartbeatTimeoutSec,
		}
	}

	if c.Server.SetupTimeoutSec <= 0 {
		c.Server.SetupTimeoutSec = DefaultSetupTimeoutSec
	}
}

func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.HomeAssistant.URL != "" {
		u, err := url.Parse(c.HomeAssistant.URL)
		if err != nil || u.Host == "" {
			errs = append(errs, "home_assistant.url must be a valid URL")
		} else if u.Scheme != "ws" && u.Scheme != "wss" && u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, "home_assistant.url scheme must be ws, wss, http or https")
		}
	}
	if c.HomeAssistant.ConnectionTimeout <= 0 {
		errs = append(errs, "home_assistant.connection_timeout must be greater than 0")
	}
	if c.HomeAssistant.MaxFrameSizeKB <= 0 {
		errs = append(errs, "home_assistant.max_frame_size_kb must be greater than 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// SetupComplete reports whether the stored Home Assistant connection settings
// are sufficient to skip the driver setup flow.
func (c *Config) SetupComplete() bool {
	if c.HomeAssistant.Token == "" {
		return false
	}
	u, err := url.Parse(c.HomeAssistant.URL)
	return err == nil && u.Host != ""
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.setup_timeout_sec", DefaultSetupTimeoutSec)

	viper.SetDefault("home_assistant.url", "ws://homeassistant.local:8123/api/websocket")
	viper.SetDefault("home_assistant.token", "")
	viper.SetDefault("home_assistant.connection_timeout", 3)
	viper.SetDefault("home_assistant.max_frame_size_kb", 5120)
	viper.SetDefault("home_assistant.disconnect_in_standby", false)
	viper.SetDefault("home_assistant.reconnect.attempts", DefaultReconnectAttempts)
	viper.SetDefault("home_assistant.reconnect.duration_ms", DefaultReconnectDurationMs)
	viper.SetDefault("home_assistant.reconnect.duration_max_ms", DefaultReconnectMaxMs)
	viper.SetDefault("home_assistant.reconnect.backoff_factor", DefaultBackoffFactor)
	viper.SetDefault("home_assistant.heartbeat.interval_sec", DefaultHeartbeatIntervalSec)
	viper.SetDefault("home_assistant.heartbeat.timeout_sec", DefaultHeartbeatTimeoutSec)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("mdns.enabled", true)
	viper.SetDefault("mdns.instance", "remote-bridge")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
}
