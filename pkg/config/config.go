// Package config loads the YAML configuration of the sync client.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nodesync/nodesync-go/pkg/connection"
	"github.com/nodesync/nodesync-go/pkg/wire"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Default values.
const (
	DefaultURL         = "ws://localhost:8080/ws"
	DefaultMetricsAddr = "127.0.0.1:9464"
	DefaultBroker      = "tcp://localhost:1883"
	DefaultClientID    = "nodesync"
	DefaultTopicPrefix = "nodesync"

	// StateFileName is the snapshot cache inside StateDir.
	StateFileName = "snapshot.json"
)

// Config is the complete client configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Transport TransportConfig `yaml:"transport"`
	Codec     string          `yaml:"codec"` // json, cbor, msgpack
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Discovery DiscoveryConfig `yaml:"discovery"`

	// StateDir holds the snapshot cache. Empty disables caching.
	StateDir string `yaml:"state_dir"`
}

// ServerConfig locates the daemon.
type ServerConfig struct {
	URL string `yaml:"url"`
}

// ReconnectConfig controls the reconnect loop.
type ReconnectConfig struct {
	Delay       time.Duration `yaml:"delay"`
	MaxAttempts int           `yaml:"max_attempts"` // 0 retries forever
}

// TransportConfig tunes the websocket.
type TransportConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"` // negative disables
	PongWait       time.Duration `yaml:"pong_wait"`     // negative disables
	MaxMessageSize int64         `yaml:"max_message_size"`
	MaxBuffered    int           `yaml:"max_buffered"` // 0 is unbounded
}

// LogConfig controls operational and protocol logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json

	// ProtocolFile receives the CBOR protocol capture. Empty disables it.
	ProtocolFile string `yaml:"protocol_file"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MQTTConfig controls the MQTT mirror.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// DiscoveryConfig controls mDNS lookup of the daemon.
type DiscoveryConfig struct {
	// Enabled resolves the daemon URL over mDNS when Server.URL is empty.
	Enabled bool `yaml:"enabled"`

	// Instance selects a daemon by name. Empty accepts the first found.
	Instance  string        `yaml:"instance"`
	Interface string        `yaml:"interface"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{URL: DefaultURL},
		Reconnect: ReconnectConfig{
			Delay: connection.DefaultReconnectDelay,
		},
		Transport: TransportConfig{
			ConnectTimeout: 10 * time.Second,
			WriteTimeout:   10 * time.Second,
			PingInterval:   54 * time.Second,
			PongWait:       60 * time.Second,
			MaxMessageSize: 4 << 20,
		},
		Codec: "json",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
		MQTT: MQTTConfig{
			Broker:      DefaultBroker,
			ClientID:    DefaultClientID,
			TopicPrefix: DefaultTopicPrefix,
		},
		Discovery: DiscoveryConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch {
	case c.Server.URL == "" && !c.Discovery.Enabled:
		add("server.url is required unless discovery is enabled")
	case c.Server.URL != "":
		u, err := url.Parse(c.Server.URL)
		if err != nil {
			add("server.url: %v", err)
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			add("server.url: scheme must be ws or wss, got %q", u.Scheme)
		}
	}

	if _, err := wire.Lookup(c.Codec); err != nil {
		add("codec: %v", err)
	}

	if c.Reconnect.Delay < 0 {
		add("reconnect.delay must not be negative")
	}
	if c.Reconnect.MaxAttempts < 0 {
		add("reconnect.max_attempts must not be negative")
	}
	if c.Transport.MaxBuffered < 0 {
		add("transport.max_buffered must not be negative")
	}
	if c.Transport.PingInterval > 0 && c.Transport.PongWait > 0 && c.Transport.PingInterval >= c.Transport.PongWait {
		add("transport.ping_interval must be shorter than transport.pong_wait")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		add("metrics.addr is required when metrics are enabled")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			add("mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.ClientID == "" {
			add("mqtt.client_id is required when mqtt is enabled")
		}
	}
	if c.MQTT.QoS > 2 {
		add("mqtt.qos must be 0, 1 or 2")
	}

	if c.Discovery.Enabled && c.Discovery.Timeout <= 0 {
		add("discovery.timeout must be positive")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// StatePath returns the snapshot cache path, or "" when caching is off.
func (c *Config) StatePath() string {
	if c.StateDir == "" {
		return ""
	}
	return filepath.Join(c.StateDir, StateFileName)
}

// ReconnectPolicy returns the reconnect settings for the transport.
func (c *Config) ReconnectPolicy() connection.PolicyConfig {
	return connection.PolicyConfig{
		Delay:       c.Reconnect.Delay,
		MaxAttempts: c.Reconnect.MaxAttempts,
	}
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown level %q (use: debug, info, warn, error)", level)
	}
}

// NewLogger builds the operational logger described by the log section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := ParseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
