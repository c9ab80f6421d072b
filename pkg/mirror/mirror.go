package mirror

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nodesync/nodesync-go/pkg/model"
	"github.com/nodesync/nodesync-go/pkg/store"
)

// Defaults.
const (
	DefaultTopicPrefix    = "nodesync"
	DefaultPublishTimeout = 2 * time.Second
	DefaultConnectTimeout = 5 * time.Second
)

// Status payloads.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("mqtt publish timeout")

// Publisher is the part of mqtt.Client the mirror uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Config configures a Mirror.
type Config struct {
	// Broker is the broker address, e.g. "tcp://localhost:1883".
	Broker string

	// ClientID identifies this client at the broker.
	ClientID string

	// TopicPrefix is prepended to every topic.
	// Default: "nodesync".
	TopicPrefix string

	// QoS for every publish.
	QoS byte

	// PublishTimeout bounds the wait for a broker acknowledgement.
	// Default: 2 seconds.
	PublishTimeout time.Duration

	// Logger for operational logging. Nil uses slog.Default().
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = DefaultTopicPrefix
	}
	c.TopicPrefix = strings.TrimSuffix(c.TopicPrefix, "/")
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats contains mirror statistics.
type Stats struct {
	Published map[string]uint64
	Cleared   uint64
	Errors    uint64
}

// Mirror republishes store snapshots. Only nodes whose JSON changed since the
// last successful publish are sent again.
type Mirror struct {
	client Publisher
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	last      map[model.NodeID][]byte
	lastErr   string
	published map[string]uint64
	cleared   uint64
	errors    uint64
}

// New creates a mirror publishing through client.
func New(client Publisher, cfg Config) *Mirror {
	cfg.applyDefaults()
	return &Mirror{
		client:    client,
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "mirror"),
		last:      make(map[model.NodeID][]byte),
		published: make(map[string]uint64),
	}
}

// NodeTopic returns the topic of a node.
func (m *Mirror) NodeTopic(id model.NodeID) string {
	return m.cfg.TopicPrefix + "/nodes/" + string(id)
}

// StatusTopic returns the connection status topic.
func (m *Mirror) StatusTopic() string {
	return StatusTopic(m.cfg.TopicPrefix)
}

// ErrorTopic returns the daemon error topic.
func (m *Mirror) ErrorTopic() string {
	return m.cfg.TopicPrefix + "/error"
}

// StatusTopic returns the status topic under prefix.
func StatusTopic(prefix string) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return strings.TrimSuffix(prefix, "/") + "/status"
}

// Observe publishes the differences between snap and the last published
// state. Loading snapshots are skipped so a fetch does not clear the broker.
func (m *Mirror) Observe(snap store.Snapshot) {
	if snap.Loading {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[model.NodeID]bool, len(snap.Nodes))
	for _, n := range snap.Nodes {
		seen[n.ID] = true
		data, err := json.Marshal(n)
		if err != nil {
			m.errors++
			m.logger.Warn("marshal node", "node", n.ID, "error", err)
			continue
		}
		if prev, ok := m.last[n.ID]; ok && bytes.Equal(prev, data) {
			continue
		}
		if err := m.publishLocked(m.NodeTopic(n.ID), data); err != nil {
			continue
		}
		m.last[n.ID] = data
	}

	for id := range m.last {
		if seen[id] {
			continue
		}
		if err := m.publishLocked(m.NodeTopic(id), []byte{}); err != nil {
			continue
		}
		delete(m.last, id)
		m.cleared++
	}

	if snap.Err != m.lastErr {
		if err := m.publishLocked(m.ErrorTopic(), []byte(snap.Err)); err == nil {
			m.lastErr = snap.Err
		}
	}
}

// ObserveStatus publishes the transport connection state.
func (m *Mirror) ObserveStatus(status store.ConnectionStatus) {
	payload := StatusOffline
	if status.Connected {
		payload = StatusOnline
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.publishLocked(m.StatusTopic(), []byte(payload))
}

// Stats returns mirror statistics.
func (m *Mirror) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	published := make(map[string]uint64, len(m.published))
	for k, v := range m.published {
		published[k] = v
	}
	return Stats{
		Published: published,
		Cleared:   m.cleared,
		Errors:    m.errors,
	}
}

func (m *Mirror) publishLocked(topic string, payload []byte) error {
	token := m.client.Publish(topic, m.cfg.QoS, true, payload)
	if !token.WaitTimeout(m.cfg.PublishTimeout) {
		m.errors++
		m.logger.Warn("publish timeout", "topic", topic)
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		m.errors++
		m.logger.Warn("publish failed", "topic", topic, "error", err)
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	m.published[topic]++
	m.logger.Debug("published", "topic", topic, "size", len(payload))
	return nil
}

// Connect establishes a broker connection with automatic reconnect. The
// status topic is registered as last will so the broker marks the client
// offline when it disappears.
func Connect(cfg Config) (mqtt.Client, error) {
	cfg.applyDefaults()
	logger := cfg.Logger.With("component", "mirror")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(StatusTopic(cfg.TopicPrefix), StatusOffline, cfg.QoS, true)

	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)

	logger.Info("connecting to mqtt broker", "broker", cfg.Broker)
	token := client.Connect()
	if !token.WaitTimeout(DefaultConnectTimeout) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return client, nil
}
