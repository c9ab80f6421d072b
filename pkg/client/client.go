// Package client assembles a running sync client: the websocket transport
// feeds the topic router, the router feeds the node store, and observers
// (snapshot cache, MQTT mirror, metrics) hang off the stores.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nodesync/nodesync-go/pkg/config"
	"github.com/nodesync/nodesync-go/pkg/connection"
	"github.com/nodesync/nodesync-go/pkg/discovery"
	"github.com/nodesync/nodesync-go/pkg/log"
	"github.com/nodesync/nodesync-go/pkg/metrics"
	"github.com/nodesync/nodesync-go/pkg/mirror"
	"github.com/nodesync/nodesync-go/pkg/persistence"
	"github.com/nodesync/nodesync-go/pkg/router"
	"github.com/nodesync/nodesync-go/pkg/store"
	"github.com/nodesync/nodesync-go/pkg/transport"
	"github.com/nodesync/nodesync-go/pkg/wire"
)

// Client errors.
var (
	ErrNoURL          = errors.New("no daemon url")
	ErrAlreadyStarted = errors.New("client already started")
)

// Options configures a Client.
type Options struct {
	Config *config.Config

	// Dialer overrides the websocket dialer.
	Dialer transport.Dialer

	// Publisher overrides the MQTT connection of the mirror.
	Publisher mirror.Publisher

	// ProtocolLogger receives protocol events in addition to the capture
	// file and the metrics collector.
	ProtocolLogger log.Logger

	// FetchOnConnect requests a full snapshot after every (re)connect.
	// Default: true (nil).
	FetchOnConnect *bool

	Logger *slog.Logger
}

// Client is the composition root.
type Client struct {
	cfg    *config.Config
	logger *slog.Logger

	Transport  *transport.Transport
	Router     *router.Router
	Nodes      *store.NodeStore
	Connection *store.ConnectionStore
	Metrics    *metrics.Collector

	capture   *log.FileLogger
	exporter  *metrics.Exporter
	recorder  *persistence.Recorder
	publisher mirror.Publisher
	mirror    *mirror.Mirror
	mqtt      mqtt.Client

	fetchOnConnect bool

	mu          sync.Mutex
	started     bool
	closed      bool
	metricsAddr string
}

// New builds a client from opts. Nothing is connected until Start.
func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Server.URL == "" {
		return nil, ErrNoURL
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	codec, err := wire.Lookup(cfg.Codec)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:            cfg,
		logger:         logger.With("component", "client"),
		Metrics:        metrics.NewCollector(),
		publisher:      opts.Publisher,
		fetchOnConnect: opts.FetchOnConnect == nil || *opts.FetchOnConnect,
	}

	loggers := []log.Logger{c.Metrics}
	if opts.ProtocolLogger != nil {
		loggers = append(loggers, opts.ProtocolLogger)
	}
	if cfg.Log.ProtocolFile != "" {
		c.capture, err = log.NewFileLogger(cfg.Log.ProtocolFile)
		if err != nil {
			return nil, fmt.Errorf("open protocol log: %w", err)
		}
		loggers = append(loggers, c.capture)
	}
	plog := log.NewMultiLogger(loggers...)

	dialer := opts.Dialer
	if dialer == nil {
		dialer = transport.NewWebsocketDialer(cfg.Transport.ConnectTimeout)
	}

	c.Router = router.New(router.Config{Logger: logger, ProtocolLogger: plog})
	c.Router.OnUnrouted(func(msg wire.Message, err error) {
		c.logger.Debug("unrouted message", "topic", msg.Topic, "error", err)
	})

	c.Connection = store.NewConnectionStore(logger)

	c.Transport = transport.New(transport.Config{
		URL:            cfg.Server.URL,
		Dialer:         dialer,
		Codec:          codec,
		Reconnect:      cfg.ReconnectPolicy(),
		ConnectTimeout: cfg.Transport.ConnectTimeout,
		WriteTimeout:   cfg.Transport.WriteTimeout,
		PingInterval:   cfg.Transport.PingInterval,
		PongWait:       cfg.Transport.PongWait,
		MaxMessageSize: cfg.Transport.MaxMessageSize,
		MaxBuffered:    cfg.Transport.MaxBuffered,
		Logger:         logger,
		ProtocolLogger: plog,
	}, transport.HandlerFuncs{
		Message:     func(msg wire.Message) { c.Router.Dispatch(msg) },
		StateChange:  c.Connection.OnStateChange,
		Reconnecting: c.Connection.OnReconnecting,
		GiveUp: func(err error) {
			c.logger.Warn("daemon unreachable, no further reconnects", "url", cfg.Server.URL, "error", err)
			c.Connection.OnGiveUp(err)
		},
		Error: func(err error) {
			c.logger.Debug("transport error", "error", err)
		},
	})

	c.Nodes = store.NewNodeStore(store.Config{
		Sender:         c.Transport,
		Logger:         logger,
		ProtocolLogger: plog,
	})
	c.Nodes.Bind(c.Router)

	if err := c.registerGauges(); err != nil {
		_ = c.closeCapture()
		return nil, err
	}

	if path := cfg.StatePath(); path != "" {
		c.recorder = persistence.NewRecorder(persistence.NewSnapshotStateStore(path), cfg.Server.URL, logger)
	}

	return c, nil
}

func (c *Client) registerGauges() error {
	gauges := []struct {
		name, help string
		fn         func() float64
	}{
		{"buffered_messages", "Outbound messages waiting for a socket.", func() float64 { return float64(c.Transport.Buffered()) }},
		{"connected", "1 while a socket to the daemon is open.", func() float64 {
			if c.Connection.Connected() {
				return 1
			}
			return 0
		}},
		{"subscribers", "Registered node store listeners.", func() float64 { return float64(c.Nodes.Subscribers()) }},
	}
	for _, g := range gauges {
		if err := c.Metrics.GaugeFunc(g.name, g.help, g.fn); err != nil {
			return fmt.Errorf("register gauge %s: %w", g.name, err)
		}
	}

	counters := []struct {
		name, help string
		fn         func() float64
	}{
		{"unrouted_messages_total", "Inbound messages without a topic handler.", func() float64 { return float64(c.Router.Unrouted()) }},
		{"handler_failures_total", "Inbound messages whose handler failed.", func() float64 { return float64(c.Router.Failed()) }},
	}
	for _, m := range counters {
		if err := c.Metrics.CounterFunc(m.name, m.help, m.fn); err != nil {
			return fmt.Errorf("register counter %s: %w", m.name, err)
		}
	}
	return nil
}

func (c *Client) mirrorConfig() mirror.Config {
	return mirror.Config{
		Broker:      c.cfg.MQTT.Broker,
		ClientID:    c.cfg.MQTT.ClientID,
		TopicPrefix: c.cfg.MQTT.TopicPrefix,
		QoS:         c.cfg.MQTT.QoS,
		Logger:      c.logger,
	}
}

// Start wires the observers, restores the snapshot cache, starts the metrics
// exporter and connects. A failed first dial is not an error: the transport
// keeps retrying. ErrTransportUnavailable is returned as is.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	if c.publisher == nil && c.cfg.MQTT.Enabled {
		client, err := mirror.Connect(c.mirrorConfig())
		if err != nil {
			return err
		}
		c.mqtt = client
		c.publisher = client
	}
	if c.publisher != nil {
		c.mirror = mirror.New(c.publisher, c.mirrorConfig())
	}

	if c.recorder != nil {
		if _, err := c.recorder.Restore(c.Nodes); err != nil {
			c.logger.Warn("snapshot cache unreadable", "error", err)
		}
		c.Nodes.Subscribe(c.recorder.Observe)
	}
	if c.mirror != nil {
		c.Nodes.Subscribe(c.mirror.Observe)
		c.Connection.Subscribe(c.mirror.ObserveStatus)
	}
	if c.fetchOnConnect {
		c.Connection.Subscribe(c.onStatus)
	}

	if c.cfg.Metrics.Enabled {
		c.exporter = metrics.NewExporter(c.cfg.Metrics.Addr, c.Metrics, c.logger)
		addr, err := c.exporter.Start()
		if err != nil {
			return fmt.Errorf("start metrics exporter: %w", err)
		}
		c.mu.Lock()
		c.metricsAddr = addr
		c.mu.Unlock()
	}

	err := c.Transport.Connect(ctx)
	if errors.Is(err, transport.ErrTransportUnavailable) {
		return err
	}
	if err != nil {
		c.logger.Warn("initial connect failed, retrying", "url", c.cfg.Server.URL, "error", err)
	}
	return nil
}

// onStatus runs on the connection store notifier.
func (c *Client) onStatus(status store.ConnectionStatus) {
	if status.State != connection.StateConnected {
		return
	}
	if err := c.Nodes.RequestFetch(); err != nil && !errors.Is(err, store.ErrStoreClosed) {
		c.logger.Warn("fetch after connect failed", "error", err)
	}
}

// MetricsAddr returns the bound exporter address, or "" when disabled.
func (c *Client) MetricsAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metricsAddr
}

// Mirror returns the MQTT mirror, or nil when disabled or not started.
func (c *Client) Mirror() *mirror.Mirror {
	return c.mirror
}

// Close shuts everything down. Queued notifications are delivered before
// the stores stop, so the cache and the mirror see the final state.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var errs []error
	if err := c.Transport.Close(); err != nil {
		errs = append(errs, err)
	}
	c.Nodes.Close()
	c.Connection.Close()

	if c.mqtt != nil {
		c.mqtt.Disconnect(250)
	}
	if c.exporter != nil {
		if err := c.exporter.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.closeCapture(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Client) closeCapture() error {
	if c.capture == nil {
		return nil
	}
	return c.capture.Close()
}

// Resolve fills cfg.Server.URL from mDNS when it is empty and discovery is
// enabled.
func Resolve(ctx context.Context, cfg *config.Config, browser discovery.Browser) error {
	if cfg.Server.URL != "" || !cfg.Discovery.Enabled {
		return nil
	}
	if browser == nil {
		return ErrNoURL
	}

	var filter discovery.FilterFunc
	if cfg.Discovery.Instance != "" {
		filter = discovery.FilterByInstance(cfg.Discovery.Instance)
	}
	svc, err := browser.Find(ctx, filter)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoURL, err)
	}
	cfg.Server.URL = svc.URL()
	if svc.Codec != "" {
		cfg.Codec = svc.Codec
	}
	return nil
}
