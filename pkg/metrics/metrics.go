// Package metrics derives prometheus metrics from protocol events.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nodesync/nodesync-go/pkg/log"
	"github.com/nodesync/nodesync-go/pkg/wire"
)

const (
	namespace = "nodesync"

	// otherTopic labels topics outside the protocol table.
	otherTopic = "other"
)

// Collector counts protocol events. It implements log.Logger so it can be
// attached wherever a protocol logger is accepted.
type Collector struct {
	registry *prometheus.Registry

	// MessagesTotal counts decoded envelopes
	MessagesTotal *prometheus.CounterVec

	// FramesTotal counts websocket data frames
	FramesTotal *prometheus.CounterVec

	// FrameBytesTotal sums websocket data frame sizes
	FrameBytesTotal *prometheus.CounterVec

	// BufferedTotal counts messages queued while disconnected
	BufferedTotal prometheus.Counter

	// FlushesTotal counts buffer flushes after a (re)connect
	FlushesTotal prometheus.Counter

	// ControlFramesTotal counts ping/pong/close frames
	ControlFramesTotal *prometheus.CounterVec

	// ErrorsTotal counts errors by layer and operation
	ErrorsTotal *prometheus.CounterVec

	// StateChangesTotal counts connection state entries
	StateChangesTotal *prometheus.CounterVec

	// SnapshotsTotal counts published store snapshots
	SnapshotsTotal *prometheus.CounterVec

	// Nodes tracks the size of the last snapshot
	Nodes prometheus.Gauge

	// Loading is 1 while a full snapshot is pending
	Loading prometheus.Gauge

	// RemoteError is 1 while a daemon failure is pending
	RemoteError prometheus.Gauge
}

// NewCollector creates a collector with its own registry. Go runtime and
// process collectors are registered alongside.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Total number of envelopes by direction and topic",
			},
			[]string{"direction", "topic"},
		),
		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_total",
				Help:      "Total number of websocket data frames",
			},
			[]string{"direction"},
		),
		FrameBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frame_bytes_total",
				Help:      "Total size of websocket data frames in bytes",
			},
			[]string{"direction"},
		),
		BufferedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "buffered_messages_total",
				Help:      "Total number of messages buffered while disconnected",
			},
		),
		FlushesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "buffer_flushes_total",
				Help:      "Total number of outbound buffer flushes",
			},
		),
		ControlFramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "control_frames_total",
				Help:      "Total number of websocket control frames",
			},
			[]string{"direction", "type"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by layer and operation",
			},
			[]string{"layer", "op"},
		),
		StateChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_state_changes_total",
				Help:      "Total number of connection state entries",
			},
			[]string{"state"},
		),
		SnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshots_total",
				Help:      "Total number of store snapshots by cause",
			},
			[]string{"cause"},
		),
		Nodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "nodes",
				Help:      "Number of nodes in the last snapshot",
			},
		),
		Loading: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "loading",
				Help:      "1 while a full snapshot is pending",
			},
		),
		RemoteError: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "remote_error",
				Help:      "1 while a daemon failure is pending",
			},
		),
	}

	c.registry.MustRegister(
		c.MessagesTotal,
		c.FramesTotal,
		c.FrameBytesTotal,
		c.BufferedTotal,
		c.FlushesTotal,
		c.ControlFramesTotal,
		c.ErrorsTotal,
		c.StateChangesTotal,
		c.SnapshotsTotal,
		c.Nodes,
		c.Loading,
		c.RemoteError,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// CounterFunc registers a counter whose value is read from fn at scrape time.
// fn must never decrease.
func (c *Collector) CounterFunc(name, help string, fn func() float64) error {
	return c.registry.Register(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		fn,
	))
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func (c *Collector) GaugeFunc(name, help string, fn func() float64) error {
	return c.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		fn,
	))
}

// Log implements log.Logger.
func (c *Collector) Log(ev log.Event) {
	dir := ev.Direction.String()

	switch {
	case ev.Frame != nil:
		c.FramesTotal.WithLabelValues(dir).Inc()
		c.FrameBytesTotal.WithLabelValues(dir).Add(float64(ev.Frame.Size))

	case ev.Message != nil:
		if ev.Message.Buffered {
			c.BufferedTotal.Inc()
			return
		}
		c.MessagesTotal.WithLabelValues(dir, topicLabel(ev.Direction, ev.Message.Topic)).Inc()

	case ev.ControlMsg != nil:
		c.ControlFramesTotal.WithLabelValues(dir, ev.ControlMsg.Type.String()).Inc()

	case ev.Error != nil:
		c.ErrorsTotal.WithLabelValues(ev.Error.Layer.String(), ev.Error.Context).Inc()

	case ev.StateChange != nil:
		switch ev.StateChange.Entity {
		case log.StateEntityConnection:
			c.StateChangesTotal.WithLabelValues(ev.StateChange.NewState).Inc()
		case log.StateEntityBuffer:
			c.FlushesTotal.Inc()
		}

	case ev.Snapshot != nil:
		c.SnapshotsTotal.WithLabelValues(ev.Snapshot.Cause).Inc()
		c.Nodes.Set(float64(ev.Snapshot.Nodes))
		c.Loading.Set(boolFloat(ev.Snapshot.Loading))
		c.RemoteError.Set(boolFloat(ev.Snapshot.Err != ""))
	}
}

// topicLabel keeps the label set bounded: topics a peer is not expected to
// send in that direction are counted as other.
func topicLabel(dir log.Direction, topic string) string {
	t := wire.Topic(topic)
	switch {
	case dir == log.DirectionIn && t.IsInbound():
		return topic
	case dir == log.DirectionOut && t.IsOutbound():
		return topic
	default:
		return otherTopic
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var _ log.Logger = (*Collector)(nil)
