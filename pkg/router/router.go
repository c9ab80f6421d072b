package router

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nodesync/nodesync-go/pkg/log"
	"github.com/nodesync/nodesync-go/pkg/wire"
)

// ErrUnroutedTopic is reported for messages whose topic has no handler.
var ErrUnroutedTopic = errors.New("unrouted topic")

// HandlerFunc handles one message. A returned error is logged and dropped.
type HandlerFunc func(msg wire.Message) error

// Config configures a Router.
type Config struct {
	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// Router maps topics to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[wire.Topic]HandlerFunc
	unrouted func(msg wire.Message, err error)

	logger *slog.Logger
	plog   log.Logger

	unroutedCount atomic.Uint64
	failedCount   atomic.Uint64
}

// New creates an empty router.
func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		handlers: make(map[wire.Topic]HandlerFunc),
		logger:   logger.With("component", "router"),
		plog:     log.OrNoop(cfg.ProtocolLogger),
	}
}

// Register installs h for topic, replacing any earlier handler.
// A nil handler removes the registration.
func (r *Router) Register(topic wire.Topic, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil {
		delete(r.handlers, topic)
		return
	}
	if _, ok := r.handlers[topic]; ok {
		r.logger.Debug("replacing handler", "topic", topic)
	}
	r.handlers[topic] = h
}

// Unregister removes the handler for topic.
func (r *Router) Unregister(topic wire.Topic) {
	r.Register(topic, nil)
}

// OnUnrouted sets the hook called from the default arm.
func (r *Router) OnUnrouted(fn func(msg wire.Message, err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unrouted = fn
}

// Topics returns the registered topics, sorted.
func (r *Router) Topics() []wire.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make([]wire.Topic, 0, len(r.handlers))
	for t := range r.handlers {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics
}

// Dispatch routes msg to its handler and reports whether one was found.
func (r *Router) Dispatch(msg wire.Message) bool {
	r.mu.RLock()
	h, ok := r.handlers[msg.Topic]
	unrouted := r.unrouted
	r.mu.RUnlock()

	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnroutedTopic, msg.Topic)
		r.unroutedCount.Add(1)
		r.logger.Warn("no handler for topic", "topic", msg.Topic)
		r.logError(err, "dispatch")
		if unrouted != nil {
			unrouted(msg, err)
		}
		return false
	}

	if err := h(msg); err != nil {
		r.failedCount.Add(1)
		r.logger.Warn("handler failed", "topic", msg.Topic, "error", err)
		r.logError(err, "handle "+msg.Topic.String())
	}
	return true
}

// Unrouted returns the number of messages that hit the default arm.
func (r *Router) Unrouted() uint64 {
	return r.unroutedCount.Load()
}

// Failed returns the number of handler errors.
func (r *Router) Failed() uint64 {
	return r.failedCount.Load()
}

func (r *Router) logError(err error, op string) {
	r.plog.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerWire,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerWire,
			Message: err.Error(),
			Context: op,
		},
	})
}
