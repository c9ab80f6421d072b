package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nodesync/nodesync-go/pkg/connection"
	"github.com/nodesync/nodesync-go/pkg/log"
	"github.com/nodesync/nodesync-go/pkg/model"
	"github.com/nodesync/nodesync-go/pkg/wire"
)

// Transport errors.
var (
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrBufferFull           = errors.New("outbound buffer full")
	ErrClosed               = errors.New("transport closed")
)

// Defaults.
const (
	DefaultWriteTimeout   = 10 * time.Second
	DefaultPongWait       = 60 * time.Second
	DefaultPingInterval   = (DefaultPongWait * 9) / 10
	DefaultConnectTimeout = 10 * time.Second
	DefaultMaxMessageSize = 4 << 20
)

// Handler receives transport events.
type Handler interface {
	// OnMessage is called for every decoded inbound envelope, in receive order.
	OnMessage(msg wire.Message)

	// OnStateChange is called when the connection state changes.
	OnStateChange(oldState, newState connection.State)

	// OnError is called for errors that do not change the connection state,
	// such as malformed frames.
	OnError(err error)
}

// ReconnectHandler is optionally implemented by a Handler to follow the
// reconnect loop.
type ReconnectHandler interface {
	// OnReconnecting is called before each scheduled attempt.
	OnReconnecting(attempt int, delay time.Duration)

	// OnGiveUp is called when a bounded reconnect policy runs out of
	// attempts. The transport stays Disconnected until Connect is called.
	OnGiveUp(err error)
}

// HandlerFuncs adapts plain functions to Handler and ReconnectHandler.
// Nil fields are ignored.
type HandlerFuncs struct {
	Message      func(msg wire.Message)
	StateChange  func(oldState, newState connection.State)
	Error        func(err error)
	Reconnecting func(attempt int, delay time.Duration)
	GiveUp       func(err error)
}

// OnMessage implements Handler.
func (h HandlerFuncs) OnMessage(msg wire.Message) {
	if h.Message != nil {
		h.Message(msg)
	}
}

// OnStateChange implements Handler.
func (h HandlerFuncs) OnStateChange(oldState, newState connection.State) {
	if h.StateChange != nil {
		h.StateChange(oldState, newState)
	}
}

// OnError implements Handler.
func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

// OnReconnecting implements ReconnectHandler.
func (h HandlerFuncs) OnReconnecting(attempt int, delay time.Duration) {
	if h.Reconnecting != nil {
		h.Reconnecting(attempt, delay)
	}
}

// OnGiveUp implements ReconnectHandler.
func (h HandlerFuncs) OnGiveUp(err error) {
	if h.GiveUp != nil {
		h.GiveUp(err)
	}
}

// Config configures a Transport.
type Config struct {
	// URL of the daemon, ws:// or wss://.
	URL string

	// Dialer opens sockets. A nil dialer makes the transport unavailable.
	Dialer Dialer

	// Codec encodes envelopes (default: JSON).
	Codec wire.Codec

	// Reconnect controls the delay between attempts.
	Reconnect connection.PolicyConfig

	// ConnectTimeout bounds a single dial (default: 10s).
	ConnectTimeout time.Duration

	// WriteTimeout bounds a single socket write (default: 10s).
	WriteTimeout time.Duration

	// PingInterval between keep-alive pings (default: 54s, negative disables).
	PingInterval time.Duration

	// PongWait is the read deadline extended by every frame or pong
	// (default: 60s, negative disables).
	PongWait time.Duration

	// MaxMessageSize limits inbound frames (default: 4 MiB).
	MaxMessageSize int64

	// MaxBuffered bounds the outbound buffer. Zero means unbounded.
	MaxBuffered int

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

func (c *Config) applyDefaults() {
	if c.Codec == nil {
		c.Codec = wire.JSON
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongWait == 0 {
		c.PongWait = DefaultPongWait
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.ProtocolLogger = log.OrNoop(c.ProtocolLogger)
}

// pending is an encoded message waiting for a socket.
type pending struct {
	topic  wire.Topic
	nodeID string
	data   []byte
}

// session is one open socket.
type session struct {
	sock Socket
	id   string
	done chan struct{}
}

// Transport is a persistent, self-healing websocket connection.
type Transport struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger
	plog    log.Logger
	manager *connection.Manager

	startOnce sync.Once

	// mu guards everything below. All socket writes happen under it.
	mu     sync.Mutex
	sess   *session
	buffer []pending
	closed bool
}

// New creates a transport. It does not connect until Connect is called.
func New(cfg Config, handler Handler) *Transport {
	cfg.applyDefaults()
	if handler == nil {
		handler = HandlerFuncs{}
	}

	t := &Transport{
		cfg:     cfg,
		handler: handler,
		logger:  cfg.Logger.With("component", "transport"),
		plog:    cfg.ProtocolLogger,
	}

	t.manager = connection.NewManager(t.dial, connection.Config{
		Policy:         cfg.Reconnect,
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         t.logger,
	})
	t.manager.OnStateChange(t.onStateChange)
	t.manager.OnConnected(t.onConnected)
	t.manager.OnReconnecting(t.onReconnecting)
	t.manager.OnGiveUp(t.onGiveUp)

	return t
}

// Available reports whether the transport can dial at all.
func (t *Transport) Available() error {
	if t.cfg.Dialer == nil {
		return fmt.Errorf("%w: no dialer", ErrTransportUnavailable)
	}
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrTransportUnavailable, u.Scheme)
	}
	return nil
}

// Connect opens the connection.
//
// It returns immediately if a connection is open, being opened, or scheduled.
// A failed attempt is returned but retried in the background after the
// reconnect delay. If the transport is unavailable, a warning is logged,
// ErrTransportUnavailable is returned and no retries are scheduled.
func (t *Transport) Connect(ctx context.Context) error {
	if err := t.Available(); err != nil {
		t.logger.Warn("websocket transport unavailable", "url", t.cfg.URL, "error", err)
		t.logError(log.LayerTransport, err, "connect")
		return err
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}

	t.startOnce.Do(t.manager.StartReconnectLoop)
	return t.manager.Connect(ctx)
}

// Send transmits a message now if a socket is open, or buffers it.
//
// A nil payload sends an envelope without payload. Only encoding failures,
// a full buffer and a closed transport are reported; write failures are
// handled internally by re-buffering and reconnecting.
func (t *Transport) Send(topic wire.Topic, payload any) error {
	data, err := t.cfg.Codec.Encode(topic, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	msg := pending{topic: topic, nodeID: nodeIDOf(payload), data: data}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}

	sess := t.sess
	if sess == nil {
		if t.cfg.MaxBuffered > 0 && len(t.buffer) >= t.cfg.MaxBuffered {
			t.mu.Unlock()
			t.logger.Warn("outbound buffer full, message refused", "topic", topic, "limit", t.cfg.MaxBuffered)
			return fmt.Errorf("%w: %d messages", ErrBufferFull, t.cfg.MaxBuffered)
		}
		t.buffer = append(t.buffer, msg)
		depth := len(t.buffer)
		t.mu.Unlock()

		t.logger.Debug("message buffered", "topic", topic, "depth", depth)
		t.logMessage("", log.DirectionOut, msg, true)
		return nil
	}

	err = t.writeLocked(sess, msg)
	detached := false
	if err != nil {
		t.buffer = append([]pending{msg}, t.buffer...)
		detached = t.detachLocked(sess)
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Warn("write failed, message re-buffered", "topic", topic, "error", err)
		if detached {
			t.teardown(sess, err)
		}
	}
	return nil
}

// Buffered returns the number of queued outbound messages.
func (t *Transport) Buffered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buffer)
}

// State returns the connection state.
func (t *Transport) State() connection.State {
	return t.manager.State()
}

// ConnectionID returns the id of the open socket, or "" if none is open.
func (t *Transport) ConnectionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == nil {
		return ""
	}
	return t.sess.id
}

// URL returns the daemon URL.
func (t *Transport) URL() string {
	return t.cfg.URL
}

// Codec returns the envelope codec.
func (t *Transport) Codec() wire.Codec {
	return t.cfg.Codec
}

// Close shuts the transport down: the reconnect loop stops and the open
// socket, if any, is closed. Buffered messages are discarded.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	sess := t.sess
	t.sess = nil
	dropped := len(t.buffer)
	t.buffer = nil
	t.mu.Unlock()

	if dropped > 0 {
		t.logger.Info("discarding buffered messages on close", "count", dropped)
	}

	if sess != nil {
		deadline := time.Now().Add(t.cfg.WriteTimeout)
		_ = sess.sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		t.logControl(sess.id, log.DirectionOut, log.ControlMsgClose, websocket.CloseNormalClosure)
		close(sess.done)
		sess.sock.Close()
	}

	t.manager.Close()
	return nil
}

// dial is the connection.ConnectFunc. It opens a socket, flushes the buffer
// and starts the read loop.
func (t *Transport) dial(ctx context.Context) error {
	sock, err := t.cfg.Dialer.Dial(ctx, t.cfg.URL)
	if err != nil {
		t.logError(log.LayerTransport, err, "dial")
		return err
	}

	sess := &session{sock: sock, id: uuid.New().String(), done: make(chan struct{})}
	sock.SetReadLimit(t.cfg.MaxMessageSize)
	t.setupKeepAlive(sess)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		sock.Close()
		return ErrClosed
	}
	t.sess = sess

	flushed := 0
	for len(t.buffer) > 0 {
		if err := t.writeLocked(sess, t.buffer[0]); err != nil {
			t.sess = nil
			remaining := len(t.buffer)
			t.mu.Unlock()

			close(sess.done)
			sock.Close()
			t.logger.Warn("flush failed", "flushed", flushed, "remaining", remaining, "error", err)
			return fmt.Errorf("flush buffer: %w", err)
		}
		t.buffer = t.buffer[1:]
		flushed++
	}
	t.buffer = nil
	t.mu.Unlock()

	if flushed > 0 {
		t.logger.Info("flushed buffered messages", "count", flushed)
		t.plog.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: sess.id,
			Direction:    log.DirectionOut,
			Layer:        log.LayerTransport,
			Category:     log.CategoryState,
			RemoteAddr:   t.cfg.URL,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityBuffer,
				NewState: "FLUSHED",
				Reason:   fmt.Sprintf("%d messages", flushed),
			},
		})
	}

	go t.readLoop(sess)
	if t.cfg.PingInterval > 0 {
		go t.pingLoop(sess)
	}
	return nil
}

// writeLocked writes one message. Caller must hold t.mu.
func (t *Transport) writeLocked(sess *session, msg pending) error {
	frameType := websocket.TextMessage
	if t.cfg.Codec.Binary() {
		frameType = websocket.BinaryMessage
	}

	_ = sess.sock.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := sess.sock.WriteMessage(frameType, msg.data); err != nil {
		return err
	}

	t.logFrame(sess.id, log.DirectionOut, msg.data)
	t.logMessage(sess.id, log.DirectionOut, msg, false)
	return nil
}

// readLoop decodes frames until the socket fails.
func (t *Transport) readLoop(sess *session) {
	for {
		_, data, err := sess.sock.ReadMessage()
		if err != nil {
			t.logClose(sess, err)
			t.dropSession(sess, err)
			return
		}
		t.extendReadDeadline(sess)
		t.logFrame(sess.id, log.DirectionIn, data)

		msg, err := t.cfg.Codec.Decode(data)
		if err != nil {
			t.logger.Warn("discarding malformed frame", "conn_id", sess.id, "size", len(data), "error", err)
			t.logError(log.LayerWire, err, "decode")
			t.handler.OnError(err)
			continue
		}

		t.plog.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: sess.id,
			Direction:    log.DirectionIn,
			Layer:        log.LayerWire,
			Category:     log.CategoryMessage,
			Message: &log.MessageEvent{
				Topic:       string(msg.Topic),
				PayloadSize: len(msg.Payload),
				Codec:       t.cfg.Codec.Name(),
			},
		})
		t.handler.OnMessage(msg)
	}
}

// dropSession detaches sess if it is still current and reports the loss.
func (t *Transport) dropSession(sess *session, cause error) {
	t.mu.Lock()
	detached := t.detachLocked(sess)
	t.mu.Unlock()

	if detached {
		t.teardown(sess, cause)
	}
}

// detachLocked clears the current session if it is sess. Caller must hold t.mu.
func (t *Transport) detachLocked(sess *session) bool {
	if t.sess != sess {
		return false
	}
	t.sess = nil
	return true
}

// teardown closes a detached session and starts a reconnect.
func (t *Transport) teardown(sess *session, cause error) {
	close(sess.done)
	sess.sock.Close()
	t.logger.Info("connection lost", "conn_id", sess.id, "error", cause)
	t.manager.NotifyConnectionLost()
}

// onConnected catches a socket lost between dial and the Connected state.
func (t *Transport) onConnected() {
	t.mu.Lock()
	lost := t.sess == nil && !t.closed
	t.mu.Unlock()
	if lost {
		t.manager.NotifyConnectionLost()
	}
}

func (t *Transport) onStateChange(oldState, newState connection.State) {
	t.logger.Info("connection state changed", "from", oldState, "to", newState, "url", t.cfg.URL)
	t.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: t.ConnectionID(),
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   t.cfg.URL,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState.String(),
			NewState: newState.String(),
		},
	})
	t.handler.OnStateChange(oldState, newState)
}

func (t *Transport) onReconnecting(attempt int, delay time.Duration) {
	t.logReconnect("SCHEDULED", fmt.Sprintf("attempt %d in %s", attempt, delay))
	if h, ok := t.handler.(ReconnectHandler); ok {
		h.OnReconnecting(attempt, delay)
	}
}

func (t *Transport) onGiveUp(err error) {
	t.logger.Warn("reconnect attempts exhausted, staying disconnected", "url", t.cfg.URL, "max_attempts", t.cfg.Reconnect.MaxAttempts)
	t.logReconnect("EXHAUSTED", err.Error())
	if h, ok := t.handler.(ReconnectHandler); ok {
		h.OnGiveUp(err)
	}
}

func (t *Transport) logReconnect(state, reason string) {
	t.plog.Log(log.Event{
		Timestamp:  time.Now(),
		Layer:      log.LayerTransport,
		Category:   log.CategoryState,
		RemoteAddr: t.cfg.URL,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityReconnect,
			NewState: state,
			Reason:   reason,
		},
	})
}

func (t *Transport) logFrame(connID string, dir log.Direction, data []byte) {
	t.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame:        log.NewFrameEvent(data, t.cfg.Codec.Binary()),
	})
}

func (t *Transport) logMessage(connID string, dir log.Direction, msg pending, buffered bool) {
	t.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Message: &log.MessageEvent{
			Topic:       string(msg.topic),
			NodeID:      msg.nodeID,
			PayloadSize: len(msg.data),
			Buffered:    buffered,
			Codec:       t.cfg.Codec.Name(),
		},
	})
}

func (t *Transport) logError(layer log.Layer, err error, op string) {
	t.plog.Log(log.Event{
		Timestamp:  time.Now(),
		Layer:      layer,
		Category:   log.CategoryError,
		RemoteAddr: t.cfg.URL,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: op,
		},
	})
}

func (t *Transport) logClose(sess *session, err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		t.logControl(sess.id, log.DirectionIn, log.ControlMsgClose, closeErr.Code)
	}
}

func (t *Transport) logControl(connID string, dir log.Direction, typ log.ControlMsgType, code int) {
	ev := &log.ControlMsgEvent{Type: typ}
	if typ == log.ControlMsgClose {
		ev.CloseCode = &code
	}
	t.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		ControlMsg:   ev,
	})
}

// nodeIDOf extracts the node id from node-scoped payloads for capture.
func nodeIDOf(payload any) string {
	switch p := payload.(type) {
	case wire.TogglePayload:
		return string(p.NodeID)
	case *wire.TogglePayload:
		return string(p.NodeID)
	case model.Node:
		return string(p.ID)
	case *model.Node:
		return string(p.ID)
	default:
		return ""
	}
}
