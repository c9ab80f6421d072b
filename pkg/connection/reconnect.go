package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Connection errors.
var (
	ErrConnectionClosed    = errors.New("connection closed")
	ErrReconnectsExhausted = errors.New("reconnect attempts exhausted")
)

// DefaultConnectTimeout bounds a single connection attempt made by the
// reconnect loop.
const DefaultConnectTimeout = 10 * time.Second

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no active connection and no pending attempt.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateReconnecting indicates the manager is waiting out the delay
	// before the next attempt.
	StateReconnecting

	// StateClosed indicates the manager has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// IsActive reports whether a connection exists or is being established.
func (s State) IsActive() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}

// ConnectFunc is called to establish a connection.
// It should return nil on success or an error on failure.
type ConnectFunc func(ctx context.Context) error

// Config configures a Manager.
type Config struct {
	Policy PolicyConfig

	// ConnectTimeout bounds attempts made by the reconnect loop.
	ConnectTimeout time.Duration

	Logger *slog.Logger
}

// Manager manages connection lifecycle with automatic reconnection.
type Manager struct {
	mu sync.RWMutex

	state          State
	policy         *Policy
	connectFn      ConnectFunc
	connectTimeout time.Duration
	logger         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Buffered so a trigger never blocks; pending triggers coalesce.
	reconnectCh chan struct{}

	onStateChange  func(oldState, newState State)
	onConnected    func()
	onReconnecting func(attempt int, delay time.Duration)
	onGiveUp       func(err error)
}

// NewManager creates a new connection manager.
func NewManager(connectFn ConnectFunc, cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		state:          StateDisconnected,
		policy:         NewPolicyWithConfig(cfg.Policy),
		connectFn:      connectFn,
		connectTimeout: cfg.ConnectTimeout,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		reconnectCh:    make(chan struct{}, 1),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Connect makes one connection attempt.
//
// It is a no-op while the connection is connecting, connected or waiting to
// reconnect. A failed attempt is returned to the caller and hands over to
// the reconnect loop.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrConnectionClosed
	}
	if m.state.IsActive() {
		m.mu.Unlock()
		return nil
	}
	oldState := m.state
	m.state = StateConnecting
	m.policy.Reset()
	m.mu.Unlock()

	m.emitStateChange(oldState, StateConnecting)

	if err := m.connectFn(ctx); err != nil {
		m.logger.Warn("connect failed", "error", err)
		m.connectionDown(StateConnecting)
		return err
	}

	m.connectionUp(StateConnecting)
	return nil
}

// NotifyConnectionLost should be called when a connection loss is detected.
// It schedules a reconnect.
func (m *Manager) NotifyConnectionLost() {
	m.connectionDown(StateConnected)
}

// StartReconnectLoop starts the background reconnection loop.
// Must be called once before reconnection will work.
func (m *Manager) StartReconnectLoop() {
	m.wg.Add(1)
	go m.reconnectLoop()
}

// Close shuts down the connection manager and waits for the reconnect loop.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	oldState := m.state
	m.state = StateClosed
	m.mu.Unlock()

	m.emitStateChange(oldState, StateClosed)

	m.cancel()
	m.wg.Wait()
}

// connectionUp moves from the expected state to Connected.
func (m *Manager) connectionUp(from State) {
	m.mu.Lock()
	if m.state != from {
		m.mu.Unlock()
		return
	}
	m.state = StateConnected
	m.policy.Reset()
	m.mu.Unlock()

	m.emitStateChange(from, StateConnected)
	if fn := m.callbacks().onConnected; fn != nil {
		fn()
	}
}

// connectionDown moves from the expected state to Reconnecting and
// schedules an attempt.
func (m *Manager) connectionDown(from State) {
	m.mu.Lock()
	if m.state != from {
		m.mu.Unlock()
		return
	}
	m.state = StateReconnecting
	m.mu.Unlock()

	m.emitStateChange(from, StateReconnecting)
	m.triggerReconnect()
}

// triggerReconnect signals that reconnection should be attempted.
func (m *Manager) triggerReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
	}
}

func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnectCh:
			m.attemptReconnect()
		}
	}
}

// attemptReconnect waits the fixed delay and retries until connected,
// closed, or out of attempts.
func (m *Manager) attemptReconnect() {
	for {
		if m.State() != StateReconnecting {
			return
		}

		delay, ok := m.policy.Next()
		if !ok {
			m.giveUp()
			return
		}
		attempt := m.policy.Attempts()

		m.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
		if fn := m.callbacks().onReconnecting; fn != nil {
			fn(attempt, delay)
		}

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		m.mu.Lock()
		if m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		m.state = StateConnecting
		m.mu.Unlock()
		m.emitStateChange(StateReconnecting, StateConnecting)

		ctx, cancel := context.WithTimeout(m.ctx, m.connectTimeout)
		err := m.connectFn(ctx)
		cancel()

		if err == nil {
			m.connectionUp(StateConnecting)
			return
		}

		m.logger.Warn("reconnect failed", "attempt", attempt, "error", err)

		m.mu.Lock()
		if m.state != StateConnecting {
			m.mu.Unlock()
			return
		}
		m.state = StateReconnecting
		m.mu.Unlock()
		m.emitStateChange(StateConnecting, StateReconnecting)
	}
}

func (m *Manager) giveUp() {
	m.mu.Lock()
	if m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.mu.Unlock()

	m.emitStateChange(StateReconnecting, StateDisconnected)
	if fn := m.callbacks().onGiveUp; fn != nil {
		fn(ErrReconnectsExhausted)
	}
}

type callbackSet struct {
	onStateChange  func(oldState, newState State)
	onConnected    func()
	onReconnecting func(attempt int, delay time.Duration)
	onGiveUp       func(err error)
}

func (m *Manager) callbacks() callbackSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return callbackSet{
		onStateChange:  m.onStateChange,
		onConnected:    m.onConnected,
		onReconnecting: m.onReconnecting,
		onGiveUp:       m.onGiveUp,
	}
}

func (m *Manager) emitStateChange(oldState, newState State) {
	if fn := m.callbacks().onStateChange; fn != nil {
		fn(oldState, newState)
	}
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback for successful connection.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnReconnecting sets a callback invoked before each scheduled attempt.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// OnGiveUp sets a callback invoked when a bounded policy runs out of attempts.
// The manager is left Disconnected; Connect starts over.
func (m *Manager) OnGiveUp(fn func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onGiveUp = fn
}
