package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nodesync/nodesync-go/pkg/connection"
)

// ConnectionStatus is the connection state seen by observers.
type ConnectionStatus struct {
	State     connection.State
	Connected bool
	Since     time.Time

	// Attempt is the scheduled reconnect attempt, 0 while connected.
	Attempt int
	// RetryAt is when the scheduled attempt dials.
	RetryAt time.Time
	// Err is set once reconnecting has given up.
	Err string
}

// ConnectionStore mirrors the transport connection state.
type ConnectionStore struct {
	mu     sync.Mutex
	status ConnectionStatus
	notify *notifier[ConnectionStatus]
}

// NewConnectionStore creates a store in the Disconnected state.
func NewConnectionStore(logger *slog.Logger) *ConnectionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionStore{
		status: ConnectionStatus{State: connection.StateDisconnected, Since: time.Now()},
		notify: newNotifier[ConnectionStatus](logger.With("component", "connection-store")),
	}
}

// OnStateChange records a transition. It is the transport's status sink.
// The attempt counter survives until the connection is up again.
func (c *ConnectionStore) OnStateChange(_, newState connection.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.State == newState {
		return
	}
	next := ConnectionStatus{
		State:     newState,
		Connected: newState == connection.StateConnected,
		Since:     time.Now(),
	}
	if newState == connection.StateConnecting || newState == connection.StateReconnecting {
		next.Attempt = c.status.Attempt
		next.RetryAt = c.status.RetryAt
	}
	c.status = next
	c.notify.publish(c.status)
}

// OnReconnecting records a scheduled reconnect attempt.
func (c *ConnectionStore) OnReconnecting(attempt int, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Attempt = attempt
	c.status.RetryAt = time.Now().Add(delay)
	c.notify.publish(c.status)
}

// OnGiveUp records that the transport stopped reconnecting.
func (c *ConnectionStore) OnGiveUp(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Err = err.Error()
	c.status.RetryAt = time.Time{}
	c.notify.publish(c.status)
}

// Status returns the current status.
func (c *ConnectionStore) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connected reports whether a socket is open.
func (c *ConnectionStore) Connected() bool {
	return c.Status().Connected
}

// Subscribe registers fn for every future status change.
func (c *ConnectionStore) Subscribe(fn func(ConnectionStatus)) Subscription {
	return c.notify.subscribe(fn)
}

// Unsubscribe stops delivery to sub.
func (c *ConnectionStore) Unsubscribe(sub Subscription) bool {
	return c.notify.unsubscribe(sub)
}

// Close delivers queued changes and stops the notifier.
func (c *ConnectionStore) Close() {
	c.notify.close()
}
