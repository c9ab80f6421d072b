package store

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscription identifies a registered listener.
type Subscription struct {
	id uuid.UUID
}

// ID returns the subscription id.
func (s Subscription) ID() string {
	return s.id.String()
}

// IsZero reports whether s was never issued.
func (s Subscription) IsZero() bool {
	return s.id == uuid.Nil
}

type subscriber[T any] struct {
	id     uuid.UUID
	fn     func(T)
	active atomic.Bool
}

// notifier delivers values to subscribers on a single goroutine, in publish
// order. publish never blocks on listeners.
type notifier[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []T
	subs   []*subscriber[T]
	closed bool
	done   chan struct{}

	logger *slog.Logger
}

func newNotifier[T any](logger *slog.Logger) *notifier[T] {
	n := &notifier[T]{
		done:   make(chan struct{}),
		logger: logger,
	}
	n.cond = sync.NewCond(&n.mu)
	go n.run()
	return n
}

func (n *notifier[T]) publish(v T) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.queue = append(n.queue, v)
	n.cond.Signal()
}

func (n *notifier[T]) subscribe(fn func(T)) Subscription {
	s := &subscriber[T]{id: uuid.New(), fn: fn}
	s.active.Store(true)

	n.mu.Lock()
	n.subs = append(n.subs, s)
	n.mu.Unlock()
	return Subscription{id: s.id}
}

func (n *notifier[T]) unsubscribe(sub Subscription) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, s := range n.subs {
		if s.id == sub.id {
			s.active.Store(false)
			n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (n *notifier[T]) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

func (n *notifier[T]) pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

func (n *notifier[T]) run() {
	defer close(n.done)

	var zero T
	for {
		n.mu.Lock()
		for len(n.queue) == 0 && !n.closed {
			n.cond.Wait()
		}
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		v := n.queue[0]
		n.queue[0] = zero
		n.queue = n.queue[1:]
		subs := append([]*subscriber[T](nil), n.subs...)
		n.mu.Unlock()

		for _, s := range subs {
			if s.active.Load() {
				n.deliver(s, v)
			}
		}
	}
}

func (n *notifier[T]) deliver(s *subscriber[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("listener panicked", "subscription", s.id, "panic", r)
		}
	}()
	s.fn(v)
}

// close delivers what is queued, then stops the goroutine. It must not be
// called from a listener.
func (n *notifier[T]) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	n.cond.Broadcast()
	n.mu.Unlock()
	<-n.done
}
