package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

var errFakeClosed = errors.New("fake socket closed")

type frame struct {
	typ  int
	data []byte
}

// fakeSocket is an in-memory Socket.
type fakeSocket struct {
	mu        sync.Mutex
	written   []frame
	controls  []int
	writeErr  error
	failAfter int // writes allowed before writeErr kicks in; -1 = never fail
	closed    bool

	in        chan frame
	readErr   chan error
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		failAfter: -1,
		in:        make(chan frame, 16),
		readErr:   make(chan error, 1),
		closeCh:   make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case f := <-s.in:
		return f.typ, f.data, nil
	case err := <-s.readErr:
		return 0, nil, err
	case <-s.closeCh:
		return 0, nil, errFakeClosed
	}
}

func (s *fakeSocket) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errFakeClosed
	}
	if s.writeErr != nil && s.failAfter == 0 {
		return s.writeErr
	}
	if s.failAfter > 0 {
		s.failAfter--
	}
	s.written = append(s.written, frame{typ: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (s *fakeSocket) WriteControl(messageType int, data []byte, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls = append(s.controls, messageType)
	return nil
}

func (s *fakeSocket) SetReadDeadline(time.Time) error          { return nil }
func (s *fakeSocket) SetWriteDeadline(time.Time) error         { return nil }
func (s *fakeSocket) SetReadLimit(int64)                       {}
func (s *fakeSocket) SetPongHandler(func(appData string) error) {}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.closeCh) })
	return nil
}

// failWrites makes writes fail after n more successful writes.
func (s *fakeSocket) failWrites(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
	s.writeErr = err
}

// peerClose simulates the daemon dropping the connection.
func (s *fakeSocket) peerClose() {
	s.readErr <- io.ErrUnexpectedEOF
}

func (s *fakeSocket) push(data string) {
	s.in <- frame{typ: 1, data: []byte(data)}
}

func (s *fakeSocket) frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.written))
	for i, f := range s.written {
		out[i] = string(f.data)
	}
	return out
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeDialer hands out queued sockets; with none queued it fails.
type fakeDialer struct {
	mu      sync.Mutex
	sockets []*fakeSocket
	dials   int
	urls    []string
}

var errRefused = errors.New("connection refused")

func (d *fakeDialer) queue(s ...*fakeSocket) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sockets = append(d.sockets, s...)
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.urls = append(d.urls, url)
	if len(d.sockets) == 0 {
		return nil, errRefused
	}
	s := d.sockets[0]
	d.sockets = d.sockets[1:]
	return s, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
