package transport

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/nodesync/nodesync-go/pkg/log"
)

// setupKeepAlive arms the read deadline and the pong handler of a new socket.
func (t *Transport) setupKeepAlive(sess *session) {
	if t.cfg.PongWait <= 0 {
		return
	}
	_ = sess.sock.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	sess.sock.SetPongHandler(func(string) error {
		t.logControl(sess.id, log.DirectionIn, log.ControlMsgPong, 0)
		return sess.sock.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	})
}

// extendReadDeadline is called after every inbound frame.
func (t *Transport) extendReadDeadline(sess *session) {
	if t.cfg.PongWait <= 0 {
		return
	}
	_ = sess.sock.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
}

// pingLoop pings the daemon until the session ends. A failed ping is left to
// the read loop, which sees the broken socket as a read error.
func (t *Transport) pingLoop(sess *session) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.cfg.WriteTimeout)
			if err := sess.sock.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				t.logger.Debug("ping failed", "conn_id", sess.id, "error", err)
				return
			}
			t.logControl(sess.id, log.DirectionOut, log.ControlMsgPing, 0)
		}
	}
}
