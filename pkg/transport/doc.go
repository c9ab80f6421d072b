// Package transport keeps a websocket connection to the node daemon.
//
// The transport handles:
//   - dialing the daemon and re-dialing with a fixed delay after any close
//   - buffering outbound messages while no socket is open
//   - flushing the buffer in submission order once a socket opens
//   - decoding inbound frames and handing them to a Handler
//   - websocket ping/pong keep-alive
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│  {topic, payload} envelopes    │
//	├────────────────────────────────┤
//	│  JSON (text) / CBOR, msgpack   │
//	│  (binary) frames               │
//	├────────────────────────────────┤
//	│         WebSocket              │
//	└────────────────────────────────┘
//
// # Delivery
//
// Send never drops a message silently. While disconnected, messages are
// queued. A message whose write fails goes back to the head of the queue and
// the socket is dropped, which starts a reconnect. Only a configured
// MaxBuffered bound can refuse a message, with ErrBufferFull.
//
// # Keep-Alive
//
// A ping is sent every PingInterval. Any frame or pong extends the read
// deadline by PongWait; a silent peer therefore surfaces as a read error,
// which is handled like any other close.
package transport
