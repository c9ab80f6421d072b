package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the socket the event belongs to (UUID).
	// Empty for store events that are not tied to a socket.
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the daemon URL.
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection state
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"` // Ping/pong/close
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
	Snapshot    *SnapshotEvent    `cbor:"15,keyasint,omitempty"` // Store layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the websocket layer (raw frames).
	LayerTransport Layer = 0
	// LayerWire is the envelope layer (decoded topic and payload).
	LayerWire Layer = 1
	// LayerStore is the reconciliation store.
	LayerStore Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerStore:
		return "STORE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a topic message.
	CategoryMessage Category = 0
	// CategoryControl indicates a websocket control frame (ping/pong/close).
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
	// CategorySnapshot indicates a store snapshot was published.
	CategorySnapshot Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	case CategorySnapshot:
		return "SNAPSHOT"
	default:
		return "UNKNOWN"
	}
}

// MaxFrameData is the number of frame bytes kept in a FrameEvent.
const MaxFrameData = 512

// FrameEvent captures a raw websocket frame.
type FrameEvent struct {
	// Size is the frame size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`

	// Binary is set for binary frames, clear for text frames.
	Binary bool `cbor:"4,keyasint,omitempty"`
}

// NewFrameEvent captures up to MaxFrameData bytes of a frame.
func NewFrameEvent(data []byte, binary bool) *FrameEvent {
	ev := &FrameEvent{Size: len(data), Binary: binary}
	if len(data) > MaxFrameData {
		ev.Data = append([]byte(nil), data[:MaxFrameData]...)
		ev.Truncated = true
	} else {
		ev.Data = append([]byte(nil), data...)
	}
	return ev
}

// MessageEvent captures a decoded envelope.
type MessageEvent struct {
	// Topic of the envelope.
	Topic string `cbor:"1,keyasint"`

	// NodeID is set for node-scoped topics (set-node, toggle-node, node-updated).
	NodeID string `cbor:"2,keyasint,omitempty"`

	// PayloadSize is the size of the encoded payload in bytes.
	PayloadSize int `cbor:"3,keyasint,omitempty"`

	// Buffered is set when an outgoing message was queued instead of written.
	Buffered bool `cbor:"4,keyasint,omitempty"`

	// Codec is the codec name ("json", "cbor", "msgpack").
	Codec string `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent captures connection and store lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityBuffer indicates the outbound buffer was flushed.
	StateEntityBuffer StateEntity = 1
	// StateEntityReconnect indicates a reconnect attempt was scheduled or
	// the attempts ran out.
	StateEntityReconnect StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityBuffer:
		return "BUFFER"
	case StateEntityReconnect:
		return "RECONNECT"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures websocket control frames.
type ControlMsgEvent struct {
	// Type of control frame.
	Type ControlMsgType `cbor:"1,keyasint"`

	// CloseCode is the websocket close code for close frames.
	CloseCode *int `cbor:"2,keyasint,omitempty"`
}

// ControlMsgType indicates the type of control frame.
type ControlMsgType uint8

const (
	// ControlMsgPing indicates a ping frame.
	ControlMsgPing ControlMsgType = 0
	// ControlMsgPong indicates a pong frame.
	ControlMsgPong ControlMsgType = 1
	// ControlMsgClose indicates a close frame.
	ControlMsgClose ControlMsgType = 2
)

// String returns the control message type name.
func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgPing:
		return "PING"
	case ControlMsgPong:
		return "PONG"
	case ControlMsgClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}

// SnapshotEvent summarizes a snapshot published by the store.
type SnapshotEvent struct {
	// Cause is the command or topic that produced the snapshot.
	Cause string `cbor:"1,keyasint"`

	// Nodes is the number of nodes in the collection.
	Nodes int `cbor:"2,keyasint"`

	// Loading is set while a full snapshot is pending.
	Loading bool `cbor:"3,keyasint,omitempty"`

	// Err is the last error reported by the daemon.
	Err string `cbor:"4,keyasint,omitempty"`
}
