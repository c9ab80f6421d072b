package wire

import (
	"errors"
	"fmt"

	"github.com/nodesync/nodesync-go/pkg/model"
)

// Message errors.
var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrNoPayload        = errors.New("message has no payload")
)

// Message is a decoded envelope.
//
// Payload holds the raw payload in the encoding of the codec that produced
// the message. Use Decode (or one of the typed helpers) to read it.
type Message struct {
	Topic   Topic
	Payload []byte

	codec Codec
}

// NewMessage builds a message around an already encoded payload.
func NewMessage(codec Codec, topic Topic, payload []byte) Message {
	return Message{Topic: topic, Payload: payload, codec: codec}
}

// HasPayload reports whether the envelope carried a payload.
func (m Message) HasPayload() bool {
	return len(m.Payload) > 0
}

// Codec returns the codec that decoded the message.
func (m Message) Codec() Codec {
	return m.codec
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if !m.HasPayload() {
		return fmt.Errorf("%s: %w", m.Topic, ErrNoPayload)
	}
	codec := m.codec
	if codec == nil {
		codec = JSON
	}
	if err := codec.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s payload: %w: %v", m.Topic, ErrMalformedMessage, err)
	}
	return nil
}

// DecodeNodes decodes a full snapshot payload. An absent payload is an empty
// snapshot.
func (m Message) DecodeNodes() ([]model.Node, error) {
	if !m.HasPayload() {
		return []model.Node{}, nil
	}
	var nodes []model.Node
	if err := m.Decode(&nodes); err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = []model.Node{}
	}
	return nodes, nil
}

// DecodeNode decodes a single node payload.
func (m Message) DecodeNode() (model.Node, error) {
	var node model.Node
	if err := m.Decode(&node); err != nil {
		return model.Node{}, err
	}
	if node.ID == "" {
		return model.Node{}, fmt.Errorf("%s payload: %w: missing node_info_id", m.Topic, ErrMalformedMessage)
	}
	return node, nil
}

// DecodeFailure decodes an update-failed payload. Both a bare string and an
// object with a message field are accepted.
func (m Message) DecodeFailure() (string, error) {
	if !m.HasPayload() {
		return "", nil
	}
	var text string
	if err := m.Decode(&text); err == nil {
		return text, nil
	}
	var obj FailurePayload
	if err := m.Decode(&obj); err != nil {
		return "", err
	}
	return obj.Message, nil
}
