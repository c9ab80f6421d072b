package wire

import (
	"encoding/json"
	"fmt"
)

// Codec encodes and decodes envelopes.
type Codec interface {
	// Name is the identifier used in configuration.
	Name() string

	// Binary reports whether frames must be sent as binary websocket frames.
	Binary() bool

	// Encode builds an envelope. A nil payload is omitted.
	Encode(topic Topic, payload any) ([]byte, error)

	// Decode parses an envelope. Failures wrap ErrMalformedMessage.
	Decode(data []byte) (Message, error)

	// Unmarshal decodes a raw payload produced by Decode.
	Unmarshal(data []byte, v any) error
}

// Built-in codecs.
var (
	JSON    Codec = jsonCodec{}
	CBOR    Codec = cborCodec{}
	MsgPack Codec = msgpackCodec{}
)

// Lookup returns the codec registered under name. An empty name selects JSON.
func Lookup(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	case "msgpack":
		return MsgPack, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

func validTopic(topic Topic) error {
	if topic == "" {
		return fmt.Errorf("%w: missing topic", ErrMalformedMessage)
	}
	return nil
}

type jsonEnvelope struct {
	Topic   Topic           `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Encode(topic Topic, payload any) ([]byte, error) {
	if err := validTopic(topic); err != nil {
		return nil, err
	}
	env := jsonEnvelope{Topic: topic}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", topic, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

func (c jsonCodec) Decode(data []byte) (Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := validTopic(env.Topic); err != nil {
		return Message{}, err
	}
	payload := []byte(env.Payload)
	if string(payload) == "null" {
		payload = nil
	}
	return NewMessage(c, env.Topic, payload), nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
