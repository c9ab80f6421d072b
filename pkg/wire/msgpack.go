package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

type msgpackEnvelope struct {
	Topic   Topic              `msgpack:"topic"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Encode(topic Topic, payload any) ([]byte, error) {
	if err := validTopic(topic); err != nil {
		return nil, err
	}
	env := msgpackEnvelope{Topic: topic}
	if payload != nil {
		raw, err := msgpack.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", topic, err)
		}
		env.Payload = raw
	}
	return msgpack.Marshal(&env)
}

func (c msgpackCodec) Decode(data []byte) (Message, error) {
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := validTopic(env.Topic); err != nil {
		return Message{}, err
	}
	payload := []byte(env.Payload)
	if len(payload) == 1 && payload[0] == 0xc0 { // nil
		payload = nil
	}
	return NewMessage(c, env.Topic, payload), nil
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
