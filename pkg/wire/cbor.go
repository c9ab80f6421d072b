package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Lenient for forward compatibility: duplicate keys, last wins.
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

type cborEnvelope struct {
	Topic   Topic           `cbor:"topic"`
	Payload cbor.RawMessage `cbor:"payload,omitempty"`
}

type cborCodec struct{}

func (cborCodec) Name() string { return "cbor" }

func (cborCodec) Binary() bool { return true }

func (cborCodec) Encode(topic Topic, payload any) ([]byte, error) {
	if err := validTopic(topic); err != nil {
		return nil, err
	}
	env := cborEnvelope{Topic: topic}
	if payload != nil {
		raw, err := encMode.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", topic, err)
		}
		env.Payload = raw
	}
	return encMode.Marshal(env)
}

func (c cborCodec) Decode(data []byte) (Message, error) {
	var env cborEnvelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := validTopic(env.Topic); err != nil {
		return Message{}, err
	}
	payload := []byte(env.Payload)
	if len(payload) == 1 && payload[0] == 0xf6 { // null
		payload = nil
	}
	return NewMessage(c, env.Topic, payload), nil
}

func (cborCodec) Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
