package event

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes events for out-of-process delivery.
type Codec interface {
	// Encode serializes an event's envelope.
	Encode(e *Event) ([]byte, error)

	// Decode deserializes an envelope.
	Decode(data []byte) (*Envelope, error)

	// Name returns the codec identifier ("json", "msgpack").
	Name() string
}

// Codec names.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns a codec by name. Defaults to JSON.
func GetCodec(name string) Codec {
	switch name {
	case CodecNameMsgpack:
		return &MsgpackCodec{}
	default:
		return &JSONCodec{}
	}
}

// JSONCodec encodes envelopes as JSON.
type JSONCodec struct{}

func (c *JSONCodec) Encode(e *Event) ([]byte, error) {
	return json.Marshal(ToEnvelope(e))
}

func (c *JSONCodec) Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (c *JSONCodec) Name() string { return CodecNameJSON }

// MsgpackCodec encodes envelopes as MessagePack.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(e *Event) ([]byte, error) {
	return msgpack.Marshal(ToEnvelope(e))
}

func (c *MsgpackCodec) Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (c *MsgpackCodec) Name() string { return CodecNameMsgpack }
