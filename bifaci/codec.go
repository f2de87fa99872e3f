package bifaci

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Codec turns envelopes into bytes for a Window and back. Decode returns an
// error wrapping ErrNotEnvelope for anything that is not an envelope; callers
// drop such messages silently.
type Codec interface {
	Name() string
	Encode(env *Envelope) ([]byte, error)
	Decode(data []byte) (*Envelope, error)
}

// CodecByName resolves a configured codec name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// JSONCodec is the default wire format:
// {"type","id","payload","error","isReply"}.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, &ChannelError{Type: ChannelErrorTypeEncode, Message: err.Error()}
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte) (*Envelope, error) {
	if err := validateEnvelopeJSON(data); err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, notEnvelope("%v", err)
	}
	return &env, nil
}

// CBOR map keys
const (
	keyType    = 0 // type (tstr)
	keyId      = 1 // id (uint)
	keyPayload = 2 // payload (bstr holding JSON, optional)
	keyError   = 3 // error (tstr, optional)
	keyIsReply = 4 // isReply (bool, optional)
)

// CBORCodec encodes envelopes as CBOR maps with integer keys. The payload
// stays in its JSON form inside a byte string, so handlers see the same
// values regardless of codec.
type CBORCodec struct{}

func (CBORCodec) Name() string { return "cbor" }

func (CBORCodec) Encode(env *Envelope) ([]byte, error) {
	m := make(map[int]interface{})

	m[keyType] = env.Type
	m[keyId] = uint64(env.Id)

	if !env.Payload.IsNull() {
		m[keyPayload] = []byte(env.Payload)
	}

	if env.Error != nil {
		m[keyError] = *env.Error
	}

	if env.IsReply {
		m[keyIsReply] = true
	}

	data, err := cbor.Marshal(m)
	if err != nil {
		return nil, &ChannelError{Type: ChannelErrorTypeEncode, Message: err.Error()}
	}
	return data, nil
}

func (CBORCodec) Decode(data []byte) (*Envelope, error) {
	var m map[int]interface{}
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, notEnvelope("%v", err)
	}

	env := &Envelope{}

	// 0: type (required)
	typeVal, ok := m[keyType]
	if !ok {
		return nil, notEnvelope("missing type (key 0)")
	}
	msgType, ok := typeVal.(string)
	if !ok {
		return nil, notEnvelope("type must be a string")
	}
	env.Type = msgType

	// 1: id (required)
	idVal, ok := m[keyId]
	if !ok {
		return nil, notEnvelope("missing id (key 1)")
	}
	id, ok := idVal.(uint64)
	if !ok {
		return nil, notEnvelope("id must be uint")
	}
	env.Id = MessageId(id)

	// 2: payload (optional)
	if payloadVal, ok := m[keyPayload]; ok {
		payload, ok := payloadVal.([]byte)
		if !ok {
			return nil, notEnvelope("payload must be bytes")
		}
		if !json.Valid(payload) {
			return nil, notEnvelope("payload is not JSON")
		}
		env.Payload = Payload(payload)
	}

	// 3: error (optional)
	if errVal, ok := m[keyError]; ok && errVal != nil {
		msg, ok := errVal.(string)
		if !ok {
			return nil, notEnvelope("error must be a string")
		}
		env.Error = &msg
	}

	// 4: isReply (optional)
	if replyVal, ok := m[keyIsReply]; ok && replyVal != nil {
		isReply, ok := replyVal.(bool)
		if !ok {
			return nil, notEnvelope("isReply must be bool")
		}
		env.IsReply = isReply
	}

	return env, nil
}
