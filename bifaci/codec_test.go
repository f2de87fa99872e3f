package bifaci

import (
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST001: the JSON wire shape uses the documented field names
func Test001_json_wire_shape(t *testing.T) {
	env := NewRequest("foo", 7, MustPayload(map[string]int{"a": 1}))
	data, err := JSONCodec{}.Encode(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"foo","id":7,"payload":{"a":1},"error":null,"isReply":false}`, string(data))

	reply := NewErrorReply(env, "boom")
	data, err = JSONCodec{}.Encode(reply)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"foo","id":7,"payload":null,"error":"boom","isReply":true}`, string(data))
}

// TEST002: JSON decoding accepts envelopes and rejects everything else
func Test002_json_decode_filters(t *testing.T) {
	env, err := JSONCodec{}.Decode([]byte(`{"type":"bar","id":3,"payload":[1,2],"error":null,"isReply":true}`))
	require.NoError(t, err)
	assert.Equal(t, "bar", env.Type)
	assert.Equal(t, MessageId(3), env.Id)
	assert.True(t, env.IsReply)
	assert.False(t, env.Failed())
	assert.Equal(t, "[1,2]", env.Payload.String())

	// Minimal envelope: only type and id.
	env, err = JSONCodec{}.Decode([]byte(`{"type":"bar","id":0}`))
	require.NoError(t, err)
	assert.True(t, env.Payload.IsNull())
	assert.False(t, env.IsReply)

	for _, raw := range []string{
		`not json`,
		`"a string"`,
		`[1,2,3]`,
		`{"id":1}`,
		`{"type":"bar"}`,
		`{"type":1,"id":1}`,
		`{"type":"bar","id":"1"}`,
		`{"type":"bar","id":-1}`,
		`{"type":"bar","id":1,"isReply":"yes"}`,
		`{"type":"bar","id":1,"error":42}`,
	} {
		_, err := JSONCodec{}.Decode([]byte(raw))
		assert.ErrorIs(t, err, ErrNotEnvelope, raw)
	}
}

// TEST003: CBOR encoding uses integer keys and keeps the payload as JSON
func Test003_cbor_integer_keys(t *testing.T) {
	env := NewReply(NewRequest("foo", 9, nil), MustPayload("hi"))
	data, err := CBORCodec{}.Encode(env)
	require.NoError(t, err)

	var m map[int]interface{}
	require.NoError(t, cbor.Unmarshal(data, &m))
	assert.Equal(t, "foo", m[keyType])
	assert.Equal(t, uint64(9), m[keyId])
	assert.Equal(t, []byte(`"hi"`), m[keyPayload])
	assert.Equal(t, true, m[keyIsReply])
	_, hasError := m[keyError]
	assert.False(t, hasError)

	decoded, err := CBORCodec{}.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, env, decoded)
}

// TEST004: CBOR decoding rejects maps that are not envelopes
func Test004_cbor_decode_filters(t *testing.T) {
	bad := []map[int]interface{}{
		{keyId: uint64(1)},
		{keyType: "foo"},
		{keyType: 5, keyId: uint64(1)},
		{keyType: "foo", keyId: "1"},
		{keyType: "foo", keyId: uint64(1), keyPayload: "not bytes"},
		{keyType: "foo", keyId: uint64(1), keyPayload: []byte("{broken")},
		{keyType: "foo", keyId: uint64(1), keyError: 42, keyIsReply: true},
		{keyType: "foo", keyId: uint64(1), keyIsReply: "yes"},
	}
	for i, m := range bad {
		data, err := cbor.Marshal(m)
		require.NoError(t, err)
		_, err = CBORCodec{}.Decode(data)
		assert.ErrorIs(t, err, ErrNotEnvelope, "case %d", i)
	}

	_, err := CBORCodec{}.Decode([]byte{0xff, 0x00})
	assert.ErrorIs(t, err, ErrNotEnvelope)

	// An explicit nil error is a success reply.
	data, err := cbor.Marshal(map[int]interface{}{keyType: "foo", keyId: uint64(1), keyError: nil, keyIsReply: true})
	require.NoError(t, err)
	env, err := CBORCodec{}.Decode(data)
	require.NoError(t, err)
	assert.False(t, env.Failed())
	assert.True(t, env.IsReply)
}

// TEST005: CodecByName resolves configured names
func Test005_codec_by_name(t *testing.T) {
	for name, want := range map[string]string{"": "json", "json": "json", "cbor": "cbor"} {
		c, err := CodecByName(name)
		require.NoError(t, err)
		assert.Equal(t, want, c.Name())
	}
	_, err := CodecByName("xml")
	assert.Error(t, err)
}

// TEST006: payloads are copies and nil means null
func Test006_payload_copy_semantics(t *testing.T) {
	src := Payload(`{"a":1}`)
	p, err := NewPayload(src)
	require.NoError(t, err)
	src[2] = 'b'
	assert.Equal(t, `{"a":1}`, p.String())

	raw, err := NewPayload(json.RawMessage(`[true]`))
	require.NoError(t, err)
	assert.Equal(t, `[true]`, raw.String())

	null, err := NewPayload(nil)
	require.NoError(t, err)
	assert.True(t, null.IsNull())
	data, err := json.Marshal(null)
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	var target struct{ A int }
	target.A = 5
	require.NoError(t, null.Decode(&target))
	assert.Equal(t, 5, target.A, "null payload leaves the target untouched")

	_, err = NewPayload(func() {})
	assert.ErrorIs(t, err, ErrEncode)
	assert.Panics(t, func() { MustPayload(make(chan int)) })
}

// TEST007: payload schemas validate request bodies
func Test007_payload_schema(t *testing.T) {
	schema, err := CompilePayloadSchema(`{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`)
	require.NoError(t, err)

	assert.NoError(t, schema.Validate("greet", MustPayload(map[string]string{"name": "x"})))

	err = schema.Validate("greet", MustPayload(map[string]int{"name": 1}))
	var sve *SchemaValidationError
	require.ErrorAs(t, err, &sve)
	assert.Equal(t, "greet", sve.MessageType)

	assert.Error(t, schema.Validate("greet", nil), "null is not an object")

	var none *PayloadSchema
	assert.NoError(t, none.Validate("greet", nil))

	_, err = CompilePayloadSchema(`{not json`)
	assert.Error(t, err)
}

// TEST008: limits negotiate down and clamp to the hard limit
func Test008_limits(t *testing.T) {
	assert.Equal(t, Limits{MaxEnvelope: 10}, NegotiateLimits(Limits{MaxEnvelope: 10}, Limits{MaxEnvelope: 20}))
	assert.Equal(t, DefaultMaxEnvelope, Limits{}.normalize().MaxEnvelope)
	assert.Equal(t, MaxEnvelopeHardLimit, Limits{MaxEnvelope: MaxEnvelopeHardLimit * 2}.normalize().MaxEnvelope)
}
