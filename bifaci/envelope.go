package bifaci

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MessageId correlates a reply with its request. Ids are unique only within
// one sender's lifetime, so correlation always happens on the sending side.
type MessageId uint64

// String returns the decimal form of the id.
func (m MessageId) String() string {
	return fmt.Sprintf("%d", uint64(m))
}

// Payload is a value in its serialized ("structured clone") form. A Payload
// never aliases the sender's value: it is produced by encoding and consumed by
// decoding, so mutations after send are invisible to the receiver.
type Payload []byte

var nullPayload = []byte("null")

// NewPayload serializes v. A nil v yields a null payload. Payload and
// json.RawMessage values are copied as-is.
func NewPayload(v interface{}) (Payload, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case Payload:
		return append(Payload(nil), p...), nil
	case json.RawMessage:
		return append(Payload(nil), p...), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &ChannelError{Type: ChannelErrorTypeEncode, Message: err.Error()}
	}
	return Payload(data), nil
}

// MustPayload is NewPayload for values known to be serializable.
func MustPayload(v interface{}) Payload {
	p, err := NewPayload(v)
	if err != nil {
		panic(err)
	}
	return p
}

// IsNull reports whether the payload carries no value.
func (p Payload) IsNull() bool {
	return len(p) == 0 || bytes.Equal(bytes.TrimSpace(p), nullPayload)
}

// Decode unmarshals the payload into v. A null payload leaves v untouched.
func (p Payload) Decode(v interface{}) error {
	if p.IsNull() {
		return nil
	}
	return json.Unmarshal(p, v)
}

// Value decodes the payload into generic Go values: nil, bool, float64,
// string, []interface{} or map[string]interface{}.
func (p Payload) Value() (interface{}, error) {
	if p.IsNull() {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(p, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// String returns the JSON text of the payload.
func (p Payload) String() string {
	if len(p) == 0 {
		return "null"
	}
	return string(p)
}

// MarshalJSON embeds the payload verbatim.
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return nullPayload, nil
	}
	return p, nil
}

// UnmarshalJSON keeps the raw JSON of the payload.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), nullPayload) {
		*p = nil
		return nil
	}
	*p = append((*p)[0:0], data...)
	return nil
}

// Envelope is the only thing that crosses the channel.
type Envelope struct {
	Type    string    `json:"type"`
	Id      MessageId `json:"id"`
	Payload Payload   `json:"payload"`
	Error   *string   `json:"error"`
	IsReply bool      `json:"isReply"`
}

// NewRequest creates a request envelope.
func NewRequest(msgType string, id MessageId, payload Payload) *Envelope {
	return &Envelope{
		Type:    msgType,
		Id:      id,
		Payload: payload,
	}
}

// NewReply creates a successful reply to req.
func NewReply(req *Envelope, payload Payload) *Envelope {
	return &Envelope{
		Type:    req.Type,
		Id:      req.Id,
		Payload: payload,
		IsReply: true,
	}
}

// NewErrorReply creates a failed reply to req. The payload is always null.
func NewErrorReply(req *Envelope, message string) *Envelope {
	return &Envelope{
		Type:    req.Type,
		Id:      req.Id,
		Error:   &message,
		IsReply: true,
	}
}

// Kind returns "reply" or "request"; used as a metrics label.
func (e *Envelope) Kind() string {
	if e.IsReply {
		return "reply"
	}
	return "request"
}

// ErrorMessage returns the error text of a failed reply, or "".
func (e *Envelope) ErrorMessage() string {
	if e.Error == nil {
		return ""
	}
	return *e.Error
}

// Failed reports whether this is an error reply.
func (e *Envelope) Failed() bool {
	return e.IsReply && e.Error != nil
}
