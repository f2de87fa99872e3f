package bifaci

import (
	"context"
	"fmt"
)

// MessageType names a request type and fixes the Go types of its request
// and reply payloads. Handlers and callers built from the same MessageType
// cannot disagree about the shape of the data.
type MessageType[Req, Res any] struct {
	name   string
	schema *PayloadSchema
}

// NewMessageType declares a message type.
func NewMessageType[Req, Res any](name string) MessageType[Req, Res] {
	return MessageType[Req, Res]{name: name}
}

// Name returns the wire type string.
func (m MessageType[Req, Res]) Name() string {
	return m.name
}

// WithRequestSchema returns a copy of m whose handlers validate incoming
// request payloads against a JSON schema before decoding.
func (m MessageType[Req, Res]) WithRequestSchema(schemaJSON string) (MessageType[Req, Res], error) {
	schema, err := CompilePayloadSchema(schemaJSON)
	if err != nil {
		return m, fmt.Errorf("schema for %s: %w", m.name, err)
	}
	m.schema = schema
	return m, nil
}

// MustWithRequestSchema is WithRequestSchema for schemas known to compile.
func (m MessageType[Req, Res]) MustWithRequestSchema(schemaJSON string) MessageType[Req, Res] {
	typed, err := m.WithRequestSchema(schemaJSON)
	if err != nil {
		panic(err)
	}
	return typed
}

func (m MessageType[Req, Res]) decodeRequest(p Payload) (Req, error) {
	var req Req
	if err := m.schema.Validate(m.name, p); err != nil {
		return req, err
	}
	if err := p.Decode(&req); err != nil {
		return req, fmt.Errorf("decode %s request: %w", m.name, err)
	}
	return req, nil
}

func (m MessageType[Req, Res]) decodeReply(p Payload) (Res, error) {
	var res Res
	if err := p.Decode(&res); err != nil {
		return res, fmt.Errorf("decode %s reply: %w", m.name, err)
	}
	return res, nil
}

// Registrar is anything handlers can be registered on.
type Registrar interface {
	Listen(msgType string, fn HandlerFunc)
}

// Caller is anything that can make a request to a peer.
type Caller interface {
	Call(ctx context.Context, peer Window, msgType string, payload interface{}) (Payload, error)
}

// Handle registers a typed handler for m.
func Handle[Req, Res any](r Registrar, m MessageType[Req, Res], fn func(ctx context.Context, req Req) (Res, error)) {
	r.Listen(m.name, func(ctx context.Context, payload Payload) (interface{}, error) {
		req, err := m.decodeRequest(payload)
		if err != nil {
			return nil, err
		}
		return fn(ctx, req)
	})
}

// HandleAsync registers a typed handler that replies once the returned
// future settles. A nil future replies with null.
func HandleAsync[Req, Res any](r Registrar, m MessageType[Req, Res], fn func(ctx context.Context, req Req) *Future[Res]) {
	r.Listen(m.name, func(ctx context.Context, payload Payload) (interface{}, error) {
		req, err := m.decodeRequest(payload)
		if err != nil {
			return nil, err
		}
		f := fn(ctx, req)
		if f == nil {
			return nil, nil
		}
		return f, nil
	})
}

// Invoke makes a typed request to peer and decodes the reply.
func Invoke[Req, Res any](ctx context.Context, c Caller, peer Window, m MessageType[Req, Res], req Req) (Res, error) {
	payload, err := c.Call(ctx, peer, m.name, req)
	if err != nil {
		var zero Res
		return zero, err
	}
	return m.decodeReply(payload)
}

// InvokeHost makes a typed request from a guest to its host.
func InvokeHost[Req, Res any](ctx context.Context, g *Guest, m MessageType[Req, Res], req Req) (Res, error) {
	return Invoke(ctx, g, g.Host(), m, req)
}

// BroadcastTyped broadcasts a typed request to every plugin of h and
// decodes the replies, in registration order.
func BroadcastTyped[Req, Res any](ctx context.Context, h *Host, m MessageType[Req, Res], req Req) ([]Res, error) {
	payloads, err := h.Broadcast(ctx, m.name, req)
	if err != nil {
		return nil, err
	}
	out := make([]Res, 0, len(payloads))
	for _, p := range payloads {
		res, err := m.decodeReply(p)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// NotifyTyped is Host.Notify for a typed message.
func NotifyTyped[Req, Res any](h *Host, m MessageType[Req, Res], req Req) {
	h.Notify(m.name, req)
}
