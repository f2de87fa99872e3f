package bifaci

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// HandlerFunc handles one request type. The returned value becomes the reply
// payload; returning a *Future defers the reply until it settles. A returned
// error (or a panic) produces an error reply.
type HandlerFunc func(ctx context.Context, payload Payload) (interface{}, error)

// Request describes the request a handler is serving.
type Request struct {
	Type   string
	Id     MessageId
	Source Window
}

type requestKey struct{}

// RequestFromContext returns the request being handled, if any.
func RequestFromContext(ctx context.Context) (*Request, bool) {
	req, ok := ctx.Value(requestKey{}).(*Request)
	return req, ok
}

// Dispatcher routes inbound requests to the handler registered for their
// type and sends the reply back to the requester.
//
// Handlers run on the receiving window's event loop in delivery order. A
// handler that needs to wait on another round trip through the same
// endpoint must return a Future instead of blocking.
type Dispatcher struct {
	transport *Transport
	logger    zerolog.Logger
	metrics   *Metrics

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewDispatcher creates a dispatcher replying through t.
func NewDispatcher(t *Transport, opts ...Option) *Dispatcher {
	return newDispatcher(t, buildOptions(opts))
}

func newDispatcher(t *Transport, o options) *Dispatcher {
	return &Dispatcher{
		transport: t,
		logger:    o.logger,
		metrics:   o.metrics,
		handlers:  make(map[string]HandlerFunc),
	}
}

// Listen registers fn for msgType, replacing any previous handler. A nil fn
// removes the registration.
func (d *Dispatcher) Listen(msgType string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn == nil {
		delete(d.handlers, msgType)
		return
	}
	d.handlers[msgType] = fn
}

// Unlisten removes the handler for msgType. Requests of that type are then
// dropped without a reply.
func (d *Dispatcher) Unlisten(msgType string) {
	d.Listen(msgType, nil)
}

// HasHandler reports whether msgType has a handler.
func (d *Dispatcher) HasHandler(msgType string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[msgType]
	return ok
}

// Dispatch handles a request envelope received from source. ctx bounds
// deferred replies: once it is done, pending futures no longer reply.
func (d *Dispatcher) Dispatch(ctx context.Context, env *Envelope, source Window) {
	d.mu.RLock()
	fn := d.handlers[env.Type]
	d.mu.RUnlock()

	if fn == nil {
		d.metrics.dropped(dropNoHandler)
		d.logger.Debug().Str("type", env.Type).Stringer("id", env.Id).Msg("no handler, request dropped")
		return
	}

	reqCtx := context.WithValue(ctx, requestKey{}, &Request{Type: env.Type, Id: env.Id, Source: source})
	result, err := d.invoke(reqCtx, fn, env)
	if err != nil {
		d.replyError(env, source, err)
		return
	}

	if def, ok := result.(deferred); ok {
		go func() {
			value, err := def.awaitAny(reqCtx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				d.replyError(env, source, err)
				return
			}
			d.reply(env, source, value)
		}()
		return
	}
	d.reply(env, source, result)
}

func (d *Dispatcher) invoke(ctx context.Context, fn HandlerFunc, env *Envelope) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("type", env.Type).
				Stringer("id", env.Id).
				Interface("panic", r).
				Msg("handler panicked")
			result = nil
			err = fmt.Errorf("%v", r)
		}
	}()
	return fn(ctx, env.Payload)
}

func (d *Dispatcher) reply(req *Envelope, source Window, value interface{}) {
	payload, err := NewPayload(value)
	if err != nil {
		d.replyError(req, source, err)
		return
	}
	if err := d.transport.Send(source, NewReply(req, payload)); err != nil {
		d.replyError(req, source, err)
	}
}

func (d *Dispatcher) replyError(req *Envelope, source Window, cause error) {
	d.metrics.handlerError(req.Type)
	d.logger.Debug().Err(cause).Str("type", req.Type).Stringer("id", req.Id).Msg("replying with error")
	if err := d.transport.Send(source, NewErrorReply(req, cause.Error())); err != nil {
		d.logger.Error().Err(err).Str("type", req.Type).Stringer("id", req.Id).Msg("failed to send error reply")
	}
}
