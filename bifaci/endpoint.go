package bifaci

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Endpoint is one side of a channel: a transport subscription whose replies
// go to a Correlator and whose requests go to a Dispatcher.
type Endpoint struct {
	opts       options
	transport  *Transport
	dispatcher *Dispatcher
	correlator *Correlator
	sub        *Subscription

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Open starts an endpoint listening on self.
func Open(self Inbox, opts ...Option) *Endpoint {
	return open(self, buildOptions(opts))
}

func open(self Inbox, o options) *Endpoint {
	ctx, cancel := context.WithCancel(context.Background())
	t := newTransport(self, o)
	e := &Endpoint{
		opts:       o,
		transport:  t,
		dispatcher: newDispatcher(t, o),
		correlator: newCorrelator(t, o),
		ctx:        ctx,
		cancel:     cancel,
	}
	e.sub = t.OnMessage(e.route, o.accept)
	return e
}

func (e *Endpoint) route(env *Envelope, source Window) {
	if env.IsReply {
		e.correlator.Resolve(env, source)
		return
	}
	e.dispatcher.Dispatch(e.ctx, env, source)
}

// Self returns the window this endpoint listens on.
func (e *Endpoint) Self() Inbox {
	return e.transport.Self()
}

// Logger returns the endpoint's logger.
func (e *Endpoint) Logger() zerolog.Logger {
	return e.opts.logger
}

// Listen registers a handler for msgType.
func (e *Endpoint) Listen(msgType string, fn HandlerFunc) {
	e.dispatcher.Listen(msgType, fn)
}

// Unlisten removes the handler for msgType.
func (e *Endpoint) Unlisten(msgType string) {
	e.dispatcher.Unlisten(msgType)
}

// Send posts a request to peer and returns a future for the reply.
func (e *Endpoint) Send(peer Window, msgType string, payload interface{}) (*Future[Payload], error) {
	return e.correlator.Send(peer, msgType, payload)
}

// Call sends a request to peer and waits for the reply.
func (e *Endpoint) Call(ctx context.Context, peer Window, msgType string, payload interface{}) (Payload, error) {
	return e.correlator.Call(ctx, peer, msgType, payload)
}

// Pending returns the number of requests awaiting a reply.
func (e *Endpoint) Pending() int {
	return e.correlator.Pending()
}

// Done is closed when the endpoint is closed.
func (e *Endpoint) Done() <-chan struct{} {
	return e.ctx.Done()
}

// Close stops listening, cancels handlers still running and rejects pending
// requests with ErrClosed.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.sub.Cancel()
		e.cancel()
		e.correlator.Close()
	})
	return nil
}
