package bifaci

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type pendingRequest struct {
	peer    Window
	msgType string
	future  *Future[Payload]
	sentAt  time.Time
}

// Correlator issues request ids and settles the matching futures when
// replies arrive.
//
// A pending entry is recorded before the request is posted, so a reply can
// never overtake its own bookkeeping. A reply settles a future only if it
// carries the request's id and comes from the window the request went to.
type Correlator struct {
	transport *Transport
	logger    zerolog.Logger
	metrics   *Metrics

	mu      sync.Mutex
	nextId  MessageId
	pending map[MessageId]*pendingRequest
	closed  bool
}

// NewCorrelator creates a correlator sending through t.
func NewCorrelator(t *Transport, opts ...Option) *Correlator {
	return newCorrelator(t, buildOptions(opts))
}

func newCorrelator(t *Transport, o options) *Correlator {
	return &Correlator{
		transport: t,
		logger:    o.logger,
		metrics:   o.metrics,
		pending:   make(map[MessageId]*pendingRequest),
	}
}

// Send posts a request to peer and returns a future for its reply. The
// future resolves with the reply payload, or is rejected with a
// *RemoteError if the handler failed. It stays pending if nobody replies.
func (c *Correlator) Send(peer Window, msgType string, payload interface{}) (*Future[Payload], error) {
	body, err := NewPayload(payload)
	if err != nil {
		return nil, err
	}
	future, _, err := c.send(peer, msgType, body)
	return future, err
}

// Call sends a request and waits for its reply. When ctx ends first, the
// pending entry is forgotten and ctx.Err() is returned.
func (c *Correlator) Call(ctx context.Context, peer Window, msgType string, payload interface{}) (Payload, error) {
	body, err := NewPayload(payload)
	if err != nil {
		return nil, err
	}
	future, id, err := c.send(peer, msgType, body)
	if err != nil {
		return nil, err
	}
	return c.await(ctx, future, id)
}

func (c *Correlator) await(ctx context.Context, future *Future[Payload], id MessageId) (Payload, error) {
	value, err := future.Await(ctx)
	if err != nil && ctx.Err() != nil && !future.Settled() {
		c.forget(id)
	}
	return value, err
}

func (c *Correlator) send(peer Window, msgType string, body Payload) (*Future[Payload], MessageId, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, 0, ErrClosed
	}
	c.nextId++
	id := c.nextId
	future := NewFuture[Payload]()
	c.pending[id] = &pendingRequest{
		peer:    peer,
		msgType: msgType,
		future:  future,
		sentAt:  time.Now(),
	}
	c.mu.Unlock()
	c.metrics.pending(1)

	if err := c.transport.Send(peer, NewRequest(msgType, id, body)); err != nil {
		c.forget(id)
		return nil, 0, err
	}
	return future, id, nil
}

// forget drops a pending entry without settling it.
func (c *Correlator) forget(id MessageId) {
	c.mu.Lock()
	_, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ok {
		c.metrics.pending(-1)
	}
}

// Resolve settles the pending request matching reply. It reports false and
// leaves everything untouched when no request matches.
func (c *Correlator) Resolve(reply *Envelope, source Window) bool {
	c.mu.Lock()
	p, ok := c.pending[reply.Id]
	if !ok || source == nil || p.peer.ID() != source.ID() {
		c.mu.Unlock()
		c.metrics.dropped(dropUnmatchedReply)
		c.logger.Debug().Str("type", reply.Type).Stringer("id", reply.Id).Msg("reply matches no pending request")
		return false
	}
	delete(c.pending, reply.Id)
	c.mu.Unlock()

	c.metrics.pending(-1)
	c.metrics.observeRoundTrip(p.msgType, p.sentAt)

	if reply.Error != nil {
		p.future.Reject(&RemoteError{Type: reply.Type, Message: *reply.Error})
		return true
	}
	p.future.Resolve(reply.Payload)
	return true
}

// Abandon rejects every request pending on peer with ErrPeerDetached and
// returns how many there were.
func (c *Correlator) Abandon(peer Window) int {
	c.mu.Lock()
	var abandoned []*pendingRequest
	for id, p := range c.pending {
		if p.peer.ID() == peer.ID() {
			abandoned = append(abandoned, p)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, p := range abandoned {
		c.metrics.pending(-1)
		p.future.Reject(&ChannelError{
			Type:    ChannelErrorTypePeerDetached,
			Message: peer.Name() + " detached with " + p.msgType + " pending",
		})
	}
	return len(abandoned)
}

// Close rejects all pending requests with ErrClosed. Later sends fail.
func (c *Correlator) Close() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[MessageId]*pendingRequest)
	c.mu.Unlock()

	for _, p := range pending {
		c.metrics.pending(-1)
		p.future.Reject(ErrClosed)
	}
}

// Pending returns the number of requests awaiting a reply.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
