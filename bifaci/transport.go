package bifaci

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Transport bridges envelopes and a Window: it encodes outgoing envelopes
// and posts them, and decodes and filters incoming ones.
type Transport struct {
	self    Inbox
	codec   Codec
	limits  Limits
	logger  zerolog.Logger
	metrics *Metrics
}

// NewTransport creates a transport for the context that owns self.
func NewTransport(self Inbox, opts ...Option) *Transport {
	return newTransport(self, buildOptions(opts))
}

func newTransport(self Inbox, o options) *Transport {
	return &Transport{
		self:    self,
		codec:   o.codec,
		limits:  o.limits,
		logger:  o.logger,
		metrics: o.metrics,
	}
}

// Self returns the window this transport listens on.
func (t *Transport) Self() Inbox {
	return t.self
}

// Send encodes env and posts it to target. Only local failures (the
// envelope cannot be encoded or is too large) are returned; a target that is
// closed or gone swallows the message.
func (t *Transport) Send(target Window, env *Envelope) error {
	data, err := t.codec.Encode(env)
	if err != nil {
		return err
	}
	if len(data) > t.limits.MaxEnvelope {
		t.metrics.dropped(dropEnvelopeTooBig)
		return &ChannelError{
			Type:    ChannelErrorTypeEnvelopeTooLarge,
			Message: fmt.Sprintf("%d bytes exceeds max_envelope %d", len(data), t.limits.MaxEnvelope),
		}
	}

	if err := target.PostMessage(data, t.self); err != nil {
		t.metrics.dropped(dropPostFailed)
		t.logger.Debug().
			Err(err).
			Str("target", target.Name()).
			Str("type", env.Type).
			Stringer("id", env.Id).
			Msg("post failed, envelope dropped")
		return nil
	}
	t.metrics.sent(env.Kind())
	return nil
}

// Subscription is a live OnMessage registration.
type Subscription struct {
	once   sync.Once
	active atomic.Bool
	remove func()
}

// Cancel stops further deliveries. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.active.Store(false)
		if s.remove != nil {
			s.remove()
		}
	})
}

// Active reports whether the subscription still delivers.
func (s *Subscription) Active() bool {
	return s.active.Load()
}

// OnMessage calls handler for every inbound envelope whose source passes
// accept (nil accepts all sources). Non-envelopes are dropped silently.
func (t *Transport) OnMessage(handler func(env *Envelope, source Window), accept func(Window) bool) *Subscription {
	sub := &Subscription{}
	sub.active.Store(true)
	sub.remove = t.self.AddListener(func(ev MessageEvent) {
		if !sub.active.Load() {
			return
		}

		env, err := t.codec.Decode(ev.Data)
		if err != nil {
			t.metrics.dropped(dropNotEnvelope)
			t.logger.Debug().Err(err).Int("bytes", len(ev.Data)).Msg("ignoring foreign message")
			return
		}

		if accept != nil && (ev.Source == nil || !accept(ev.Source)) {
			t.metrics.dropped(dropForeignSource)
			t.logger.Debug().Str("type", env.Type).Msg("ignoring envelope from unexpected source")
			return
		}

		t.metrics.received(env.Kind())
		handler(env, ev.Source)
	})
	return sub
}
