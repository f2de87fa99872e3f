package bifaci

import (
	"time"

	"github.com/rs/zerolog"
)

// DefaultNotifyTimeout bounds how long a fire-and-forget broadcast keeps its
// requests pending.
const DefaultNotifyTimeout = 30 * time.Second

// Option configures an Endpoint, Host or Guest.
type Option func(*options)

type options struct {
	logger        zerolog.Logger
	metrics       *Metrics
	codec         Codec
	limits        Limits
	accept        func(Window) bool
	notifyTimeout time.Duration
}

func buildOptions(opts []Option) options {
	o := options{
		logger:        zerolog.Nop(),
		codec:         JSONCodec{},
		limits:        DefaultLimits(),
		notifyTimeout: DefaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.limits = o.limits.normalize()
	return o
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics enables prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithCodec sets the wire codec. Both ends must agree.
func WithCodec(c Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithLimits sets envelope size limits.
func WithLimits(limits Limits) Option {
	return func(o *options) {
		o.limits = limits
	}
}

// WithPeerFilter restricts which source windows are listened to. Messages
// from rejected sources are dropped before decoding reaches the dispatcher.
func WithPeerFilter(accept func(Window) bool) Option {
	return func(o *options) {
		o.accept = accept
	}
}

// WithNotifyTimeout sets how long Notify waits for replies before
// forgetting its requests.
func WithNotifyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.notifyTimeout = d
		}
	}
}
