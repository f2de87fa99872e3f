package bifaci

import (
	"context"
	"io"
)

// Guest is the plugin side of the channel. Its only peer is the host, and
// messages from any other source are ignored.
type Guest struct {
	*Endpoint
	host Window
}

// NewGuest creates a guest listening on self and talking to host. It panics
// if host is nil.
func NewGuest(self Inbox, host Window, opts ...Option) *Guest {
	if host == nil {
		panic("bifaci: NewGuest requires a host window")
	}
	o := buildOptions(opts)
	o.accept = func(w Window) bool {
		return w.ID() == host.ID()
	}
	return &Guest{Endpoint: open(self, o), host: host}
}

// Host returns the host window.
func (g *Guest) Host() Window {
	return g.host
}

// Send posts a request to the host and returns a future for the reply.
func (g *Guest) Send(msgType string, payload interface{}) (*Future[Payload], error) {
	return g.correlator.Send(g.host, msgType, payload)
}

// SendMessage sends a request to the host and waits for the reply.
func (g *Guest) SendMessage(ctx context.Context, msgType string, payload interface{}) (Payload, error) {
	return g.Call(ctx, g.host, msgType, payload)
}

// Broadcast is SendMessage shaped like Host.Broadcast: a guest has exactly
// one peer, so the result holds one reply.
func (g *Guest) Broadcast(ctx context.Context, msgType string, payload interface{}) ([]Payload, error) {
	reply, err := g.SendMessage(ctx, msgType, payload)
	if err != nil {
		return nil, err
	}
	return []Payload{reply}, nil
}

// ServeStream runs a plugin whose host is on the other end of r/w, usually
// stdin and stdout. setup registers handlers before the first message is
// read. It returns when the stream ends (nil on EOF) or ctx is done.
func ServeStream(ctx context.Context, name string, r io.Reader, w io.Writer, setup func(*Guest) error, opts ...Option) error {
	o := buildOptions(opts)

	self := NewLocalWindow(name)
	defer self.Close()

	host := NewStreamWindow(self, "host", r, w,
		WithStreamLimits(o.limits),
		WithStreamLogger(o.logger),
	)
	defer host.Close()

	guest := NewGuest(self, host, opts...)
	defer guest.Close()

	if setup != nil {
		if err := setup(guest); err != nil {
			return err
		}
	}

	host.Start()
	o.logger.Debug().Str("plugin", name).Msg("serving")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-host.Done():
		return host.Err()
	}
}
