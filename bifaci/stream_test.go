package bifaci

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST040: posting to a StreamWindow writes a frame; inbound frames reach the local inbox
func Test040_stream_window_both_directions(t *testing.T) {
	local := NewLocalWindow("local")
	defer local.Close()
	events, _ := collect(local)

	ours, theirs := net.Pipe()
	defer theirs.Close()
	peer := ConnectStream(local, "peer", ours, ours, WithStreamClosers(ours))
	defer peer.Close()

	go func() {
		_ = peer.PostMessage([]byte("outbound"), local)
	}()
	frame, err := NewFrameReader(theirs).ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "outbound", string(frame))

	require.NoError(t, NewFrameWriter(theirs).WriteFrame([]byte("inbound")))
	ev := nextEvent(t, events)
	assert.Equal(t, "inbound", string(ev.Data))
	assert.Equal(t, peer.ID(), ev.Source.ID())
}

// TEST041: EOF closes the stream once and fires close hooks with a nil error
func Test041_stream_eof(t *testing.T) {
	local := NewLocalWindow("local")
	defer local.Close()

	ours, theirs := net.Pipe()
	hookCalls := make(chan error, 2)
	peer := ConnectStream(local, "peer", ours, ours,
		WithStreamClosers(ours),
		WithStreamCloseHook(func(err error) { hookCalls <- err }),
	)

	require.NoError(t, theirs.Close())

	select {
	case <-peer.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end")
	}
	assert.NoError(t, <-hookCalls)
	assert.NoError(t, peer.Err())

	require.NoError(t, peer.Close())
	assert.Len(t, hookCalls, 0, "hooks run once")
	assert.ErrorIs(t, peer.PostMessage([]byte("x"), nil), ErrWindowClosed)

	late := make(chan error, 1)
	peer.OnClose(func(err error) { late <- err })
	assert.NoError(t, <-late, "hooks added after close run immediately")
}

// TEST042: frames posted before Start are written once started
func Test042_stream_start_later(t *testing.T) {
	local := NewLocalWindow("local")
	defer local.Close()

	ours, theirs := net.Pipe()
	defer theirs.Close()
	peer := NewStreamWindow(local, "peer", ours, ours, WithStreamClosers(ours))
	defer peer.Close()

	require.NoError(t, peer.PostMessage([]byte("early"), nil))
	peer.Start()
	peer.Start()

	frame, err := NewFrameReader(theirs).ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "early", string(frame))
}

// TEST043: an oversized inbound frame ends the stream with an error
func Test043_stream_oversized_frame(t *testing.T) {
	local := NewLocalWindow("local")
	defer local.Close()

	ours, theirs := net.Pipe()
	defer theirs.Close()
	peer := ConnectStream(local, "peer", ours, ours,
		WithStreamClosers(ours),
		WithStreamLimits(Limits{MaxEnvelope: 4}),
	)

	go func() {
		_ = NewFrameWriter(theirs).WriteFrame([]byte("too long"))
	}()

	select {
	case <-peer.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end")
	}
	assert.Error(t, peer.Err())
}

// TEST044: closing a StreamWindow closes a reader that can be closed
func Test044_stream_close_releases_reader(t *testing.T) {
	local := NewLocalWindow("local")
	defer local.Close()

	pr, pw := io.Pipe()
	peer := ConnectStream(local, "peer", pr, io.Discard)
	require.NoError(t, peer.Close())

	_, err := pw.Write([]byte{0, 0, 0, 1, 'x'})
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
