package bifaci

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWebSocketHost(t *testing.T) (*Host, string, *httptest.Server) {
	t.Helper()
	hostWin := NewLocalWindow("host")
	host := NewHost(hostWin)
	srv := httptest.NewServer(host.WebSocketHandler(websocket.Upgrader{}))
	t.Cleanup(func() {
		srv.Close()
		host.Close()
		hostWin.Close()
	})
	return host, "ws" + strings.TrimPrefix(srv.URL, "http"), srv
}

// TEST400: a plugin dialing over WebSocket is registered and can be called both ways
func Test400_websocket_plugin_round_trip(t *testing.T) {
	host, wsURL, _ := newWebSocketHost(t)
	host.Listen("version", func(ctx context.Context, payload Payload) (interface{}, error) {
		return "1.0", nil
	})

	conn, err := DialWebSocket(testContext(t), wsURL, "remote", DefaultLimits())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	guests := make(chan *Guest, 1)
	go func() {
		_ = ServeStream(ctx, "remote", conn, conn, func(g *Guest) error {
			g.Listen("echo", func(ctx context.Context, payload Payload) (interface{}, error) {
				return payload, nil
			})
			guests <- g
			return nil
		})
	}()
	guest := <-guests

	require.Eventually(t, func() bool {
		_, ok := host.Plugin("remote")
		return ok
	}, time.Second, 10*time.Millisecond)

	reply, err := host.SendTo(testContext(t), "remote", "echo", map[string]int{"n": 7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":7}`, reply.String())

	version, err := guest.SendMessage(testContext(t), "version", nil)
	require.NoError(t, err)
	assert.Equal(t, `"1.0"`, version.String())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return len(host.Plugins()) == 0
	}, time.Second, 10*time.Millisecond)
}

// TEST401: the upgrade is refused without a plugin name or for a taken name
func Test401_websocket_rejects_bad_names(t *testing.T) {
	host, wsURL, srv := newWebSocketHost(t)
	win := NewLocalWindow("taken")
	defer win.Close()
	require.NoError(t, host.RegisterPlugin("taken", win))

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = DialWebSocket(testContext(t), wsURL, "taken", DefaultLimits())
	require.Error(t, err)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, []string{"taken"}, host.Plugins())
}

// TEST402: frames split across WebSocket messages are reassembled by the reader
func Test402_wsconn_reads_across_messages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws := NewWSConn(conn, 0)
		defer ws.Close()
		_, _ = ws.Write([]byte{0, 0, 0, 5, 'h', 'e'})
		_ = conn.WriteMessage(websocket.TextMessage, []byte("ignored"))
		_, _ = ws.Write([]byte("llo"))
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	ws := NewWSConn(conn, 0)
	defer ws.Close()

	frame, err := NewFrameReader(ws).ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(frame))
}
