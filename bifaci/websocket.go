package bifaci

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// PluginNameParam is the query parameter naming a plugin that connects over
// WebSocket.
const PluginNameParam = "plugin"

const wsWriteWait = 10 * time.Second

// WSConn carries the frame stream over a WebSocket connection. Each Write
// goes out as one binary message; Read drains messages back to back, so a
// StreamWindow can sit on top of it unchanged.
type WSConn struct {
	conn *websocket.Conn

	rmu sync.Mutex
	cur io.Reader

	wmu       sync.Mutex
	closeOnce sync.Once
}

// NewWSConn wraps an established connection. readLimit caps a single
// message; zero leaves the connection's default.
func NewWSConn(conn *websocket.Conn, readLimit int64) *WSConn {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	return &WSConn{conn: conn}
}

func (c *WSConn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	for {
		if c.cur == nil {
			kind, r, err := c.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			c.cur = r
		}
		n, err := c.cur.Read(p)
		if errors.Is(err, io.EOF) {
			c.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *WSConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close message and closes the underlying connection.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsWriteWait))
		c.wmu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// DialWebSocket connects a plugin to a host serving WebSocketHandler at url.
// name is sent as the plugin query parameter.
func DialWebSocket(ctx context.Context, rawURL, name string, limits Limits) (*WSConn, error) {
	u, err := withPluginName(rawURL, name)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, err
	}
	return NewWSConn(conn, wsReadLimit(limits)), nil
}

// AttachWebSocket registers name as a plugin behind conn. The plugin is
// unregistered when the connection drops.
func (h *Host) AttachWebSocket(name string, conn *websocket.Conn) (*StreamWindow, error) {
	ws := NewWSConn(conn, wsReadLimit(h.opts.limits))
	return h.attach(name, ws, ws, nil, ws)
}

// WebSocketHandler upgrades requests and attaches each connection as the
// plugin named by its "plugin" query parameter.
func (h *Host) WebSocketHandler(upgrader websocket.Upgrader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get(PluginNameParam)
		if name == "" {
			http.Error(w, "missing plugin name", http.StatusBadRequest)
			return
		}
		if _, exists := h.Plugin(name); exists {
			http.Error(w, ErrDuplicatePlugin.Error(), http.StatusConflict)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.opts.logger.Warn().Err(err).Str("plugin", name).Msg("websocket upgrade failed")
			return
		}
		if _, err := h.AttachWebSocket(name, conn); err != nil {
			h.opts.logger.Warn().Err(err).Str("plugin", name).Msg("websocket plugin rejected")
			return
		}
		h.opts.logger.Info().Str("plugin", name).Str("remote", r.RemoteAddr).Msg("websocket plugin attached")
	})
}

// Each message holds the 4-byte length prefix and one envelope.
func wsReadLimit(limits Limits) int64 {
	return int64(limits.normalize().MaxEnvelope) + 4
}

func withPluginName(rawURL, name string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(PluginNameParam, name)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
