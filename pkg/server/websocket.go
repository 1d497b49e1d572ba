package server

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsMaxMessage caps one inbound WebSocket message
const wsMaxMessage = 8192

var crlf = []byte("\r\n")

// wsConn presents a WebSocket as a net.Conn carrying protocol lines. Each
// inbound text message is one line; a terminator is appended when the client
// left it off. Each Write sends one message with the CRLF stripped.
type wsConn struct {
	ws *websocket.Conn

	reader  io.Reader // rest of the current message
	pending []byte    // terminator still owed for the current message

	closeOnce sync.Once
	closeErr  error
}

func newWSConn(ws *websocket.Conn) *wsConn {
	ws.SetReadLimit(wsMaxMessage)
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			if len(c.pending) > 0 {
				n := copy(p, c.pending)
				c.pending = c.pending[n:]
				return n, nil
			}

			kind, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
				continue
			}
			c.reader = r
			c.pending = crlf
		}

		n, err := c.reader.Read(p)
		if n > 0 {
			if p[n-1] == '\n' {
				c.pending = nil
			} else {
				c.pending = crlf
			}
			if err == io.EOF {
				c.reader = nil
			}
			return n, nil
		}
		if err == io.EOF {
			c.reader = nil
			continue
		}
		if err != nil {
			return 0, err
		}
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	line := bytes.TrimRight(p, "\r\n")
	if err := c.ws.WriteMessage(websocket.TextMessage, line); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *wsConn) LocalAddr() net.Addr                { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr               { return c.ws.RemoteAddr() }
func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

// newUpgrader builds an upgrader that accepts the configured origins, or any
// origin when none are configured.
func newUpgrader(allowed []string) *websocket.Upgrader {
	hosts := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		hosts[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}

	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{"text.ircv3.net"},
		CheckOrigin: func(r *http.Request) bool {
			if len(hosts) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			_, ok := hosts[strings.ToLower(u.Scheme+"://"+u.Host)]
			return ok
		},
	}
}
